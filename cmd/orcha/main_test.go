package main

import "testing"

func TestBuildRootCmdWiresSubcommands(t *testing.T) {
	root := buildRootCmd()
	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "invoke"} {
		if !names[want] {
			t.Errorf("expected %q subcommand to be registered", want)
		}
	}
}

func TestInvokeCmdRequiresAgentNameArg(t *testing.T) {
	root := buildRootCmd()
	root.SetArgs([]string{"invoke"})
	root.SetOut(new(discardWriter))
	root.SetErr(new(discardWriter))
	if err := root.Execute(); err == nil {
		t.Fatal("expected error when invoke is called without an agent name")
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
