package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseMinimalDefinition(t *testing.T) {
	data := []byte(`
name: support-bot
llm:
  name: default
prompt:
  system: "You are a helpful support agent."
`)
	def, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Name != "support-bot" {
		t.Errorf("expected name support-bot, got %q", def.Name)
	}
	if def.Version != "1.0.0" {
		t.Errorf("expected default version 1.0.0, got %q", def.Version)
	}
}

func TestParseMissingNameErrors(t *testing.T) {
	data := []byte(`
llm:
  name: default
prompt:
  system: "hi"
`)
	if _, err := Parse(data); err == nil {
		t.Fatal("expected error for missing name")
	}
}

func TestParseMissingSystemPromptErrors(t *testing.T) {
	data := []byte(`
name: support-bot
llm:
  name: default
`)
	if _, err := Parse(data); err == nil {
		t.Fatal("expected error for missing prompt.system")
	}
}

func TestParseCronTriggerWithoutExpressionErrors(t *testing.T) {
	data := []byte(`
name: digest
llm:
  name: default
prompt:
  system: "hi"
triggers:
  - type: cron
`)
	if _, err := Parse(data); err == nil {
		t.Fatal("expected error for cron trigger missing expression")
	}
}

func TestParseDuplicateWebhookPathErrors(t *testing.T) {
	data := []byte(`
name: digest
llm:
  name: default
prompt:
  system: "hi"
triggers:
  - type: webhook
    path: /api/triggers/webhooks/shared
  - type: webhook
    path: /api/triggers/webhooks/shared
`)
	if _, err := Parse(data); err == nil {
		t.Fatal("expected error for duplicate webhook path")
	}
}

func TestParseUnknownTriggerTypeErrors(t *testing.T) {
	data := []byte(`
name: digest
llm:
  name: default
prompt:
  system: "hi"
triggers:
  - type: carrier-pigeon
`)
	if _, err := Parse(data); err == nil {
		t.Fatal("expected error for unknown trigger type")
	}
}

func TestLoadFileReadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	contents := "name: digest\nllm:\n  name: default\nprompt:\n  system: hi\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	def, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Name != "digest" {
		t.Errorf("expected name digest, got %q", def.Name)
	}
}

func TestLoadFileMissingFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadProviders(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "providers.yaml")
	contents := "default:\n  backend: anthropic\n  model: claude-3-haiku\n  api_key: test-key\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	providers, err := LoadProviders(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg, ok := providers["default"]
	if !ok {
		t.Fatal("expected \"default\" provider entry")
	}
	if cfg.Backend != "anthropic" || cfg.APIKey != "test-key" {
		t.Errorf("unexpected provider config: %+v", cfg)
	}
}

func TestLoadAgentsDirSkipsNonYAMLAndSubdirs(t *testing.T) {
	dir := t.TempDir()
	writeFixture := func(name, contents string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644); err != nil {
			t.Fatalf("write fixture %s: %v", name, err)
		}
	}
	writeFixture("a.yaml", "name: a\nllm:\n  name: default\nprompt:\n  system: hi\n")
	writeFixture("b.yml", "name: b\nllm:\n  name: default\nprompt:\n  system: hi\n")
	writeFixture("notes.txt", "not an agent definition")
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	defs, err := LoadAgentsDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("expected 2 agent definitions, got %d", len(defs))
	}
}
