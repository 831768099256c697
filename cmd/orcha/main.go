// Package main provides the CLI entry point for the agent-orcha runtime:
// a declarative agent orchestrator binding chat models, tools, long-term
// and knowledge memory, integration connectors, and scheduled/webhook
// triggers to a directory of agent definition files.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ddalcu/agent-orcha/internal/config"
	"github.com/ddalcu/agent-orcha/internal/executor"
	"github.com/ddalcu/agent-orcha/internal/orchestrator"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "orcha",
		Short:   "orcha - declarative agent orchestration runtime",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Long: `orcha loads agent definitions from a directory and runs them: direct
invocation, bound integration connectors (Slack channel, IMAP/SMTP
mailbox), and scheduled/webhook triggers.`,
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd(), buildInvokeCmd())
	return rootCmd
}

func buildOrchestrator(ctx context.Context, agentsDir, providersPath, workspaceDir string) (*orchestrator.Orchestrator, error) {
	providers, err := config.LoadProviders(providersPath)
	if err != nil {
		return nil, err
	}
	defs, err := config.LoadAgentsDir(agentsDir)
	if err != nil {
		return nil, err
	}

	o, err := orchestrator.New(ctx, orchestrator.Config{
		WorkspaceDir: workspaceDir,
		Providers:    providers,
		Logger:       slog.Default(),
	})
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		if err := o.LoadAgent(ctx, def); err != nil {
			return nil, fmt.Errorf("load agent %q: %w", def.Name, err)
		}
	}
	return o, nil
}

func buildServeCmd() *cobra.Command {
	var agentsDir, providersPath, workspaceDir, addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load every agent in a directory and serve webhook triggers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			o, err := buildOrchestrator(ctx, agentsDir, providersPath, workspaceDir)
			if err != nil {
				return err
			}

			server := &http.Server{Addr: addr, Handler: o.Mux()}
			serveErrs := make(chan error, 1)
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					serveErrs <- err
				}
			}()
			fmt.Fprintf(cmd.OutOrStdout(), "orcha serving webhook triggers on %s\n", addr)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			select {
			case <-sigCh:
			case err := <-serveErrs:
				return err
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			_ = server.Shutdown(shutdownCtx)
			return o.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&agentsDir, "agents-dir", "agents", "Directory of agent definition YAML files")
	cmd.Flags().StringVar(&providersPath, "providers", "providers.yaml", "Path to the named model-provider config file")
	cmd.Flags().StringVar(&workspaceDir, "workspace", ".", "Workspace directory for per-agent long-term memory")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address for webhook triggers")
	return cmd
}

func buildInvokeCmd() *cobra.Command {
	var agentsDir, providersPath, workspaceDir, sessionID, inputJSON string
	cmd := &cobra.Command{
		Use:   "invoke [agent-name]",
		Short: "Run one agent once and print its result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agentName := args[0]

			var input map[string]any
			if inputJSON != "" {
				if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
					return fmt.Errorf("invoke: parse --input as JSON: %w", err)
				}
			}

			ctx := cmd.Context()
			o, err := buildOrchestrator(ctx, agentsDir, providersPath, workspaceDir)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = o.Shutdown(shutdownCtx)
			}()

			result, err := o.Invoke(ctx, agentName, executor.InvokeOptions{Input: input, SessionID: sessionID})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVar(&agentsDir, "agents-dir", "agents", "Directory of agent definition YAML files")
	cmd.Flags().StringVar(&providersPath, "providers", "providers.yaml", "Path to the named model-provider config file")
	cmd.Flags().StringVar(&workspaceDir, "workspace", ".", "Workspace directory for per-agent long-term memory")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id to continue; empty starts a fresh session")
	cmd.Flags().StringVar(&inputJSON, "input", "", "Input variables as a JSON object")
	return cmd
}
