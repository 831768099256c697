// Package triggers implements two trigger dispatchers: a cron dispatcher
// that fires an agent on a schedule, and a webhook dispatcher that fires an
// agent on an inbound POST. Each trigger type is deliberately minimal: no
// job history, no retry policy.
package triggers

import (
	"context"
	"log/slog"

	"github.com/ddalcu/agent-orcha/internal/executor"
	"github.com/ddalcu/agent-orcha/internal/integrations"
	"github.com/ddalcu/agent-orcha/pkg/models"
)

// AgentRunner is the subset of Executor a dispatcher needs. Matching
// Executor.Invoke's own signature lets the orchestrator pass Executors in
// directly.
type AgentRunner interface {
	Invoke(ctx context.Context, opts executor.InvokeOptions) (*models.AgentResult, error)
}

// Integration is the subset of a connector a cron fire can post results
// back to and pull channel context from. Both concrete connectors
// (internal/integrations/slack, .../email) satisfy this.
type Integration interface {
	integrations.ContextProvider
	Post(ctx context.Context, text string) error
}

func mergeInput(declared map[string]any, extra map[string]any) map[string]any {
	merged := make(map[string]any, len(declared)+len(extra))
	for k, v := range declared {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func namedLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", component)
}
