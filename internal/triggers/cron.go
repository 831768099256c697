package triggers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ddalcu/agent-orcha/internal/executor"
	"github.com/ddalcu/agent-orcha/pkg/models"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// cronEntry is one registered scheduled trigger.
type cronEntry struct {
	agentName   string
	schedule    cron.Schedule
	runner      AgentRunner
	integration Integration // nil if the agent has none bound
	input       map[string]any
	cancel      context.CancelFunc
}

// CronDispatcher owns one goroutine per registered trigger, each sleeping
// until its schedule's next fire time. This next-fire sleep, rather than a
// fixed interval ticker, means multi-field cron expressions are honored
// exactly, not approximated.
type CronDispatcher struct {
	logger *slog.Logger

	mu      sync.Mutex
	entries []*cronEntry
	wg      sync.WaitGroup
}

// NewCronDispatcher builds an empty dispatcher. Register fires up its own
// goroutine immediately; Stop cancels every registered trigger and waits
// for their goroutines to exit.
func NewCronDispatcher(logger *slog.Logger) *CronDispatcher {
	return &CronDispatcher{logger: namedLogger(logger, "triggers.cron")}
}

// Register parses expr and starts a goroutine firing runner on every match.
// agentName and a stable suffix form the session id ("trigger-<agent>-cron"),
// held constant across every fire of this trigger so the agent sees
// continuous conversation history run to run. integration
// may be nil; when set, recent channel context and the member list are
// merged into the declared input before each fire and the result text is
// posted back afterward.
func (d *CronDispatcher) Register(ctx context.Context, agentName, expr string, input map[string]any, runner AgentRunner, integration Integration) error {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("triggers: parse cron expression %q for %q: %w", expr, agentName, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	entry := &cronEntry{
		agentName:   agentName,
		schedule:    schedule,
		runner:      runner,
		integration: integration,
		input:       input,
		cancel:      cancel,
	}

	d.mu.Lock()
	d.entries = append(d.entries, entry)
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run(runCtx, entry)
	return nil
}

func (d *CronDispatcher) run(ctx context.Context, entry *cronEntry) {
	defer d.wg.Done()
	sessionID := fmt.Sprintf("trigger-%s-cron", entry.agentName)
	now := time.Now()
	for {
		next := entry.schedule.Next(now)
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case fireTime := <-timer.C:
			d.fire(ctx, entry, sessionID)
			now = fireTime
		}
	}
}

func (d *CronDispatcher) fire(ctx context.Context, entry *cronEntry, sessionID string) {
	input := entry.input
	if entry.integration != nil {
		extra := map[string]any{
			"recent_messages": entry.integration.RecentMessages(),
			"channel_members": entry.integration.ChannelMembers(),
		}
		input = mergeInput(entry.input, extra)
	}

	result, err := entry.runner.Invoke(ctx, executor.InvokeOptions{
		Input:     input,
		SessionID: sessionID,
	})
	if err != nil {
		d.logger.Error("cron trigger invoke failed", "agent", entry.agentName, "error", err)
		return
	}

	if entry.integration == nil {
		return
	}
	text := outputText(result)
	if text == "" {
		return
	}
	if err := entry.integration.Post(ctx, text); err != nil {
		d.logger.Error("cron trigger post failed", "agent", entry.agentName, "error", err)
	}
}

func outputText(result *models.AgentResult) string {
	if result == nil {
		return ""
	}
	if s, ok := result.Output.(string); ok {
		return s
	}
	return ""
}

// Stop cancels every registered trigger's goroutine and waits for them to
// exit.
func (d *CronDispatcher) Stop() {
	d.mu.Lock()
	entries := d.entries
	d.mu.Unlock()
	for _, e := range entries {
		e.cancel()
	}
	d.wg.Wait()
}
