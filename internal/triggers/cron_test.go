package triggers

import (
	"context"
	"testing"

	"github.com/ddalcu/agent-orcha/internal/executor"
	"github.com/ddalcu/agent-orcha/pkg/models"
)

type fakeRunner struct {
	calls []executor.InvokeOptions
	out   *models.AgentResult
	err   error
}

func (f *fakeRunner) Invoke(ctx context.Context, opts executor.InvokeOptions) (*models.AgentResult, error) {
	f.calls = append(f.calls, opts)
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

type fakeIntegration struct {
	messages string
	members  []string
	posted   []string
}

func (f *fakeIntegration) RecentMessages() string   { return f.messages }
func (f *fakeIntegration) ChannelMembers() []string { return f.members }
func (f *fakeIntegration) Post(ctx context.Context, text string) error {
	f.posted = append(f.posted, text)
	return nil
}

func TestCronDispatcherRegisterInvalidExpression(t *testing.T) {
	d := NewCronDispatcher(nil)
	err := d.Register(context.Background(), "digest", "not a cron expr", nil, &fakeRunner{}, nil)
	if err == nil {
		t.Fatal("expected parse error for malformed cron expression")
	}
}

func TestCronDispatcherFireStableSessionID(t *testing.T) {
	runner := &fakeRunner{out: &models.AgentResult{Output: "done"}}
	integration := &fakeIntegration{messages: "hi", members: []string{"alice"}}

	entry := &cronEntry{
		agentName:   "digest",
		runner:      runner,
		integration: integration,
		input:       map[string]any{"topic": "news"},
	}
	d := NewCronDispatcher(nil)

	d.fire(context.Background(), entry, "trigger-digest-cron")
	d.fire(context.Background(), entry, "trigger-digest-cron")

	if len(runner.calls) != 2 {
		t.Fatalf("expected 2 invocations, got %d", len(runner.calls))
	}
	for _, call := range runner.calls {
		if call.SessionID != "trigger-digest-cron" {
			t.Errorf("expected stable session id, got %q", call.SessionID)
		}
		if call.Input["topic"] != "news" {
			t.Errorf("expected declared input preserved, got %v", call.Input)
		}
		if call.Input["recent_messages"] != "hi" {
			t.Errorf("expected channel context merged in, got %v", call.Input)
		}
	}
	if len(integration.posted) != 2 || integration.posted[0] != "done" {
		t.Fatalf("expected result posted back to integration, got %v", integration.posted)
	}
}

func TestCronDispatcherFireWithoutIntegration(t *testing.T) {
	runner := &fakeRunner{out: &models.AgentResult{Output: "done"}}
	entry := &cronEntry{agentName: "digest", runner: runner, input: map[string]any{}}
	d := NewCronDispatcher(nil)

	d.fire(context.Background(), entry, "trigger-digest-cron")

	if len(runner.calls) != 1 {
		t.Fatalf("expected 1 invocation, got %d", len(runner.calls))
	}
	if _, ok := runner.calls[0].Input["recent_messages"]; ok {
		t.Error("expected no channel context merged without a bound integration")
	}
}

func TestCronDispatcherFireInvokeError(t *testing.T) {
	runner := &fakeRunner{err: context.DeadlineExceeded}
	integration := &fakeIntegration{}
	entry := &cronEntry{agentName: "digest", runner: runner, integration: integration, input: map[string]any{}}
	d := NewCronDispatcher(nil)

	d.fire(context.Background(), entry, "trigger-digest-cron")

	if len(integration.posted) != 0 {
		t.Errorf("expected no post on invoke error, got %v", integration.posted)
	}
}
