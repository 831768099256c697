package executor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ddalcu/agent-orcha/internal/chatmodel"
	"github.com/ddalcu/agent-orcha/internal/sessions"
	"github.com/ddalcu/agent-orcha/internal/tools"
	"github.com/ddalcu/agent-orcha/pkg/models"
)

type scriptedModel struct {
	responses []*models.ChatModelResponse
	calls     int
}

func (m *scriptedModel) Invoke(ctx context.Context, system string, messages []models.Message) (*models.ChatModelResponse, error) {
	if m.calls >= len(m.responses) {
		return nil, errors.New("scriptedModel: exhausted")
	}
	r := m.responses[m.calls]
	m.calls++
	return r, nil
}

func (m *scriptedModel) Stream(ctx context.Context, system string, messages []models.Message) (<-chan chatmodel.StreamChunk, error) {
	resp, err := m.Invoke(ctx, system, messages)
	if err != nil {
		return nil, err
	}
	ch := make(chan chatmodel.StreamChunk, len(resp.ToolCalls)+1)
	if text := models.ContentToText(resp.Content); text != "" {
		ch <- chatmodel.StreamChunk{Text: text}
	}
	for _, tc := range resp.ToolCalls {
		tcCopy := tc
		ch <- chatmodel.StreamChunk{ToolCall: &tcCopy}
	}
	close(ch)
	return ch, nil
}

func (m *scriptedModel) BindTools(t []chatmodel.ToolSpec) chatmodel.Model        { return m }
func (m *scriptedModel) WithStructuredOutput(s json.RawMessage) chatmodel.Model { return m }
func (m *scriptedModel) Name() string                                          { return "scripted" }

type echoTool struct{}

func (echoTool) Name() string            { return "echo" }
func (echoTool) Description() string     { return "echoes text" }
func (echoTool) Schema() json.RawMessage { return nil }
func (echoTool) Invoke(ctx context.Context, args json.RawMessage) (models.Content, error) {
	var parsed struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(args, &parsed)
	return models.TextContent(parsed.Text), nil
}

// newTestExecutor builds an Executor directly (bypassing New's model-factory
// lookup) so tests can inject a scripted model.
func newTestExecutor(def models.AgentDefinition, model chatmodel.Model, toolSet tools.Set, store *sessions.Store) *Executor {
	if toolSet == nil {
		toolSet = tools.Set{}
	}
	return &Executor{
		def:          def,
		deps:         Deps{Session: store},
		systemPrompt: def.Prompt.System,
		model:        model,
		toolSet:      toolSet,
	}
}

func TestInvokeToolLessSingleTurn(t *testing.T) {
	def := models.AgentDefinition{
		Name:   "a1",
		Prompt: models.PromptConfig{System: "be helpful", InputVariables: []string{"q"}},
	}
	model := &scriptedModel{responses: []*models.ChatModelResponse{{Content: models.TextContent("hello")}}}
	ex := newTestExecutor(def, model, nil, nil)

	result, err := ex.Invoke(context.Background(), InvokeOptions{Input: map[string]any{"q": "hi"}})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result.Output != "hello" {
		t.Fatalf("expected output %q, got %v", "hello", result.Output)
	}
	if result.Metadata.DurationMS < 0 {
		t.Fatalf("expected non-negative duration")
	}
}

func TestInvokeTwoTurnToolUsePersistsHistoryBlock(t *testing.T) {
	def := models.AgentDefinition{
		Name:   "a1",
		Prompt: models.PromptConfig{System: "be helpful", InputVariables: []string{"q"}},
	}
	args, _ := json.Marshal(map[string]string{"text": "x"})
	model := &scriptedModel{responses: []*models.ChatModelResponse{
		{ToolCalls: []models.ToolCall{{ID: "1", Name: "echo", Args: args}}},
		{Content: models.TextContent("got x")},
	}}
	store := sessions.New()
	defer store.Destroy()

	ex := newTestExecutor(def, model, tools.Set{"echo": echoTool{}}, store)
	result, err := ex.Invoke(context.Background(), InvokeOptions{Input: map[string]any{"q": "go"}, SessionID: "s1"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result.Output != "got x" {
		t.Fatalf("expected output %q, got %v", "got x", result.Output)
	}

	history := store.Get("s1")
	if len(history) != 2 {
		t.Fatalf("expected 2 persisted messages (human, ai), got %d", len(history))
	}
	want := "got x\n\n<tool_history>\n[Tool: echo] Input: {\"text\":\"x\"} → Output: x\n</tool_history>"
	if history[1].Text() != want {
		t.Fatalf("persisted ai message mismatch:\n got: %q\nwant: %q", history[1].Text(), want)
	}
}

func TestInvokeSessionContinuity(t *testing.T) {
	def := models.AgentDefinition{
		Name:   "a1",
		Prompt: models.PromptConfig{System: "sys", InputVariables: []string{"q"}},
	}
	store := sessions.New()
	defer store.Destroy()

	model1 := &scriptedModel{responses: []*models.ChatModelResponse{{Content: models.TextContent("hello")}}}
	ex1 := newTestExecutor(def, model1, nil, store)
	if _, err := ex1.Invoke(context.Background(), InvokeOptions{Input: map[string]any{"q": "hi"}, SessionID: "s1"}); err != nil {
		t.Fatalf("first invoke: %v", err)
	}
	if store.Count("s1") != 2 {
		t.Fatalf("expected 2 messages after first call, got %d", store.Count("s1"))
	}

	model2 := &scriptedModel{responses: []*models.ChatModelResponse{{Content: models.TextContent("hello again")}}}
	ex2 := newTestExecutor(def, model2, nil, store)
	if _, err := ex2.Invoke(context.Background(), InvokeOptions{Input: map[string]any{"q": "again"}, SessionID: "s1"}); err != nil {
		t.Fatalf("second invoke: %v", err)
	}
	if store.Count("s1") != 4 {
		t.Fatalf("expected 4 messages after second call, got %d", store.Count("s1"))
	}
}

func TestInvokeStructuredOutputShapeValidation(t *testing.T) {
	def := models.AgentDefinition{
		Name:   "a1",
		Prompt: models.PromptConfig{System: "sys"},
		Output: &models.OutputConfig{
			Format: models.OutputStructured,
			Schema: json.RawMessage(`{"required":["name"],"properties":{"name":{"type":"string"},"age":{"type":"number"}}}`),
		},
	}
	model := &scriptedModel{responses: []*models.ChatModelResponse{
		{Content: models.TextContent(`{"name":"Alice","age":"30"}`)},
	}}
	ex := newTestExecutor(def, model, nil, nil)
	ex.structured = true
	ex.structuredSchema = def.Output.Schema

	result, err := ex.Invoke(context.Background(), InvokeOptions{Input: map[string]any{}})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	obj, ok := result.Output.(map[string]any)
	if !ok {
		t.Fatalf("expected object output, got %T", result.Output)
	}
	if obj["name"] != "Alice" {
		t.Fatalf("unexpected name: %v", obj["name"])
	}
	if result.Metadata.StructuredOutputValid == nil || *result.Metadata.StructuredOutputValid {
		t.Fatalf("expected structuredOutputValid=false (age is a string, not a number)")
	}
}

func TestRenderUserMessageBoundaries(t *testing.T) {
	if got := renderUserMessage(nil, nil); got != "{}" {
		t.Fatalf("empty input + zero vars: got %q, want {}", got)
	}
	if got := renderUserMessage([]string{"q"}, map[string]any{}); got != "" {
		t.Fatalf("one var absent: got %q, want empty string", got)
	}
	if got := renderUserMessage([]string{"q"}, map[string]any{"q": "hi"}); got != "hi" {
		t.Fatalf("one var present: got %q, want hi", got)
	}
	got := renderUserMessage([]string{"a", "b"}, map[string]any{"a": "1"})
	if got != "a: 1\nb: " {
		t.Fatalf("multi-var rendering: got %q", got)
	}
}
