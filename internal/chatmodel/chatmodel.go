// Package chatmodel defines the provider-agnostic contract agent executors
// use to talk to an LLM: Invoke, Stream, BindTools, WithStructuredOutput.
package chatmodel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ddalcu/agent-orcha/pkg/models"
)

// ToolSpec describes one tool surfaced to the model for function calling.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// StreamChunk is one increment of a streaming invocation.
type StreamChunk struct {
	Text     string
	Thinking string
	ToolCall *models.ToolCall
	Usage    *models.UsageMetadata
	Done     bool
	Err      error
}

// Request is the fully-resolved input to a provider adapter: rendered
// system prompt, message history, and whatever BindTools/WithStructuredOutput
// have attached to the Model the caller is using.
type Request struct {
	System         string
	Messages       []models.Message
	Tools          []ToolSpec
	ResponseSchema json.RawMessage
}

// Model is the contract an AgentExecutor and the ReAct loop depend on.
// Implementations must be safe for concurrent use: the same Model value may
// back many simultaneous invocations for different sessions.
//
// BindTools and WithStructuredOutput return a new Model wrapping the
// receiver; they never mutate it.
type Model interface {
	Invoke(ctx context.Context, system string, messages []models.Message) (*models.ChatModelResponse, error)
	Stream(ctx context.Context, system string, messages []models.Message) (<-chan StreamChunk, error)
	BindTools(tools []ToolSpec) Model
	WithStructuredOutput(schema json.RawMessage) Model
	Name() string
}

// Provider is the low-level interface backing a Model: it accepts a fully
// assembled Request and streams chunks. Package providers supplies the
// concrete Anthropic/OpenAI/Google implementations.
type Provider interface {
	Stream(ctx context.Context, req Request) (<-chan StreamChunk, error)
	Name() string
}

// New wraps a Provider in the decorator-friendly Model contract.
func New(p Provider) Model {
	return &boundModel{provider: p}
}

// boundModel is the decorator Model: BindTools/WithStructuredOutput return a
// copy with the relevant field replaced, never mutating the receiver.
type boundModel struct {
	provider Provider
	tools    []ToolSpec
	schema   json.RawMessage
}

func (m *boundModel) Name() string { return m.provider.Name() }

func (m *boundModel) BindTools(tools []ToolSpec) Model {
	return &boundModel{provider: m.provider, tools: tools, schema: m.schema}
}

func (m *boundModel) WithStructuredOutput(schema json.RawMessage) Model {
	return &boundModel{provider: m.provider, tools: m.tools, schema: schema}
}

func (m *boundModel) Stream(ctx context.Context, system string, messages []models.Message) (<-chan StreamChunk, error) {
	return m.provider.Stream(ctx, Request{
		System:         system,
		Messages:       messages,
		Tools:          m.tools,
		ResponseSchema: m.schema,
	})
}

// Invoke collects a full Stream into a single ChatModelResponse. Providers
// only implement Stream; Invoke is the same collection logic for all of them.
func (m *boundModel) Invoke(ctx context.Context, system string, messages []models.Message) (*models.ChatModelResponse, error) {
	chunks, err := m.Stream(ctx, system, messages)
	if err != nil {
		return nil, err
	}

	var text, thinking string
	var toolCalls []models.ToolCall
	var usage *models.UsageMetadata

	for chunk := range chunks {
		if chunk.Err != nil {
			return nil, fmt.Errorf("chatmodel %s: %w", m.provider.Name(), chunk.Err)
		}
		text += chunk.Text
		thinking += chunk.Thinking
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
		if chunk.Usage != nil {
			if usage == nil {
				usage = &models.UsageMetadata{}
			}
			*usage = usage.Add(*chunk.Usage)
		}
	}

	return &models.ChatModelResponse{
		Content:   models.TextContent(text),
		Reasoning: thinking,
		ToolCalls: toolCalls,
		Usage:     usage,
	}, nil
}
