// Package providers implements the concrete chatmodel.Provider adapters:
// Anthropic, OpenAI-compatible, and Google Gemini.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/ddalcu/agent-orcha/internal/chatmodel"
	"github.com/ddalcu/agent-orcha/pkg/models"
)

// AnthropicConfig configures an Anthropic provider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// Anthropic implements chatmodel.Provider against the Claude Messages API.
type Anthropic struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewAnthropic builds an Anthropic provider. APIKey is required.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Anthropic{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}, nil
}

// Name identifies this provider for routing and logging.
func (p *Anthropic) Name() string { return "anthropic" }

// Stream sends req to Claude and streams the response as chatmodel.StreamChunks.
func (p *Anthropic) Stream(ctx context.Context, req chatmodel.Request) (<-chan chatmodel.StreamChunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	out := make(chan chatmodel.StreamChunk)
	go func() {
		defer close(out)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion] = p.client.Messages.NewStreaming(ctx, params)
		var lastErr error
		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					out <- chatmodel.StreamChunk{Err: ctx.Err(), Done: true}
					return
				case <-time.After(p.retryDelay * time.Duration(attempt)):
				}
				stream = p.client.Messages.NewStreaming(ctx, params)
			}

			lastErr = p.processStream(stream, out)
			if lastErr == nil || !p.isRetryable(lastErr) {
				break
			}
		}
		if lastErr != nil && p.isRetryable(lastErr) {
			out <- chatmodel.StreamChunk{Err: fmt.Errorf("anthropic: max retries exceeded: %w", lastErr), Done: true}
		}
	}()
	return out, nil
}

func (p *Anthropic) buildParams(req chatmodel.Request) (anthropic.MessageNewParams, error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.defaultModel),
		Messages:  messages,
		MaxTokens: 4096,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("convert tools: %w", err)
		}
		params.Tools = tools
	}
	return params, nil
}

func (p *Anthropic) convertMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if text := msg.Text(); text != "" {
			content = append(content, anthropic.NewTextBlock(text))
		}
		if msg.Role == models.RoleTool {
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Text(), false))
		}
		for _, call := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(call.Args, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call args for %s: %w", call.Name, err)
			}
			content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Name))
		}

		if len(content) == 0 {
			continue
		}
		if msg.Role == models.RoleAI {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func (p *Anthropic) convertTools(tools []chatmodel.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid schema for %s: missing tool definition", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, param)
	}
	return result, nil
}

// processStream drains one SSE stream into out, returning a non-nil error
// only when the stream itself failed (not on a clean message_stop).
func (p *Anthropic) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- chatmodel.StreamChunk) error {
	var currentToolCall *models.ToolCall
	var currentInput strings.Builder
	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			inputTokens = int(ms.Message.Usage.InputTokens)

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentToolCall = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				out <- chatmodel.StreamChunk{Text: delta.Text}
			case "thinking_delta":
				out <- chatmodel.StreamChunk{Thinking: delta.Thinking}
			case "input_json_delta":
				currentInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if currentToolCall != nil {
				currentToolCall.Args = json.RawMessage(currentInput.String())
				if currentToolCall.Args == nil || len(currentToolCall.Args) == 0 {
					currentToolCall.Args = json.RawMessage("{}")
				}
				out <- chatmodel.StreamChunk{ToolCall: currentToolCall}
				currentToolCall = nil
			}

		case "message_delta":
			md := event.AsMessageDelta()
			outputTokens = int(md.Usage.OutputTokens)

		case "message_stop":
			out <- chatmodel.StreamChunk{
				Usage: &models.UsageMetadata{InputTokens: inputTokens, OutputTokens: outputTokens, TotalTokens: inputTokens + outputTokens},
				Done:  true,
			}
		}
	}
	return stream.Err()
}

func (p *Anthropic) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "rate_limit") || strings.Contains(s, "rate limit") ||
		strings.Contains(s, "429") || strings.Contains(s, "500") || strings.Contains(s, "502") ||
		strings.Contains(s, "503") || strings.Contains(s, "timeout") || strings.Contains(s, "deadline exceeded")
}
