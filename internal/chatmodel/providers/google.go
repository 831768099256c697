package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/ddalcu/agent-orcha/internal/chatmodel"
	"github.com/ddalcu/agent-orcha/pkg/models"
)

// GoogleConfig configures a Gemini provider.
type GoogleConfig struct {
	APIKey       string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// Google implements chatmodel.Provider against the Gemini generateContent API.
type Google struct {
	client       *genai.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewGoogle builds a Gemini provider. APIKey is required.
func NewGoogle(ctx context.Context, cfg GoogleConfig) (*Google, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	return &Google{
		client:       client,
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}, nil
}

// Name identifies this provider for routing and logging.
func (p *Google) Name() string { return "google" }

// Stream sends req to Gemini and streams the response as chatmodel.StreamChunks.
func (p *Google) Stream(ctx context.Context, req chatmodel.Request) (<-chan chatmodel.StreamChunk, error) {
	contents := p.convertMessages(req.Messages)
	config := p.buildConfig(req)

	out := make(chan chatmodel.StreamChunk)
	go func() {
		defer close(out)

		var lastErr error
		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					out <- chatmodel.StreamChunk{Err: ctx.Err(), Done: true}
					return
				case <-time.After(p.retryDelay * time.Duration(attempt)):
				}
			}

			iterator := p.client.Models.GenerateContentStream(ctx, p.defaultModel, contents, config)
			lastErr = p.drain(ctx, iterator, out)
			if lastErr == nil || !p.isRetryable(lastErr) {
				break
			}
		}
		if lastErr != nil {
			if p.isRetryable(lastErr) {
				out <- chatmodel.StreamChunk{Err: fmt.Errorf("google: max retries exceeded: %w", lastErr), Done: true}
			} else {
				out <- chatmodel.StreamChunk{Err: fmt.Errorf("google: %w", lastErr), Done: true}
			}
			return
		}
		out <- chatmodel.StreamChunk{Done: true}
	}()
	return out, nil
}

func (p *Google) drain(ctx context.Context, iterator func(func(*genai.GenerateContentResponse, error) bool), out chan<- chatmodel.StreamChunk) error {
	var streamErr error
	for resp, err := range iterator {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			streamErr = err
			break
		}
		if resp == nil {
			continue
		}
		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					out <- chatmodel.StreamChunk{Text: part.Text}
				}
				if part.FunctionCall != nil {
					argsJSON, jsonErr := json.Marshal(part.FunctionCall.Args)
					if jsonErr != nil {
						argsJSON = []byte("{}")
					}
					out <- chatmodel.StreamChunk{ToolCall: &models.ToolCall{
						ID:   "call_" + part.FunctionCall.Name,
						Name: part.FunctionCall.Name,
						Args: argsJSON,
					}}
				}
			}
		}
		if resp.UsageMetadata != nil {
			out <- chatmodel.StreamChunk{Usage: &models.UsageMetadata{
				InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
				OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
			}}
		}
	}
	return streamErr
}

func (p *Google) convertMessages(messages []models.Message) []*genai.Content {
	var result []*genai.Content
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}
		content := &genai.Content{}
		switch msg.Role {
		case models.RoleAI:
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		if text := msg.Text(); text != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: text})
		}
		for _, call := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal(call.Args, &args); err != nil {
				args = map[string]any{}
			}
			content.Parts = append(content.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{Name: call.Name, Args: args}})
		}
		if msg.Role == models.RoleTool {
			var response map[string]any
			if err := json.Unmarshal([]byte(msg.Text()), &response); err != nil {
				response = map[string]any{"result": msg.Text()}
			}
			content.Parts = append(content.Parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{Name: msg.Name, Response: response}})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result
}

func (p *Google) buildConfig(req chatmodel.Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if len(req.Tools) > 0 {
		config.Tools = p.convertTools(req.Tools)
	}
	return config
}

func (p *Google) convertTools(tools []chatmodel.ToolSpec) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		var schema genai.Schema
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			continue
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  &schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func (p *Google) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "rate limit") || strings.Contains(s, "429") ||
		strings.Contains(s, "500") || strings.Contains(s, "503") ||
		strings.Contains(s, "timeout") || strings.Contains(s, "deadline exceeded")
}
