package react

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ddalcu/agent-orcha/internal/chatmodel"
	"github.com/ddalcu/agent-orcha/internal/tools"
	"github.com/ddalcu/agent-orcha/pkg/models"
)

// DefaultMaxIterations is used when a caller passes a non-positive
// maxIterations.
const DefaultMaxIterations = 200

// Loop is the bounded model/tool-calling controller. It holds no per-call
// state; the zero value is ready to use.
type Loop struct{}

// Run drives the non-streaming variant: prepend the system prompt (via the
// model's system parameter), then iterate up to maxIterations times calling
// the model and dispatching any requested tools strictly sequentially.
//
// Returns the appended messages (inputMessages plus every ai/tool message
// produced), the summed usage across every model turn, and an error only on
// cancellation, a UserInterrupt, or a failed model call. Exceeding
// maxIterations is not an error: the
// loop returns the accumulated messages with no trailing final ai message.
func (Loop) Run(ctx context.Context, model chatmodel.Model, toolSet tools.Set, systemPrompt string, inputMessages []models.Message, maxIterations int) ([]models.Message, models.UsageMetadata, error) {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	messages := append([]models.Message{}, inputMessages...)
	var totalUsage models.UsageMetadata

	for i := 0; i < maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return messages, totalUsage, ErrCancelled
		}

		resp, err := model.Invoke(ctx, systemPrompt, messages)
		if err != nil {
			if ctx.Err() != nil {
				return messages, totalUsage, ErrCancelled
			}
			return messages, totalUsage, fmt.Errorf("react: model invoke: %w", err)
		}
		if resp.Usage != nil {
			totalUsage = totalUsage.Add(*resp.Usage)
		}

		messages = append(messages, models.NewAIMessage(models.ContentToText(resp.Content), resp.ToolCalls))

		if len(resp.ToolCalls) == 0 {
			return messages, totalUsage, nil
		}

		for _, tc := range resp.ToolCalls {
			if err := ctx.Err(); err != nil {
				return messages, totalUsage, ErrCancelled
			}
			toolMsg, interrupt := dispatchTool(ctx, toolSet, tc)
			if interrupt != nil {
				return messages, totalUsage, interrupt
			}
			messages = append(messages, toolMsg)
		}
	}

	return messages, totalUsage, nil
}

// Stream drives the streaming variant, emitting model_chunk/model_end/
// tool_start/tool_end events on the returned channel. The channel is closed
// after the final value, which carries a non-nil Err only on cancellation, a
// UserInterrupt, or a model stream error (failing to open the stream or an
// error chunk within it).
func (Loop) Stream(ctx context.Context, model chatmodel.Model, toolSet tools.Set, systemPrompt string, inputMessages []models.Message, maxIterations int) <-chan StreamResult {
	out := make(chan StreamResult)

	go func() {
		defer close(out)

		if maxIterations <= 0 {
			maxIterations = DefaultMaxIterations
		}
		messages := append([]models.Message{}, inputMessages...)

		for i := 0; i < maxIterations; i++ {
			if err := ctx.Err(); err != nil {
				out <- StreamResult{Err: ErrCancelled}
				return
			}

			chunks, err := model.Stream(ctx, systemPrompt, messages)
			if err != nil {
				if ctx.Err() != nil {
					out <- StreamResult{Err: ErrCancelled}
					return
				}
				out <- StreamResult{Err: fmt.Errorf("react: model stream: %w", err)}
				return
			}

			var text, thinking string
			var toolCalls []models.ToolCall
			var turnUsage *models.UsageMetadata

			for chunk := range chunks {
				if err := ctx.Err(); err != nil {
					out <- StreamResult{Err: ErrCancelled}
					return
				}
				if chunk.Err != nil {
					out <- StreamResult{Err: fmt.Errorf("react: stream delta: %w", chunk.Err)}
					return
				}
				if chunk.Text != "" || chunk.Thinking != "" {
					text += chunk.Text
					thinking += chunk.Thinking
					out <- StreamResult{Event: Event{Kind: EventModelChunk, Content: chunk.Text, Reasoning: chunk.Thinking}}
				}
				if chunk.ToolCall != nil {
					toolCalls = append(toolCalls, *chunk.ToolCall)
				}
				if chunk.Usage != nil {
					if turnUsage == nil {
						turnUsage = &models.UsageMetadata{}
					}
					*turnUsage = turnUsage.Add(*chunk.Usage)
				}
			}

			out <- StreamResult{Event: Event{Kind: EventModelEnd, FullContent: text, ToolCalls: toolCalls, Usage: turnUsage}}
			messages = append(messages, models.NewAIMessage(text, toolCalls))

			if len(toolCalls) == 0 {
				return
			}

			for _, tc := range toolCalls {
				if err := ctx.Err(); err != nil {
					out <- StreamResult{Err: ErrCancelled}
					return
				}

				runID := uuid.NewString()
				out <- StreamResult{Event: Event{Kind: EventToolStart, RunID: runID, ToolCallID: tc.ID, Name: tc.Name, Input: tc.Args}}

				toolMsg, interrupt := dispatchTool(ctx, toolSet, tc)
				if interrupt != nil {
					out <- StreamResult{Err: interrupt}
					return
				}

				out <- StreamResult{Event: Event{Kind: EventToolEnd, RunID: runID, ToolCallID: tc.ID, Name: tc.Name, Output: toolMsg.Text()}}
				messages = append(messages, toolMsg)
			}
		}
	}()

	return out
}

// dispatchTool invokes one tool call and returns the tool Message to append.
// A non-nil interrupt return means a UserInterrupt was raised and the caller
// must propagate it without appending any message.
func dispatchTool(ctx context.Context, toolSet tools.Set, tc models.ToolCall) (models.Message, error) {
	tool, ok := toolSet.Get(tc.Name)
	if !ok {
		return models.NewToolMessage(tc.ID, tc.Name, fmt.Sprintf("Tool %q not found", tc.Name)), nil
	}

	if err := tools.ValidateArgs(tool.Schema(), tc.Args); err != nil {
		return models.NewToolMessage(tc.ID, tc.Name, fmt.Sprintf("Error: %s", err.Error())), nil
	}

	var args json.RawMessage = tc.Args
	content, err := tool.Invoke(ctx, args)
	if err != nil {
		if ui, ok := AsUserInterrupt(err); ok {
			return models.Message{}, ui
		}
		return models.NewToolMessage(tc.ID, tc.Name, fmt.Sprintf("Error: %s", err.Error())), nil
	}

	return models.NewToolMessage(tc.ID, tc.Name, models.ContentToText(content)), nil
}
