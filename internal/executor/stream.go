package executor

import (
	"context"

	"github.com/ddalcu/agent-orcha/internal/react"
	"github.com/ddalcu/agent-orcha/pkg/models"
)

// Stream runs one turn along the streaming path, mapping react events (and,
// for the tool-less path, raw model deltas) onto Frame values.
// The channel is closed once the turn completes, errors, or is cancelled.
func (e *Executor) Stream(ctx context.Context, opts InvokeOptions) <-chan Frame {
	out := make(chan Frame)
	go func() {
		defer close(out)
		if len(e.toolSet) == 0 {
			e.streamWithoutTools(ctx, opts, out)
			return
		}
		e.streamWithTools(ctx, opts, out)
	}()
	return out
}

func (e *Executor) streamWithoutTools(ctx context.Context, opts InvokeOptions, out chan<- Frame) {
	text := renderUserMessage(e.def.Prompt.InputVariables, opts.Input)
	human := models.NewHumanMessage(text)
	if len(opts.Attachments) > 0 {
		parts := []models.Part{models.TextPart(text)}
		for _, a := range opts.Attachments {
			parts = append(parts, models.ImagePart(a.Data, a.MediaType))
		}
		human = models.NewHumanMessageParts(parts)
	}

	history := e.history(opts.SessionID)
	e.persistHuman(opts.SessionID, human)
	all := append(append([]models.Message{}, history...), human)

	chunks, err := e.model.Stream(ctx, e.systemPrompt, all)
	if err != nil {
		e.finishStreamError(opts.SessionID, "", err, out)
		return
	}

	var accumulated string
	var usage models.UsageMetadata
	for chunk := range chunks {
		if ctx.Err() != nil {
			e.finishStreamError(opts.SessionID, accumulated, react.ErrCancelled, out)
			return
		}
		if chunk.Err != nil {
			e.finishStreamError(opts.SessionID, accumulated, chunk.Err, out)
			return
		}
		if chunk.Text != "" {
			accumulated += chunk.Text
			out <- Frame{Kind: FrameContent, Content: chunk.Text}
		}
		if chunk.Thinking != "" {
			out <- Frame{Kind: FrameThinking, Thinking: chunk.Thinking}
		}
		if chunk.Usage != nil {
			usage = usage.Add(*chunk.Usage)
		}
	}

	output, _ := e.extractOutput(accumulated)
	e.persistAI(opts.SessionID, e.outputText(output))

	out <- Frame{Kind: FrameUsage, Usage: &usage}
	if e.structured {
		out <- Frame{Kind: FrameResult, Result: output}
	}
}

func (e *Executor) streamWithTools(ctx context.Context, opts InvokeOptions, out chan<- Frame) {
	text := renderUserMessage(e.def.Prompt.InputVariables, opts.Input)
	human := models.NewHumanMessage(text)
	if len(opts.Attachments) > 0 {
		parts := []models.Part{models.TextPart(text)}
		for _, a := range opts.Attachments {
			parts = append(parts, models.ImagePart(a.Data, a.MediaType))
		}
		human = models.NewHumanMessageParts(parts)
	}

	history := e.history(opts.SessionID)
	e.persistHuman(opts.SessionID, human)
	all := append(append([]models.Message{}, history...), human)

	accumulatedMessages := append([]models.Message{}, all...)
	var finalText string
	var usage models.UsageMetadata

	for res := range (react.Loop{}).Stream(ctx, e.model, e.toolSet, e.systemPrompt, all, 0) {
		if res.Err != nil {
			e.finishStreamErrorMessages(opts.SessionID, accumulatedMessages, res.Err, out)
			return
		}
		switch res.Event.Kind {
		case react.EventModelChunk:
			if res.Event.Content != "" {
				out <- Frame{Kind: FrameContent, Content: res.Event.Content}
			}
			if res.Event.Reasoning != "" {
				out <- Frame{Kind: FrameThinking, Thinking: res.Event.Reasoning}
			}
		case react.EventModelEnd:
			finalText = res.Event.FullContent
			accumulatedMessages = append(accumulatedMessages, models.NewAIMessage(res.Event.FullContent, res.Event.ToolCalls))
			if res.Event.Usage != nil {
				usage = usage.Add(*res.Event.Usage)
			}
		case react.EventToolStart:
			out <- Frame{Kind: FrameToolStart, RunID: res.Event.RunID, Name: res.Event.Name, Input: res.Event.Input}
		case react.EventToolEnd:
			out <- Frame{Kind: FrameToolEnd, RunID: res.Event.RunID, Name: res.Event.Name, Output: res.Event.Output}
			accumulatedMessages = append(accumulatedMessages, models.NewToolMessage(res.Event.ToolCallID, res.Event.Name, res.Event.Output))
		}
	}

	output, _ := e.extractOutput(finalText)
	summaries := buildToolHistory(accumulatedMessages)
	block := renderToolHistoryBlock(summaries)
	persisted := e.outputText(output)
	if block != "" {
		persisted = persisted + "\n\n" + block
	}
	e.persistAI(opts.SessionID, persisted)

	out <- Frame{Kind: FrameUsage, Usage: &usage}
	if e.structured {
		out <- Frame{Kind: FrameResult, Result: output}
	}
}

// finishStreamError persists accumulated plain text (no tool summaries: the
// tool-less path never produces any) and emits the terminal error frame.
func (e *Executor) finishStreamError(sessionID, accumulated string, err error, out chan<- Frame) {
	if accumulated == "" {
		e.persistAI(sessionID, "(agent encountered an error)")
	} else {
		e.persistAI(sessionID, accumulated)
	}
	out <- Frame{Kind: FrameError, Error: errorMessage(err)}
}

// finishStreamErrorMessages persists whatever text and tool summaries
// accumulated in the tool-using path before the error, then emits the
// terminal error frame.
func (e *Executor) finishStreamErrorMessages(sessionID string, messages []models.Message, err error, out chan<- Frame) {
	e.persistPartial(sessionID, messages)
	out <- Frame{Kind: FrameError, Error: errorMessage(err)}
}

func errorMessage(err error) string {
	if err == react.ErrCancelled {
		return "Request was aborted"
	}
	return err.Error()
}
