package react

import (
	"encoding/json"

	"github.com/ddalcu/agent-orcha/pkg/models"
)

// EventKind discriminates the streaming events the ReAct loop emits.
type EventKind string

const (
	EventModelChunk EventKind = "model_chunk"
	EventModelEnd   EventKind = "model_end"
	EventToolStart  EventKind = "tool_start"
	EventToolEnd    EventKind = "tool_end"
)

// Event is one streaming increment of a Stream call. Only the fields
// relevant to Kind are populated.
type Event struct {
	Kind EventKind

	// model_chunk
	Content   string
	Reasoning string

	// model_end
	FullContent string
	ToolCalls   []models.ToolCall
	Usage       *models.UsageMetadata

	// tool_start / tool_end
	RunID      string
	ToolCallID string // the originating ai message's tool_call id, for correlation
	Name       string
	Input      json.RawMessage
	Output     string
}

// StreamResult wraps one Event with a terminal error. Err is non-nil only on
// the final value sent before the channel closes (cancellation, a
// UserInterrupt, or a model stream error); consumers should stop reading
// once they see it.
type StreamResult struct {
	Event Event
	Err   error
}
