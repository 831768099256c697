// Package executor implements AgentExecutor: the per-invocation supervisor
// that assembles prompt, history, and tools, drives the ReAct loop, and
// persists session and long-term memory.
package executor

import (
	"encoding/json"

	"github.com/ddalcu/agent-orcha/pkg/models"
)

// FrameKind discriminates the envelope a streaming Invoke produces.
type FrameKind string

const (
	FrameContent   FrameKind = "content"
	FrameThinking  FrameKind = "thinking"
	FrameToolStart FrameKind = "tool_start"
	FrameToolEnd   FrameKind = "tool_end"
	FrameUsage     FrameKind = "usage"
	FrameResult    FrameKind = "result"
	FrameError     FrameKind = "error"
)

// Frame is one increment of Executor.Stream's output sequence.
type Frame struct {
	Kind FrameKind

	Content   string // content
	Thinking  string // thinking
	RunID     string // tool_start / tool_end
	Name      string // tool_start / tool_end
	Input     json.RawMessage
	Output    string         // tool_end
	Usage     *models.UsageMetadata // usage
	Result    any            // result, when structured output is configured
	Error     string         // error
}
