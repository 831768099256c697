// Package react implements the ReAct loop: the bounded model/tool-calling
// controller that drives a chat model through alternating model-call /
// tool-execute phases until the model stops requesting tools.
package react

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned (or carried in a StreamResult) when the loop
// observes a fired cancellation at one of its suspension points: the
// model call, a tool invocation, or a streaming delta step.
var ErrCancelled = errors.New("Request was aborted")

// UserInterrupt is a distinguished error a tool may raise to request human
// input. It propagates past the loop unchanged; the caller is responsible
// for persisting in-flight state and later resumption. State carries
// whatever the tool wants preserved; the loop treats it opaquely.
type UserInterrupt struct {
	Message string
	State   any
}

func (e *UserInterrupt) Error() string {
	return fmt.Sprintf("user interrupt: %s", e.Message)
}

// AsUserInterrupt reports whether err is (or wraps) a *UserInterrupt.
func AsUserInterrupt(err error) (*UserInterrupt, bool) {
	var ui *UserInterrupt
	if errors.As(err, &ui) {
		return ui, true
	}
	return nil, false
}
