// Package tools resolves an agent's declarative tool list to concrete
// callable StructuredTool values and mints the runtime's built-in tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ddalcu/agent-orcha/pkg/models"
)

// StructuredTool is the handler interface every tool (model-context-protocol
// peer, local built-in, sandbox executor, knowledge search, or project code)
// implements. The registry only depends on this interface; concrete handler
// variants are an open sum type.
type StructuredTool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Invoke(ctx context.Context, args json.RawMessage) (models.Content, error)
}

// Resolver resolves one declarative ToolRef to a concrete StructuredTool. The
// registry holds one Resolver per non-builtin ToolSource (mcp, knowledge,
// sandbox, custom, project); each of those subsystems is an external
// collaborator named only through this interface.
type Resolver interface {
	Resolve(ctx context.Context, ref models.ToolRef) (StructuredTool, error)
}

// ResolverFunc adapts a function to a Resolver.
type ResolverFunc func(ctx context.Context, ref models.ToolRef) (StructuredTool, error)

func (f ResolverFunc) Resolve(ctx context.Context, ref models.ToolRef) (StructuredTool, error) {
	return f(ctx, ref)
}

// Set is a resolved, name-keyed tool set ready to hand to the ReAct loop.
type Set map[string]StructuredTool

// Get looks up a tool by name.
func (s Set) Get(name string) (StructuredTool, bool) {
	t, ok := s[name]
	return t, ok
}

// Names returns the tool names in the set, in no particular order.
func (s Set) Names() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	return out
}

// Add inserts t into the set unless a tool of the same name is already
// present (first-wins de-duplication, the rule built-in tool injection
// relies on). Returns true if t was added.
func (s Set) Add(t StructuredTool) bool {
	if _, exists := s[t.Name()]; exists {
		return false
	}
	s[t.Name()] = t
	return true
}

// errUnresolvedSource is returned by Registry.Resolve when a ref names a
// ToolSource with no registered Resolver (builtin tools not found by name
// are reported the same way).
type errUnresolvedSource struct {
	ref models.ToolRef
}

func (e errUnresolvedSource) Error() string {
	return fmt.Sprintf("tools: no resolver for source %q (tool %q)", e.ref.Source, e.ref.Name)
}
