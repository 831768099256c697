package tools

import (
	"context"
	"fmt"

	"github.com/ddalcu/agent-orcha/pkg/models"
)

// Registry holds the runtime's built-in tools and one Resolver per external
// ToolSource. It is read-only after initialization: all registration happens
// at startup, and Resolve is safe for concurrent use thereafter.
type Registry struct {
	builtins  map[string]StructuredTool
	resolvers map[models.ToolSource]Resolver
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		builtins:  make(map[string]StructuredTool),
		resolvers: make(map[models.ToolSource]Resolver),
	}
}

// RegisterBuiltin mints a built-in tool available to any agent that declares
// it (or a tool of the same name with source "builtin" or no source).
func (r *Registry) RegisterBuiltin(t StructuredTool) {
	r.builtins[t.Name()] = t
}

// RegisterResolver binds a Resolver to a ToolSource (mcp, knowledge, sandbox,
// custom, project).
func (r *Registry) RegisterResolver(source models.ToolSource, resolver Resolver) {
	r.resolvers[source] = resolver
}

// Resolve turns an agent's declared tool list into a concrete Set. Refs with
// no explicit Source, or Source == builtin, resolve against the built-in
// table; everything else is delegated to the matching Resolver. Duplicate
// names within one resolved set are an error: names must be unique within a
// resolved tool set.
func (r *Registry) Resolve(ctx context.Context, refs []models.ToolRef) (Set, error) {
	set := make(Set, len(refs))
	for _, ref := range refs {
		tool, err := r.resolveOne(ctx, ref)
		if err != nil {
			return nil, err
		}
		if _, exists := set[tool.Name()]; exists {
			return nil, fmt.Errorf("tools: duplicate tool name %q in resolved set", tool.Name())
		}
		set[tool.Name()] = tool
	}
	return set, nil
}

func (r *Registry) resolveOne(ctx context.Context, ref models.ToolRef) (StructuredTool, error) {
	if ref.Source == "" || ref.Source == models.ToolSourceBuiltin {
		if t, ok := r.builtins[ref.Name]; ok {
			return t, nil
		}
		if ref.Source == "" {
			// Unsourced refs may still name an external tool (e.g. an MCP
			// server-qualified name); fall through to scanning resolvers.
			for _, resolver := range r.resolvers {
				if t, err := resolver.Resolve(ctx, ref); err == nil {
					return t, nil
				}
			}
		}
		return nil, errUnresolvedSource{ref: ref}
	}
	resolver, ok := r.resolvers[ref.Source]
	if !ok {
		return nil, errUnresolvedSource{ref: ref}
	}
	return resolver.Resolve(ctx, ref)
}
