package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache compiles each distinct tool argument schema once and reuses it
// across invocations instead of recompiling on every tool call.
type schemaCache struct {
	mu    sync.Mutex
	cache map[string]*jsonschema.Schema
}

var globalSchemaCache = &schemaCache{cache: make(map[string]*jsonschema.Schema)}

// ValidateArgs checks args against a JSON-Schema-shaped tool argument schema.
// A nil or empty schema always validates. This is distinct from the
// shape-only structured-output validator: tool argument validation is full
// JSON Schema, enforced before the tool ever sees the arguments.
func ValidateArgs(schema json.RawMessage, args json.RawMessage) error {
	if len(bytes.TrimSpace(schema)) == 0 {
		return nil
	}

	compiled, err := globalSchemaCache.get(schema)
	if err != nil {
		return fmt.Errorf("tool schema: %w", err)
	}

	var doc any
	if len(bytes.TrimSpace(args)) == 0 {
		doc = map[string]any{}
	} else if err := json.Unmarshal(args, &doc); err != nil {
		return fmt.Errorf("tool arguments: invalid JSON: %w", err)
	}

	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("tool arguments: %w", err)
	}
	return nil
}

func (c *schemaCache) get(schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)

	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.cache[key]; ok {
		return s, nil
	}

	compiler := jsonschema.NewCompiler()
	const resourceName = "tool-args.json"
	if err := compiler.AddResource(resourceName, bytes.NewReader(schema)); err != nil {
		return nil, err
	}
	compiled, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, err
	}
	c.cache[key] = compiled
	return compiled, nil
}
