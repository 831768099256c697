package executor

import (
	"encoding/json"
)

// extractStructuredOutput takes a message body of unknown shape and pulls
// out the object a structured-output agent is meant to return.
//
//   - No "content" field at all -> return the value as-is.
//   - content is a string -> try to JSON-parse it; on failure fall back to
//     {"content": <string>}.
//   - content is an object -> return it.
//   - The message itself is a bare string -> same JSON-parse-or-fallback
//     rule as above.
func extractStructuredOutput(raw string) any {
	var envelope map[string]any
	if err := json.Unmarshal([]byte(raw), &envelope); err == nil {
		content, hasContent := envelope["content"]
		if !hasContent {
			return envelope
		}
		switch v := content.(type) {
		case string:
			return parseOrWrap(v)
		default:
			return v
		}
	}
	// Not a JSON object at the top level: treat the whole string as the
	// message itself, per the "message itself is a string" branch.
	return parseOrWrap(raw)
}

func parseOrWrap(s string) any {
	var parsed any
	if err := json.Unmarshal([]byte(s), &parsed); err == nil {
		return parsed
	}
	return map[string]any{"content": s}
}

// jsonSchema is the minimal shape of the schemas structured output is
// validated against: top-level required fields and property types. This is
// shape-only: additional properties are allowed and nested objects are
// not recursed into.
type jsonSchema struct {
	Required   []string                  `json:"required"`
	Properties map[string]schemaProperty `json:"properties"`
}

type schemaProperty struct {
	Type string `json:"type"`
}

// validateStructuredOutput shape-checks obj against schema: every required
// field must be present, and every declared property (if present) must
// match its declared runtime type. It never returns a hard error; the
// outcome is just true/false, surfaced in AgentResult.Metadata.StructuredOutputValid.
func validateStructuredOutput(schema json.RawMessage, obj any) bool {
	if len(schema) == 0 {
		return true
	}
	var s jsonSchema
	if err := json.Unmarshal(schema, &s); err != nil {
		return false
	}

	m, ok := obj.(map[string]any)
	if !ok {
		// A non-object result can only satisfy a schema with no required
		// fields and no properties to check.
		return len(s.Required) == 0 && len(s.Properties) == 0
	}

	for _, req := range s.Required {
		if _, present := m[req]; !present {
			return false
		}
	}
	for name, prop := range s.Properties {
		val, present := m[name]
		if !present {
			continue
		}
		if !matchesType(val, prop.Type) {
			return false
		}
	}
	return true
}

func matchesType(val any, typ string) bool {
	switch typ {
	case "string":
		_, ok := val.(string)
		return ok
	case "number":
		_, ok := val.(float64)
		return ok
	case "boolean":
		_, ok := val.(bool)
		return ok
	case "array":
		_, ok := val.([]any)
		return ok
	case "object":
		_, ok := val.(map[string]any)
		return ok
	default:
		// Unknown/unspecified declared type: don't fail validation over it.
		return true
	}
}
