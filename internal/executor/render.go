package executor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ddalcu/agent-orcha/pkg/models"
)

// renderUserMessage applies the input-variable rendering rules:
//
//   - No declared input variables -> JSON-encode the entire input object.
//   - One declared variable -> String(input[var]), or "" if absent.
//   - Multiple declared variables -> "var: value" per variable, newline
//     joined, empty string for absent values.
func renderUserMessage(inputVars []string, input map[string]any) string {
	switch len(inputVars) {
	case 0:
		if input == nil {
			input = map[string]any{}
		}
		b, err := json.Marshal(input)
		if err != nil {
			return "{}"
		}
		return string(b)
	case 1:
		return stringify(input[inputVars[0]])
	default:
		lines := make([]string, 0, len(inputVars))
		for _, v := range inputVars {
			lines = append(lines, fmt.Sprintf("%s: %s", v, stringify(input[v])))
		}
		return strings.Join(lines, "\n")
	}
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// toolHistorySummary is one entry correlating an ai message's tool_call to
// its tool-result message.
type toolHistorySummary struct {
	Name   string
	Input  string
	Output string
}

// buildToolHistory walks a message chain and joins every ai tool_call to its
// matching tool message via tool_call_id, in call order.
func buildToolHistory(messages []models.Message) []toolHistorySummary {
	type pending struct {
		name string
		args string
	}
	byID := make(map[string]pending)
	var order []string

	for _, m := range messages {
		if m.Role == models.RoleAI {
			for _, tc := range m.ToolCalls {
				byID[tc.ID] = pending{name: tc.Name, args: string(tc.Args)}
				order = append(order, tc.ID)
			}
		}
	}

	outputs := make(map[string]string, len(byID))
	for _, m := range messages {
		if m.Role == models.RoleTool {
			outputs[m.ToolCallID] = m.Text()
		}
	}

	summaries := make([]toolHistorySummary, 0, len(order))
	for _, id := range order {
		p := byID[id]
		summaries = append(summaries, toolHistorySummary{
			Name:   p.name,
			Input:  p.args,
			Output: outputs[id],
		})
	}
	return summaries
}

// renderToolHistoryBlock composes the <tool_history> block appended to a
// persisted ai message after a tool-using turn. Truncation markers use a
// trailing "...".
func renderToolHistoryBlock(summaries []toolHistorySummary) string {
	if len(summaries) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<tool_history>\n")
	for _, s := range summaries {
		fmt.Fprintf(&b, "[Tool: %s] Input: %s → Output: %s\n", s.Name, truncate(s.Input, 200), truncate(s.Output, 500))
	}
	b.WriteString("</tool_history>")
	return b.String()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

// toolCallSummaries converts toolHistorySummary entries to the metadata
// shape carried on AgentResult, sorted by nothing in particular; call
// order is already preserved by buildToolHistory.
func toolCallSummaries(summaries []toolHistorySummary) []models.ToolCallSummary {
	out := make([]models.ToolCallSummary, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, models.ToolCallSummary{Name: s.Name, Input: truncate(s.Input, 200), Output: truncate(s.Output, 500)})
	}
	return out
}
