// Package builtin mints the runtime's built-in tools: save_memory,
// integration post/send, and knowledge_search.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ddalcu/agent-orcha/pkg/models"
)

// memoryStore is the subset of *memory.LongTermMemory the save_memory tool
// depends on, named as an interface so this package doesn't import memory
// (avoiding an import cycle with the executor that wires both).
type memoryStore interface {
	Save(agentName, content string, maxLines int) error
}

type saveMemoryArgs struct {
	Content string `json:"content"`
}

// saveMemoryTool is the built-in "save_memory" tool. Its contract is
// replace-the-entire-blob, not append; the description says so explicitly.
type saveMemoryTool struct {
	store     memoryStore
	agentName string
	maxLines  int
}

// NewSaveMemory mints the save_memory built-in for one agent.
func NewSaveMemory(store memoryStore, agentName string, maxLines int) *saveMemoryTool {
	return &saveMemoryTool{store: store, agentName: agentName, maxLines: maxLines}
}

func (t *saveMemoryTool) Name() string { return "save_memory" }

func (t *saveMemoryTool) Description() string {
	return "Replace the entire long-term memory blob with the given content. " +
		"This REPLACES everything previously saved; it does not append, so " +
		"always pass the full content you want retained."
}

func (t *saveMemoryTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"required": ["content"],
		"properties": {
			"content": {"type": "string", "description": "The full memory blob to persist, replacing any prior content."}
		}
	}`)
}

func (t *saveMemoryTool) Invoke(ctx context.Context, args json.RawMessage) (models.Content, error) {
	var parsed saveMemoryArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &parsed); err != nil {
			return models.Content{}, fmt.Errorf("save_memory: invalid arguments: %w", err)
		}
	}
	if err := t.store.Save(t.agentName, parsed.Content, t.maxLines); err != nil {
		return models.Content{}, fmt.Errorf("save_memory: %w", err)
	}
	return models.TextContent("memory saved"), nil
}
