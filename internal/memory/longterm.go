// Package memory also provides LongTermMemory: a per-agent persistent note
// blob, fully rewritten by the save_memory built-in tool. This is distinct
// from the vector-backed Manager in this package, which backs the
// knowledge_search built-in instead.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMaxLines is used when an agent's MemoryConfig.MaxLines is unset.
const DefaultMaxLines = 100

// LongTermMemory reads and writes the per-agent memory blob rooted at
// <workspace>/.memory/<agentName>.md.
type LongTermMemory struct {
	workspaceDir string
}

// NewLongTermMemory builds a LongTermMemory rooted at workspaceDir.
func NewLongTermMemory(workspaceDir string) *LongTermMemory {
	return &LongTermMemory{workspaceDir: workspaceDir}
}

func (l *LongTermMemory) path(agentName string) string {
	return filepath.Join(l.workspaceDir, ".memory", agentName+".md")
}

// Load returns the persisted blob for agentName, or "" if none exists yet.
func (l *LongTermMemory) Load(agentName string) (string, error) {
	data, err := os.ReadFile(l.path(agentName))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("memory: load %q: %w", agentName, err)
	}
	return string(data), nil
}

// Save replaces the entire blob for agentName with content, truncated to the
// trailing maxLines newline-terminated lines, written atomically (write to a
// temp file, then rename over the target).
func (l *LongTermMemory) Save(agentName, content string, maxLines int) error {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	dir := filepath.Join(l.workspaceDir, ".memory")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("memory: mkdir %q: %w", dir, err)
	}

	truncated := truncateLines(content, maxLines)

	target := l.path(agentName)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("memory: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(truncated); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("memory: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("memory: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("memory: rename into place: %w", err)
	}
	return nil
}

// InstructionBlock renders the fixed system-prompt fragment appended when an
// agent has long-term memory enabled: the current blob wrapped in
// <long_term_memory>, followed by a fixed <memory_instructions> block
// enumerating the maxLines budget and the save_memory replace-all contract.
func InstructionBlock(content string, maxLines int) string {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	body := content
	if strings.TrimSpace(body) == "" {
		body = "(empty - no memories saved yet)"
	}
	return fmt.Sprintf(`<long_term_memory>
%s
</long_term_memory>

<memory_instructions>
You have a persistent memory blob capped at %d lines. Use the save_memory
tool to update it. save_memory REPLACES the entire blob; it does not
append, so always include everything you want to keep, not just what is
new. Keep entries terse; prefer durable facts and preferences over
transient conversation state.
</memory_instructions>`, body, maxLines)
}

// truncateLines keeps at most the last maxLines lines of content.
func truncateLines(content string, maxLines int) string {
	if content == "" {
		return content
	}
	trimmed := strings.TrimSuffix(content, "\n")
	lines := strings.Split(trimmed, "\n")
	if len(lines) <= maxLines {
		return content
	}
	kept := lines[len(lines)-maxLines:]
	return strings.Join(kept, "\n") + "\n"
}
