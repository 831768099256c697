package memory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLongTermMemoryLoadAbsent(t *testing.T) {
	lt := NewLongTermMemory(t.TempDir())
	content, err := lt.Load("missing-agent")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if content != "" {
		t.Fatalf("expected empty content, got %q", content)
	}
}

func TestLongTermMemorySaveTruncatesAndLoads(t *testing.T) {
	dir := t.TempDir()
	lt := NewLongTermMemory(dir)

	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, "line")
	}
	content := strings.Join(lines, "\n") + "\n"

	if err := lt.Save("a1", content, 5); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := lt.Load("a1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	gotLines := strings.Split(strings.TrimSuffix(got, "\n"), "\n")
	if len(gotLines) != 5 {
		t.Fatalf("expected 5 lines, got %d (%q)", len(gotLines), got)
	}

	if _, err := os.Stat(filepath.Join(dir, ".memory", "a1.md")); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}
}

func TestLongTermMemorySaveNoOpWithinBudget(t *testing.T) {
	dir := t.TempDir()
	lt := NewLongTermMemory(dir)

	content := "one\ntwo\nthree\n"
	if err := lt.Save("a1", content, 10); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := lt.Load("a1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := lt.Save("a1", loaded, 10); err != nil {
		t.Fatalf("re-Save: %v", err)
	}
	reloaded, err := lt.Load("a1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded != loaded {
		t.Fatalf("save of an already-within-budget blob should be a no-op: %q != %q", reloaded, loaded)
	}
}

func TestInstructionBlockEmpty(t *testing.T) {
	block := InstructionBlock("", 100)
	if !strings.Contains(block, "no memories saved yet") {
		t.Fatalf("expected empty-memory sentinel, got %q", block)
	}
	if !strings.Contains(block, "100") {
		t.Fatalf("expected maxLines budget in block, got %q", block)
	}
}
