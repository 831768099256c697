package sqlitevec

import (
	"context"
	"testing"
	"time"

	"github.com/ddalcu/agent-orcha/internal/memory/backend"
	"github.com/ddalcu/agent-orcha/pkg/models"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(Config{})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return b
}

func TestNew(t *testing.T) {
	t.Run("default config uses memory database", func(t *testing.T) {
		b := newTestBackend(t)
		defer b.Close()

		if b.db == nil {
			t.Error("db should not be nil")
		}
		if b.dimension != defaultDimension {
			t.Errorf("dimension = %d, want %d", b.dimension, defaultDimension)
		}
	})

	t.Run("custom config", func(t *testing.T) {
		b, err := New(Config{Path: ":memory:", Dimension: 768})
		if err != nil {
			t.Fatalf("New error: %v", err)
		}
		defer b.Close()

		if b.dimension != 768 {
			t.Errorf("dimension = %d, want 768", b.dimension)
		}
	})
}

func TestBackend_Index(t *testing.T) {
	b := newTestBackend(t)
	defer b.Close()

	t.Run("index single entry", func(t *testing.T) {
		entry := &models.MemoryEntry{
			Content:   "Test content",
			SessionID: "session-1",
			Embedding: []float32{0.1, 0.2, 0.3},
			Metadata:  models.MemoryMetadata{Source: "test", Extra: map[string]any{"key": "value"}},
		}

		if err := b.Index(context.Background(), []*models.MemoryEntry{entry}); err != nil {
			t.Fatalf("Index error: %v", err)
		}
		if entry.ID == "" {
			t.Error("entry.ID should be assigned")
		}
		if entry.CreatedAt.IsZero() {
			t.Error("entry.CreatedAt should be set")
		}
	})

	t.Run("index multiple entries", func(t *testing.T) {
		entries := []*models.MemoryEntry{
			{Content: "First", ChannelID: "channel-1"},
			{Content: "Second", ChannelID: "channel-1"},
			{Content: "Third", AgentID: "agent-1"},
		}
		if err := b.Index(context.Background(), entries); err != nil {
			t.Fatalf("Index error: %v", err)
		}
		for i, e := range entries {
			if e.ID == "" {
				t.Errorf("entries[%d].ID should be assigned", i)
			}
		}
	})

	t.Run("re-indexing the same id updates the row", func(t *testing.T) {
		entry := &models.MemoryEntry{ID: "custom-id-123", Content: "first version"}
		if err := b.Index(context.Background(), []*models.MemoryEntry{entry}); err != nil {
			t.Fatalf("Index error: %v", err)
		}

		entry.Content = "second version"
		if err := b.Index(context.Background(), []*models.MemoryEntry{entry}); err != nil {
			t.Fatalf("Index error: %v", err)
		}
		if entry.ID != "custom-id-123" {
			t.Errorf("entry.ID = %q, want %q", entry.ID, "custom-id-123")
		}
	})
}

func TestBackend_Search(t *testing.T) {
	b := newTestBackend(t)
	defer b.Close()

	entries := []*models.MemoryEntry{
		{Content: "Apple is a fruit", SessionID: "session-1", Embedding: []float32{0.9, 0.1, 0.0}},
		{Content: "Banana is yellow", SessionID: "session-1", Embedding: []float32{0.8, 0.2, 0.0}},
		{Content: "Car is a vehicle", SessionID: "session-2", Embedding: []float32{0.1, 0.9, 0.0}},
	}
	if err := b.Index(context.Background(), entries); err != nil {
		t.Fatalf("Index error: %v", err)
	}

	t.Run("search without scope", func(t *testing.T) {
		results, err := b.Search(context.Background(), []float32{0.85, 0.15, 0.0}, nil)
		if err != nil {
			t.Fatalf("Search error: %v", err)
		}
		if len(results) == 0 {
			t.Error("expected results")
		}
	})

	t.Run("search with session scope", func(t *testing.T) {
		opts := &backend.SearchOptions{Scope: models.ScopeSession, ScopeID: "session-1", Limit: 10}
		results, err := b.Search(context.Background(), []float32{0.85, 0.15, 0.0}, opts)
		if err != nil {
			t.Fatalf("Search error: %v", err)
		}
		for _, r := range results {
			if r.Entry.SessionID != "session-1" {
				t.Errorf("result has SessionID = %q, want session-1", r.Entry.SessionID)
			}
		}
	})

	t.Run("search with limit", func(t *testing.T) {
		opts := &backend.SearchOptions{Limit: 1}
		results, err := b.Search(context.Background(), []float32{0.5, 0.5, 0.0}, opts)
		if err != nil {
			t.Fatalf("Search error: %v", err)
		}
		if len(results) > 1 {
			t.Errorf("expected at most 1 result, got %d", len(results))
		}
	})

	t.Run("search with threshold filters low scores", func(t *testing.T) {
		opts := &backend.SearchOptions{Limit: 10, Threshold: 0.99}
		results, err := b.Search(context.Background(), []float32{0.1, 0.1, 0.0}, opts)
		if err != nil {
			t.Fatalf("Search error: %v", err)
		}
		for _, r := range results {
			if r.Score < 0.99 {
				t.Errorf("result score = %f, want >= 0.99", r.Score)
			}
		}
	})

	t.Run("search ignores SearchMode and Query", func(t *testing.T) {
		opts := &backend.SearchOptions{Limit: 10, SearchMode: backend.SearchModeHybrid, Query: "fruit"}
		results, err := b.Search(context.Background(), []float32{0.85, 0.15, 0.0}, opts)
		if err != nil {
			t.Fatalf("Search error: %v", err)
		}
		if len(results) == 0 {
			t.Error("expected results despite unsupported search mode")
		}
	})
}

func TestBackend_Delete(t *testing.T) {
	b := newTestBackend(t)
	defer b.Close()

	entry := &models.MemoryEntry{ID: "delete-me", Content: "To be deleted"}
	if err := b.Index(context.Background(), []*models.MemoryEntry{entry}); err != nil {
		t.Fatalf("Index error: %v", err)
	}

	t.Run("delete existing entry", func(t *testing.T) {
		if err := b.Delete(context.Background(), []string{"delete-me"}); err != nil {
			t.Fatalf("Delete error: %v", err)
		}
		count, err := b.Count(context.Background(), models.MemoryScope(""), "")
		if err != nil {
			t.Fatalf("Count error: %v", err)
		}
		if count != 0 {
			t.Errorf("count = %d, want 0 after delete", count)
		}
	})

	t.Run("delete empty list is a no-op", func(t *testing.T) {
		if err := b.Delete(context.Background(), []string{}); err != nil {
			t.Errorf("Delete empty list error: %v", err)
		}
	})

	t.Run("delete non-existent entry is not an error", func(t *testing.T) {
		if err := b.Delete(context.Background(), []string{"non-existent-id"}); err != nil {
			t.Errorf("Delete non-existent error: %v", err)
		}
	})
}

func TestBackend_Count(t *testing.T) {
	b := newTestBackend(t)
	defer b.Close()

	entries := []*models.MemoryEntry{
		{Content: "A", SessionID: "s1"},
		{Content: "B", SessionID: "s1"},
		{Content: "C", ChannelID: "c1"},
		{Content: "D", AgentID: "a1"},
	}
	if err := b.Index(context.Background(), entries); err != nil {
		t.Fatalf("Index error: %v", err)
	}

	cases := []struct {
		name    string
		scope   models.MemoryScope
		scopeID string
		want    int64
	}{
		{"all", "", "", 4},
		{"by session", models.ScopeSession, "s1", 2},
		{"by channel", models.ScopeChannel, "c1", 1},
		{"by agent", models.ScopeAgent, "a1", 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			count, err := b.Count(context.Background(), tc.scope, tc.scopeID)
			if err != nil {
				t.Fatalf("Count error: %v", err)
			}
			if count != tc.want {
				t.Errorf("count = %d, want %d", count, tc.want)
			}
		})
	}
}

func TestBackend_Compact(t *testing.T) {
	b := newTestBackend(t)
	defer b.Close()

	if err := b.Compact(context.Background()); err != nil {
		t.Errorf("Compact error: %v", err)
	}
}

func TestBackend_Close(t *testing.T) {
	b := newTestBackend(t)
	if err := b.Close(); err != nil {
		t.Errorf("Close error: %v", err)
	}
}

func TestToNullString(t *testing.T) {
	if ns := toNullString(""); ns.Valid {
		t.Error("expected Valid to be false for empty string")
	}
	ns := toNullString("test")
	if !ns.Valid || ns.String != "test" {
		t.Errorf("toNullString(%q) = %+v", "test", ns)
	}
}

func TestEncodeDecodeVector(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		original := []float32{0.1, 0.2, -0.5, 1.0, 0.0}
		decoded := decodeVector(encodeVector(original))
		if len(decoded) != len(original) {
			t.Fatalf("decoded length = %d, want %d", len(decoded), len(original))
		}
		for i := range original {
			if decoded[i] != original[i] {
				t.Errorf("decoded[%d] = %f, want %f", i, decoded[i], original[i])
			}
		}
	})

	t.Run("empty vector encodes to nil", func(t *testing.T) {
		if encodeVector([]float32{}) != nil {
			t.Error("expected nil for empty vector")
		}
		if decodeVector(nil) != nil {
			t.Error("expected nil for nil input")
		}
	})

	t.Run("length not divisible by 4 decodes to nil", func(t *testing.T) {
		if decodeVector([]byte{1, 2, 3}) != nil {
			t.Error("expected nil for invalid length")
		}
	})
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name    string
		a, b    []float32
		want    float32
		epsilon float32
	}{
		{"identical vectors", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0, 0.01},
		{"orthogonal vectors", []float32{1, 0, 0}, []float32{0, 1, 0}, 0.0, 0.01},
		{"opposite vectors", []float32{1, 0}, []float32{-1, 0}, -1.0, 0.01},
		{"different lengths", []float32{1, 0}, []float32{1, 0, 0}, 0, 0},
		{"empty vectors", []float32{}, []float32{}, 0, 0},
		{"zero vector", []float32{0, 0, 0}, []float32{1, 0, 0}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := cosineSimilarity(tt.a, tt.b)
			diff := sim - tt.want
			if diff < 0 {
				diff = -diff
			}
			if diff > tt.epsilon {
				t.Errorf("cosineSimilarity() = %f, want ~%f", sim, tt.want)
			}
		})
	}
}

func TestConfig_Struct(t *testing.T) {
	cfg := Config{Path: "/path/to/db.sqlite", Dimension: 512}
	if cfg.Path != "/path/to/db.sqlite" {
		t.Errorf("Path = %q, want %q", cfg.Path, "/path/to/db.sqlite")
	}
	if cfg.Dimension != 512 {
		t.Errorf("Dimension = %d, want 512", cfg.Dimension)
	}
}

func TestBackend_ContextCancellation(t *testing.T) {
	b := newTestBackend(t)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Millisecond)
	defer cancel()
	time.Sleep(5 * time.Millisecond)

	_ = b.Index(ctx, []*models.MemoryEntry{{Content: "test"}})
}
