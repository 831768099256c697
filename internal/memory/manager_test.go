package memory

import (
	"context"
	"testing"
	"time"
)

func TestNewEmbeddingCache(t *testing.T) {
	cache := newEmbeddingCache(10)
	if cache.capacity != 10 {
		t.Errorf("capacity = %d, want 10", cache.capacity)
	}
	if cache.items == nil {
		t.Error("items map should be initialized")
	}
}

func TestEmbeddingCache_SetAndGet(t *testing.T) {
	cache := newEmbeddingCache(10)

	embedding := []float32{0.1, 0.2, 0.3}
	cache.set("key1", embedding)

	got, ok := cache.get("key1")
	if !ok {
		t.Fatal("expected key1 to be found")
	}
	if len(got) != len(embedding) {
		t.Fatalf("got embedding length %d, want %d", len(got), len(embedding))
	}
	for i, v := range got {
		if v != embedding[i] {
			t.Errorf("got[%d] = %f, want %f", i, v, embedding[i])
		}
	}
}

func TestEmbeddingCache_GetMiss(t *testing.T) {
	cache := newEmbeddingCache(10)
	if _, ok := cache.get("nonexistent"); ok {
		t.Error("expected miss for nonexistent key")
	}
}

func TestEmbeddingCache_Update(t *testing.T) {
	cache := newEmbeddingCache(10)

	cache.set("key1", []float32{0.1})
	cache.set("key1", []float32{0.2, 0.3})

	got, ok := cache.get("key1")
	if !ok {
		t.Fatal("expected key1 to be found after update")
	}
	if len(got) != 2 || got[0] != 0.2 {
		t.Errorf("got = %v, want [0.2 0.3]", got)
	}
}

func TestEmbeddingCache_EvictsOldestOnOverflow(t *testing.T) {
	cache := newEmbeddingCache(3)

	cache.set("key1", []float32{1.0})
	cache.set("key2", []float32{2.0})
	cache.set("key3", []float32{3.0})
	cache.set("key4", []float32{4.0})

	if _, ok := cache.get("key1"); ok {
		t.Error("key1 should have been evicted")
	}
	for _, k := range []string{"key2", "key3", "key4"} {
		if _, ok := cache.get(k); !ok {
			t.Errorf("%s should still exist", k)
		}
	}
}

func TestEmbeddingCache_ZeroCapacityEvictsImmediately(t *testing.T) {
	cache := newEmbeddingCache(0)
	cache.set("key1", []float32{1.0})
	if len(cache.items) > 0 {
		t.Error("cache with 0 capacity should evict immediately")
	}
}

func TestEmbeddingCache_ConcurrentAccess(t *testing.T) {
	cache := newEmbeddingCache(100)

	done := make(chan bool, 2)
	for _, key := range []string{"key-a", "key-b"} {
		key := key
		go func() {
			for i := 0; i < 100; i++ {
				cache.set(key, []float32{float32(i)})
				cache.get(key)
			}
			done <- true
		}()
	}

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("concurrent access test timed out")
		}
	}
}

func TestConfig_Struct(t *testing.T) {
	cfg := Config{Enabled: true, Backend: "sqlite-vec", Dimension: 1536}
	if !cfg.Enabled || cfg.Backend != "sqlite-vec" || cfg.Dimension != 1536 {
		t.Errorf("unexpected Config: %+v", cfg)
	}
}

func TestSQLiteVecConfig_Struct(t *testing.T) {
	cfg := SQLiteVecConfig{Path: "/path/to/db.sqlite"}
	if cfg.Path != "/path/to/db.sqlite" {
		t.Errorf("Path = %q, want %q", cfg.Path, "/path/to/db.sqlite")
	}
}

func TestPgvectorConfig_Struct(t *testing.T) {
	cfg := PgvectorConfig{DSN: "postgres://localhost/test"}
	if cfg.DSN != "postgres://localhost/test" {
		t.Errorf("DSN = %q, want %q", cfg.DSN, "postgres://localhost/test")
	}
}

func TestEmbeddingsConfig_Struct(t *testing.T) {
	cfg := EmbeddingsConfig{
		Provider: "openai",
		APIKey:   "sk-test-key",
		BaseURL:  "https://api.openai.com",
		Model:    "text-embedding-ada-002",
	}
	if cfg.Provider != "openai" || cfg.Model != "text-embedding-ada-002" {
		t.Errorf("unexpected EmbeddingsConfig: %+v", cfg)
	}
}

func TestIndexingConfig_Struct(t *testing.T) {
	cfg := IndexingConfig{MinContentLength: 20, BatchSize: 50}
	if cfg.MinContentLength != 20 || cfg.BatchSize != 50 {
		t.Errorf("unexpected IndexingConfig: %+v", cfg)
	}
}

func TestSearchConfig_Struct(t *testing.T) {
	cfg := SearchConfig{DefaultLimit: 15, DefaultThreshold: 0.8, DefaultScope: "global"}
	if cfg.DefaultLimit != 15 || cfg.DefaultThreshold != 0.8 || cfg.DefaultScope != "global" {
		t.Errorf("unexpected SearchConfig: %+v", cfg)
	}
}

func TestStats_Struct(t *testing.T) {
	stats := Stats{
		TotalEntries:      1000,
		Backend:           "pgvector",
		EmbeddingProvider: "openai",
		EmbeddingModel:    "text-embedding-ada-002",
		Dimension:         1536,
	}
	if stats.TotalEntries != 1000 || stats.Backend != "pgvector" || stats.Dimension != 1536 {
		t.Errorf("unexpected Stats: %+v", stats)
	}
}

func TestNewManager_NilConfig(t *testing.T) {
	mgr, err := NewManager(context.Background(), nil)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if mgr != nil {
		t.Error("expected nil manager for nil config")
	}
}

func TestNewManager_Disabled(t *testing.T) {
	mgr, err := NewManager(context.Background(), &Config{Enabled: false})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if mgr != nil {
		t.Error("expected nil manager for disabled config")
	}
}

func TestNewManager_UnknownBackend(t *testing.T) {
	cfg := &Config{Enabled: true, Backend: "unknown-backend"}
	if _, err := NewManager(context.Background(), cfg); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestNewManager_UnknownEmbeddingProvider(t *testing.T) {
	cfg := &Config{
		Enabled:    true,
		Backend:    "sqlite-vec",
		Embeddings: EmbeddingsConfig{Provider: "unknown-provider"},
	}
	if _, err := NewManager(context.Background(), cfg); err == nil {
		t.Error("expected error for unknown embedding provider")
	}
}

func TestNewManager_DimensionMismatch(t *testing.T) {
	cfg := &Config{
		Enabled:   true,
		Backend:   "sqlite-vec",
		Dimension: 99,
		Embeddings: EmbeddingsConfig{
			Provider: "openai",
			APIKey:   "test-key",
			Model:    "text-embedding-3-small", // 1536-wide, mismatches Dimension: 99
		},
	}
	if _, err := NewManager(context.Background(), cfg); err == nil {
		t.Error("expected dimension mismatch error")
	}
}
