// Package backend defines the storage contract the knowledge store's
// Manager drives: index embedded entries, search them back by similarity
// (optionally blended with full-text ranking), and manage their lifecycle.
package backend

import (
	"context"

	"github.com/ddalcu/agent-orcha/pkg/models"
)

// Backend is one concrete vector store implementation (sqlite-vec,
// pgvector, ...) behind a shared contract.
type Backend interface {
	Index(ctx context.Context, entries []*models.MemoryEntry) error
	Search(ctx context.Context, embedding []float32, opts *SearchOptions) ([]*models.SearchResult, error)
	Delete(ctx context.Context, ids []string) error
	Count(ctx context.Context, scope models.MemoryScope, scopeID string) (int64, error)
	Compact(ctx context.Context) error
	Close() error
}

// SearchMode picks how a Search call ranks candidates.
type SearchMode string

const (
	SearchModeVector SearchMode = "vector" // pure cosine/L2 similarity
	SearchModeBM25   SearchMode = "bm25"   // full-text ranking only
	SearchModeHybrid SearchMode = "hybrid" // vector + BM25, blended by HybridAlpha
)

// SearchOptions parameterizes a Backend.Search call.
type SearchOptions struct {
	Scope     models.MemoryScope
	ScopeID   string
	Limit     int
	Threshold float32
	Filters   map[string]any

	SearchMode SearchMode

	// HybridAlpha weights vector similarity against BM25 rank in hybrid
	// mode: 1 is pure vector, lower values give BM25 more weight. The
	// pgvector backend replaces a zero or negative value with 0.7; the
	// sqlitevec backend ignores it.
	HybridAlpha float32

	// Query is the raw text for BM25 ranking; pgvector's hybrid mode falls
	// back to vector-only search when it is empty. Vector-only search
	// ignores it in favor of the already-embedded query vector.
	Query string
}

// Config is the dimension every backend must agree on with its embedder.
type Config struct {
	Dimension int
}
