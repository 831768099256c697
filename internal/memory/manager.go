// Package memory implements the agent-facing memory subsystems: a
// per-agent long-term scratchpad (LongTermMemory, a single Markdown blob)
// and a semantic knowledge store (Manager) that embeds and indexes
// arbitrary text for similarity search.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ddalcu/agent-orcha/internal/memory/backend"
	"github.com/ddalcu/agent-orcha/internal/memory/backend/pgvector"
	"github.com/ddalcu/agent-orcha/internal/memory/backend/sqlitevec"
	"github.com/ddalcu/agent-orcha/internal/memory/embeddings"
	"github.com/ddalcu/agent-orcha/internal/memory/embeddings/openai"
	"github.com/ddalcu/agent-orcha/pkg/models"
)

// Manager embeds and indexes text against a pluggable vector backend,
// and answers similarity queries against it.
type Manager struct {
	backend  backend.Backend
	embedder embeddings.Provider
	config   *Config
	cache    *embeddingCache
	mu       sync.RWMutex
}

// Config selects and configures one Manager instance.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Backend   string `yaml:"backend"` // sqlite-vec (default) or pgvector
	Dimension int    `yaml:"dimension"`

	SQLiteVec SQLiteVecConfig `yaml:"sqlite_vec"`
	Pgvector  PgvectorConfig  `yaml:"pgvector"`

	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Indexing   IndexingConfig   `yaml:"indexing"`
	Search     SearchConfig     `yaml:"search"`
}

// SQLiteVecConfig configures the default, dependency-free backend.
type SQLiteVecConfig struct {
	Path string `yaml:"path"`
}

// PgvectorConfig configures the shared-deployment Postgres backend.
type PgvectorConfig struct {
	DSN string `yaml:"dsn"`
}

// EmbeddingsConfig selects and configures the embedding provider.
type EmbeddingsConfig struct {
	Provider string `yaml:"provider"` // currently only "openai"
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
}

// IndexingConfig controls how Manager.Index batches embedding calls.
type IndexingConfig struct {
	MinContentLength int `yaml:"min_content_length"`
	BatchSize        int `yaml:"batch_size"`
}

// SearchConfig supplies defaults applied to a SearchRequest missing them.
type SearchConfig struct {
	DefaultLimit     int     `yaml:"default_limit"`
	DefaultThreshold float32 `yaml:"default_threshold"`
	DefaultScope     string  `yaml:"default_scope"`
}

// NewManager builds a Manager from cfg, or returns (nil, nil) when memory
// is disabled so callers can skip wiring the knowledge_search tool.
func NewManager(ctx context.Context, cfg *Config) (*Manager, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	if cfg.Dimension == 0 {
		cfg.Dimension = 1536
	}
	if cfg.Indexing.BatchSize == 0 {
		cfg.Indexing.BatchSize = 100
	}
	if cfg.Indexing.MinContentLength == 0 {
		cfg.Indexing.MinContentLength = 10
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 10
	}
	if cfg.Search.DefaultThreshold == 0 {
		cfg.Search.DefaultThreshold = 0.7
	}
	if cfg.Search.DefaultScope == "" {
		cfg.Search.DefaultScope = string(models.ScopeSession)
	}

	b, err := newBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("memory: init backend: %w", err)
	}

	emb, err := newEmbedder(cfg)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("memory: init embedder: %w", err)
	}

	if emb.Dimension() != cfg.Dimension {
		b.Close()
		return nil, fmt.Errorf("memory: dimension mismatch: config=%d, embedder=%d", cfg.Dimension, emb.Dimension())
	}

	return &Manager{
		backend:  b,
		embedder: emb,
		config:   cfg,
		cache:    newEmbeddingCache(1000),
	}, nil
}

func newBackend(ctx context.Context, cfg *Config) (backend.Backend, error) {
	switch cfg.Backend {
	case "sqlite-vec", "sqlite", "":
		return sqlitevec.New(sqlitevec.Config{Path: cfg.SQLiteVec.Path, Dimension: cfg.Dimension})
	case "pgvector", "postgres", "postgresql":
		return pgvector.New(ctx, pgvector.Config{DSN: cfg.Pgvector.DSN, Dimension: cfg.Dimension})
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func newEmbedder(cfg *Config) (embeddings.Provider, error) {
	switch cfg.Embeddings.Provider {
	case "openai", "":
		return openai.New(openai.Config{
			APIKey:  cfg.Embeddings.APIKey,
			BaseURL: cfg.Embeddings.BaseURL,
			Model:   cfg.Embeddings.Model,
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embeddings.Provider)
	}
}

// Index embeds entries missing a vector (skipping content shorter than
// IndexingConfig.MinContentLength) and stores the batch in the backend.
func (m *Manager) Index(ctx context.Context, entries []*models.MemoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	var toEmbed []*models.MemoryEntry
	for _, entry := range entries {
		if len(entry.Embedding) == 0 && len(entry.Content) >= m.config.Indexing.MinContentLength {
			toEmbed = append(toEmbed, entry)
		}
	}

	batchSize := m.embedder.MaxBatchSize()
	if m.config.Indexing.BatchSize > 0 && m.config.Indexing.BatchSize < batchSize {
		batchSize = m.config.Indexing.BatchSize
	}

	for start := 0; start < len(toEmbed); start += batchSize {
		end := min(start+batchSize, len(toEmbed))
		batch := toEmbed[start:end]

		texts := make([]string, len(batch))
		for i, entry := range batch {
			texts[i] = entry.Content
		}

		vectors, err := m.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("memory: embed batch: %w", err)
		}
		for i, entry := range batch {
			entry.Embedding = vectors[i]
		}
	}

	return m.backend.Index(ctx, entries)
}

// Search embeds req.Query (caching the embedding per scope+query) and
// ranks the backend's results against it.
func (m *Manager) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	start := time.Now()

	if req.Limit == 0 {
		req.Limit = m.config.Search.DefaultLimit
	}
	if req.Threshold == 0 {
		req.Threshold = m.config.Search.DefaultThreshold
	}
	if req.Scope == "" {
		req.Scope = models.MemoryScope(m.config.Search.DefaultScope)
	}

	cacheKey := string(req.Scope) + ":" + req.Query
	queryVec, ok := m.cache.get(cacheKey)
	if !ok {
		vec, err := m.embedder.Embed(ctx, req.Query)
		if err != nil {
			return nil, fmt.Errorf("memory: embed query: %w", err)
		}
		queryVec = vec
		m.cache.set(cacheKey, vec)
	}

	results, err := m.backend.Search(ctx, queryVec, &backend.SearchOptions{
		Scope:     req.Scope,
		ScopeID:   req.ScopeID,
		Limit:     req.Limit,
		Threshold: req.Threshold,
		Filters:   req.Filters,
	})
	if err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}

	return &models.SearchResponse{
		Results:    results,
		TotalCount: len(results),
		QueryTime:  time.Since(start),
	}, nil
}

// Delete removes entries by id.
func (m *Manager) Delete(ctx context.Context, ids []string) error {
	return m.backend.Delete(ctx, ids)
}

// Count reports how many entries fall within scope.
func (m *Manager) Count(ctx context.Context, scope models.MemoryScope, scopeID string) (int64, error) {
	return m.backend.Count(ctx, scope, scopeID)
}

// Compact asks the backend to reclaim space and refresh its statistics.
func (m *Manager) Compact(ctx context.Context) error {
	return m.backend.Compact(ctx)
}

// Stats returns a snapshot of the knowledge store's current size and
// configuration.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	total, err := m.backend.Count(ctx, models.ScopeGlobal, "")
	if err != nil {
		return nil, err
	}

	return &Stats{
		TotalEntries:      total,
		Backend:           m.config.Backend,
		EmbeddingProvider: m.embedder.Name(),
		EmbeddingModel:    m.config.Embeddings.Model,
		Dimension:         m.config.Dimension,
	}, nil
}

// Close releases the backend's resources.
func (m *Manager) Close() error {
	return m.backend.Close()
}

// Stats describes the knowledge store's current size and configuration.
type Stats struct {
	TotalEntries      int64  `json:"total_entries"`
	Backend           string `json:"backend"`
	EmbeddingProvider string `json:"embedding_provider"`
	EmbeddingModel    string `json:"embedding_model"`
	Dimension         int    `json:"dimension"`
}

// embeddingCache is a fixed-capacity FIFO cache of query embeddings,
// avoiding a round trip to the embedding provider for repeated queries.
type embeddingCache struct {
	mu       sync.RWMutex
	items    map[string][]float32
	order    []string
	capacity int
}

func newEmbeddingCache(capacity int) *embeddingCache {
	return &embeddingCache{items: make(map[string][]float32), capacity: capacity}
}

func (c *embeddingCache) get(key string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

func (c *embeddingCache) set(key string, value []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, exists := c.items[key]
	c.items[key] = value
	if !exists {
		c.order = append(c.order, key)
		if len(c.order) > c.capacity {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.items, oldest)
		}
	}
}
