// Package pgvector is the knowledge store's alternate backend for shared,
// multi-agent deployments: a Postgres table holding memory rows plus a
// native vector column, searched through the pgvector extension's
// cosine-distance operator, full-text ranking, or both blended together.
package pgvector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ddalcu/agent-orcha/internal/memory/backend"
	"github.com/ddalcu/agent-orcha/pkg/models"
)

const defaultDimension = 1536
const defaultHybridAlpha = 0.7

// rrfK is the reciprocal-rank-fusion smoothing constant used to blend
// vector and full-text ranks in hybrid search.
const rrfK = 60

// Backend stores memory entries in Postgres and ranks search results
// through the pgvector extension (vector distance), tsvector (BM25-style
// ranking), or a reciprocal-rank-fusion blend of both.
type Backend struct {
	pool      *pgxpool.Pool
	dimension int
}

var _ backend.Backend = (*Backend)(nil)

// Config points the backend at a Postgres database and records the
// embedding width rows are expected to carry.
type Config struct {
	DSN       string
	Dimension int
}

// New connects to Postgres, enables the pgvector extension, and migrates
// the memory_entries table.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("memory/backend/pgvector: DSN is required")
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = defaultDimension
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("memory/backend/pgvector: connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("memory/backend/pgvector: ping: %w", err)
	}

	b := &Backend{pool: pool, dimension: cfg.Dimension}
	if err := b.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memory_entries (
			id TEXT PRIMARY KEY,
			session_id TEXT,
			channel_id TEXT,
			agent_id TEXT,
			content TEXT NOT NULL,
			content_tsv TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', content)) STORED,
			metadata JSONB,
			embedding vector(%d),
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`, b.dimension),
		`CREATE INDEX IF NOT EXISTS idx_memory_entries_session ON memory_entries(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_entries_channel ON memory_entries(channel_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_entries_agent ON memory_entries(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_entries_tsv ON memory_entries USING gin(content_tsv)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_entries_embedding ON memory_entries USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if _, err := b.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("memory/backend/pgvector: migrate: %w", err)
		}
	}
	return nil
}

// Index upserts each entry, assigning an id and timestamps where missing.
func (b *Backend) Index(ctx context.Context, entries []*models.MemoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("memory/backend/pgvector: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		e.UpdatedAt = now

		metadata, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("memory/backend/pgvector: marshal metadata for %s: %w", e.ID, err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO memory_entries (id, session_id, channel_id, agent_id, content, metadata, embedding, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7::vector, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				session_id = EXCLUDED.session_id,
				channel_id = EXCLUDED.channel_id,
				agent_id = EXCLUDED.agent_id,
				content = EXCLUDED.content,
				metadata = EXCLUDED.metadata,
				embedding = EXCLUDED.embedding,
				updated_at = EXCLUDED.updated_at
		`, e.ID, nullable(e.SessionID), nullable(e.ChannelID), nullable(e.AgentID),
			e.Content, string(metadata), serializeVector(e.Embedding), e.CreatedAt, e.UpdatedAt)
		if err != nil {
			return fmt.Errorf("memory/backend/pgvector: upsert %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("memory/backend/pgvector: commit: %w", err)
	}
	return nil
}

// Search dispatches to the ranking strategy named by opts.SearchMode,
// defaulting to pure vector similarity.
func (b *Backend) Search(ctx context.Context, queryEmbedding []float32, opts *backend.SearchOptions) ([]*models.SearchResult, error) {
	if opts == nil {
		opts = &backend.SearchOptions{}
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	switch opts.SearchMode {
	case backend.SearchModeBM25:
		return b.searchBM25(ctx, opts)
	case backend.SearchModeHybrid:
		return b.searchHybrid(ctx, queryEmbedding, opts)
	default:
		return b.searchVector(ctx, queryEmbedding, opts)
	}
}

func (b *Backend) searchVector(ctx context.Context, queryEmbedding []float32, opts *backend.SearchOptions) ([]*models.SearchResult, error) {
	queryVec := serializeVector(queryEmbedding)

	query := `
		SELECT id, session_id, channel_id, agent_id, content, metadata, embedding, created_at, updated_at,
			1 - (embedding <=> $1::vector) AS score
		FROM memory_entries
		WHERE embedding IS NOT NULL
	`
	args := []any{queryVec}
	query, args = appendScopeFilter(query, args, opts.Scope, opts.ScopeID)

	if opts.Threshold > 0 {
		query += fmt.Sprintf(" AND (1 - (embedding <=> $1::vector)) >= $%d", len(args)+1)
		args = append(args, opts.Threshold)
	}

	query += fmt.Sprintf(" ORDER BY embedding <=> $1::vector ASC LIMIT $%d", len(args)+1)
	args = append(args, opts.Limit)

	return b.runSearch(ctx, query, args)
}

func (b *Backend) searchBM25(ctx context.Context, opts *backend.SearchOptions) ([]*models.SearchResult, error) {
	if opts.Query == "" {
		return nil, fmt.Errorf("memory/backend/pgvector: BM25 search requires opts.Query")
	}

	query := `
		SELECT id, session_id, channel_id, agent_id, content, metadata, embedding, created_at, updated_at,
			ts_rank_cd(content_tsv, plainto_tsquery('english', $1)) AS score
		FROM memory_entries
		WHERE content_tsv @@ plainto_tsquery('english', $1)
	`
	args := []any{opts.Query}
	query, args = appendScopeFilter(query, args, opts.Scope, opts.ScopeID)

	if opts.Threshold > 0 {
		query += fmt.Sprintf(" AND ts_rank_cd(content_tsv, plainto_tsquery('english', $1)) >= $%d", len(args)+1)
		args = append(args, opts.Threshold)
	}

	query += fmt.Sprintf(" ORDER BY score DESC LIMIT $%d", len(args)+1)
	args = append(args, opts.Limit)

	return b.runSearch(ctx, query, args)
}

// searchHybrid blends vector and BM25 rankings through reciprocal rank
// fusion: score(d) = alpha/(rrfK+vecRank(d)) + (1-alpha)/(rrfK+bm25Rank(d)),
// falling back to pure vector search when opts.Query is empty.
func (b *Backend) searchHybrid(ctx context.Context, queryEmbedding []float32, opts *backend.SearchOptions) ([]*models.SearchResult, error) {
	if opts.Query == "" {
		return b.searchVector(ctx, queryEmbedding, opts)
	}

	alpha := opts.HybridAlpha
	if alpha <= 0 {
		alpha = defaultHybridAlpha
	}
	queryVec := serializeVector(queryEmbedding)

	query := fmt.Sprintf(`
		WITH vector_ranked AS (
			SELECT id, session_id, channel_id, agent_id, content, metadata, embedding, created_at, updated_at,
				ROW_NUMBER() OVER (ORDER BY embedding <=> $1::vector ASC) AS rnk
			FROM memory_entries
			WHERE embedding IS NOT NULL
		),
		bm25_ranked AS (
			SELECT id, ROW_NUMBER() OVER (ORDER BY ts_rank_cd(content_tsv, plainto_tsquery('english', $2)) DESC) AS rnk
			FROM memory_entries
			WHERE content_tsv @@ plainto_tsquery('english', $2)
		),
		combined AS (
			SELECT v.id, v.session_id, v.channel_id, v.agent_id, v.content, v.metadata, v.embedding, v.created_at, v.updated_at,
				($3 * (1.0 / (%d + v.rnk))) + ((1 - $3) * COALESCE(1.0 / (%d + b.rnk), 0)) AS score
			FROM vector_ranked v
			LEFT JOIN bm25_ranked b ON v.id = b.id
		)
		SELECT id, session_id, channel_id, agent_id, content, metadata, embedding, created_at, updated_at, score
		FROM combined
		WHERE 1=1
	`, rrfK, rrfK)
	args := []any{queryVec, opts.Query, alpha}
	query, args = appendScopeFilter(query, args, opts.Scope, opts.ScopeID)

	query += fmt.Sprintf(" ORDER BY score DESC LIMIT $%d", len(args)+1)
	args = append(args, opts.Limit)

	return b.runSearch(ctx, query, args)
}

func appendScopeFilter(query string, args []any, scope models.MemoryScope, scopeID string) (string, []any) {
	switch scope {
	case models.ScopeSession:
		args = append(args, scopeID)
		query += fmt.Sprintf(" AND session_id = $%d", len(args))
	case models.ScopeChannel:
		args = append(args, scopeID)
		query += fmt.Sprintf(" AND channel_id = $%d", len(args))
	case models.ScopeAgent:
		args = append(args, scopeID)
		query += fmt.Sprintf(" AND agent_id = $%d", len(args))
	case models.ScopeGlobal:
		query += " AND session_id IS NULL AND channel_id IS NULL AND agent_id IS NULL"
	}
	return query, args
}

func (b *Backend) runSearch(ctx context.Context, query string, args []any) ([]*models.SearchResult, error) {
	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("memory/backend/pgvector: search: %w", err)
	}
	defer rows.Close()

	var results []*models.SearchResult
	for rows.Next() {
		entry, score, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, &models.SearchResult{Entry: entry, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory/backend/pgvector: iterate results: %w", err)
	}
	return results, nil
}

// Delete removes entries by id in one statement.
func (b *Backend) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := b.pool.Exec(ctx, "DELETE FROM memory_entries WHERE id = ANY($1)", ids)
	if err != nil {
		return fmt.Errorf("memory/backend/pgvector: delete: %w", err)
	}
	return nil
}

// Count reports how many rows fall within the given scope; an empty
// scope counts every row.
func (b *Backend) Count(ctx context.Context, scope models.MemoryScope, scopeID string) (int64, error) {
	query := "SELECT COUNT(*) FROM memory_entries WHERE 1=1"
	var args []any
	query, args = appendScopeFilter(query, args, scope, scopeID)

	var count int64
	if err := b.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("memory/backend/pgvector: count: %w", err)
	}
	return count, nil
}

// Compact runs VACUUM ANALYZE to refresh planner statistics.
func (b *Backend) Compact(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, "VACUUM ANALYZE memory_entries")
	return err
}

// Close releases the connection pool this backend opened.
func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanRow(rows pgx.Rows) (*models.MemoryEntry, float32, error) {
	var entry models.MemoryEntry
	var sessionID, channelID, agentID *string
	var metadataJSON []byte
	var rawVector *string
	var score float64

	err := rows.Scan(
		&entry.ID, &sessionID, &channelID, &agentID,
		&entry.Content, &metadataJSON, &rawVector,
		&entry.CreatedAt, &entry.UpdatedAt, &score,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("memory/backend/pgvector: scan row: %w", err)
	}

	if sessionID != nil {
		entry.SessionID = *sessionID
	}
	if channelID != nil {
		entry.ChannelID = *channelID
	}
	if agentID != nil {
		entry.AgentID = *agentID
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, 0, fmt.Errorf("memory/backend/pgvector: unmarshal metadata for %s: %w", entry.ID, err)
		}
	}
	if rawVector != nil {
		entry.Embedding = parseVector(*rawVector)
	}

	return &entry, float32(score), nil
}

// serializeVector formats a []float32 the way pgvector's text input
// accepts: "[0.1,0.2,0.3]". An empty vector serializes to nil, which is
// bound as SQL NULL.
func serializeVector(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func parseVector(s string) []float32 {
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	v := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil
		}
		v[i] = float32(f)
	}
	return v
}
