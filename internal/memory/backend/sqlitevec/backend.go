// Package sqlitevec is the default knowledge-store backend: a pure-Go
// SQLite database holding memory rows plus their embeddings, searched by
// brute-force cosine similarity rather than a native vector index.
//
// It trades index-time scalability for zero external dependencies: no
// vec0 extension, no server process, just a single file (or :memory:)
// reachable through modernc.org/sqlite. Good for single-agent workspaces
// and tests; large shared knowledge bases should run the pgvector backend
// instead.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ddalcu/agent-orcha/internal/memory/backend"
	"github.com/ddalcu/agent-orcha/pkg/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const defaultDimension = 1536

// Backend stores memory entries in a single SQLite table and ranks search
// results by scanning every scoped row and scoring it against the query
// vector in process.
type Backend struct {
	db        *sql.DB
	dimension int
}

var _ backend.Backend = (*Backend)(nil)

// Config points the backend at a database file (or ":memory:") and
// records the embedding width rows are expected to carry.
type Config struct {
	Path      string
	Dimension int
}

// New opens (or creates) the SQLite database at cfg.Path and migrates its
// schema.
func New(cfg Config) (*Backend, error) {
	if cfg.Path == "" {
		cfg.Path = ":memory:"
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = defaultDimension
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("memory/backend/sqlitevec: open %s: %w", cfg.Path, err)
	}

	b := &Backend{db: db, dimension: cfg.Dimension}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) migrate() error {
	_, err := b.db.Exec(`
		CREATE TABLE IF NOT EXISTS memory_entries (
			id TEXT PRIMARY KEY,
			session_id TEXT,
			channel_id TEXT,
			agent_id TEXT,
			content TEXT NOT NULL,
			metadata TEXT,
			embedding BLOB,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("memory/backend/sqlitevec: create table: %w", err)
	}

	for _, stmt := range []string{
		"CREATE INDEX IF NOT EXISTS idx_memory_entries_session ON memory_entries(session_id)",
		"CREATE INDEX IF NOT EXISTS idx_memory_entries_channel ON memory_entries(channel_id)",
		"CREATE INDEX IF NOT EXISTS idx_memory_entries_agent ON memory_entries(agent_id)",
	} {
		if _, err := b.db.Exec(stmt); err != nil {
			return fmt.Errorf("memory/backend/sqlitevec: create index: %w", err)
		}
	}
	return nil
}

// Index upserts each entry, assigning an id and timestamps where missing.
func (b *Backend) Index(ctx context.Context, entries []*models.MemoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memory/backend/sqlitevec: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO memory_entries (id, session_id, channel_id, agent_id, content, metadata, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			metadata = excluded.metadata,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("memory/backend/sqlitevec: prepare insert: %w", err)
	}
	defer stmt.Close()

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
			return fmt.Errorf("memory/backend/sqlitevec: marshal metadata for %s: %w", e.ID, err)
		}

		_, err = stmt.ExecContext(ctx,
			e.ID, toNullString(e.SessionID), toNullString(e.ChannelID), toNullString(e.AgentID),
			e.Content, string(metadata), encodeVector(e.Embedding), e.CreatedAt, e.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("memory/backend/sqlitevec: upsert %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("memory/backend/sqlitevec: commit: %w", err)
	}
	return nil
}

// Search loads every row in scope and ranks it by cosine similarity
// against queryEmbedding. opts.SearchMode and opts.Query are accepted but
// ignored: this backend only ever scores by vector distance, leaving
// lexical and hybrid ranking to backends with a full-text index.
func (b *Backend) Search(ctx context.Context, queryEmbedding []float32, opts *backend.SearchOptions) ([]*models.SearchResult, error) {
	if opts == nil {
		opts = &backend.SearchOptions{}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	query, args := scopedSelect(opts.Scope, opts.ScopeID)
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("memory/backend/sqlitevec: search query: %w", err)
	}
	defer rows.Close()

	var candidates []*models.SearchResult
	for rows.Next() {
		entry, rawVector, err := scanRow(rows)
		if err != nil {
			return nil, err
		}

		score := cosineSimilarity(queryEmbedding, decodeVector(rawVector))
		if opts.Threshold > 0 && score < opts.Threshold {
			continue
		}
		candidates = append(candidates, &models.SearchResult{Entry: entry, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory/backend/sqlitevec: scan results: %w", err)
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// Delete removes rows by id inside one transaction.
func (b *Backend) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memory/backend/sqlitevec: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "DELETE FROM memory_entries WHERE id = ?")
	if err != nil {
		return fmt.Errorf("memory/backend/sqlitevec: prepare delete: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("memory/backend/sqlitevec: delete %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Count reports how many rows fall within the given scope; an empty
// scope counts every row.
func (b *Backend) Count(ctx context.Context, scope models.MemoryScope, scopeID string) (int64, error) {
	query, args := scopedSelect(scope, scopeID)
	query = "SELECT COUNT(*) FROM (" + query + ")"

	var count int64
	if err := b.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("memory/backend/sqlitevec: count: %w", err)
	}
	return count, nil
}

// Compact reclaims space freed by deletes and updates.
func (b *Backend) Compact(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, "VACUUM")
	return err
}

func (b *Backend) Close() error { return b.db.Close() }

func scopedSelect(scope models.MemoryScope, scopeID string) (string, []any) {
	query := "SELECT id, session_id, channel_id, agent_id, content, metadata, embedding, created_at, updated_at FROM memory_entries"
	var args []any

	switch scope {
	case models.ScopeSession:
		query += " WHERE session_id = ?"
		args = append(args, scopeID)
	case models.ScopeChannel:
		query += " WHERE channel_id = ?"
		args = append(args, scopeID)
	case models.ScopeAgent:
		query += " WHERE agent_id = ?"
		args = append(args, scopeID)
	}
	return query, args
}

func scanRow(rows *sql.Rows) (*models.MemoryEntry, []byte, error) {
	var entry models.MemoryEntry
	var sessionID, channelID, agentID sql.NullString
	var metadataJSON string
	var rawVector []byte

	err := rows.Scan(
		&entry.ID, &sessionID, &channelID, &agentID,
		&entry.Content, &metadataJSON, &rawVector,
		&entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("memory/backend/sqlitevec: scan row: %w", err)
	}

	entry.SessionID = sessionID.String
	entry.ChannelID = channelID.String
	entry.AgentID = agentID.String

	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &entry.Metadata); err != nil {
			return nil, nil, fmt.Errorf("memory/backend/sqlitevec: unmarshal metadata for %s: %w", entry.ID, err)
		}
	}
	return &entry, rawVector, nil
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// encodeVector packs a []float32 as little-endian IEEE-754 bytes.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

// cosineSimilarity returns 0 for mismatched lengths or zero vectors
// rather than NaN or a panic.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
