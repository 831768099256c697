package models

import (
	"time"
)

// MemoryEntry is one row of the knowledge store: a piece of text, its
// embedding, and the scope it was captured under.
type MemoryEntry struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`

	Content  string         `json:"content"`
	Metadata MemoryMetadata `json:"metadata"`

	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MemoryMetadata carries provenance and free-form tags alongside an entry.
type MemoryMetadata struct {
	Source string         `json:"source"` // "message", "document", "note"
	Role   string         `json:"role"`   // "user", "assistant"
	Tags   []string       `json:"tags"`
	Extra  map[string]any `json:"extra"`
}

// MemoryScope narrows a search or count to one slice of the knowledge store.
type MemoryScope string

const (
	// ScopeSession limits memory to the current session.
	ScopeSession MemoryScope = "session"
	// ScopeChannel limits memory to the current channel.
	ScopeChannel MemoryScope = "channel"
	// ScopeAgent limits memory to the current agent.
	ScopeAgent MemoryScope = "agent"
	// ScopeGlobal applies no session/channel/agent scope. The sqlitevec
	// backend then covers every entry; the pgvector backend covers only
	// entries with no session, channel, or agent id set.
	ScopeGlobal MemoryScope = "global"
)

// SearchRequest is the knowledge_search tool's input: a query plus the
// scope and ranking knobs to apply on top of the Manager's defaults.
type SearchRequest struct {
	Query     string         `json:"query"`
	Scope     MemoryScope    `json:"scope"`
	ScopeID   string         `json:"scope_id"`
	Limit     int            `json:"limit"`
	Threshold float32        `json:"threshold"` // minimum similarity, 0-1
	Filters   map[string]any `json:"filters"`
}

// SearchResult pairs a stored entry with the score it earned against the
// query that produced it.
type SearchResult struct {
	Entry      *MemoryEntry `json:"entry"`
	Score      float32      `json:"score"`
	Highlights []string     `json:"highlights"`
}

// SearchResponse is the ranked result set returned to the caller, along
// with how long the backend took to produce it.
type SearchResponse struct {
	Results    []*SearchResult `json:"results"`
	TotalCount int             `json:"total_count"`
	QueryTime  time.Duration   `json:"query_time"`
}
