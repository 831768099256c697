package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ddalcu/agent-orcha/pkg/models"
)

// KnowledgeSearcher is the subset of *memory.Manager the knowledge_search
// tool depends on. The knowledge/vector store itself is an external
// collaborator; this is the narrow interface the core consumes.
type KnowledgeSearcher interface {
	Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error)
}

type knowledgeSearchArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// knowledgeSearchTool is the built-in "knowledge_search" tool.
type knowledgeSearchTool struct {
	searcher KnowledgeSearcher
	scope    models.MemoryScope
	scopeID  string
}

// NewKnowledgeSearch mints the knowledge_search built-in scoped to one
// agent (or session, or channel, whatever scopeID/scope the caller binds).
func NewKnowledgeSearch(searcher KnowledgeSearcher, scope models.MemoryScope, scopeID string) *knowledgeSearchTool {
	return &knowledgeSearchTool{searcher: searcher, scope: scope, scopeID: scopeID}
}

func (t *knowledgeSearchTool) Name() string { return "knowledge_search" }

func (t *knowledgeSearchTool) Description() string {
	return "Search this agent's knowledge base for relevant passages matching a query."
}

func (t *knowledgeSearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"required": ["query"],
		"properties": {
			"query": {"type": "string"},
			"limit": {"type": "number", "description": "Max results to return, default 5."}
		}
	}`)
}

func (t *knowledgeSearchTool) Invoke(ctx context.Context, args json.RawMessage) (models.Content, error) {
	var parsed knowledgeSearchArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &parsed); err != nil {
			return models.Content{}, fmt.Errorf("knowledge_search: invalid arguments: %w", err)
		}
	}
	if parsed.Limit <= 0 {
		parsed.Limit = 5
	}

	resp, err := t.searcher.Search(ctx, &models.SearchRequest{
		Query:   parsed.Query,
		Scope:   t.scope,
		ScopeID: t.scopeID,
		Limit:   parsed.Limit,
	})
	if err != nil {
		return models.Content{}, fmt.Errorf("knowledge_search: %w", err)
	}

	if len(resp.Results) == 0 {
		return models.TextContent("no matching knowledge found"), nil
	}

	var b strings.Builder
	for i, r := range resp.Results {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		fmt.Fprintf(&b, "[score %.3f] %s", r.Score, r.Entry.Content)
	}
	return models.TextContent(b.String()), nil
}
