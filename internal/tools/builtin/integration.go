package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ddalcu/agent-orcha/pkg/models"
)

// Poster is the subset of an integration connector the post/send built-ins
// depend on: push a message out through whatever external surface the
// connector binds (a chat channel or a mailbox).
type Poster interface {
	// Post sends text to the connector's bound conversation surface. The
	// recipient (channel, mailbox address) is implicit in the connector
	// instance; the tool only supplies the text.
	Post(ctx context.Context, text string) error
}

type postArgs struct {
	Text string `json:"text"`
}

// integrationPostTool is the built-in auto-injected when an agent declares
// integrations and doesn't already have a same-named tool: it lets the
// model proactively push a message to its bound integration outside the
// normal reply path (e.g. posting an update mid-run).
type integrationPostTool struct {
	name   string
	poster Poster
}

// NewIntegrationPost mints a post/send built-in named toolName against
// poster. The orchestrator mints one per agent, bound to its first declared
// integration.
func NewIntegrationPost(toolName string, poster Poster) *integrationPostTool {
	return &integrationPostTool{name: toolName, poster: poster}
}

func (t *integrationPostTool) Name() string { return t.name }

func (t *integrationPostTool) Description() string {
	return "Send a message to this agent's bound integration (chat channel or mailbox) immediately, outside the normal reply."
}

func (t *integrationPostTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"required": ["text"],
		"properties": {
			"text": {"type": "string", "description": "The message text to send."}
		}
	}`)
}

func (t *integrationPostTool) Invoke(ctx context.Context, args json.RawMessage) (models.Content, error) {
	var parsed postArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &parsed); err != nil {
			return models.Content{}, fmt.Errorf("%s: invalid arguments: %w", t.name, err)
		}
	}
	if err := t.poster.Post(ctx, parsed.Text); err != nil {
		return models.Content{}, fmt.Errorf("%s: %w", t.name, err)
	}
	return models.TextContent("sent"), nil
}
