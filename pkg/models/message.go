// Package models defines the core data types shared across the agent
// orchestration runtime: messages, tool calls, agent declarations, and
// invocation results.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem Role = "system"
	RoleHuman  Role = "human"
	RoleAI     Role = "ai"
	RoleTool   Role = "tool"
)

// PartKind discriminates the variants of Part.
type PartKind string

const (
	PartText  PartKind = "text"
	PartImage PartKind = "image"
)

// Part is one element of a multipart message content. It is a discriminated
// union: a text part carries Text, an image part carries ImageBase64 and
// MediaType. Do not model this as an inheritance hierarchy; callers switch
// on Kind.
type Part struct {
	Kind PartKind `json:"kind"`

	// Text holds the part's text when Kind == PartText.
	Text string `json:"text,omitempty"`

	// ImageBase64 holds the base64-encoded image bytes when Kind == PartImage.
	ImageBase64 string `json:"image_base64,omitempty"`

	// MediaType is the image's MIME type, e.g. "image/png".
	MediaType string `json:"media_type,omitempty"`
}

// TextPart constructs a text Part.
func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

// ImagePart constructs an image Part.
func ImagePart(base64Data, mediaType string) Part {
	return Part{Kind: PartImage, ImageBase64: base64Data, MediaType: mediaType}
}

// Content is a message's body: either plain text or a sequence of parts.
// Parts takes precedence over Text when non-nil, so a message can be
// constructed multipart even with empty text.
type Content struct {
	Text  string `json:"text,omitempty"`
	Parts []Part `json:"parts,omitempty"`
}

// TextContent builds a plain-text Content.
func TextContent(text string) Content {
	return Content{Text: text}
}

// PartsContent builds a multipart Content.
func PartsContent(parts []Part) Content {
	return Content{Parts: parts}
}

// ContentToText projects a Content down to its text, concatenating the text
// of every part in order. Image parts contribute nothing.
func ContentToText(c Content) string {
	if c.Parts == nil {
		return c.Text
	}
	var b strings.Builder
	for _, p := range c.Parts {
		if p.Kind == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// ToolCall represents a model's request to execute a tool. ID is assigned by
// the model adapter and correlates the subsequent tool Message via
// ToolCallID.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolResult is the output of a tool execution as appended to the message
// chain (IsError marks a recoverable tool failure surfaced back to the model).
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Message is the uniform representation of one turn in a conversation.
//
// Invariants: a tool message MUST carry ToolCallID matching a prior ai
// message's ToolCalls entry; an ai message MAY carry both Content and
// ToolCalls.
type Message struct {
	Role       Role       `json:"role"`
	Content    Content    `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// NewSystemMessage builds a system message from plain text.
func NewSystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: TextContent(text)}
}

// NewHumanMessage builds a human message from plain text.
func NewHumanMessage(text string) Message {
	return Message{Role: RoleHuman, Content: TextContent(text)}
}

// NewHumanMessageParts builds a multipart human message.
func NewHumanMessageParts(parts []Part) Message {
	return Message{Role: RoleHuman, Content: PartsContent(parts)}
}

// NewAIMessage builds an assistant message, optionally carrying tool calls.
func NewAIMessage(text string, toolCalls []ToolCall) Message {
	return Message{Role: RoleAI, Content: TextContent(text), ToolCalls: toolCalls}
}

// NewToolMessage builds a tool-result message correlated to a prior call.
func NewToolMessage(toolCallID, name, content string) Message {
	return Message{Role: RoleTool, Content: TextContent(content), ToolCallID: toolCallID, Name: name}
}

// Text returns the message's text projection via ContentToText.
func (m Message) Text() string {
	return ContentToText(m.Content)
}

// UsageMetadata reports token accounting for a single model turn or an
// aggregate across a run.
type UsageMetadata struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates another delta's usage into the receiver and returns the sum.
func (u UsageMetadata) Add(other UsageMetadata) UsageMetadata {
	return UsageMetadata{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}

// ChatModelResponse is the result of a single non-streaming model invocation.
type ChatModelResponse struct {
	Content   Content        `json:"content"`
	Reasoning string         `json:"reasoning,omitempty"`
	ToolCalls []ToolCall     `json:"tool_calls,omitempty"`
	Usage     *UsageMetadata `json:"usage_metadata,omitempty"`
}

// Attachment is an image supplied alongside an invocation's input. It is
// not persisted to the session.
type Attachment struct {
	Data      string `json:"data"`       // base64-encoded bytes
	MediaType string `json:"media_type"` // e.g. "image/png"
}

// LLMRef names a model configuration and an optional temperature override.
type LLMRef struct {
	Name        string   `yaml:"name" json:"name"`
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
}

// PromptConfig is an agent's system prompt template.
type PromptConfig struct {
	System         string   `yaml:"system" json:"system"`
	InputVariables []string `yaml:"inputVariables" json:"inputVariables,omitempty"`
}

// ToolSource enumerates where a declared tool resolves from.
type ToolSource string

const (
	ToolSourceMCP       ToolSource = "mcp"
	ToolSourceKnowledge ToolSource = "knowledge"
	ToolSourceBuiltin   ToolSource = "builtin"
	ToolSourceCustom    ToolSource = "custom"
	ToolSourceSandbox   ToolSource = "sandbox"
	ToolSourceProject   ToolSource = "project"
)

// ToolRef is one entry of an agent's declared tool list.
type ToolRef struct {
	Name   string         `yaml:"name" json:"name"`
	Source ToolSource     `yaml:"source,omitempty" json:"source,omitempty"`
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// SkillsConfig selects which skills an agent loads: either "all" or an
// explicit name list.
type SkillsConfig struct {
	Mode  string   `yaml:"mode,omitempty" json:"mode,omitempty"`
	Names []string `yaml:"names,omitempty" json:"names,omitempty"`
}

// OutputFormat enumerates an agent's declared output shape.
type OutputFormat string

const (
	OutputText       OutputFormat = "text"
	OutputJSON       OutputFormat = "json"
	OutputStructured OutputFormat = "structured"
)

// OutputConfig declares the agent's response shape and, for structured
// output, the JSON Schema it must conform to.
type OutputConfig struct {
	Format OutputFormat    `yaml:"format" json:"format"`
	Schema json.RawMessage `yaml:"schema,omitempty" json:"schema,omitempty"`
}

// MemoryConfig enables long-term memory and bounds its size.
type MemoryConfig struct {
	Enabled  bool `yaml:"enabled" json:"enabled"`
	MaxLines int  `yaml:"maxLines,omitempty" json:"maxLines,omitempty"`
}

// IntegrationRef declares one integration connector an agent is bound to.
type IntegrationRef struct {
	Type   string         `yaml:"type" json:"type"`
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// TriggerRef declares one scheduled or webhook trigger bound to an agent.
type TriggerRef struct {
	Type  string         `yaml:"type" json:"type"` // "cron" | "webhook"
	Cron  string         `yaml:"cron,omitempty" json:"cron,omitempty"`
	Path  string         `yaml:"path,omitempty" json:"path,omitempty"`
	Input map[string]any `yaml:"input,omitempty" json:"input,omitempty"`
}

// AgentDefinition is the declarative record an Orchestrator loads and an
// AgentExecutor is built from. Definitions are immutable within a run.
type AgentDefinition struct {
	Name         string           `yaml:"name" json:"name"`
	Description  string           `yaml:"description,omitempty" json:"description,omitempty"`
	Version      string           `yaml:"version,omitempty" json:"version,omitempty"`
	LLM          LLMRef           `yaml:"llm" json:"llm"`
	Prompt       PromptConfig     `yaml:"prompt" json:"prompt"`
	Tools        []ToolRef        `yaml:"tools,omitempty" json:"tools,omitempty"`
	Skills       *SkillsConfig    `yaml:"skills,omitempty" json:"skills,omitempty"`
	Output       *OutputConfig    `yaml:"output,omitempty" json:"output,omitempty"`
	Memory       *MemoryConfig    `yaml:"memory,omitempty" json:"memory,omitempty"`
	Integrations []IntegrationRef `yaml:"integrations,omitempty" json:"integrations,omitempty"`
	Triggers     []TriggerRef     `yaml:"triggers,omitempty" json:"triggers,omitempty"`
}

// NormalizeVersion applies the "1.0.0" default to an unset Version.
func (d *AgentDefinition) NormalizeVersion() {
	if d.Version == "" {
		d.Version = "1.0.0"
	}
}

// ToolCallSummary is one line of a persisted <tool_history> block.
type ToolCallSummary struct {
	Name   string `json:"name"`
	Input  string `json:"input"`
	Output string `json:"output"`
}

// ResultMetadata accompanies every AgentResult.
type ResultMetadata struct {
	DurationMS            int64             `json:"duration_ms"`
	ToolCalls              []ToolCallSummary `json:"toolCalls"`
	SessionID              string            `json:"sessionId,omitempty"`
	MessagesInSession       int              `json:"messagesInSession,omitempty"`
	StructuredOutputValid  *bool             `json:"structuredOutputValid,omitempty"`
}

// AgentResult is the outcome of one AgentExecutor invocation. Output is
// either a string (text/unstructured) or a decoded JSON object (structured).
type AgentResult struct {
	Output   any            `json:"output"`
	Metadata ResultMetadata `json:"metadata"`
}

// ConversationSession is the FIFO-bounded, TTL-tracked per-session message
// history owned by the ConversationStore.
type ConversationSession struct {
	Messages       []Message `json:"messages"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}
