package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ddalcu/agent-orcha/internal/chatmodel"
	"github.com/ddalcu/agent-orcha/internal/memory"
	"github.com/ddalcu/agent-orcha/internal/react"
	"github.com/ddalcu/agent-orcha/internal/sessions"
	"github.com/ddalcu/agent-orcha/internal/tools"
	"github.com/ddalcu/agent-orcha/internal/tools/builtin"
	"github.com/ddalcu/agent-orcha/pkg/models"
)

// LongTermMemory is the subset of *memory.LongTermMemory the executor
// depends on.
type LongTermMemory interface {
	Load(agentName string) (string, error)
	Save(agentName, content string, maxLines int) error
}

// SkillResolver resolves an agent's declared skills to a system-prompt
// fragment. It is an external collaborator (skills live in the workspace);
// a nil SkillResolver simply means the agent gets no skill block even when
// it declares skills.
type SkillResolver interface {
	Resolve(ctx context.Context, def models.AgentDefinition) (block string, sandboxRequired bool, err error)
}

// Deps bundles everything an Executor needs beyond the agent definition
// itself.
type Deps struct {
	Models  *chatmodel.Factory
	Tools   *tools.Registry
	Memory  LongTermMemory // nil disables long-term memory even if declared
	Skills  SkillResolver  // nil disables skill resolution even if declared
	Session *sessions.Store
	Logger  *slog.Logger
}

// Executor is the per-agent invocation supervisor: assembled prompt,
// resolved tools, wrapped model. One Executor is built per AgentDefinition
// and reused across invocations; invocations for different sessions may run
// concurrently.
type Executor struct {
	def    models.AgentDefinition
	deps   Deps
	logger *slog.Logger

	systemPrompt string
	model        chatmodel.Model
	toolSet      tools.Set

	memoryEnabled bool
	memoryMaxLines int

	structured     bool
	structuredSchema json.RawMessage
}

// New builds an Executor for def, performing the full §4.3 construction
// sequence: skills -> memory block -> model factory -> structured-output
// wrap -> tool resolution -> built-in injection.
func New(ctx context.Context, def models.AgentDefinition, deps Deps) (*Executor, error) {
	def.NormalizeVersion()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("agent", def.Name)

	systemPrompt := def.Prompt.System
	sandboxRequired := false

	if def.Skills != nil && deps.Skills != nil {
		block, needsSandbox, err := deps.Skills.Resolve(ctx, def)
		if err != nil {
			return nil, fmt.Errorf("executor %q: resolving skills: %w", def.Name, err)
		}
		if block != "" {
			systemPrompt = systemPrompt + "\n\n" + block
		}
		sandboxRequired = needsSandbox
	}

	memoryEnabled := def.Memory != nil && def.Memory.Enabled && deps.Memory != nil
	maxLines := 0
	if memoryEnabled {
		maxLines = def.Memory.MaxLines
		blob, err := deps.Memory.Load(def.Name)
		if err != nil {
			return nil, fmt.Errorf("executor %q: loading long-term memory: %w", def.Name, err)
		}
		systemPrompt = systemPrompt + "\n\n" + memory.InstructionBlock(blob, maxLines)
	}

	if deps.Models == nil {
		return nil, fmt.Errorf("executor %q: no model factory configured", def.Name)
	}
	model, err := deps.Models.Get(ctx, def.LLM.Name, def.LLM.Temperature)
	if err != nil {
		return nil, fmt.Errorf("executor %q: resolving model: %w", def.Name, err)
	}

	structured := false
	var schema json.RawMessage
	if def.Output != nil && def.Output.Format == models.OutputStructured {
		if len(def.Output.Schema) > 0 {
			wrapped := model.WithStructuredOutput(def.Output.Schema)
			if wrapped == nil {
				logger.Warn("structured output wrap failed, falling back to unwrapped model")
			} else {
				model = wrapped
				structured = true
				schema = def.Output.Schema
			}
		} else {
			logger.Warn("structured output configured without a schema; leaving model unwrapped")
		}
	}

	var toolSet tools.Set
	if deps.Tools != nil {
		toolSet, err = deps.Tools.Resolve(ctx, def.Tools)
		if err != nil {
			return nil, fmt.Errorf("executor %q: resolving tools: %w", def.Name, err)
		}
	} else {
		toolSet = tools.Set{}
	}

	if memoryEnabled {
		toolSet.Add(builtin.NewSaveMemory(deps.Memory, def.Name, maxLines))
	}
	if sandboxRequired {
		toolSet.Add(builtin.NewSandboxExec("", 0))
	}
	if len(def.Integrations) > 0 {
		// Integration post/send built-ins are injected by the orchestrator,
		// which owns the live connector instances; see orchestrator.go.
	}

	if len(toolSet) > 0 {
		model = model.BindTools(toolSpecs(toolSet))
	}

	return &Executor{
		def:              def,
		deps:             deps,
		logger:           logger,
		systemPrompt:     systemPrompt,
		model:            model,
		toolSet:          toolSet,
		memoryEnabled:    memoryEnabled,
		memoryMaxLines:   maxLines,
		structured:       structured,
		structuredSchema: schema,
	}, nil
}

// Tools exposes the executor's resolved tool set so the orchestrator can
// inject integration-bound built-ins before the first invocation.
func (e *Executor) Tools() tools.Set { return e.toolSet }

// RebindTools re-derives the model's tool binding after the tool set has
// been mutated (e.g. integration built-ins added post-construction).
func (e *Executor) RebindTools() {
	if len(e.toolSet) > 0 {
		e.model = e.model.BindTools(toolSpecs(e.toolSet))
	}
}

func toolSpecs(set tools.Set) []chatmodel.ToolSpec {
	specs := make([]chatmodel.ToolSpec, 0, len(set))
	for _, t := range set {
		specs = append(specs, chatmodel.ToolSpec{Name: t.Name(), Description: t.Description(), Schema: t.Schema()})
	}
	return specs
}

// InvokeOptions is the executor's invocation input: either just the input
// variables map (SessionID empty, no cancellation beyond ctx) or the full
// options record.
type InvokeOptions struct {
	Input       map[string]any
	SessionID   string
	Attachments []models.Attachment
}

// Invoke runs one non-streaming turn.
func (e *Executor) Invoke(ctx context.Context, opts InvokeOptions) (*models.AgentResult, error) {
	start := time.Now()

	result, err := e.invoke(ctx, opts)
	if err != nil {
		if err == react.ErrCancelled || ctx.Err() != nil {
			return &models.AgentResult{
				Output: "Agent error: Request was aborted",
				Metadata: models.ResultMetadata{
					DurationMS: time.Since(start).Milliseconds(),
					SessionID:  opts.SessionID,
				},
			}, nil
		}
		return &models.AgentResult{
			Output: fmt.Sprintf("Agent error: %s", err.Error()),
			Metadata: models.ResultMetadata{
				DurationMS: time.Since(start).Milliseconds(),
				SessionID:  opts.SessionID,
			},
		}, nil
	}
	result.Metadata.DurationMS = time.Since(start).Milliseconds()
	return result, nil
}

func (e *Executor) invoke(ctx context.Context, opts InvokeOptions) (*models.AgentResult, error) {
	text := renderUserMessage(e.def.Prompt.InputVariables, opts.Input)
	human := models.NewHumanMessage(text)
	if len(opts.Attachments) > 0 {
		parts := []models.Part{models.TextPart(text)}
		for _, a := range opts.Attachments {
			parts = append(parts, models.ImagePart(a.Data, a.MediaType))
		}
		human = models.NewHumanMessageParts(parts)
	}

	if len(e.toolSet) == 0 {
		return e.invokeWithoutTools(ctx, opts, human)
	}
	return e.invokeWithTools(ctx, opts, human)
}

func (e *Executor) invokeWithoutTools(ctx context.Context, opts InvokeOptions, human models.Message) (*models.AgentResult, error) {
	history := e.history(opts.SessionID)
	e.persistHuman(opts.SessionID, human)

	all := append(append([]models.Message{}, history...), human)
	resp, err := e.model.Invoke(ctx, e.systemPrompt, all)
	if err != nil {
		return nil, err
	}

	output, valid := e.extractOutput(models.ContentToText(resp.Content))
	e.persistAI(opts.SessionID, e.outputText(output))

	return &models.AgentResult{
		Output: output,
		Metadata: models.ResultMetadata{
			ToolCalls:             []models.ToolCallSummary{},
			SessionID:             opts.SessionID,
			MessagesInSession:     e.sessionLen(opts.SessionID),
			StructuredOutputValid: validPtr(e.structured, valid),
		},
	}, nil
}

func (e *Executor) invokeWithTools(ctx context.Context, opts InvokeOptions, human models.Message) (*models.AgentResult, error) {
	history := e.history(opts.SessionID)
	e.persistHuman(opts.SessionID, human)

	all := append(append([]models.Message{}, history...), human)
	messages, _, err := (react.Loop{}).Run(ctx, e.model, e.toolSet, e.systemPrompt, all, 0)
	if err != nil {
		// Persist whatever was accumulated before surfacing the error, same
		// discipline as the streaming cancellation path.
		e.persistPartial(opts.SessionID, messages)
		return nil, err
	}

	final := lastAIMessage(messages)
	finalText := ""
	if final != nil {
		finalText = final.Text()
	}

	output, valid := e.extractOutput(finalText)
	summaries := buildToolHistory(messages)
	historyBlock := renderToolHistoryBlock(summaries)

	persisted := e.outputText(output)
	if historyBlock != "" {
		persisted = persisted + "\n\n" + historyBlock
	}
	e.persistAI(opts.SessionID, persisted)

	return &models.AgentResult{
		Output: output,
		Metadata: models.ResultMetadata{
			ToolCalls:             toolCallSummaries(summaries),
			SessionID:             opts.SessionID,
			MessagesInSession:     e.sessionLen(opts.SessionID),
			StructuredOutputValid: validPtr(e.structured, valid),
		},
	}, nil
}

func (e *Executor) extractOutput(rawText string) (any, bool) {
	if !e.structured {
		return rawText, false
	}
	obj := extractStructuredOutput(rawText)
	return obj, validateStructuredOutput(e.structuredSchema, obj)
}

func (e *Executor) outputText(output any) string {
	if s, ok := output.(string); ok {
		return s
	}
	b, err := json.Marshal(output)
	if err != nil {
		return fmt.Sprint(output)
	}
	return string(b)
}

func validPtr(structured, valid bool) *bool {
	if !structured {
		return nil
	}
	v := valid
	return &v
}

func (e *Executor) history(sessionID string) []models.Message {
	if sessionID == "" || e.deps.Session == nil {
		return nil
	}
	return e.deps.Session.Get(sessionID)
}

func (e *Executor) persistHuman(sessionID string, msg models.Message) {
	if sessionID == "" || e.deps.Session == nil {
		return
	}
	// Text-only: attachments are never persisted to the session.
	e.deps.Session.Add(sessionID, models.NewHumanMessage(msg.Text()))
}

func (e *Executor) persistAI(sessionID, text string) {
	if sessionID == "" || e.deps.Session == nil {
		return
	}
	e.deps.Session.Add(sessionID, models.NewAIMessage(text, nil))
}

// persistPartial is used on a mid-loop error: persist whatever text and tool
// summaries accumulated before the error, marking an empty accumulation
// explicitly.
func (e *Executor) persistPartial(sessionID string, messages []models.Message) {
	if sessionID == "" || e.deps.Session == nil {
		return
	}
	final := lastAIMessage(messages)
	text := ""
	if final != nil {
		text = final.Text()
	}
	summaries := buildToolHistory(messages)
	block := renderToolHistoryBlock(summaries)
	if text == "" && block == "" {
		e.deps.Session.Add(sessionID, models.NewAIMessage("(agent encountered an error)", nil))
		return
	}
	persisted := text
	if block != "" {
		persisted = persisted + "\n\n" + block
	}
	e.deps.Session.Add(sessionID, models.NewAIMessage(persisted, nil))
}

func (e *Executor) sessionLen(sessionID string) int {
	if sessionID == "" || e.deps.Session == nil {
		return 0
	}
	return e.deps.Session.Count(sessionID)
}

func lastAIMessage(messages []models.Message) *models.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleAI {
			return &messages[i]
		}
	}
	return nil
}
