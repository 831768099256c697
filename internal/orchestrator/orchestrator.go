// Package orchestrator implements the root lifecycle object (C10):
// assembles Executors from loaded AgentDefinitions, wires each agent's
// declared integrations and triggers, and owns every long-lived subsystem's
// shutdown, following the construction-then-shutdown wiring order of a
// typical service entrypoint command.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ddalcu/agent-orcha/internal/chatmodel"
	"github.com/ddalcu/agent-orcha/internal/executor"
	"github.com/ddalcu/agent-orcha/internal/integrations/email"
	"github.com/ddalcu/agent-orcha/internal/integrations/slack"
	"github.com/ddalcu/agent-orcha/internal/memory"
	"github.com/ddalcu/agent-orcha/internal/sessions"
	"github.com/ddalcu/agent-orcha/internal/tools"
	"github.com/ddalcu/agent-orcha/internal/tools/builtin"
	"github.com/ddalcu/agent-orcha/internal/triggers"
	"github.com/ddalcu/agent-orcha/pkg/models"
)

// Connector is the lifecycle surface every concrete integration connector
// (internal/integrations/slack.Adapter, .../email.Adapter) implements:
// Start/Stop plus the Poster and ContextProvider contracts the built-in
// integration tools and the cron trigger dispatcher both depend on.
type Connector interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Post(ctx context.Context, text string) error
	RecentMessages() string
	ChannelMembers() []string
}

// Config bundles everything the orchestrator needs to assemble its
// subsystems.
type Config struct {
	WorkspaceDir  string
	Providers     map[string]chatmodel.ProviderConfig
	Memory        *memory.Config // nil disables the knowledge store
	SessionOpts   []sessions.Option
	Logger        *slog.Logger
	SkillResolver executor.SkillResolver
}

// Orchestrator is the root object: one per running process, one Executor
// per loaded AgentDefinition, shared subsystems underneath.
type Orchestrator struct {
	logger *slog.Logger

	models      *chatmodel.Factory
	toolReg     *tools.Registry
	sessions    *sessions.Store
	longTerm    *memory.LongTermMemory
	knowledge   *memory.Manager // nil if Config.Memory was nil
	skills      executor.SkillResolver

	mux        *http.ServeMux
	cron       *triggers.CronDispatcher
	webhooks   *triggers.WebhookDispatcher

	mu         sync.Mutex
	executors  map[string]*executor.Executor
	connectors map[string]Connector // agentName -> its one bound connector, if any
}

// New assembles every shared subsystem. The knowledge store is opened only
// if cfg.Memory is non-nil; a nil Config.Memory means agents declaring
// knowledge search get an error at load time instead of a silently-empty
// store.
func New(ctx context.Context, cfg Config) (*Orchestrator, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var knowledge *memory.Manager
	if cfg.Memory != nil {
		m, err := memory.NewManager(ctx, cfg.Memory)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: open knowledge store: %w", err)
		}
		knowledge = m
	}

	o := &Orchestrator{
		logger:     logger.With("component", "orchestrator"),
		models:     chatmodel.NewFactory(cfg.Providers),
		toolReg:    tools.NewRegistry(),
		sessions:   sessions.New(cfg.SessionOpts...),
		longTerm:   memory.NewLongTermMemory(cfg.WorkspaceDir),
		knowledge:  knowledge,
		skills:     cfg.SkillResolver,
		mux:        http.NewServeMux(),
		cron:       triggers.NewCronDispatcher(logger),
		webhooks:   triggers.NewWebhookDispatcher(logger),
		executors:  make(map[string]*executor.Executor),
		connectors: make(map[string]Connector),
	}
	if knowledge != nil {
		o.toolReg.RegisterResolver(models.ToolSourceKnowledge, tools.ResolverFunc(o.resolveKnowledgeSearch))
	}
	return o, nil
}

// resolveKnowledgeSearch is the ToolSourceKnowledge resolver: ref.Config may
// declare "scope" (one of models.MemoryScope's string values) and
// "scope_id"; absent either, the tool searches the global scope.
func (o *Orchestrator) resolveKnowledgeSearch(ctx context.Context, ref models.ToolRef) (tools.StructuredTool, error) {
	scope := models.ScopeGlobal
	if s := stringField(ref.Config, "scope"); s != "" {
		scope = models.MemoryScope(s)
	}
	scopeID := stringField(ref.Config, "scope_id")
	return builtin.NewKnowledgeSearch(o.knowledge, scope, scopeID), nil
}

// Mux exposes the shared webhook-trigger HTTP mux so the caller can serve
// it (alongside any other routes) on its own listener.
func (o *Orchestrator) Mux() *http.ServeMux { return o.mux }

// LoadAgent builds an Executor for def, binds its declared integration (if
// any), injects the integration_post built-in, and registers its declared
// triggers. Calling LoadAgent again for the same agent name replaces the
// prior Executor and connector; the prior connector is stopped first.
func (o *Orchestrator) LoadAgent(ctx context.Context, def models.AgentDefinition) error {
	def.NormalizeVersion()

	o.mu.Lock()
	if old, ok := o.connectors[def.Name]; ok {
		delete(o.connectors, def.Name)
		o.mu.Unlock()
		if err := old.Stop(ctx); err != nil {
			o.logger.Warn("stop previous connector failed", "agent", def.Name, "error", err)
		}
	} else {
		o.mu.Unlock()
	}

	var longTerm executor.LongTermMemory
	if def.Memory != nil {
		longTerm = o.longTerm
	}

	exec, err := executor.New(ctx, def, executor.Deps{
		Models:  o.models,
		Tools:   o.toolReg,
		Memory:  longTerm,
		Skills:  o.skills,
		Session: o.sessions,
		Logger:  o.logger,
	})
	if err != nil {
		return fmt.Errorf("orchestrator: build executor for %q: %w", def.Name, err)
	}

	var connector Connector
	if len(def.Integrations) > 0 {
		ref := def.Integrations[0]
		connector, err = buildConnector(ref, o.dispatcherFor(def.Name, exec), o.logger)
		if err != nil {
			return fmt.Errorf("orchestrator: build integration for %q: %w", def.Name, err)
		}
		if err := connector.Start(ctx); err != nil {
			return fmt.Errorf("orchestrator: start integration for %q: %w", def.Name, err)
		}

		toolSet := exec.Tools()
		toolSet.Add(builtin.NewIntegrationPost("integration_post", connector))
		exec.RebindTools()
	}

	for _, trig := range def.Triggers {
		if err := o.registerTrigger(ctx, def.Name, trig, exec, connector); err != nil {
			return fmt.Errorf("orchestrator: register trigger for %q: %w", def.Name, err)
		}
	}

	o.mu.Lock()
	o.executors[def.Name] = exec
	if connector != nil {
		o.connectors[def.Name] = connector
	}
	o.mu.Unlock()
	return nil
}

// dispatcherFor builds the integrations.CommandHandler every connector
// calls once per inbound event: run the bound Executor with a session id
// scoped to that connector's sender, in a fresh session per distinct
// sender so concurrent conversations in the same channel don't collide.
func (o *Orchestrator) dispatcherFor(agentName string, exec *executor.Executor) func(ctx context.Context, body, sender string, meta map[string]any) (string, error) {
	return func(ctx context.Context, body, sender string, meta map[string]any) (string, error) {
		result, err := exec.Invoke(ctx, executor.InvokeOptions{
			Input:     map[string]any{"message": body, "sender": sender, "meta": meta},
			SessionID: fmt.Sprintf("integration-%s-%s", agentName, sender),
		})
		if err != nil {
			return "", err
		}
		if s, ok := result.Output.(string); ok {
			return s, nil
		}
		return "", fmt.Errorf("orchestrator: agent %q produced non-text output for an integration reply", agentName)
	}
}

func (o *Orchestrator) registerTrigger(ctx context.Context, agentName string, trig models.TriggerRef, exec *executor.Executor, connector Connector) error {
	var integ triggers.Integration
	if connector != nil {
		integ = connector
	}
	switch trig.Type {
	case "cron":
		return o.cron.Register(ctx, agentName, trig.Cron, trig.Input, exec, integ)
	case "webhook":
		return o.webhooks.Register(o.mux, agentName, trig.Path, trig.Input, exec)
	default:
		return fmt.Errorf("unknown trigger type %q", trig.Type)
	}
}

// Invoke runs one non-streaming turn on the named agent.
func (o *Orchestrator) Invoke(ctx context.Context, agentName string, opts executor.InvokeOptions) (*models.AgentResult, error) {
	exec, err := o.executor(agentName)
	if err != nil {
		return nil, err
	}
	return exec.Invoke(ctx, opts)
}

// Stream runs one streaming turn on the named agent.
func (o *Orchestrator) Stream(ctx context.Context, agentName string, opts executor.InvokeOptions) (<-chan executor.Frame, error) {
	exec, err := o.executor(agentName)
	if err != nil {
		return nil, err
	}
	return exec.Stream(ctx, opts), nil
}

func (o *Orchestrator) executor(agentName string) (*executor.Executor, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	exec, ok := o.executors[agentName]
	if !ok {
		return nil, fmt.Errorf("orchestrator: no agent loaded named %q", agentName)
	}
	return exec, nil
}

// Shutdown stops every connector, the cron dispatcher, and the session
// store's TTL sweeper, in that order: connectors first so in-flight replies
// still have a live session store to read from while they drain.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	connectors := make([]Connector, 0, len(o.connectors))
	for _, c := range o.connectors {
		connectors = append(connectors, c)
	}
	o.mu.Unlock()

	var firstErr error
	for _, c := range connectors {
		if err := c.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	o.cron.Stop()
	o.sessions.Destroy()
	if o.knowledge != nil {
		if err := o.knowledge.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func stringField(cfg map[string]any, key string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return ""
}

func boolField(cfg map[string]any, key string) bool {
	if v, ok := cfg[key].(bool); ok {
		return v
	}
	return false
}

func durationField(cfg map[string]any, key string, unit time.Duration) time.Duration {
	switch v := cfg[key].(type) {
	case float64:
		return time.Duration(v) * unit
	case int:
		return time.Duration(v) * unit
	}
	return 0
}

// buildConnector constructs the one connector type an integration's Config
// map names. Unknown types are rejected rather than silently ignored.
func buildConnector(ref models.IntegrationRef, handler func(ctx context.Context, body, sender string, meta map[string]any) (string, error), logger *slog.Logger) (Connector, error) {
	switch ref.Type {
	case "slack":
		return slack.New(slack.Config{
			BotToken:       stringField(ref.Config, "bot_token"),
			AppToken:       stringField(ref.Config, "app_token"),
			DisplayName:    stringField(ref.Config, "display_name"),
			ChannelName:    stringField(ref.Config, "channel_name"),
			ChannelPrivate: boolField(ref.Config, "channel_private"),
		}, handler, logger), nil
	case "email":
		return email.New(email.Config{
			IMAPAddr:     stringField(ref.Config, "imap_addr"),
			IMAPUsername: stringField(ref.Config, "imap_username"),
			IMAPPassword: stringField(ref.Config, "imap_password"),
			Mailbox:      stringField(ref.Config, "mailbox"),
			SMTPAddr:     stringField(ref.Config, "smtp_addr"),
			SMTPUsername: stringField(ref.Config, "smtp_username"),
			SMTPPassword: stringField(ref.Config, "smtp_password"),
			FromAddress:  stringField(ref.Config, "from_address"),
			PollInterval: durationField(ref.Config, "poll_interval_seconds", time.Second),
		}, handler, logger), nil
	default:
		return nil, fmt.Errorf("unknown integration type %q", ref.Type)
	}
}
