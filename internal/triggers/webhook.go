package triggers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ddalcu/agent-orcha/internal/executor"
)

// WebhookDispatcher registers one POST route per trigger
// ("/api/triggers/webhooks/<agent>" unless the trigger declares an explicit
// path) onto a shared *http.ServeMux. Registration is first-wins: a later
// trigger whose resolved path collides with an already-registered one is
// rejected rather than silently overwriting the mux entry.
type WebhookDispatcher struct {
	logger *slog.Logger

	mu    sync.Mutex
	paths map[string]bool
}

// NewWebhookDispatcher builds an empty dispatcher.
func NewWebhookDispatcher(logger *slog.Logger) *WebhookDispatcher {
	return &WebhookDispatcher{
		logger: namedLogger(logger, "triggers.webhook"),
		paths:  make(map[string]bool),
	}
}

// Register resolves path (defaulting to /api/triggers/webhooks/<agentName>
// when empty), claims it, and wires a POST handler onto mux. It returns an
// error without touching mux if the path is already claimed by an earlier
// trigger.
func (d *WebhookDispatcher) Register(mux *http.ServeMux, agentName, path string, input map[string]any, runner AgentRunner) error {
	if path == "" {
		path = fmt.Sprintf("/api/triggers/webhooks/%s", agentName)
	}

	d.mu.Lock()
	if d.paths[path] {
		d.mu.Unlock()
		return fmt.Errorf("triggers: webhook path %q already registered, rejecting trigger for agent %q", path, agentName)
	}
	d.paths[path] = true
	d.mu.Unlock()

	mux.HandleFunc(path, d.handler(agentName, input, runner))
	return nil
}

func (d *WebhookDispatcher) handler(agentName string, declaredInput map[string]any, runner AgentRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var body map[string]any
		if r.Body != nil {
			defer r.Body.Close()
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err.Error() != "EOF" {
				http.Error(w, fmt.Sprintf("invalid JSON body: %s", err), http.StatusBadRequest)
				return
			}
		}
		input := mergeInput(declaredInput, body)

		sessionID := fmt.Sprintf("trigger-%s-webhook-%d", agentName, time.Now().UnixNano())
		result, err := runner.Invoke(r.Context(), executor.InvokeOptions{
			Input:     input,
			SessionID: sessionID,
		})
		if err != nil {
			d.logger.Error("webhook trigger invoke failed", "agent", agentName, "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(result); err != nil {
			d.logger.Error("webhook trigger encode response failed", "agent", agentName, "error", err)
		}
	}
}
