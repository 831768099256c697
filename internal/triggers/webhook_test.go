package triggers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ddalcu/agent-orcha/pkg/models"
)

func TestWebhookDispatcherDefaultPath(t *testing.T) {
	d := NewWebhookDispatcher(nil)
	mux := http.NewServeMux()
	runner := &fakeRunner{out: &models.AgentResult{Output: "ok"}}

	if err := d.Register(mux, "digest", "", nil, runner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/triggers/webhooks/digest", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(runner.calls) != 1 {
		t.Fatalf("expected 1 invocation, got %d", len(runner.calls))
	}
}

func TestWebhookDispatcherPathCollisionRejectsSecond(t *testing.T) {
	d := NewWebhookDispatcher(nil)
	mux := http.NewServeMux()

	if err := d.Register(mux, "digest", "/api/triggers/webhooks/shared", nil, &fakeRunner{}); err != nil {
		t.Fatalf("unexpected error on first registration: %v", err)
	}
	err := d.Register(mux, "summarizer", "/api/triggers/webhooks/shared", nil, &fakeRunner{})
	if err == nil {
		t.Fatal("expected collision error on second registration of the same path")
	}
}

func TestWebhookDispatcherMergesBodyOverDeclaredInput(t *testing.T) {
	d := NewWebhookDispatcher(nil)
	mux := http.NewServeMux()
	runner := &fakeRunner{out: &models.AgentResult{Output: "ok"}}
	declared := map[string]any{"priority": "low", "topic": "default"}

	if err := d.Register(mux, "digest", "", declared, runner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/triggers/webhooks/digest", strings.NewReader(`{"topic":"override"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	call := runner.calls[0]
	if call.Input["topic"] != "override" {
		t.Errorf("expected body to override declared input, got %v", call.Input["topic"])
	}
	if call.Input["priority"] != "low" {
		t.Errorf("expected declared-only field preserved, got %v", call.Input["priority"])
	}
	if !strings.HasPrefix(call.SessionID, "trigger-digest-webhook-") {
		t.Errorf("expected per-request session id prefix, got %q", call.SessionID)
	}
}

func TestWebhookDispatcherRejectsNonPost(t *testing.T) {
	d := NewWebhookDispatcher(nil)
	mux := http.NewServeMux()
	if err := d.Register(mux, "digest", "", nil, &fakeRunner{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/triggers/webhooks/digest", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestWebhookDispatcherInvokeErrorReturns500(t *testing.T) {
	d := NewWebhookDispatcher(nil)
	mux := http.NewServeMux()
	runner := &fakeRunner{err: context.DeadlineExceeded}
	if err := d.Register(mux, "digest", "", nil, runner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/triggers/webhooks/digest", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
