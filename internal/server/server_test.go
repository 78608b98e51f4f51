package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cortexhub/cortex-dispatch/internal/agent"
	"github.com/cortexhub/cortex-dispatch/internal/capability"
	"github.com/cortexhub/cortex-dispatch/internal/classify"
	"github.com/cortexhub/cortex-dispatch/internal/config"
	"github.com/cortexhub/cortex-dispatch/internal/dispatch"
	"github.com/cortexhub/cortex-dispatch/internal/memory"
	"github.com/cortexhub/cortex-dispatch/internal/route"
	"github.com/cortexhub/cortex-dispatch/internal/stream"
	"github.com/cortexhub/cortex-dispatch/internal/workflow"
)

type stubAgent struct{}

func (stubAgent) Respond(ctx context.Context, query string, scope memory.Scope, onUpdate stream.Sink) (agent.Answer, error) {
	if onUpdate != nil {
		_ = onUpdate("stub ", false)
		_ = onUpdate("stub answer", true)
	}
	return agent.Answer{Text: "stub answer"}, nil
}

type stubStore struct{}

func (stubStore) AppendMessage(ctx context.Context, scope memory.Scope, role, content string) error {
	return nil
}
func (stubStore) Clear(ctx context.Context, scope memory.Scope) error { return nil }

type workingStub struct{ data map[string]string }

func (w *workingStub) SetWorking(ctx context.Context, scope memory.Scope, field, value string) error {
	w.data[field] = value
	return nil
}
func (w *workingStub) GetWorking(ctx context.Context, scope memory.Scope, field string) (string, bool, error) {
	v, ok := w.data[field]
	return v, ok, nil
}
func (w *workingStub) DeleteWorking(ctx context.Context, scope memory.Scope, field string) error {
	delete(w.data, field)
	return nil
}

func testServer(t *testing.T) *Server {
	t.Helper()
	classifier, err := classify.NewClassifier(classify.DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	router, err := route.NewRouter(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	reg := capability.NewRegistry()
	capability.RegisterBuiltins(reg, capability.Collaborators{})
	pipeline := dispatch.NewPipeline(dispatch.Options{
		Classifier: classifier,
		Router:     router,
		Executor:   capability.NewExecutor(reg, nil, nil),
		Workflows:  workflow.NewDispatcher(workflow.NewRegistry(), &workingStub{data: map[string]string{}}, nil),
		Registry:   reg,
		Agent:      stubAgent{},
		Store:      stubStore{},
	})
	cfg := config.Default()
	return New(cfg, pipeline, nil, nil, nil)
}

func TestNew(t *testing.T) {
	if testServer(t) == nil {
		t.Fatal("Expected non-nil server")
	}
}

func TestHealthHandler(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.healthHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Bad health body: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("Expected ok, got %s", resp.Status)
	}
}

func TestQueryHandler(t *testing.T) {
	srv := testServer(t)
	body := strings.NewReader(`{"query":"Hello, how are you?","user_id":"u1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", body)
	w := httptest.NewRecorder()
	srv.queryHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp QueryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Bad query body: %v", err)
	}
	if resp.Text != "stub answer" {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.Target != "agent" || resp.Confidence != "fallback" {
		t.Errorf("Target/confidence = %q/%q", resp.Target, resp.Confidence)
	}
}

func TestQueryHandlerValidation(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/query", nil)
	w := httptest.NewRecorder()
	srv.queryHandler(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET must be rejected, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader(`{}`))
	w = httptest.NewRecorder()
	srv.queryHandler(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Empty query must be rejected, got %d", w.Code)
	}
}

func TestQueryStreamHandler(t *testing.T) {
	srv := testServer(t)
	body := strings.NewReader(`{"query":"Hello there","user_id":"u1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query/stream", body)
	w := httptest.NewRecorder()
	srv.queryStreamHandler(w, req)

	out := w.Body.String()
	if !strings.Contains(w.Header().Get("Content-Type"), "text/event-stream") {
		t.Errorf("Content-Type = %q", w.Header().Get("Content-Type"))
	}
	if !strings.Contains(out, "event: partial") {
		t.Errorf("Expected partial events, got %q", out)
	}
	finalIdx := strings.LastIndex(out, "event: final")
	if finalIdx < 0 {
		t.Fatalf("Expected a final event, got %q", out)
	}
	if strings.Contains(out[finalIdx:], "event: partial") {
		t.Error("Final event must come after all partials")
	}
	if !strings.Contains(out[finalIdx:], "stub answer") {
		t.Errorf("Final event must carry the complete text, got %q", out[finalIdx:])
	}
}

func TestRoutesHandler(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/routes", nil)
	w := httptest.NewRecorder()
	srv.routesHandler(w, req)

	var resp RoutesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Bad routes body: %v", err)
	}
	if len(resp.Classifier) == 0 || len(resp.Router) == 0 {
		t.Errorf("Both tables must be listed, got %+v", resp)
	}
	found := false
	for _, r := range resp.Classifier {
		if r.ID == "issue-listing" && r.Target == "tool(gitlab_cli)" {
			found = true
		}
	}
	if !found {
		t.Error("Expected issue-listing rule in classifier table")
	}
}
