package capability

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cortexhub/cortex-dispatch/internal/memory"
)

type fakeExtractor struct {
	params map[string]any
	err    error
}

func (f *fakeExtractor) Extract(ctx context.Context, schema, query string) (map[string]any, error) {
	return f.params, f.err
}

func testScope() memory.Scope {
	return memory.ResolveScope("u1", "c1", "r1", "")
}

func TestExecuteSuccess(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Capability{
		ID:     "echo",
		Schema: `{"type":"object"}`,
		Handler: func(ctx context.Context, p Params) (string, error) {
			return "echo: " + p.String("text"), nil
		},
	})
	e := NewExecutor(reg, &fakeExtractor{params: map[string]any{"text": "hi"}}, nil)

	res := e.Execute(context.Background(), "echo", "say hi", testScope())
	if !res.Success {
		t.Fatalf("Expected success, got %+v", res)
	}
	if res.Output != "echo: hi" {
		t.Errorf("Expected extracted params used, got %q", res.Output)
	}
	if res.DurationMs < 0 {
		t.Errorf("Duration must be set, got %d", res.DurationMs)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	e := NewExecutor(NewRegistry(), nil, nil)
	res := e.Execute(context.Background(), "missing", "q", testScope())
	if res.Success {
		t.Fatal("Expected failure for unknown tool")
	}
	if !strings.Contains(res.Err, "unknown capability") {
		t.Errorf("Expected unknown-capability error, got %q", res.Err)
	}
}

func TestExecuteRejectsMutating(t *testing.T) {
	reg := NewRegistry()
	called := false
	reg.Register(&Capability{
		ID:       "writer",
		Mutating: true,
		Handler: func(ctx context.Context, p Params) (string, error) {
			called = true
			return "wrote", nil
		},
	})
	e := NewExecutor(reg, nil, nil)

	res := e.Execute(context.Background(), "writer", "write it", testScope())
	if res.Success {
		t.Fatal("Mutating capability must be rejected")
	}
	if called {
		t.Error("Handler must not run for a rejected capability")
	}
	if !strings.Contains(res.Err, ErrMutatingCapability.Error()) {
		t.Errorf("Expected mutation rejection, got %q", res.Err)
	}
}

func TestExecuteExtractionFailureDegradesToRawQuery(t *testing.T) {
	reg := NewRegistry()
	var got Params
	reg.Register(&Capability{
		ID:     "inspect",
		Schema: `{"type":"object"}`,
		Handler: func(ctx context.Context, p Params) (string, error) {
			got = p
			return "ok", nil
		},
	})
	e := NewExecutor(reg, &fakeExtractor{err: errors.New("model unavailable")}, nil)

	res := e.Execute(context.Background(), "inspect", "the raw query", testScope())
	if !res.Success {
		t.Fatalf("Extraction failure must not fail execution: %+v", res)
	}
	if got.String("query") != "the raw query" {
		t.Errorf("Expected raw query passthrough, got %v", got)
	}
	if got.String("resource_id") == "" {
		t.Error("Expected ambient scope context in degraded params")
	}
}

func TestExecuteHandlerErrorCaught(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Capability{
		ID: "broken",
		Handler: func(ctx context.Context, p Params) (string, error) {
			return "", errors.New("backend unavailable")
		},
	})
	e := NewExecutor(reg, nil, nil)

	res := e.Execute(context.Background(), "broken", "q", testScope())
	if res.Success {
		t.Fatal("Expected structured failure")
	}
	if res.Err != "backend unavailable" {
		t.Errorf("Expected handler error surfaced, got %q", res.Err)
	}
}

func TestExecutePanicContained(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Capability{
		ID: "panicky",
		Handler: func(ctx context.Context, p Params) (string, error) {
			panic("boom")
		},
	})
	e := NewExecutor(reg, nil, nil)

	res := e.Execute(context.Background(), "panicky", "q", testScope())
	if res.Success {
		t.Fatal("Expected failure from panic")
	}
	if !strings.Contains(res.Err, "panicked") {
		t.Errorf("Expected panic containment, got %q", res.Err)
	}
}

func TestBuiltinsRegistered(t *testing.T) {
	reg := NewRegistry()
	RegisterBuiltins(reg, Collaborators{})
	for _, id := range []string{"gitlab_cli", "gitlab_mutate", "doc_search", "analytics_query", "chart_render"} {
		if _, err := reg.Get(id); err != nil {
			t.Errorf("Expected builtin %s registered: %v", id, err)
		}
	}
}

func TestBuiltinTrackerDegradedAssigneeScope(t *testing.T) {
	reg := NewRegistry()
	var gotFilters map[string]string
	RegisterBuiltins(reg, Collaborators{
		Tracker: func(ctx context.Context, action string, filters map[string]string) (string, error) {
			gotFilters = filters
			return "3 open issues", nil
		},
	})
	e := NewExecutor(reg, &fakeExtractor{err: errors.New("no extractor")}, nil)

	res := e.Execute(context.Background(), "gitlab_cli", "列出我的issues", testScope())
	if !res.Success {
		t.Fatalf("Expected success, got %+v", res)
	}
	if res.Output != "3 open issues" {
		t.Errorf("Expected formatted listing, got %q", res.Output)
	}
	if gotFilters["assignee"] != "me" {
		t.Errorf("Expected degraded query to scope to assignee, got %v", gotFilters)
	}
}
