package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cortexhub/cortex-dispatch/internal/memory"
)

type mapStore struct {
	data map[string]string
}

func newMapStore() *mapStore { return &mapStore{data: make(map[string]string)} }

func (m *mapStore) key(scope memory.Scope, field string) string {
	return scope.ResourceID + "/" + scope.ThreadID + "/" + field
}

func (m *mapStore) SetWorking(ctx context.Context, scope memory.Scope, field, value string) error {
	m.data[m.key(scope, field)] = value
	return nil
}

func (m *mapStore) GetWorking(ctx context.Context, scope memory.Scope, field string) (string, bool, error) {
	v, ok := m.data[m.key(scope, field)]
	return v, ok, nil
}

func (m *mapStore) DeleteWorking(ctx context.Context, scope memory.Scope, field string) error {
	delete(m.data, m.key(scope, field))
	return nil
}

func testDispatcher(t *testing.T, reg *Registry) (*Dispatcher, *mapStore) {
	t.Helper()
	store := newMapStore()
	d := NewDispatcher(reg, store, nil)
	d.newToken = func() string { return "tok12345" }
	return d, store
}

func dispatchScope() memory.Scope {
	return memory.ResolveScope("u1", "c1", "r1", "")
}

func TestDispatchSkipSurfacesFallback(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewDPAAssistant(nil))
	d, _ := testDispatcher(t, reg)

	res, err := d.Dispatch(context.Background(), "dpa-assistant",
		Input{Query: "what is an issue anyway?"}, dispatchScope())
	if !errors.Is(err, ErrFallbackAttempted) {
		t.Fatalf("Expected fallback sentinel, got %v", err)
	}
	if !res.SkipWorkflow {
		t.Error("Expected skip outcome")
	}
	if res.Response != "" {
		t.Errorf("Skip must not produce a user-facing response, got %q", res.Response)
	}
}

func TestDispatchUnknownWorkflow(t *testing.T) {
	d, _ := testDispatcher(t, NewRegistry())
	_, err := d.Dispatch(context.Background(), "ghost", Input{Query: "x"}, dispatchScope())
	if err == nil || !strings.Contains(err.Error(), "unknown workflow") {
		t.Fatalf("Expected unknown-workflow error, got %v", err)
	}
}

func TestConfirmationRoundTrip(t *testing.T) {
	var applied []string
	reg := NewRegistry()
	reg.Register(NewDPAAssistant(func(ctx context.Context, action, title string) (string, error) {
		applied = append(applied, action+":"+title)
		return "Issue created: " + title, nil
	}))
	d, store := testDispatcher(t, reg)
	ctx := context.Background()
	scope := dispatchScope()
	in := Input{Query: "创建一个issue: 登录页报错", UserID: "u1"}

	res, err := d.Dispatch(ctx, "dpa-assistant", in, scope)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if !res.NeedsConfirmation {
		t.Fatal("Expected confirmation request")
	}
	if !strings.Contains(res.Response, "#confirm tok12345") {
		t.Errorf("Prompt must carry the token, got %q", res.Response)
	}
	if len(applied) != 0 {
		t.Fatal("Mutation must not run before confirmation")
	}
	if _, ok := store.data[store.key(scope, "confirm:tok12345")]; !ok {
		t.Fatal("Payload must be parked in working memory")
	}

	reply, err := d.HandleCallback(ctx, "#confirm tok12345", in, scope)
	if err != nil {
		t.Fatalf("Callback failed: %v", err)
	}
	if len(applied) != 1 || applied[0] != "create:登录页报错" {
		t.Errorf("Expected exactly one applied mutation, got %v", applied)
	}
	if !strings.Contains(reply, "登录页报错") {
		t.Errorf("Expected mutation result in reply, got %q", reply)
	}
	if _, ok := store.data[store.key(scope, "confirm:tok12345")]; ok {
		t.Error("Token must be consumed after the answer")
	}
}

func TestCancelDiscardsWithoutMutating(t *testing.T) {
	called := false
	reg := NewRegistry()
	reg.Register(NewDPAAssistant(func(ctx context.Context, action, title string) (string, error) {
		called = true
		return "", nil
	}))
	d, store := testDispatcher(t, reg)
	ctx := context.Background()
	scope := dispatchScope()
	in := Input{Query: "关闭issue: 旧工单", UserID: "u1"}

	if _, err := d.Dispatch(ctx, "dpa-assistant", in, scope); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	reply, err := d.HandleCallback(ctx, "#cancel tok12345", in, scope)
	if err != nil {
		t.Fatalf("Callback failed: %v", err)
	}
	if called {
		t.Error("Cancel must not run the mutation")
	}
	if !strings.Contains(reply, "Cancelled") {
		t.Errorf("Expected cancellation notice, got %q", reply)
	}
	if _, ok := store.data[store.key(scope, "confirm:tok12345")]; ok {
		t.Error("Token must be consumed on cancel too")
	}
}

func TestCallbackExpiredToken(t *testing.T) {
	d, _ := testDispatcher(t, NewRegistry())
	reply, err := d.HandleCallback(context.Background(), "#confirm nosuch", Input{}, dispatchScope())
	if err != nil {
		t.Fatalf("Expected graceful reply, got error %v", err)
	}
	if !strings.Contains(reply, "expired") {
		t.Errorf("Expected expiry notice, got %q", reply)
	}
}

func TestCallbackAnsweredOnlyOnce(t *testing.T) {
	count := 0
	reg := NewRegistry()
	reg.Register(NewDPAAssistant(func(ctx context.Context, action, title string) (string, error) {
		count++
		return "done", nil
	}))
	d, _ := testDispatcher(t, reg)
	ctx := context.Background()
	scope := dispatchScope()
	in := Input{Query: "创建issue: x", UserID: "u1"}

	if _, err := d.Dispatch(ctx, "dpa-assistant", in, scope); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if _, err := d.HandleCallback(ctx, "#confirm tok12345", in, scope); err != nil {
		t.Fatalf("First callback failed: %v", err)
	}
	reply, err := d.HandleCallback(ctx, "#confirm tok12345", in, scope)
	if err != nil {
		t.Fatalf("Second callback errored: %v", err)
	}
	if count != 1 {
		t.Errorf("Mutation must run once, ran %d times", count)
	}
	if !strings.Contains(reply, "expired") {
		t.Errorf("Replay must see an expired token, got %q", reply)
	}
}

func TestCallbackMalformed(t *testing.T) {
	d, _ := testDispatcher(t, NewRegistry())
	reply, err := d.HandleCallback(context.Background(), "#confirm", Input{}, dispatchScope())
	if err != nil {
		t.Fatalf("Expected usage reply, got error %v", err)
	}
	if !strings.Contains(reply, "Usage") {
		t.Errorf("Expected usage text, got %q", reply)
	}
}

func TestDailyReportSkipsWhenEmpty(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewDailyReport(func(ctx context.Context, userID string) (string, error) {
		return "   ", nil
	}))
	d, _ := testDispatcher(t, reg)

	_, err := d.Dispatch(context.Background(), "daily-report",
		Input{Query: "生成日报", UserID: "u1"}, dispatchScope())
	if !errors.Is(err, ErrFallbackAttempted) {
		t.Fatalf("Empty activity must skip to the agent, got %v", err)
	}
}

func TestDailyReportSuccess(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewDailyReport(func(ctx context.Context, userID string) (string, error) {
		return "- closed 2 issues\n- reviewed 1 MR", nil
	}))
	d, _ := testDispatcher(t, reg)

	var updates []string
	res, err := d.Dispatch(context.Background(), "daily-report",
		Input{Query: "生成日报", UserID: "u1", OnUpdate: func(s string) { updates = append(updates, s) }},
		dispatchScope())
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if !res.Success || !strings.Contains(res.Response, "closed 2 issues") {
		t.Errorf("Expected report content, got %+v", res)
	}
	if len(updates) == 0 {
		t.Error("Expected at least one progress update")
	}
	if res.DurationMs < 0 {
		t.Error("Duration must be recorded")
	}
}

func TestParseIssueIntent(t *testing.T) {
	cases := []struct {
		query  string
		ok     bool
		action string
	}{
		{"创建一个issue: 登录报错", true, "create"},
		{"新建工单：支付超时", true, "create"},
		{"close the issue: flaky test", true, "close"},
		{"关闭这个issue", true, "close"},
		{"列出我的issues", false, ""},
		{"what's an issue?", false, ""},
	}
	for _, c := range cases {
		intent, ok := parseIssueIntent(c.query)
		if ok != c.ok {
			t.Errorf("parseIssueIntent(%q) ok = %v, want %v", c.query, ok, c.ok)
			continue
		}
		if ok && intent.Action != c.action {
			t.Errorf("parseIssueIntent(%q) action = %q, want %q", c.query, intent.Action, c.action)
		}
	}
}
