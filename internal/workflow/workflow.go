package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrFallbackAttempted signals that a workflow declined the query and
// asks the caller to hand it to the reasoning agent instead. The skip
// response text is advisory and must never be shown verbatim.
var ErrFallbackAttempted = errors.New("workflow requested agent fallback")

// Input carries everything a workflow sees about one turn.
type Input struct {
	Query         string
	UserID        string
	ChatID        string
	RootID        string
	LinkedContext string
	// OnUpdate streams intermediate progress to the user. Optional.
	OnUpdate func(text string)
}

// Result is the structured outcome of one workflow run. Exactly one of
// the three shapes holds: a success with Response, a confirmation
// request with NeedsConfirmation and ConfirmationPayload, or a skip
// with SkipWorkflow set.
type Result struct {
	Success             bool
	Response            string
	NeedsConfirmation   bool
	ConfirmationPrompt  string
	ConfirmationPayload json.RawMessage
	SkipWorkflow        bool
	SkipReason          string
	DurationMs          int64
}

// Workflow is a multi-step automation with its own control flow.
type Workflow interface {
	ID() string
	Run(ctx context.Context, in Input) (Result, error)
	// Resume continues after the user answered a confirmation prompt.
	Resume(ctx context.Context, payload json.RawMessage, approved bool, in Input) (Result, error)
}

// Registry maps workflow ids to implementations.
type Registry struct {
	mu        sync.RWMutex
	workflows map[string]Workflow
}

func NewRegistry() *Registry {
	return &Registry{workflows: make(map[string]Workflow)}
}

func (r *Registry) Register(w Workflow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows[w.ID()] = w
}

func (r *Registry) Get(id string) (Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workflows[id]
	if !ok {
		return nil, fmt.Errorf("unknown workflow: %s", id)
	}
	return w, nil
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.workflows))
	for id := range r.workflows {
		ids = append(ids, id)
	}
	return ids
}
