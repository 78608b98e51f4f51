package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cortexhub/cortex-dispatch/internal/memory"
	"github.com/cortexhub/cortex-dispatch/internal/metrics"
)

// WorkingStore is the slice of the memory store the dispatcher needs
// for parking confirmation payloads between turns.
type WorkingStore interface {
	SetWorking(ctx context.Context, scope memory.Scope, field, value string) error
	GetWorking(ctx context.Context, scope memory.Scope, field string) (string, bool, error)
	DeleteWorking(ctx context.Context, scope memory.Scope, field string) error
}

// pendingConfirmation is what survives in working memory between the
// confirmation prompt and the user's answer.
type pendingConfirmation struct {
	WorkflowID string          `json:"workflow_id"`
	Payload    json.RawMessage `json:"payload"`
	UserID     string          `json:"user_id"`
}

// Dispatcher runs workflows and owns the confirmation round trip. A
// skip outcome surfaces as ErrFallbackAttempted so the caller routes
// the query to the reasoning agent; the workflow's own skip text is
// never the reply.
type Dispatcher struct {
	registry *Registry
	store    WorkingStore
	logger   *slog.Logger
	newToken func() string
}

func NewDispatcher(registry *Registry, store WorkingStore, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		store:    store,
		logger:   logger,
		newToken: func() string { return uuid.NewString()[:8] },
	}
}

func confirmField(token string) string { return "confirm:" + token }

// Dispatch runs one workflow to an outcome. Success and confirmation
// requests return a Result; a skip returns ErrFallbackAttempted.
func (d *Dispatcher) Dispatch(ctx context.Context, workflowID string, in Input, scope memory.Scope) (Result, error) {
	start := time.Now()
	w, err := d.registry.Get(workflowID)
	if err != nil {
		return Result{}, err
	}

	res, err := w.Run(ctx, in)
	res.DurationMs = time.Since(start).Milliseconds()
	metrics.HandlerDuration.WithLabelValues("workflow").Observe(time.Since(start).Seconds())
	if err != nil {
		return Result{}, fmt.Errorf("workflow %s: %w", workflowID, err)
	}

	if res.SkipWorkflow {
		d.logger.Info("workflow declined query",
			"workflow", workflowID, "reason", res.SkipReason)
		return res, fmt.Errorf("%s: %w", workflowID, ErrFallbackAttempted)
	}

	if res.NeedsConfirmation {
		return d.parkConfirmation(ctx, workflowID, in, scope, res)
	}
	return res, nil
}

// parkConfirmation stores the payload under a fresh token and rewrites
// the prompt so the user can answer with #confirm/#cancel.
func (d *Dispatcher) parkConfirmation(ctx context.Context, workflowID string, in Input, scope memory.Scope, res Result) (Result, error) {
	token := d.newToken()
	pending := pendingConfirmation{
		WorkflowID: workflowID,
		Payload:    res.ConfirmationPayload,
		UserID:     in.UserID,
	}
	data, err := json.Marshal(pending)
	if err != nil {
		return Result{}, fmt.Errorf("encode confirmation: %w", err)
	}
	if err := d.store.SetWorking(ctx, scope, confirmField(token), string(data)); err != nil {
		return Result{}, fmt.Errorf("park confirmation: %w", err)
	}

	prompt := res.ConfirmationPrompt
	if prompt == "" {
		prompt = "Please confirm this action."
	}
	res.Response = fmt.Sprintf("%s\n\nReply `#confirm %s` to proceed or `#cancel %s` to abort.",
		prompt, token, token)
	return res, nil
}

// HandleCallback resumes a parked workflow from a `#confirm <token>`
// or `#cancel <token>` message. The reply text is always final.
func (d *Dispatcher) HandleCallback(ctx context.Context, text string, in Input, scope memory.Scope) (string, error) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) != 2 {
		return "Usage: `#confirm <token>` or `#cancel <token>`.", nil
	}
	verb, token := fields[0], fields[1]
	approved := verb == "#confirm"

	raw, ok, err := d.store.GetWorking(ctx, scope, confirmField(token))
	if err != nil {
		return "", fmt.Errorf("load confirmation: %w", err)
	}
	if !ok {
		return "That confirmation has expired or was already handled.", nil
	}
	// One answer per token, whichever it is
	if err := d.store.DeleteWorking(ctx, scope, confirmField(token)); err != nil {
		d.logger.Warn("failed to clear confirmation token", "token", token, "error", err)
	}

	var pending pendingConfirmation
	if err := json.Unmarshal([]byte(raw), &pending); err != nil {
		return "", fmt.Errorf("decode confirmation: %w", err)
	}
	if !approved {
		d.logger.Info("confirmation cancelled", "workflow", pending.WorkflowID, "token", token)
		return "Cancelled. Nothing was changed.", nil
	}

	w, err := d.registry.Get(pending.WorkflowID)
	if err != nil {
		return "", err
	}
	res, err := w.Resume(ctx, pending.Payload, true, in)
	if err != nil {
		return "", fmt.Errorf("resume %s: %w", pending.WorkflowID, err)
	}
	return res.Response, nil
}
