package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cortexhub/cortex-dispatch/internal/memory"
	"github.com/cortexhub/cortex-dispatch/internal/metrics"
)

// ErrMutatingCapability marks the static rejection of a mutating
// capability at the direct-execution layer.
var ErrMutatingCapability = errors.New("mutating capability requires a workflow")

// Extractor turns free text into typed parameters. Implemented by
// model.Extractor; faked in tests.
type Extractor interface {
	Extract(ctx context.Context, schema, query string) (map[string]any, error)
}

// Result is the outcome of one direct execution. Err is a display
// string, not an error value: capability failures are reported to the
// caller, never raised.
type Result struct {
	Success    bool
	Output     string
	Err        string
	DurationMs int64
}

// Executor invokes exactly one capability once: no retries, no
// multi-step state.
type Executor struct {
	registry  *Registry
	extractor Extractor
	logger    *slog.Logger
}

// NewExecutor creates a direct executor.
func NewExecutor(registry *Registry, extractor Extractor, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{registry: registry, extractor: extractor, logger: logger}
}

// Execute resolves and runs one capability. Parameter extraction
// failures degrade to passing the raw query plus ambient scope
// context; handler failures and panics come back as structured
// failures. Mutating capabilities are rejected before any extraction
// runs.
func (e *Executor) Execute(ctx context.Context, toolID, query string, scope memory.Scope) Result {
	start := time.Now()
	done := func(r Result) Result {
		r.DurationMs = time.Since(start).Milliseconds()
		metrics.HandlerDuration.WithLabelValues("capability").Observe(time.Since(start).Seconds())
		return r
	}

	cap, err := e.registry.Get(toolID)
	if err != nil {
		return done(Result{Err: err.Error()})
	}
	if cap.Mutating {
		return done(Result{Err: fmt.Sprintf("%v: %s", ErrMutatingCapability, toolID)})
	}

	params := e.extractParams(ctx, cap, query, scope)

	output, err := e.invoke(ctx, cap, params)
	if err != nil {
		e.logger.Warn("capability failed", "tool", toolID, "error", err)
		return done(Result{Err: err.Error()})
	}
	return done(Result{Success: true, Output: output})
}

func (e *Executor) extractParams(ctx context.Context, cap *Capability, query string, scope memory.Scope) Params {
	if e.extractor != nil && cap.Schema != "" {
		extracted, err := e.extractor.Extract(ctx, cap.Schema, query)
		if err == nil {
			return Params(extracted)
		}
		e.logger.Debug("parameter extraction degraded to raw query",
			"tool", cap.ID, "error", err)
	}
	// Graceful degradation: raw query plus ambient context
	return Params{
		"query":       query,
		"resource_id": scope.ResourceID,
		"thread_id":   scope.ThreadID,
	}
}

// invoke runs the handler with panic containment so a misbehaving
// capability reports a failure instead of killing the request.
func (e *Executor) invoke(ctx context.Context, cap *Capability, params Params) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capability %s panicked: %v", cap.ID, r)
		}
	}()
	return cap.Handler(ctx, params)
}
