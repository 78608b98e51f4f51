package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cortexhub/cortex-dispatch/internal/agent"
	"github.com/cortexhub/cortex-dispatch/internal/capability"
	"github.com/cortexhub/cortex-dispatch/internal/classify"
	"github.com/cortexhub/cortex-dispatch/internal/events"
	"github.com/cortexhub/cortex-dispatch/internal/memory"
	"github.com/cortexhub/cortex-dispatch/internal/metrics"
	"github.com/cortexhub/cortex-dispatch/internal/model"
	"github.com/cortexhub/cortex-dispatch/internal/route"
	"github.com/cortexhub/cortex-dispatch/internal/stream"
	"github.com/cortexhub/cortex-dispatch/internal/workflow"
)

// Query is one inbound message from any chat surface.
type Query struct {
	Text           string
	UserID         string
	ChatID         string
	RootID         string
	ThreadOverride string
	LinkedContext  string
	// OnUpdate receives partial and final text for surfaces that can
	// edit messages in place. Optional; the Reply is authoritative.
	OnUpdate stream.Sink
}

// emptyReplyText covers turns whose visible output came out empty,
// such as a stream that was all reasoning.
const emptyReplyText = "I don't have an answer for that one. Could you rephrase?"

// Reply is the pipeline's answer. Text is never empty: every failure
// path still says something.
type Reply struct {
	Text       string
	Reasoning  string
	Target     string
	Confidence string
	DurationMs int64
}

// HistoryStore is the slice of the memory store the pipeline itself
// touches.
type HistoryStore interface {
	AppendMessage(ctx context.Context, scope memory.Scope, role, content string) error
	Clear(ctx context.Context, scope memory.Scope) error
}

// Responder is the terminal free-form handler behind every fallback.
type Responder interface {
	Respond(ctx context.Context, query string, scope memory.Scope, onUpdate stream.Sink) (agent.Answer, error)
}

// Pipeline wires the classifier, router, capability executor, workflow
// dispatcher and reasoning agent into the single entry point every
// chat surface calls.
type Pipeline struct {
	mu         sync.RWMutex
	classifier *classify.Classifier
	router     *route.Router
	executor   *capability.Executor
	workflows  *workflow.Dispatcher
	registry   *capability.Registry
	agent      Responder
	selector   *model.Selector
	store      HistoryStore
	events     events.Publisher
	logger     *slog.Logger
}

// Options carries the pipeline's collaborators.
type Options struct {
	Classifier *classify.Classifier
	Router     *route.Router
	Executor   *capability.Executor
	Workflows  *workflow.Dispatcher
	Registry   *capability.Registry
	Agent      Responder
	Selector   *model.Selector
	Store      HistoryStore
	Events     events.Publisher
	Logger     *slog.Logger
}

func NewPipeline(opts Options) *Pipeline {
	if opts.Events == nil {
		opts.Events = events.NopPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pipeline{
		classifier: opts.Classifier,
		router:     opts.Router,
		executor:   opts.Executor,
		workflows:  opts.Workflows,
		registry:   opts.Registry,
		agent:      opts.Agent,
		selector:   opts.Selector,
		store:      opts.Store,
		events:     opts.Events,
		logger:     opts.Logger,
	}
}

// Router exposes the routing table for the HTTP surface.
func (p *Pipeline) Router() *route.Router { return p.router }

// Classifier exposes the classification table for the HTTP surface.
func (p *Pipeline) Classifier() *classify.Classifier {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.classifier
}

// SetClassifier swaps in a freshly compiled rule table. In-flight
// requests keep the table they started with.
func (p *Pipeline) SetClassifier(c *classify.Classifier) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.classifier = c
}

// Handle answers one query. It never returns an error to the caller:
// the outermost boundary always produces text.
func (p *Pipeline) Handle(ctx context.Context, q Query) Reply {
	start := time.Now()
	scope := memory.ResolveScope(q.UserID, q.ChatID, q.RootID, q.ThreadOverride)

	result := p.Classifier().Classify(q.Text)
	metrics.QueriesTotal.WithLabelValues(result.Target.Kind.String()).Inc()
	p.publishRouted(ctx, q, scope, result)

	reply := p.dispatch(ctx, q, scope, result)
	if reply.Text == "" {
		reply.Text = emptyReplyText
	}
	reply.Target = result.Target.String()
	reply.Confidence = string(result.Confidence)
	reply.DurationMs = time.Since(start).Milliseconds()

	p.recordTurn(ctx, scope, q.Text, reply.Text, result.Target.Kind)
	return reply
}

func (p *Pipeline) dispatch(ctx context.Context, q Query, scope memory.Scope, result classify.Result) Reply {
	switch result.Target.Kind {
	case classify.TargetSlashCommand:
		return p.handleSlash(ctx, q, scope, result.Target.Command)
	case classify.TargetDocCommand:
		return p.handleTool(ctx, q, scope, "doc_search")
	case classify.TargetTool:
		return p.handleTool(ctx, q, scope, result.Target.ToolID)
	case classify.TargetWorkflow:
		return p.handleWorkflow(ctx, q, scope, result.Target.WorkflowID)
	default:
		return p.handleAgentRoute(ctx, q, scope)
	}
}

func (p *Pipeline) handleTool(ctx context.Context, q Query, scope memory.Scope, toolID string) Reply {
	res := p.executor.Execute(ctx, toolID, q.Text, scope)
	if !res.Success {
		p.logger.Warn("capability failed", "tool", toolID, "error", res.Err)
		return Reply{Text: fmt.Sprintf("The %s operation failed: %s", toolID, res.Err)}
	}
	return Reply{Text: res.Output}
}

func (p *Pipeline) handleWorkflow(ctx context.Context, q Query, scope memory.Scope, workflowID string) Reply {
	if workflowID == "confirm-callback" {
		text, err := p.workflows.HandleCallback(ctx, q.Text, p.workflowInput(q), scope)
		if err != nil {
			p.logger.Error("confirmation callback failed", "error", err)
			return Reply{Text: "Something went wrong handling that confirmation. The action was not applied."}
		}
		return Reply{Text: text}
	}

	res, err := p.workflows.Dispatch(ctx, workflowID, p.workflowInput(q), scope)
	if err == nil {
		return Reply{Text: res.Response}
	}

	if errors.Is(err, workflow.ErrFallbackAttempted) {
		p.events.Publish(ctx, skipEvent(q, scope, workflowID, res.SkipReason))
	} else {
		p.logger.Error("workflow failed, handing off", "workflow", workflowID, "error", err)
	}
	return p.fallback(ctx, q, scope, err)
}

// handleAgentRoute consults the priority router before the agent gets
// the query. A workflow decision dispatches that workflow, a skill or
// subagent decision runs its capability; everything else lands on the
// agent as the terminal handler.
func (p *Pipeline) handleAgentRoute(ctx context.Context, q Query, scope memory.Scope) Reply {
	decision := p.router.Route(q.Text)
	if (decision.Type == route.TypeSkill || decision.Type == route.TypeSubagent) &&
		decision.ToolID != "" && p.executor != nil {
		return p.handleTool(ctx, q, scope, decision.ToolID)
	}
	if decision.Type == route.TypeWorkflow && decision.WorkflowID != "" {
		res, err := p.workflows.Dispatch(ctx, decision.WorkflowID, p.workflowInput(q), scope)
		if err == nil {
			return Reply{Text: res.Response}
		}
		if errors.Is(err, workflow.ErrFallbackAttempted) {
			p.events.Publish(ctx, skipEvent(q, scope, decision.WorkflowID, res.SkipReason))
		}
		return p.fallback(ctx, q, scope, err)
	}
	return p.fallback(ctx, q, scope, nil)
}

// fallback hands the original query to the reasoning agent exactly
// once per request. cause carries the workflow error that triggered
// the handoff, or nil for a plain routing miss.
func (p *Pipeline) fallback(ctx context.Context, q Query, scope memory.Scope, cause error) Reply {
	ans, err := p.agent.Respond(ctx, q.Text, scope, q.OnUpdate)
	if err != nil {
		if cause != nil && !errors.Is(cause, workflow.ErrFallbackAttempted) {
			p.logger.Error("fallback after workflow failure also failed",
				"workflow_error", cause, "agent_error", err)
			return Reply{Text: "Both the automated handler and the assistant failed on this one. Please try again later."}
		}
		// The agent already produced its apology text
		return Reply{Text: ans.Text, Reasoning: ans.Reasoning}
	}
	return Reply{Text: ans.Text, Reasoning: ans.Reasoning}
}

func (p *Pipeline) handleSlash(ctx context.Context, q Query, scope memory.Scope, command string) Reply {
	if command == "" {
		command = parseSlashCommand(q.Text)
	}
	switch command {
	case "help":
		return Reply{Text: p.helpText()}
	case "status":
		return Reply{Text: p.statusText()}
	case "clear":
		if err := p.store.Clear(ctx, scope); err != nil {
			p.logger.Warn("history clear failed", "error", err)
			return Reply{Text: "Could not clear this conversation right now."}
		}
		return Reply{Text: "Conversation history cleared."}
	case "routes":
		return Reply{Text: p.routesText()}
	default:
		return Reply{Text: fmt.Sprintf("Unknown command /%s. Try /help.", command)}
	}
}

func parseSlashCommand(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "/")
	if idx := strings.IndexAny(text, " \t@"); idx >= 0 {
		text = text[:idx]
	}
	return strings.ToLower(text)
}

func (p *Pipeline) helpText() string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	b.WriteString("  /help    show this help\n")
	b.WriteString("  /status  model tier health\n")
	b.WriteString("  /clear   clear this conversation's history\n")
	b.WriteString("  /routes  show routing tables\n")
	if p.registry != nil {
		ids := p.registry.List()
		sort.Strings(ids)
		b.WriteString("\nCapabilities: " + strings.Join(ids, ", "))
	}
	return b.String()
}

func (p *Pipeline) statusText() string {
	if p.selector == nil {
		return "Model status unavailable."
	}
	var b strings.Builder
	b.WriteString("Model tiers:\n")
	for _, tier := range []model.Tier{model.TierPrimary, model.TierFallback} {
		state := "healthy"
		if p.selector.CoolingDown(tier) {
			state = "cooling-down"
		}
		fmt.Fprintf(&b, "  %s: %s (%d consecutive failures)\n",
			tier, state, p.selector.Failures(tier))
	}
	return b.String()
}

func (p *Pipeline) routesText() string {
	var b strings.Builder
	b.WriteString("Classifier rules:\n")
	for _, r := range p.Classifier().Rules() {
		fmt.Fprintf(&b, "  %3d  %-20s -> %s\n", r.Priority, r.ID, r.Target)
	}
	b.WriteString("Router rules:\n")
	for _, r := range p.router.Rules() {
		fmt.Fprintf(&b, "  %3d  %-20s (%s)\n", r.Priority, r.ID, r.Type)
	}
	return b.String()
}

func (p *Pipeline) workflowInput(q Query) workflow.Input {
	var onUpdate func(string)
	if q.OnUpdate != nil {
		sink := q.OnUpdate
		onUpdate = func(text string) { _ = sink(text, false) }
	}
	return workflow.Input{
		Query:         q.Text,
		UserID:        q.UserID,
		ChatID:        q.ChatID,
		RootID:        q.RootID,
		LinkedContext: q.LinkedContext,
		OnUpdate:      onUpdate,
	}
}

func (p *Pipeline) publishRouted(ctx context.Context, q Query, scope memory.Scope, result classify.Result) {
	e := events.NewEvent(events.TypeRouted, events.SeverityInfo)
	e.UserID = q.UserID
	e.ThreadID = scope.ThreadID
	e.Detail["target"] = result.Target.String()
	e.Detail["confidence"] = string(result.Confidence)
	e.Detail["intent"] = result.Intent
	p.events.Publish(ctx, e)
}

func skipEvent(q Query, scope memory.Scope, workflowID, reason string) events.Event {
	e := events.NewEvent(events.TypeWorkflowSkipped, events.SeverityInfo)
	e.UserID = q.UserID
	e.ThreadID = scope.ThreadID
	e.Detail["workflow"] = workflowID
	e.Detail["reason"] = reason
	return e
}

// recordTurn appends both sides of the exchange. Slash commands are
// surface plumbing and stay out of the conversational record.
func (p *Pipeline) recordTurn(ctx context.Context, scope memory.Scope, query, reply string, kind classify.TargetKind) {
	if p.store == nil || kind == classify.TargetSlashCommand {
		return
	}
	if err := p.store.AppendMessage(ctx, scope, "user", query); err != nil {
		p.logger.Warn("failed to record user message", "error", err)
		return
	}
	if err := p.store.AppendMessage(ctx, scope, "assistant", reply); err != nil {
		p.logger.Warn("failed to record assistant message", "error", err)
	}
}
