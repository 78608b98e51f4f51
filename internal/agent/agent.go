package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/cortexhub/cortex-dispatch/internal/config"
	"github.com/cortexhub/cortex-dispatch/internal/memory"
	"github.com/cortexhub/cortex-dispatch/internal/metrics"
	"github.com/cortexhub/cortex-dispatch/internal/model"
	"github.com/cortexhub/cortex-dispatch/internal/monitor"
	"github.com/cortexhub/cortex-dispatch/internal/stream"
)

const thinkingPlaceholder = "_thinking..._"

const apologyText = "Sorry, I ran into a problem answering that. Please try again in a moment."

// streamRetryLimit caps restreams after a mid-stream rate limit. The
// selector's own retry budget still governs each Stream call.
const streamRetryLimit = 2

const defaultSystemPrompt = `You are a helpful assistant for a development team.
Answer directly and concisely. Use the conversation history and the
working notes below when they are relevant.`

// ContextStore is the slice of the memory store the agent reads for
// prompt assembly.
type ContextStore interface {
	History(ctx context.Context, scope memory.Scope, limit int) ([]memory.StoredMessage, error)
	Working(ctx context.Context, scope memory.Scope) (map[string]string, error)
}

// Answer is the final result of one agent turn.
type Answer struct {
	Text      string
	Reasoning string
	Meta      map[string]string
	Tier      model.Tier
}

// Agent is the terminal free-form handler. It never defers further:
// on model failure it still produces a user-visible apology and
// reports the failure to the health monitor.
type Agent struct {
	selector     *model.Selector
	store        ContextStore
	monitor      monitor.Notifier
	batcherCfg   config.BatcherConfig
	systemPrompt string
	logger       *slog.Logger
}

func New(selector *model.Selector, store ContextStore, notifier monitor.Notifier, batcherCfg config.BatcherConfig, logger *slog.Logger) *Agent {
	if notifier == nil {
		notifier = monitor.NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		selector:     selector,
		store:        store,
		monitor:      notifier,
		batcherCfg:   batcherCfg,
		systemPrompt: defaultSystemPrompt,
		logger:       logger,
	}
}

// Respond streams an answer for the query. Partial text goes through
// the update batcher to onUpdate; the returned Answer is always
// populated, with the apology text on terminal failure.
func (a *Agent) Respond(ctx context.Context, query string, scope memory.Scope, onUpdate stream.Sink) (Answer, error) {
	metrics.AgentFallbacks.Inc()

	req, err := a.buildRequest(ctx, query, scope)
	if err != nil {
		// History is an enhancement, not a requirement
		a.logger.Warn("prompt assembly degraded", "error", err)
		req = &model.Request{System: a.systemPrompt, Prompt: query}
	}

	scanner := NewThinkingScanner("", "")
	batcher := stream.NewBatcher(onUpdate, a.batcherCfg)
	meta := map[string]string{}

	var tier model.Tier
	for attempt := 0; ; attempt++ {
		chunks, t, err := a.selector.Stream(ctx, req)
		if err != nil {
			return a.terminalFailure(ctx, onUpdate, err)
		}
		tier = t

		rateLimited := false
		for chunk := range chunks {
			if chunk.Err != nil {
				// The selector already cooled the tier down; a fresh
				// Stream call lands on the other one.
				if model.IsRateLimit(chunk.Err) && attempt < streamRetryLimit {
					rateLimited = true
					break
				}
				return a.terminalFailure(ctx, onUpdate, chunk.Err)
			}
			for k, v := range chunk.Meta {
				meta[k] = v
			}
			if chunk.Done {
				break
			}
			if chunk.Content == "" {
				continue
			}
			scanner.Write(chunk.Content)
			batcher.Update(visibleText(scanner))
		}
		if !rateLimited {
			break
		}

		go func(ch <-chan model.Chunk) {
			for range ch {
			}
		}(chunks)
		a.logger.Warn("stream rate limited, restreaming", "tier", tier, "attempt", attempt)
		scanner = NewThinkingScanner("", "")
		meta = map[string]string{}
	}

	scanner.Finish()
	batcher.Update(scanner.Display())
	if err := batcher.Flush(); err != nil {
		a.logger.Warn("final update delivery failed", "error", err)
	}

	return Answer{
		Text:      scanner.Display(),
		Reasoning: scanner.Reasoning(),
		Meta:      meta,
		Tier:      tier,
	}, nil
}

// visibleText is the user-facing view of the stream so far, with a
// placeholder standing in while a thinking segment is open.
func visibleText(s *ThinkingScanner) string {
	text := s.Display()
	if s.Open() {
		if text == "" {
			return thinkingPlaceholder
		}
		return text + "\n\n" + thinkingPlaceholder
	}
	return text
}

func (a *Agent) buildRequest(ctx context.Context, query string, scope memory.Scope) (*model.Request, error) {
	req := &model.Request{
		System:    a.systemPrompt,
		Prompt:    query,
		SessionID: scope.ThreadID,
	}
	if a.store == nil {
		return req, nil
	}

	history, err := a.store.History(ctx, scope, 0)
	if err != nil {
		return req, fmt.Errorf("load history: %w", err)
	}
	for _, msg := range history {
		req.Messages = append(req.Messages, model.Message{Role: msg.Role, Content: msg.Content})
	}

	working, err := a.store.Working(ctx, scope)
	if err != nil {
		return req, fmt.Errorf("load working memory: %w", err)
	}
	if notes := formatWorking(working); notes != "" {
		req.System = a.systemPrompt + "\n\nWorking notes:\n" + notes
	}
	return req, nil
}

// formatWorking renders working-memory facts for the system prompt.
// Confirmation payloads are internal plumbing and stay out of it.
func formatWorking(working map[string]string) string {
	keys := make([]string, 0, len(working))
	for k := range working {
		if strings.HasPrefix(k, "confirm:") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, working[k])
	}
	return b.String()
}

// terminalFailure is the end of the line: apologize, report, return.
func (a *Agent) terminalFailure(ctx context.Context, onUpdate stream.Sink, cause error) (Answer, error) {
	category := monitor.InferCategory(cause)
	a.logger.Error("agent terminal failure", "category", category, "error", cause)
	a.monitor.NotifyFailure(ctx, category, cause.Error())

	if onUpdate != nil {
		if err := onUpdate(apologyText, true); err != nil {
			a.logger.Warn("failed to deliver apology", "error", err)
		}
	}
	return Answer{Text: apologyText}, fmt.Errorf("agent generation: %w", cause)
}
