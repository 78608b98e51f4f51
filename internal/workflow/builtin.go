package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// TrackerMutator applies a confirmed change to the issue tracker.
type TrackerMutator func(ctx context.Context, action, title string) (string, error)

// ReportSource gathers the raw activity a daily report is built from.
// Empty output with nil error means there is nothing to report on.
type ReportSource func(ctx context.Context, userID string) (string, error)

// issueIntent is the parsed shape of a mutation request, carried as
// the confirmation payload between turns.
type issueIntent struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// DPAAssistant handles issue tracker mutations. Every mutation stops
// for confirmation first; reads that reach it by misclassification are
// skipped back to the agent.
type DPAAssistant struct {
	mutate TrackerMutator
}

func NewDPAAssistant(mutate TrackerMutator) *DPAAssistant {
	return &DPAAssistant{mutate: mutate}
}

func (w *DPAAssistant) ID() string { return "dpa-assistant" }

func (w *DPAAssistant) Run(ctx context.Context, in Input) (Result, error) {
	intent, ok := parseIssueIntent(in.Query)
	if !ok {
		return Result{
			SkipWorkflow: true,
			SkipReason:   "query does not describe an issue mutation",
		}, nil
	}
	if in.OnUpdate != nil {
		in.OnUpdate("Preparing issue change...")
	}

	payload, err := json.Marshal(intent)
	if err != nil {
		return Result{}, fmt.Errorf("encode issue intent: %w", err)
	}
	return Result{
		NeedsConfirmation: true,
		ConfirmationPrompt: fmt.Sprintf("About to %s issue: %q",
			intent.Action, intent.Title),
		ConfirmationPayload: payload,
	}, nil
}

func (w *DPAAssistant) Resume(ctx context.Context, payload json.RawMessage, approved bool, in Input) (Result, error) {
	if !approved {
		return Result{Success: true, Response: "Cancelled. Nothing was changed."}, nil
	}
	var intent issueIntent
	if err := json.Unmarshal(payload, &intent); err != nil {
		return Result{}, fmt.Errorf("decode issue intent: %w", err)
	}
	if w.mutate == nil {
		return Result{}, fmt.Errorf("issue tracker is not configured")
	}
	out, err := w.mutate(ctx, intent.Action, intent.Title)
	if err != nil {
		return Result{}, fmt.Errorf("apply issue %s: %w", intent.Action, err)
	}
	return Result{Success: true, Response: out}, nil
}

// parseIssueIntent recognises create/close requests in Chinese and
// English. Anything else is not this workflow's business.
func parseIssueIntent(query string) (issueIntent, bool) {
	q := strings.TrimSpace(query)
	lower := strings.ToLower(q)

	action := ""
	switch {
	case strings.Contains(q, "创建") || strings.Contains(q, "新建") ||
		strings.Contains(lower, "create") || strings.Contains(lower, "open a"):
		action = "create"
	case strings.Contains(q, "关闭") || strings.Contains(lower, "close"):
		action = "close"
	default:
		return issueIntent{}, false
	}

	title := q
	for _, marker := range []string{":", "：", "titled", "叫"} {
		if idx := strings.Index(q, marker); idx >= 0 && idx+len(marker) < len(q) {
			title = strings.TrimSpace(q[idx+len(marker):])
			break
		}
	}
	return issueIntent{Action: action, Title: title}, true
}

// DailyReport assembles an activity summary. It skips back to the
// agent when there is no activity to summarise, so the user gets a
// conversational answer instead of an empty report.
type DailyReport struct {
	source ReportSource
}

func NewDailyReport(source ReportSource) *DailyReport {
	return &DailyReport{source: source}
}

func (w *DailyReport) ID() string { return "daily-report" }

func (w *DailyReport) Run(ctx context.Context, in Input) (Result, error) {
	if w.source == nil {
		return Result{
			SkipWorkflow: true,
			SkipReason:   "report source not configured",
		}, nil
	}
	if in.OnUpdate != nil {
		in.OnUpdate("Collecting today's activity...")
	}
	activity, err := w.source(ctx, in.UserID)
	if err != nil {
		return Result{}, fmt.Errorf("collect activity: %w", err)
	}
	if strings.TrimSpace(activity) == "" {
		return Result{
			SkipWorkflow: true,
			SkipReason:   "no activity found for this user today",
		}, nil
	}
	return Result{
		Success:  true,
		Response: "Daily report\n\n" + activity,
	}, nil
}

func (w *DailyReport) Resume(ctx context.Context, payload json.RawMessage, approved bool, in Input) (Result, error) {
	return Result{}, fmt.Errorf("daily-report has no confirmation step")
}
