package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cortexhub/cortex-dispatch/internal/config"
	"github.com/cortexhub/cortex-dispatch/internal/metrics"
)

// Failure categories reported to the health monitor. Coarse on
// purpose; the monitor aggregates, it does not diagnose.
const (
	CategoryRateLimit = "RATE_LIMIT"
	CategoryTimeout   = "TIMEOUT"
	CategoryAuthError = "AUTH_ERROR"
	CategoryOther     = "OTHER"
)

// Notifier reports terminal failures to an external health monitor.
type Notifier interface {
	NotifyFailure(ctx context.Context, category, detail string)
}

// Client is the REST notifier for the health-monitoring service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a monitor client. An empty URL yields a no-op
// notifier so callers never need a nil check.
func NewClient(cfg config.MonitorConfig, logger *slog.Logger) Notifier {
	if cfg.URL == "" {
		return NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout.Std()},
		logger:     logger,
	}
}

// failureReport is the wire shape of one failure notification.
type failureReport struct {
	Category  string `json:"category"`
	Detail    string `json:"detail"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
}

// NotifyFailure posts one failure report. Notification failures are
// logged and swallowed; monitoring must never break the reply path.
func (c *Client) NotifyFailure(ctx context.Context, category, detail string) {
	metrics.TerminalFailures.WithLabelValues(category).Inc()
	report := failureReport{
		Category:  category,
		Detail:    detail,
		Source:    "cortex-dispatch",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(report)
	if err != nil {
		c.logger.Warn("failed to encode failure report", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/failures", bytes.NewReader(body))
	if err != nil {
		c.logger.Warn("failed to build monitor request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("monitor unreachable", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		c.logger.Warn("monitor rejected report",
			"status", fmt.Sprintf("%d", resp.StatusCode), "category", category)
	}
}

// NopNotifier discards reports. Used when no monitor is configured
// and in tests.
type NopNotifier struct{}

func (NopNotifier) NotifyFailure(ctx context.Context, category, detail string) {
	metrics.TerminalFailures.WithLabelValues(category).Inc()
}

// InferCategory maps an error to a coarse failure category by message
// heuristics. Providers rarely type their errors consistently enough
// for anything better.
func InferCategory(err error) string {
	if err == nil {
		return CategoryOther
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "quota"):
		return CategoryRateLimit
	case strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "deadline exceeded"):
		return CategoryTimeout
	case strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "401") ||
		strings.Contains(msg, "403") ||
		strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "authentication"):
		return CategoryAuthError
	default:
		return CategoryOther
	}
}
