package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cortexhub/cortex-dispatch/internal/config"
)

// Severity levels for dispatch events
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

// Event types emitted along the dispatch pipeline
const (
	TypeQueryReceived   = "query_received"
	TypeRouted          = "routed"
	TypeWorkflowSkipped = "workflow_skipped"
	TypeTierSwitched    = "tier_switched"
	TypeTerminalFailure = "terminal_failure"
)

// Event is one dispatch pipeline occurrence published for external
// consumers (dashboards, audit tooling).
type Event struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Severity string            `json:"severity"`
	UserID   string            `json:"user_id,omitempty"`
	ThreadID string            `json:"thread_id,omitempty"`
	Detail   map[string]string `json:"detail,omitempty"`
	Created  int64             `json:"created"`
}

// NewEvent creates an event with generated ID and timestamp.
func NewEvent(eventType, severity string) Event {
	return Event{
		ID:       uuid.NewString(),
		Type:     eventType,
		Severity: severity,
		Detail:   map[string]string{},
		Created:  time.Now().Unix(),
	}
}

// StreamName returns the Redis stream for a severity level.
func StreamName(severity string) string {
	switch severity {
	case SeverityError:
		return "dispatch:events:error"
	case SeverityWarn:
		return "dispatch:events:warn"
	default:
		return "dispatch:events:info"
	}
}

// ToRedisValues converts the event to Redis stream values.
func (e Event) ToRedisValues() map[string]interface{} {
	detailJSON, _ := json.Marshal(e.Detail)
	return map[string]interface{}{
		"id":        e.ID,
		"type":      e.Type,
		"severity":  e.Severity,
		"user_id":   e.UserID,
		"thread_id": e.ThreadID,
		"detail":    string(detailJSON),
		"created":   strconv.FormatInt(e.Created, 10),
	}
}

// EventFromRedisValues reconstructs an event from stream values.
func EventFromRedisValues(values map[string]interface{}) (*Event, error) {
	e := &Event{Detail: map[string]string{}}
	str := func(key string) string {
		if v, ok := values[key].(string); ok {
			return v
		}
		return ""
	}
	e.ID = str("id")
	e.Type = str("type")
	e.Severity = str("severity")
	e.UserID = str("user_id")
	e.ThreadID = str("thread_id")
	if e.ID == "" || e.Type == "" {
		return nil, fmt.Errorf("malformed event values")
	}
	if raw := str("detail"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &e.Detail); err != nil {
			return nil, fmt.Errorf("malformed event detail: %w", err)
		}
	}
	if raw := str("created"); raw != "" {
		created, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed event timestamp: %w", err)
		}
		e.Created = created
	}
	return e, nil
}

// Publisher pushes dispatch events somewhere external.
type Publisher interface {
	Publish(ctx context.Context, e Event)
	Close() error
}

// RedisPublisher writes events to severity-keyed Redis streams.
type RedisPublisher struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewPublisher connects a stream publisher. Disabled config yields a
// no-op publisher so call sites stay unconditional.
func NewPublisher(cfg config.EventsConfig, logger *slog.Logger) (Publisher, error) {
	if !cfg.Enabled {
		return NopPublisher{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("event stream redis unreachable: %w", err)
	}
	return &RedisPublisher{rdb: rdb, logger: logger}, nil
}

// Publish appends the event to its severity stream. Publishing is
// best effort and never blocks the reply path on failure.
func (p *RedisPublisher) Publish(ctx context.Context, e Event) {
	err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamName(e.Severity),
		MaxLen: 10000,
		Approx: true,
		Values: e.ToRedisValues(),
	}).Err()
	if err != nil {
		p.logger.Warn("event publish failed", "type", e.Type, "error", err)
	}
}

func (p *RedisPublisher) Close() error { return p.rdb.Close() }

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, e Event) {}
func (NopPublisher) Close() error                         { return nil }
