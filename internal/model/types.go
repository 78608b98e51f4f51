package model

import (
	"context"
	"errors"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Tier identifies one of the two interchangeable model back-ends
type Tier string

const (
	TierPrimary  Tier = "primary"
	TierFallback Tier = "fallback"
)

// Message is one turn of conversation context
type Message struct {
	Role    string
	Content string
}

// Request represents a generation request
type Request struct {
	System    string
	Messages  []Message
	Prompt    string
	Model     string
	SessionID string
}

// Response represents a full completion
type Response struct {
	Content    string
	Model      string
	TokensUsed int
	Tier       Tier
}

// Chunk is one increment of a streamed completion. Meta carries
// out-of-band events (finish reason, model switches) that arrive on
// the same underlying stream as the text and must not be dropped.
type Chunk struct {
	Content string
	Meta    map[string]string
	Done    bool
	Err     error
}

// Client is the interface for generation providers
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	Stream(ctx context.Context, req *Request) (<-chan Chunk, error)
	Health() error
}

// ErrTiersExhausted is returned when the retry budget is spent with
// both tiers cooling down.
var ErrTiersExhausted = errors.New("all model tiers exhausted")

// IsRateLimit reports whether an error looks like a rate-limit
// rejection. Providers differ, so this is heuristic: a 429 status
// where available, message content otherwise.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "quota exceeded")
}
