package model

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/cortexhub/cortex-dispatch/internal/config"
	"github.com/cortexhub/cortex-dispatch/internal/metrics"
)

// tierState tracks rate-limit health for one tier. consecutiveFailures
// resets the moment any call on the tier succeeds, not on tier switch.
type tierState struct {
	consecutiveFailures int
	cooldownUntil       time.Time
}

// Selector owns per-process model tier state and routes generation
// calls to a healthy tier. Primary is preferred; fallback covers its
// cooldowns; when both are cooling it retries primary with capped
// exponential backoff until the retry budget runs out.
type Selector struct {
	mu      sync.Mutex
	clients map[Tier]Client
	states  map[Tier]*tierState

	cooldown    time.Duration
	backoffBase time.Duration
	backoffMax  time.Duration
	maxRetries  int

	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewSelector creates a selector over the two tier clients.
func NewSelector(primary, fallback Client, cfg config.ModelsConfig, logger *slog.Logger) *Selector {
	return &Selector{
		clients: map[Tier]Client{
			TierPrimary:  primary,
			TierFallback: fallback,
		},
		states: map[Tier]*tierState{
			TierPrimary:  {},
			TierFallback: {},
		},
		cooldown:    cfg.Cooldown.Std(),
		backoffBase: cfg.BackoffBase.Std(),
		backoffMax:  cfg.BackoffMax.Std(),
		maxRetries:  cfg.MaxRetries,
		logger:      logger,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// pick returns the preferred healthy tier, or "" when both are
// cooling down.
func (s *Selector) pick() Tier {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if !now.Before(s.states[TierPrimary].cooldownUntil) {
		return TierPrimary
	}
	if !now.Before(s.states[TierFallback].cooldownUntil) {
		return TierFallback
	}
	return ""
}

func (s *Selector) markRateLimited(tier Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[tier]
	st.consecutiveFailures++
	st.cooldownUntil = s.now().Add(s.cooldown)
	if s.logger != nil {
		s.logger.Warn("tier rate limited",
			"tier", tier,
			"consecutive_failures", st.consecutiveFailures,
			"cooldown_until", st.cooldownUntil)
	}
	metrics.ModelFailovers.WithLabelValues(string(tier)).Inc()
}

func (s *Selector) markSuccess(tier Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[tier]
	st.consecutiveFailures = 0
	st.cooldownUntil = time.Time{}
}

// Failures returns the consecutive failure count for a tier.
func (s *Selector) Failures(tier Tier) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[tier].consecutiveFailures
}

// CoolingDown reports whether a tier is in its cooldown window.
func (s *Selector) CoolingDown(tier Tier) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Before(s.states[tier].cooldownUntil)
}

func (s *Selector) backoff(attempt int) time.Duration {
	d := s.backoffBase << uint(attempt)
	if d > s.backoffMax || d <= 0 {
		d = s.backoffMax
	}
	// jitter: [d/2, d)
	half := d / 2
	if half > 0 {
		d = half + time.Duration(rand.Int63n(int64(half)))
	}
	return d
}

// Complete runs a full completion with rate-limit failover. Errors
// that are not rate limits propagate unchanged.
func (s *Selector) Complete(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		tier := s.pick()
		if tier == "" {
			// both cooling: back off then retry primary
			if err := s.sleep(ctx, s.backoff(attempt)); err != nil {
				return nil, err
			}
			tier = TierPrimary
		}

		resp, err := s.clients[tier].Complete(ctx, req)
		if err == nil {
			s.markSuccess(tier)
			metrics.ModelCalls.WithLabelValues(string(tier), "ok").Inc()
			resp.Tier = tier
			return resp, nil
		}
		if !IsRateLimit(err) {
			metrics.ModelCalls.WithLabelValues(string(tier), "error").Inc()
			return nil, err
		}
		metrics.ModelCalls.WithLabelValues(string(tier), "rate_limited").Inc()
		s.markRateLimited(tier)
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrTiersExhausted, lastErr)
}

// Stream starts a streamed completion with the same failover policy
// as Complete. The returned channel is the provider stream wrapped so
// a clean completion resets the serving tier's failure state.
func (s *Selector) Stream(ctx context.Context, req *Request) (<-chan Chunk, Tier, error) {
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		tier := s.pick()
		if tier == "" {
			if err := s.sleep(ctx, s.backoff(attempt)); err != nil {
				return nil, "", err
			}
			tier = TierPrimary
		}

		ch, err := s.clients[tier].Stream(ctx, req)
		if err == nil {
			return s.wrapStream(ch, tier), tier, nil
		}
		if !IsRateLimit(err) {
			metrics.ModelCalls.WithLabelValues(string(tier), "error").Inc()
			return nil, "", err
		}
		metrics.ModelCalls.WithLabelValues(string(tier), "rate_limited").Inc()
		s.markRateLimited(tier)
		lastErr = err
	}
	return nil, "", fmt.Errorf("%w: %v", ErrTiersExhausted, lastErr)
}

func (s *Selector) wrapStream(in <-chan Chunk, tier Tier) <-chan Chunk {
	out := make(chan Chunk)
	go func() {
		defer close(out)
		failed := false
		for chunk := range in {
			if chunk.Err != nil {
				failed = true
				if IsRateLimit(chunk.Err) {
					s.markRateLimited(tier)
				}
			}
			out <- chunk
		}
		if !failed {
			s.markSuccess(tier)
			metrics.ModelCalls.WithLabelValues(string(tier), "ok").Inc()
		}
	}()
	return out
}
