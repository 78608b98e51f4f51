package stream

import (
	"sync"
	"time"

	"github.com/cortexhub/cortex-dispatch/internal/config"
	"github.com/cortexhub/cortex-dispatch/internal/metrics"
)

// Sink receives forwarded updates. text is always the full text so
// far, never a delta; final marks the last update of the stream.
type Sink func(text string, final bool) error

// Batcher throttles growing-text snapshots into chat-surface updates.
//
// A snapshot is forwarded immediately when it is the first one, when
// enough new characters accumulated, or when too much time passed
// since the last forward. Otherwise a deferred forward is scheduled,
// replacing any previously scheduled one (debounce, not accumulate).
//
// Flush delivers any pending deferred content and then the final
// update. The final update is always the complete final text, sent
// after every partial update; the mutex serializes all sink calls so
// updates can never interleave or reorder.
type Batcher struct {
	mu   sync.Mutex
	sink Sink

	minChars    int
	maxInterval time.Duration
	debounce    time.Duration

	latest     string
	lastSent   string
	lastSentAt time.Time
	sentAny    bool
	timer      *time.Timer
	forwarded  int
	closed     bool
}

// NewBatcher creates a batcher forwarding to sink. A nil sink is
// accepted; surfaces without in-place edits pass none and rely on the
// final reply.
func NewBatcher(sink Sink, cfg config.BatcherConfig) *Batcher {
	if sink == nil {
		sink = func(string, bool) error { return nil }
	}
	return &Batcher{
		sink:        sink,
		minChars:    cfg.MinChars,
		maxInterval: cfg.MaxInterval.Std(),
		debounce:    cfg.Debounce.Std(),
	}
}

// Update offers a new snapshot of the growing text.
func (b *Batcher) Update(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.latest = text

	newChars := len(text) - len(b.lastSent)
	switch {
	case !b.sentAny:
		b.forwardLocked(text, false)
	case newChars >= b.minChars:
		b.forwardLocked(text, false)
	case time.Since(b.lastSentAt) >= b.maxInterval:
		b.forwardLocked(text, false)
	default:
		b.scheduleLocked()
	}
}

// Flush synchronously delivers pending deferred content, then the
// final update. The batcher accepts no updates afterwards.
func (b *Batcher) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
		if b.latest != b.lastSent {
			if err := b.sendLocked(b.latest, false); err != nil {
				return err
			}
		}
	}
	return b.sendLocked(b.latest, true)
}

// Forwarded returns how many updates were sent so far.
func (b *Batcher) Forwarded() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.forwarded
}

// LastSent returns the most recently forwarded text.
func (b *Batcher) LastSent() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSent
}

func (b *Batcher) scheduleLocked() {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.debounce, b.deferredForward)
}

func (b *Batcher) deferredForward() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.timer = nil
	if b.latest != b.lastSent {
		b.forwardLocked(b.latest, false)
	}
}

func (b *Batcher) forwardLocked(text string, final bool) {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	_ = b.sendLocked(text, final)
}

func (b *Batcher) sendLocked(text string, final bool) error {
	b.lastSent = text
	b.lastSentAt = time.Now()
	b.sentAny = true
	b.forwarded++
	metrics.UpdatesForwarded.Inc()
	return b.sink(text, final)
}
