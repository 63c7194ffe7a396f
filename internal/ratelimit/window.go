package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter bounds outbound requests to one provider.
type Limiter interface {
	// TryAcquire takes a permit if one is available, without blocking.
	TryAcquire() bool
	// AcquireWithTimeout blocks the caller until a permit is taken, maxWait
	// elapses or ctx is done. It reports whether a permit was taken.
	AcquireWithTimeout(ctx context.Context, maxWait time.Duration) bool
}

const (
	// DefaultWindow is the rolling window all provider quotas are expressed in.
	DefaultWindow = time.Minute
	// DefaultPollInterval is how often AcquireWithTimeout re-checks the window.
	DefaultPollInterval = 250 * time.Millisecond
)

// SlidingWindow admits at most limit requests in any trailing window.
// Bursts up to the limit are allowed; nothing is smoothed.
type SlidingWindow struct {
	mu     sync.Mutex
	stamps []time.Time // oldest first

	limit  int
	window time.Duration
	poll   time.Duration
	now    func() time.Time
}

// Option customizes a SlidingWindow.
type Option func(*SlidingWindow)

// WithWindow overrides the 60 second window.
func WithWindow(d time.Duration) Option {
	return func(w *SlidingWindow) { w.window = d }
}

// WithPollInterval overrides how often blocked callers re-check.
func WithPollInterval(d time.Duration) Option {
	return func(w *SlidingWindow) { w.poll = d }
}

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(w *SlidingWindow) { w.now = now }
}

// NewSlidingWindow creates a limiter admitting limit requests per window.
func NewSlidingWindow(limit int, opts ...Option) *SlidingWindow {
	w := &SlidingWindow{
		limit:  limit,
		window: DefaultWindow,
		poll:   DefaultPollInterval,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.stamps = make([]time.Time, 0, limit)
	return w
}

func (w *SlidingWindow) TryAcquire() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.evict(now)
	if len(w.stamps) >= w.limit {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

func (w *SlidingWindow) AcquireWithTimeout(ctx context.Context, maxWait time.Duration) bool {
	if w.TryAcquire() {
		return true
	}
	if maxWait <= 0 {
		return false
	}

	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
			if w.TryAcquire() {
				return true
			}
		}
	}
}

// Remaining returns how many permits are currently available.
func (w *SlidingWindow) Remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evict(w.now())
	return w.limit - len(w.stamps)
}

// evict drops timestamps that left the window. Caller holds mu.
func (w *SlidingWindow) evict(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}
