package bonus

import (
	"sync"
	"time"
)

const (
	// DefaultWindow is the rolling interval the claim limiter counts over.
	DefaultWindow = time.Hour
	// DefaultMaxAttempts is how many claim attempts fit in one window.
	DefaultMaxAttempts = 1
)

// SlidingWindow admits at most max events per key within a rolling window.
// Each key keeps the timestamps of its admitted events, pruned on every
// check. It is safe for concurrent use.
type SlidingWindow struct {
	mu     sync.Mutex
	events map[string][]time.Time
	window time.Duration
	max    int
}

// NewSlidingWindow creates a limiter. Non-positive arguments select
// DefaultWindow and DefaultMaxAttempts.
func NewSlidingWindow(window time.Duration, max int) *SlidingWindow {
	if window <= 0 {
		window = DefaultWindow
	}
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	return &SlidingWindow{
		events: make(map[string][]time.Time),
		window: window,
		max:    max,
	}
}

// Allow reports whether key may proceed at now and records the event if so.
func (w *SlidingWindow) Allow(key string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := prune(w.events[key], now.Add(-w.window))
	if len(kept) >= w.max {
		w.events[key] = kept
		return false
	}
	w.events[key] = append(kept, now)
	return true
}

// Sweep drops keys whose events have all left the window.
func (w *SlidingWindow) Sweep(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.window)
	for key, ts := range w.events {
		if kept := prune(ts, cutoff); len(kept) == 0 {
			delete(w.events, key)
		} else {
			w.events[key] = kept
		}
	}
}

// Len returns the number of tracked keys.
func (w *SlidingWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.events)
}

// prune keeps timestamps strictly after cutoff. ts is in append order.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}
