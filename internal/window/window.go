package window

import (
	"sync"
	"time"
)

type entry[E any] struct {
	event E
	at    time.Time
}

// Window is a sliding-time-window multiset of events. Events are kept in
// insertion order; wall-clock timestamps are fine for the sub-minute windows
// this serves.
type Window[E any] struct {
	mu      sync.Mutex
	window  time.Duration
	entries []entry[E]
}

func New[E any](window time.Duration) *Window[E] {
	return &Window[E]{window: window}
}

func (w *Window[E]) Record(event E, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	w.entries = append(w.entries, entry[E]{event: event, at: now})
}

// Prune drops every event at or before now minus the window duration.
func (w *Window[E]) Prune(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
}

func (w *Window[E]) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.window)
	idx := 0
	for _, e := range w.entries {
		if e.at.After(cutoff) {
			break
		}
		idx++
	}
	w.entries = w.entries[idx:]
}

// CountMatching prunes, then counts live events satisfying pred. Linear scan;
// windows stay small at realistic event rates.
func (w *Window[E]) CountMatching(now time.Time, pred func(E) bool) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	count := 0
	for _, e := range w.entries {
		if pred(e.event) {
			count++
		}
	}
	return count
}

// Matching prunes, then returns live events satisfying pred in insertion
// order.
func (w *Window[E]) Matching(now time.Time, pred func(E) bool) []E {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	var matched []E
	for _, e := range w.entries {
		if pred(e.event) {
			matched = append(matched, e.event)
		}
	}
	return matched
}

func (w *Window[E]) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}
