package window

import (
	"testing"
	"time"
)

func TestWindowRecordAndCount(t *testing.T) {
	w := New[string](60 * time.Second)
	now := time.Now()

	w.Record("a", now)
	w.Record("b", now.Add(10*time.Second))
	w.Record("c", now.Add(20*time.Second))

	count := w.CountMatching(now.Add(20*time.Second), func(string) bool { return true })
	if count != 3 {
		t.Fatalf("expected 3, got %d", count)
	}

	count = w.CountMatching(now.Add(20*time.Second), func(v string) bool { return v == "b" })
	if count != 1 {
		t.Fatalf("expected 1 match, got %d", count)
	}
}

func TestWindowPruneExpired(t *testing.T) {
	w := New[int](60 * time.Second)
	now := time.Now()

	w.Record(1, now)
	w.Record(2, now.Add(30*time.Second))

	// first event is exactly window-old: it goes, the second stays
	count := w.CountMatching(now.Add(60*time.Second), func(int) bool { return true })
	if count != 1 {
		t.Fatalf("expected 1 after partial expiry, got %d", count)
	}

	w.Prune(now.Add(5 * time.Minute))
	if w.Len() != 0 {
		t.Fatalf("expected empty window after full expiry, got %d", w.Len())
	}
}

func TestWindowMatchingPreservesOrder(t *testing.T) {
	w := New[string](time.Minute)
	now := time.Now()
	w.Record("first", now)
	w.Record("second", now)
	w.Record("third", now.Add(time.Second))

	got := w.Matching(now.Add(time.Second), func(string) bool { return true })
	if len(got) != 3 || got[0] != "first" || got[1] != "second" || got[2] != "third" {
		t.Fatalf("expected insertion order, got %v", got)
	}
}
