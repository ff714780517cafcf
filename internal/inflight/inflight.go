package inflight

import (
	"context"
	"sync"

	"golang.org/x/exp/slices"
)

// entry is one pending timestamp and the number of payments currently being
// dispatched with that stamp.
type entry struct {
	ts      int64
	pending uint64
}

func compareEntry(e entry, ts int64) int {
	switch {
	case e.ts < ts:
		return -1
	case e.ts > ts:
		return 1
	default:
		return 0
	}
}

// Tracker is an ordered multiset of in-flight payment timestamps. All methods
// are safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	entries []entry // sorted by ts
	wake    chan struct{}
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{wake: make(chan struct{})}
}

// Register marks one payment with stamp ts as in flight and returns the guard
// that ends it. The caller must release the guard on every exit path of its
// dispatch, typically via defer.
func (t *Tracker) Register(ts int64) *Guard {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, found := slices.BinarySearchFunc(t.entries, ts, compareEntry)
	if found {
		t.entries[i].pending++
	} else {
		t.entries = slices.Insert(t.entries, i, entry{ts: ts, pending: 1})
	}
	return &Guard{tracker: t, ts: ts}
}

// IsLocked reports whether any in-flight timestamp falls inside [from, to].
// Both bounds are inclusive; nil means unbounded. A nil upper bound always
// reports unlocked, so open-ended summary reads never wait (see package doc).
func (t *Tracker) IsLocked(from, to *int64) bool {
	if to == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lockedWindow(from, to)
}

// WaitUntilUnlocked blocks until IsLocked(from, to) is false or ctx ends.
// Every guard release that empties a timestamp wakes all waiters, which then
// re-check their window.
func (t *Tracker) WaitUntilUnlocked(ctx context.Context, from, to *int64) error {
	if to == nil {
		return nil
	}
	for {
		t.mu.Lock()
		locked := t.lockedWindow(from, to)
		wake := t.wake
		t.mu.Unlock()

		if !locked {
			return nil
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pending returns the number of distinct in-flight timestamps.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// lockedWindow reports whether [from, to] contains a pending timestamp.
// Caller holds t.mu; to is non-nil.
func (t *Tracker) lockedWindow(from, to *int64) bool {
	i := 0
	if from != nil {
		i, _ = slices.BinarySearchFunc(t.entries, *from, compareEntry)
	}
	return i < len(t.entries) && t.entries[i].ts <= *to
}

// release decrements the multiset at ts. When the last payment at that stamp
// completes, the key is dropped and all waiters are woken.
func (t *Tracker) release(ts int64) {
	t.mu.Lock()
	i, found := slices.BinarySearchFunc(t.entries, ts, compareEntry)
	if !found {
		t.mu.Unlock()
		return
	}
	t.entries[i].pending--

	var wake chan struct{}
	if t.entries[i].pending == 0 {
		t.entries = slices.Delete(t.entries, i, i+1)
		wake = t.wake
		t.wake = make(chan struct{})
	}
	t.mu.Unlock()

	if wake != nil {
		close(wake)
	}
}

// Guard represents one registered in-flight payment.
type Guard struct {
	tracker *Tracker
	ts      int64
	once    sync.Once
}

// Release ends the in-flight phase for this payment. It is idempotent, so
// deferred and explicit releases may coexist on the same guard.
func (g *Guard) Release() {
	g.once.Do(func() { g.tracker.release(g.ts) })
}
