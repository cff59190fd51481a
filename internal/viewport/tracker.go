package viewport

import (
	"sort"
	"sync"
)

// DefaultEagerPages is how many leading pages are marked visible at setup,
// before any observer callback fires, so the first screenful never shows an
// empty placeholder.
const DefaultEagerPages = 8

// Tracker maintains the set of page numbers the user can currently see.
// Pages are only ever added; the tracker is reset wholesale on document
// change. Subscribers are notified with the full visible set on every change.
type Tracker struct {
	mu      sync.Mutex
	total   int
	eager   int
	visible map[int]struct{}
	subs    []func(visible []int)
	closed  bool
}

// New creates a Tracker for a document with total pages and immediately marks
// the first min(eager, total) pages visible. eager <= 0 uses the default.
func New(total, eager int) *Tracker {
	if eager <= 0 {
		eager = DefaultEagerPages
	}
	t := &Tracker{total: total, eager: eager, visible: map[int]struct{}{}}
	t.markEager()
	return t
}

func (t *Tracker) markEager() {
	n := t.eager
	if t.total < n {
		n = t.total
	}
	for p := 1; p <= n; p++ {
		t.visible[p] = struct{}{}
	}
}

// Subscribe registers a visible-set-changed listener and fires it once with
// the current snapshot, so late subscribers still see the eager pages.
func (t *Tracker) Subscribe(fn func(visible []int)) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.subs = append(t.subs, fn)
	snapshot := t.snapshotLocked()
	t.mu.Unlock()
	fn(snapshot)
}

// PageEntered records that the placeholder for page intersected the viewport.
// Idempotent; out-of-range pages and calls after Close are no-ops.
func (t *Tracker) PageEntered(page int) {
	t.mu.Lock()
	if t.closed || page < 1 || page > t.total {
		t.mu.Unlock()
		return
	}
	if _, ok := t.visible[page]; ok {
		t.mu.Unlock()
		return
	}
	t.visible[page] = struct{}{}
	subs := append([]func([]int){}, t.subs...)
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}

// Visible returns the sorted visible set.
func (t *Tracker) Visible() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() []int {
	out := make([]int, 0, len(t.visible))
	for p := range t.visible {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// Reset rebuilds the tracker for a new document: the visible set is replaced
// by the eager pages of the new document. Subscribers stay registered.
func (t *Tracker) Reset(total int) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.total = total
	t.visible = map[int]struct{}{}
	t.markEager()
	subs := append([]func([]int){}, t.subs...)
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}

// Close disconnects the tracker. A PageEntered arriving after Close must not
// fire callbacks against stale state; that is a correctness requirement, not
// a cosmetic one.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.subs = nil
	t.mu.Unlock()
}
