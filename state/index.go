// Package state implements per-node materialization: keyed multiset
// indices, either full (every row ever seen) or partial (holes filled
// on demand by replay), generalized from the teacher's
// statemanager.Manager (a mutex-guarded map with copy-out reads and
// oldest-entry eviction) to a keyed multi-index row store.
package state

import (
	"sync"

	"flowcore.dev/engine/record"
)

// Spec declares one index: the columns it is keyed on, and whether it
// is the node's unique (primary) index.
type Spec struct {
	Columns []int
	Unique  bool
}

// Miss is the signal that a lookup hit an unfilled key in a partial
// index. It carries enough for the domain to resolve the owning
// replay path.
type Miss struct {
	Key     record.Key
	Columns []int
}

// Index is one keyed multiset materialization. A node may hold several
// (requested via ops.Operator.SuggestIndexes); each is independently
// full or partial.
type Index struct {
	spec Spec

	mu      sync.RWMutex
	rows    map[record.Key][]record.Row
	filled  map[record.Key]bool // only consulted when partial
	partial bool

	// waiters backs §4.4's blocking-reader registration: a one-shot
	// channel per (key, waiter) closed exactly once when the key is
	// next filled or marked full. Only ever populated for a partial
	// index -- a full index's Wait always returns an already-closed
	// channel.
	waiters map[record.Key][]chan struct{}
}

func NewFull(spec Spec) *Index {
	return &Index{spec: spec, rows: make(map[record.Key][]record.Row)}
}

func NewPartial(spec Spec) *Index {
	return &Index{
		spec:    spec,
		rows:    make(map[record.Key][]record.Row),
		filled:  make(map[record.Key]bool),
		partial: true,
	}
}

func (ix *Index) Spec() Spec   { return ix.spec }
func (ix *Index) Partial() bool { return ix.partial }

// Lookup returns the rows for key k. miss is non-nil when the index is
// partial and k has never been filled.
func (ix *Index) Lookup(k record.Key) (rows []record.Row, miss *Miss) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.partial && !ix.filled[k] {
		return nil, &Miss{Key: k, Columns: ix.spec.Columns}
	}
	rows = ix.rows[k]
	out := make([]record.Row, len(rows))
	copy(out, rows)
	return out, nil
}

// Wait returns a channel that is closed once k is filled (or
// immediately, already closed, if k is already filled or the index is
// fully materialized). Registering a waiter and checking fill status
// happen atomically under the same lock Insert/MarkFilled use, so no
// wakeup can be lost between a caller's Lookup miss and its Wait call.
func (ix *Index) Wait(k record.Key) <-chan struct{} {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ch := make(chan struct{})
	if !ix.partial || ix.filled[k] {
		close(ch)
		return ch
	}
	if ix.waiters == nil {
		ix.waiters = make(map[record.Key][]chan struct{})
	}
	ix.waiters[k] = append(ix.waiters[k], ch)
	return ch
}

// notifyLocked closes and clears every waiter registered for k. Must be
// called with ix.mu held.
func (ix *Index) notifyLocked(k record.Key) {
	for _, ch := range ix.waiters[k] {
		close(ch)
	}
	delete(ix.waiters, k)
}

// Insert applies a positive record to the index at key k.
func (ix *Index) Insert(k record.Key, row record.Row) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.rows[k] = append(ix.rows[k], row.Clone())
	if ix.partial {
		ix.filled[k] = true
	}
	ix.notifyLocked(k)
}

// Remove applies a negative record: removes the first row under k that
// deep-equals row (column by column, via Value.Compare), returning whether a
// row was actually removed.
func (ix *Index) Remove(k record.Key, row record.Row) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	rows := ix.rows[k]
	for i, r := range rows {
		if rowsEqual(r, row) {
			ix.rows[k] = append(rows[:i], rows[i+1:]...)
			return true
		}
	}
	return false
}

// MarkFilled installs rows for k (replacing any prior contents) and
// marks the key filled. Used on replay arrival and full-replay priming.
func (ix *Index) MarkFilled(k record.Key, rows []record.Row) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	cloned := make([]record.Row, len(rows))
	for i, r := range rows {
		cloned[i] = r.Clone()
	}
	ix.rows[k] = cloned
	if ix.partial {
		ix.filled[k] = true
	}
	ix.notifyLocked(k)
}

// Evict removes k's entry entirely and, for a partial index, returns it
// to the unfilled state so the next lookup reports a fresh Miss.
func (ix *Index) Evict(k record.Key) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.rows, k)
	if ix.partial {
		delete(ix.filled, k)
	}
}

// All returns every row currently materialized in the index,
// regardless of key. Used to prime a downstream full-replay path from
// a fully materialized ancestor.
func (ix *Index) All() []record.Row {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var out []record.Row
	for _, rows := range ix.rows {
		for _, r := range rows {
			out = append(out, r.Clone())
		}
	}
	return out
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n := 0
	for _, rows := range ix.rows {
		n += len(rows)
	}
	return n
}

func rowsEqual(a, b record.Row) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Compare(b[i]) != 0 {
			return false
		}
	}
	return true
}
