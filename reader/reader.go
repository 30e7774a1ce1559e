// Package reader implements the external-facing read path from §4.4: a
// point-lookup surface over a Reader node's materialized index, with
// blocking and non-blocking miss handling and a per-key one-shot waiter
// signal driven by state.Index's single-writer/many-reader semantics.
package reader

import (
	"context"
	"errors"
	"sync"

	"flowcore.dev/engine/errs"
	"flowcore.dev/engine/record"
	"flowcore.dev/engine/state"
)

var (
	errNoSuchKey  = errors.New("no rows for key")
	errNotReady   = errors.New("node not ready")
	errCancelled  = errors.New("lookup cancelled")
)

// Trigger requests that an upstream replay be initiated for key -- the
// domain's TriggerReplay method, threaded through as a closure so this
// package never imports domain (which would cycle back through ops).
type Trigger func(key record.Key)

// Result is the outcome of one key's lookup: either the materialized
// rows or a structured *errs.Error (NotReady, Missing, Cancelled).
type Result struct {
	Key  record.Key
	Rows []record.Row
	Err  error
}

// Reader exposes §6's Reader.lookup(key_list, block) -> []Result
// contract over one node's materialized index. Reads never mutate
// state; the only shared mutable state touched is state.Index's own
// mutex-guarded map, already safe for concurrent readers.
type Reader struct {
	mu      sync.RWMutex
	index   *state.Index
	trigger Trigger
	ready   func() bool
}

// New builds a Reader over index. ready reports whether the owning
// node has finished priming (§7's NotReady); trigger requests a replay
// for a miss (nil is valid for a fully-materialized reader that never
// misses).
func New(index *state.Index, ready func() bool, trigger Trigger) *Reader {
	return &Reader{index: index, ready: ready, trigger: trigger}
}

// Rebind swaps the underlying index, used when a migration replaces a
// reader's materialization (e.g. a new index added by suggest_indexes).
func (r *Reader) Rebind(index *state.Index) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.index = index
}

func (r *Reader) current() *state.Index {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index
}

// Lookup resolves every key in keys against the materialized index. If
// block is true, a partial miss parks the caller on the index's waiter
// list until the triggered replay lands (or ctx is cancelled); if block
// is false, a miss returns errs.KindMissing immediately and the replay
// is triggered for the caller's *next* lookup to observe.
func (r *Reader) Lookup(ctx context.Context, keys []record.Key, block bool) []Result {
	out := make([]Result, len(keys))
	for i, k := range keys {
		out[i] = r.lookupOne(ctx, k, block)
	}
	return out
}

func (r *Reader) lookupOne(ctx context.Context, k record.Key, block bool) Result {
	if r.ready != nil && !r.ready() {
		return Result{Key: k, Err: errs.NotReady("reader.lookup", errNotReady)}
	}
	ix := r.current()
	rows, miss := ix.Lookup(k)
	if miss == nil {
		return Result{Key: k, Rows: rows}
	}
	if !block {
		r.fireTrigger(k)
		return Result{Key: k, Err: errs.Missing("reader.lookup", errNoSuchKey)}
	}

	wait := ix.Wait(k)
	r.fireTrigger(k)
	select {
	case <-wait:
		rows, miss = ix.Lookup(k)
		if miss != nil {
			// Replay landed empty-handed (no such key upstream) --
			// §8 S2's "lookup([99]) returns ∅" choice: an absent key
			// resolves to zero rows, not a further error.
			return Result{Key: k}
		}
		return Result{Key: k, Rows: rows}
	case <-ctx.Done():
		return Result{Key: k, Err: errs.Cancelled("reader.lookup", errCancelled)}
	}
}

func (r *Reader) fireTrigger(k record.Key) {
	if r.trigger != nil {
		r.trigger(k)
	}
}

// Len reports the total number of materialized rows across every key,
// used by §8 S5's cardinality check.
func (r *Reader) Len() int { return r.current().Len() }
