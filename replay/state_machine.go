package replay

import (
	"sync"
	"time"

	"flowcore.dev/engine/node"
	"flowcore.dev/engine/record"
)

// Phase is one state in the per-(tag,key) replay state machine:
// Idle -> Requested -> Filled -> Idle. Idle is never stored explicitly;
// its absence from the table IS the Idle state.
type Phase int

const (
	PhaseRequested Phase = iota
	PhaseFilled
)

func (p Phase) String() string {
	if p == PhaseFilled {
		return "filled"
	}
	return "requested"
}

type pendingKey struct {
	tag node.Tag
	key record.Key
}

type pendingEntry struct {
	phase       Phase
	trigger     node.Address
	requestedAt time.Time
}

// table is the guarded map backing the state machine. Every mutation
// is a conditional transition keyed on the caller's expected starting
// phase, the same "update WHERE phase = $expected" guard
// db.StateStore.UpdatePhase uses against a SQL row, adapted here to an
// in-memory entry so at-most-one request per (tag,key) holds without a
// database round trip.
type table struct {
	mu      sync.Mutex
	entries map[pendingKey]*pendingEntry
}

func newTable() *table {
	return &table{entries: make(map[pendingKey]*pendingEntry)}
}

// requestIfIdle transitions (tag,key) from the implicit Idle state to
// Requested, recording trigger for later diagnostics. It reports false
// (no transition performed) if a request is already outstanding --
// the at-most-one-in-flight rule from §4.3.
func (t *table) requestIfIdle(pk pendingKey, trigger node.Address, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[pk]; exists {
		return false
	}
	t.entries[pk] = &pendingEntry{phase: PhaseRequested, trigger: trigger, requestedAt: now}
	return true
}

// fill transitions (tag,key) from Requested to Filled and immediately
// releases it back to Idle by removing the entry -- nothing downstream
// needs to observe the Filled state once the miss has been satisfied.
// It reports false if no Requested entry existed, which indicates a
// ReplayPiece arrived for a key nobody is waiting on (late duplicate
// or a full-replay chunk, both harmless to ignore).
func (t *table) fill(pk pendingKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[pk]
	if !ok {
		return false
	}
	e.phase = PhaseFilled
	delete(t.entries, pk)
	return true
}

// sweepExpired returns every entry that has been Requested for longer
// than timeout, without removing them -- the caller decides whether to
// evict (fatal per §9) or extend.
func (t *table) sweepExpired(timeout time.Duration, now time.Time) []pendingKey {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []pendingKey
	for pk, e := range t.entries {
		if e.phase == PhaseRequested && now.Sub(e.requestedAt) > timeout {
			expired = append(expired, pk)
		}
	}
	return expired
}

func (t *table) forget(pk pendingKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, pk)
}

func (t *table) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
