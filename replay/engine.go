package replay

import (
	"sync"
	"time"

	"flowcore.dev/engine/domain"
	"flowcore.dev/engine/node"
	"flowcore.dev/engine/record"
)

// Resolver is the per-domain surface the Engine needs to drive a replay
// path: read a source domain's materialized rows for a key, read every
// row for a full-replay prime, and deliver an assembled ReplayPiece to
// a target domain's local node. *domain.Domain satisfies this directly.
type Resolver interface {
	LookupPrimary(local node.LocalIndex, key record.Key) ([]record.Row, bool)
	AllPrimary(local node.LocalIndex) []record.Row
	DeliverReplayPiece(local node.LocalIndex, tag node.Tag, kf domain.KeyOrFull, delta record.Delta)
	EvictKey(local node.LocalIndex, key record.Key)
}

// Logger is the minimal surface Engine needs for diagnostics; satisfied
// by *logrus.Entry without importing logrus here.
type Logger interface {
	Warnf(format string, args ...interface{})
}

// PendingReplay names one outstanding (tag, key) request, returned by
// SweepTimeouts for the caller to treat as fatal per §4.3.
type PendingReplay struct {
	Tag node.Tag
	Key record.Key
}

// Engine is the process-wide driver for every replay path: it holds the
// Path registry, the per-(tag,key) Idle/Requested/Filled state machine
// (the at-most-one-in-flight rule of §4.3), and a directory of the
// Resolver owning each domain's state, so a miss reported by any domain
// can be dispatched to whichever domain can actually answer it. One
// Engine is shared by every domain in the process, mirroring the single
// shared channel.Coordinator.
type Engine struct {
	registry *Registry
	table    *table
	timeout  time.Duration
	log      Logger

	mu        sync.RWMutex
	resolvers map[node.Address]Resolver
}

func NewEngine(registry *Registry, timeout time.Duration, log Logger) *Engine {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Engine{
		registry:  registry,
		table:     newTable(),
		timeout:   timeout,
		log:       log,
		resolvers: make(map[node.Address]Resolver),
	}
}

// RegisterDomain associates addr with the Resolver (typically the
// *domain.Domain itself) that owns that domain-shard's state.
func (e *Engine) RegisterDomain(addr node.Address, r Resolver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resolvers[addr] = r
}

func (e *Engine) resolver(addr node.Address) Resolver {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.resolvers[addr]
}

// OnMiss implements domain.ReplayWatchdog. It transitions (tag,key) from
// Idle to Requested and, only on that transition, asynchronously
// dispatches the replay; a miss for an already-pending (tag,key)
// reports alreadyPending=true and performs no further work, per §4.3's
// "subsequent misses... are suppressed."
func (e *Engine) OnMiss(tag node.Tag, key record.Key, trigger node.Address) (alreadyPending bool) {
	pk := pendingKey{tag: tag, key: key}
	if !e.table.requestIfIdle(pk, trigger, time.Now()) {
		return true
	}
	go e.resolve(tag, key)
	return false
}

// OnReplayArrived implements domain.ReplayWatchdog: it retires the
// pending entry once the target domain has installed the replayed rows.
func (e *Engine) OnReplayArrived(tag node.Tag, key record.Key) {
	e.table.fill(pendingKey{tag: tag, key: key})
}

// resolve performs the trigger domain's half of §4.3's Execution step:
// look up key in the path's source (recursing through this same Engine
// if the source is itself partial is the caller's concern -- the source
// domain's own on_input/handleMiss path handles that transparently,
// since LookupPrimary just reads whatever state the source already
// has), then deliver the resulting rows (possibly empty, for "no such
// key") to the target as a ReplayPiece.
func (e *Engine) resolve(tag node.Tag, key record.Key) {
	path, ok := e.registry.Lookup(tag)
	if !ok {
		e.warnf("replay: unknown tag %s for key %q", tag, key)
		return
	}
	source := e.resolver(path.Source)
	target := e.resolver(path.Target)
	if source == nil || target == nil {
		e.warnf("replay: no resolver registered for path %s (source=%s target=%s)", tag, path.Source, path.Target)
		return
	}
	rows, _ := source.LookupPrimary(path.SourceNode, key)
	delta := rowsToDelta(rows)
	target.DeliverReplayPiece(path.TargetNode, tag, domain.KeyOrFull{Key: key}, delta)
}

// PrimeFull drives the full-replay "setup" edge case (§4.3): stream
// every row the path's source currently holds to the target, grouped by
// the path's key columns so each group arrives as one ReplayPiece.
func (e *Engine) PrimeFull(tag node.Tag) {
	path, ok := e.registry.Lookup(tag)
	if !ok || !path.Full {
		return
	}
	source := e.resolver(path.Source)
	target := e.resolver(path.Target)
	if source == nil || target == nil {
		e.warnf("replay: no resolver registered for full-replay path %s", tag)
		return
	}
	rows := source.AllPrimary(path.SourceNode)
	byKey := make(map[record.Key][]record.Row)
	for _, r := range rows {
		k := r.Key(path.Columns)
		byKey[k] = append(byKey[k], r)
	}
	for k, rs := range byKey {
		target.DeliverReplayPiece(path.TargetNode, tag, domain.KeyOrFull{Key: k, IsFull: true}, rowsToDelta(rs))
	}
}

// Evict drives §4.3's forward-traveling eviction: remove (tag,key) from
// the target's partial index and return the pending entry to Idle so a
// subsequent miss issues a fresh request.
func (e *Engine) Evict(tag node.Tag, key record.Key) {
	path, ok := e.registry.Lookup(tag)
	if !ok {
		return
	}
	if target := e.resolver(path.Target); target != nil {
		target.EvictKey(path.TargetNode, key)
	}
	e.table.forget(pendingKey{tag: tag, key: key})
}

// SweepTimeouts reports every (tag,key) Requested longer than the
// configured timeout without clearing it -- a non-empty result is fatal
// per §4.3/§7's ReplayTimeout, and it is the caller's responsibility to
// terminate the owning domain.
func (e *Engine) SweepTimeouts() []PendingReplay {
	expired := e.table.sweepExpired(e.timeout, time.Now())
	out := make([]PendingReplay, len(expired))
	for i, pk := range expired {
		out[i] = PendingReplay{Tag: pk.tag, Key: pk.key}
	}
	return out
}

// Pending reports the number of outstanding (tag,key) requests, used by
// tests asserting the at-most-one-in-flight invariant (§8 property 5).
func (e *Engine) Pending() int { return e.table.len() }

func (e *Engine) warnf(format string, args ...interface{}) {
	if e.log != nil {
		e.log.Warnf(format, args...)
	}
}

func rowsToDelta(rows []record.Row) record.Delta {
	var b record.Builder
	for _, r := range rows {
		b.Pos(r)
	}
	return b.Build()
}
