package domain

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"flowcore.dev/engine/channel"
	"flowcore.dev/engine/errs"
	"flowcore.dev/engine/node"
	"flowcore.dev/engine/ops"
	"flowcore.dev/engine/reader"
	"flowcore.dev/engine/record"
	"flowcore.dev/engine/state"
)

// ReplayWatchdog is consulted by the domain on every emitted
// RequestPartialReplay and every arriving ReplayPiece; it is the
// replay package's Engine, kept as an interface here to avoid an
// import cycle.
type ReplayWatchdog interface {
	OnMiss(tag node.Tag, key record.Key, trigger node.Address) (alreadyPending bool)
	OnReplayArrived(tag node.Tag, key record.Key)
}

// Config mirrors worker.Config's "named queues with bounded
// concurrency" shape, generalized to one domain's tunables.
type Config struct {
	Index               node.DomainIndex
	Shard               node.Shard
	MaxConcurrentReplays int64
	QueueDepth           int
}

// Domain is a single-threaded executor owning an ordered mapping from
// LocalIndex to node.Node. Packets are drained from In strictly in
// order -- exactly the shape of worker.Worker.Start/processNext,
// generalized from "job from a named queue" to "packet for this
// domain".
type Domain struct {
	cfg   Config
	log   *logrus.Entry
	nodes map[node.LocalIndex]*node.Node
	order []node.LocalIndex

	state map[node.LocalIndex]*state.NodeState

	coordinator *channel.Coordinator
	watchdog    ReplayWatchdog

	replaySem *semaphore.Weighted

	In   chan Packet
	quit chan struct{}
	done chan struct{}
}

func New(cfg Config, coord *channel.Coordinator, watchdog ReplayWatchdog, log *logrus.Logger) *Domain {
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = 256
	}
	if cfg.MaxConcurrentReplays == 0 {
		cfg.MaxConcurrentReplays = 64
	}
	return &Domain{
		cfg:         cfg,
		log:         log.WithFields(logrus.Fields{"domain": cfg.Index.String(), "shard": cfg.Shard}),
		nodes:       make(map[node.LocalIndex]*node.Node),
		state:       make(map[node.LocalIndex]*state.NodeState),
		coordinator: coord,
		watchdog:    watchdog,
		replaySem:   semaphore.NewWeighted(cfg.MaxConcurrentReplays),
		In:          make(chan Packet, cfg.QueueDepth),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Run drains In to completion, one packet at a time, until a Quit
// packet or ctx cancellation. It is the direct analogue of
// worker.Worker.Start's select-on-stopChan-vs-processNext loop.
func (d *Domain) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.quit:
			return
		case pkt := <-d.In:
			d.process(pkt)
			if pkt.Kind == PacketQuit {
				return
			}
		}
	}
}

// Stop requests a drain-then-exit; the domain finishes any packet
// already dequeued before Run returns.
func (d *Domain) Stop() { close(d.quit) }

func (d *Domain) Done() <-chan struct{} { return d.done }

func (d *Domain) process(pkt Packet) {
	var err error
	switch pkt.Kind {
	case PacketMessage, PacketInput:
		err = d.processMessage(pkt)
	case PacketReplayPiece:
		err = d.processReplayPiece(pkt)
	case PacketRequestPartialReplay:
		err = d.processRequestPartialReplay(pkt)
	case PacketAddNode:
		err = d.processAddNode(pkt)
	case PacketPrepareState:
		err = d.processPrepareState(pkt)
	case PacketReady:
		if n, ok := d.nodes[pkt.ReadyNode]; ok {
			n.MarkReady()
		}
	case PacketUpdateEgress:
		err = d.processUpdateEgress(pkt)
	case PacketGetStatistics:
		// handled by caller via a side-channel snapshot; nothing to do
	case PacketQuit:
		d.log.Info("domain draining on quit")
	}
	pkt.acknowledge(err)
	if err != nil && errs.IsFatal(err) {
		d.log.WithError(err).Error("fatal error, terminating domain")
		close(d.quit)
	}
}

func (d *Domain) processAddNode(pkt Packet) error {
	if pkt.NewNode == nil {
		return errs.Invariant("domain.add_node", fmt.Errorf("nil node"))
	}
	local := pkt.NewNode.Local
	d.nodes[local] = pkt.NewNode
	d.order = append(d.order, local)
	d.state[local] = state.NewNodeState()
	return nil
}

func (d *Domain) processPrepareState(pkt Packet) error {
	n, ok := d.nodes[pkt.StateNode]
	if !ok {
		return errs.Invariant("domain.prepare_state", fmt.Errorf("unknown node %v", pkt.StateNode))
	}
	ns := d.state[pkt.StateNode]
	name := fmt.Sprintf("ix%d", len(ns.Indices()))
	if pkt.IndexSpec.Unique {
		ns.AddIndex("primary", state.NewFull(pkt.IndexSpec))
	} else {
		ns.AddIndex(name, state.NewPartial(pkt.IndexSpec))
	}
	_ = n
	return nil
}

func (d *Domain) processUpdateEgress(pkt Packet) error {
	n, ok := d.nodes[pkt.EgressNode]
	if !ok {
		return errs.Invariant("domain.update_egress", fmt.Errorf("unknown node %v", pkt.EgressNode))
	}
	eg, ok := n.Operator.(*ops.Egress)
	if !ok {
		return errs.Invariant("domain.update_egress", fmt.Errorf("node %v is not egress", pkt.EgressNode))
	}
	eg.UpdateTarget(pkt.NewTarget)
	return nil
}

// processMessage implements §4.2's four-step regular-message algorithm.
func (d *Domain) processMessage(pkt Packet) error {
	return d.deliver(pkt.To, pkt.From, pkt.Delta, pkt.ReplayCtx)
}

// deliver runs on_input/apply/forward for one (to, from, delta) triple.
// Same-domain forwarding (including a sharder's per-shard children)
// recurses into this same function directly on the calling goroutine --
// the spec's "direct call" for an intra-domain edge -- rather than
// re-enqueuing onto In, which would self-deadlock once a single
// packet's fan-out exceeds In's bounded capacity.
func (d *Domain) deliver(to, from node.LocalIndex, delta record.Delta, rc ReplayContext) error {
	n, ok := d.nodes[to]
	if !ok {
		return errs.Invariant("domain.process_message", fmt.Errorf("unknown node %v", to))
	}
	if !n.Ready() {
		return errs.NotReady("domain.process_message", fmt.Errorf("node %v not ready", to))
	}
	op, ok := n.Operator.(ops.Operator)
	if !ok {
		return errs.Invariant("domain.process_message", fmt.Errorf("node %v has no operator", to))
	}

	result := op.OnInput(from, delta, ops.Context{IsReplay: rc.IsReplay, Tag: rc.Tag}, d.state)

	for _, miss := range result.Misses {
		d.handleMiss(n, miss)
	}

	d.applyToOwnState(n, result.Delta)
	return d.forwardToChildren(n, result.Delta, rc)
}

func (d *Domain) applyToOwnState(n *node.Node, delta record.Delta) {
	ns := d.state[n.Local]
	if ns == nil {
		return
	}
	ix, ok := ns.Primary()
	if !ok {
		return
	}
	keyCols := ix.Spec().Columns
	for _, rec := range delta.Records {
		if rec.Sign == record.Positive {
			ix.Insert(rec.Row.Key(keyCols), rec.Row)
		}
	}
	for _, rec := range delta.Records {
		if rec.Sign != record.Positive {
			ix.Remove(rec.Row.Key(keyCols), rec.Row)
		}
	}
}

func (d *Domain) forwardToChildren(n *node.Node, delta record.Delta, rc ReplayContext) error {
	if delta.IsEmpty() {
		return nil
	}
	if eg, ok := n.Operator.(*ops.Egress); ok {
		for _, t := range eg.Targets() {
			d.coordinator.Send(t.Ingress, channel.Envelope{
				Kind:  channel.EnvelopeMessage,
				Delta: delta,
				Tag:   t.Tag,
			})
		}
		return nil
	}
	// A Sharder's children are its per-shard Egress nodes, one per
	// shard index, installed by graph.Commit in shard order -- Route
	// partitions delta by destination shard and each partition is
	// forwarded only to its matching child, rather than broadcast.
	if sh, ok := n.Operator.(*ops.Sharder); ok {
		for shard, shardDelta := range sh.Route(delta) {
			if int(shard) >= len(n.Children) {
				continue
			}
			if local, ok := d.localOf(n.Children[shard]); ok {
				if err := d.deliver(local, n.Local, shardDelta, rc); err != nil {
					return err
				}
			}
		}
		return nil
	}
	for _, child := range n.Children {
		if local, ok := d.localOf(child); ok {
			if err := d.deliver(local, n.Local, delta, rc); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Domain) localOf(global node.Index) (node.LocalIndex, bool) {
	for local, n := range d.nodes {
		if n.Index == global {
			return local, true
		}
	}
	return node.LocalIndex{}, false
}

// handleMiss implements §4.2 step 3: consult the partial index's
// upstream tag and emit RequestPartialReplay, subject to the
// at-most-one-in-flight rule enforced by the watchdog.
func (d *Domain) handleMiss(n *node.Node, miss state.Miss) {
	if d.watchdog == nil {
		return
	}
	if n.ReplayTag == "" {
		d.log.WithField("node", n.Index.String()).Warn("miss on node with no registered replay path")
		return
	}
	trigger := node.Address{Domain: d.cfg.Index, Shard: d.cfg.Shard}
	if already := d.watchdog.OnMiss(n.ReplayTag, miss.Key, trigger); already {
		d.log.WithField("tag", n.ReplayTag).Debug("miss suppressed, replay already pending")
	}
}

// TriggerReplay requests a replay for key k at local's replay tag,
// the external-read counterpart of handleMiss -- used by a reader.Reader
// whose lookup hit a partial miss outside the regular on_input flow.
func (d *Domain) TriggerReplay(local node.LocalIndex, k record.Key) {
	n, ok := d.nodes[local]
	if !ok {
		return
	}
	d.handleMiss(n, state.Miss{Key: k})
}

// EvictKey removes k from local's primary index and, for a partial
// index, returns it to the unfilled state (§4.3 eviction). Safe to call
// from any goroutine.
func (d *Domain) EvictKey(local node.LocalIndex, k record.Key) {
	ns, ok := d.state[local]
	if !ok {
		return
	}
	ix, ok := ns.Primary()
	if !ok {
		return
	}
	ix.Evict(k)
}

func (d *Domain) processReplayPiece(pkt Packet) error {
	n, ok := d.nodes[pkt.To]
	if !ok {
		return errs.Invariant("domain.replay_piece", fmt.Errorf("unknown node %v", pkt.To))
	}
	ns := d.state[n.Local]
	if ns == nil {
		return errs.Invariant("domain.replay_piece", fmt.Errorf("node %v has no state", n.Local))
	}
	ix, ok := ns.Primary()
	if !ok {
		return errs.Invariant("domain.replay_piece", fmt.Errorf("node %v has no primary index", n.Local))
	}
	rows := make([]record.Row, len(pkt.Delta.Records))
	for i, rec := range pkt.Delta.Records {
		rows[i] = rec.Row
	}
	ix.MarkFilled(pkt.KeyOrFull.Key, rows)
	if d.watchdog != nil {
		d.watchdog.OnReplayArrived(pkt.Tag, pkt.KeyOrFull.Key)
	}
	return nil
}

func (d *Domain) processRequestPartialReplay(pkt Packet) error {
	if !d.replaySem.TryAcquire(1) {
		return errs.Transport("domain.request_replay", fmt.Errorf("max_concurrent_replays exceeded"))
	}
	defer d.replaySem.Release(1)
	// resolution against this domain's own state happens in the
	// replay package (replay.Engine.resolve), which calls LookupPrimary
	// below directly against this domain's state; the domain's own
	// packet handling only bounds concurrency for request packets that
	// arrive over a remote transport.
	return nil
}

// Reader builds a reader.Reader over local's primary index, wiring
// its readiness check and replay trigger back to this domain -- the
// bridge that lets the HTTP read surface in api/ address a node's
// materialized state without importing domain itself.
func (d *Domain) Reader(local node.LocalIndex) (*reader.Reader, bool) {
	ns, ok := d.state[local]
	if !ok {
		return nil, false
	}
	ix, ok := ns.Primary()
	if !ok {
		return nil, false
	}
	ready := func() bool {
		n, ok := d.nodes[local]
		return ok && n.Ready()
	}
	trigger := func(k record.Key) { d.TriggerReplay(local, k) }
	return reader.New(ix, ready, trigger), true
}

// LookupPrimary reads local's primary index at key, for use by
// replay.Engine resolving a miss against this domain's own state. The
// underlying state.Index is mutex-guarded, so this is safe to call
// from a goroutine other than the one running Run.
func (d *Domain) LookupPrimary(local node.LocalIndex, key record.Key) (rows []record.Row, found bool) {
	ns, ok := d.state[local]
	if !ok {
		return nil, false
	}
	ix, ok := ns.Primary()
	if !ok {
		return nil, false
	}
	rows, miss := ix.Lookup(key)
	return rows, miss == nil
}

// AllPrimary returns every row materialized in local's primary index,
// used to prime a full-replay path.
func (d *Domain) AllPrimary(local node.LocalIndex) []record.Row {
	ns, ok := d.state[local]
	if !ok {
		return nil
	}
	ix, ok := ns.Primary()
	if !ok {
		return nil
	}
	return ix.All()
}

// DeliverReplayPiece enqueues a PacketReplayPiece addressed to local,
// the mechanism replay.Engine uses to answer a resolved miss (or a
// full-replay chunk) once it has assembled the delta. It is safe to
// call from any goroutine; the send blocks only on In's queue depth,
// never on Run's processing of an unrelated packet.
func (d *Domain) DeliverReplayPiece(local node.LocalIndex, tag node.Tag, kf KeyOrFull, delta record.Delta) {
	d.In <- Packet{Kind: PacketReplayPiece, To: local, Tag: tag, KeyOrFull: kf, Delta: delta}
}

// Submit enqueues pkt and blocks until the domain's run loop has
// processed it, returning any error from that processing. This is the
// control-plane's synchronous counterpart to the fire-and-forget sends
// used for data packets -- graph.Commit uses it for AddNode/
// PrepareState/Ready so a migration only proceeds to its
// next step once every prior one has actually landed.
func (d *Domain) Submit(pkt Packet) error {
	ack := make(chan error, 1)
	pkt.Ack = ack
	d.In <- pkt
	return <-ack
}
