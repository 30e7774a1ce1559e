package ops

import (
	"flowcore.dev/engine/node"
	"flowcore.dev/engine/record"
	"flowcore.dev/engine/state"
)

// Target is one destination of an Egress: the ingress address on the
// peer domain and the replay tag the packet belongs to (empty for a
// regular, non-replay message).
type Target struct {
	Ingress node.Address
	Tag     node.Tag
}

// Egress is the inter-domain seam on the sending side: it holds the
// list of (downstream ingress address, tag) pairs and forwards every
// outgoing packet on each. The actual send goes through the channel
// coordinator; Egress itself only enumerates destinations.
type Egress struct {
	self    node.Index
	parent  node.IndexPair
	targets []Target
}

func NewEgress(parent node.IndexPair) *Egress {
	return &Egress{parent: parent}
}

func (e *Egress) AddTarget(t Target) { e.targets = append(e.targets, t) }

// UpdateTarget replaces the target with matching Ingress, or appends
// it if not present -- the domain.Packet UpdateEgress handler calls
// this when the controller reroutes an edge to a new tag.
func (e *Egress) UpdateTarget(t Target) {
	for i, existing := range e.targets {
		if existing.Ingress == t.Ingress {
			e.targets[i] = t
			return
		}
	}
	e.AddTarget(t)
}

func (e *Egress) Targets() []Target { return append([]Target(nil), e.targets...) }

func (e *Egress) Kind() node.Kind         { return node.KindEgress }
func (e *Egress) Ancestors() []node.Index { return []node.Index{e.parent.Global} }

func (e *Egress) OnCommit(self node.IndexPair, remap map[node.Index]node.LocalIndex) {
	e.self = self.Global
	if l, ok := remap[e.parent.Global]; ok {
		e.parent.Remap(l)
	}
}

func (e *Egress) OnInput(_ node.LocalIndex, delta record.Delta, _ Context, _ map[node.LocalIndex]*state.NodeState) Result {
	return Result{Delta: delta}
}

func (e *Egress) SuggestIndexes(node.Index) []IndexRequest { return nil }

func (e *Egress) Resolve(c int) (Origin, bool) {
	return Origin{Parent: e.parent.Global, Column: c}, true
}

func (e *Egress) ParentColumns(c int) []Origin {
	return []Origin{{Parent: e.parent.Global, Column: c}}
}

func (e *Egress) Description(detailed bool) string {
	if !detailed {
		return "↱"
	}
	return "Egress"
}

// Ingress is the inter-domain seam on the receiving side: it receives
// packets over a channel transport and dispatches them to its local
// children exactly as any other operator's output would be forwarded.
type Ingress struct {
	self   node.Index
	source node.Index // the remote egress's node, for provenance only
}

func NewIngress(source node.Index) *Ingress { return &Ingress{source: source} }

func (i *Ingress) Kind() node.Kind         { return node.KindIngress }
func (i *Ingress) Ancestors() []node.Index { return []node.Index{i.source} }

func (i *Ingress) OnCommit(self node.IndexPair, _ map[node.Index]node.LocalIndex) {
	i.self = self.Global
}

func (i *Ingress) OnInput(_ node.LocalIndex, delta record.Delta, _ Context, _ map[node.LocalIndex]*state.NodeState) Result {
	return Result{Delta: delta}
}

func (i *Ingress) SuggestIndexes(node.Index) []IndexRequest { return nil }

func (i *Ingress) Resolve(c int) (Origin, bool) { return Origin{Parent: i.source, Column: c}, true }

func (i *Ingress) ParentColumns(c int) []Origin {
	return []Origin{{Parent: i.source, Column: c}}
}

func (i *Ingress) Description(detailed bool) string {
	if !detailed {
		return "↳"
	}
	return "Ingress"
}
