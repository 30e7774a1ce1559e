package ops

import (
	"flowcore.dev/engine/node"
	"flowcore.dev/engine/record"
	"flowcore.dev/engine/state"
)

// Sharder routes each record of its one input to exactly one downstream
// shard, hashing a specified column modulo the number of downstream
// shards. The actual cross-shard send is performed by the domain
// runtime via the channel coordinator; Sharder.OnInput only computes
// the routing decision and groups records by destination shard so the
// caller can fan them out.
type Sharder struct {
	self     node.Index
	parent   node.IndexPair
	Column   int
	NShards  int
}

func NewSharder(parent node.IndexPair, column, nShards int) *Sharder {
	return &Sharder{parent: parent, Column: column, NShards: nShards}
}

func (s *Sharder) Kind() node.Kind         { return node.KindSharder }
func (s *Sharder) Ancestors() []node.Index { return []node.Index{s.parent.Global} }

func (s *Sharder) OnCommit(self node.IndexPair, remap map[node.Index]node.LocalIndex) {
	s.self = self.Global
	if l, ok := remap[s.parent.Global]; ok {
		s.parent.Remap(l)
	}
}

// Route assigns each record of delta to a shard.
func (s *Sharder) Route(delta record.Delta) map[node.Shard]record.Delta {
	sharding := node.ByColumn(s.Column, s.NShards)
	out := make(map[node.Shard]record.Delta)
	for _, rec := range delta.Records {
		shard := sharding.ShardFor(rec.Row[s.Column].String())
		d := out[shard]
		d.Records = append(d.Records, rec)
		out[shard] = d
	}
	return out
}

// OnInput is a pass-through for the single-domain dispatch contract;
// the domain calls Route directly when forwarding across shards.
func (s *Sharder) OnInput(_ node.LocalIndex, delta record.Delta, _ Context, _ map[node.LocalIndex]*state.NodeState) Result {
	return Result{Delta: delta}
}

func (s *Sharder) SuggestIndexes(node.Index) []IndexRequest { return nil }

func (s *Sharder) Resolve(c int) (Origin, bool) {
	return Origin{Parent: s.parent.Global, Column: c}, true
}

func (s *Sharder) ParentColumns(c int) []Origin {
	return []Origin{{Parent: s.parent.Global, Column: c}}
}

func (s *Sharder) Description(detailed bool) string {
	if !detailed {
		return "⤨"
	}
	return "Sharder"
}
