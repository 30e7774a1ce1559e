package ops

import (
	"flowcore.dev/engine/node"
	"flowcore.dev/engine/record"
	"flowcore.dev/engine/state"
)

// Identity passes its input delta through unchanged. Never misses.
type Identity struct {
	self   node.Index
	parent node.IndexPair
	nCols  int
}

func NewIdentity(parent node.IndexPair, nCols int) *Identity {
	return &Identity{parent: parent, nCols: nCols}
}

func (id *Identity) Kind() node.Kind         { return node.KindIdentity }
func (id *Identity) Ancestors() []node.Index { return []node.Index{id.parent.Global} }

func (id *Identity) OnCommit(self node.IndexPair, remap map[node.Index]node.LocalIndex) {
	id.self = self.Global
	if l, ok := remap[id.parent.Global]; ok {
		id.parent.Remap(l)
	}
}

func (id *Identity) OnInput(_ node.LocalIndex, delta record.Delta, _ Context, _ map[node.LocalIndex]*state.NodeState) Result {
	return Result{Delta: delta}
}

func (id *Identity) SuggestIndexes(node.Index) []IndexRequest { return nil }

func (id *Identity) Resolve(c int) (Origin, bool) {
	return Origin{Parent: id.parent.Global, Column: c}, true
}

func (id *Identity) ParentColumns(c int) []Origin {
	return []Origin{{Parent: id.parent.Global, Column: c}}
}

func (id *Identity) Description(detailed bool) string {
	if !detailed {
		return "≡"
	}
	return "Identity"
}
