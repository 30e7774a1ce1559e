package ops

import (
	"flowcore.dev/engine/node"
	"flowcore.dev/engine/record"
	"flowcore.dev/engine/state"
)

// Reader is the terminal materialization from §4.4: a node with no
// children whose sole job is to keep its own keyed index current so an
// external reader.Reader can answer point lookups against it. OnInput
// never misses on its own account -- it passes its input delta through
// unchanged for the domain to apply to this node's state exactly as it
// would for any other materialized node; the miss/replay machinery that
// matters for a Reader lives in the parent chain feeding it.
type Reader struct {
	self   node.Index
	parent node.IndexPair
	Key    []int
	Unique bool
}

func NewReader(parent node.IndexPair, key []int, unique bool) *Reader {
	return &Reader{parent: parent, Key: key, Unique: unique}
}

func (r *Reader) Kind() node.Kind         { return node.KindReader }
func (r *Reader) Ancestors() []node.Index { return []node.Index{r.parent.Global} }

func (r *Reader) OnCommit(self node.IndexPair, remap map[node.Index]node.LocalIndex) {
	r.self = self.Global
	if l, ok := remap[r.parent.Global]; ok {
		r.parent.Remap(l)
	}
}

func (r *Reader) OnInput(_ node.LocalIndex, delta record.Delta, _ Context, _ map[node.LocalIndex]*state.NodeState) Result {
	return Result{Delta: delta}
}

// SuggestIndexes requests the keyed index this Reader materializes
// against -- unique if the reader is keyed on a primary key, partial
// otherwise (filled lazily by replay as lookups miss).
func (r *Reader) SuggestIndexes(self node.Index) []IndexRequest {
	return []IndexRequest{{On: self, Spec: state.Spec{Columns: r.Key, Unique: r.Unique}}}
}

func (r *Reader) Resolve(c int) (Origin, bool) {
	return Origin{Parent: r.parent.Global, Column: c}, true
}

func (r *Reader) ParentColumns(c int) []Origin {
	return []Origin{{Parent: r.parent.Global, Column: c}}
}

func (r *Reader) Description(detailed bool) string {
	if !detailed {
		return "R"
	}
	return "Reader"
}
