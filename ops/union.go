package ops

import (
	"flowcore.dev/engine/node"
	"flowcore.dev/engine/record"
	"flowcore.dev/engine/state"
)

// Union passes through the union of n position-mapped inputs. Each
// parent may expose its columns in a different order than the
// output's fixed schema; ColumnMap[parent's global index] gives, per output
// column, which parent column to read.
type Union struct {
	self      node.Index
	parents   []node.IndexPair
	ColumnMap map[node.Index][]int
	nOutCols  int
}

func NewUnion(parents []node.IndexPair, columnMap map[node.Index][]int, nOutCols int) *Union {
	return &Union{parents: parents, ColumnMap: columnMap, nOutCols: nOutCols}
}

func (u *Union) Kind() node.Kind { return node.KindUnion }

func (u *Union) Ancestors() []node.Index {
	out := make([]node.Index, len(u.parents))
	for i, p := range u.parents {
		out[i] = p.Global
	}
	return out
}

func (u *Union) OnCommit(self node.IndexPair, remap map[node.Index]node.LocalIndex) {
	u.self = self.Global
	for i := range u.parents {
		if l, ok := remap[u.parents[i].Global]; ok {
			u.parents[i].Remap(l)
		}
	}
}

func (u *Union) parentOf(from node.LocalIndex) (node.Index, bool) {
	for _, p := range u.parents {
		if l, ok := p.Local(); ok && l == from {
			return p.Global, true
		}
	}
	return node.Index{}, false
}

func (u *Union) OnInput(from node.LocalIndex, delta record.Delta, _ Context, _ map[node.LocalIndex]*state.NodeState) Result {
	global, ok := u.parentOf(from)
	if !ok {
		return Result{Delta: delta}
	}
	colMap, ok := u.ColumnMap[global]
	if !ok {
		return Result{Delta: delta}
	}
	var b record.Builder
	for _, rec := range delta.Records {
		b.Add(record.Record{Row: rec.Row.Project(colMap), Sign: rec.Sign})
	}
	return Result{Delta: b.Build()}
}

func (u *Union) SuggestIndexes(node.Index) []IndexRequest { return nil }

func (u *Union) Resolve(c int) (Origin, bool) {
	if len(u.parents) == 0 {
		return Origin{}, false
	}
	return Origin{Parent: u.parents[0].Global, Column: c}, true
}

func (u *Union) ParentColumns(c int) []Origin {
	out := make([]Origin, 0, len(u.parents))
	for _, p := range u.parents {
		if cols, ok := u.ColumnMap[p.Global]; ok && c < len(cols) {
			out = append(out, Origin{Parent: p.Global, Column: cols[c]})
		}
	}
	return out
}

func (u *Union) Description(detailed bool) string {
	if !detailed {
		return "∪"
	}
	return "Union"
}
