package ops

import (
	"sort"

	"flowcore.dev/engine/node"
	"flowcore.dev/engine/record"
	"flowcore.dev/engine/state"
)

// SortOrder is the direction top-k orders its sort column.
type SortOrder int

const (
	Asc SortOrder = iota
	Desc
)

// TopK keeps the k best rows per group by a declared sort column and
// order. On insert past capacity the worst row is evicted; on delete
// of a retained row, a replacement is pulled from the remainder (which
// Operator.OnInput alone cannot supply under partial parent state --
// the domain triggers a replay via the returned Miss and TopK is
// re-invoked with the replacement once it arrives).
//
// Per §4.1/§9 the operator is pure with respect to state: the retained
// rows per group live in a "topk" index lazily installed on this
// node's own state, not in an operator field, so they survive exactly
// as long as the node's state does.
type TopK struct {
	self      node.Index
	selfLocal node.LocalIndex
	parent    node.IndexPair
	GroupBy   []int
	SortCol   int
	Order     SortOrder
	K         int
}

func NewTopK(parent node.IndexPair, groupBy []int, sortCol, k int, order SortOrder) *TopK {
	return &TopK{
		parent:  parent,
		GroupBy: groupBy,
		SortCol: sortCol,
		Order:   order,
		K:       k,
	}
}

func (t *TopK) Kind() node.Kind         { return node.KindTopK }
func (t *TopK) Ancestors() []node.Index { return []node.Index{t.parent.Global} }

func (t *TopK) OnCommit(self node.IndexPair, remap map[node.Index]node.LocalIndex) {
	t.self = self.Global
	if l, ok := self.Local(); ok {
		t.selfLocal = l
	}
	if l, ok := remap[t.parent.Global]; ok {
		t.parent.Remap(l)
	}
}

// retainedIndex is this group's current top-k rows, keyed the same way
// as the group-by columns.
func (t *TopK) retainedIndex(ns *state.NodeState) *state.Index {
	return ns.GetOrAdd("topk", func() *state.Index {
		return state.NewFull(state.Spec{Columns: t.GroupBy})
	})
}

// better reports whether a ranks ahead of b under the declared order.
// NaN in the sort column sorts last and is never "best", per §4.1.
// Ties are broken by leaving relative order untouched -- sort.SliceStable
// keeps insertion order on a tie, so no explicit sequence counter is
// needed.
func (t *TopK) better(a, b record.Row) bool {
	aNaN, bNaN := isNaN(a[t.SortCol]), isNaN(b[t.SortCol])
	if aNaN || bNaN {
		return !aNaN && bNaN
	}
	cmp := a[t.SortCol].Compare(b[t.SortCol])
	if cmp == 0 {
		return false
	}
	if t.Order == Desc {
		return cmp > 0
	}
	return cmp < 0
}

func (t *TopK) sortGroup(rows []record.Row) {
	sort.SliceStable(rows, func(i, j int) bool { return t.better(rows[i], rows[j]) })
}

func rowEq(a, b record.Row) bool {
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

func (t *TopK) OnInput(_ node.LocalIndex, delta record.Delta, _ Context, states map[node.LocalIndex]*state.NodeState) Result {
	var b record.Builder
	var misses []state.Miss

	ns := states[t.selfLocal]
	if ns == nil {
		return Result{}
	}
	retained := t.retainedIndex(ns)

	for _, rec := range delta.Records {
		k := rec.Row.Key(t.GroupBy)
		rows, _ := retained.Lookup(k)

		if rec.Sign == record.Positive {
			rows = append(rows, rec.Row)
			t.sortGroup(rows)
			var evicted []record.Row
			if len(rows) > t.K {
				evicted = rows[t.K:]
				rows = rows[:t.K]
			}
			retained.MarkFilled(k, rows)
			for _, e := range evicted {
				if rowEq(e, rec.Row) {
					// the just-inserted row itself didn't make the cut
					continue
				}
				b.Add(record.Neg(e))
			}
			kept := false
			for _, r := range rows {
				if rowEq(r, rec.Row) {
					kept = true
					break
				}
			}
			if kept {
				b.Add(record.Pos(rec.Row))
			}
			continue
		}

		idx := -1
		for i, r := range rows {
			if rowEq(r, rec.Row) {
				idx = i
				break
			}
		}
		if idx == -1 {
			// not in the retained top-k, nothing to retract
			continue
		}
		rows = append(rows[:idx], rows[idx+1:]...)
		b.Add(record.Neg(rec.Row))

		// a replacement must come from the parent's remaining rows
		// beyond what this operator retains; under partial parent
		// state that is a miss, resolved by upstream replay (the
		// parked-piece mechanism in the replay engine releases it once
		// the replay arrives).
		if parentState := states[mustLocal(t.parent)]; parentState != nil {
			if ix, ok := parentState.Primary(); ok {
				if parentRows, miss := ix.Lookup(k); miss != nil {
					misses = append(misses, *miss)
				} else {
					replacement, ok := t.nextBest(rows, parentRows)
					if ok {
						rows = append(rows, replacement)
						t.sortGroup(rows)
						b.Add(record.Pos(replacement))
					}
				}
			}
		}
		retained.MarkFilled(k, rows)
	}

	return Result{Delta: b.Build(), Misses: misses}
}

func mustLocal(p node.IndexPair) node.LocalIndex {
	l, _ := p.Local()
	return l
}

// nextBest finds the best row among parentRows not already in retained.
func (t *TopK) nextBest(retained []record.Row, parentRows []record.Row) (record.Row, bool) {
	isRetained := func(r record.Row) bool {
		for _, rr := range retained {
			if rowEq(rr, r) {
				return true
			}
		}
		return false
	}
	var best record.Row
	found := false
	for _, r := range parentRows {
		if isRetained(r) {
			continue
		}
		if !found || t.better(r, best) {
			best = r
			found = true
		}
	}
	return best, found
}

func (t *TopK) SuggestIndexes(self node.Index) []IndexRequest {
	return []IndexRequest{{On: t.parent.Global, Spec: state.Spec{Columns: t.GroupBy}}}
}

func (t *TopK) Resolve(c int) (Origin, bool) {
	return Origin{Parent: t.parent.Global, Column: c}, true
}

func (t *TopK) ParentColumns(c int) []Origin {
	return []Origin{{Parent: t.parent.Global, Column: c}}
}

func (t *TopK) Description(detailed bool) string {
	if !detailed {
		return "τ"
	}
	return "TopK"
}
