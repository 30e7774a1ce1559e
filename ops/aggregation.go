package ops

import (
	"math"
	"strings"

	"flowcore.dev/engine/node"
	"flowcore.dev/engine/record"
	"flowcore.dev/engine/state"
)

// AggFunc names a grouped aggregate function from §4.1.
type AggFunc int

const (
	AggCount AggFunc = iota
	AggSum
	AggAvg
	AggMin
	AggMax
	AggGroupConcat
)

func saturatingAdd(a, b int64) int64 {
	sum := a + b
	if b > 0 && sum < a {
		return math.MaxInt64
	}
	if b < 0 && sum > a {
		return math.MinInt64
	}
	return sum
}

// Aggregation implements grouped count/sum/avg/min/max/group_concat,
// keyed on group-by columns, holding exactly one materialized row per
// group. Per §4.1/§9 the operator itself is pure with respect to
// state: the group's materialized output row lives in the "primary"
// index of its own node.NodeState (installed by SuggestIndexes), and
// the raw member values backing a correct min/max retraction live in a
// second "members" index lazily installed on first use -- neither is
// held in an operator field, so both survive exactly as long as the
// node's state does (replay, eviction, restart).
type Aggregation struct {
	self      node.Index
	selfLocal node.LocalIndex
	parent    node.IndexPair
	GroupBy   []int
	Column    int // input column the aggregate reads (ignored for count)
	Func      AggFunc
}

func NewAggregation(parent node.IndexPair, groupBy []int, column int, fn AggFunc) *Aggregation {
	return &Aggregation{parent: parent, GroupBy: groupBy, Column: column, Func: fn}
}

func (a *Aggregation) Kind() node.Kind         { return node.KindAggregation }
func (a *Aggregation) Ancestors() []node.Index { return []node.Index{a.parent.Global} }

func (a *Aggregation) OnCommit(self node.IndexPair, remap map[node.Index]node.LocalIndex) {
	a.self = self.Global
	if l, ok := self.Local(); ok {
		a.selfLocal = l
	}
	if l, ok := remap[a.parent.Global]; ok {
		a.parent.Remap(l)
	}
}

// membersIndex is the group's raw contributing values, in insertion
// order -- the only state rich enough to recompute min/max correctly
// after a retraction removes the current best value.
func (a *Aggregation) membersIndex(ns *state.NodeState) *state.Index {
	return ns.GetOrAdd("members", func() *state.Index {
		return state.NewFull(state.Spec{Columns: a.GroupBy})
	})
}

func (a *Aggregation) primaryIndex(ns *state.NodeState) *state.Index {
	return ns.GetOrAdd("primary", func() *state.Index {
		return state.NewFull(state.Spec{Columns: a.GroupBy, Unique: true})
	})
}

// isNaN reports whether v is a NaN float; a NaN member is never
// retained as a min/max best per §4.1's tie-break rules.
func isNaN(v record.Value) bool {
	f, ok := v.Float()
	return ok && math.IsNaN(f)
}

// best returns the min (wantMin) or max value among values, skipping
// NaN floats entirely. ok is false if values is empty or every member
// is NaN.
func best(values []record.Value, wantMin bool) (v record.Value, ok bool) {
	for _, cand := range values {
		if isNaN(cand) {
			continue
		}
		if !ok {
			v, ok = cand, true
			continue
		}
		cmp := cand.Compare(v)
		if (wantMin && cmp < 0) || (!wantMin && cmp > 0) {
			v = cand
		}
	}
	return v, ok
}

// sumValues sums values as int64 (saturating) unless any member is a
// float, in which case the whole sum is computed in float64.
func sumValues(values []record.Value) record.Value {
	anyFloat := false
	for _, v := range values {
		if _, ok := v.Float(); ok {
			anyFloat = true
			break
		}
	}
	if anyFloat {
		var sum float64
		for _, v := range values {
			if f, ok := v.Float(); ok {
				sum += f
			} else if i, ok := v.Int(); ok {
				sum += float64(i)
			}
		}
		return record.FloatValue(sum)
	}
	var sum int64
	for _, v := range values {
		if i, ok := v.Int(); ok {
			sum = saturatingAdd(sum, i)
		}
	}
	return record.IntValue(sum)
}

// aggregate computes this group's output value from its current
// (non-empty) member values.
func (a *Aggregation) aggregate(values []record.Value) record.Value {
	switch a.Func {
	case AggCount:
		return record.IntValue(int64(len(values)))
	case AggSum:
		return sumValues(values)
	case AggAvg:
		if len(values) == 0 {
			return record.NullValue()
		}
		sum := sumValues(values)
		if f, ok := sum.Float(); ok {
			return record.FloatValue(f / float64(len(values)))
		}
		i, _ := sum.Int()
		return record.FloatValue(float64(i) / float64(len(values)))
	case AggMin:
		v, ok := best(values, true)
		if !ok {
			return record.NullValue()
		}
		return v
	case AggMax:
		v, ok := best(values, false)
		if !ok {
			return record.NullValue()
		}
		return v
	case AggGroupConcat:
		parts := make([]string, len(values))
		for i, v := range values {
			parts[i] = v.String()
		}
		return record.TextValue(strings.Join(parts, ","))
	}
	return record.NullValue()
}

func (a *Aggregation) emitRow(gb record.Row, values []record.Value) record.Row {
	row := make(record.Row, 0, len(gb)+1)
	row = append(row, gb...)
	row = append(row, a.aggregate(values))
	return row
}

// groupState is OnInput's within-call view of one group's materialized
// row, seeded from primary on first touch and threaded across any
// later record in the same delta that touches the same group -- domain
// applies this call's whole emitted Result.Delta to primary only after
// OnInput returns, so a second record for the same key in one delta
// must retract the row *this call* last emitted, not the stale
// pre-batch primary content.
type groupState struct {
	row    record.Row
	exists bool
}

func (a *Aggregation) OnInput(_ node.LocalIndex, delta record.Delta, _ Context, states map[node.LocalIndex]*state.NodeState) Result {
	var b record.Builder
	var misses []state.Miss

	ns := states[a.selfLocal]
	if ns == nil {
		return Result{}
	}
	primary := a.primaryIndex(ns)
	members := a.membersIndex(ns)

	touched := map[record.Key]*groupState{}

	for _, rec := range delta.Records {
		k := rec.Row.Key(a.GroupBy)

		gs, seen := touched[k]
		if !seen {
			// "Miss on own state during +r/-r is resolved by a
			// self-lookup that is always considered a hit in full
			// mode" (§4.1): on a Full primary index Lookup never
			// misses, an absent group is simply an empty row set. In
			// partial mode a genuine miss triggers this node's own
			// replay path instead of silently assuming a fresh group.
			rows, miss := primary.Lookup(k)
			if miss != nil {
				misses = append(misses, *miss)
				continue
			}
			gs = &groupState{}
			if len(rows) > 0 {
				gs.row, gs.exists = rows[0], true
			}
			touched[k] = gs
		}
		if gs.exists {
			b.Add(record.Neg(gs.row))
		}

		var val record.Value
		if a.Func != AggCount {
			val = rec.Row[a.Column]
		}
		memberRow := record.Row{val}
		if rec.Sign == record.Positive {
			members.Insert(k, memberRow)
		} else {
			members.Remove(k, memberRow)
		}

		memberRows, _ := members.Lookup(k)
		if len(memberRows) == 0 {
			gs.row, gs.exists = nil, false
			continue
		}
		values := make([]record.Value, len(memberRows))
		for i, r := range memberRows {
			values[i] = r[0]
		}
		newRow := a.emitRow(rec.Row.Project(a.GroupBy), values)
		b.Add(record.Pos(newRow))
		gs.row, gs.exists = newRow, true
	}

	return Result{Delta: b.Build(), Misses: misses}
}

func (a *Aggregation) SuggestIndexes(self node.Index) []IndexRequest {
	return []IndexRequest{{On: self, Spec: state.Spec{Columns: a.GroupBy, Unique: true}}}
}

func (a *Aggregation) Resolve(c int) (Origin, bool) {
	if c < len(a.GroupBy) {
		return Origin{Parent: a.parent.Global, Column: a.GroupBy[c]}, true
	}
	return Origin{}, false
}

func (a *Aggregation) ParentColumns(c int) []Origin {
	if c < len(a.GroupBy) {
		return []Origin{{Parent: a.parent.Global, Column: a.GroupBy[c]}}
	}
	return []Origin{{Parent: a.parent.Global, Column: a.Column, Computed: true}}
}

func (a *Aggregation) Description(detailed bool) string {
	if !detailed {
		return "γ"
	}
	return "Aggregation"
}
