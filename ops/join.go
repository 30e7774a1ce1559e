package ops

import (
	"flowcore.dev/engine/node"
	"flowcore.dev/engine/record"
	"flowcore.dev/engine/state"
)

// JoinKind distinguishes inner from left join per §4.1.
type JoinKind int

const (
	InnerJoin JoinKind = iota
	LeftJoin
)

// ColumnPair is one equi-join key pair, (left column, right column).
type ColumnPair struct {
	Left, Right int
}

// Join implements the two-parent equi-join operator. L and R refer to
// the parents by IndexPair; on a delta from one side the operator
// looks the join key up in the other side's materialized state (passed
// in via the states map, keyed by local index) and emits the cross
// product of matches.
//
// The join never buffers a delta waiting on a miss: if the opposite
// side's state is partial and the key misses, a Miss is returned
// immediately and reprocessing happens when the triggered replay
// arrives as a new delta (see replay.Engine's deferred-join handling
// for the parked-piece variant used during replay propagation).
type Join struct {
	self        node.Index
	left, right node.IndexPair
	Variant     JoinKind
	On          []ColumnPair
	leftCols    int
	rightCols   int
}

func NewJoin(left, right node.IndexPair, kind JoinKind, on []ColumnPair, leftCols, rightCols int) *Join {
	return &Join{left: left, right: right, Variant: kind, On: on, leftCols: leftCols, rightCols: rightCols}
}

func (j *Join) Kind() node.Kind { return node.KindJoin }

func (j *Join) Ancestors() []node.Index { return []node.Index{j.left.Global, j.right.Global} }

func (j *Join) OnCommit(self node.IndexPair, remap map[node.Index]node.LocalIndex) {
	j.self = self.Global
	if l, ok := remap[j.left.Global]; ok {
		j.left.Remap(l)
	}
	if l, ok := remap[j.right.Global]; ok {
		j.right.Remap(l)
	}
}

func (j *Join) leftKeyCols() []int {
	cols := make([]int, len(j.On))
	for i, p := range j.On {
		cols[i] = p.Left
	}
	return cols
}

func (j *Join) rightKeyCols() []int {
	cols := make([]int, len(j.On))
	for i, p := range j.On {
		cols[i] = p.Right
	}
	return cols
}

func combine(l, r record.Row) record.Row {
	out := make(record.Row, 0, len(l)+len(r))
	out = append(out, l...)
	out = append(out, r...)
	return out
}

func nullRow(n int) record.Row {
	out := make(record.Row, n)
	for i := range out {
		out[i] = record.NullValue()
	}
	return out
}

func (j *Join) OnInput(from node.LocalIndex, delta record.Delta, ctx Context, states map[node.LocalIndex]*state.NodeState) Result {
	leftLocal, _ := j.left.Local()
	rightLocal, _ := j.right.Local()

	var result Result
	var b record.Builder

	fromLeft := from == leftLocal
	var otherLocal node.LocalIndex
	if fromLeft {
		otherLocal = rightLocal
	} else {
		otherLocal = leftLocal
	}
	otherState := states[otherLocal]
	var otherIndex *state.Index
	if otherState != nil {
		otherIndex, _ = otherState.Primary()
	}

	for _, rec := range delta.Records {
		var keyCols []int
		if fromLeft {
			keyCols = j.leftKeyCols()
		} else {
			keyCols = j.rightKeyCols()
		}
		k := rec.Row.Key(keyCols)

		var matches []record.Row
		if otherIndex != nil {
			rows, miss := otherIndex.Lookup(k)
			if miss != nil {
				result.Misses = append(result.Misses, *miss)
				continue
			}
			matches = rows
		}

		if len(matches) == 0 {
			if j.Variant == LeftJoin && fromLeft {
				row := combine(rec.Row, nullRow(j.rightCols))
				b.Add(record.Record{Row: row, Sign: rec.Sign})
			}
			continue
		}

		if j.Variant == LeftJoin && !fromLeft {
			// A delta on the right side can transition a left row
			// between "no match" (padded with nulls) and "has a
			// match". ownState is the right side's own materialized
			// count for k *before* this delta is applied (the domain
			// applies results to state after OnInput returns), which
			// tells us whether this is the first right row for k
			// (sign +) or the last one being removed (sign -).
			var existing int
			if ownState := states[from]; ownState != nil {
				if ownIndex, ok := ownState.Primary(); ok {
					if rows, miss := ownIndex.Lookup(k); miss == nil {
						existing = len(rows)
					}
				}
			}
			switch {
			case rec.Sign == record.Positive && existing == 0:
				for _, m := range matches {
					b.Add(record.Record{Row: combine(m, nullRow(j.rightCols)), Sign: record.Negative})
					b.Add(record.Record{Row: combine(m, rec.Row), Sign: record.Positive})
				}
				continue
			case rec.Sign == record.Negative && existing == 1:
				for _, m := range matches {
					b.Add(record.Record{Row: combine(m, rec.Row), Sign: record.Negative})
					b.Add(record.Record{Row: combine(m, nullRow(j.rightCols)), Sign: record.Positive})
				}
				continue
			}
		}

		for _, m := range matches {
			var row record.Row
			if fromLeft {
				row = combine(rec.Row, m)
			} else {
				row = combine(m, rec.Row)
			}
			b.Add(record.Record{Row: row, Sign: rec.Sign})
		}
	}

	result.Delta = b.Build()
	_ = ctx
	return result
}

func (j *Join) SuggestIndexes(self node.Index) []IndexRequest {
	return []IndexRequest{
		{On: j.left.Global, Spec: state.Spec{Columns: j.leftKeyCols()}},
		{On: j.right.Global, Spec: state.Spec{Columns: j.rightKeyCols()}},
	}
}

func (j *Join) Resolve(c int) (Origin, bool) {
	if c < j.leftCols {
		return Origin{Parent: j.left.Global, Column: c}, true
	}
	return Origin{Parent: j.right.Global, Column: c - j.leftCols}, true
}

func (j *Join) ParentColumns(c int) []Origin {
	o, _ := j.Resolve(c)
	return []Origin{o}
}

func (j *Join) Description(detailed bool) string {
	if !detailed {
		return "⋈"
	}
	if j.Variant == LeftJoin {
		return "LeftJoin"
	}
	return "InnerJoin"
}
