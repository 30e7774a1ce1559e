package ops

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"flowcore.dev/engine/node"
	"flowcore.dev/engine/record"
	"flowcore.dev/engine/state"
)

// newAggStates builds the states map an Aggregation operator reads its
// own group state from, keyed by self's local index -- the same map a
// domain would thread across sequential OnInput calls on the node's
// persistent NodeState.
func newAggStates(self node.LocalIndex) map[node.LocalIndex]*state.NodeState {
	return map[node.LocalIndex]*state.NodeState{self: state.NewNodeState()}
}

func newCommittedAggregation(parent node.IndexPair, groupBy []int, column int, fn AggFunc) (*Aggregation, node.LocalIndex) {
	a := NewAggregation(parent, groupBy, column, fn)
	self := newLocal(0)
	selfPair := node.NewIndexPair(node.NewIndex(99))
	selfPair.Remap(self)
	a.OnCommit(selfPair, nil)
	return a, self
}

// TestAggregationCountGroupDisappearsWhenEmptied pins §8's aggregate
// idempotence/zero-row property: a group that returns to zero members
// is retracted entirely, not replaced by a materialized zero-count row.
func TestAggregationCountGroupDisappearsWhenEmptied(t *testing.T) {
	parent := node.NewIndexPair(node.NewIndex(1))
	a, self := newCommittedAggregation(parent, []int{0}, 1, AggCount)
	states := newAggStates(self)

	r1 := a.OnInput(node.LocalIndex{}, record.NewDelta(record.Pos(row(1, 100))), Context{}, states)
	require.Len(t, r1.Delta.Records, 1)
	require.Equal(t, record.Positive, r1.Delta.Records[0].Sign)
	require.Equal(t, row(1, 1), r1.Delta.Records[0].Row)

	r2 := a.OnInput(node.LocalIndex{}, record.NewDelta(record.Pos(row(1, 200))), Context{}, states)
	require.Len(t, r2.Delta.Records, 2)
	require.Equal(t, record.Negative, r2.Delta.Records[0].Sign)
	require.Equal(t, row(1, 1), r2.Delta.Records[0].Row)
	require.Equal(t, record.Positive, r2.Delta.Records[1].Sign)
	require.Equal(t, row(1, 2), r2.Delta.Records[1].Row)

	r3 := a.OnInput(node.LocalIndex{}, record.NewDelta(record.Neg(row(1, 200))), Context{}, states)
	require.Len(t, r3.Delta.Records, 2)
	require.Equal(t, row(1, 2), r3.Delta.Records[0].Row)
	require.Equal(t, row(1, 1), r3.Delta.Records[1].Row)

	// Removing the last remaining row retracts the group with a single
	// negative and no replacement row -- the group is gone, not zero.
	r4 := a.OnInput(node.LocalIndex{}, record.NewDelta(record.Neg(row(1, 100))), Context{}, states)
	require.Len(t, r4.Delta.Records, 1)
	require.Equal(t, record.Negative, r4.Delta.Records[0].Sign)
	require.Equal(t, row(1, 1), r4.Delta.Records[0].Row)
}

func TestAggregationSumSaturatesAtInt64Max(t *testing.T) {
	parent := node.NewIndexPair(node.NewIndex(1))
	a, self := newCommittedAggregation(parent, []int{0}, 1, AggSum)
	states := newAggStates(self)

	big := record.Row{record.IntValue(1), record.IntValue(math.MaxInt64)}
	r1 := a.OnInput(node.LocalIndex{}, record.NewDelta(record.Pos(big)), Context{}, states)
	require.Len(t, r1.Delta.Records, 1)
	v, _ := r1.Delta.Records[0].Row[1].Int()
	require.Equal(t, int64(math.MaxInt64), v)

	one := record.Row{record.IntValue(1), record.IntValue(1)}
	r2 := a.OnInput(node.LocalIndex{}, record.NewDelta(record.Pos(one)), Context{}, states)
	require.Len(t, r2.Delta.Records, 2)
	v2, _ := r2.Delta.Records[1].Row[1].Int()
	require.Equal(t, int64(math.MaxInt64), v2)
}

func TestAggregationAvgRecomputesOnEachDelta(t *testing.T) {
	parent := node.NewIndexPair(node.NewIndex(1))
	a, self := newCommittedAggregation(parent, []int{0}, 1, AggAvg)
	states := newAggStates(self)

	r1 := a.OnInput(node.LocalIndex{}, record.NewDelta(record.Pos(row(1, 4))), Context{}, states)
	f1, _ := r1.Delta.Records[0].Row[1].Float()
	require.Equal(t, 4.0, f1)

	r2 := a.OnInput(node.LocalIndex{}, record.NewDelta(record.Pos(row(1, 6))), Context{}, states)
	require.Len(t, r2.Delta.Records, 2)
	fNeg, _ := r2.Delta.Records[0].Row[1].Float()
	require.Equal(t, 4.0, fNeg)
	fPos, _ := r2.Delta.Records[1].Row[1].Float()
	require.Equal(t, 5.0, fPos)
}

// TestAggregationMaxRecomputesAfterRetractingCurrentBest pins the
// min/max retraction fix: deleting a non-sole max row must recompute
// the new max from the remaining group members, not leave the stale
// value in place.
func TestAggregationMaxRecomputesAfterRetractingCurrentBest(t *testing.T) {
	parent := node.NewIndexPair(node.NewIndex(1))
	a, self := newCommittedAggregation(parent, []int{0}, 1, AggMax)
	states := newAggStates(self)

	_ = a.OnInput(node.LocalIndex{}, record.NewDelta(record.Pos(row(1, 10))), Context{}, states)
	_ = a.OnInput(node.LocalIndex{}, record.NewDelta(record.Pos(row(1, 20))), Context{}, states)
	r := a.OnInput(node.LocalIndex{}, record.NewDelta(record.Pos(row(1, 30))), Context{}, states)
	require.Equal(t, row(1, 30), r.Delta.Records[len(r.Delta.Records)-1].Row)

	del := a.OnInput(node.LocalIndex{}, record.NewDelta(record.Neg(row(1, 30))), Context{}, states)
	require.Len(t, del.Delta.Records, 2)
	require.Equal(t, record.Negative, del.Delta.Records[0].Sign)
	require.Equal(t, row(1, 30), del.Delta.Records[0].Row)
	require.Equal(t, record.Positive, del.Delta.Records[1].Sign)
	require.Equal(t, row(1, 20), del.Delta.Records[1].Row)
}
