package ops

import (
	"testing"

	"github.com/stretchr/testify/require"

	"flowcore.dev/engine/node"
	"flowcore.dev/engine/record"
	"flowcore.dev/engine/state"
)

func newCommittedTopK(parent node.IndexPair, groupBy []int, sortCol, k int, order SortOrder, remap map[node.Index]node.LocalIndex) (*TopK, node.LocalIndex) {
	tk := NewTopK(parent, groupBy, sortCol, k, order)
	self := newLocal(9)
	selfPair := node.NewIndexPair(node.NewIndex(99))
	selfPair.Remap(self)
	tk.OnCommit(selfPair, remap)
	return tk, self
}

// TestTopKEvictsWorstRowPastCapacity pins §8 scenario S4's literal
// top-k example: inserting past K evicts the single worst row and only
// the newly-admitted row is emitted positive.
func TestTopKEvictsWorstRowPastCapacity(t *testing.T) {
	parent := node.NewIndexPair(node.NewIndex(1))
	tk, self := newCommittedTopK(parent, []int{0}, 1, 2, Desc, nil)
	states := map[node.LocalIndex]*state.NodeState{self: state.NewNodeState()}

	r1 := tk.OnInput(node.LocalIndex{}, record.NewDelta(record.Pos(row(1, 10))), Context{}, states)
	require.Len(t, r1.Delta.Records, 1)
	require.Equal(t, row(1, 10), r1.Delta.Records[0].Row)

	r2 := tk.OnInput(node.LocalIndex{}, record.NewDelta(record.Pos(row(1, 20))), Context{}, states)
	require.Len(t, r2.Delta.Records, 1)
	require.Equal(t, row(1, 20), r2.Delta.Records[0].Row)

	r3 := tk.OnInput(node.LocalIndex{}, record.NewDelta(record.Pos(row(1, 30))), Context{}, states)
	require.Len(t, r3.Delta.Records, 2)
	require.Equal(t, record.Negative, r3.Delta.Records[0].Sign)
	require.Equal(t, row(1, 10), r3.Delta.Records[0].Row)
	require.Equal(t, record.Positive, r3.Delta.Records[1].Sign)
	require.Equal(t, row(1, 30), r3.Delta.Records[1].Row)
}

func TestTopKPullsReplacementFromFullParentStateOnDelete(t *testing.T) {
	parent := node.NewIndexPair(node.NewIndex(5))
	remap := map[node.Index]node.LocalIndex{node.NewIndex(5): newLocal(2)}
	tk, self := newCommittedTopK(parent, []int{0}, 1, 1, Desc, remap)
	ownState := state.NewNodeState()

	_ = tk.OnInput(node.LocalIndex{}, record.NewDelta(record.Pos(row(1, 10))), Context{}, map[node.LocalIndex]*state.NodeState{self: ownState})

	parentState := state.NewNodeState()
	parentIx := state.NewFull(state.Spec{Columns: []int{0}})
	parentIx.Insert(row(1).Key([]int{0}), row(1, 5))
	parentState.AddIndex("primary", parentIx)
	states := map[node.LocalIndex]*state.NodeState{self: ownState, newLocal(2): parentState}

	result := tk.OnInput(node.LocalIndex{}, record.NewDelta(record.Neg(row(1, 10))), Context{}, states)
	require.Empty(t, result.Misses)
	require.Len(t, result.Delta.Records, 2)
	require.Equal(t, record.Negative, result.Delta.Records[0].Sign)
	require.Equal(t, row(1, 10), result.Delta.Records[0].Row)
	require.Equal(t, record.Positive, result.Delta.Records[1].Sign)
	require.Equal(t, row(1, 5), result.Delta.Records[1].Row)
}

func TestTopKMissesOnDeleteWithPartialParentState(t *testing.T) {
	parent := node.NewIndexPair(node.NewIndex(5))
	remap := map[node.Index]node.LocalIndex{node.NewIndex(5): newLocal(2)}
	tk, self := newCommittedTopK(parent, []int{0}, 1, 1, Desc, remap)
	ownState := state.NewNodeState()

	_ = tk.OnInput(node.LocalIndex{}, record.NewDelta(record.Pos(row(1, 10))), Context{}, map[node.LocalIndex]*state.NodeState{self: ownState})

	parentState := state.NewNodeState()
	parentState.AddIndex("primary", state.NewPartial(state.Spec{Columns: []int{0}}))
	states := map[node.LocalIndex]*state.NodeState{self: ownState, newLocal(2): parentState}

	result := tk.OnInput(node.LocalIndex{}, record.NewDelta(record.Neg(row(1, 10))), Context{}, states)
	require.Len(t, result.Delta.Records, 1)
	require.Equal(t, record.Negative, result.Delta.Records[0].Sign)
	require.Len(t, result.Misses, 1)
}
