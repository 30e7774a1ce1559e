package ops

import (
	"testing"

	"github.com/stretchr/testify/require"

	"flowcore.dev/engine/node"
	"flowcore.dev/engine/record"
)

func TestUnionRemapsEachParentToOutputSchema(t *testing.T) {
	left := node.NewIndexPair(node.NewIndex(1))
	right := node.NewIndexPair(node.NewIndex(2))
	u := NewUnion([]node.IndexPair{left, right}, map[node.Index][]int{
		node.NewIndex(1): {0, 1},
		node.NewIndex(2): {1, 0}, // right side's columns arrive reversed
	}, 2)

	remap := map[node.Index]node.LocalIndex{node.NewIndex(1): newLocal(0), node.NewIndex(2): newLocal(1)}
	u.OnCommit(node.NewIndexPair(node.NewIndex(3)), remap)

	fromLeft := u.OnInput(newLocal(0), record.NewDelta(record.Pos(row(1, 2))), Context{}, nil)
	require.Len(t, fromLeft.Delta.Records, 1)
	require.Equal(t, row(1, 2), fromLeft.Delta.Records[0].Row)

	fromRight := u.OnInput(newLocal(1), record.NewDelta(record.Pos(row(9, 8))), Context{}, nil)
	require.Len(t, fromRight.Delta.Records, 1)
	require.Equal(t, row(8, 9), fromRight.Delta.Records[0].Row)
}

func TestUnionParentColumnsReportsAllContributors(t *testing.T) {
	left := node.NewIndexPair(node.NewIndex(1))
	right := node.NewIndexPair(node.NewIndex(2))
	u := NewUnion([]node.IndexPair{left, right}, map[node.Index][]int{
		node.NewIndex(1): {0},
		node.NewIndex(2): {0},
	}, 1)

	origins := u.ParentColumns(0)
	require.Len(t, origins, 2)
}
