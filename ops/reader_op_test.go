package ops

import (
	"testing"

	"github.com/stretchr/testify/require"

	"flowcore.dev/engine/node"
	"flowcore.dev/engine/record"
)

func TestReaderOperatorSuggestsUniqueIndexForPrimaryKey(t *testing.T) {
	parent := node.NewIndexPair(node.NewIndex(1))
	r := NewReader(parent, []int{0}, true)
	reqs := r.SuggestIndexes(node.NewIndex(2))
	require.Len(t, reqs, 1)
	require.True(t, reqs[0].Spec.Unique)
	require.Equal(t, []int{0}, reqs[0].Spec.Columns)
}

func TestReaderOperatorPassesDeltaThroughForDomainToApply(t *testing.T) {
	parent := node.NewIndexPair(node.NewIndex(1))
	r := NewReader(parent, []int{0}, false)
	delta := record.NewDelta(record.Pos(row(1, 2)))
	result := r.OnInput(node.LocalIndex{}, delta, Context{}, nil)
	require.Equal(t, delta, result.Delta)
	require.Empty(t, result.Misses)
}
