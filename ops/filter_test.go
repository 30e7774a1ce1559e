package ops

import (
	"testing"

	"github.com/stretchr/testify/require"

	"flowcore.dev/engine/node"
	"flowcore.dev/engine/record"
)

func TestFilterConjunctionPassesOnlyMatchingRows(t *testing.T) {
	parent := node.NewIndexPair(node.NewIndex(1))
	f := NewFilter(parent, 2, []Predicate{
		{Column: 0, Op: OpGt, Value: record.IntValue(1)},
		{Column: 1, Op: OpEq, Value: record.IntValue(10)},
	})

	delta := record.NewDelta(
		record.Pos(row(1, 10)),  // fails column 0 > 1
		record.Pos(row(2, 10)),  // passes both
		record.Pos(row(3, 11)),  // fails column 1 == 10
	)
	result := f.OnInput(node.LocalIndex{}, delta, Context{}, nil)
	require.Len(t, result.Delta.Records, 1)
	require.Equal(t, row(2, 10), result.Delta.Records[0].Row)
	require.Empty(t, result.Misses)
}

func TestFilterParamPredicateBindsAtLookupTime(t *testing.T) {
	pred := Predicate{Column: 0, Op: OpEq, Value: record.IntValue(0), Param: true}
	pred.Bind(record.IntValue(5))

	f := NewFilter(node.NewIndexPair(node.NewIndex(1)), 1, []Predicate{pred})
	delta := record.NewDelta(record.Pos(row(5)), record.Pos(row(6)))
	result := f.OnInput(node.LocalIndex{}, delta, Context{}, nil)
	require.Len(t, result.Delta.Records, 1)
	require.Equal(t, row(5), result.Delta.Records[0].Row)
}
