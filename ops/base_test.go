package ops

import (
	"testing"

	"github.com/stretchr/testify/require"

	"flowcore.dev/engine/node"
	"flowcore.dev/engine/record"
	"flowcore.dev/engine/state"
)

func TestBaseApplyInsertRejectsDuplicateUnderUniqueConstraint(t *testing.T) {
	b := NewBase([]int{0})
	b.OnCommit(node.NewIndexPair(node.NewIndex(1)), nil)
	primary := state.NewFull(state.Spec{Columns: []int{0}, Unique: true})
	primary.Insert(row(1).Key([]int{0}), row(1, 2))

	_, err := b.Apply(primary, Write{Kind: WriteInsert, Row: row(1, 3)}, true)
	require.Error(t, err)

	// Without a declared unique constraint the same insert is allowed
	// through, per §6's "iff a unique constraint is declared".
	delta, err := b.Apply(primary, Write{Kind: WriteInsert, Row: row(1, 3)}, false)
	require.NoError(t, err)
	require.Len(t, delta.Records, 1)
	require.Equal(t, record.Positive, delta.Records[0].Sign)
}

func TestBaseApplyUpdateEmitsNegativeThenPositive(t *testing.T) {
	b := NewBase([]int{0})
	primary := state.NewFull(state.Spec{Columns: []int{0}, Unique: true})

	delta, err := b.Apply(primary, Write{Kind: WriteUpdate, Old: row(1, 2), Row: row(1, 3)}, true)
	require.NoError(t, err)
	require.Len(t, delta.Records, 2)
	require.Equal(t, record.Negative, delta.Records[0].Sign)
	require.Equal(t, row(1, 2), delta.Records[0].Row)
	require.Equal(t, record.Positive, delta.Records[1].Sign)
	require.Equal(t, row(1, 3), delta.Records[1].Row)
}

func TestBaseApplyDeleteEmitsNegative(t *testing.T) {
	b := NewBase(nil)
	primary := state.NewFull(state.Spec{Columns: nil})
	delta, err := b.Apply(primary, Write{Kind: WriteDelete, Row: row(4)}, false)
	require.NoError(t, err)
	require.Len(t, delta.Records, 1)
	require.Equal(t, record.Negative, delta.Records[0].Sign)
}
