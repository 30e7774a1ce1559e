package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"flowcore.dev/engine/record"
)

func rowOf(vals ...int64) record.Row {
	out := make(record.Row, len(vals))
	for i, v := range vals {
		out[i] = record.IntValue(v)
	}
	return out
}

func TestFullIndexNeverMisses(t *testing.T) {
	ix := NewFull(Spec{Columns: []int{0}})
	k := rowOf(1).Key([]int{0})

	rows, miss := ix.Lookup(k)
	require.Nil(t, miss)
	require.Empty(t, rows)

	ix.Insert(k, rowOf(1, 2))
	rows, miss = ix.Lookup(k)
	require.Nil(t, miss)
	require.Len(t, rows, 1)
}

func TestPartialIndexMissesUntilFilled(t *testing.T) {
	ix := NewPartial(Spec{Columns: []int{0}})
	k := rowOf(1).Key([]int{0})

	_, miss := ix.Lookup(k)
	require.NotNil(t, miss)
	require.Equal(t, k, miss.Key)

	ix.MarkFilled(k, []record.Row{rowOf(1, 2)})
	rows, miss := ix.Lookup(k)
	require.Nil(t, miss)
	require.Len(t, rows, 1)
}

func TestPartialIndexEvictReturnsToUnfilled(t *testing.T) {
	ix := NewPartial(Spec{Columns: []int{0}})
	k := rowOf(1).Key([]int{0})
	ix.MarkFilled(k, []record.Row{rowOf(1, 2)})

	_, miss := ix.Lookup(k)
	require.Nil(t, miss)

	ix.Evict(k)
	_, miss = ix.Lookup(k)
	require.NotNil(t, miss)
}

// TestWaitWakesExactlyOnFill pins §8's at-most-one-in-flight-adjacent
// guarantee from the reader side: registering a waiter and filling the
// key never races such that a wakeup is lost.
func TestWaitWakesExactlyOnFill(t *testing.T) {
	ix := NewPartial(Spec{Columns: []int{0}})
	k := rowOf(1).Key([]int{0})

	ch := ix.Wait(k)
	select {
	case <-ch:
		t.Fatal("waiter fired before fill")
	case <-time.After(10 * time.Millisecond):
	}

	ix.MarkFilled(k, []record.Row{rowOf(1, 2)})
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("waiter never fired after fill")
	}
}

func TestWaitOnAlreadyFilledKeyReturnsClosedChannel(t *testing.T) {
	ix := NewPartial(Spec{Columns: []int{0}})
	k := rowOf(1).Key([]int{0})
	ix.MarkFilled(k, []record.Row{rowOf(1, 2)})

	ch := ix.Wait(k)
	select {
	case <-ch:
	default:
		t.Fatal("expected an already-closed channel for a filled key")
	}
}

func TestWaitOnFullIndexReturnsClosedChannel(t *testing.T) {
	ix := NewFull(Spec{Columns: []int{0}})
	ch := ix.Wait(rowOf(9).Key([]int{0}))
	select {
	case <-ch:
	default:
		t.Fatal("a full index never blocks a waiter")
	}
}

func TestRemoveDeletesFirstMatchingRowOnly(t *testing.T) {
	ix := NewFull(Spec{Columns: []int{0}})
	k := rowOf(1).Key([]int{0})
	ix.Insert(k, rowOf(1, 2))
	ix.Insert(k, rowOf(1, 2))

	require.True(t, ix.Remove(k, rowOf(1, 2)))
	rows, _ := ix.Lookup(k)
	require.Len(t, rows, 1)

	require.False(t, ix.Remove(k, rowOf(1, 99)))
}

func TestNodeStatePrimaryIsFirstRegisteredIndex(t *testing.T) {
	ns := NewNodeState()
	_, ok := ns.Primary()
	require.False(t, ok)

	first := NewFull(Spec{Columns: []int{0}})
	second := NewFull(Spec{Columns: []int{1}})
	ns.AddIndex("primary", first)
	ns.AddIndex("secondary", second)

	primary, ok := ns.Primary()
	require.True(t, ok)
	require.Same(t, first, primary)
	require.Equal(t, 2, ns.Indices())
}
