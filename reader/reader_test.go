package reader

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"flowcore.dev/engine/errs"
	"flowcore.dev/engine/record"
	"flowcore.dev/engine/state"
)

func rowOf(vals ...int64) record.Row {
	out := make(record.Row, len(vals))
	for i, v := range vals {
		out[i] = record.IntValue(v)
	}
	return out
}

func TestReaderLookupReportsNotReadyBeforePriming(t *testing.T) {
	ix := state.NewFull(state.Spec{Columns: []int{0}})
	r := New(ix, func() bool { return false }, nil)

	results := r.Lookup(context.Background(), []record.Key{rowOf(1).Key([]int{0})}, false)
	require.Len(t, results, 1)
	var e *errs.Error
	require.True(t, errs.As(results[0].Err, &e))
	require.Equal(t, errs.KindNotReady, e.Kind)
}

func TestReaderLookupHitsFullIndexDirectly(t *testing.T) {
	ix := state.NewFull(state.Spec{Columns: []int{0}})
	k := rowOf(1).Key([]int{0})
	ix.Insert(k, rowOf(1, 2))
	r := New(ix, func() bool { return true }, nil)

	results := r.Lookup(context.Background(), []record.Key{k}, false)
	require.NoError(t, results[0].Err)
	require.Len(t, results[0].Rows, 1)
}

func TestReaderNonBlockingMissFiresTriggerAndReturnsMissing(t *testing.T) {
	ix := state.NewPartial(state.Spec{Columns: []int{0}})
	var firedKey record.Key
	fired := false
	r := New(ix, func() bool { return true }, func(k record.Key) {
		fired = true
		firedKey = k
	})

	k := rowOf(1).Key([]int{0})
	results := r.Lookup(context.Background(), []record.Key{k}, false)
	require.True(t, fired)
	require.Equal(t, k, firedKey)
	var e *errs.Error
	require.True(t, errs.As(results[0].Err, &e))
	require.Equal(t, errs.KindMissing, e.Kind)
}

func TestReaderBlockingLookupWakesOnReplayArrival(t *testing.T) {
	ix := state.NewPartial(state.Spec{Columns: []int{0}})
	k := rowOf(1).Key([]int{0})
	r := New(ix, func() bool { return true }, func(record.Key) {
		go func() {
			time.Sleep(10 * time.Millisecond)
			ix.MarkFilled(k, []record.Row{rowOf(1, 9)})
		}()
	})

	done := make(chan []Result, 1)
	go func() {
		done <- r.Lookup(context.Background(), []record.Key{k}, true)
	}()

	select {
	case results := <-done:
		require.NoError(t, results[0].Err)
		require.Len(t, results[0].Rows, 1)
		require.Equal(t, rowOf(1, 9), results[0].Rows[0])
	case <-time.After(time.Second):
		t.Fatal("blocking lookup never woke")
	}
}

// TestReaderBlockingLookupEmptyFillReturnsEmptyNotError pins §8 scenario
// S2's "lookup of an absent key resolves to an empty result" choice: a
// replay landing with zero rows for the key is not itself an error.
func TestReaderBlockingLookupEmptyFillReturnsEmptyNotError(t *testing.T) {
	ix := state.NewPartial(state.Spec{Columns: []int{0}})
	k := rowOf(99).Key([]int{0})
	r := New(ix, func() bool { return true }, func(record.Key) {
		go func() {
			time.Sleep(10 * time.Millisecond)
			ix.MarkFilled(k, nil)
		}()
	})

	results := r.Lookup(context.Background(), []record.Key{k}, true)
	require.NoError(t, results[0].Err)
	require.Empty(t, results[0].Rows)
}

func TestReaderBlockingLookupCancelledByContext(t *testing.T) {
	ix := state.NewPartial(state.Spec{Columns: []int{0}})
	k := rowOf(1).Key([]int{0})
	r := New(ix, func() bool { return true }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan []Result, 1)
	go func() {
		done <- r.Lookup(ctx, []record.Key{k}, true)
	}()
	cancel()

	select {
	case results := <-done:
		var e *errs.Error
		require.True(t, errs.As(results[0].Err, &e))
		require.Equal(t, errs.KindCancelled, e.Kind)
	case <-time.After(time.Second):
		t.Fatal("blocking lookup never observed cancellation")
	}
}

func TestReaderLenReflectsMaterializedRowCount(t *testing.T) {
	ix := state.NewFull(state.Spec{Columns: []int{0}})
	ix.Insert(rowOf(1).Key([]int{0}), rowOf(1, 2))
	ix.Insert(rowOf(2).Key([]int{0}), rowOf(2, 3))
	r := New(ix, func() bool { return true }, nil)
	require.Equal(t, 2, r.Len())
}
