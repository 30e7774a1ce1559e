package reader

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"flowcore.dev/engine/errs"
	"flowcore.dev/engine/node"
	"flowcore.dev/engine/record"
	"flowcore.dev/engine/state"
)

type fakeDirectory struct {
	readers map[node.Address]*Reader
}

func (d *fakeDirectory) Resolve(addr node.Address) (*Reader, bool) {
	r, ok := d.readers[addr]
	return r, ok
}

func TestGetterPrefersLocalReaderWhenDirectoryResolves(t *testing.T) {
	addr := node.Address{Domain: node.NewDomainIndex(1), Shard: 0}
	ix := state.NewFull(state.Spec{Columns: []int{0}})
	k := rowOf(1).Key([]int{0})
	ix.Insert(k, rowOf(1, 2))
	r := New(ix, func() bool { return true }, nil)

	dir := &fakeDirectory{readers: map[node.Address]*Reader{addr: r}}
	g := NewGetter(dir, nil, addr)

	results, err := g.Lookup(context.Background(), []record.Key{k}, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Rows, 1)
}

func TestGetterFallsBackToRemoteWhenDirectoryMisses(t *testing.T) {
	addr := node.Address{Domain: node.NewDomainIndex(9), Shard: 0}
	dir := &fakeDirectory{readers: map[node.Address]*Reader{}}

	called := false
	remote := func(_ context.Context, gotAddr node.Address, keys []record.Key, block bool) ([]Result, error) {
		called = true
		require.Equal(t, addr, gotAddr)
		return []Result{{Key: keys[0], Rows: []record.Row{rowOf(1, 2)}}}, nil
	}

	g := NewGetter(dir, remote, addr)
	k := rowOf(1).Key([]int{0})
	results, err := g.Lookup(context.Background(), []record.Key{k}, false)
	require.NoError(t, err)
	require.True(t, called)
	require.Len(t, results, 1)
}

func TestGetterInvalidatesCacheOnRemoteError(t *testing.T) {
	addr := node.Address{Domain: node.NewDomainIndex(9), Shard: 0}
	dir := &fakeDirectory{readers: map[node.Address]*Reader{}}

	calls := 0
	remote := func(context.Context, node.Address, []record.Key, bool) ([]Result, error) {
		calls++
		return nil, fmt.Errorf("peer unreachable")
	}
	g := NewGetter(dir, remote, addr)

	_, err := g.Lookup(context.Background(), []record.Key{rowOf(1).Key([]int{0})}, false)
	require.Error(t, err)
	var e *errs.Error
	require.True(t, errs.As(err, &e))
	require.Equal(t, errs.KindTransport, e.Kind)

	_, err = g.Lookup(context.Background(), []record.Key{rowOf(1).Key([]int{0})}, false)
	require.Error(t, err)
	require.Equal(t, 2, calls)
}

func TestGetterReturnsTransportErrorWithNoLocalOrRemotePath(t *testing.T) {
	addr := node.Address{Domain: node.NewDomainIndex(9), Shard: 0}
	dir := &fakeDirectory{readers: map[node.Address]*Reader{}}
	g := NewGetter(dir, nil, addr)

	_, err := g.Lookup(context.Background(), []record.Key{rowOf(1).Key([]int{0})}, false)
	require.Error(t, err)
	var e *errs.Error
	require.True(t, errs.As(err, &e))
	require.Equal(t, errs.KindTransport, e.Kind)
}
