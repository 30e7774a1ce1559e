package replay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"flowcore.dev/engine/domain"
	"flowcore.dev/engine/node"
	"flowcore.dev/engine/record"
)

type deliverCall struct {
	local node.LocalIndex
	tag   node.Tag
	kf    domain.KeyOrFull
	delta record.Delta
}

type fakeResolver struct {
	mu        sync.Mutex
	rows      map[record.Key][]record.Row
	all       []record.Row
	delivered chan deliverCall
	evicted   chan record.Key
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		rows:      make(map[record.Key][]record.Row),
		delivered: make(chan deliverCall, 10),
		evicted:   make(chan record.Key, 10),
	}
}

func (f *fakeResolver) LookupPrimary(_ node.LocalIndex, key record.Key) ([]record.Row, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows, ok := f.rows[key]
	return rows, ok
}

func (f *fakeResolver) AllPrimary(node.LocalIndex) []record.Row { return f.all }

func (f *fakeResolver) DeliverReplayPiece(local node.LocalIndex, tag node.Tag, kf domain.KeyOrFull, delta record.Delta) {
	f.delivered <- deliverCall{local: local, tag: tag, kf: kf, delta: delta}
}

func (f *fakeResolver) EvictKey(_ node.LocalIndex, key record.Key) {
	f.evicted <- key
}

func rowOf(vals ...int64) record.Row {
	out := make(record.Row, len(vals))
	for i, v := range vals {
		out[i] = record.IntValue(v)
	}
	return out
}

// TestEngineOnMissSuppressesConcurrentDuplicateRequest pins §8 property
// 5, the at-most-one-in-flight-per-(tag,key) rule.
func TestEngineOnMissSuppressesConcurrentDuplicateRequest(t *testing.T) {
	addrA := node.Address{Domain: node.NewDomainIndex(1), Shard: 0}
	addrB := node.Address{Domain: node.NewDomainIndex(2), Shard: 0}
	localA, localB := node.MakeLocalIndex(0), node.MakeLocalIndex(1)
	key := rowOf(1).Key([]int{0})

	source := newFakeResolver()
	source.rows[key] = []record.Row{rowOf(1, 2)}
	target := newFakeResolver()

	registry := NewRegistry()
	registry.Register(Path{Tag: "t1", Source: addrA, SourceNode: localA, Target: addrB, TargetNode: localB, Columns: []int{0}})

	eng := NewEngine(registry, time.Second, nil)
	eng.RegisterDomain(addrA, source)
	eng.RegisterDomain(addrB, target)

	already1 := eng.OnMiss("t1", key, addrB)
	require.False(t, already1)
	require.Equal(t, 1, eng.Pending())

	already2 := eng.OnMiss("t1", key, addrB)
	require.True(t, already2)
	require.Equal(t, 1, eng.Pending())

	select {
	case call := <-target.delivered:
		require.Equal(t, localB, call.local)
		require.Equal(t, node.Tag("t1"), call.tag)
		require.Len(t, call.delta.Records, 1)
		require.Equal(t, rowOf(1, 2), call.delta.Records[0].Row)
	case <-time.After(time.Second):
		t.Fatal("replay piece never delivered")
	}

	eng.OnReplayArrived("t1", key)
	require.Equal(t, 0, eng.Pending())
}

func TestEngineSweepTimeoutsReportsStaleUnresolvedRequest(t *testing.T) {
	registry := NewRegistry()
	eng := NewEngine(registry, 5*time.Millisecond, nil)

	key := rowOf(1).Key([]int{0})
	already := eng.OnMiss("ghost", key, node.Address{})
	require.False(t, already)

	time.Sleep(20 * time.Millisecond)
	expired := eng.SweepTimeouts()
	require.Len(t, expired, 1)
	require.Equal(t, node.Tag("ghost"), expired[0].Tag)
	require.Equal(t, key, expired[0].Key)
}

func TestEnginePrimeFullGroupsRowsByKeyIntoSeparatePieces(t *testing.T) {
	addrA := node.Address{Domain: node.NewDomainIndex(1), Shard: 0}
	addrB := node.Address{Domain: node.NewDomainIndex(2), Shard: 0}
	localA, localB := node.MakeLocalIndex(0), node.MakeLocalIndex(1)

	source := newFakeResolver()
	source.all = []record.Row{rowOf(1, 10), rowOf(1, 11), rowOf(2, 20)}
	target := newFakeResolver()

	registry := NewRegistry()
	registry.Register(Path{Tag: "full", Source: addrA, SourceNode: localA, Target: addrB, TargetNode: localB, Columns: []int{0}, Full: true})

	eng := NewEngine(registry, time.Second, nil)
	eng.RegisterDomain(addrA, source)
	eng.RegisterDomain(addrB, target)

	eng.PrimeFull("full")

	seen := map[record.Key]int{}
	for i := 0; i < 2; i++ {
		select {
		case call := <-target.delivered:
			require.True(t, call.kf.IsFull)
			seen[call.kf.Key] = len(call.delta.Records)
		case <-time.After(time.Second):
			t.Fatalf("expected 2 grouped pieces, got %d", i)
		}
	}
	require.Equal(t, 2, seen[rowOf(1).Key([]int{0})])
	require.Equal(t, 1, seen[rowOf(2).Key([]int{0})])
}

func TestEngineEvictClearsPendingAndEvictsTarget(t *testing.T) {
	addrA := node.Address{Domain: node.NewDomainIndex(1), Shard: 0}
	addrB := node.Address{Domain: node.NewDomainIndex(2), Shard: 0}
	localA, localB := node.MakeLocalIndex(0), node.MakeLocalIndex(1)
	key := rowOf(1).Key([]int{0})

	target := newFakeResolver()
	registry := NewRegistry()
	registry.Register(Path{Tag: "t1", Source: addrA, SourceNode: localA, Target: addrB, TargetNode: localB, Columns: []int{0}})

	eng := NewEngine(registry, time.Second, nil)
	eng.RegisterDomain(addrB, target)

	eng.OnMiss("t1", key, addrB)
	require.Equal(t, 1, eng.Pending())

	eng.Evict("t1", key)
	require.Equal(t, 0, eng.Pending())

	select {
	case evictedKey := <-target.evicted:
		require.Equal(t, key, evictedKey)
	case <-time.After(time.Second):
		t.Fatal("evict never reached target resolver")
	}
}
