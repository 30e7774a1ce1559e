package authority

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestLease(t *testing.T, name string) *Lease {
	t.Helper()
	mr := miniredis.RunT(t)
	l, err := NewLease(name, Config{
		RedisURL: "redis://" + mr.Addr() + "/0",
		TTL:      200 * time.Millisecond,
		Heartbeat: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestTryAcquireGrantsExclusiveLeadership(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := Config{RedisURL: "redis://" + mr.Addr() + "/0", TTL: 200 * time.Millisecond}

	a, err := NewLease("graph", cfg)
	require.NoError(t, err)
	b, err := NewLease("graph", cfg)
	require.NoError(t, err)

	ok, err := a.TryAcquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.TryAcquire(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReacquireByOwnerSucceeds(t *testing.T) {
	l := newTestLease(t, "graph")
	ctx := context.Background()

	ok, err := l.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestResignReleasesOnlyOwnToken(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := Config{RedisURL: "redis://" + mr.Addr() + "/0", TTL: 200 * time.Millisecond}
	a, err := NewLease("graph", cfg)
	require.NoError(t, err)
	b, err := NewLease("graph", cfg)
	require.NoError(t, err)

	ctx := context.Background()
	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// b never held the lease; its resign must be a no-op.
	require.NoError(t, b.Resign(ctx))
	leader, err := a.IsLeader(ctx)
	require.NoError(t, err)
	require.True(t, leader)

	require.NoError(t, a.Resign(ctx))
	leader, err = a.IsLeader(ctx)
	require.NoError(t, err)
	require.False(t, leader)
}

func TestExpiredLeaseIsAcquirableByAnother(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := Config{RedisURL: "redis://" + mr.Addr() + "/0", TTL: 50 * time.Millisecond}
	a, err := NewLease("graph", cfg)
	require.NoError(t, err)
	b, err := NewLease("graph", cfg)
	require.NoError(t, err)

	ctx := context.Background()
	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(100 * time.Millisecond)

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCampaignInvokesAcquireCallback(t *testing.T) {
	l := newTestLease(t, "graph")
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	acquired := make(chan struct{}, 1)
	l.Campaign(ctx, func() {
		select {
		case acquired <- struct{}{}:
		default:
		}
	}, nil)

	select {
	case <-acquired:
	default:
		t.Fatal("expected onAcquire to fire during campaign")
	}
}
