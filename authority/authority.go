// Package authority implements leader election for the process that is
// allowed to mutate the dataflow graph: commit new NodeSpecs, assign
// domains to shards, and install replay paths. Exactly one instance
// holds the lease at a time; every other instance treats the graph as
// read-only until it acquires the lease itself.
//
// The lease is a Redis key with an expiry, renewed on a heartbeat
// interval shorter than the expiry, generalized from the teacher's
// queue/redis.Queue connection and ZADD-based deadline tracking.
package authority

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotLeader is returned by operations that require the lease when the
// caller does not currently hold it.
var ErrNotLeader = errors.New("authority: not leader")

// Config configures the Redis-backed lease.
type Config struct {
	RedisURL string // defaults to "redis://localhost:6379/0"
	KeyPrefix string // defaults to "flowcore:authority:"
	TTL       time.Duration // lease expiry; defaults to 15s
	Heartbeat time.Duration // renewal interval; defaults to TTL/3
}

func (c Config) withDefaults() Config {
	if c.RedisURL == "" {
		c.RedisURL = "redis://localhost:6379/0"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "flowcore:authority:"
	}
	if c.TTL <= 0 {
		c.TTL = 15 * time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = c.TTL / 3
	}
	return c
}

// Lease holds a single named leadership election. One Lease is created
// per election name (e.g. one per graph, if multiple independent graphs
// share a Redis instance).
type Lease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
	hb     time.Duration

	quit chan struct{}
	done chan struct{}
}

// NewLease opens a Redis client and returns a Lease for the named
// election. Callers running tests should pass a Config.RedisURL
// pointing at a miniredis instance.
func NewLease(name string, cfg Config) (*Lease, error) {
	cfg = cfg.withDefaults()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("authority: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	return &Lease{
		client: client,
		key:    cfg.KeyPrefix + name,
		token:  uuid.NewString(),
		ttl:    cfg.TTL,
		hb:     cfg.Heartbeat,
	}, nil
}

// Close releases the underlying Redis client. It does not release the
// lease itself; call Resign first if the caller still holds it.
func (l *Lease) Close() error {
	return l.client.Close()
}

// Token is this Lease instance's unique holder identity, stamped into
// the Redis value on acquire so a stale holder can never mistake
// someone else's lease for its own.
func (l *Lease) Token() string { return l.token }

// TryAcquire attempts to become leader via SET NX PX: it succeeds only
// if the key is absent or already held by this token (a reacquire after
// a crash that left the Lease struct intact).
func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("authority: acquire: %w", err)
	}
	if ok {
		return true, nil
	}

	held, err := l.client.Get(ctx, l.key).Result()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("authority: acquire: %w", err)
	}
	if held == l.token {
		return true, l.renew(ctx)
	}
	return false, nil
}

// IsLeader reports whether this token currently holds the lease,
// without attempting to acquire it.
func (l *Lease) IsLeader(ctx context.Context) (bool, error) {
	held, err := l.client.Get(ctx, l.key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("authority: check: %w", err)
	}
	return held == l.token, nil
}

func (l *Lease) renew(ctx context.Context) error {
	// Only extend the TTL if we still hold it -- a plain Expire would
	// happily extend someone else's key if it changed hands between
	// Get and Expire above.
	script := redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		end
		return 0
	`)
	n, err := script.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("authority: renew: %w", err)
	}
	if n == 0 {
		return ErrNotLeader
	}
	return nil
}

// Resign releases the lease immediately, but only if still held by this
// token, so a lagging resign can never clobber a successor's lease.
func (l *Lease) Resign(ctx context.Context) error {
	script := redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`)
	return script.Run(ctx, l.client, []string{l.key}, l.token).Err()
}

// Campaign runs until ctx is cancelled: it repeatedly attempts to
// acquire the lease, and once held, renews it on the heartbeat interval.
// onAcquire is called each time this instance goes from not holding
// the lease to holding it, and onLost is called if a
// heartbeat renewal discovers the lease has been lost (another holder
// raced in after a missed heartbeat deadline).
func (l *Lease) Campaign(ctx context.Context, onAcquire, onLost func()) {
	leader := false
	ticker := time.NewTicker(l.hb)
	defer ticker.Stop()

	for {
		ok, err := l.TryAcquire(ctx)
		if err == nil {
			if ok && !leader {
				leader = true
				if onAcquire != nil {
					onAcquire()
				}
			} else if !ok && leader {
				leader = false
				if onLost != nil {
					onLost()
				}
			}
		}

		select {
		case <-ctx.Done():
			if leader {
				resignCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				_ = l.Resign(resignCtx)
				cancel()
			}
			return
		case <-ticker.C:
		}
	}
}
