package reader

import (
	"context"
	"fmt"
	"sync"

	"flowcore.dev/engine/errs"
	"flowcore.dev/engine/node"
	"flowcore.dev/engine/record"
)

// Directory resolves a reader node's owning domain-shard to the *Reader
// that lives there. In the common, single-process deployment this is
// satisfied by a local registry the controller populates as readers
// come up; in a multi-process deployment it is backed by whatever the
// channel coordinator's control-plane counterpart returns.
type Directory interface {
	Resolve(addr node.Address) (*Reader, bool)
}

// RemoteLookup is the hook a multi-process deployment installs to
// satisfy a lookup against a reader living in another process, framed
// per §6's wire format. Left nil in the common in-process deployment,
// where Directory.Resolve always succeeds and Getter never needs it.
type RemoteLookup func(ctx context.Context, addr node.Address, keys []record.Key, block bool) ([]Result, error)

// Getter is the reader-side instance of §4.5's "senders obtain a
// transport once and cache it; on failure they invalidate and
// re-resolve" pattern: it holds the reader's current address, resolves
// it to a live *Reader (or a RemoteLookup call) lazily, and drops the
// cached resolution on a TransportError so the next call re-resolves
// rather than retrying a dead peer forever.
type Getter struct {
	dir    Directory
	remote RemoteLookup

	mu     sync.Mutex
	addr   node.Address
	cached *Reader
}

func NewGetter(dir Directory, remote RemoteLookup, addr node.Address) *Getter {
	return &Getter{dir: dir, remote: remote, addr: addr}
}

// Rebind updates the address a Getter resolves against, used when the
// controller migrates a reader to a new domain-shard.
func (g *Getter) Rebind(addr node.Address) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addr = addr
	g.cached = nil
}

func (g *Getter) resolve() (*Reader, node.Address, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cached != nil {
		return g.cached, g.addr, true
	}
	r, ok := g.dir.Resolve(g.addr)
	if ok {
		g.cached = r
	}
	return r, g.addr, ok
}

func (g *Getter) invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cached = nil
}

// Lookup resolves the reader's current location and performs the
// lookup, preferring the local fast path (a direct *Reader.Lookup call)
// and falling back to RemoteLookup when Directory can't resolve the
// address locally. A failure from the remote path invalidates the
// cached resolution so the next call re-resolves.
func (g *Getter) Lookup(ctx context.Context, keys []record.Key, block bool) ([]Result, error) {
	if r, _, ok := g.resolve(); ok {
		return r.Lookup(ctx, keys, block), nil
	}
	g.mu.Lock()
	addr := g.addr
	g.mu.Unlock()
	if g.remote == nil {
		return nil, errs.Transport("reader.getter", fmt.Errorf("no local reader and no remote path for %s", addr))
	}
	results, err := g.remote(ctx, addr, keys, block)
	if err != nil {
		g.invalidate()
		return nil, errs.Transport("reader.getter", err)
	}
	return results, nil
}
