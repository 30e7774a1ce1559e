// Package channel implements the process-wide (domain,shard) ->
// transport directory from §4.5, generalized from the teacher's
// registry.Registry (a mutex-guarded name->service directory with
// load/save) composed with coordinator.Coordinator's dial/reconnect/
// send-loop machinery for the remote transport flavor.
package channel

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"flowcore.dev/engine/errs"
	"flowcore.dev/engine/node"
	"flowcore.dev/engine/record"
)

// EnvelopeKind distinguishes a regular message from control traffic
// carried over the same transport.
type EnvelopeKind int

const (
	EnvelopeMessage EnvelopeKind = iota
	EnvelopeReplayPiece
	EnvelopeControl
)

// Envelope is what one transport Send call carries.
type Envelope struct {
	Kind  EnvelopeKind
	Delta record.Delta
	Tag   node.Tag
	Raw   []byte // used by the remote transport for wire.Frame-encoded payloads
}

// Transport is the sending half of one (domain,shard) destination.
// Local transports are in-process channels; remote transports are
// framed stream sockets (see remote.go).
type Transport interface {
	Send(Envelope) error
	Close() error
}

// Receiver is implemented by whoever owns the destination's inbound
// queue (a domain's In channel, wrapped).
type Receiver interface {
	Deliver(Envelope) error
}

// Coordinator maintains the process-wide (domain,shard) -> Transport
// map. Senders obtain a transport once and cache it; on failure they
// invalidate and re-resolve, exactly as §4.5 requires and as the
// teacher's coordinator.Coordinator does for its single websocket
// connection, generalized here to many destinations.
type Coordinator struct {
	mu         sync.RWMutex
	transports map[node.Address]Transport
	resolver   func(node.Address) (Transport, error)
	log        *logrus.Entry
}

func New(log *logrus.Logger, resolver func(node.Address) (Transport, error)) *Coordinator {
	return &Coordinator{
		transports: make(map[node.Address]Transport),
		resolver:   resolver,
		log:        log.WithField("component", "channel_coordinator"),
	}
}

// RegisterLocal installs an in-process transport for addr, used when
// both endpoints of an edge live in the same process.
func (c *Coordinator) RegisterLocal(addr node.Address, t Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transports[addr] = t
}

func (c *Coordinator) resolve(addr node.Address) (Transport, error) {
	c.mu.RLock()
	t, ok := c.transports[addr]
	c.mu.RUnlock()
	if ok {
		return t, nil
	}
	if c.resolver == nil {
		return nil, errs.Transport("coordinator.resolve", fmt.Errorf("no transport for %s", addr))
	}
	t, err := c.resolver(addr)
	if err != nil {
		return nil, errs.Transport("coordinator.resolve", err)
	}
	c.mu.Lock()
	c.transports[addr] = t
	c.mu.Unlock()
	return t, nil
}

func (c *Coordinator) invalidate(addr node.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.transports, addr)
}

// Send resolves addr's transport (caching it) and sends env. On a
// transport-level send error the cached transport is invalidated so
// the next send re-resolves, per §4.5's failure semantics.
func (c *Coordinator) Send(addr node.Address, env Envelope) error {
	t, err := c.resolve(addr)
	if err != nil {
		return err
	}
	if err := t.Send(env); err != nil {
		c.invalidate(addr)
		c.log.WithError(err).WithField("addr", addr.String()).Warn("send failed, transport invalidated")
		return errs.Transport("coordinator.send", err)
	}
	return nil
}

func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, t := range c.transports {
		if err := t.Close(); err != nil {
			c.log.WithError(err).WithField("addr", addr.String()).Warn("transport close failed")
		}
	}
	c.transports = make(map[node.Address]Transport)
}
