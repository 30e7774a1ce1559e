package channel

// LocalTransport delivers envelopes via a bounded in-process channel,
// the fast path used when both endpoints of an edge live in the same
// process (§4.5).
type LocalTransport struct {
	queue    chan Envelope
	receiver Receiver
	done     chan struct{}
}

// NewLocalTransport starts a goroutine draining queue into receiver.
// Depth bounds the backpressure the sender observes.
func NewLocalTransport(receiver Receiver, depth int) *LocalTransport {
	if depth <= 0 {
		depth = 256
	}
	t := &LocalTransport{
		queue:    make(chan Envelope, depth),
		receiver: receiver,
		done:     make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *LocalTransport) run() {
	for env := range t.queue {
		_ = t.receiver.Deliver(env)
	}
	close(t.done)
}

func (t *LocalTransport) Send(env Envelope) error {
	t.queue <- env
	return nil
}

func (t *LocalTransport) Close() error {
	close(t.queue)
	<-t.done
	return nil
}
