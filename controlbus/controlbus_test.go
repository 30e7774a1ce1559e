package controlbus

import (
	"sync"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/require"

	"flowcore.dev/engine/domain"
	"flowcore.dev/engine/node"
	"flowcore.dev/engine/ops"
)

// fakeChannel is an in-process stand-in for a real AMQP channel: Publish
// appends to an in-memory slice per queue, and Consume replays it
// through a buffered delivery channel. It exists purely to exercise
// Bus/Consumer wiring without a live broker.
type fakeChannel struct {
	mu      sync.Mutex
	queues  map[string][]amqp.Delivery
	streams map[string]chan amqp.Delivery
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{queues: make(map[string][]amqp.Delivery), streams: make(map[string]chan amqp.Delivery)}
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.streams[name] == nil {
		f.streams[name] = make(chan amqp.Delivery, 16)
	}
	return amqp.Queue{Name: name}, nil
}

// fakeAcknowledger makes fake deliveries safe to Ack/Nack, which
// amqp.Delivery otherwise forwards to a nil interface and panics on.
type fakeAcknowledger struct{}

func (fakeAcknowledger) Ack(tag uint64, multiple bool) error             { return nil }
func (fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error    { return nil }
func (fakeAcknowledger) Reject(tag uint64, requeue bool) error           { return nil }

func (f *fakeChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	ch := f.streams[key]
	f.mu.Unlock()
	if ch == nil {
		return nil
	}
	ch <- amqp.Delivery{Body: msg.Body, Acknowledger: fakeAcknowledger{}}
	return nil
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.streams[queue] == nil {
		f.streams[queue] = make(chan amqp.Delivery, 16)
	}
	return f.streams[queue], nil
}

func (f *fakeChannel) Close() error { return nil }

type fakeSubmitter struct {
	mu  sync.Mutex
	got []domain.Packet
	err error
}

func (s *fakeSubmitter) Submit(pkt domain.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, pkt)
	return s.err
}

func (s *fakeSubmitter) packets() []domain.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Packet, len(s.got))
	copy(out, s.got)
	return out
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	addr := node.Address{Domain: node.NewDomainIndex(2), Shard: 1}
	target := ops.Target{
		Ingress: node.Address{Domain: node.NewDomainIndex(5), Shard: 0},
		Tag:     node.Tag("path-1"),
	}
	msg := UpdateEgress(addr, node.MakeLocalIndex(3), target)

	body, err := Encode(msg)
	require.NoError(t, err)

	decoded, err := Decode(body)
	require.NoError(t, err)
	require.Equal(t, msg, decoded)

	pkt, err := ToPacket(decoded)
	require.NoError(t, err)
	require.Equal(t, domain.PacketUpdateEgress, pkt.Kind)
	require.Equal(t, 3, pkt.EgressNode.ID())
	require.Equal(t, target.Ingress, pkt.NewTarget.Ingress)
	require.Equal(t, target.Tag, pkt.NewTarget.Tag)
}

func TestQuitRoundTrip(t *testing.T) {
	addr := node.Address{Domain: node.NewDomainIndex(1), Shard: 0}
	msg := Quit(addr)

	pkt, err := ToPacket(msg)
	require.NoError(t, err)
	require.Equal(t, domain.PacketQuit, pkt.Kind)
}

func TestBusPublishConsumerSubmits(t *testing.T) {
	fc := newFakeChannel()
	bus := &Bus{ch: fc}
	submitter := &fakeSubmitter{}
	addr := node.Address{Domain: node.NewDomainIndex(4), Shard: 0}

	consumer := NewConsumer(fc, addr, submitter, 2, nil)
	require.NoError(t, consumer.Start())
	defer consumer.Stop()

	require.NoError(t, bus.Publish(Quit(addr)))

	require.Eventually(t, func() bool {
		return len(submitter.packets()) == 1
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, domain.PacketQuit, submitter.packets()[0].Kind)
}

func TestConsumerDoesNotSubmitUndecodableDelivery(t *testing.T) {
	fc := newFakeChannel()
	submitter := &fakeSubmitter{}
	addr := node.Address{Domain: node.NewDomainIndex(9), Shard: 0}

	consumer := NewConsumer(fc, addr, submitter, 1, nil)
	require.NoError(t, consumer.Start())
	defer consumer.Stop()

	require.NoError(t, fc.Publish("", queueName(9, 0), false, false, amqp.Publishing{Body: []byte("not json")}))

	require.Never(t, func() bool {
		return len(submitter.packets()) > 0
	}, 100*time.Millisecond, 10*time.Millisecond)
}
