package controlbus

import (
	"fmt"

	"github.com/streadway/amqp"
)

func queueName(addr int, shard int) string {
	return fmt.Sprintf("flowcore.control.%d.%d", addr, shard)
}

// Bus publishes control Messages to the durable per-domain queue their
// Message.ForAddress names, generalized from the teacher's
// queue.RabbitMQService: dial, open a channel, declare a durable queue
// on demand, publish JSON to the default exchange keyed by queue name.
type Bus struct {
	conn Connection
	ch   Channel
}

// NewBus dials url (a RabbitMQ AMQP URI) and opens one channel shared
// by every Publish call.
func NewBus(url string) (*Bus, error) {
	return NewBusWithDialer(url, RealDialer{})
}

// NewBusWithDialer injects a Dialer, so tests can run against a fake
// broker without a live RabbitMQ instance.
func NewBusWithDialer(url string, dialer Dialer) (*Bus, error) {
	conn, err := dialer.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("controlbus: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("controlbus: open channel: %w", err)
	}
	return &Bus{conn: conn, ch: ch}, nil
}

// Channel returns the AMQP channel this Bus publishes on, so a caller
// can open per-domain Consumers against the same connection.
func (b *Bus) Channel() Channel { return b.ch }

func (b *Bus) Close() error {
	b.ch.Close()
	return b.conn.Close()
}

// Publish declares (if absent) the target domain-shard's control queue
// and publishes msg to it.
func (b *Bus) Publish(msg Message) error {
	name := queueName(msg.Domain, msg.Shard)
	if _, err := b.ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("controlbus: declare queue %s: %w", name, err)
	}

	body, err := Encode(msg)
	if err != nil {
		return err
	}

	err = b.ch.Publish("", name, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("controlbus: publish to %s: %w", name, err)
	}
	return nil
}
