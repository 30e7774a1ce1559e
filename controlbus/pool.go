package controlbus

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"flowcore.dev/engine/domain"
	"flowcore.dev/engine/node"
)

// Submitter is the surface a Consumer drives. *domain.Domain satisfies
// it directly: Submit enqueues pkt and blocks until the domain's run
// loop has processed it, so a control message is only ack'd to the
// broker once it has actually landed.
type Submitter interface {
	Submit(pkt domain.Packet) error
}

// Consumer drains one domain's control queue with a small bounded pool
// of goroutines, generalized from the teacher's worker.Pool/Worker:
// the same "N goroutines pulling from one named queue, ack/nack per
// message, sleep-and-retry on a processing error" shape, with AMQP's
// own consumer channel standing in for worker.Queue.Dequeue's blocking
// poll.
type Consumer struct {
	ch        Channel
	queueName string
	submitter Submitter
	workers   int
	log       *logrus.Entry

	quit chan struct{}
}

// NewConsumer builds a Consumer for addr's control queue. workers
// bounds how many control messages this domain processes concurrently
// before backpressure kicks in -- deliberately small, since control
// messages reconfigure a running graph and Submit already serializes
// them through the domain's single run loop.
func NewConsumer(ch Channel, addr node.Address, submitter Submitter, workers int, log *logrus.Entry) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		ch:        ch,
		queueName: queueName(addr.Domain.Int(), int(addr.Shard)),
		submitter: submitter,
		workers:   workers,
		log:       log,
		quit:      make(chan struct{}),
	}
}

// Start declares the queue and launches the worker pool. It returns
// once consumption has begun; workers run until Stop is called.
func (c *Consumer) Start() error {
	if _, err := c.ch.QueueDeclare(c.queueName, true, false, false, false, nil); err != nil {
		return err
	}
	deliveries, err := c.ch.Consume(c.queueName, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	for i := 0; i < c.workers; i++ {
		go c.worker(i, deliveries)
	}
	return nil
}

// Stop signals every worker to exit once its current delivery (if any)
// finishes.
func (c *Consumer) Stop() { close(c.quit) }

func (c *Consumer) worker(id int, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-c.quit:
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.process(id, d)
		}
	}
}

func (c *Consumer) process(workerID int, d amqp.Delivery) {
	msg, err := Decode(d.Body)
	if err != nil {
		c.warnf("worker %d on %s: decode: %v", workerID, c.queueName, err)
		_ = d.Nack(false, false)
		return
	}

	pkt, err := ToPacket(msg)
	if err != nil {
		c.warnf("worker %d on %s: %v", workerID, c.queueName, err)
		_ = d.Nack(false, false)
		return
	}

	if err := c.submitter.Submit(pkt); err != nil {
		c.warnf("worker %d on %s: submit %s failed: %v", workerID, c.queueName, msg.Kind, err)
		// Requeue it and pause a second before this worker takes its
		// next delivery, so a message that keeps failing is
		// redelivered at most about once a second per worker.
		_ = d.Nack(false, true)
		time.Sleep(time.Second)
		return
	}
	_ = d.Ack(false)
}

func (c *Consumer) warnf(format string, args ...interface{}) {
	if c.log != nil {
		c.log.Warnf(format, args...)
	}
}
