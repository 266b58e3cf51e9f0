package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

type declarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
}

// deadLetterTo routes rejected or expired messages to queue through the
// default exchange.
func deadLetterTo(queue string) amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue,
	}
}

// declareTopology creates the durable queues, dead queues first so nothing
// is dead-lettered into a missing queue. The delay queue dead-letters
// expired messages into the reconcile queue.
func declareTopology(ch declarer) error {
	for _, q := range []struct {
		name string
		args amqp.Table
	}{
		{NotificationDeadQueue, nil},
		{ReconcileDeadQueue, nil},
		{NotificationQueue, deadLetterTo(NotificationDeadQueue)},
		{ReconcileQueue, deadLetterTo(ReconcileDeadQueue)},
		{ReconcileDelayQueue, deadLetterTo(ReconcileQueue)},
	} {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("declare %s: %w", q.name, err)
		}
	}
	return nil
}

// Broker owns one connection and a confirm-mode channel used for every
// publish. A closed channel is reopened on the next publish.
type Broker struct {
	url  string
	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial connects to url and declares the topology.
func Dial(url string) (*Broker, error) {
	b := &Broker{url: url}
	if err := b.connect(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Broker) connect() error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	if err := declareTopology(ch); err != nil {
		_ = conn.Close()
		return err
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("rabbitmq confirm mode: %w", err)
	}
	b.conn, b.ch = conn, ch
	return nil
}

// Publish sends msg to queue through the default exchange and waits for the
// broker to confirm it.
func (b *Broker) Publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch == nil || b.ch.IsClosed() {
		if b.conn != nil {
			_ = b.conn.Close()
		}
		if err := b.connect(); err != nil {
			return err
		}
	}
	confirm, err := b.ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, msg)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("confirm publish to %s: %w", queue, err)
	}
	if !acked {
		return fmt.Errorf("publish to %s: %w", queue, errNacked)
	}
	return nil
}

// Healthy reports whether the publishing connection is open.
func (b *Broker) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil && !b.conn.IsClosed()
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn, b.ch = nil, nil
	return err
}

var errNacked = errors.New("broker rejected message")
