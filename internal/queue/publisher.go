package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/StefanoGaspardone/quickshow/internal/clock"
)

type publishFunc func(ctx context.Context, queue string, msg amqp.Publishing) error

// Publisher sends notification events to the notifications queue.
type Publisher struct {
	publish publishFunc
	clock   clock.Clock
}

func NewPublisher(b *Broker, clk clock.Clock) *Publisher {
	return &Publisher{publish: b.Publish, clock: clk}
}

// Publish marshals ev and publishes it as a persistent message.
func (p *Publisher) Publish(ctx context.Context, ev NotificationEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return p.publish(ctx, NotificationQueue, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.clock.Now(),
		Type:         ev.Kind,
		Body:         body,
	})
}

// Scheduler turns "run at t" into a persistent message parked on the delay
// queue until t. All delays share one length, so per-message expiry keeps
// FIFO order on the delay queue.
type Scheduler struct {
	publish publishFunc
	clock   clock.Clock
}

func NewScheduler(b *Broker, clk clock.Clock) *Scheduler {
	return &Scheduler{publish: b.Publish, clock: clk}
}

// ScheduleReconcile fires the reconciliation of bookingID at or after at.
func (s *Scheduler) ScheduleReconcile(ctx context.Context, at time.Time, bookingID string) error {
	return s.schedule(ctx, at, ReconcileTask{BookingID: bookingID})
}

func (s *Scheduler) schedule(ctx context.Context, at time.Time, task ReconcileTask) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal reconcile task: %w", err)
	}
	now := s.clock.Now()
	return s.publish(ctx, ReconcileDelayQueue, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    now,
		Expiration:   expiration(at.Sub(now)),
		Body:         body,
	})
}

// expiration renders a delay as the millisecond string RabbitMQ expects.
// Past deadlines expire at once.
func expiration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return strconv.FormatInt(d.Milliseconds(), 10)
}
