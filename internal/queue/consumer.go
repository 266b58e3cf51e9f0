package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// consume keeps a consumer attached to queueName, reconnecting with
// exponential back-off, until ctx is cancelled.
func consume(ctx context.Context, url, queueName string, prefetch int, log *logrus.Entry, handle func(context.Context, amqp.Delivery)) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			log.WithError(err).WithField("retry_in", backoff.String()).Warn("dial broker failed")
			if !sleep(ctx, backoff) {
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, queueName, prefetch, handle)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		log.WithError(err).Warn("consume loop ended, reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return nil
		}
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, queueName string, prefetch int, handle func(context.Context, amqp.Delivery)) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	if err := declareTopology(ch); err != nil {
		return err
	}
	msgs, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			handle(ctx, d)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ReconcileHandler releases one booking if it is still unpaid.
type ReconcileHandler func(ctx context.Context, bookingID string) error

// ReconcileConsumer drives reconciliation tasks whose delay has passed. A
// failed task is parked on the delay queue again for RetryDelay; if even
// that fails the delivery is requeued.
type ReconcileConsumer struct {
	url        string
	handle     ReconcileHandler
	scheduler  *Scheduler
	retryDelay time.Duration
	log        *logrus.Entry
}

func NewReconcileConsumer(url string, handle ReconcileHandler, scheduler *Scheduler, retryDelay time.Duration) *ReconcileConsumer {
	if retryDelay <= 0 {
		retryDelay = 30 * time.Second
	}
	return &ReconcileConsumer{
		url: url, handle: handle, scheduler: scheduler, retryDelay: retryDelay,
		log: logrus.WithField("component", "reconcile-consumer"),
	}
}

// Run consumes until ctx is cancelled.
func (c *ReconcileConsumer) Run(ctx context.Context) error {
	c.log.Info("reconcile consumer started")
	return consume(ctx, c.url, ReconcileQueue, 10, c.log, func(ctx context.Context, d amqp.Delivery) {
		c.process(ctx, d.Body, d)
	})
}

func (c *ReconcileConsumer) process(ctx context.Context, body []byte, d acknowledger) {
	var task ReconcileTask
	if err := json.Unmarshal(body, &task); err != nil || task.BookingID == "" {
		c.log.WithField("body", string(body)).Error("malformed reconcile task dead-lettered")
		_ = d.Nack(false, false)
		return
	}
	entry := c.log.WithFields(logrus.Fields{"booking_id": task.BookingID, "attempt": task.Attempt})
	if err := c.handle(ctx, task.BookingID); err != nil {
		retry := ReconcileTask{BookingID: task.BookingID, Attempt: task.Attempt + 1}
		at := c.scheduler.clock.Now().Add(c.retryDelay)
		if serr := c.scheduler.schedule(ctx, at, retry); serr != nil {
			entry.WithError(serr).Error("reschedule failed, requeueing")
			_ = d.Nack(false, true)
			return
		}
		entry.WithError(err).WithField("retry_at", at).Warn("reconcile failed, rescheduled")
	}
	_ = d.Ack(false)
}

// NotificationConsumer appends each notification as one line to
// notifications.log under dir. Email transport is not wired.
type NotificationConsumer struct {
	url string
	dir string
	mu  sync.Mutex
	log *logrus.Entry
}

func NewNotificationConsumer(url, dir string) *NotificationConsumer {
	if dir == "" {
		dir = "logs"
	}
	return &NotificationConsumer{url: url, dir: dir, log: logrus.WithField("component", "notification-consumer")}
}

// Run consumes until ctx is cancelled.
func (c *NotificationConsumer) Run(ctx context.Context) error {
	c.log.Info("notification consumer started")
	return consume(ctx, c.url, NotificationQueue, 50, c.log, func(_ context.Context, d amqp.Delivery) {
		c.process(d.Body, d)
	})
}

func (c *NotificationConsumer) process(body []byte, d acknowledger) {
	if err := c.write(body); err != nil {
		c.log.WithError(err).Error("handle notification failed")
		_ = d.Nack(false, false) // parked in the dead queue instead of looping
		return
	}
	_ = d.Ack(false)
}

func (c *NotificationConsumer) write(body []byte) error {
	var ev NotificationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", c.dir, err)
	}
	f, err := os.OpenFile(filepath.Join(c.dir, "notifications.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(formatNotification(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

func formatNotification(ev NotificationEvent) string {
	var headline string
	switch ev.Kind {
	case KindBookingPaid:
		headline = "Booking confirmed"
	case KindShowReminder:
		headline = "Show reminder"
	default:
		headline = ev.Kind
	}
	to := ev.Email
	if to == "" {
		to = "user:" + ev.UserID
	}
	line := fmt.Sprintf("[%s] %s | to=%s | show_id=%d | movie=%q | starts_at=%s | seats=[%s]",
		ev.OccurredAt.UTC().Format(time.RFC3339), headline, to, ev.ShowID, ev.Title,
		ev.StartsAt.UTC().Format(time.RFC3339), strings.Join(ev.Seats, ","))
	if ev.BookingID != "" {
		line += " | booking_id=" + ev.BookingID
	}
	if ev.AmountCents > 0 {
		line += fmt.Sprintf(" | total=%d %s", ev.AmountCents, strings.ToUpper(ev.Currency))
	}
	return line + "\n"
}
