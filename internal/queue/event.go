// Package queue carries the durable background work of the booking flow
// over RabbitMQ: delayed reconciliation tasks and booking notifications.
package queue

import "time"

// Queue names. The delay queue has no consumer; its messages dead-letter
// into ReconcileQueue once their expiration passes. Rejected messages of
// the consumed queues are parked in their dead queues for inspection.
const (
	ReconcileDelayQueue   = "booking.reconcile.delay"
	ReconcileQueue        = "booking.reconcile"
	ReconcileDeadQueue    = "booking.reconcile.dead"
	NotificationQueue     = "booking.notifications"
	NotificationDeadQueue = "booking.notifications.dead"
)

// Notification kinds.
const (
	KindBookingPaid  = "booking.paid"
	KindShowReminder = "show.reminder"
)

// NotificationEvent carries enough for a downstream consumer to notify a
// user without querying the primary database.
type NotificationEvent struct {
	Kind        string    `json:"kind"`
	BookingID   string    `json:"booking_id,omitempty"`
	UserID      string    `json:"user_id"`
	Email       string    `json:"email,omitempty"`
	Name        string    `json:"name,omitempty"`
	ShowID      uint64    `json:"show_id"`
	Title       string    `json:"title"`
	StartsAt    time.Time `json:"starts_at"`
	Seats       []string  `json:"seats"`
	AmountCents uint64    `json:"amount_cents,omitempty"`
	Currency    string    `json:"currency,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// ReconcileTask asks for the deadline check of one booking.
type ReconcileTask struct {
	BookingID string `json:"booking_id"`
	Attempt   int    `json:"attempt,omitempty"`
}
