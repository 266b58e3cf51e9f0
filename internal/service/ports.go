package service

import (
	"context"
	"time"

	"github.com/StefanoGaspardone/quickshow/internal/model"
	"github.com/StefanoGaspardone/quickshow/internal/payment"
	"github.com/StefanoGaspardone/quickshow/internal/queue"
	"github.com/StefanoGaspardone/quickshow/internal/repository"
)

// TxRunner runs fn in one transaction carried by the derived context.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type ShowStore interface {
	GetByID(ctx context.Context, id uint64) (*model.Show, error)
	SaveOccupancy(ctx context.Context, s *model.Show) error
}

type ShowLister interface {
	ListStartingBetween(ctx context.Context, from, to time.Time) ([]model.Show, error)
}

type BookingStore interface {
	Create(ctx context.Context, b *model.Booking) error
	GetByID(ctx context.Context, id string) (*model.Booking, error)
	SetCheckout(ctx context.Context, id, sessionID, url string) (bool, error)
	MarkPaid(ctx context.Context, id string, at time.Time) (bool, error)
	DeleteIfPending(ctx context.Context, id string) (bool, error)
	ListPendingCreatedBefore(ctx context.Context, before time.Time, limit int) ([]string, error)
	ListByUser(ctx context.Context, userID string) ([]repository.BookingDetail, error)
	ListAll(ctx context.Context) ([]repository.BookingDetail, error)
}

type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error)
	ParseEvent(payload []byte, signature string) (*payment.Event, error)
}

// TaskScheduler fires the reconciliation of a booking at or after at,
// at least once, even across process restarts.
type TaskScheduler interface {
	ScheduleReconcile(ctx context.Context, at time.Time, bookingID string) error
}

type Notifier interface {
	Publish(ctx context.Context, ev queue.NotificationEvent) error
}

// ContactLookup resolves a user identity to an address for notifications.
type ContactLookup interface {
	Contact(ctx context.Context, userID string) (email, name string, err error)
}
