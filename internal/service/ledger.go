package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/StefanoGaspardone/quickshow/internal/clock"
	"github.com/StefanoGaspardone/quickshow/internal/model"
	"github.com/StefanoGaspardone/quickshow/internal/repository"
)

// Ledger records bookings and their payment state.
type Ledger struct {
	bookings BookingStore
	clock    clock.Clock
	currency string
	newID    func() string
}

func NewLedger(bookings BookingStore, clk clock.Clock, currency string) *Ledger {
	return &Ledger{bookings: bookings, clock: clk, currency: currency, newID: uuid.NewString}
}

// CreateBooking persists a PENDING booking priced at the show's unit price
// times the number of seats. origin is where the checkout pages return to.
// CreatedAt is kept at whole seconds, the precision of the column.
func (l *Ledger) CreateBooking(ctx context.Context, userID string, show *model.Show, seats []string, origin string) (*model.Booking, error) {
	if len(seats) == 0 {
		return nil, fmt.Errorf("%w: no seats selected", ErrInvalidSelection)
	}
	now := l.clock.Now().Truncate(time.Second)
	b := &model.Booking{
		ID:           l.newID(),
		UserID:       userID,
		ShowID:       show.ID,
		Seats:        append([]string(nil), seats...),
		AmountCents:  uint64(show.PriceCents) * uint64(len(seats)),
		Currency:     l.currency,
		Status:       model.BookingPending,
		ReturnOrigin: origin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := l.bookings.Create(ctx, b); err != nil {
		return nil, storageErr("create booking", err)
	}
	return b, nil
}

func (l *Ledger) Get(ctx context.Context, id string) (*model.Booking, error) {
	b, err := l.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, l.mapErr("load booking", id, err)
	}
	return b, nil
}

// MarkPaid moves the booking to PAID and reports whether it changed; a
// second call is a no-op.
func (l *Ledger) MarkPaid(ctx context.Context, id string) (bool, error) {
	changed, err := l.bookings.MarkPaid(ctx, id, l.clock.Now())
	if err != nil {
		return false, l.mapErr("mark paid", id, err)
	}
	return changed, nil
}

// DeleteIfPending removes the booking only while it is PENDING.
func (l *Ledger) DeleteIfPending(ctx context.Context, id string) (bool, error) {
	deleted, err := l.bookings.DeleteIfPending(ctx, id)
	if err != nil {
		return false, storageErr("delete booking", err)
	}
	return deleted, nil
}

// SetCheckout stores the checkout session unless one is already recorded.
func (l *Ledger) SetCheckout(ctx context.Context, id, sessionID, url string) (bool, error) {
	ok, err := l.bookings.SetCheckout(ctx, id, sessionID, url)
	if err != nil {
		return false, storageErr("store checkout session", err)
	}
	return ok, nil
}

// StalePending lists PENDING bookings created before the cutoff.
func (l *Ledger) StalePending(ctx context.Context, before time.Time, limit int) ([]string, error) {
	ids, err := l.bookings.ListPendingCreatedBefore(ctx, before, limit)
	if err != nil {
		return nil, storageErr("list stale bookings", err)
	}
	return ids, nil
}

func (l *Ledger) ListForUser(ctx context.Context, userID string) ([]repository.BookingDetail, error) {
	out, err := l.bookings.ListByUser(ctx, userID)
	if err != nil {
		return nil, storageErr("list bookings", err)
	}
	return out, nil
}

func (l *Ledger) ListAll(ctx context.Context) ([]repository.BookingDetail, error) {
	out, err := l.bookings.ListAll(ctx)
	if err != nil {
		return nil, storageErr("list bookings", err)
	}
	return out, nil
}

func (l *Ledger) mapErr(op, id string, err error) error {
	if errors.Is(err, repository.ErrBookingNotFound) {
		return fmt.Errorf("%w: %s", ErrBookingNotFound, id)
	}
	return storageErr(op, err)
}
