package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StefanoGaspardone/quickshow/internal/clock"
	"github.com/StefanoGaspardone/quickshow/internal/model"
	"github.com/StefanoGaspardone/quickshow/internal/payment"
	"github.com/StefanoGaspardone/quickshow/internal/queue"
)

var t0 = time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

type harness struct {
	clock     *clock.Manual
	shows     *memShows
	bookings  *memBookings
	payments  *fakePayments
	scheduler *fakeScheduler
	notifier  *fakeNotifier
	ledger    *Ledger
	rec       *Reconciler
	checkout  *Checkout
}

func newHarness(shows ...model.Show) *harness {
	h := &harness{
		clock:     clock.NewManual(t0),
		shows:     newMemShows(shows...),
		bookings:  newMemBookings(),
		payments:  &fakePayments{},
		scheduler: &fakeScheduler{},
		notifier:  &fakeNotifier{},
	}
	seats := NewSeatEngine(h.shows, DefaultMaxSeats)
	h.ledger = NewLedger(h.bookings, h.clock, "usd")
	n := 0
	h.ledger.newID = func() string { n++; return "b" + string(rune('0'+n)) }
	h.rec = NewReconciler(noTx{}, h.ledger, seats)
	h.checkout = NewCheckout(CheckoutDeps{
		Tx:         noTx{},
		Shows:      h.shows,
		Seats:      seats,
		Ledger:     h.ledger,
		Reconciler: h.rec,
		Payments:   h.payments,
		Scheduler:  h.scheduler,
		Notifier:   h.notifier,
		Contacts:   fakeContacts{"u1": {"u1@example.com", "Ada"}},
		Clock:      h.clock,
	}, CheckoutConfig{FrontendOrigin: "https://app.example/", ReconcileAfter: 10 * time.Minute})
	return h
}

func dune() model.Show {
	return model.Show{ID: 7, Title: "Dune", StartsAt: t0.Add(48 * time.Hour), PriceCents: 1250}
}

func TestReserve_HappyPath(t *testing.T) {
	h := newHarness(dune())

	res, err := h.checkout.Reserve(context.Background(), ReserveInput{
		UserID: "u1", ShowID: 7, Seats: []string{"a1", "A2"}, Origin: "https://web.example",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/b1", res.URL)

	b, err := h.ledger.Get(context.Background(), res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingPending, b.Status)
	assert.Equal(t, uint64(2500), b.AmountCents)
	assert.Equal(t, []string{"A1", "A2"}, b.Seats)
	require.NotNil(t, b.CheckoutURL)
	assert.Equal(t, res.URL, *b.CheckoutURL)

	require.Len(t, h.scheduler.tasks, 1)
	assert.Equal(t, scheduled{At: t0.Add(10 * time.Minute), BookingID: "b1"}, h.scheduler.tasks[0])

	require.Len(t, h.payments.requests, 1)
	req := h.payments.requests[0]
	assert.Equal(t, int64(2500), req.AmountCents)
	assert.Equal(t, "usd", req.Currency)
	assert.Equal(t, "b1", req.BookingID)
	assert.Equal(t, "checkout-b1", req.IdempotencyKey)
	assert.Equal(t, "https://web.example/loading/my-bookings", req.SuccessURL)
	assert.Equal(t, "https://web.example/my-bookings", req.CancelURL)
	// deadline plus the provider's minimum session lifetime
	assert.Equal(t, t0.Add(41*time.Minute), req.ExpiresAt)
	assert.Equal(t, "https://web.example", b.ReturnOrigin)

	assert.Equal(t, model.Occupancy{"A1": "u1", "A2": "u1"}, h.shows.occupied(7))
}

func TestReserve_FallsBackToConfiguredOrigin(t *testing.T) {
	h := newHarness(dune())
	_, err := h.checkout.Reserve(context.Background(), ReserveInput{UserID: "u1", ShowID: 7, Seats: []string{"A1"}})
	require.NoError(t, err)
	assert.Equal(t, "https://app.example/my-bookings", h.payments.requests[0].CancelURL)
}

func TestReserve_ConflictLeavesNoBooking(t *testing.T) {
	h := newHarness(dune())
	ctx := context.Background()

	_, err := h.checkout.Reserve(ctx, ReserveInput{UserID: "u1", ShowID: 7, Seats: []string{"A1", "A2"}})
	require.NoError(t, err)
	_, err = h.checkout.Reserve(ctx, ReserveInput{UserID: "u2", ShowID: 7, Seats: []string{"A2", "A3"}})
	require.ErrorIs(t, err, ErrSeatsUnavailable)

	assert.Equal(t, 1, h.bookings.count())
	assert.Len(t, h.scheduler.tasks, 1)
	assert.Equal(t, 1, h.payments.calls())
}

func TestReserve_InvalidSelectionAndUnknownShow(t *testing.T) {
	h := newHarness(dune())
	ctx := context.Background()

	_, err := h.checkout.Reserve(ctx, ReserveInput{UserID: "u1", ShowID: 7, Seats: []string{"A1", "A2", "A3", "A4", "A5", "A6"}})
	assert.ErrorIs(t, err, ErrInvalidSelection)
	_, err = h.checkout.Reserve(ctx, ReserveInput{UserID: "u1", ShowID: 7})
	assert.ErrorIs(t, err, ErrInvalidSelection)
	_, err = h.checkout.Reserve(ctx, ReserveInput{UserID: "u1", ShowID: 99, Seats: []string{"A1"}})
	assert.ErrorIs(t, err, ErrShowNotFound)

	assert.Zero(t, h.bookings.count())
	assert.Empty(t, h.shows.occupied(7))
}

func TestReserve_CheckoutFailureKeepsBookingScheduled(t *testing.T) {
	h := newHarness(dune())
	h.payments.err = errors.New("502 from provider")

	res, err := h.checkout.Reserve(context.Background(), ReserveInput{UserID: "u1", ShowID: 7, Seats: []string{"A1"}})
	require.ErrorIs(t, err, ErrPaymentProvider)
	require.NotNil(t, res)

	b, err := h.ledger.Get(context.Background(), res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingPending, b.Status)
	assert.Nil(t, b.CheckoutURL)
	require.Len(t, h.scheduler.tasks, 1)

	// the deadline still frees the seats
	outcome, err := h.rec.Release(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReleased, outcome)
	assert.Empty(t, h.shows.occupied(7))
}

func TestReserve_ScheduleFailureReleasesImmediately(t *testing.T) {
	h := newHarness(dune())
	h.scheduler.err = errors.New("broker down")

	_, err := h.checkout.Reserve(context.Background(), ReserveInput{UserID: "u1", ShowID: 7, Seats: []string{"A1"}})
	require.ErrorIs(t, err, ErrStorage)

	assert.Zero(t, h.bookings.count())
	assert.Empty(t, h.shows.occupied(7))
	assert.Zero(t, h.payments.calls())
}

func TestInitiateCheckout_AtMostOneSession(t *testing.T) {
	h := newHarness(dune())
	ctx := context.Background()
	res, err := h.checkout.Reserve(ctx, ReserveInput{UserID: "u1", ShowID: 7, Seats: []string{"A1"}})
	require.NoError(t, err)

	url, err := h.checkout.InitiateCheckout(ctx, res.Booking, "Dune")
	require.NoError(t, err)
	assert.Equal(t, res.URL, url)
	assert.Equal(t, 1, h.payments.calls())
	assert.Len(t, h.scheduler.tasks, 1)
}

func TestResume(t *testing.T) {
	h := newHarness(dune())
	ctx := context.Background()
	h.payments.err = errors.New("timeout")
	res, err := h.checkout.Reserve(ctx, ReserveInput{UserID: "u1", ShowID: 7, Seats: []string{"A1"}})
	require.ErrorIs(t, err, ErrPaymentProvider)
	h.payments.err = nil

	_, err = h.checkout.Resume(ctx, "u2", res.Booking.ID)
	assert.ErrorIs(t, err, ErrBookingNotFound)

	url, err := h.checkout.Resume(ctx, "u1", res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/b1", url)
	// resuming does not push the deadline
	assert.Len(t, h.scheduler.tasks, 1)

	again, err := h.checkout.Resume(ctx, "u1", res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, url, again)
	assert.Equal(t, 2, h.payments.calls())

	_, err = h.ledger.MarkPaid(ctx, res.Booking.ID)
	require.NoError(t, err)
	_, err = h.checkout.Resume(ctx, "u1", res.Booking.ID)
	assert.ErrorIs(t, err, ErrBookingPaid)
}

func TestResume_RepeatsTheFirstRequest(t *testing.T) {
	h := newHarness(dune())
	ctx := context.Background()
	h.clock.Advance(700 * time.Millisecond)
	h.payments.err = errors.New("timeout after the session was created")
	res, err := h.checkout.Reserve(ctx, ReserveInput{
		UserID: "u1", ShowID: 7, Seats: []string{"A1", "B2"}, Origin: "https://web.example/",
	})
	require.ErrorIs(t, err, ErrPaymentProvider)
	h.payments.err = nil

	h.clock.Advance(2 * time.Minute)
	_, err = h.checkout.Resume(ctx, "u1", res.Booking.ID)
	require.NoError(t, err)

	require.Len(t, h.payments.requests, 2)
	first, second := h.payments.requests[0], h.payments.requests[1]
	assert.Equal(t, first, second)
	assert.Equal(t, "https://web.example/my-bookings", second.CancelURL)
	assert.Equal(t, t0.Add(41*time.Minute), second.ExpiresAt)
}

func TestResume_RefusesAfterDeadline(t *testing.T) {
	h := newHarness(dune())
	ctx := context.Background()
	h.payments.err = errors.New("timeout")
	res, err := h.checkout.Reserve(ctx, ReserveInput{UserID: "u1", ShowID: 7, Seats: []string{"A1"}})
	require.ErrorIs(t, err, ErrPaymentProvider)
	h.payments.err = nil

	h.clock.Advance(10 * time.Minute)
	_, err = h.checkout.Resume(ctx, "u1", res.Booking.ID)
	assert.ErrorIs(t, err, ErrBookingExpired)
	assert.Equal(t, 1, h.payments.calls())
}

func TestHandleWebhook_SettlesOnceAndNotifies(t *testing.T) {
	h := newHarness(dune())
	ctx := context.Background()
	res, err := h.checkout.Reserve(ctx, ReserveInput{UserID: "u1", ShowID: 7, Seats: []string{"A1", "A2"}})
	require.NoError(t, err)

	h.payments.event = &payment.Event{ID: "evt_1", Type: payment.EventCheckoutCompleted, BookingID: res.Booking.ID, Paid: true}
	out, err := h.checkout.HandleWebhook(ctx, []byte("{}"), "valid")
	require.NoError(t, err)
	assert.True(t, out.Settled)

	// duplicate delivery
	out, err = h.checkout.HandleWebhook(ctx, []byte("{}"), "valid")
	require.NoError(t, err)
	assert.False(t, out.Settled)

	require.Len(t, h.notifier.events, 1)
	ev := h.notifier.events[0]
	assert.Equal(t, queue.KindBookingPaid, ev.Kind)
	assert.Equal(t, "u1@example.com", ev.Email)
	assert.Equal(t, "Dune", ev.Title)
	assert.Equal(t, []string{"A1", "A2"}, ev.Seats)
	assert.Equal(t, uint64(2500), ev.AmountCents)

	b, err := h.ledger.Get(ctx, res.Booking.ID)
	require.NoError(t, err)
	assert.True(t, b.IsPaid())
}

func TestHandleWebhook_RejectsUnverified(t *testing.T) {
	h := newHarness(dune())
	h.payments.event = &payment.Event{Type: payment.EventCheckoutCompleted, BookingID: "b1", Paid: true}

	_, err := h.checkout.HandleWebhook(context.Background(), []byte("{}"), "forged")
	assert.ErrorIs(t, err, ErrInvalidCallback)
}

func TestHandleWebhook_MissingBookingID(t *testing.T) {
	h := newHarness(dune())
	h.payments.event = &payment.Event{ID: "evt_1", Type: payment.EventCheckoutCompleted, Paid: true}

	_, err := h.checkout.HandleWebhook(context.Background(), []byte("{}"), "valid")
	assert.ErrorIs(t, err, ErrInvalidCallback)
}

func TestHandleWebhook_IgnoresOtherEventsAndUnpaidSessions(t *testing.T) {
	h := newHarness(dune())
	ctx := context.Background()
	res, err := h.checkout.Reserve(ctx, ReserveInput{UserID: "u1", ShowID: 7, Seats: []string{"A1"}})
	require.NoError(t, err)

	h.payments.event = &payment.Event{ID: "evt_1", Type: "payment_intent.succeeded"}
	out, err := h.checkout.HandleWebhook(ctx, nil, "valid")
	require.NoError(t, err)
	assert.False(t, out.Settled)

	h.payments.event = &payment.Event{ID: "evt_2", Type: payment.EventCheckoutCompleted, BookingID: res.Booking.ID}
	out, err = h.checkout.HandleWebhook(ctx, nil, "valid")
	require.NoError(t, err)
	assert.False(t, out.Settled)

	b, err := h.ledger.Get(ctx, res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingPending, b.Status)
	assert.Empty(t, h.notifier.events)
}

func TestHandleWebhook_AfterReleaseIsAcknowledged(t *testing.T) {
	h := newHarness(dune())
	h.payments.event = &payment.Event{ID: "evt_1", Type: payment.EventCheckoutCompleted, BookingID: "gone", Paid: true}

	out, err := h.checkout.HandleWebhook(context.Background(), nil, "valid")
	require.NoError(t, err)
	assert.False(t, out.Settled)
}

func TestHandleWebhook_NotificationFailureDoesNotFailSettlement(t *testing.T) {
	h := newHarness(dune())
	ctx := context.Background()
	res, err := h.checkout.Reserve(ctx, ReserveInput{UserID: "u1", ShowID: 7, Seats: []string{"A1"}})
	require.NoError(t, err)
	h.notifier.err = errors.New("broker down")

	h.payments.event = &payment.Event{ID: "evt_1", Type: payment.EventCheckoutCompleted, BookingID: res.Booking.ID, Paid: true}
	out, err := h.checkout.HandleWebhook(ctx, nil, "valid")
	require.NoError(t, err)
	assert.True(t, out.Settled)
}
