package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/StefanoGaspardone/quickshow/internal/clock"
	"github.com/StefanoGaspardone/quickshow/internal/model"
	"github.com/StefanoGaspardone/quickshow/internal/payment"
	"github.com/StefanoGaspardone/quickshow/internal/queue"
)

// CheckoutConfig holds the tuning knobs of the payment flow.
type CheckoutConfig struct {
	FrontendOrigin  string        // used when the request carries no Origin
	ReconcileAfter  time.Duration // unpaid bookings are released after this
	SessionExpiry   time.Duration // session lifetime counted from the booking deadline
	ProviderTimeout time.Duration // bound on each payment provider call
}

// CheckoutDeps are the collaborators of Checkout. Contacts may be nil.
type CheckoutDeps struct {
	Tx         TxRunner
	Shows      ShowStore
	Seats      *SeatEngine
	Ledger     *Ledger
	Reconciler *Reconciler
	Payments   PaymentGateway
	Scheduler  TaskScheduler
	Notifier   Notifier
	Contacts   ContactLookup
	Clock      clock.Clock
}

// Checkout orchestrates reserve, pay and settle.
type Checkout struct {
	CheckoutDeps
	cfg CheckoutConfig
	log *logrus.Entry
}

func NewCheckout(deps CheckoutDeps, cfg CheckoutConfig) *Checkout {
	if cfg.ReconcileAfter <= 0 {
		cfg.ReconcileAfter = 10 * time.Minute
	}
	if cfg.SessionExpiry <= 0 {
		cfg.SessionExpiry = 30 * time.Minute
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 10 * time.Second
	}
	cfg.FrontendOrigin = strings.TrimRight(cfg.FrontendOrigin, "/")
	return &Checkout{CheckoutDeps: deps, cfg: cfg, log: logrus.WithField("component", "checkout")}
}

type ReserveInput struct {
	UserID string
	ShowID uint64
	Seats  []string
	Origin string
}

type ReserveResult struct {
	Booking *model.Booking
	URL     string
}

// Reserve claims the seats and records a PENDING booking in one
// transaction, then opens checkout. When checkout fails the booking stays
// PENDING and is released at its deadline; the result still carries it.
func (c *Checkout) Reserve(ctx context.Context, in ReserveInput) (*ReserveResult, error) {
	if _, err := NormalizeSeats(in.Seats, c.Seats.maxSeats); err != nil {
		return nil, err
	}
	var (
		booking *model.Booking
		show    *model.Show
	)
	err := c.Tx.WithTx(ctx, func(ctx context.Context) error {
		s, labels, err := c.Seats.Claim(ctx, in.UserID, in.ShowID, in.Seats)
		if err != nil {
			return err
		}
		b, err := c.Ledger.CreateBooking(ctx, in.UserID, s, labels, c.origin(in.Origin))
		if err != nil {
			return err
		}
		booking, show = b, s
		return nil
	})
	if err != nil {
		if !isDomainErr(err) {
			err = storageErr("reserve", err)
		}
		return nil, err
	}
	c.log.WithFields(logrus.Fields{
		"booking_id": booking.ID, "show_id": booking.ShowID, "user_id": booking.UserID, "seats": booking.Seats,
	}).Info("seats claimed")

	url, err := c.InitiateCheckout(ctx, booking, show.Title)
	if err != nil {
		return &ReserveResult{Booking: booking}, err
	}
	return &ReserveResult{Booking: booking, URL: url}, nil
}

// InitiateCheckout schedules the reconciliation deadline and then opens a
// checkout session. A booking already carrying a URL gets it back without a
// second provider call. If the deadline cannot be scheduled the booking is
// released at once; should that fail too, the pending sweep frees it later.
func (c *Checkout) InitiateCheckout(ctx context.Context, b *model.Booking, title string) (string, error) {
	if b.CheckoutURL != nil {
		return *b.CheckoutURL, nil
	}
	at := c.Clock.Now().Add(c.cfg.ReconcileAfter)
	if err := c.Scheduler.ScheduleReconcile(ctx, at, b.ID); err != nil {
		entry := c.log.WithError(err).WithField("booking_id", b.ID)
		entry.Error("schedule reconciliation failed, releasing booking")
		if _, relErr := c.Reconciler.Release(ctx, b.ID); relErr != nil {
			entry.WithField("release_error", relErr.Error()).Error("immediate release failed")
		}
		return "", storageErr("schedule reconciliation", err)
	}
	return c.openSession(ctx, b, title)
}

// Resume returns the checkout URL of a user's PENDING booking, opening the
// session if the first attempt failed. The request is the same one the first
// attempt sent, so the provider's idempotency key matches it. Past the
// reconciliation deadline no session is opened.
func (c *Checkout) Resume(ctx context.Context, userID, bookingID string) (string, error) {
	b, err := c.Ledger.Get(ctx, bookingID)
	if err != nil {
		return "", err
	}
	if b.UserID != userID {
		return "", fmt.Errorf("%w: %s", ErrBookingNotFound, bookingID)
	}
	if b.IsPaid() {
		return "", ErrBookingPaid
	}
	if b.CheckoutURL != nil {
		return *b.CheckoutURL, nil
	}
	if !c.Clock.Now().Before(c.deadline(b)) {
		return "", fmt.Errorf("%w: %s", ErrBookingExpired, bookingID)
	}
	show, err := c.Shows.GetByID(ctx, b.ShowID)
	if err != nil {
		return "", storageErr("load show", err)
	}
	return c.openSession(ctx, b, show.Title)
}

// deadline is when an unpaid booking becomes due for release.
func (c *Checkout) deadline(b *model.Booking) time.Time {
	return b.CreatedAt.Add(c.cfg.ReconcileAfter)
}

// sessionExpiry is fixed per booking: it outlives the deadline by at least
// the provider's minimum session lifetime, so every attempt up to the
// deadline sends the same value.
func (c *Checkout) sessionExpiry(b *model.Booking) time.Time {
	lifetime := c.cfg.SessionExpiry
	if lifetime < payment.MinSessionLifetime {
		lifetime = payment.MinSessionLifetime
	}
	return c.deadline(b).Add(lifetime)
}

func (c *Checkout) openSession(ctx context.Context, b *model.Booking, title string) (string, error) {
	base := b.ReturnOrigin
	if base == "" {
		base = c.cfg.FrontendOrigin
	}
	pctx, cancel := context.WithTimeout(ctx, c.cfg.ProviderTimeout)
	defer cancel()
	sess, err := c.Payments.CreateCheckoutSession(pctx, payment.CheckoutRequest{
		BookingID:      b.ID,
		ProductName:    fmt.Sprintf("%s (%s)", title, strings.Join(b.Seats, ", ")),
		AmountCents:    int64(b.AmountCents),
		Currency:       b.Currency,
		SuccessURL:     base + "/loading/my-bookings",
		CancelURL:      base + "/my-bookings",
		ExpiresAt:      c.sessionExpiry(b),
		IdempotencyKey: "checkout-" + b.ID,
	})
	if err != nil {
		c.log.WithError(err).WithField("booking_id", b.ID).Warn("checkout session failed")
		return "", fmt.Errorf("%w: %w", ErrPaymentProvider, err)
	}
	stored, err := c.Ledger.SetCheckout(ctx, b.ID, sess.ID, sess.URL)
	if err != nil {
		return "", err
	}
	if !stored {
		// a concurrent call recorded its session first
		cur, err := c.Ledger.Get(ctx, b.ID)
		if err != nil {
			return "", err
		}
		if cur.CheckoutURL != nil {
			return *cur.CheckoutURL, nil
		}
	}
	b.CheckoutSessionID = &sess.ID
	b.CheckoutURL = &sess.URL
	return sess.URL, nil
}

func (c *Checkout) origin(requested string) string {
	if o := strings.TrimRight(strings.TrimSpace(requested), "/"); o != "" {
		return o
	}
	return c.cfg.FrontendOrigin
}

// WebhookResult summarises how a payment event was handled.
type WebhookResult struct {
	EventType string
	BookingID string
	Settled   bool
}

// HandleWebhook verifies a payment event and settles the booking it names.
// Duplicate deliveries are harmless; events of other types are ignored.
func (c *Checkout) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	ev, err := c.Payments.ParseEvent(payload, signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCallback, err)
	}
	res := &WebhookResult{EventType: ev.Type}
	switch ev.Type {
	case payment.EventCheckoutCompleted, payment.EventCheckoutAsyncPaymentSuccess:
	default:
		return res, nil
	}
	if ev.BookingID == "" {
		return nil, fmt.Errorf("%w: event %s carries no booking id", ErrInvalidCallback, ev.ID)
	}
	res.BookingID = ev.BookingID
	entry := c.log.WithFields(logrus.Fields{"booking_id": ev.BookingID, "event_id": ev.ID, "event_type": ev.Type})
	if !ev.Paid {
		entry.Info("checkout completed without payment yet")
		return res, nil
	}
	changed, err := c.Ledger.MarkPaid(ctx, ev.BookingID)
	if errors.Is(err, ErrBookingNotFound) {
		// released before the payment arrived; refunds are handled out of band
		entry.Warn("payment for released booking")
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	res.Settled = changed
	if changed {
		entry.Info("booking paid")
		c.notifyPaid(ctx, ev.BookingID)
	}
	return res, nil
}

func (c *Checkout) notifyPaid(ctx context.Context, bookingID string) {
	entry := c.log.WithField("booking_id", bookingID)
	b, err := c.Ledger.Get(ctx, bookingID)
	if err != nil {
		entry.WithError(err).Warn("notification skipped")
		return
	}
	ev := queue.NotificationEvent{
		Kind:        queue.KindBookingPaid,
		BookingID:   b.ID,
		UserID:      b.UserID,
		ShowID:      b.ShowID,
		Seats:       b.Seats,
		AmountCents: b.AmountCents,
		Currency:    b.Currency,
		OccurredAt:  c.Clock.Now(),
	}
	if show, err := c.Shows.GetByID(ctx, b.ShowID); err == nil {
		ev.Title, ev.StartsAt = show.Title, show.StartsAt
	}
	if c.Contacts != nil {
		if email, name, err := c.Contacts.Contact(ctx, b.UserID); err == nil {
			ev.Email, ev.Name = email, name
		}
	}
	if err := c.Notifier.Publish(ctx, ev); err != nil {
		entry.WithError(err).Warn("publish notification failed")
	}
}
