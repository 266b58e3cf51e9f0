// Package payment talks to the hosted checkout provider. The booking core
// depends only on the request/event types declared here; StripeGateway is
// the production implementation.
package payment

import (
	"errors"
	"time"
)

// Event types the settlement flow understands. Anything else is
// acknowledged and ignored.
const (
	EventCheckoutCompleted           = "checkout.session.completed"
	EventCheckoutAsyncPaymentSuccess = "checkout.session.async_payment_succeeded"
)

// MetadataBookingID is the session metadata key carrying the booking id.
const MetadataBookingID = "bookingId"

// ErrInvalidSignature is returned when a webhook payload cannot be
// authenticated.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// CheckoutRequest describes one hosted checkout session for one booking.
type CheckoutRequest struct {
	BookingID      string
	ProductName    string
	AmountCents    int64
	Currency       string
	SuccessURL     string
	CancelURL      string
	ExpiresAt      time.Time
	IdempotencyKey string
}

// CheckoutSession is what the provider returns for a created session.
type CheckoutSession struct {
	ID  string
	URL string
}

// Event is a verified webhook event reduced to what settlement needs.
type Event struct {
	ID        string
	Type      string
	SessionID string
	BookingID string
	Paid      bool
}
