package model

import "time"

// BookingStatus is the payment state of a booking. A released booking is
// deleted, so there is no RELEASED value on disk.
type BookingStatus string

const (
	BookingPending BookingStatus = "PENDING"
	BookingPaid    BookingStatus = "PAID"
)

// Booking ties one user, one show and the seats claimed for them to a
// payment outcome. It references the show and user by identifier only.
//
// Fields:
//  ID                – UUID assigned at creation, also sent to the payment provider.
//  UserID            – identity of the requesting user.
//  ShowID            – show the seats belong to.
//  Seats             – claimed seat labels (1..5, unique).
//  AmountCents       – unit price × seat count.
//  Currency          – ISO currency code in lower case.
//  Status            – PENDING or PAID.
//  CheckoutSessionID – payment provider session id once checkout is opened.
//  CheckoutURL       – hosted checkout page the client is redirected to.
//  ReturnOrigin      – frontend origin the checkout pages return to.
//  PaidAt            – when payment was confirmed.
//  CreatedAt         – creation timestamp.
//  UpdatedAt         – last update timestamp.
type Booking struct {
	ID                string        // bookings.id
	UserID            string        // bookings.user_id
	ShowID            uint64        // bookings.show_id
	Seats             []string      // bookings.seats (JSON)
	AmountCents       uint64        // bookings.amount_cents
	Currency          string        // bookings.currency
	Status            BookingStatus // bookings.status
	CheckoutSessionID *string       // bookings.checkout_session_id (nullable)
	CheckoutURL       *string       // bookings.checkout_url (nullable)
	ReturnOrigin      string        // bookings.return_origin
	PaidAt            *time.Time    // bookings.paid_at (nullable)
	CreatedAt         time.Time     // bookings.created_at
	UpdatedAt         time.Time     // bookings.updated_at
}

// IsPaid reports whether payment has been confirmed.
func (b *Booking) IsPaid() bool { return b.Status == BookingPaid }
