// Package service holds the booking core: seat claims against a show's
// occupancy map, the booking ledger, checkout orchestration, reconciliation
// of unpaid holds and the show reminder job. Collaborators are injected as
// small interfaces so the core runs against in-memory fakes in tests.
package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidSelection = errors.New("invalid seat selection")
	ErrSeatsUnavailable = errors.New("seats unavailable")
	ErrShowNotFound     = errors.New("show not found")
	ErrBookingNotFound  = errors.New("booking not found")
	ErrBookingPaid      = errors.New("booking already paid")
	ErrBookingExpired   = errors.New("booking payment window closed")
	ErrStorage          = errors.New("storage error")
	ErrInvalidCallback  = errors.New("invalid payment callback")
	ErrPaymentProvider  = errors.New("payment provider error")
)

// SeatsUnavailableError lists the requested labels that were already taken.
type SeatsUnavailableError struct {
	Seats []string
}

func (e *SeatsUnavailableError) Error() string {
	return fmt.Sprintf("seats unavailable: %s", strings.Join(e.Seats, ", "))
}

func (e *SeatsUnavailableError) Unwrap() error { return ErrSeatsUnavailable }

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// isDomainErr reports whether err already carries one of the sentinels above,
// so it can be returned as is instead of being wrapped as a storage failure.
func isDomainErr(err error) bool {
	for _, target := range []error{
		ErrInvalidSelection, ErrSeatsUnavailable, ErrShowNotFound, ErrBookingNotFound,
		ErrBookingPaid, ErrBookingExpired, ErrStorage, ErrInvalidCallback, ErrPaymentProvider,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
