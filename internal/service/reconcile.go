package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// ReleaseOutcome tells what a reconciliation run found.
type ReleaseOutcome string

const (
	OutcomeReleased ReleaseOutcome = "released"
	OutcomePaid     ReleaseOutcome = "paid"
	OutcomeMissing  ReleaseOutcome = "missing"
)

// Reconciler releases bookings that were not paid before their deadline.
type Reconciler struct {
	tx     TxRunner
	ledger *Ledger
	seats  *SeatEngine
	log    *logrus.Entry
}

func NewReconciler(tx TxRunner, ledger *Ledger, seats *SeatEngine) *Reconciler {
	return &Reconciler{tx: tx, ledger: ledger, seats: seats, log: logrus.WithField("component", "reconciler")}
}

// Release frees the seats of a still PENDING booking and deletes it, all in
// one transaction with the booking row locked. A PAID or already released
// booking is left untouched.
func (r *Reconciler) Release(ctx context.Context, bookingID string) (ReleaseOutcome, error) {
	outcome := OutcomeMissing
	err := r.tx.WithTx(ctx, func(ctx context.Context) error {
		b, err := r.ledger.Get(ctx, bookingID)
		if errors.Is(err, ErrBookingNotFound) {
			outcome = OutcomeMissing
			return nil
		}
		if err != nil {
			return err
		}
		if b.IsPaid() {
			outcome = OutcomePaid
			return nil
		}
		if _, err := r.seats.Release(ctx, b.ShowID, b.UserID, b.Seats); err != nil && !errors.Is(err, ErrShowNotFound) {
			return err
		}
		deleted, err := r.ledger.DeleteIfPending(ctx, b.ID)
		if err != nil {
			return err
		}
		if deleted {
			outcome = OutcomeReleased
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrStorage) {
			err = storageErr("release booking", err)
		}
		return "", err
	}
	return outcome, nil
}

// Reconcile is the task entry point for the scheduler. Errors are returned
// so the substrate re-drives the task.
func (r *Reconciler) Reconcile(ctx context.Context, bookingID string) error {
	outcome, err := r.Release(ctx, bookingID)
	if err != nil {
		r.log.WithError(err).WithField("booking_id", bookingID).Error("release failed")
		return err
	}
	r.log.WithFields(logrus.Fields{"booking_id": bookingID, "outcome": outcome}).Info("reconciled booking")
	return nil
}
