package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/StefanoGaspardone/quickshow/internal/clock"
)

// sweepBatch bounds the bookings released by one sweep run.
const sweepBatch = 100

// Sweeper releases PENDING bookings whose deadline passed without a
// reconciliation task doing it: the process died between commit and
// publish, or both the publish and the immediate release failed.
type Sweeper struct {
	ledger   *Ledger
	rec      *Reconciler
	clock    clock.Clock
	interval time.Duration
	after    time.Duration
	log      *logrus.Entry
}

// NewSweeper releases bookings still PENDING after the given age, checking
// once per interval.
func NewSweeper(ledger *Ledger, rec *Reconciler, clk clock.Clock, interval, after time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		ledger: ledger, rec: rec, clock: clk,
		interval: interval, after: after,
		log: logrus.WithField("component", "sweeper"),
	}
}

// Run sweeps once per interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.log.WithFields(logrus.Fields{"interval": s.interval.String(), "after": s.after.String()}).Info("pending sweep started")
	for {
		select {
		case <-ticker.C:
			n, err := s.RunOnce(ctx)
			if err != nil {
				s.log.WithError(err).Error("pending sweep failed")
			} else if n > 0 {
				s.log.WithField("released", n).Warn("released bookings missed by the scheduler")
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// RunOnce releases every overdue PENDING booking it finds, up to one batch.
// A booking that fails to release is left for the next run.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	ids, err := s.ledger.StalePending(ctx, s.clock.Now().Add(-s.after), sweepBatch)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, id := range ids {
		outcome, err := s.rec.Release(ctx, id)
		if err != nil {
			s.log.WithError(err).WithField("booking_id", id).Error("sweep release failed")
			continue
		}
		if outcome == OutcomeReleased {
			released++
		}
	}
	return released, nil
}
