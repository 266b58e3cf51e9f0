package service

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/StefanoGaspardone/quickshow/internal/clock"
	"github.com/StefanoGaspardone/quickshow/internal/queue"
)

// Reminder periodically notifies seat holders of shows starting soon.
type Reminder struct {
	shows    ShowLister
	notifier Notifier
	contacts ContactLookup
	clock    clock.Clock
	interval time.Duration
	lead     time.Duration
	log      *logrus.Entry
}

func NewReminder(shows ShowLister, notifier Notifier, contacts ContactLookup, clk clock.Clock, interval, lead time.Duration) *Reminder {
	if interval <= 0 {
		interval = 8 * time.Hour
	}
	if lead <= 0 {
		lead = interval
	}
	return &Reminder{
		shows: shows, notifier: notifier, contacts: contacts, clock: clk,
		interval: interval, lead: lead,
		log: logrus.WithField("component", "reminder"),
	}
}

// Run sends reminders once per interval until ctx is cancelled.
func (r *Reminder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.log.WithField("interval", r.interval.String()).Info("reminder job started")
	for {
		select {
		case <-ticker.C:
			if n, err := r.RunOnce(ctx); err != nil {
				r.log.WithError(err).Error("reminder run failed")
			} else {
				r.log.WithField("sent", n).Info("reminder run finished")
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// RunOnce publishes one reminder per distinct holder of every show starting
// in (now+lead-interval, now+lead], so consecutive runs never overlap.
func (r *Reminder) RunOnce(ctx context.Context) (int, error) {
	now := r.clock.Now()
	shows, err := r.shows.ListStartingBetween(ctx, now.Add(r.lead-r.interval), now.Add(r.lead))
	if err != nil {
		return 0, storageErr("list shows", err)
	}
	sent := 0
	for _, show := range shows {
		byHolder := map[string][]string{}
		for _, label := range show.Occupied.Labels() {
			holder := show.Occupied[label]
			byHolder[holder] = append(byHolder[holder], label)
		}
		holders := make([]string, 0, len(byHolder))
		for h := range byHolder {
			holders = append(holders, h)
		}
		sort.Strings(holders)
		for _, holder := range holders {
			ev := queue.NotificationEvent{
				Kind:       queue.KindShowReminder,
				UserID:     holder,
				ShowID:     show.ID,
				Title:      show.Title,
				StartsAt:   show.StartsAt,
				Seats:      byHolder[holder],
				OccurredAt: now,
			}
			if r.contacts != nil {
				if email, name, err := r.contacts.Contact(ctx, holder); err == nil {
					ev.Email, ev.Name = email, name
				}
			}
			if err := r.notifier.Publish(ctx, ev); err != nil {
				r.log.WithError(err).WithFields(logrus.Fields{"show_id": show.ID, "user_id": holder}).Warn("publish reminder failed")
				continue
			}
			sent++
		}
	}
	return sent, nil
}
