package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/StefanoGaspardone/quickshow/internal/model"
	"github.com/StefanoGaspardone/quickshow/internal/repository"
)

// DefaultMaxSeats is the largest number of seats one booking may claim.
const DefaultMaxSeats = 5

// maxCASAttempts bounds how often a claim or release re-reads the show
// after losing a version race.
const maxCASAttempts = 5

// SeatEngine claims and frees seat labels on a show's occupancy map. Every
// write is a single compare-and-swap of the whole map, so a request either
// takes all of its seats or none.
type SeatEngine struct {
	shows    ShowStore
	maxSeats int
}

func NewSeatEngine(shows ShowStore, maxSeats int) *SeatEngine {
	if maxSeats <= 0 {
		maxSeats = DefaultMaxSeats
	}
	return &SeatEngine{shows: shows, maxSeats: maxSeats}
}

// NormalizeSeats trims and upper-cases labels and collapses duplicates,
// keeping first-seen order.
func NormalizeSeats(seats []string, max int) ([]string, error) {
	if len(seats) == 0 {
		return nil, fmt.Errorf("%w: no seats selected", ErrInvalidSelection)
	}
	out := make([]string, 0, len(seats))
	seen := make(map[string]struct{}, len(seats))
	for _, raw := range seats {
		label := strings.ToUpper(strings.TrimSpace(raw))
		if label == "" {
			return nil, fmt.Errorf("%w: empty seat label", ErrInvalidSelection)
		}
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	if len(out) > max {
		return nil, fmt.Errorf("%w: at most %d seats per booking", ErrInvalidSelection, max)
	}
	return out, nil
}

// Claim inserts every requested label into the show's occupancy map with
// userID as holder. It returns the updated show and the normalized labels.
func (e *SeatEngine) Claim(ctx context.Context, userID string, showID uint64, seats []string) (*model.Show, []string, error) {
	labels, err := NormalizeSeats(seats, e.maxSeats)
	if err != nil {
		return nil, nil, err
	}
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		show, err := e.load(ctx, showID)
		if err != nil {
			return nil, nil, err
		}
		var taken []string
		for _, label := range labels {
			if _, held := show.Occupied[label]; held {
				taken = append(taken, label)
			}
		}
		if len(taken) > 0 {
			return nil, nil, &SeatsUnavailableError{Seats: taken}
		}
		next := show.Occupied.Clone()
		for _, label := range labels {
			next[label] = userID
		}
		show.Occupied = next
		err = e.shows.SaveOccupancy(ctx, show)
		if err == nil {
			return show, labels, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, nil, storageErr("save occupancy", err)
		}
	}
	return nil, nil, storageErr("claim seats", fmt.Errorf("show %d: %w after %d attempts", showID, repository.ErrVersionConflict, maxCASAttempts))
}

// Release removes the labels still held by holder and reports how many were
// freed. Labels held by someone else are left alone.
func (e *SeatEngine) Release(ctx context.Context, showID uint64, holder string, seats []string) (int, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		show, err := e.load(ctx, showID)
		if err != nil {
			return 0, err
		}
		next := show.Occupied.Clone()
		freed := 0
		for _, label := range seats {
			if next[label] == holder {
				delete(next, label)
				freed++
			}
		}
		if freed == 0 {
			return 0, nil
		}
		show.Occupied = next
		err = e.shows.SaveOccupancy(ctx, show)
		if err == nil {
			return freed, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return 0, storageErr("save occupancy", err)
		}
	}
	return 0, storageErr("release seats", fmt.Errorf("show %d: %w after %d attempts", showID, repository.ErrVersionConflict, maxCASAttempts))
}

// OccupiedSeats returns the held or booked labels of a show, sorted.
func (e *SeatEngine) OccupiedSeats(ctx context.Context, showID uint64) ([]string, error) {
	show, err := e.load(ctx, showID)
	if err != nil {
		return nil, err
	}
	return show.Occupied.Labels(), nil
}

func (e *SeatEngine) load(ctx context.Context, showID uint64) (*model.Show, error) {
	show, err := e.shows.GetByID(ctx, showID)
	if err != nil {
		if errors.Is(err, repository.ErrShowNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrShowNotFound, showID)
		}
		return nil, storageErr("load show", err)
	}
	if show.Occupied == nil {
		show.Occupied = model.Occupancy{}
	}
	return show, nil
}
