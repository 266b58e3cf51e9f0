package model

import (
	"sort"
	"time"
)

// Occupancy maps a seat label to the identity of the user holding it.
// A label is present only while the seat is held or booked.
type Occupancy map[string]string

// Labels returns the occupied seat labels in lexical order.
func (o Occupancy) Labels() []string {
	out := make([]string, 0, len(o))
	for label := range o {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy so callers can build the next state
// without touching the one they read.
func (o Occupancy) Clone() Occupancy {
	out := make(Occupancy, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Show represents a scheduled screening of a title. The occupancy map is
// written only through a compare-and-swap on Version, which the
// repository bumps on every successful write.
//
// Fields:
//  ID         – primary key identifier.
//  Title      – movie title.
//  StartsAt   – when the show begins (UTC).
//  PriceCents – unit price of one seat in the smallest currency unit.
//  Occupied   – seat label → holder user id.
//  Version    – optimistic concurrency counter for Occupied.
//  CreatedAt  – creation timestamp.
//  UpdatedAt  – last update timestamp.
type Show struct {
	ID         uint64    // shows.id
	Title      string    // shows.title
	StartsAt   time.Time // shows.starts_at
	PriceCents uint32    // shows.price_cents
	Occupied   Occupancy // shows.occupied_seats (JSON)
	Version    uint64    // shows.version
	CreatedAt  time.Time // shows.created_at
	UpdatedAt  time.Time // shows.updated_at
}
