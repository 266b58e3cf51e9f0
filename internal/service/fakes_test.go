package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/StefanoGaspardone/quickshow/internal/model"
	"github.com/StefanoGaspardone/quickshow/internal/payment"
	"github.com/StefanoGaspardone/quickshow/internal/queue"
	"github.com/StefanoGaspardone/quickshow/internal/repository"
)

type noTx struct{}

func (noTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

// memShows keeps shows in memory and enforces the version check the SQL
// repository performs.
type memShows struct {
	mu      sync.Mutex
	shows   map[uint64]*model.Show
	saveErr error
	// failFrom lets the first saves through before saveErr applies
	failFrom int
	saves    int
}

func newMemShows(shows ...model.Show) *memShows {
	m := &memShows{shows: map[uint64]*model.Show{}}
	for i := range shows {
		s := shows[i]
		if s.Occupied == nil {
			s.Occupied = model.Occupancy{}
		}
		m.shows[s.ID] = &s
	}
	return m
}

func (m *memShows) GetByID(_ context.Context, id uint64) (*model.Show, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shows[id]
	if !ok {
		return nil, repository.ErrShowNotFound
	}
	cp := *s
	cp.Occupied = s.Occupied.Clone()
	return &cp, nil
}

func (m *memShows) SaveOccupancy(_ context.Context, s *model.Show) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil && m.saves >= m.failFrom {
		return m.saveErr
	}
	cur, ok := m.shows[s.ID]
	if !ok || cur.Version != s.Version {
		return repository.ErrVersionConflict
	}
	cur.Occupied = s.Occupied.Clone()
	cur.Version++
	s.Version++
	m.saves++
	return nil
}

func (m *memShows) ListStartingBetween(_ context.Context, from, to time.Time) ([]model.Show, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Show
	for _, s := range m.shows {
		if s.StartsAt.After(from) && !s.StartsAt.After(to) {
			cp := *s
			cp.Occupied = s.Occupied.Clone()
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (m *memShows) occupied(id uint64) model.Occupancy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shows[id].Occupied.Clone()
}

type memBookings struct {
	mu        sync.Mutex
	bookings  map[string]*model.Booking
	createErr error
}

func newMemBookings() *memBookings { return &memBookings{bookings: map[string]*model.Booking{}} }

func (m *memBookings) Create(_ context.Context, b *model.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *memBookings) GetByID(_ context.Context, id string) (*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, repository.ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memBookings) SetCheckout(_ context.Context, id, sessionID, url string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || b.CheckoutSessionID != nil {
		return false, nil
	}
	b.CheckoutSessionID, b.CheckoutURL = &sessionID, &url
	return true, nil
}

func (m *memBookings) MarkPaid(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return false, repository.ErrBookingNotFound
	}
	if b.Status == model.BookingPaid {
		return false, nil
	}
	b.Status, b.PaidAt = model.BookingPaid, &at
	return true, nil
}

func (m *memBookings) DeleteIfPending(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || b.Status != model.BookingPending {
		return false, nil
	}
	delete(m.bookings, id)
	return true, nil
}

func (m *memBookings) ListPendingCreatedBefore(_ context.Context, before time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stale []*model.Booking
	for _, b := range m.bookings {
		if b.Status == model.BookingPending && b.CreatedAt.Before(before) {
			stale = append(stale, b)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	var ids []string
	for i := 0; i < len(stale) && i < limit; i++ {
		ids = append(ids, stale[i].ID)
	}
	return ids, nil
}

func (m *memBookings) ListByUser(_ context.Context, userID string) ([]repository.BookingDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.BookingDetail
	for _, b := range m.bookings {
		if b.UserID == userID {
			out = append(out, repository.BookingDetail{Booking: *b})
		}
	}
	return out, nil
}

func (m *memBookings) ListAll(_ context.Context) ([]repository.BookingDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.BookingDetail
	for _, b := range m.bookings {
		out = append(out, repository.BookingDetail{Booking: *b})
	}
	return out, nil
}

func (m *memBookings) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bookings)
}

type fakePayments struct {
	mu       sync.Mutex
	requests []payment.CheckoutRequest
	err      error
	event    *payment.Event
	eventErr error
}

func (f *fakePayments) CreateCheckoutSession(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("provider call without deadline")
	}
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &payment.CheckoutSession{ID: "cs_" + req.BookingID, URL: "https://pay.example/" + req.BookingID}, nil
}

func (f *fakePayments) ParseEvent(_ []byte, signature string) (*payment.Event, error) {
	if f.eventErr != nil {
		return nil, f.eventErr
	}
	if signature != "valid" {
		return nil, payment.ErrInvalidSignature
	}
	ev := *f.event
	return &ev, nil
}

func (f *fakePayments) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type scheduled struct {
	At        time.Time
	BookingID string
}

type fakeScheduler struct {
	mu    sync.Mutex
	tasks []scheduled
	err   error
}

func (f *fakeScheduler) ScheduleReconcile(_ context.Context, at time.Time, bookingID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, scheduled{At: at, BookingID: bookingID})
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []queue.NotificationEvent
	err    error
}

func (f *fakeNotifier) Publish(_ context.Context, ev queue.NotificationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

type fakeContacts map[string][2]string

func (f fakeContacts) Contact(_ context.Context, userID string) (string, string, error) {
	c, ok := f[userID]
	if !ok {
		return "", "", repository.ErrUserNotFound
	}
	return c[0], c[1], nil
}
