package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StefanoGaspardone/quickshow/internal/clock"
	"github.com/StefanoGaspardone/quickshow/internal/config"
	"github.com/StefanoGaspardone/quickshow/internal/model"
	"github.com/StefanoGaspardone/quickshow/internal/repository"
	"github.com/StefanoGaspardone/quickshow/internal/service"
	"github.com/StefanoGaspardone/quickshow/internal/utils"
)

var t0 = time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

type fakeBookings struct {
	got      service.ReserveInput
	err      error
	resumeID string
}

func (f *fakeBookings) Reserve(_ context.Context, in service.ReserveInput) (*service.ReserveResult, error) {
	f.got = in
	if f.err != nil {
		return nil, f.err
	}
	return &service.ReserveResult{Booking: &model.Booking{ID: "b-1"}, URL: "https://pay.example/b-1"}, nil
}

func (f *fakeBookings) Resume(_ context.Context, userID, bookingID string) (string, error) {
	f.resumeID = bookingID
	if f.err != nil {
		return "", f.err
	}
	return "https://pay.example/" + bookingID, nil
}

type fakeSeats map[uint64][]string

func (f fakeSeats) OccupiedSeats(_ context.Context, id uint64) ([]string, error) {
	seats, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", service.ErrShowNotFound, id)
	}
	return seats, nil
}

type fakeLister struct{ list []repository.BookingDetail }

func (f fakeLister) ListForUser(_ context.Context, userID string) ([]repository.BookingDetail, error) {
	var out []repository.BookingDetail
	for _, d := range f.list {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f fakeLister) ListAll(context.Context) ([]repository.BookingDetail, error) { return f.list, nil }

func call(t *testing.T, h echo.HandlerFunc, method, target, body string, setup func(c echo.Context)) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if setup != nil {
		setup(c)
	}
	require.NoError(t, h(c))
	return rec
}

func asUser(id string) func(echo.Context) {
	return func(c echo.Context) { c.Set("user_id", id); c.Set("role", model.RoleCustomer) }
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestCreateBooking(t *testing.T) {
	fb := &fakeBookings{}
	h := NewBookingHandler(fb, fakeSeats{}, fakeLister{})

	rec := call(t, h.Create, http.MethodPost, "/v1/bookings", `{"showId":"7","selectedSeats":["A1","A2"]}`, func(c echo.Context) {
		asUser("42")(c)
		c.Request().Header.Set(echo.HeaderOrigin, "https://web.example")
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, true, decode(t, rec)["success"])
	assert.Equal(t, "https://pay.example/b-1", decode(t, rec)["url"])
	assert.Equal(t, service.ReserveInput{UserID: "42", ShowID: 7, Seats: []string{"A1", "A2"}, Origin: "https://web.example"}, fb.got)

	// numeric ids are accepted too
	rec = call(t, h.Create, http.MethodPost, "/v1/bookings", `{"showId":7,"selectedSeats":["A1"]}`, asUser("42"))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateBooking_Errors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
		msg    string
	}{
		{"bad body", `{"showId":"x"}`, nil, http.StatusBadRequest, "showId and selectedSeats are required"},
		{"selection", `{"showId":1}`, fmt.Errorf("%w: at most 5 seats per booking", service.ErrInvalidSelection), http.StatusBadRequest, "at most 5 seats per booking"},
		{"taken", `{"showId":1}`, &service.SeatsUnavailableError{Seats: []string{"A2"}}, http.StatusConflict, "seats already taken: A2"},
		{"no show", `{"showId":1}`, service.ErrShowNotFound, http.StatusNotFound, "show not found"},
		{"provider", `{"showId":1}`, fmt.Errorf("%w: timeout", service.ErrPaymentProvider), http.StatusBadGateway, "payment provider unavailable, try again from your bookings"},
		{"storage", `{"showId":1}`, fmt.Errorf("%w: boom", service.ErrStorage), http.StatusInternalServerError, "internal error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewBookingHandler(&fakeBookings{err: tc.err}, fakeSeats{}, fakeLister{})
			rec := call(t, h.Create, http.MethodPost, "/v1/bookings", tc.body, asUser("42"))
			assert.Equal(t, tc.status, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tc.msg, body["message"])
		})
	}
}

func TestCreateBooking_RequiresUser(t *testing.T) {
	h := NewBookingHandler(&fakeBookings{}, fakeSeats{}, fakeLister{})
	rec := call(t, h.Create, http.MethodPost, "/v1/bookings", `{"showId":1,"selectedSeats":["A1"]}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPay(t *testing.T) {
	fb := &fakeBookings{}
	h := NewBookingHandler(fb, fakeSeats{}, fakeLister{})
	rec := call(t, h.Pay, http.MethodPost, "/v1/bookings/b-9/checkout", "", func(c echo.Context) {
		asUser("42")(c)
		c.SetParamNames("id")
		c.SetParamValues("b-9")
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "b-9", fb.resumeID)
	assert.Equal(t, "https://pay.example/b-9", decode(t, rec)["url"])

	fb.err = service.ErrBookingPaid
	rec = call(t, h.Pay, http.MethodPost, "/v1/bookings/b-9/checkout", "", asUser("42"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	fb.err = service.ErrBookingExpired
	rec = call(t, h.Pay, http.MethodPost, "/v1/bookings/b-9/checkout", "", asUser("42"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "payment window closed, please book again", decode(t, rec)["message"])
}

func TestOccupiedSeats(t *testing.T) {
	h := NewBookingHandler(&fakeBookings{}, fakeSeats{7: {"A1", "B2"}}, fakeLister{})
	withID := func(id string) func(echo.Context) {
		return func(c echo.Context) { c.SetParamNames("showId"); c.SetParamValues(id) }
	}

	rec := call(t, h.OccupiedSeats, http.MethodGet, "/v1/bookings/seats/7", "", withID("7"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"occupiedSeats":["A1","B2"]}`, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, call(t, h.OccupiedSeats, http.MethodGet, "/", "", withID("8")).Code)
	assert.Equal(t, http.StatusBadRequest, call(t, h.OccupiedSeats, http.MethodGet, "/", "", withID("abc")).Code)
}

func TestMyBookingsShowsLinkOnlyWhilePending(t *testing.T) {
	url := "https://pay.example/b-1"
	paidAt := t0
	h := NewBookingHandler(&fakeBookings{}, fakeSeats{}, fakeLister{list: []repository.BookingDetail{
		{Booking: model.Booking{ID: "b-1", UserID: "42", Status: model.BookingPending, CheckoutURL: &url}, ShowTitle: "Dune"},
		{Booking: model.Booking{ID: "b-2", UserID: "42", Status: model.BookingPaid, CheckoutURL: &url, PaidAt: &paidAt}},
		{Booking: model.Booking{ID: "b-3", UserID: "7", Status: model.BookingPending}},
	}})

	rec := call(t, h.Mine, http.MethodGet, "/v1/user/bookings", "", asUser("42"))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Bookings []bookingResp `json:"bookings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Bookings, 2)
	assert.Equal(t, url, body.Bookings[0].PaymentLink)
	assert.Equal(t, "Dune", body.Bookings[0].ShowTitle)
	assert.Empty(t, body.Bookings[0].UserID)
	assert.Empty(t, body.Bookings[1].PaymentLink)
	assert.True(t, body.Bookings[1].IsPaid)

	rec = call(t, h.All, http.MethodGet, "/v1/admin/bookings", "", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Bookings, 3)
	assert.Equal(t, "7", body.Bookings[2].UserID)
}

type fakeWebhook struct {
	payload, sig string
	err          error
}

func (f *fakeWebhook) HandleWebhook(_ context.Context, payload []byte, sig string) (*service.WebhookResult, error) {
	f.payload, f.sig = string(payload), sig
	if f.err != nil {
		return nil, f.err
	}
	return &service.WebhookResult{Settled: true}, nil
}

func TestStripeWebhook(t *testing.T) {
	fw := &fakeWebhook{}
	h := NewWebhookHandler(fw)
	sig := func(c echo.Context) { c.Request().Header.Set("Stripe-Signature", "t=1,v1=abc") }

	rec := call(t, h.Stripe, http.MethodPost, "/v1/stripe/webhook", `{"id":"evt_1"}`, sig)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"id":"evt_1"}`, fw.payload)
	assert.Equal(t, "t=1,v1=abc", fw.sig)

	fw.err = fmt.Errorf("%w: bad signature", service.ErrInvalidCallback)
	assert.Equal(t, http.StatusBadRequest, call(t, h.Stripe, http.MethodPost, "/", "{}", sig).Code)

	fw.err = fmt.Errorf("%w: db down", service.ErrStorage)
	assert.Equal(t, http.StatusInternalServerError, call(t, h.Stripe, http.MethodPost, "/", "{}", sig).Code)
}

func TestStripeWebhook_RejectsOversizedBodyWhole(t *testing.T) {
	fw := &fakeWebhook{}
	h := NewWebhookHandler(fw)
	big := `{"pad":"` + strings.Repeat("x", maxWebhookBody) + `"}`

	rec := call(t, h.Stripe, http.MethodPost, "/v1/stripe/webhook", big, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, fw.payload, "a truncated body must never reach verification")

	rec = call(t, h.Stripe, http.MethodPost, "/v1/stripe/webhook", big[:maxWebhookBody], nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, fw.payload, maxWebhookBody)
}

type fakeCatalog struct {
	shows     []model.Show
	createErr error
}

func (f *fakeCatalog) Create(_ context.Context, s *model.Show) error {
	if f.createErr != nil {
		return f.createErr
	}
	s.ID = uint64(len(f.shows) + 1)
	s.Occupied = model.Occupancy{}
	f.shows = append(f.shows, *s)
	return nil
}

func (f *fakeCatalog) GetByID(_ context.Context, id uint64) (*model.Show, error) {
	for _, s := range f.shows {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, repository.ErrShowNotFound
}

func (f *fakeCatalog) List(context.Context) ([]model.Show, error) { return f.shows, nil }

func (f *fakeCatalog) ListUpcoming(_ context.Context, from time.Time) ([]model.Show, error) {
	var out []model.Show
	for _, s := range f.shows {
		if !s.StartsAt.Before(from) {
			out = append(out, s)
		}
	}
	return out, nil
}

func TestShows(t *testing.T) {
	cat := &fakeCatalog{shows: []model.Show{
		{ID: 1, Title: "Old", StartsAt: t0.Add(-time.Hour), PriceCents: 900, Occupied: model.Occupancy{"A1": "u"}},
	}}
	h := NewShowHandler(cat, clock.NewManual(t0))

	rec := call(t, h.Create, http.MethodPost, "/v1/admin/shows",
		`{"title":" Dune ","startsAt":"2026-05-02T20:00:00Z","priceCents":1250}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Dune", cat.shows[1].Title)

	for _, body := range []string{
		`{"title":"","startsAt":"2026-05-02T20:00:00Z","priceCents":1}`,
		`{"title":"x","startsAt":"tomorrow","priceCents":1}`,
		`{"title":"x","startsAt":"2026-04-01T20:00:00Z","priceCents":1}`,
		`{"title":"x","startsAt":"2026-05-02T20:00:00Z","priceCents":0}`,
	} {
		assert.Equal(t, http.StatusBadRequest, call(t, h.Create, http.MethodPost, "/", body, nil).Code, body)
	}

	rec = call(t, h.ListUpcoming, http.MethodGet, "/v1/shows", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Shows []showResp `json:"shows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Shows, 1)
	assert.Equal(t, "Dune", list.Shows[0].Title)
	assert.Nil(t, list.Shows[0].OccupiedCount)

	rec = call(t, h.ListAll, http.MethodGet, "/v1/admin/shows", "", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Shows, 2)
	require.NotNil(t, list.Shows[0].OccupiedCount)
	assert.Equal(t, 1, *list.Shows[0].OccupiedCount)

	withID := func(id string) func(echo.Context) {
		return func(c echo.Context) { c.SetParamNames("id"); c.SetParamValues(id) }
	}
	assert.Equal(t, http.StatusOK, call(t, h.Get, http.MethodGet, "/", "", withID("2")).Code)
	assert.Equal(t, http.StatusNotFound, call(t, h.Get, http.MethodGet, "/", "", withID("9")).Code)
	assert.Equal(t, http.StatusBadRequest, call(t, h.Get, http.MethodGet, "/", "", withID("0")).Code)
}

type fakeUsers struct {
	users map[string]model.User
}

func (f *fakeUsers) Create(_ context.Context, email, name, password, role string, _ int) (uint64, error) {
	if _, ok := f.users[email]; ok {
		return 0, repository.ErrEmailExists
	}
	hash, err := utils.HashPassword(password, 4)
	if err != nil {
		return 0, err
	}
	id := uint64(len(f.users) + 1)
	f.users[email] = model.User{ID: id, Email: email, Name: name, PasswordHash: hash, Role: role}
	return id, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (model.User, error) {
	u, ok := f.users[email]
	if !ok {
		return model.User{}, repository.ErrUserNotFound
	}
	return u, nil
}

func TestRegisterAndLogin(t *testing.T) {
	cfg := config.Config{JWTSecret: "s", AccessTTLMin: 5, BcryptCost: 4}
	h := NewAuthHandler(cfg, &fakeUsers{users: map[string]model.User{}})

	rec := call(t, h.Register, http.MethodPost, "/v1/auth/register",
		`{"email":"Ada@Example.com","name":"Ada","password":"correct-horse"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var reg authResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reg))
	assert.Equal(t, "ada@example.com", reg.User.Email)
	assert.Equal(t, model.RoleCustomer, reg.User.Role)

	claims, err := utils.ParseAccessToken("s", reg.Access.Token)
	require.NoError(t, err)
	assert.Equal(t, "1", claims.Subject)

	rec = call(t, h.Register, http.MethodPost, "/", `{"email":"ada@example.com","password":"correct-horse"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = call(t, h.Register, http.MethodPost, "/", `{"email":"bob@example.com","password":"short"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, h.Login, http.MethodPost, "/v1/auth/login", `{"email":"ada@example.com","password":"correct-horse"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = call(t, h.Login, http.MethodPost, "/", `{"email":"ada@example.com","password":"wrong-horse"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = call(t, h.Login, http.MethodPost, "/", `{"email":"nobody@example.com","password":"whatever1"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterNeverTrustsRequestedRole(t *testing.T) {
	cfg := config.Config{JWTSecret: "s", AccessTTLMin: 5, BcryptCost: 4, AdminEmails: []string{"ops@example.com"}}
	h := NewAuthHandler(cfg, &fakeUsers{users: map[string]model.User{}})

	rec := call(t, h.Register, http.MethodPost, "/v1/auth/register",
		`{"email":"mallory@example.com","password":"correct-horse","role":"admin"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var reg authResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reg))
	assert.Equal(t, model.RoleCustomer, reg.User.Role)
	claims, err := utils.ParseAccessToken("s", reg.Access.Token)
	require.NoError(t, err)
	assert.Equal(t, model.RoleCustomer, claims.Role)

	rec = call(t, h.Register, http.MethodPost, "/v1/auth/register",
		`{"email":"Ops@Example.com","password":"correct-horse"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reg))
	assert.Equal(t, model.RoleAdmin, reg.User.Role)

	rec = call(t, h.Login, http.MethodPost, "/v1/auth/login", `{"email":"ops@example.com","password":"correct-horse"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var login authResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	claims, err = utils.ParseAccessToken("s", login.Access.Token)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, claims.Role)
}

func TestHealth(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("down") }

	rec := call(t, Health(map[string]Check{"mysql": ok}), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, Health(map[string]Check{"mysql": ok, "rabbitmq": down}), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","failed":{"rabbitmq":"down"}}`, rec.Body.String())
}

type fakeTotals struct {
	totals repository.BookingTotals
	err    error
}

func (f fakeTotals) Totals(context.Context) (repository.BookingTotals, error) { return f.totals, f.err }

type fakeUserCount int

func (f fakeUserCount) Count(context.Context) (int, error) { return int(f), nil }

func TestAdminDashboard(t *testing.T) {
	cat := &fakeCatalog{shows: []model.Show{
		{ID: 1, Title: "Past", StartsAt: t0.Add(-time.Hour), PriceCents: 900},
		{ID: 2, Title: "Dune", StartsAt: t0.Add(time.Hour), PriceCents: 1250, Occupied: model.Occupancy{"A1": "u1", "A2": "u1"}},
	}}
	h := NewAdminHandler(fakeTotals{totals: repository.BookingTotals{Bookings: 4, PaidBookings: 3, RevenueCents: 3750}},
		fakeUserCount(9), cat, clock.NewManual(t0), "usd")

	rec := call(t, h.Dashboard, http.MethodGet, "/v1/admin/dashboard", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"dashboardData":{
		"totalBookings":4,"paidBookings":3,"totalRevenueCents":3750,"currency":"usd","totalUser":9,
		"activeShows":[{"id":2,"title":"Dune","startsAt":"2026-05-01T19:00:00Z","priceCents":1250,"occupiedCount":2}]}}`,
		rec.Body.String())

	h.Bookings = fakeTotals{err: errors.New("db down")}
	rec = call(t, h.Dashboard, http.MethodGet, "/v1/admin/dashboard", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAdminIsAdmin(t *testing.T) {
	h := NewAdminHandler(fakeTotals{}, fakeUserCount(0), &fakeCatalog{}, clock.NewManual(t0), "usd")
	rec := call(t, h.IsAdmin, http.MethodGet, "/v1/admin/is-admin", "", nil)
	assert.JSONEq(t, `{"success":true,"isAdmin":true}`, rec.Body.String())
}
