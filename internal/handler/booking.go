package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/StefanoGaspardone/quickshow/internal/repository"
	"github.com/StefanoGaspardone/quickshow/internal/service"
)

// BookingService is the part of the checkout orchestrator the HTTP layer
// drives.
type BookingService interface {
	Reserve(ctx context.Context, in service.ReserveInput) (*service.ReserveResult, error)
	Resume(ctx context.Context, userID, bookingID string) (string, error)
}

type SeatQuery interface {
	OccupiedSeats(ctx context.Context, showID uint64) ([]string, error)
}

type BookingLister interface {
	ListForUser(ctx context.Context, userID string) ([]repository.BookingDetail, error)
	ListAll(ctx context.Context) ([]repository.BookingDetail, error)
}

// BookingHandler serves seat claims, seat availability and booking lists.
// Routes that need a user assume JWT middleware already ran.
type BookingHandler struct {
	Bookings BookingService
	Seats    SeatQuery
	Ledger   BookingLister
}

func NewBookingHandler(b BookingService, s SeatQuery, l BookingLister) *BookingHandler {
	return &BookingHandler{Bookings: b, Seats: s, Ledger: l}
}

type createBookingReq struct {
	ShowID        flexID   `json:"showId"`
	SelectedSeats []string `json:"selectedSeats"`
}

// Create handles POST /v1/bookings. On success the client is sent to the
// checkout URL.
func (h *BookingHandler) Create(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "message": "unauthorized"})
	}
	var req createBookingReq
	if err := c.Bind(&req); err != nil || req.ShowID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "message": "showId and selectedSeats are required"})
	}
	// the provider call has its own timeout inside the orchestrator
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*requestTimeout)
	defer cancel()

	res, err := h.Bookings.Reserve(ctx, service.ReserveInput{
		UserID: userID,
		ShowID: uint64(req.ShowID),
		Seats:  req.SelectedSeats,
		Origin: c.Request().Header.Get(echo.HeaderOrigin),
	})
	if err != nil {
		return failure(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"success": true, "url": res.URL, "bookingId": res.Booking.ID})
}

// Pay handles POST /v1/bookings/:id/checkout for a PENDING booking whose
// checkout could not be opened or was abandoned.
func (h *BookingHandler) Pay(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "message": "unauthorized"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*requestTimeout)
	defer cancel()

	url, err := h.Bookings.Resume(ctx, userID, c.Param("id"))
	if err != nil {
		return failure(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "url": url})
}

// OccupiedSeats handles GET /v1/bookings/seats/:showId.
func (h *BookingHandler) OccupiedSeats(c echo.Context) error {
	showID, ok := parseShowID(c.Param("showId"))
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "message": "invalid show id"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	seats, err := h.Seats.OccupiedSeats(ctx, showID)
	if err != nil {
		return failure(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "occupiedSeats": seats})
}

type bookingResp struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId,omitempty"`
	ShowID       uint64     `json:"showId"`
	ShowTitle    string     `json:"showTitle"`
	ShowStartsAt time.Time  `json:"showStartsAt"`
	Seats        []string   `json:"bookedSeats"`
	AmountCents  uint64     `json:"amountCents"`
	Currency     string     `json:"currency"`
	Status       string     `json:"status"`
	IsPaid       bool       `json:"isPaid"`
	PaymentLink  string     `json:"paymentLink,omitempty"`
	PaidAt       *time.Time `json:"paidAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

func toBookingResp(d repository.BookingDetail, withUser bool) bookingResp {
	out := bookingResp{
		ID:           d.ID,
		ShowID:       d.ShowID,
		ShowTitle:    d.ShowTitle,
		ShowStartsAt: d.ShowStartsAt,
		Seats:        d.Seats,
		AmountCents:  d.AmountCents,
		Currency:     d.Currency,
		Status:       string(d.Status),
		IsPaid:       d.IsPaid(),
		PaidAt:       d.PaidAt,
		CreatedAt:    d.CreatedAt,
	}
	if withUser {
		out.UserID = d.UserID
	}
	// the link is only useful while payment is still possible
	if !d.IsPaid() && d.CheckoutURL != nil {
		out.PaymentLink = *d.CheckoutURL
	}
	return out
}

// Mine handles GET /v1/user/bookings.
func (h *BookingHandler) Mine(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "message": "unauthorized"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	list, err := h.Ledger.ListForUser(ctx, userID)
	if err != nil {
		return failure(c, err)
	}
	out := make([]bookingResp, 0, len(list))
	for _, d := range list {
		out = append(out, toBookingResp(d, false))
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "bookings": out})
}

// All handles GET /v1/admin/bookings.
func (h *BookingHandler) All(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	list, err := h.Ledger.ListAll(ctx)
	if err != nil {
		return failure(c, err)
	}
	out := make([]bookingResp, 0, len(list))
	for _, d := range list {
		out = append(out, toBookingResp(d, true))
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "bookings": out})
}
