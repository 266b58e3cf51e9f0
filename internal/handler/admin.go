package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/StefanoGaspardone/quickshow/internal/clock"
	"github.com/StefanoGaspardone/quickshow/internal/model"
	"github.com/StefanoGaspardone/quickshow/internal/repository"
)

type BookingTotaler interface {
	Totals(ctx context.Context) (repository.BookingTotals, error)
}

type UserCounter interface {
	Count(ctx context.Context) (int, error)
}

type UpcomingShows interface {
	ListUpcoming(ctx context.Context, from time.Time) ([]model.Show, error)
}

// AdminHandler serves the admin console summary. Routes assume the JWT and
// ADMIN role middleware already ran.
type AdminHandler struct {
	Bookings BookingTotaler
	Users    UserCounter
	Shows    UpcomingShows
	Clock    clock.Clock
	Currency string
}

func NewAdminHandler(b BookingTotaler, u UserCounter, s UpcomingShows, clk clock.Clock, currency string) *AdminHandler {
	return &AdminHandler{Bookings: b, Users: u, Shows: s, Clock: clk, Currency: currency}
}

// IsAdmin handles GET /v1/admin/is-admin. Reaching it means the role check passed.
func (h *AdminHandler) IsAdmin(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"success": true, "isAdmin": true})
}

type dashboardResp struct {
	TotalBookings int        `json:"totalBookings"`
	PaidBookings  int        `json:"paidBookings"`
	RevenueCents  uint64     `json:"totalRevenueCents"`
	Currency      string     `json:"currency"`
	ActiveShows   []showResp `json:"activeShows"`
	TotalUsers    int        `json:"totalUser"`
}

// Dashboard handles GET /v1/admin/dashboard.
func (h *AdminHandler) Dashboard(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	totals, err := h.Bookings.Totals(ctx)
	if err != nil {
		logrus.WithError(err).Error("dashboard booking totals failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "message": "internal error"})
	}
	users, err := h.Users.Count(ctx)
	if err != nil {
		logrus.WithError(err).Error("dashboard user count failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "message": "internal error"})
	}
	shows, err := h.Shows.ListUpcoming(ctx, h.Clock.Now())
	if err != nil {
		logrus.WithError(err).Error("dashboard show list failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "message": "internal error"})
	}
	active := make([]showResp, 0, len(shows))
	for _, s := range shows {
		active = append(active, toShowResp(s, true))
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "dashboardData": dashboardResp{
		TotalBookings: totals.Bookings,
		PaidBookings:  totals.PaidBookings,
		RevenueCents:  totals.RevenueCents,
		Currency:      h.Currency,
		ActiveShows:   active,
		TotalUsers:    users,
	}})
}
