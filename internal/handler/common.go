package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/StefanoGaspardone/quickshow/internal/service"
)

// requestTimeout bounds the database work of a single request.
const requestTimeout = 5 * time.Second

// getUserID returns the token subject stored by the JWT middleware.
func getUserID(c echo.Context) (string, error) {
	if v, ok := c.Get("user_id").(string); ok && v != "" {
		return v, nil
	}
	return "", errors.New("invalid user_id in context")
}

func parseShowID(raw string) (uint64, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	return id, err == nil && id > 0
}

// flexID accepts an identifier sent either as a JSON number or a string.
type flexID uint64

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	id, ok := parseShowID(string(b))
	if !ok {
		return errors.New("invalid id")
	}
	*f = flexID(id)
	return nil
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidSelection), errors.Is(err, service.ErrInvalidCallback):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrSeatsUnavailable), errors.Is(err, service.ErrBookingPaid),
		errors.Is(err, service.ErrBookingExpired):
		return http.StatusConflict
	case errors.Is(err, service.ErrShowNotFound), errors.Is(err, service.ErrBookingNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrPaymentProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// messageFor is the client-facing text for a service error. Storage
// details never leave the server.
func messageFor(err error) string {
	var unavailable *service.SeatsUnavailableError
	switch {
	case errors.As(err, &unavailable):
		return "seats already taken: " + strings.Join(unavailable.Seats, ", ")
	case errors.Is(err, service.ErrInvalidSelection):
		return strings.TrimPrefix(err.Error(), service.ErrInvalidSelection.Error()+": ")
	case errors.Is(err, service.ErrShowNotFound):
		return "show not found"
	case errors.Is(err, service.ErrBookingNotFound):
		return "booking not found"
	case errors.Is(err, service.ErrBookingPaid):
		return "booking already paid"
	case errors.Is(err, service.ErrBookingExpired):
		return "payment window closed, please book again"
	case errors.Is(err, service.ErrPaymentProvider):
		return "payment provider unavailable, try again from your bookings"
	default:
		return "internal error"
	}
}

// failure writes the {success:false,message} envelope used by the booking
// endpoints.
func failure(c echo.Context, err error) error {
	if statusFor(err) == http.StatusInternalServerError {
		logrus.WithError(err).WithField("path", c.Path()).Error("request failed")
	}
	return c.JSON(statusFor(err), echo.Map{"success": false, "message": messageFor(err)})
}

var _ json.Unmarshaler = (*flexID)(nil)
