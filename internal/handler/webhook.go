package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/StefanoGaspardone/quickshow/internal/service"
)

// maxWebhookBody caps the payload read from the provider. Stripe events
// stay well below it; a larger body is refused whole, never truncated.
const maxWebhookBody = 512 << 10

type WebhookService interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*service.WebhookResult, error)
}

// WebhookHandler receives signed payment events. The body must reach the
// verifier byte for byte, so it is read raw instead of bound.
type WebhookHandler struct {
	Payments WebhookService
}

func NewWebhookHandler(p WebhookService) *WebhookHandler { return &WebhookHandler{Payments: p} }

// Stripe handles POST /v1/stripe/webhook. Verification failures get 400,
// oversized bodies 413; storage failures get 500 so the provider redelivers.
func (h *WebhookHandler) Stripe(c echo.Context) error {
	body := http.MaxBytesReader(c.Response(), c.Request().Body, maxWebhookBody)
	payload, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logrus.WithField("limit", tooLarge.Limit).Warn("payment webhook body too large")
			return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{"error": "payload too large"})
		}
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	res, err := h.Payments.HandleWebhook(ctx, payload, c.Request().Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, service.ErrInvalidCallback) {
			logrus.WithError(err).Warn("rejected payment webhook")
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid webhook"})
		}
		logrus.WithError(err).Error("payment webhook failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "webhook processing failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"received": true, "settled": res.Settled})
}
