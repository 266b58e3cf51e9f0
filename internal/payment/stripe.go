package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// MinSessionLifetime is the shortest expiry Stripe accepts for a checkout
// session, plus a little headroom for clock skew.
const MinSessionLifetime = 31 * time.Minute

// StripeGateway creates Stripe Checkout sessions and verifies Stripe
// webhooks. All API calls go through an HTTP client with a hard timeout.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
	now           func() time.Time
}

// NewStripeGateway builds a gateway with its own API client; no global
// stripe.Key is set.
func NewStripeGateway(secretKey, webhookSecret string, timeout time.Duration) *StripeGateway {
	httpClient := &http.Client{Timeout: timeout}
	api := &client.API{}
	api.Init(secretKey, stripe.NewBackends(httpClient))
	return &StripeGateway{api: api, webhookSecret: webhookSecret, now: time.Now}
}

// CreateCheckoutSession opens a one-line-item payment session for the
// booking amount. The booking id is attached as metadata and used as the
// idempotency key, so a retried call returns the same session.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	expiresAt := req.ExpiresAt
	if earliest := g.now().Add(MinSessionLifetime); expiresAt.Before(earliest) {
		expiresAt = earliest
	}
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		ExpiresAt:  stripe.Int64(expiresAt.Unix()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(req.Currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.ProductName),
				},
				UnitAmount: stripe.Int64(req.AmountCents),
			},
			Quantity: stripe.Int64(1),
		}},
	}
	params.Context = ctx
	params.AddMetadata(MetadataBookingID, req.BookingID)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout session: %w", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// ParseEvent verifies the Stripe-Signature header against the endpoint
// secret and decodes the checkout session carried by the event. Events
// that are not checkout-session events come back with only ID and Type.
func (g *StripeGateway) ParseEvent(payload []byte, signature string) (*Event, error) {
	return parseStripeEvent(payload, signature, g.webhookSecret)
}

func parseStripeEvent(payload []byte, signature, secret string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	out := &Event{ID: ev.ID, Type: string(ev.Type)}
	switch out.Type {
	case EventCheckoutCompleted, EventCheckoutAsyncPaymentSuccess:
	default:
		return out, nil
	}
	if ev.Data == nil {
		return nil, fmt.Errorf("%w: event %s has no data", ErrInvalidSignature, ev.ID)
	}
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	out.SessionID = sess.ID
	out.BookingID = sess.Metadata[MetadataBookingID]
	out.Paid = sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid ||
		sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired
	return out, nil
}
