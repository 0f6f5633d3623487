// Package stripex adapts Stripe Checkout to the marketplace's payment port.
package stripex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ariefcatur/agrimanager-orders/internal/orders"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
)

const metadataOrderID = "order_id"

const (
	EventCheckoutCompleted      = "checkout.session.completed"
	EventAsyncPaymentSucceeded  = "checkout.session.async_payment_succeeded"
	EventAsyncPaymentFailed     = "checkout.session.async_payment_failed"
	EventCheckoutSessionExpired = "checkout.session.expired"
)

type Gateway struct {
	api           *client.API
	webhookSecret string
}

type Config struct {
	SecretKey     string
	WebhookSecret string
	HTTPTimeout   time.Duration
	// Backends overrides the Stripe endpoints; nil means production.
	Backends *stripe.Backends
}

func New(cfg Config) *Gateway {
	backends := cfg.Backends
	if backends == nil {
		timeout := cfg.HTTPTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		backends = stripe.NewBackends(&http.Client{Timeout: timeout})
	}
	return &Gateway{
		api:           client.New(cfg.SecretKey, backends),
		webhookSecret: cfg.WebhookSecret,
	}
}

func (g *Gateway) CreateCheckoutSession(ctx context.Context, req orders.CheckoutRequest) (orders.CheckoutSession, error) {
	params := sessionParams(req)
	params.Context = ctx

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return orders.CheckoutSession{}, fmt.Errorf("create checkout session: %w", err)
	}
	return orders.CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

func (g *Gateway) SessionStatus(ctx context.Context, sessionID string) (orders.SessionStatus, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := g.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode == http.StatusNotFound {
			return orders.SessionStatus{}, fmt.Errorf("checkout session %s: %w", sessionID, orders.ErrNotFound)
		}
		return orders.SessionStatus{}, fmt.Errorf("get checkout session: %w", err)
	}
	return sessionStatus(s), nil
}

// ParseWebhook verifies the Stripe-Signature header and translates the event.
func (g *Gateway) ParseWebhook(payload []byte, signature string) (orders.WebhookEvent, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return orders.WebhookEvent{}, fmt.Errorf("%w: %v", orders.ErrSignature, err)
	}
	return translateEvent(ev)
}

func sessionParams(req orders.CheckoutRequest) *stripe.CheckoutSessionParams {
	lines := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Lines))
	for _, l := range req.Lines {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(l.Name),
		}
		if l.Description != "" {
			product.Description = stripe.String(l.Description)
		}
		lines = append(lines, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(req.Currency),
				ProductData: product,
				UnitAmount:  stripe.Int64(MinorUnits(l.UnitPrice)),
			},
			Quantity: stripe.Int64(int64(l.Quantity)),
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems:          lines,
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
		ClientReferenceID:  stripe.String(req.OrderID),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{metadataOrderID: req.OrderID},
		},
	}
	params.AddMetadata(metadataOrderID, req.OrderID)
	return params
}

// MinorUnits converts a two-decimal amount to cents.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func sessionStatus(s *stripe.CheckoutSession) orders.SessionStatus {
	st := orders.SessionStatus{
		SessionID: s.ID,
		OrderID:   orderIDOf(s),
		Paid:      s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
	}
	st.PaymentRef = paymentRef(s)
	return st
}

func translateEvent(ev stripe.Event) (orders.WebhookEvent, error) {
	out := orders.WebhookEvent{ID: ev.ID, Type: string(ev.Type)}

	switch string(ev.Type) {
	case EventCheckoutCompleted, EventAsyncPaymentSucceeded, EventAsyncPaymentFailed:
	default:
		out.Kind = orders.WebhookIgnored
		return out, nil
	}
	if ev.Data == nil {
		return out, fmt.Errorf("%w: event %s has no data", orders.ErrValidation, ev.ID)
	}

	var s stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
		return out, fmt.Errorf("%w: decode checkout session: %v", orders.ErrValidation, err)
	}
	out.SessionID = s.ID
	out.OrderID = orderIDOf(&s)
	out.PaymentRef = paymentRef(&s)

	switch string(ev.Type) {
	case EventCheckoutCompleted:
		// Delayed payment methods complete the session before the money
		// moves; the async events settle them later.
		if s.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
			out.Kind = orders.WebhookPaymentPending
		} else {
			out.Kind = orders.WebhookPaymentSucceeded
		}
	case EventAsyncPaymentSucceeded:
		out.Kind = orders.WebhookPaymentSucceeded
	case EventAsyncPaymentFailed:
		out.Kind = orders.WebhookPaymentFailed
	}
	return out, nil
}

func orderIDOf(s *stripe.CheckoutSession) string {
	if id := s.Metadata[metadataOrderID]; id != "" {
		return id
	}
	return s.ClientReferenceID
}

// paymentRef prefers the payment intent id and falls back to the session id.
func paymentRef(s *stripe.CheckoutSession) string {
	if s.PaymentIntent != nil && s.PaymentIntent.ID != "" {
		return s.PaymentIntent.ID
	}
	return s.ID
}
