package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ariefcatur/agrimanager-orders/internal/auth"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/ariefcatur/agrimanager-orders/internal/orders")

const defaultPaymentTimeout = 10 * time.Second

type CheckoutConfig struct {
	BaseURL  string // public origin used for success and cancel redirects
	Currency string
	Timeout  time.Duration // bound on every payment processor call
}

// Coordinator owns the order lifecycle: placement with stock reservation,
// checkout, and reconciliation of payments reported by the client or the
// processor's webhook. Every status change goes through a conditional
// update in Store, so concurrent or repeated calls converge on one outcome.
type Coordinator struct {
	Store    OrderStore
	Payments PaymentGateway
	Events   EventPublisher
	Cache    Cache
	Log      *slog.Logger
	Checkout CheckoutConfig
	Service  string
}

type PlaceOrderInput struct {
	ProductID       string `json:"product_id" validate:"required"`
	Quantity        int    `json:"quantity" validate:"gt=0,lte=1000000"`
	ShippingAddress string `json:"shipping_address" validate:"required,max=500"`
	IdempotencyKey  string `json:"-" validate:"max=255"`
}

type Reconciliation struct {
	OrderID string `json:"order_id"`
	Paid    bool   `json:"paid"`
	Changed bool   `json:"changed"`
}

const (
	WebhookResultPaid          = "paid"
	WebhookResultAlreadyPaid   = "already_paid"
	WebhookResultPaymentFailed = "payment_failed"
	WebhookResultPending       = "pending"
	WebhookResultIgnored       = "ignored"
	WebhookResultDuplicate     = "duplicate"
	WebhookResultUnknownOrder  = "unknown_order"
	WebhookResultConflict      = "conflict"
	WebhookResultMalformed     = "malformed"
)

type WebhookOutcome struct {
	EventID string `json:"event_id,omitempty"`
	Result  string `json:"result"`
	OrderID string `json:"order_id,omitempty"`
}

const dedupScopeWebhook = "webhook"

func (c *Coordinator) PlaceOrder(ctx context.Context, id auth.Identity, in PlaceOrderInput) (PlacedOrder, error) {
	ctx, span := tracer.Start(ctx, "orders.PlaceOrder", trace.WithAttributes(
		attribute.String("product.id", in.ProductID),
		attribute.Int("order.quantity", in.Quantity),
	))
	defer span.End()

	if id.Anonymous() {
		return PlacedOrder{}, fail(span, ErrUnauthenticated)
	}
	in.ProductID = strings.TrimSpace(in.ProductID)
	in.ShippingAddress = strings.TrimSpace(in.ShippingAddress)
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	if err := validate.Struct(in); err != nil {
		return PlacedOrder{}, fail(span, validationError(err))
	}

	if in.IdempotencyKey != "" {
		if orderID, ok := c.cache().IdempotentOrder(ctx, id.UserID, in.IdempotencyKey); ok {
			if o, err := c.Store.GetOrder(ctx, orderID); err == nil && o.BuyerID == id.UserID {
				return PlacedOrder{Order: o, Replayed: true}, nil
			}
		}
	}

	placed, err := c.Store.PlaceOrder(ctx, NewOrder{
		BuyerID:         id.UserID,
		ProductID:       in.ProductID,
		Quantity:        in.Quantity,
		ShippingAddress: in.ShippingAddress,
		IdempotencyKey:  in.IdempotencyKey,
		Currency:        c.currency(),
	})
	if err != nil {
		return PlacedOrder{}, fail(span, fmt.Errorf("place order: %w", err))
	}
	o := placed.Order
	span.SetAttributes(attribute.String("order.id", o.ID), attribute.Bool("order.replayed", placed.Replayed))

	if in.IdempotencyKey != "" {
		c.cache().RememberIdempotentOrder(ctx, id.UserID, in.IdempotencyKey, o.ID)
	}
	if placed.Replayed {
		return placed, nil
	}

	payload := OrderPlacedPayload{
		OrderID:     o.ID,
		BuyerID:     o.BuyerID,
		SellerID:    o.SellerID,
		ProductID:   in.ProductID,
		Quantity:    in.Quantity,
		TotalAmount: o.TotalAmount,
		Currency:    o.Currency,
	}
	if len(o.Items) > 0 {
		payload.ProductName = o.Items[0].ProductName
		payload.UnitPrice = o.Items[0].UnitPrice
	}
	c.publish(ctx, TopicOrderPlaced, EventOrderPlaced, o.ID, payload)
	c.log().Info("order placed", "order_id", o.ID, "buyer_id", o.BuyerID, "product_id", in.ProductID,
		"quantity", in.Quantity, "total", o.TotalAmount.StringFixed(2))
	return placed, nil
}

// InitiateCheckout opens a hosted checkout session for a pending order and
// returns where to redirect the buyer. The order itself does not change
// state; a processor failure leaves it pending and retryable.
func (c *Coordinator) InitiateCheckout(ctx context.Context, id auth.Identity, orderID string) (CheckoutSession, error) {
	ctx, span := tracer.Start(ctx, "orders.InitiateCheckout", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	if id.Anonymous() {
		return CheckoutSession{}, fail(span, ErrUnauthenticated)
	}
	o, err := c.Store.GetOrder(ctx, orderID)
	if err != nil {
		return CheckoutSession{}, fail(span, fmt.Errorf("load order: %w", err))
	}
	if o.BuyerID != id.UserID {
		return CheckoutSession{}, fail(span, fmt.Errorf("%w: only the buyer can pay for an order", ErrForbidden))
	}
	if o.Status != StatusPending || !CanTransitionPayment(o.PaymentStatus, PaymentPaid) {
		return CheckoutSession{}, fail(span, fmt.Errorf("%w: order is %s", ErrInvalidState, o.Status))
	}
	if len(o.Items) == 0 {
		return CheckoutSession{}, fail(span, fmt.Errorf("%w: order has no items", ErrInvalidState))
	}

	req := CheckoutRequest{
		OrderID:    o.ID,
		BuyerID:    o.BuyerID,
		Currency:   o.Currency,
		SuccessURL: c.successURL(o.ID),
		CancelURL:  c.cancelURL(o.Items[0].ProductID),
	}
	for _, it := range o.Items {
		req.Lines = append(req.Lines, CheckoutLine{
			Name:        it.ProductName,
			Description: it.ProductDescription,
			UnitPrice:   it.UnitPrice,
			Quantity:    it.Quantity,
		})
	}

	pctx, cancel := context.WithTimeout(ctx, c.paymentTimeout())
	defer cancel()
	sess, err := c.Payments.CreateCheckoutSession(pctx, req)
	if err != nil {
		c.log().Warn("checkout session failed", "order_id", o.ID, "error", err)
		return CheckoutSession{}, fail(span, fmt.Errorf("%w: %v", ErrExternalService, err))
	}

	if err := c.Store.AttachCheckoutSession(ctx, o.ID, sess.ID); err != nil {
		// the webhook carries the order id in metadata, so payment still reconciles
		c.log().Error("record checkout session", "order_id", o.ID, "session_id", sess.ID, "error", err)
	}
	c.cache().InvalidateOrder(ctx, o.ID)
	c.log().Info("checkout started", "order_id", o.ID, "session_id", sess.ID)
	return sess, nil
}

// ReconcilePayment asks the processor for the state of sessionID and marks
// the order paid if it is. Calling it again after success is a no-op. An
// empty sessionID falls back to the session recorded at checkout.
func (c *Coordinator) ReconcilePayment(ctx context.Context, id auth.Identity, orderID, sessionID string) (Reconciliation, error) {
	ctx, span := tracer.Start(ctx, "orders.ReconcilePayment", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	if id.Anonymous() {
		return Reconciliation{}, fail(span, ErrUnauthenticated)
	}
	o, err := c.Store.GetOrder(ctx, orderID)
	if err != nil {
		return Reconciliation{}, fail(span, fmt.Errorf("load order: %w", err))
	}
	if o.BuyerID != id.UserID && !id.IsAdmin() {
		return Reconciliation{}, fail(span, fmt.Errorf("%w: only the buyer can confirm payment", ErrForbidden))
	}
	res := Reconciliation{OrderID: o.ID}
	switch o.Status {
	case StatusPaid:
		res.Paid = true
		return res, nil
	case StatusCancelled:
		return res, fail(span, fmt.Errorf("%w: order is cancelled", ErrInvalidState))
	}

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = o.CheckoutSessionID
	}
	if sessionID == "" {
		return res, fail(span, fmt.Errorf("%w: session_id is required", ErrValidation))
	}

	pctx, cancel := context.WithTimeout(ctx, c.paymentTimeout())
	defer cancel()
	st, err := c.Payments.SessionStatus(pctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return res, fail(span, fmt.Errorf("%w: unknown checkout session", ErrValidation))
	}
	if err != nil {
		c.log().Warn("session lookup failed", "order_id", o.ID, "session_id", sessionID, "error", err)
		return res, fail(span, fmt.Errorf("%w: %v", ErrExternalService, err))
	}
	if st.OrderID != o.ID {
		return res, fail(span, fmt.Errorf("%w: session does not reference this order", ErrValidation))
	}
	if !st.Paid {
		return res, nil
	}

	changed, err := c.markPaid(ctx, o, st.PaymentRef, "confirmation")
	if err != nil {
		return res, fail(span, err)
	}
	res.Paid, res.Changed = true, changed
	return res, nil
}

// HandleWebhook verifies and applies a processor notification. Only a bad
// signature or a storage failure is returned as an error; every business
// outcome is reported in WebhookOutcome so the processor stops retrying.
func (c *Coordinator) HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookOutcome, error) {
	ctx, span := tracer.Start(ctx, "orders.HandleWebhook")
	defer span.End()

	ev, err := c.Payments.ParseWebhook(payload, signature)
	if errors.Is(err, ErrSignature) {
		c.log().Warn("webhook signature rejected", "error", err)
		return WebhookOutcome{}, fail(span, err)
	}
	if err != nil {
		c.log().Error("webhook payload rejected", "event_id", ev.ID, "error", err)
		return WebhookOutcome{EventID: ev.ID, Result: WebhookResultMalformed}, nil
	}
	span.SetAttributes(
		attribute.String("webhook.event_id", ev.ID),
		attribute.String("webhook.type", ev.Type),
		attribute.String("order.id", ev.OrderID),
	)

	out := WebhookOutcome{EventID: ev.ID, OrderID: ev.OrderID}
	if ev.ID != "" && c.cache().Processed(ctx, dedupScopeWebhook, ev.ID) {
		out.Result = WebhookResultDuplicate
		return out, nil
	}

	switch ev.Kind {
	case WebhookPaymentSucceeded:
		out.Result, err = c.applyPaid(ctx, ev)
	case WebhookPaymentFailed:
		out.Result, err = c.applyFailed(ctx, ev)
	case WebhookPaymentPending:
		out.Result = WebhookResultPending
	default:
		out.Result = WebhookResultIgnored
	}
	if err != nil {
		return out, fail(span, err)
	}

	if ev.ID != "" {
		c.cache().MarkProcessed(ctx, dedupScopeWebhook, ev.ID)
	}
	c.log().Info("webhook handled", "event_id", ev.ID, "type", ev.Type, "order_id", ev.OrderID, "result", out.Result)
	return out, nil
}

func (c *Coordinator) applyPaid(ctx context.Context, ev WebhookEvent) (string, error) {
	if ev.OrderID == "" {
		c.log().Warn("webhook without order reference", "event_id", ev.ID, "session_id", ev.SessionID)
		return WebhookResultUnknownOrder, nil
	}
	o, err := c.Store.GetOrder(ctx, ev.OrderID)
	if errors.Is(err, ErrNotFound) {
		c.log().Warn("webhook for unknown order", "event_id", ev.ID, "order_id", ev.OrderID)
		return WebhookResultUnknownOrder, nil
	}
	if err != nil {
		return "", fmt.Errorf("load order: %w", err)
	}

	changed, err := c.markPaid(ctx, o, ev.PaymentRef, "webhook")
	switch {
	case errors.Is(err, ErrInvalidState):
		return WebhookResultConflict, nil
	case err != nil:
		return "", err
	case changed:
		return WebhookResultPaid, nil
	default:
		return WebhookResultAlreadyPaid, nil
	}
}

func (c *Coordinator) applyFailed(ctx context.Context, ev WebhookEvent) (string, error) {
	if ev.OrderID == "" {
		return WebhookResultUnknownOrder, nil
	}
	o, err := c.Store.GetOrder(ctx, ev.OrderID)
	if errors.Is(err, ErrNotFound) {
		return WebhookResultUnknownOrder, nil
	}
	if err != nil {
		return "", fmt.Errorf("load order: %w", err)
	}

	changed, err := c.Store.MarkPaymentFailed(ctx, o.ID)
	if err != nil {
		return "", fmt.Errorf("mark payment failed: %w", err)
	}
	if changed {
		c.cache().InvalidateOrder(ctx, o.ID)
		c.publish(ctx, TopicPaymentFailed, EventPaymentFailed, o.ID, PaymentFailedPayload{
			OrderID: o.ID,
			BuyerID: o.BuyerID,
			Reason:  "async_payment_failed",
		})
		c.log().Info("payment failed", "order_id", o.ID, "event_id", ev.ID)
	}
	return WebhookResultPaymentFailed, nil
}

// markPaid performs the pending -> paid transition. It reports false when
// the order was already paid, and ErrInvalidState when money was captured
// for an order that was cancelled in the meantime.
func (c *Coordinator) markPaid(ctx context.Context, o Order, paymentRef, source string) (bool, error) {
	changed, err := c.Store.MarkPaid(ctx, o.ID, paymentRef)
	if err != nil {
		return false, fmt.Errorf("mark paid: %w", err)
	}
	if !changed {
		cur, err := c.Store.GetOrder(ctx, o.ID)
		if err != nil {
			return false, fmt.Errorf("reload order: %w", err)
		}
		if cur.Status != StatusPaid {
			c.log().Error("payment captured for non-payable order", "order_id", o.ID, "status", cur.Status,
				"payment_ref", paymentRef, "source", source)
			return false, fmt.Errorf("%w: order is %s", ErrInvalidState, cur.Status)
		}
		return false, nil
	}

	c.cache().InvalidateOrder(ctx, o.ID)
	c.publish(ctx, TopicOrderPaid, EventOrderPaid, o.ID, OrderPaidPayload{
		OrderID:     o.ID,
		BuyerID:     o.BuyerID,
		SellerID:    o.SellerID,
		PaymentRef:  paymentRef,
		TotalAmount: o.TotalAmount,
		Currency:    o.Currency,
		Source:      source,
	})
	c.log().Info("order paid", "order_id", o.ID, "payment_ref", paymentRef, "source", source)
	return true, nil
}

// CancelOrder cancels a pending, unpaid order on behalf of its buyer or
// seller and returns the reserved quantity to stock.
func (c *Coordinator) CancelOrder(ctx context.Context, id auth.Identity, orderID string) (Order, error) {
	ctx, span := tracer.Start(ctx, "orders.CancelOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	if id.Anonymous() {
		return Order{}, fail(span, ErrUnauthenticated)
	}
	o, err := c.Store.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, fail(span, fmt.Errorf("load order: %w", err))
	}
	if !canAccess(id, o) {
		return Order{}, fail(span, fmt.Errorf("%w: not a party to this order", ErrForbidden))
	}
	if !CanTransition(o.Status, StatusCancelled) || o.PaymentStatus == PaymentPaid {
		return Order{}, fail(span, fmt.Errorf("%w: order is %s", ErrInvalidState, o.Status))
	}

	changed, err := c.Store.Cancel(ctx, o.ID)
	if err != nil {
		return Order{}, fail(span, fmt.Errorf("cancel order: %w", err))
	}
	if !changed {
		return Order{}, fail(span, fmt.Errorf("%w: order changed concurrently", ErrInvalidState))
	}
	c.cache().InvalidateOrder(ctx, o.ID)
	c.publish(ctx, TopicOrderCancelled, EventOrderCancelled, o.ID, OrderCancelledPayload{
		OrderID:     o.ID,
		BuyerID:     o.BuyerID,
		SellerID:    o.SellerID,
		CancelledBy: id.UserID,
	})
	c.log().Info("order cancelled", "order_id", o.ID, "by", id.UserID)

	cur, err := c.Store.GetOrder(ctx, o.ID)
	if err != nil {
		o.Status = StatusCancelled
		return o, nil
	}
	return cur, nil
}

// GetOrder returns an order to its buyer, its seller or an admin.
func (c *Coordinator) GetOrder(ctx context.Context, id auth.Identity, orderID string) (Order, error) {
	ctx, span := tracer.Start(ctx, "orders.GetOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	if id.Anonymous() {
		return Order{}, fail(span, ErrUnauthenticated)
	}

	var o Order
	if b, ok := c.cache().OrderSnapshot(ctx, orderID); ok && json.Unmarshal(b, &o) == nil {
		span.SetAttributes(attribute.Bool("cache.hit", true))
	} else {
		var err error
		if o, err = c.Store.GetOrder(ctx, orderID); err != nil {
			return Order{}, fail(span, fmt.Errorf("load order: %w", err))
		}
		c.storeSnapshot(ctx, o)
	}
	if !canAccess(id, o) {
		return Order{}, fail(span, fmt.Errorf("%w: not a party to this order", ErrForbidden))
	}
	return o, nil
}

func canAccess(id auth.Identity, o Order) bool {
	return id.IsAdmin() || id.UserID == o.BuyerID || id.UserID == o.SellerID
}

// storeSnapshot caches settled orders only. A pending order may change
// between the load and the write, so its snapshot could outlive the
// invalidation that follows the change.
func (c *Coordinator) storeSnapshot(ctx context.Context, o Order) {
	if !o.Status.Terminal() {
		return
	}
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	c.cache().StoreOrderSnapshot(ctx, o.ID, b)
}

func (c *Coordinator) publish(ctx context.Context, topic, eventType, orderID string, payload any) {
	var traceID string
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	c.events().Publish(ctx, topic, NewEnvelope(eventType, c.Service, traceID, orderID, payload))
}

func (c *Coordinator) successURL(orderID string) string {
	// {CHECKOUT_SESSION_ID} is substituted by the processor and must stay unescaped
	return c.Checkout.BaseURL + "/marketplace/payment/success?session_id={CHECKOUT_SESSION_ID}&order_id=" + url.QueryEscape(orderID)
}

func (c *Coordinator) cancelURL(productID string) string {
	return c.Checkout.BaseURL + "/marketplace/" + url.PathEscape(productID)
}

func (c *Coordinator) currency() string {
	if c.Checkout.Currency == "" {
		return "eur"
	}
	return c.Checkout.Currency
}

func (c *Coordinator) paymentTimeout() time.Duration {
	if c.Checkout.Timeout <= 0 {
		return defaultPaymentTimeout
	}
	return c.Checkout.Timeout
}

func (c *Coordinator) cache() Cache {
	if c.Cache == nil {
		return nopCache{}
	}
	return c.Cache
}

func (c *Coordinator) events() EventPublisher {
	if c.Events == nil {
		return nopPublisher{}
	}
	return c.Events
}

func (c *Coordinator) log() *slog.Logger {
	if c.Log == nil {
		return slog.Default()
	}
	return c.Log
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
