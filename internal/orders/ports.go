package orders

import (
	"context"

	"github.com/shopspring/decimal"
)

// OrderStore persists orders. Every status change is a conditional update
// whose boolean result reports whether this call performed the transition.
type OrderStore interface {
	PlaceOrder(ctx context.Context, in NewOrder) (PlacedOrder, error)
	GetOrder(ctx context.Context, id string) (Order, error)
	AttachCheckoutSession(ctx context.Context, orderID, sessionID string) error
	MarkPaid(ctx context.Context, orderID, paymentRef string) (bool, error)
	MarkPaymentFailed(ctx context.Context, orderID string) (bool, error)
	Cancel(ctx context.Context, orderID string) (bool, error)
}

type ProductStore interface {
	CreateProduct(ctx context.Context, p Product) (Product, error)
	GetProduct(ctx context.Context, id string) (Product, error)
	ListProducts(ctx context.Context, f ProductFilter) (ProductPage, error)
}

type CheckoutLine struct {
	Name        string
	Description string
	UnitPrice   decimal.Decimal
	Quantity    int
}

type CheckoutRequest struct {
	OrderID    string
	BuyerID    string
	Currency   string
	Lines      []CheckoutLine
	SuccessURL string
	CancelURL  string
}

type CheckoutSession struct {
	ID  string `json:"session_id"`
	URL string `json:"url"`
}

type SessionStatus struct {
	SessionID  string
	OrderID    string
	Paid       bool
	PaymentRef string
}

type WebhookKind int

const (
	WebhookIgnored WebhookKind = iota
	WebhookPaymentSucceeded
	WebhookPaymentPending
	WebhookPaymentFailed
)

func (k WebhookKind) String() string {
	switch k {
	case WebhookPaymentSucceeded:
		return "payment_succeeded"
	case WebhookPaymentPending:
		return "payment_pending"
	case WebhookPaymentFailed:
		return "payment_failed"
	}
	return "ignored"
}

// WebhookEvent is a verified processor notification translated into the
// marketplace's terms.
type WebhookEvent struct {
	ID         string
	Type       string
	Kind       WebhookKind
	SessionID  string
	OrderID    string
	PaymentRef string
}

// PaymentGateway is the external payment processor.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	SessionStatus(ctx context.Context, sessionID string) (SessionStatus, error)
	ParseWebhook(payload []byte, signature string) (WebhookEvent, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, env Envelope)
}

// Cache is a best-effort accelerator. The database stays the source of
// truth for idempotency and state; every method tolerates cache outages.
type Cache interface {
	OrderSnapshot(ctx context.Context, orderID string) ([]byte, bool)
	StoreOrderSnapshot(ctx context.Context, orderID string, b []byte)
	InvalidateOrder(ctx context.Context, orderID string)
	IdempotentOrder(ctx context.Context, buyerID, key string) (string, bool)
	RememberIdempotentOrder(ctx context.Context, buyerID, key, orderID string)
	Processed(ctx context.Context, scope, id string) bool
	MarkProcessed(ctx context.Context, scope, id string)
}

type nopCache struct{}

func (nopCache) OrderSnapshot(context.Context, string) ([]byte, bool) { return nil, false }
func (nopCache) StoreOrderSnapshot(context.Context, string, []byte) {}
func (nopCache) InvalidateOrder(context.Context, string) {}
func (nopCache) IdempotentOrder(context.Context, string, string) (string, bool) { return "", false }
func (nopCache) RememberIdempotentOrder(context.Context, string, string, string) {}
func (nopCache) Processed(context.Context, string, string) bool { return false }
func (nopCache) MarkProcessed(context.Context, string, string) {}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, Envelope) {}
