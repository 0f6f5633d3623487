// Package notifier turns order lifecycle events into messages for the
// buyer and the farmer selling the produce.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	kafkax "github.com/ariefcatur/agrimanager-orders/internal/kafka"
	"github.com/ariefcatur/agrimanager-orders/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
)

const dedupScope = "notifier"

type Notification struct {
	UserID  string
	OrderID string
	Subject string
	Body    string
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type Deduper interface {
	Processed(ctx context.Context, scope, id string) bool
	MarkProcessed(ctx context.Context, scope, id string)
}

type Service struct {
	Dedup    Deduper
	Notifier Notifier
	Log      *slog.Logger
}

// HandleMessage is installed as the consumer handler. Returning an error
// makes the consumer retry the message before it moves on in the partition.
func (s *Service) HandleMessage(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// poison message: log and let the offset advance
		s.Log.Error("undecodable event", "topic", m.Topic, "offset", m.Offset, "error", err)
		return nil
	}
	if env.EventID != "" && s.Dedup.Processed(ctx, dedupScope, env.EventID) {
		return nil
	}

	notes, err := notificationsFor(env)
	if err != nil {
		s.Log.Error("undecodable payload", "event_id", env.EventID, "type", env.EventType, "error", err)
		return nil
	}
	for _, n := range notes {
		if err := s.Notifier.Notify(ctx, n); err != nil {
			return fmt.Errorf("notify %s about %s: %w", n.UserID, n.OrderID, err)
		}
	}

	if env.EventID != "" {
		s.Dedup.MarkProcessed(ctx, dedupScope, env.EventID)
	}
	return nil
}

func notificationsFor(env orders.Envelope) ([]Notification, error) {
	switch env.EventType {
	case orders.EventOrderPlaced:
		p, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
		if err != nil {
			return nil, err
		}
		return []Notification{{
			UserID:  p.SellerID,
			OrderID: p.OrderID,
			Subject: "New order awaiting payment",
			Body:    fmt.Sprintf("%d x %s reserved, %s %s pending payment.", p.Quantity, p.ProductName, p.TotalAmount.StringFixed(2), p.Currency),
		}}, nil

	case orders.EventOrderPaid:
		p, err := kafkax.UnwrapPayload[orders.OrderPaidPayload](env.Payload)
		if err != nil {
			return nil, err
		}
		return []Notification{
			{
				UserID:  p.SellerID,
				OrderID: p.OrderID,
				Subject: "Order paid, ready to ship",
				Body:    fmt.Sprintf("Order %s was paid (%s %s).", p.OrderID, p.TotalAmount.StringFixed(2), p.Currency),
			},
			{
				UserID:  p.BuyerID,
				OrderID: p.OrderID,
				Subject: "Payment received",
				Body:    fmt.Sprintf("Thanks, we received %s %s for order %s.", p.TotalAmount.StringFixed(2), p.Currency, p.OrderID),
			},
		}, nil

	case orders.EventPaymentFailed:
		p, err := kafkax.UnwrapPayload[orders.PaymentFailedPayload](env.Payload)
		if err != nil {
			return nil, err
		}
		return []Notification{{
			UserID:  p.BuyerID,
			OrderID: p.OrderID,
			Subject: "Payment failed",
			Body:    fmt.Sprintf("Payment for order %s did not go through. You can retry checkout.", p.OrderID),
		}}, nil

	case orders.EventOrderCancelled:
		p, err := kafkax.UnwrapPayload[orders.OrderCancelledPayload](env.Payload)
		if err != nil {
			return nil, err
		}
		var out []Notification
		for _, uid := range []string{p.BuyerID, p.SellerID} {
			if uid == p.CancelledBy {
				continue
			}
			out = append(out, Notification{
				UserID:  uid,
				OrderID: p.OrderID,
				Subject: "Order cancelled",
				Body:    fmt.Sprintf("Order %s was cancelled.", p.OrderID),
			})
		}
		return out, nil
	}
	return nil, nil
}

// LogNotifier delivers notifications to the structured log.
type LogNotifier struct {
	Log *slog.Logger
}

func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.Log.Info("notification", "user_id", note.UserID, "order_id", note.OrderID, "subject", note.Subject, "body", note.Body)
	return nil
}
