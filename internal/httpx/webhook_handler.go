package httpx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ariefcatur/agrimanager-orders/internal/orders"
	"github.com/go-chi/chi/v5"
)

type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (orders.WebhookOutcome, error)
}

// WebhookHandler receives payment processor notifications. Any response
// other than 2xx makes the processor redeliver, so only signature failures
// and store errors are reported as such.
type WebhookHandler struct {
	Webhooks WebhookProcessor
	Log      *slog.Logger
}

func (h *WebhookHandler) Register(r chi.Router) {
	r.Post("/webhooks/stripe", h.stripe)
}

func (h *WebhookHandler) stripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
		return
	}

	out, err := h.Webhooks.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, orders.ErrSignature):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signature"})
		return
	case err != nil:
		h.Log.Error("webhook processing failed", "event_id", out.EventID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, out)
}
