package httpx

import (
	"context"
	"net/http"

	"github.com/ariefcatur/agrimanager-orders/internal/auth"
	"github.com/ariefcatur/agrimanager-orders/internal/orders"
	"github.com/go-chi/chi/v5"
)

type OrderService interface {
	PlaceOrder(ctx context.Context, id auth.Identity, in orders.PlaceOrderInput) (orders.PlacedOrder, error)
	InitiateCheckout(ctx context.Context, id auth.Identity, orderID string) (orders.CheckoutSession, error)
	ReconcilePayment(ctx context.Context, id auth.Identity, orderID, sessionID string) (orders.Reconciliation, error)
	CancelOrder(ctx context.Context, id auth.Identity, orderID string) (orders.Order, error)
	GetOrder(ctx context.Context, id auth.Identity, orderID string) (orders.Order, error)
}

type OrdersHandler struct {
	Orders OrderService
	Auth   auth.Verifier
}

type confirmReq struct {
	SessionID string `json:"session_id"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.Authenticate(h.Auth), auth.RequireIdentity)
		r.Post("/orders", h.placeOrder)
		r.Get("/orders/{id}", h.getOrder)
		r.Post("/orders/{id}/checkout", h.checkout)
		r.Post("/orders/{id}/confirm", h.confirm)
		r.Post("/orders/{id}/cancel", h.cancel)
	})
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var in orders.PlaceOrderInput
	if !decodeJSON(w, r, &in) {
		return
	}
	in.IdempotencyKey = r.Header.Get("Idempotency-Key")

	placed, err := h.Orders.PlaceOrder(r.Context(), auth.FromContext(r.Context()), in)
	if err != nil {
		writeError(w, err)
		return
	}
	code := http.StatusCreated
	if placed.Replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, placed)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.GetOrder(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) checkout(w http.ResponseWriter, r *http.Request) {
	s, err := h.Orders.InitiateCheckout(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *OrdersHandler) confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmReq
	if !decodeJSON(w, r, &req) {
		return
	}
	rec, err := h.Orders.ReconcilePayment(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "id"), req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.CancelOrder(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
