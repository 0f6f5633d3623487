package httpx

import (
	"context"
	"net/http"
	"strconv"

	"github.com/ariefcatur/agrimanager-orders/internal/auth"
	"github.com/ariefcatur/agrimanager-orders/internal/orders"
	"github.com/go-chi/chi/v5"
)

type ProductService interface {
	CreateProduct(ctx context.Context, id auth.Identity, in orders.NewProduct) (orders.Product, error)
	GetProduct(ctx context.Context, productID string) (orders.Product, error)
	ListProducts(ctx context.Context, f orders.ProductFilter) (orders.ProductPage, error)
}

type ProductsHandler struct {
	Products ProductService
	Auth     auth.Verifier
}

func (h *ProductsHandler) Register(r chi.Router) {
	r.Get("/products", h.list)
	r.Get("/products/{id}", h.get)
	r.With(auth.Authenticate(h.Auth), auth.RequireIdentity).Post("/products", h.create)
}

func (h *ProductsHandler) list(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	page, err := h.Products.ListProducts(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *ProductsHandler) get(w http.ResponseWriter, r *http.Request) {
	p, err := h.Products.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProductsHandler) create(w http.ResponseWriter, r *http.Request) {
	var in orders.NewProduct
	if !decodeJSON(w, r, &in) {
		return
	}
	p, err := h.Products.CreateProduct(r.Context(), auth.FromContext(r.Context()), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type queryError string

func (e queryError) Error() string { return string(e) }

func parseFilter(r *http.Request) (orders.ProductFilter, error) {
	q := r.URL.Query()
	f := orders.ProductFilter{
		Query:    q.Get("q"),
		Category: q.Get("category"),
		FarmerID: q.Get("farmer_id"),
	}
	if v := q.Get("organic"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, queryError("organic must be true or false")
		}
		f.Organic = &b
	}
	var err error
	if f.Limit, err = nonNegative(q.Get("limit")); err != nil {
		return f, queryError("limit must be a non-negative integer")
	}
	if f.Offset, err = nonNegative(q.Get("offset")); err != nil {
		return f, queryError("offset must be a non-negative integer")
	}
	return f, nil
}

func nonNegative(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
