package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memStore mirrors Repo's conditional updates under a single mutex.
type memStore struct {
	mu       sync.Mutex
	products map[string]*Product
	orders   map[string]*Order
	idem     map[string]string

	failWrites error
	// afterGet runs once, after the next GetOrder has read its row.
	afterGet func()
}

func newMemStore() *memStore {
	return &memStore{
		products: map[string]*Product{},
		orders:   map[string]*Order{},
		idem:     map[string]string{},
	}
}

func (s *memStore) addProduct(farmerID string, price string, qty int) Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &Product{
		ID:                uuid.NewString(),
		FarmerID:          farmerID,
		Name:              "Heirloom tomatoes",
		Description:       "Vine-ripened, picked this morning",
		Category:          "vegetables",
		UnitPrice:         decimal.RequireFromString(price),
		Unit:              "kg",
		QuantityAvailable: qty,
		Status:            StockStatus(qty),
		CreatedAt:         time.Now(),
	}
	s.products[p.ID] = p
	return *p
}

func (s *memStore) product(id string) Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.products[id]
}

func (s *memStore) setPrice(id, price string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[id].UnitPrice = decimal.RequireFromString(price)
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *memStore) PlaceOrder(_ context.Context, in NewOrder) (PlacedOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.IdempotencyKey != "" {
		if id, ok := s.idem[in.BuyerID+"|"+in.IdempotencyKey]; ok {
			return PlacedOrder{Order: copyOrder(s.orders[id]), Replayed: true}, nil
		}
	}
	p, ok := s.products[in.ProductID]
	if !ok {
		return PlacedOrder{}, fmt.Errorf("product %s: %w", in.ProductID, ErrNotFound)
	}
	if p.Status != ProductAvailable || p.QuantityAvailable < in.Quantity {
		return PlacedOrder{}, fmt.Errorf("product %s: %w", in.ProductID, ErrInsufficientStock)
	}
	if p.FarmerID == in.BuyerID {
		return PlacedOrder{}, fmt.Errorf("%w: cannot order your own product", ErrValidation)
	}
	if s.failWrites != nil {
		return PlacedOrder{}, s.failWrites
	}

	p.QuantityAvailable -= in.Quantity
	if p.QuantityAvailable <= 0 {
		p.Status = ProductSoldOut
	}

	total := LineTotal(in.Quantity, p.UnitPrice)
	now := time.Now()
	o := &Order{
		ID:              uuid.NewString(),
		BuyerID:         in.BuyerID,
		SellerID:        p.FarmerID,
		TotalAmount:     total,
		Currency:        in.Currency,
		ShippingAddress: in.ShippingAddress,
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
		IdempotencyKey:  in.IdempotencyKey,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	o.Items = []OrderItem{{
		ID:                 uuid.NewString(),
		OrderID:            o.ID,
		ProductID:          p.ID,
		ProductName:        p.Name,
		ProductDescription: p.Description,
		Quantity:           in.Quantity,
		UnitPrice:          p.UnitPrice,
		TotalPrice:         total,
	}}
	s.orders[o.ID] = o
	if in.IdempotencyKey != "" {
		s.idem[in.BuyerID+"|"+in.IdempotencyKey] = o.ID
	}
	return PlacedOrder{Order: copyOrder(o)}, nil
}

func (s *memStore) GetOrder(_ context.Context, id string) (Order, error) {
	s.mu.Lock()
	o, ok := s.orders[id]
	var out Order
	if ok {
		out = copyOrder(o)
	}
	hook := s.afterGet
	s.afterGet = nil
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	if !ok {
		return Order{}, ErrNotFound
	}
	return out, nil
}

func (s *memStore) AttachCheckoutSession(_ context.Context, orderID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderID]; ok && o.Status == StatusPending {
		o.CheckoutSessionID = sessionID
	}
	return nil
}

func (s *memStore) MarkPaid(_ context.Context, orderID, paymentRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return false, s.failWrites
	}
	o, ok := s.orders[orderID]
	if !ok || o.Status != StatusPending {
		return false, nil
	}
	o.Status, o.PaymentStatus, o.PaymentRef = StatusPaid, PaymentPaid, paymentRef
	return true, nil
}

func (s *memStore) MarkPaymentFailed(_ context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return false, s.failWrites
	}
	o, ok := s.orders[orderID]
	if !ok || o.Status != StatusPending || o.PaymentStatus != PaymentPending {
		return false, nil
	}
	o.PaymentStatus = PaymentFailed
	return true, nil
}

func (s *memStore) Cancel(_ context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.Status != StatusPending || o.PaymentStatus == PaymentPaid {
		return false, nil
	}
	o.Status = StatusCancelled
	for _, it := range o.Items {
		p := s.products[it.ProductID]
		p.QuantityAvailable += it.Quantity
		if p.Status == ProductSoldOut {
			p.Status = ProductAvailable
		}
	}
	return true, nil
}

func (s *memStore) CreateProduct(_ context.Context, p Product) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := p
	s.products[p.ID] = &cp
	return p, nil
}

func (s *memStore) GetProduct(_ context.Context, id string) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return *p, nil
}

func (s *memStore) ListProducts(_ context.Context, f ProductFilter) (ProductPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page := ProductPage{Limit: f.Limit, Offset: f.Offset, Items: []Product{}}
	for _, p := range s.products {
		if p.Status == ProductAvailable {
			page.Total++
			page.Items = append(page.Items, *p)
		}
	}
	return page, nil
}

func copyOrder(o *Order) Order {
	cp := *o
	cp.Items = append([]OrderItem(nil), o.Items...)
	return cp
}

// fakeGateway stands in for the payment processor. Webhook payloads are
// JSON-encoded WebhookEvents and the only valid signature is "valid".
type fakeGateway struct {
	mu        sync.Mutex
	created   []CheckoutRequest
	sessions  map[string]SessionStatus
	createErr error
	statusErr error
	hang      bool
	seq       int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{sessions: map[string]SessionStatus{}}
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	if g.hang {
		<-ctx.Done()
		return CheckoutSession{}, ctx.Err()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return CheckoutSession{}, g.createErr
	}
	g.seq++
	id := fmt.Sprintf("cs_test_%d", g.seq)
	g.created = append(g.created, req)
	g.sessions[id] = SessionStatus{SessionID: id, OrderID: req.OrderID}
	return CheckoutSession{ID: id, URL: "https://checkout.example.com/" + id}, nil
}

func (g *fakeGateway) SessionStatus(ctx context.Context, sessionID string) (SessionStatus, error) {
	if g.hang {
		<-ctx.Done()
		return SessionStatus{}, ctx.Err()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.statusErr != nil {
		return SessionStatus{}, g.statusErr
	}
	st, ok := g.sessions[sessionID]
	if !ok {
		return SessionStatus{}, ErrNotFound
	}
	return st, nil
}

func (g *fakeGateway) ParseWebhook(payload []byte, signature string) (WebhookEvent, error) {
	if signature != "valid" {
		return WebhookEvent{}, fmt.Errorf("%w: mismatch", ErrSignature)
	}
	var ev WebhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return ev, nil
}

// addSession registers a session that was not opened through checkout.
func (g *fakeGateway) addSession(st SessionStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[st.SessionID] = st
}

func (g *fakeGateway) pay(sessionID, paymentRef string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.sessions[sessionID]
	st.Paid, st.PaymentRef = true, paymentRef
	g.sessions[sessionID] = st
}

type published struct {
	topic string
	env   Envelope
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, env Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{topic: topic, env: env})
}

func (p *recordingPublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.topic == topic {
			n++
		}
	}
	return n
}

func webhookPayload(ev WebhookEvent) []byte {
	b, err := json.Marshal(ev)
	if err != nil {
		panic(err)
	}
	return b
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var errDBDown = errors.New("connection refused")
