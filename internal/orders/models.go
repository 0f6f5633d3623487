package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID                string          `json:"id"`
	FarmerID          string          `json:"farmer_id"`
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	Category          string          `json:"category"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	Unit              string          `json:"unit"`
	QuantityAvailable int             `json:"quantity_available"`
	Organic           bool            `json:"organic"`
	HarvestDate       *time.Time      `json:"harvest_date,omitempty"`
	ExpiryDate        *time.Time      `json:"expiry_date,omitempty"`
	Status            ProductStatus   `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type Order struct {
	ID                string          `json:"id"`
	BuyerID           string          `json:"buyer_id"`
	SellerID          string          `json:"seller_id"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	Currency          string          `json:"currency"`
	ShippingAddress   string          `json:"shipping_address"`
	Status            Status          `json:"status"`
	PaymentStatus     PaymentStatus   `json:"payment_status"`
	CheckoutSessionID string          `json:"checkout_session_id,omitempty"`
	PaymentRef        string          `json:"payment_ref,omitempty"`
	IdempotencyKey    string          `json:"-"`
	Items             []OrderItem     `json:"items,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// OrderItem freezes the product's name, description and price at the
// moment of purchase.
type OrderItem struct {
	ID                 string          `json:"id"`
	OrderID            string          `json:"order_id"`
	ProductID          string          `json:"product_id"`
	ProductName        string          `json:"product_name"`
	ProductDescription string          `json:"product_description,omitempty"`
	Quantity           int             `json:"quantity"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	TotalPrice         decimal.Decimal `json:"total_price"`
}

// LineTotal is quantity x unit price rounded to cents.
func LineTotal(qty int, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(qty))).Round(2)
}

type NewOrder struct {
	BuyerID         string
	ProductID       string
	Quantity        int
	ShippingAddress string
	IdempotencyKey  string
	Currency        string
}

// PlacedOrder is the result of placing an order. Replayed is set when an
// earlier order with the same idempotency key was returned instead.
type PlacedOrder struct {
	Order    Order `json:"order"`
	Replayed bool  `json:"replayed"`
}

type NewProduct struct {
	Name              string          `json:"name" validate:"required,max=200"`
	Description       string          `json:"description" validate:"max=4000"`
	Category          string          `json:"category" validate:"required,max=100"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	Unit              string          `json:"unit" validate:"required,max=32"`
	QuantityAvailable int             `json:"quantity_available" validate:"gte=0"`
	Organic           bool            `json:"organic"`
	HarvestDate       *time.Time      `json:"harvest_date,omitempty"`
	ExpiryDate        *time.Time      `json:"expiry_date,omitempty"`
}

type ProductFilter struct {
	Query    string
	Category string
	Organic  *bool
	FarmerID string
	Limit    int
	Offset   int
}

type ProductPage struct {
	Items  []Product `json:"items"`
	Total  int       `json:"total"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}
