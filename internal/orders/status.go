package orders

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

type ProductStatus string

const (
	ProductAvailable ProductStatus = "available"
	ProductSoldOut   ProductStatus = "sold_out"
	ProductPending   ProductStatus = "pending"
	ProductRejected  ProductStatus = "rejected"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusPaid: true, StatusCancelled: true},
	StatusPaid:      {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Terminal reports whether an order in status s can no longer change.
func (s Status) Terminal() bool {
	next, known := validNext[s]
	return known && len(next) == 0
}

// A failed attempt can still be followed by a successful one while the
// order is pending.
var validPaymentNext = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending: {PaymentPaid: true, PaymentFailed: true},
	PaymentFailed:  {PaymentPaid: true},
	PaymentPaid:    {},
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	return validPaymentNext[from][to]
}

// StockStatus derives the listing status from remaining quantity.
func StockStatus(qty int) ProductStatus {
	if qty <= 0 {
		return ProductSoldOut
	}
	return ProductAvailable
}
