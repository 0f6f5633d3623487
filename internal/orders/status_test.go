package orders

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusPaid))
	assert.True(t, CanTransition(StatusPending, StatusCancelled))
	assert.False(t, CanTransition(StatusPaid, StatusPending))
	assert.False(t, CanTransition(StatusPaid, StatusCancelled))
	assert.False(t, CanTransition(StatusCancelled, StatusPaid))
	assert.False(t, CanTransition(StatusCancelled, StatusPending))
	assert.False(t, CanTransition("unknown", StatusPaid))
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusPaid.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, Status("unknown").Terminal())
}

func TestCanTransitionPayment(t *testing.T) {
	assert.True(t, CanTransitionPayment(PaymentPending, PaymentPaid))
	assert.True(t, CanTransitionPayment(PaymentPending, PaymentFailed))
	assert.True(t, CanTransitionPayment(PaymentFailed, PaymentPaid))
	assert.False(t, CanTransitionPayment(PaymentPaid, PaymentFailed))
	assert.False(t, CanTransitionPayment(PaymentPaid, PaymentPending))
}

func TestStockStatus(t *testing.T) {
	assert.Equal(t, ProductSoldOut, StockStatus(0))
	assert.Equal(t, ProductSoldOut, StockStatus(-1))
	assert.Equal(t, ProductAvailable, StockStatus(1))
}

func TestLineTotal(t *testing.T) {
	assert.Equal(t, "6.00", LineTotal(3, decimal.RequireFromString("2.00")).StringFixed(2))
	assert.Equal(t, "7.05", LineTotal(3, decimal.RequireFromString("2.35")).StringFixed(2))
}
