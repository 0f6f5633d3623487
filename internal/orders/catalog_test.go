package orders

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/agrimanager-orders/internal/auth"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validProduct() NewProduct {
	return NewProduct{
		Name:              "  Heirloom tomatoes ",
		Description:       "Vine ripened",
		Category:          "Vegetables",
		UnitPrice:         decimal.RequireFromString("3.20"),
		Unit:              "kg",
		QuantityAvailable: 40,
		Organic:           true,
	}
}

func TestCreateProduct(t *testing.T) {
	store := newMemStore()
	c := &Catalog{Store: store, Log: quietLogger()}

	p, err := c.CreateProduct(context.Background(), farmer, validProduct())
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, farmer.UserID, p.FarmerID)
	assert.Equal(t, "Heirloom tomatoes", p.Name)
	assert.Equal(t, "vegetables", p.Category)
	assert.Equal(t, ProductAvailable, p.Status)

	in := validProduct()
	in.QuantityAvailable = 0
	p, err = c.CreateProduct(context.Background(), admin, in)
	require.NoError(t, err)
	assert.Equal(t, ProductSoldOut, p.Status)
}

func TestCreateProductRejects(t *testing.T) {
	c := &Catalog{Store: newMemStore(), Log: quietLogger()}
	harvest := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	expiry := harvest.AddDate(0, 0, -1)

	cases := []struct {
		name   string
		id     auth.Identity
		mutate func(*NewProduct)
		want   error
	}{
		{"anonymous", auth.Identity{}, func(*NewProduct) {}, ErrUnauthenticated},
		{"buyer", buyer, func(*NewProduct) {}, ErrForbidden},
		{"blank name", farmer, func(p *NewProduct) { p.Name = "  " }, ErrValidation},
		{"no unit", farmer, func(p *NewProduct) { p.Unit = "" }, ErrValidation},
		{"negative stock", farmer, func(p *NewProduct) { p.QuantityAvailable = -1 }, ErrValidation},
		{"zero price", farmer, func(p *NewProduct) { p.UnitPrice = decimal.Zero }, ErrValidation},
		{"fractional cents", farmer, func(p *NewProduct) { p.UnitPrice = decimal.RequireFromString("1.005") }, ErrValidation},
		{"expires before harvest", farmer, func(p *NewProduct) { p.HarvestDate, p.ExpiryDate = &harvest, &expiry }, ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validProduct()
			tc.mutate(&in)
			_, err := c.CreateProduct(context.Background(), tc.id, in)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestValidationMessagesNameFields(t *testing.T) {
	c := &Catalog{Store: newMemStore(), Log: quietLogger()}
	in := validProduct()
	in.Name = ""
	_, err := c.CreateProduct(context.Background(), farmer, in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
}

func TestProductFilterNormalized(t *testing.T) {
	f := ProductFilter{Query: "  kale ", Category: " Greens", Limit: 1000, Offset: -4}.normalized()
	assert.Equal(t, "kale", f.Query)
	assert.Equal(t, "greens", f.Category)
	assert.Equal(t, maxPageSize, f.Limit)
	assert.Zero(t, f.Offset)

	assert.Equal(t, defaultPageSize, ProductFilter{}.normalized().Limit)
}

func TestListAndGetProducts(t *testing.T) {
	store := newMemStore()
	c := &Catalog{Store: store, Log: quietLogger()}
	p := store.addProduct(farmer.UserID, "1.00", 3)
	store.addProduct(farmer.UserID, "1.00", 0)

	page, err := c.ListProducts(context.Background(), ProductFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, defaultPageSize, page.Limit)

	got, err := c.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = c.GetProduct(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}
