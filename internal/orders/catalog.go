package orders

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ariefcatur/agrimanager-orders/internal/auth"
	"github.com/shopspring/decimal"
)

const (
	defaultPageSize = 12
	maxPageSize     = 100
)

var maxUnitPrice = decimal.RequireFromString("99999999.99")

// Catalog serves the marketplace listings that orders are placed against.
type Catalog struct {
	Store ProductStore
	Log   *slog.Logger
}

// CreateProduct lists produce for the calling farmer.
func (c *Catalog) CreateProduct(ctx context.Context, id auth.Identity, in NewProduct) (Product, error) {
	ctx, span := tracer.Start(ctx, "catalog.CreateProduct")
	defer span.End()

	if id.Anonymous() {
		return Product{}, fail(span, ErrUnauthenticated)
	}
	if id.Role != auth.RoleFarmer && !id.IsAdmin() {
		return Product{}, fail(span, fmt.Errorf("%w: only farmers can list products", ErrForbidden))
	}

	in.Name = strings.TrimSpace(in.Name)
	in.Category = strings.ToLower(strings.TrimSpace(in.Category))
	in.Unit = strings.TrimSpace(in.Unit)
	in.Description = strings.TrimSpace(in.Description)
	if err := validate.Struct(in); err != nil {
		return Product{}, fail(span, validationError(err))
	}
	if !in.UnitPrice.IsPositive() || in.UnitPrice.GreaterThan(maxUnitPrice) {
		return Product{}, fail(span, fmt.Errorf("%w: unit_price must be between 0.01 and %s", ErrValidation, maxUnitPrice))
	}
	if !in.UnitPrice.Equal(in.UnitPrice.Round(2)) {
		return Product{}, fail(span, fmt.Errorf("%w: unit_price has more than two decimals", ErrValidation))
	}
	if in.HarvestDate != nil && in.ExpiryDate != nil && in.ExpiryDate.Before(*in.HarvestDate) {
		return Product{}, fail(span, fmt.Errorf("%w: expiry_date is before harvest_date", ErrValidation))
	}

	p, err := c.Store.CreateProduct(ctx, Product{
		FarmerID:          id.UserID,
		Name:              in.Name,
		Description:       in.Description,
		Category:          in.Category,
		UnitPrice:         in.UnitPrice,
		Unit:              in.Unit,
		QuantityAvailable: in.QuantityAvailable,
		Organic:           in.Organic,
		HarvestDate:       in.HarvestDate,
		ExpiryDate:        in.ExpiryDate,
		Status:            StockStatus(in.QuantityAvailable),
	})
	if err != nil {
		return Product{}, fail(span, fmt.Errorf("create product: %w", err))
	}
	c.log().Info("product created", "product_id", p.ID, "farmer_id", p.FarmerID, "quantity", p.QuantityAvailable)
	return p, nil
}

func (c *Catalog) GetProduct(ctx context.Context, id string) (Product, error) {
	p, err := c.Store.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return Product{}, fmt.Errorf("load product: %w", err)
	}
	return p, nil
}

// ListProducts searches available listings, or every listing of one farmer
// when FarmerID is set.
func (c *Catalog) ListProducts(ctx context.Context, f ProductFilter) (ProductPage, error) {
	ctx, span := tracer.Start(ctx, "catalog.ListProducts")
	defer span.End()

	page, err := c.Store.ListProducts(ctx, f.normalized())
	if err != nil {
		return ProductPage{}, fail(span, fmt.Errorf("list products: %w", err))
	}
	return page, nil
}

func (f ProductFilter) normalized() ProductFilter {
	f.Query = strings.TrimSpace(f.Query)
	f.Category = strings.ToLower(strings.TrimSpace(f.Category))
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

func (c *Catalog) log() *slog.Logger {
	if c.Log == nil {
		return slog.Default()
	}
	return c.Log
}
