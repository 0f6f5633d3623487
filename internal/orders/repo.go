package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the Postgres implementation of OrderStore and ProductStore.
type Repo struct{ DB *pgxpool.Pool }

const (
	uniqueViolation        = "23505"
	numericValueOutOfRange = "22003"
)

const orderColumns = `id, buyer_id, seller_id, total_amount, currency, shipping_address, status, payment_status,
	COALESCE(checkout_session_id, ''), COALESCE(payment_ref, ''), COALESCE(idempotency_key, ''), created_at, updated_at`

const productColumns = `id, farmer_id, name, description, category, unit_price, unit, quantity_available, organic,
	harvest_date, expiry_date, status, created_at, updated_at`

// PlaceOrder reserves stock and records the order with its single item in
// one transaction. A repeated idempotency key returns the existing order
// without touching stock.
func (r *Repo) PlaceOrder(ctx context.Context, in NewOrder) (PlacedOrder, error) {
	if _, err := uuid.Parse(in.ProductID); err != nil {
		return PlacedOrder{}, fmt.Errorf("product %s: %w", in.ProductID, ErrNotFound)
	}
	if in.IdempotencyKey != "" {
		if o, err := r.orderByIdempotencyKey(ctx, in.BuyerID, in.IdempotencyKey); err == nil {
			return PlacedOrder{Order: o, Replayed: true}, nil
		} else if !errors.Is(err, ErrNotFound) {
			return PlacedOrder{}, err
		}
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return PlacedOrder{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	stock, err := reserveStock(ctx, tx, in.ProductID, in.Quantity)
	if err != nil {
		return PlacedOrder{}, outOfRange(err)
	}
	if stock.FarmerID == in.BuyerID {
		return PlacedOrder{}, fmt.Errorf("%w: cannot order your own product", ErrValidation)
	}

	total := LineTotal(in.Quantity, stock.UnitPrice)
	var idem *string
	if in.IdempotencyKey != "" {
		idem = &in.IdempotencyKey
	}

	o := Order{
		ID:              uuid.NewString(),
		BuyerID:         in.BuyerID,
		SellerID:        stock.FarmerID,
		TotalAmount:     total,
		Currency:        in.Currency,
		ShippingAddress: in.ShippingAddress,
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
		IdempotencyKey:  in.IdempotencyKey,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO orders (id, buyer_id, seller_id, total_amount, currency, shipping_address, status, payment_status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', 'pending', $7)
		RETURNING created_at, updated_at`,
		o.ID, o.BuyerID, o.SellerID, o.TotalAmount, o.Currency, o.ShippingAddress, idem,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && in.IdempotencyKey != "" {
			// a concurrent request with the same key won; hand back its order
			_ = tx.Rollback(ctx)
			existing, err := r.orderByIdempotencyKey(ctx, in.BuyerID, in.IdempotencyKey)
			if err != nil {
				return PlacedOrder{}, err
			}
			return PlacedOrder{Order: existing, Replayed: true}, nil
		}
		return PlacedOrder{}, outOfRange(err)
	}

	item := OrderItem{
		ID:                 uuid.NewString(),
		OrderID:            o.ID,
		ProductID:          in.ProductID,
		ProductName:        stock.Name,
		ProductDescription: stock.Description,
		Quantity:           in.Quantity,
		UnitPrice:          stock.UnitPrice,
		TotalPrice:         total,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO order_items (id, order_id, product_id, product_name, product_description, quantity, unit_price, total_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		item.ID, item.OrderID, item.ProductID, item.ProductName, item.ProductDescription, item.Quantity, item.UnitPrice, item.TotalPrice,
	); err != nil {
		return PlacedOrder{}, outOfRange(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return PlacedOrder{}, err
	}
	o.Items = []OrderItem{item}
	return PlacedOrder{Order: o}, nil
}

func (r *Repo) orderByIdempotencyKey(ctx context.Context, buyerID, key string) (Order, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE buyer_id = $1 AND idempotency_key = $2`, buyerID, key)
	o, err := scanOrder(row)
	if err != nil {
		return Order{}, err
	}
	o.Items, err = r.orderItems(ctx, o.ID)
	return o, err
}

func (r *Repo) GetOrder(ctx context.Context, id string) (Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return Order{}, err
	}
	o.Items, err = r.orderItems(ctx, id)
	return o, err
}

func (r *Repo) orderItems(ctx context.Context, orderID string) ([]OrderItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, product_id, product_name, product_description, quantity, unit_price, total_price
		FROM order_items WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.ProductDescription, &it.Quantity, &it.UnitPrice, &it.TotalPrice); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *Repo) AttachCheckoutSession(ctx context.Context, orderID, sessionID string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE orders SET checkout_session_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, orderID, sessionID)
	return err
}

// MarkPaid moves a pending order to paid. Only the first caller sees true.
func (r *Repo) MarkPaid(ctx context.Context, orderID, paymentRef string) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders
		SET status = 'paid', payment_status = 'paid', payment_ref = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, orderID, paymentRef)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repo) MarkPaymentFailed(ctx context.Context, orderID string) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET payment_status = 'failed', updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND payment_status = 'pending'`, orderID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// Cancel moves a pending, unpaid order to cancelled and restocks its items
// in the same transaction.
func (r *Repo) Cancel(ctx context.Context, orderID string) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE orders SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND payment_status <> 'paid'`, orderID)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() != 1 {
		return false, nil
	}
	if err := releaseStock(ctx, tx, orderID); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (r *Repo) CreateProduct(ctx context.Context, p Product) (Product, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	err := r.DB.QueryRow(ctx, `
		INSERT INTO products (id, farmer_id, name, description, category, unit_price, unit, quantity_available,
		                      organic, harvest_date, expiry_date, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`,
		p.ID, p.FarmerID, p.Name, p.Description, p.Category, p.UnitPrice, p.Unit, p.QuantityAvailable,
		p.Organic, p.HarvestDate, p.ExpiryDate, string(p.Status),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *Repo) GetProduct(ctx context.Context, id string) (Product, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Product{}, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	return scanProduct(r.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (r *Repo) ListProducts(ctx context.Context, f ProductFilter) (ProductPage, error) {
	f = f.normalized()

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.FarmerID != "" {
		where = append(where, "farmer_id = "+arg(f.FarmerID))
	} else {
		where = append(where, "status = 'available'")
	}
	if f.Query != "" {
		p := arg("%" + escapeLike(f.Query) + "%")
		where = append(where, "(name ILIKE "+p+" OR description ILIKE "+p+")")
	}
	if f.Category != "" {
		where = append(where, "category = "+arg(f.Category))
	}
	if f.Organic != nil {
		where = append(where, "organic = "+arg(*f.Organic))
	}
	cond := strings.Join(where, " AND ")

	page := ProductPage{Limit: f.Limit, Offset: f.Offset, Items: []Product{}}
	if err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM products WHERE `+cond, args...).Scan(&page.Total); err != nil {
		return ProductPage{}, err
	}

	q := `SELECT ` + productColumns + ` FROM products WHERE ` + cond +
		` ORDER BY created_at DESC, id LIMIT ` + arg(f.Limit) + ` OFFSET ` + arg(f.Offset)
	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return ProductPage{}, err
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return ProductPage{}, err
		}
		page.Items = append(page.Items, p)
	}
	return page, rows.Err()
}

// outOfRange turns integer and NUMERIC overflow into a validation error;
// an order whose total does not fit the amount column cannot be placed.
func outOfRange(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == numericValueOutOfRange {
		return fmt.Errorf("%w: order total out of range", ErrValidation)
	}
	return err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o             Order
		status, payst string
	)
	err := row.Scan(&o.ID, &o.BuyerID, &o.SellerID, &o.TotalAmount, &o.Currency, &o.ShippingAddress, &status, &payst,
		&o.CheckoutSessionID, &o.PaymentRef, &o.IdempotencyKey, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	o.Status, o.PaymentStatus = Status(status), PaymentStatus(payst)
	return o, nil
}

func scanProduct(row pgx.Row) (Product, error) {
	var (
		p      Product
		status string
	)
	err := row.Scan(&p.ID, &p.FarmerID, &p.Name, &p.Description, &p.Category, &p.UnitPrice, &p.Unit,
		&p.QuantityAvailable, &p.Organic, &p.HarvestDate, &p.ExpiryDate, &status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	if err != nil {
		return Product{}, err
	}
	p.Status = ProductStatus(status)
	return p, nil
}
