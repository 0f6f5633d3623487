package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type reservedStock struct {
	FarmerID    string
	Name        string
	Description string
	UnitPrice   decimal.Decimal
	Remaining   int
}

// reserveStock decrements quantity_available only when enough is left.
// The check and the decrement are one statement, so concurrent buyers are
// serialized on the row lock and can never drive the counter negative.
// The returned price is the one the buyer pays.
func reserveStock(ctx context.Context, tx pgx.Tx, productID string, qty int) (reservedStock, error) {
	var r reservedStock
	err := tx.QueryRow(ctx, `
		UPDATE products
		SET quantity_available = quantity_available - $2,
		    status = CASE WHEN quantity_available - $2 <= 0 THEN 'sold_out' ELSE status END,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'available' AND quantity_available >= $2
		RETURNING farmer_id, name, description, unit_price, quantity_available`,
		productID, qty,
	).Scan(&r.FarmerID, &r.Name, &r.Description, &r.UnitPrice, &r.Remaining)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return r, err
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return r, err
	}
	if !exists {
		return r, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	return r, fmt.Errorf("product %s: %w", productID, ErrInsufficientStock)
}

// releaseStock puts an order's quantities back. A sold-out listing becomes
// available again; listings in moderation keep their status.
func releaseStock(ctx context.Context, tx pgx.Tx, orderID string) error {
	rows, err := tx.Query(ctx, `SELECT product_id, quantity FROM order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return err
	}
	type rec struct {
		pid string
		qty int
	}
	var recs []rec
	for rows.Next() {
		var x rec
		if err := rows.Scan(&x.pid, &x.qty); err != nil {
			rows.Close()
			return err
		}
		recs = append(recs, x)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, x := range recs {
		if _, err := tx.Exec(ctx, `
			UPDATE products
			SET quantity_available = quantity_available + $2,
			    status = CASE WHEN status = 'sold_out' THEN 'available' ELSE status END,
			    updated_at = NOW()
			WHERE id = $1`, x.pid, x.qty); err != nil {
			return err
		}
	}
	return nil
}
