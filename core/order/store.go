package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

func Create(ctx context.Context, db sqlx.ExtContext, ord Order) error {
	const q = `
	INSERT INTO orders
		(order_id, order_number, user_id, status, payment_method, subtotal, tax, total, currency, completed_at, created_at, updated_at)
	VALUES
		(:order_id, :order_number, :user_id, :status, :payment_method, :subtotal, :tax, :total, :currency, :completed_at, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, ord); err != nil {
		return fmt.Errorf("inserting order: %w", err)
	}

	return nil
}

func CreateItem(ctx context.Context, db sqlx.ExtContext, it Item) error {
	const q = `
	INSERT INTO order_items
		(order_item_id, order_id, plan_id, quantity, price, currency, delivery_type, stock_item_id, ticket_id, created_at)
	VALUES
		(:order_item_id, :order_id, :plan_id, :quantity, :price, :currency, :delivery_type, :stock_item_id, :ticket_id, :created_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, it); err != nil {
		return fmt.Errorf("inserting order item: %w", err)
	}

	return nil
}

func Fetch(ctx context.Context, db sqlx.ExtContext, id string) (Order, error) {
	const q = `SELECT * FROM orders WHERE order_id = $1`

	var ord Order
	if err := sqlx.GetContext(ctx, db, &ord, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("selecting order[%s]: %w", id, err)
	}

	return ord, nil
}

func FetchByUser(ctx context.Context, db sqlx.ExtContext, userID string) ([]Order, error) {
	const q = `SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	ords := []Order{}
	if err := sqlx.SelectContext(ctx, db, &ords, q, userID); err != nil {
		return nil, fmt.Errorf("selecting orders of user[%s]: %w", userID, err)
	}

	return ords, nil
}

func FetchItems(ctx context.Context, db sqlx.ExtContext, orderID string) ([]Item, error) {
	const q = `SELECT * FROM order_items WHERE order_id = $1 ORDER BY created_at`

	items := []Item{}
	if err := sqlx.SelectContext(ctx, db, &items, q, orderID); err != nil {
		return nil, fmt.Errorf("selecting items of order[%s]: %w", orderID, err)
	}

	return items, nil
}

// Transition moves a non-terminal order to the given status. It reports
// whether a row actually changed: zero rows means the order was already in
// a terminal state (or missing), which is how callers stay idempotent.
func Transition(ctx context.Context, db sqlx.ExtContext, orderID string, to Status, completedAt *time.Time) (bool, error) {
	const q = `
	UPDATE orders SET
		status = $1,
		completed_at = $2,
		updated_at = $3
	WHERE order_id = $4 AND status IN ('PENDING', 'PROCESSING')`

	res, err := db.ExecContext(ctx, q, to, completedAt, time.Now().UTC(), orderID)
	if err != nil {
		return false, fmt.Errorf("transitioning order[%s] to %s: %w", orderID, to, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading affected rows: %w", err)
	}

	return n > 0, nil
}

// FetchPendingByPlans returns PENDING orders holding items for any of the
// given plans, excluding one order id (the order whose completion triggered
// the sweep).
func FetchPendingByPlans(ctx context.Context, db sqlx.ExtContext, planIDs []string, excludeOrderID string) ([]Order, error) {
	if len(planIDs) == 0 {
		return nil, nil
	}

	q, args, err := sqlx.In(`
	SELECT DISTINCT o.* FROM orders o
	JOIN order_items i ON i.order_id = o.order_id
	WHERE o.status = 'PENDING' AND i.plan_id IN (?) AND o.order_id <> ?
	ORDER BY o.created_at`, planIDs, excludeOrderID)
	if err != nil {
		return nil, fmt.Errorf("building pending orders query: %w", err)
	}
	q = sqlx.Rebind(sqlx.DOLLAR, q)

	ords := []Order{}
	if err := sqlx.SelectContext(ctx, db, &ords, q, args...); err != nil {
		return nil, fmt.Errorf("selecting pending orders: %w", err)
	}

	return ords, nil
}

func SetItemStock(ctx context.Context, db sqlx.ExtContext, itemID string, stockItemID string) error {
	const q = `UPDATE order_items SET stock_item_id = $1 WHERE order_item_id = $2`

	if _, err := db.ExecContext(ctx, q, stockItemID, itemID); err != nil {
		return fmt.Errorf("attaching stock to order item[%s]: %w", itemID, err)
	}

	return nil
}

func SetItemTicket(ctx context.Context, db sqlx.ExtContext, itemID string, ticketID string) error {
	const q = `UPDATE order_items SET ticket_id = $1 WHERE order_item_id = $2`

	if _, err := db.ExecContext(ctx, q, ticketID, itemID); err != nil {
		return fmt.Errorf("attaching ticket to order item[%s]: %w", itemID, err)
	}

	return nil
}
