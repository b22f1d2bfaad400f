package stock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

var (
	ErrNotFound = errors.New("stock item not found")

	// ErrNoStock means no unclaimed unit was left for the plan at claim
	// time. Callers treat it as a delivery-time stock conflict.
	ErrNoStock = errors.New("no stock available")
)

func Create(ctx context.Context, db sqlx.ExtContext, it Item) error {
	const q = `
	INSERT INTO stock_items
		(stock_item_id, plan_id, content, is_used, order_item_id, created_at, updated_at)
	VALUES
		(:stock_item_id, :plan_id, :content, :is_used, :order_item_id, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, it); err != nil {
		return fmt.Errorf("inserting stock item: %w", err)
	}

	return nil
}

func CountAvailable(ctx context.Context, db sqlx.ExtContext, planID string) (int, error) {
	const q = `SELECT COUNT(*) FROM stock_items WHERE plan_id = $1 AND NOT is_used`

	var n int
	if err := sqlx.GetContext(ctx, db, &n, q, planID); err != nil {
		return 0, fmt.Errorf("counting stock of plan[%s]: %w", planID, err)
	}

	return n, nil
}

// CountAvailableBatch returns the unclaimed unit count per plan. Plans
// without any stock row are absent from the map, so lookups default to zero.
func CountAvailableBatch(ctx context.Context, db sqlx.ExtContext, planIDs []string) (map[string]int, error) {
	if len(planIDs) == 0 {
		return map[string]int{}, nil
	}

	q, args, err := sqlx.In(`
	SELECT plan_id, COUNT(*) AS available
	FROM stock_items
	WHERE plan_id IN (?) AND NOT is_used
	GROUP BY plan_id`, planIDs)
	if err != nil {
		return nil, fmt.Errorf("building stock count query: %w", err)
	}
	q = sqlx.Rebind(sqlx.DOLLAR, q)

	rows := []struct {
		PlanID    string `db:"plan_id"`
		Available int    `db:"available"`
	}{}
	if err := sqlx.SelectContext(ctx, db, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("counting stock: %w", err)
	}

	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.PlanID] = r.Available
	}
	return out, nil
}

// Claim marks one unclaimed unit of the plan as used and binds it to the
// order item. The inner select locks the row with SKIP LOCKED and the outer
// update re-checks is_used, so two transactions can never claim the same
// unit regardless of isolation level.
func Claim(ctx context.Context, db sqlx.ExtContext, planID string, orderItemID string) (string, error) {
	const q = `
	UPDATE stock_items SET
		is_used = TRUE,
		order_item_id = $1,
		updated_at = $2
	WHERE stock_item_id = (
		SELECT stock_item_id FROM stock_items
		WHERE plan_id = $3 AND NOT is_used
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	) AND NOT is_used
	RETURNING stock_item_id`

	var id string
	err := sqlx.GetContext(ctx, db, &id, q, orderItemID, time.Now().UTC(), planID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNoStock
		}
		return "", fmt.Errorf("claiming stock of plan[%s]: %w", planID, err)
	}

	return id, nil
}

func FetchByOrderItem(ctx context.Context, db sqlx.ExtContext, orderItemID string) (Item, error) {
	const q = `SELECT * FROM stock_items WHERE order_item_id = $1`

	var it Item
	if err := sqlx.GetContext(ctx, db, &it, q, orderItemID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, fmt.Errorf("selecting stock of order item[%s]: %w", orderItemID, err)
	}

	return it, nil
}

func FetchByPlan(ctx context.Context, db sqlx.ExtContext, planID string) ([]Item, error) {
	const q = `SELECT * FROM stock_items WHERE plan_id = $1 ORDER BY created_at`

	items := []Item{}
	if err := sqlx.SelectContext(ctx, db, &items, q, planID); err != nil {
		return nil, fmt.Errorf("selecting stock of plan[%s]: %w", planID, err)
	}

	return items, nil
}
