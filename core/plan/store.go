package plan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("plan not found")

func Create(ctx context.Context, db sqlx.ExtContext, pln Plan) error {
	const q = `
	INSERT INTO plans
		(plan_id, product_id, plan_type, price, currency, duration_days, delivery_type, is_available, created_at, updated_at)
	VALUES
		(:plan_id, :product_id, :plan_type, :price, :currency, :duration_days, :delivery_type, :is_available, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, pln); err != nil {
		return fmt.Errorf("inserting plan: %w", err)
	}

	return nil
}

func Update(ctx context.Context, db sqlx.ExtContext, pln Plan) error {
	const q = `
	UPDATE plans SET
		plan_type = :plan_type,
		price = :price,
		duration_days = :duration_days,
		is_available = :is_available,
		updated_at = :updated_at
	WHERE plan_id = :plan_id`

	if _, err := sqlx.NamedExecContext(ctx, db, q, pln); err != nil {
		return fmt.Errorf("updating plan[%s]: %w", pln.ID, err)
	}

	return nil
}

func Fetch(ctx context.Context, db sqlx.ExtContext, id string) (Plan, error) {
	const q = `SELECT * FROM plans WHERE plan_id = $1`

	var pln Plan
	if err := sqlx.GetContext(ctx, db, &pln, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Plan{}, ErrNotFound
		}
		return Plan{}, fmt.Errorf("selecting plan[%s]: %w", id, err)
	}

	return pln, nil
}

// FetchAvailableByIDs resolves the requested plan ids in one query. Plans
// that are missing or flagged unavailable are simply absent from the result,
// which is how the order engine detects them.
func FetchAvailableByIDs(ctx context.Context, db sqlx.ExtContext, ids []string) (map[string]Plan, error) {
	if len(ids) == 0 {
		return map[string]Plan{}, nil
	}

	q, args, err := sqlx.In(`SELECT * FROM plans WHERE plan_id IN (?) AND is_available`, ids)
	if err != nil {
		return nil, fmt.Errorf("building plans query: %w", err)
	}
	q = sqlx.Rebind(sqlx.DOLLAR, q)

	plns := []Plan{}
	if err := sqlx.SelectContext(ctx, db, &plns, q, args...); err != nil {
		return nil, fmt.Errorf("selecting plans: %w", err)
	}

	out := make(map[string]Plan, len(plns))
	for _, p := range plns {
		out[p.ID] = p
	}
	return out, nil
}

// FetchByIDs resolves plans regardless of availability. Completion paths
// use it: a plan pulled from sale must still fulfil orders already paid.
func FetchByIDs(ctx context.Context, db sqlx.ExtContext, ids []string) (map[string]Plan, error) {
	if len(ids) == 0 {
		return map[string]Plan{}, nil
	}

	q, args, err := sqlx.In(`SELECT * FROM plans WHERE plan_id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("building plans query: %w", err)
	}
	q = sqlx.Rebind(sqlx.DOLLAR, q)

	plns := []Plan{}
	if err := sqlx.SelectContext(ctx, db, &plns, q, args...); err != nil {
		return nil, fmt.Errorf("selecting plans: %w", err)
	}

	out := make(map[string]Plan, len(plns))
	for _, p := range plns {
		out[p.ID] = p
	}
	return out, nil
}

func FetchByProduct(ctx context.Context, db sqlx.ExtContext, productID string) ([]Plan, error) {
	const q = `SELECT * FROM plans WHERE product_id = $1 ORDER BY price`

	plns := []Plan{}
	if err := sqlx.SelectContext(ctx, db, &plns, q, productID); err != nil {
		return nil, fmt.Errorf("selecting plans of product[%s]: %w", productID, err)
	}

	return plns, nil
}
