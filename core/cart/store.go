package cart

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

func FetchItems(ctx context.Context, db sqlx.ExtContext, userID string) ([]Item, error) {
	const q = `SELECT * FROM cart_items WHERE user_id = $1 ORDER BY created_at`

	items := []Item{}
	if err := sqlx.SelectContext(ctx, db, &items, q, userID); err != nil {
		return nil, fmt.Errorf("selecting cart items of user[%s]: %w", userID, err)
	}

	return items, nil
}

func Upsert(ctx context.Context, db sqlx.ExtContext, it Item) error {
	const q = `
	INSERT INTO cart_items
		(user_id, plan_id, quantity, created_at, updated_at)
	VALUES
		(:user_id, :plan_id, :quantity, :created_at, :updated_at)
	ON CONFLICT (user_id, plan_id) DO UPDATE SET
		quantity = :quantity,
		updated_at = :updated_at`

	if _, err := sqlx.NamedExecContext(ctx, db, q, it); err != nil {
		return fmt.Errorf("upserting cart item: %w", err)
	}

	return nil
}

func Delete(ctx context.Context, db sqlx.ExtContext, userID string) error {
	const q = `DELETE FROM cart_items WHERE user_id = $1`

	if _, err := db.ExecContext(ctx, q, userID); err != nil {
		return fmt.Errorf("flushing cart of user[%s]: %w", userID, err)
	}

	return nil
}

func DeleteItem(ctx context.Context, db sqlx.ExtContext, userID string, planID string) error {
	const q = `DELETE FROM cart_items WHERE user_id = $1 AND plan_id = $2`

	if _, err := db.ExecContext(ctx, q, userID, planID); err != nil {
		return fmt.Errorf("deleting cart item: %w", err)
	}

	return nil
}

// PurgePlans removes the given plans from a user's cart. Cancellation paths
// use it so the UI stops offering items that just lost their stock.
func PurgePlans(ctx context.Context, db sqlx.ExtContext, userID string, planIDs []string) error {
	if len(planIDs) == 0 {
		return nil
	}

	q, args, err := sqlx.In(`DELETE FROM cart_items WHERE user_id = ? AND plan_id IN (?)`, userID, planIDs)
	if err != nil {
		return fmt.Errorf("building cart purge query: %w", err)
	}
	q = sqlx.Rebind(sqlx.DOLLAR, q)

	if _, err := db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("purging cart plans of user[%s]: %w", userID, err)
	}

	return nil
}
