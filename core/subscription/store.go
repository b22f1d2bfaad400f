package subscription

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

func Create(ctx context.Context, db sqlx.ExtContext, sub Subscription) error {
	const q = `
	INSERT INTO subscriptions
		(subscription_id, user_id, order_item_id, plan_id, start_at, end_at, renewal_at, created_at)
	VALUES
		(:subscription_id, :user_id, :order_item_id, :plan_id, :start_at, :end_at, :renewal_at, :created_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, sub); err != nil {
		return fmt.Errorf("inserting subscription: %w", err)
	}

	return nil
}

func FetchByUser(ctx context.Context, db sqlx.ExtContext, userID string) ([]Subscription, error) {
	const q = `SELECT * FROM subscriptions WHERE user_id = $1 ORDER BY created_at DESC`

	subs := []Subscription{}
	if err := sqlx.SelectContext(ctx, db, &subs, q, userID); err != nil {
		return nil, fmt.Errorf("selecting subscriptions of user[%s]: %w", userID, err)
	}

	return subs, nil
}

func CountByOrderItem(ctx context.Context, db sqlx.ExtContext, orderItemID string) (int, error) {
	const q = `SELECT COUNT(*) FROM subscriptions WHERE order_item_id = $1`

	var n int
	if err := sqlx.GetContext(ctx, db, &n, q, orderItemID); err != nil {
		return 0, fmt.Errorf("counting subscriptions of order item[%s]: %w", orderItemID, err)
	}

	return n, nil
}
