package ticket

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

func Create(ctx context.Context, db sqlx.ExtContext, tck Ticket) error {
	const q = `
	INSERT INTO tickets
		(ticket_id, user_id, order_item_id, subject, status, created_at, updated_at)
	VALUES
		(:ticket_id, :user_id, :order_item_id, :subject, :status, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, tck); err != nil {
		return fmt.Errorf("inserting ticket: %w", err)
	}

	return nil
}

func FetchByUser(ctx context.Context, db sqlx.ExtContext, userID string) ([]Ticket, error) {
	const q = `SELECT * FROM tickets WHERE user_id = $1 ORDER BY created_at DESC`

	tcks := []Ticket{}
	if err := sqlx.SelectContext(ctx, db, &tcks, q, userID); err != nil {
		return nil, fmt.Errorf("selecting tickets of user[%s]: %w", userID, err)
	}

	return tcks, nil
}
