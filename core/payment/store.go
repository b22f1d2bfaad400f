package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/velmora/subshop/core/order"
)

var ErrNotFound = errors.New("payment not found")

func Create(ctx context.Context, db sqlx.ExtContext, pay Payment) error {
	if len(pay.ProviderData) == 0 {
		pay.ProviderData = []byte(`{}`)
	}

	const q = `
	INSERT INTO payments
		(payment_id, order_id, method, amount, currency, status, provider_payment_id, provider_data, failure_reason, completed_at, created_at, updated_at)
	VALUES
		(:payment_id, :order_id, :method, :amount, :currency, :status, :provider_payment_id, :provider_data, :failure_reason, :completed_at, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, pay); err != nil {
		return fmt.Errorf("inserting payment: %w", err)
	}

	return nil
}

func Fetch(ctx context.Context, db sqlx.ExtContext, id string) (Payment, error) {
	const q = `SELECT * FROM payments WHERE payment_id = $1`

	var pay Payment
	if err := sqlx.GetContext(ctx, db, &pay, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, fmt.Errorf("selecting payment[%s]: %w", id, err)
	}

	return pay, nil
}

func FetchByOrder(ctx context.Context, db sqlx.ExtContext, orderID string) ([]Payment, error) {
	const q = `SELECT * FROM payments WHERE order_id = $1 ORDER BY created_at DESC`

	pays := []Payment{}
	if err := sqlx.SelectContext(ctx, db, &pays, q, orderID); err != nil {
		return nil, fmt.Errorf("selecting payments of order[%s]: %w", orderID, err)
	}

	return pays, nil
}

// SetSession records the provider's session handle on the payment row once
// the session was opened.
func SetSession(ctx context.Context, db sqlx.ExtContext, paymentID string, providerPaymentID string, data ProviderData) error {
	blob, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding provider data: %w", err)
	}

	const q = `
	UPDATE payments SET
		provider_payment_id = $1,
		provider_data = $2,
		updated_at = $3
	WHERE payment_id = $4`

	if _, err := db.ExecContext(ctx, q, providerPaymentID, blob, time.Now().UTC(), paymentID); err != nil {
		return fmt.Errorf("recording session on payment[%s]: %w", paymentID, err)
	}

	return nil
}

// MarkFailed records a failed session attempt. A session that never opened
// must still be visible in history.
func MarkFailed(ctx context.Context, db sqlx.ExtContext, paymentID string, reason string) error {
	const q = `
	UPDATE payments SET
		status = 'FAILED',
		failure_reason = $1,
		updated_at = $2
	WHERE payment_id = $3 AND status = 'PENDING'`

	if _, err := db.ExecContext(ctx, q, reason, time.Now().UTC(), paymentID); err != nil {
		return fmt.Errorf("marking payment[%s] failed: %w", paymentID, err)
	}

	return nil
}

// MarkTerminal conditionally moves a PENDING payment to a terminal state.
// Zero affected rows means another callback got there first; callers must
// then skip all side effects.
func MarkTerminal(ctx context.Context, db sqlx.ExtContext, paymentID string, to Status, providerPaymentID string, raw json.RawMessage, reason string, completedAt *time.Time) (bool, error) {
	blob, err := json.Marshal(struct {
		Raw json.RawMessage `json:"raw,omitempty"`
	}{raw})
	if err != nil {
		return false, fmt.Errorf("encoding provider payload: %w", err)
	}

	const q = `
	UPDATE payments SET
		status = $1,
		provider_payment_id = COALESCE(NULLIF($2, ''), provider_payment_id),
		provider_data = provider_data || $3,
		failure_reason = NULLIF($4, ''),
		completed_at = $5,
		updated_at = $6
	WHERE payment_id = $7 AND status = 'PENDING'`

	res, err := db.ExecContext(ctx, q, to, providerPaymentID, blob, reason, completedAt, time.Now().UTC(), paymentID)
	if err != nil {
		return false, fmt.Errorf("finalizing payment[%s]: %w", paymentID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading affected rows: %w", err)
	}

	return n > 0, nil
}

// CancelPending cancels the order's PENDING payments with a reason. Matches
// the order engine's PaymentCanceller contract so cancellation paths run it
// inside their transaction.
func CancelPending(ctx context.Context, db sqlx.ExtContext, orderID string, reason string) error {
	const q = `
	UPDATE payments SET
		status = 'CANCELLED',
		failure_reason = $1,
		updated_at = $2
	WHERE order_id = $3 AND status = 'PENDING'`

	if _, err := db.ExecContext(ctx, q, reason, time.Now().UTC(), orderID); err != nil {
		return fmt.Errorf("cancelling payments of order[%s]: %w", orderID, err)
	}

	return nil
}

// FetchByToken resolves the payment a callback answers. Providers do not
// echo one consistent identifier across integration paths, so three
// strategies run in order: our payment id used as the conversation id, the
// provider's own payment id, and the session token recorded at
// session-creation time. All are filtered to the expected method.
func FetchByToken(ctx context.Context, db sqlx.ExtContext, method order.PaymentMethod, token string) (Payment, error) {
	if _, err := uuid.Parse(token); err == nil {
		const q = `SELECT * FROM payments WHERE payment_id = $1 AND method = $2`

		var pay Payment
		err := sqlx.GetContext(ctx, db, &pay, q, token, method)
		if err == nil {
			return pay, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return Payment{}, fmt.Errorf("selecting payment by id: %w", err)
		}
	}

	const byProvider = `
	SELECT * FROM payments
	WHERE provider_payment_id = $1 AND method = $2
	ORDER BY created_at DESC LIMIT 1`

	var pay Payment
	err := sqlx.GetContext(ctx, db, &pay, byProvider, token, method)
	if err == nil {
		return pay, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Payment{}, fmt.Errorf("selecting payment by provider id: %w", err)
	}

	const byToken = `
	SELECT * FROM payments
	WHERE provider_data->>'token' = $1 AND method = $2
	ORDER BY created_at DESC LIMIT 1`

	err = sqlx.GetContext(ctx, db, &pay, byToken, token, method)
	if err == nil {
		return pay, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return Payment{}, ErrNotFound
	}
	return Payment{}, fmt.Errorf("selecting payment by session token: %w", err)
}
