package payment

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/velmora/subshop/core/order"
)

// ErrNotConfigured means the provider is missing credentials. It fails
// closed and surfaces as a distinct configuration-error class.
var ErrNotConfigured = errors.New("payment provider is not configured")

type SessionRequest struct {
	// PaymentID is the conversation identifier the provider must echo
	// back, directly or via its own session token.
	PaymentID   string
	OrderID     string
	OrderNumber string
	Amount      int
	Currency    string
	Email       string
}

type SessionResult struct {
	Success           bool
	ProviderPaymentID string
	PaymentURL        string
	Token             string
	Err               string
}

// Outcome is a provider result normalized to the internal vocabulary.
// Anything the provider reports that is not an explicit success maps to
// Failed.
type Outcome struct {
	Status            Status
	ProviderPaymentID string
	Raw               json.RawMessage
	Reason            string
}

// Provider is the capability boundary per payment provider. The reconciler
// depends on this interface only; provider payload shapes never cross it.
type Provider interface {
	Method() order.PaymentMethod

	// CreateSession opens a provider-hosted payment session. A non-nil
	// error is a configuration or transport problem; a declined session
	// comes back as a result with Success=false.
	CreateSession(ctx context.Context, req SessionRequest) (SessionResult, error)

	// Confirm resolves the token carried by a callback into a final
	// outcome, typically by capturing or re-fetching the session.
	Confirm(ctx context.Context, token string) (Outcome, error)
}
