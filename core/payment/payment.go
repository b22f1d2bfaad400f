package payment

import (
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/velmora/subshop/core/order"
)

type Status string

const (
	Pending   Status = "PENDING"
	Completed Status = "COMPLETED"
	Failed    Status = "FAILED"
	Cancelled Status = "CANCELLED"
)

func (s Status) Terminal() bool {
	return s != Pending
}

// Payment is one attempt against an order. An order accumulates attempts
// over time, but at most one of them is non-terminal. The payment id, not
// the order id, is the conversation identifier handed to the provider, so a
// callback always disambiguates which attempt it answers.
type Payment struct {
	ID                string              `json:"id" db:"payment_id"`
	OrderID           string              `json:"orderId" db:"order_id"`
	Method            order.PaymentMethod `json:"method" db:"method"`
	Amount            int                 `json:"amount" db:"amount"`
	Currency          string              `json:"currency" db:"currency"`
	Status            Status              `json:"status" db:"status"`
	ProviderPaymentID *string             `json:"providerPaymentId" db:"provider_payment_id"`
	ProviderData      types.JSONText      `json:"-" db:"provider_data"`
	FailureReason     *string             `json:"failureReason" db:"failure_reason"`
	CompletedAt       *time.Time          `json:"completedAt" db:"completed_at"`
	CreatedAt         time.Time           `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time           `json:"updatedAt" db:"updated_at"`
}

// ProviderData is the provider-specific session state kept for later
// reconciliation, stored as a jsonb blob.
type ProviderData struct {
	Token      string          `json:"token,omitempty"`
	PaymentURL string          `json:"paymentUrl,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

func (p Payment) Data() ProviderData {
	var d ProviderData
	_ = json.Unmarshal(p.ProviderData, &d)
	return d
}
