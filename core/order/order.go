package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/velmora/subshop/core/plan"
)

type Status string

const (
	Pending    Status = "PENDING"
	Processing Status = "PROCESSING"
	Completed  Status = "COMPLETED"
	Cancelled  Status = "CANCELLED"
	Failed     Status = "FAILED"
	Refunded   Status = "REFUNDED"
)

func (s Status) Terminal() bool {
	switch s {
	case Completed, Cancelled, Failed, Refunded:
		return true
	}
	return false
}

type PaymentMethod string

const (
	MethodPaypal PaymentMethod = "PAYPAL"

	MethodStripe PaymentMethod = "STRIPE"

	// MethodAdminBypass completes the order synchronously without a payment
	// session. Restricted to admin callers.
	MethodAdminBypass PaymentMethod = "ADMIN_BYPASS"
)

type Order struct {
	ID            string        `json:"id" db:"order_id"`
	Number        string        `json:"orderNumber" db:"order_number"`
	UserID        string        `json:"userId" db:"user_id"`
	Status        Status        `json:"status" db:"status"`
	PaymentMethod PaymentMethod `json:"paymentMethod" db:"payment_method"`
	Subtotal      int           `json:"subtotal" db:"subtotal"`
	Tax           int           `json:"tax" db:"tax"`
	Total         int           `json:"total" db:"total"`
	Currency      string        `json:"currency" db:"currency"`
	CompletedAt   *time.Time    `json:"completedAt" db:"completed_at"`
	CreatedAt     time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time     `json:"updatedAt" db:"updated_at"`
}

// Item freezes the plan's price and delivery type at order-creation time.
// It is never mutated afterwards, except to attach the fulfilled stock or
// the support ticket reference.
type Item struct {
	ID           string            `json:"id" db:"order_item_id"`
	OrderID      string            `json:"orderId" db:"order_id"`
	PlanID       string            `json:"planId" db:"plan_id"`
	Quantity     int               `json:"quantity" db:"quantity"`
	Price        int               `json:"price" db:"price"`
	Currency     string            `json:"currency" db:"currency"`
	DeliveryType plan.DeliveryType `json:"deliveryType" db:"delivery_type"`
	StockItemID  *string           `json:"stockItemId" db:"stock_item_id"`
	TicketID     *string           `json:"ticketId" db:"ticket_id"`
	CreatedAt    time.Time         `json:"createdAt" db:"created_at"`
}

type New struct {
	Items         []ItemNew `json:"items" validate:"required,min=1,dive"`
	PaymentMethod string    `json:"paymentMethod" validate:"required,oneof=PAYPAL STRIPE ADMIN_BYPASS"`
}

type ItemNew struct {
	PlanID   string `json:"planId" validate:"required,uuid"`
	Quantity int    `json:"quantity" validate:"required,gt=0"`
}

// Created is what the order creation procedure hands back to the caller.
// RedirectURL is empty for bypass orders and for session attempts that
// failed after the order was committed.
type Created struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	Status      Status `json:"status"`
	Total       int    `json:"total"`
	RedirectURL string `json:"redirectUrl"`
}

var (
	ErrNotFound = errors.New("order not found")

	// ErrBypassForbidden means a non-admin caller asked for ADMIN_BYPASS.
	ErrBypassForbidden = errors.New("payment method requires admin privileges")
)

// PlanError reports requested plan ids that did not resolve to an available
// plan. Raised before any mutation.
type PlanError struct {
	PlanIDs []string
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("plan unavailable: %s", strings.Join(e.PlanIDs, ", "))
}

// Violation is one order line that cannot be satisfied by current stock.
type Violation struct {
	PlanID      string `json:"planId"`
	ProductName string `json:"productName"`
	PlanType    string `json:"planType"`
	Requested   int    `json:"requested"`
	Available   int    `json:"available"`
}

func (v Violation) message() string {
	if v.Available == 0 {
		return fmt.Sprintf("%s (%s): out of stock", v.ProductName, v.PlanType)
	}
	return fmt.Sprintf("%s (%s): only %d available (requested %d)", v.ProductName, v.PlanType, v.Available, v.Requested)
}

// StockError aggregates every violating line so the caller sees all the
// problems at once instead of fixing them one refresh at a time.
type StockError struct {
	Violations []Violation
}

func (e *StockError) Error() string {
	lines := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		lines = append(lines, v.message())
	}
	return "insufficient stock: " + strings.Join(lines, "; ")
}

// Dispatcher is the delivery collaborator invoked once an order item is part
// of a COMPLETED order. Failures are logged by the caller, never propagated:
// payment state is authoritative and delivery retries happen out-of-band.
type Dispatcher interface {
	Deliver(ctx context.Context, ord Order, it Item) error
}

// SessionFunc opens a payment session for a freshly committed order and
// returns the provider redirect URL. Wired from the payment package so the
// engine never sees provider shapes.
type SessionFunc func(ctx context.Context, ord Order) (string, error)

// PaymentCanceller marks the order's pending payments cancelled with a
// reason, inside the caller's transaction. Wired from the payment package.
type PaymentCanceller func(ctx context.Context, db sqlx.ExtContext, orderID string, reason string) error

// Validation is the read-only pre-payment stock re-check result.
type Validation struct {
	OrderID               string           `json:"orderId"`
	OrderNumber           string           `json:"orderNumber"`
	Valid                 bool             `json:"valid"`
	Items                 []ItemValidation `json:"items"`
	CanProceedWithPayment bool             `json:"canProceedWithPayment"`
}

type ItemValidation struct {
	OrderItemID       string `json:"orderItemId"`
	PlanID            string `json:"planId"`
	ProductName       string `json:"productName"`
	PlanType          string `json:"planType"`
	RequestedQuantity int    `json:"requestedQuantity"`
	AvailableStock    int    `json:"availableStock"`
	Valid             bool   `json:"valid"`
	Error             string `json:"error,omitempty"`
}
