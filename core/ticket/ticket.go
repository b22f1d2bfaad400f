package ticket

import "time"

type Status string

const (
	Open   Status = "OPEN"
	Closed Status = "CLOSED"
)

// Ticket tracks a manual fulfilment: an operator delivers the purchased
// plan to the user out-of-band and closes the ticket.
type Ticket struct {
	ID          string    `json:"id" db:"ticket_id"`
	UserID      string    `json:"userId" db:"user_id"`
	OrderItemID string    `json:"orderItemId" db:"order_item_id"`
	Subject     string    `json:"subject" db:"subject"`
	Status      Status    `json:"status" db:"status"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}
