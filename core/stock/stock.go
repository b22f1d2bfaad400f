package stock

import "time"

// Item is one redeemable unit of inventory, e.g. a single account
// credential. It is claimed at most once: is_used flips false to true
// exactly one time, inside the transaction that completes the claiming
// order.
type Item struct {
	ID          string     `json:"id" db:"stock_item_id"`
	PlanID      string     `json:"planId" db:"plan_id"`
	Content     string     `json:"content" db:"content"`
	IsUsed      bool       `json:"isUsed" db:"is_used"`
	OrderItemID *string    `json:"orderItemId" db:"order_item_id"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time  `json:"updatedAt" db:"updated_at"`
}

type ItemNew struct {
	PlanID  string `json:"planId" validate:"required,uuid"`
	Content string `json:"content" validate:"required"`
}
