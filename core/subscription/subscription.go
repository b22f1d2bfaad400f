package subscription

import "time"

// Subscription is the entitlement granted by a completed order item. It is
// created by the completion path only, never at order creation.
type Subscription struct {
	ID          string    `json:"id" db:"subscription_id"`
	UserID      string    `json:"userId" db:"user_id"`
	OrderItemID string    `json:"orderItemId" db:"order_item_id"`
	PlanID      string    `json:"planId" db:"plan_id"`
	StartAt     time.Time `json:"startAt" db:"start_at"`
	EndAt       time.Time `json:"endAt" db:"end_at"`
	RenewalAt   time.Time `json:"renewalAt" db:"renewal_at"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}
