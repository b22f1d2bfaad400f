package plan

import "time"

type DeliveryType string

const (
	// DeliveryAutomatic plans are fulfilled from the stock ledger, one
	// stock unit per purchased quantity.
	DeliveryAutomatic DeliveryType = "AUTOMATIC"

	// DeliveryManual plans are fulfilled by an operator through a support
	// ticket and have no stock constraint.
	DeliveryManual DeliveryType = "MANUAL"
)

type Plan struct {
	ID           string       `json:"id" db:"plan_id"`
	ProductID    string       `json:"productId" db:"product_id"`
	PlanType     string       `json:"planType" db:"plan_type"`
	Price        int          `json:"price" db:"price"`
	Currency     string       `json:"currency" db:"currency"`
	DurationDays int          `json:"durationDays" db:"duration_days"`
	DeliveryType DeliveryType `json:"deliveryType" db:"delivery_type"`
	IsAvailable  bool         `json:"isAvailable" db:"is_available"`
	CreatedAt    time.Time    `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time    `json:"updatedAt" db:"updated_at"`
}

type PlanNew struct {
	ProductID    string `json:"productId" validate:"required,uuid"`
	PlanType     string `json:"planType" validate:"required"`
	Price        int    `json:"price" validate:"gte=0"`
	Currency     string `json:"currency" validate:"required,len=3"`
	DurationDays int    `json:"durationDays" validate:"required,gt=0"`
	DeliveryType string `json:"deliveryType" validate:"required,oneof=AUTOMATIC MANUAL"`
}

type PlanUp struct {
	PlanType     *string `json:"planType"`
	Price        *int    `json:"price" validate:"omitempty,gte=0"`
	DurationDays *int    `json:"durationDays" validate:"omitempty,gt=0"`
	IsAvailable  *bool   `json:"isAvailable"`
}
