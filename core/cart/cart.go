package cart

import (
	"time"
)

type Cart struct {
	UserID string `json:"-"`
	Items  []Item `json:"items"`
}

type Item struct {
	UserID    string    `json:"-" db:"user_id"`
	PlanID    string    `json:"planId" db:"plan_id"`
	Quantity  int       `json:"quantity" db:"quantity"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

type ItemNew struct {
	PlanID   string `json:"planId" validate:"required,uuid"`
	Quantity int    `json:"quantity" validate:"required,gt=0"`
}
