package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Order is a distribution order placed by a restaurant.
type Order struct {
	ID           uuid.UUID         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	RestaurantID uuid.UUID         `gorm:"column:restaurant_id;type:uuid;not null" json:"restaurant_id"`
	DriverID     *uuid.UUID        `gorm:"column:driver_id;type:uuid" json:"driver_id"`
	Status       enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'pending'" json:"status"`
	TotalAmount  *decimal.Decimal  `gorm:"column:total_amount;type:numeric(12,2)" json:"total_amount"`
	Notes        *string           `gorm:"column:notes" json:"notes"`
	CreatedAt    time.Time         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"column:updated_at" json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

// HasDriver reports whether a driver is attached to the order.
func (o Order) HasDriver() bool {
	return o.DriverID != nil && *o.DriverID != uuid.Nil
}
