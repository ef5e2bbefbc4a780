package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/types"
)

// OrderStatusHistory is an append-only record of one status change.
type OrderStatusHistory struct {
	ID        uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   uuid.UUID          `gorm:"column:order_id;type:uuid;not null"`
	OldStatus *enums.OrderStatus `gorm:"column:old_status;type:order_status"`
	NewStatus enums.OrderStatus  `gorm:"column:new_status;type:order_status;not null"`
	ActorID   string             `gorm:"column:actor_id;not null"`
	ActorRole enums.Role         `gorm:"column:actor_role;type:actor_role;not null"`
	Notes     *string            `gorm:"column:notes"`
	Metadata  types.JSONMap      `gorm:"column:metadata;type:jsonb;serializer:json"`
	CreatedAt time.Time          `gorm:"column:created_at"`
}

func (OrderStatusHistory) TableName() string { return "order_status_history" }
