package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/types"
)

// AuditLog captures a before/after snapshot for an action on an order.
type AuditLog struct {
	ID        uuid.UUID     `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   *uuid.UUID    `gorm:"column:order_id;type:uuid"`
	Action    string        `gorm:"column:action;not null"`
	ActorID   string        `gorm:"column:actor_id;not null"`
	ActorRole enums.Role    `gorm:"column:actor_role;type:actor_role;not null"`
	OldValues types.JSONMap `gorm:"column:old_values;type:jsonb;serializer:json"`
	NewValues types.JSONMap `gorm:"column:new_values;type:jsonb;serializer:json"`
	CreatedAt time.Time     `gorm:"column:created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }
