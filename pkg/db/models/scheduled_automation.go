package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// ScheduledAutomation is a durable, delayed follow-up for an order.
type ScheduledAutomation struct {
	ID             uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID              `gorm:"column:order_id;type:uuid;not null"`
	Kind           enums.AutomationKind   `gorm:"column:kind;type:automation_kind;not null"`
	ExpectedStatus enums.OrderStatus      `gorm:"column:expected_status;type:order_status;not null"`
	WakeAt         time.Time              `gorm:"column:wake_at;not null"`
	Status         enums.AutomationStatus `gorm:"column:status;type:automation_status;not null;default:'pending'"`
	Attempts       int                    `gorm:"column:attempts;not null;default:0"`
	LastError      *string                `gorm:"column:last_error"`
	CreatedAt      time.Time              `gorm:"column:created_at"`
	ProcessedAt    *time.Time             `gorm:"column:processed_at"`
}

func (ScheduledAutomation) TableName() string { return "scheduled_automations" }
