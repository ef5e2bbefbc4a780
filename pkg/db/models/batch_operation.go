package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// BatchItemError records why one order in a bulk run failed.
type BatchItemError struct {
	OrderID string `json:"order_id"`
	Error   string `json:"error"`
}

// BatchOperation tracks one bulk run from start to finish.
type BatchOperation struct {
	ID             uuid.UUID         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Type           enums.BulkIntent  `gorm:"column:type;not null" json:"type"`
	Status         enums.BatchStatus `gorm:"column:status;type:batch_status;not null;default:'pending'" json:"status"`
	TargetStatus   enums.OrderStatus `gorm:"column:target_status;type:order_status;not null" json:"target_status"`
	TotalItems     int               `gorm:"column:total_items;not null" json:"total_items"`
	ProcessedItems int               `gorm:"column:processed_items;not null;default:0" json:"processed_items"`
	SuccessCount   int               `gorm:"column:success_count;not null;default:0" json:"success_count"`
	ErrorCount     int               `gorm:"column:error_count;not null;default:0" json:"error_count"`
	Errors         []BatchItemError  `gorm:"column:errors;type:jsonb;serializer:json" json:"errors"`
	CreatedBy      string            `gorm:"column:created_by;not null" json:"created_by"`
	CreatedAt      time.Time         `gorm:"column:created_at" json:"created_at"`
	CompletedAt    *time.Time        `gorm:"column:completed_at" json:"completed_at"`
}

func (BatchOperation) TableName() string { return "batch_operations" }
