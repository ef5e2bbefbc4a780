package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// OutboxEvent is a domain event committed with the write that caused it and
// published afterwards. Envelope holds the exact message body.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;not null"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;not null"`
	AggregateID   uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null"`
	Envelope      json.RawMessage           `gorm:"column:envelope;type:jsonb;not null"`
	Attempts      int                       `gorm:"column:attempts;not null;default:0"`
	LastError     *string                   `gorm:"column:last_error"`
	CreatedAt     time.Time                 `gorm:"column:created_at"`
	PublishedAt   *time.Time                `gorm:"column:published_at"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }

// OutboxDeadLetter is an event the publisher stopped retrying. The row leaves
// outbox_events when it lands here and goes back on replay.
type OutboxDeadLetter struct {
	EventID       uuid.UUID                 `gorm:"column:event_id;type:uuid;primaryKey"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;not null"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;not null"`
	AggregateID   uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null"`
	Envelope      json.RawMessage           `gorm:"column:envelope;type:jsonb;not null"`
	Reason        enums.DeadLetterReason    `gorm:"column:reason;not null"`
	LastError     string                    `gorm:"column:last_error;not null"`
	Attempts      int                       `gorm:"column:attempts;not null"`
	CreatedAt     time.Time                 `gorm:"column:created_at"`
	ParkedAt      time.Time                 `gorm:"column:parked_at"`
}

func (OutboxDeadLetter) TableName() string { return "outbox_dead_letters" }
