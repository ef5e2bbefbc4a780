// Package outbox queues domain events in the transaction that caused them and
// hands them to the publisher binary for delivery to Pub/Sub.
package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// SchemaVersion is stamped on every envelope. Bump it when a payload changes
// incompatibly.
const SchemaVersion = 1

// Envelope is the published message body. It is rendered once at enqueue
// time and stored verbatim.
type Envelope struct {
	SchemaVersion int                   `json:"schema_version"`
	EventID       uuid.UUID             `json:"event_id"`
	EventType     enums.OutboxEventType `json:"event_type"`
	AggregateID   uuid.UUID             `json:"aggregate_id"`
	OccurredAt    time.Time             `json:"occurred_at"`
	ActorID       string                `json:"actor_id,omitempty"`
	ActorRole     enums.Role            `json:"actor_role,omitempty"`
	Data          json.RawMessage       `json:"data"`
}

// Event is a domain event before it is written. Build one with the Event
// method of a payload type.
type Event struct {
	Type        enums.OutboxEventType
	AggregateID uuid.UUID
	ActorID     string
	ActorRole   enums.Role
	OccurredAt  time.Time
	Data        any
}

// OrderStatusChanged accompanies every committed status write.
type OrderStatusChanged struct {
	OrderID      uuid.UUID         `json:"order_id"`
	RestaurantID uuid.UUID         `json:"restaurant_id"`
	DriverID     *uuid.UUID        `json:"driver_id,omitempty"`
	OldStatus    enums.OrderStatus `json:"old_status"`
	NewStatus    enums.OrderStatus `json:"new_status"`
	ActorID      string            `json:"actor_id"`
	ActorRole    enums.Role        `json:"actor_role"`
	Notes        *string           `json:"notes,omitempty"`
	ChangedAt    time.Time         `json:"changed_at"`
}

func (p OrderStatusChanged) Event() Event {
	return Event{
		Type:        enums.EventOrderStatusChanged,
		AggregateID: p.OrderID,
		ActorID:     p.ActorID,
		ActorRole:   p.ActorRole,
		OccurredAt:  p.ChangedAt,
		Data:        p,
	}
}

// BulkOperationCompleted summarizes a finished bulk run.
type BulkOperationCompleted struct {
	BatchID      uuid.UUID         `json:"batch_id"`
	Intent       enums.BulkIntent  `json:"intent"`
	TargetStatus enums.OrderStatus `json:"target_status"`
	Total        int               `json:"total"`
	Successful   int               `json:"successful"`
	Failed       int               `json:"failed"`
	CreatedBy    string            `json:"created_by"`
	CreatorRole  enums.Role        `json:"creator_role"`
	CompletedAt  time.Time         `json:"completed_at"`
}

func (p BulkOperationCompleted) Event() Event {
	return Event{
		Type:        enums.EventBulkCompleted,
		AggregateID: p.BatchID,
		ActorID:     p.CreatedBy,
		ActorRole:   p.CreatorRole,
		OccurredAt:  p.CompletedAt,
		Data:        p,
	}
}

// row renders e into the record Enqueue inserts.
func (e Event) row(id uuid.UUID, now time.Time) (models.OutboxEvent, error) {
	aggregate := e.Type.Aggregate()
	if aggregate == "" {
		return models.OutboxEvent{}, fmt.Errorf("outbox: unknown event type %q", e.Type)
	}
	if e.AggregateID == uuid.Nil {
		return models.OutboxEvent{}, fmt.Errorf("outbox: %s needs an aggregate id", e.Type)
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("outbox: encode %s: %w", e.Type, err)
	}
	occurred := e.OccurredAt
	if occurred.IsZero() {
		occurred = now
	}
	body, err := json.Marshal(Envelope{
		SchemaVersion: SchemaVersion,
		EventID:       id,
		EventType:     e.Type,
		AggregateID:   e.AggregateID,
		OccurredAt:    occurred.UTC(),
		ActorID:       e.ActorID,
		ActorRole:     e.ActorRole,
		Data:          data,
	})
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("outbox: encode envelope: %w", err)
	}
	return models.OutboxEvent{
		ID:            id,
		EventType:     e.Type,
		AggregateType: aggregate,
		AggregateID:   e.AggregateID,
		Envelope:      body,
		CreatedAt:     now,
	}, nil
}

// Open decodes a stored envelope and checks it still describes its row.
func Open(row models.OutboxEvent) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(row.Envelope, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	switch {
	case env.EventID != row.ID:
		return Envelope{}, fmt.Errorf("envelope event id %s does not match row %s", env.EventID, row.ID)
	case env.EventType != row.EventType:
		return Envelope{}, fmt.Errorf("envelope type %s does not match row type %s", env.EventType, row.EventType)
	case env.AggregateID != row.AggregateID:
		return Envelope{}, errors.New("envelope aggregate does not match row")
	case env.SchemaVersion > SchemaVersion:
		return Envelope{}, fmt.Errorf("schema version %d is newer than %d", env.SchemaVersion, SchemaVersion)
	}
	if trimmed := bytes.TrimSpace(env.Data); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Envelope{}, fmt.Errorf("%s has no payload", row.EventType)
	}
	return env, nil
}
