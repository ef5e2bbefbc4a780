package enums

// OutboxEventType names a domain event written through the outbox.
type OutboxEventType string

const (
	EventOrderStatusChanged OutboxEventType = "order_status_changed"
	EventBulkCompleted      OutboxEventType = "bulk_operation_completed"
)

// OutboxAggregateType names the entity an outbox event is keyed by.
type OutboxAggregateType string

const (
	AggregateOrder OutboxAggregateType = "order"
	AggregateBatch OutboxAggregateType = "batch_operation"
)

// Aggregate returns "" for unknown event types.
func (e OutboxEventType) Aggregate() OutboxAggregateType {
	switch e {
	case EventOrderStatusChanged:
		return AggregateOrder
	case EventBulkCompleted:
		return AggregateBatch
	default:
		return ""
	}
}

func (e OutboxEventType) IsValid() bool { return e.Aggregate() != "" }

// DeadLetterReason records why the publisher gave up on an event.
type DeadLetterReason string

const (
	// DeadLetterUnroutable events have no topic or a payload that does not decode.
	DeadLetterUnroutable DeadLetterReason = "unroutable"
	// DeadLetterRejected events failed with an error Pub/Sub will keep returning.
	DeadLetterRejected DeadLetterReason = "rejected"
	DeadLetterExhausted DeadLetterReason = "exhausted"
)
