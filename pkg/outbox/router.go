package outbox

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

// Route sends one event type to a topic.
type Route struct {
	EventType enums.OutboxEventType
	Topic     string
	check     func(json.RawMessage) error
}

// RouteOf builds a route whose payloads must decode into T.
func RouteOf[T any](eventType enums.OutboxEventType, topic string) Route {
	return Route{
		EventType: eventType,
		Topic:     topic,
		check: func(data json.RawMessage) error {
			var payload T
			return json.Unmarshal(data, &payload)
		},
	}
}

// DomainRoutes sends every domain event to topic.
func DomainRoutes(topic string) []Route {
	return []Route{
		RouteOf[OrderStatusChanged](enums.EventOrderStatusChanged, topic),
		RouteOf[BulkOperationCompleted](enums.EventBulkCompleted, topic),
	}
}

// Message is an event ready to publish.
type Message struct {
	Topic       string
	EventID     string
	Body        []byte
	OrderingKey string
	Attributes  map[string]string
}

// Router resolves stored events to messages.
type Router struct {
	routes map[enums.OutboxEventType]Route
}

func NewRouter(routes ...Route) (*Router, error) {
	r := &Router{routes: make(map[enums.OutboxEventType]Route, len(routes))}
	for _, route := range routes {
		if !route.EventType.IsValid() {
			return nil, fmt.Errorf("route for unknown event type %q", route.EventType)
		}
		if strings.TrimSpace(route.Topic) == "" {
			return nil, fmt.Errorf("route for %s has no topic", route.EventType)
		}
		if _, dup := r.routes[route.EventType]; dup {
			return nil, fmt.Errorf("%s routed twice", route.EventType)
		}
		r.routes[route.EventType] = route
	}
	return r, nil
}

// Resolve fails with CodeValidation, which is never retried: a row that does
// not resolve now never will.
func (r *Router) Resolve(row models.OutboxEvent) (Message, error) {
	route, ok := r.routes[row.EventType]
	if !ok {
		return Message{}, pkgerrors.Newf(pkgerrors.CodeValidation, "no route for %s", row.EventType)
	}
	env, err := Open(row)
	if err != nil {
		return Message{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "")
	}
	if route.check != nil {
		if err := route.check(env.Data); err != nil {
			return Message{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("decode %s payload", row.EventType))
		}
	}
	return Message{
		Topic:       route.Topic,
		EventID:     env.EventID.String(),
		Body:        row.Envelope,
		OrderingKey: row.AggregateID.String(),
		Attributes: map[string]string{
			"event_id":       env.EventID.String(),
			"event_type":     string(row.EventType),
			"aggregate_type": string(row.AggregateType),
			"aggregate_id":   row.AggregateID.String(),
			"schema_version": strconv.Itoa(env.SchemaVersion),
			"occurred_at":    env.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
	}, nil
}
