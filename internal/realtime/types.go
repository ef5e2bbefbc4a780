package realtime

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Category groups channels by how they are created and torn down.
type Category string

const (
	CategoryChange    Category = "change"
	CategoryBroadcast Category = "broadcast"
	CategoryPresence  Category = "presence"
)

// ConnectionState is the lifecycle of one registered channel.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
	StateDisconnected ConnectionState = "disconnected"
)

// SubscriptionStatus is reported by a Backend about one subscription.
type SubscriptionStatus string

const (
	StatusSubscribed   SubscriptionStatus = "subscribed"
	StatusChannelError SubscriptionStatus = "channel_error"
	StatusTimedOut     SubscriptionStatus = "timed_out"
	StatusClosed       SubscriptionStatus = "closed"
)

// Topics shared by every instance of the transport.
const (
	TopicOrderChanges   = "order-changes"
	TopicDriverPresence = "drivers:presence"
)

// Event names carried on broadcast topics.
const (
	EventNotification        = "notification"
	EventBrowserNotification = "browser_notification"
	EventLocationUpdate      = "location_update"
	EventPresenceJoin        = "join"
	EventPresenceLeave       = "leave"
	EventPresenceSync        = "sync"
)

// Message is the unit carried by the pub/sub substrate.
type Message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	SentAt  time.Time       `json:"sent_at"`
}

// ChangeType mirrors the row operation behind an order change.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
)

// OrderSnapshot is the subset of an order row carried on the change stream.
type OrderSnapshot struct {
	ID           string            `json:"id"`
	RestaurantID string            `json:"restaurant_id"`
	DriverID     *string           `json:"driver_id,omitempty"`
	Status       enums.OrderStatus `json:"status"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// OrderChange is one insert or update of an order row.
type OrderChange struct {
	Type ChangeType     `json:"type"`
	New  *OrderSnapshot `json:"new"`
	Old  *OrderSnapshot `json:"old,omitempty"`
}

// Involves reports whether userID is the restaurant, the assigned driver or
// the previously assigned driver of the change.
func (c OrderChange) Involves(userID string) bool {
	if userID == "" {
		return false
	}
	if c.New != nil {
		if c.New.RestaurantID == userID {
			return true
		}
		if c.New.DriverID != nil && *c.New.DriverID == userID {
			return true
		}
	}
	if c.Old != nil && c.Old.DriverID != nil && *c.Old.DriverID == userID {
		return true
	}
	return false
}

// DriverPresence is the availability a driver advertises while connected.
type DriverPresence struct {
	DriverID  string                   `json:"driver_id"`
	Status    enums.DriverAvailability `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
}

// PresenceEvent is delivered to presence subscribers.
type PresenceEvent struct {
	Type     string                    `json:"type"`
	DriverID string                    `json:"driver_id,omitempty"`
	Presence *DriverPresence           `json:"presence,omitempty"`
	State    map[string]DriverPresence `json:"state,omitempty"`
}

// DriverLocation is an ephemeral position update for an order in flight.
type DriverLocation struct {
	DriverID  string    `json:"driver_id"`
	OrderID   string    `json:"order_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const notificationPrefix = "notifications:"

// NotificationTopic is the broadcast topic for one recipient.
func NotificationTopic(recipientID string) string {
	return notificationPrefix + recipientID
}

// IsNotificationTopic reports whether topic is a recipient's notification feed.
func IsNotificationTopic(topic string) bool {
	return strings.HasPrefix(topic, notificationPrefix)
}

// TrackingTopic is the broadcast topic for one order's driver location.
func TrackingTopic(orderID string) string {
	return "tracking:" + orderID
}

// ChangeKey is the registration key of a user's change-stream channel.
func ChangeKey(userID string) string {
	return "orders:" + userID
}

// PresenceKey is the registration key of a presence subscription.
func PresenceKey(subscriberID string) string {
	return "presence:" + subscriberID
}
