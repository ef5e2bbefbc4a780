package notifications

import (
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// AdminRecipient is the shared recipient id of every admin.
const AdminRecipient = "admin"

// Notification is the wire shape sent to one recipient. It is not persisted.
type Notification struct {
	OrderID       string                     `json:"order_id,omitempty"`
	Type          enums.NotificationType     `json:"type"`
	Message       string                     `json:"message"`
	RecipientID   string                     `json:"recipient_id"`
	RecipientRole enums.Role                 `json:"recipient_role"`
	Priority      enums.NotificationPriority `json:"priority"`
	Data          map[string]any             `json:"data,omitempty"`
	CreatedAt     time.Time                  `json:"created_at"`
}

// BulkSummary describes a finished bulk operation for the admin summary.
type BulkSummary struct {
	BatchID    string
	Intent     enums.BulkIntent
	Target     enums.OrderStatus
	Total      int
	Successful int
	Failed     int
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func statusLabel(status enums.OrderStatus) string {
	return strings.ReplaceAll(string(status), "_", " ")
}

func nameOr(name *string, fallback string) string {
	if name == nil || strings.TrimSpace(*name) == "" {
		return fallback
	}
	return *name
}

// messageFor renders the role-specific text for a transition.
func messageFor(role enums.Role, order orders.OrderView, oldStatus, newStatus enums.OrderStatus) string {
	ref := "#" + shortID(order.ID.String())
	restaurant := nameOr(order.RestaurantName, "the restaurant")
	driver := nameOr(order.DriverName, "a driver")

	switch role {
	case enums.RoleRestaurant:
		switch newStatus {
		case enums.OrderStatusAssigned:
			return fmt.Sprintf("%s has been assigned to order %s", driver, ref)
		case enums.OrderStatusCancelled:
			return fmt.Sprintf("Order %s was cancelled", ref)
		case enums.OrderStatusOutForDelivery:
			return fmt.Sprintf("Order %s is on its way", ref)
		default:
			return fmt.Sprintf("Order %s is now %s", ref, statusLabel(newStatus))
		}
	case enums.RoleDriver:
		switch newStatus {
		case enums.OrderStatusAssigned:
			return fmt.Sprintf("You have been assigned order %s from %s", ref, restaurant)
		case enums.OrderStatusCancelled:
			return fmt.Sprintf("Order %s from %s was cancelled", ref, restaurant)
		default:
			return fmt.Sprintf("Order %s from %s is now %s", ref, restaurant, statusLabel(newStatus))
		}
	default:
		return fmt.Sprintf("Order %s (%s, driver %s): %s → %s",
			ref, restaurant, nameOr(order.DriverName, "unassigned"), statusLabel(oldStatus), statusLabel(newStatus))
	}
}
