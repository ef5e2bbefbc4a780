package enums

import "fmt"

// NotificationType classifies a realtime notification.
type NotificationType string

const (
	NotificationTypeStatusChange   NotificationType = "status_change"
	NotificationTypeAssigned       NotificationType = "assigned"
	NotificationTypeCreated        NotificationType = "created"
	NotificationTypeCancelled      NotificationType = "cancelled"
	NotificationTypeLocationUpdate NotificationType = "location_update"
	NotificationTypeDeliveryUpdate NotificationType = "delivery_update"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeStatusChange,
	NotificationTypeAssigned,
	NotificationTypeCreated,
	NotificationTypeCancelled,
	NotificationTypeLocationUpdate,
	NotificationTypeDeliveryUpdate,
}

// String implements fmt.Stringer.
func (n NotificationType) String() string {
	return string(n)
}

// IsValid reports whether the value is a known NotificationType.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw input into a NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}

// NotificationPriority orders notifications for display.
type NotificationPriority string

const (
	NotificationPriorityLow    NotificationPriority = "low"
	NotificationPriorityNormal NotificationPriority = "normal"
	NotificationPriorityHigh   NotificationPriority = "high"
	NotificationPriorityUrgent NotificationPriority = "urgent"
)

var validNotificationPriorities = []NotificationPriority{
	NotificationPriorityLow,
	NotificationPriorityNormal,
	NotificationPriorityHigh,
	NotificationPriorityUrgent,
}

// String implements fmt.Stringer.
func (p NotificationPriority) String() string {
	return string(p)
}

// IsValid reports whether the value is a known NotificationPriority.
func (p NotificationPriority) IsValid() bool {
	for _, candidate := range validNotificationPriorities {
		if candidate == p {
			return true
		}
	}
	return false
}
