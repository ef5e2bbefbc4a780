// Package notifications turns order transitions into per-recipient messages
// and hands them to the realtime transport.
package notifications

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/orderflow-backend/internal/lifecycle"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

// Transport delivers a notification to one recipient's channel.
type Transport interface {
	BroadcastNotification(ctx context.Context, recipientID string, payload any) error
}

// BrowserNotifier raises a local notification on a recipient's client.
type BrowserNotifier interface {
	NotifyBrowser(ctx context.Context, n Notification) error
}

type browserTransport interface {
	RequestBrowserNotification(ctx context.Context, recipientID string, payload any) error
}

// TransportBrowserNotifier asks the client over the realtime transport to
// render the notification itself.
type TransportBrowserNotifier struct {
	transport browserTransport
}

// NewTransportBrowserNotifier builds the default browser notifier.
func NewTransportBrowserNotifier(transport browserTransport) *TransportBrowserNotifier {
	return &TransportBrowserNotifier{transport: transport}
}

func (n *TransportBrowserNotifier) NotifyBrowser(ctx context.Context, notification Notification) error {
	return n.transport.RequestBrowserNotification(ctx, notification.RecipientID, notification)
}

// RouterParams wires a Router.
type RouterParams struct {
	Transport Transport
	Browser   BrowserNotifier
	Graph     *lifecycle.Graph
	Logger    *logger.Logger
}

// Router resolves recipients for a transition and dispatches their messages.
type Router struct {
	transport Transport
	browser   BrowserNotifier
	graph     *lifecycle.Graph
	logg      *logger.Logger
	now       func() time.Time
	goFn      func(func())
}

// NewRouter wires notification dependencies.
func NewRouter(params RouterParams) (*Router, error) {
	if params.Transport == nil {
		return nil, fmt.Errorf("transport required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	graph := params.Graph
	if graph == nil {
		graph = lifecycle.Default
	}
	return &Router{
		transport: params.Transport,
		browser:   params.Browser,
		graph:     graph,
		logg:      params.Logger,
		now:       time.Now,
		goFn:      func(fn func()) { go fn() },
	}, nil
}

// NotifyStatusChange sends the edge's notifications for a transition that
// has already been written. It returns what was dispatched along with any
// delivery failures; callers treat failures as non-fatal.
func (r *Router) NotifyStatusChange(ctx context.Context, order orders.OrderView, oldStatus, newStatus enums.OrderStatus) ([]Notification, error) {
	rule, ok := r.graph.Lookup(oldStatus, newStatus)
	if !ok {
		return nil, nil
	}
	policy := rule.Notify
	ctx = r.logg.WithOrderID(ctx, order.ID.String())

	var (
		sent []Notification
		errs error
	)
	for _, role := range policy.Recipients {
		recipientID, ok := recipientFor(role, order)
		if !ok {
			continue
		}
		n := Notification{
			OrderID:       order.ID.String(),
			Type:          policy.Type,
			Message:       messageFor(role, order, oldStatus, newStatus),
			RecipientID:   recipientID,
			RecipientRole: role,
			Priority:      policy.Priority,
			Data: map[string]any{
				"old_status": oldStatus,
				"new_status": newStatus,
			},
			CreatedAt: r.now().UTC(),
		}
		if policy.Channels.Realtime {
			if err := r.transport.BroadcastNotification(ctx, recipientID, n); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("notify %s: %w", recipientID, err))
				r.logg.Error(r.logg.WithField(ctx, "recipient_id", recipientID), "notification broadcast failed", err)
				continue
			}
		}
		if policy.Channels.Browser && recipientID != AdminRecipient {
			r.requestBrowser(ctx, n)
		}
		if policy.Channels.Email {
			r.logg.Info(r.logg.WithFields(ctx, map[string]any{
				"recipient_id": recipientID,
				"type":         n.Type,
			}), "email delivery not configured, skipping")
		}
		sent = append(sent, n)
	}
	return sent, errs
}

// NotifyEscalation tells the admin an order has been out for delivery too long.
func (r *Router) NotifyEscalation(ctx context.Context, order orders.OrderView, overdue time.Duration) error {
	n := Notification{
		OrderID: order.ID.String(),
		Type:    enums.NotificationTypeDeliveryUpdate,
		Message: fmt.Sprintf("Order #%s from %s has been out for delivery for over %s",
			shortID(order.ID.String()), nameOr(order.RestaurantName, "the restaurant"), overdue.Round(time.Minute)),
		RecipientID:   AdminRecipient,
		RecipientRole: enums.RoleAdmin,
		Priority:      enums.NotificationPriorityUrgent,
		Data: map[string]any{
			"status":      order.Status,
			"overdue_for": overdue.String(),
		},
		CreatedAt: r.now().UTC(),
	}
	if order.DriverID != nil {
		n.Data["driver_id"] = order.DriverID.String()
	}
	return r.transport.BroadcastNotification(ctx, AdminRecipient, n)
}

// NotifyBulkSummary sends a single summary of a bulk operation to the admin.
func (r *Router) NotifyBulkSummary(ctx context.Context, summary BulkSummary) error {
	n := Notification{
		Type: enums.NotificationTypeStatusChange,
		Message: fmt.Sprintf("Bulk %s finished: %d of %d orders moved to %s, %d failed",
			summary.Intent, summary.Successful, summary.Total, statusLabel(summary.Target), summary.Failed),
		RecipientID:   AdminRecipient,
		RecipientRole: enums.RoleAdmin,
		Priority:      enums.NotificationPriorityNormal,
		Data: map[string]any{
			"batch_id":   summary.BatchID,
			"intent":     summary.Intent,
			"total":      summary.Total,
			"successful": summary.Successful,
			"failed":     summary.Failed,
		},
		CreatedAt: r.now().UTC(),
	}
	return r.transport.BroadcastNotification(ctx, AdminRecipient, n)
}

// requestBrowser fires the browser notifier without waiting for it.
func (r *Router) requestBrowser(ctx context.Context, n Notification) {
	if r.browser == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	r.goFn(func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logg.Warn(r.logg.WithField(detached, "panic", fmt.Sprint(rec)), "browser notifier panicked")
			}
		}()
		if err := r.browser.NotifyBrowser(detached, n); err != nil {
			r.logg.Warn(r.logg.WithField(detached, "recipient_id", n.RecipientID), "browser notification failed")
		}
	})
}

func recipientFor(role enums.Role, order orders.OrderView) (string, bool) {
	switch role {
	case enums.RoleRestaurant:
		return order.RestaurantID.String(), true
	case enums.RoleDriver:
		if order.DriverID == nil {
			return "", false
		}
		return order.DriverID.String(), true
	case enums.RoleAdmin:
		return AdminRecipient, true
	default:
		return "", false
	}
}
