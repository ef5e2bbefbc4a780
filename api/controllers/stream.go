package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	ordercontrollers "github.com/angelmondragon/orderflow-backend/api/controllers/orders"
	"github.com/angelmondragon/orderflow-backend/api/middleware"
	"github.com/angelmondragon/orderflow-backend/api/responses"
	"github.com/angelmondragon/orderflow-backend/internal/notifications"
	internalorders "github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/internal/realtime"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

const (
	defaultHeartbeat  = 25 * time.Second
	streamBufferSize  = 64
	eventOrderChange  = "order_change"
	streamKeyPrefix   = "stream"
	streamTrackingArg = "track"
)

type streamSubscriber interface {
	SubscribeOrderChanges(ctx context.Context, userID string, callback func(realtime.OrderChange)) (*realtime.Handle, error)
	SubscribeBroadcast(ctx context.Context, key, topic string, callback func(realtime.Message)) (*realtime.Handle, error)
	Unsubscribe(handle *realtime.Handle) error
}

type orderViewer interface {
	GetView(ctx context.Context, id uuid.UUID) (*internalorders.OrderView, error)
}

type streamEvent struct {
	name string
	data any
}

// StreamParams wires the server-sent events endpoint.
type StreamParams struct {
	Subscriber streamSubscriber
	Orders     orderViewer
	Logger     *logger.Logger
	// Heartbeat is the interval of keep-alive comments. Defaults to 25s.
	Heartbeat time.Duration
}

// Stream pushes the caller's order changes and notifications as server-sent
// events. Restaurants and drivers get their change stream; admins get the
// shared admin notifications. ?track=<orderId> adds the driver location
// feed of a visible order.
func Stream(params StreamParams) http.HandlerFunc {
	heartbeat := params.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	logg := params.Logger

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if params.Subscriber == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "realtime unavailable"))
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "streaming unsupported"))
			return
		}

		actorID := middleware.ActorIDFromContext(ctx)
		role := middleware.RoleFromContext(ctx)

		events := make(chan streamEvent, streamBufferSize)
		push := func(ev streamEvent) {
			select {
			case events <- ev:
			default:
				if logg != nil {
					logg.Warn(logg.WithField(ctx, "event", ev.name), "stream buffer full, dropping event")
				}
			}
		}

		var handles []*realtime.Handle
		defer func() {
			for _, h := range handles {
				if err := params.Subscriber.Unsubscribe(h); err != nil && logg != nil {
					logg.Warn(logg.WithField(ctx, "error", err.Error()), "stream unsubscribe failed")
				}
			}
		}()

		subscribe := func() error {
			if role != enums.RoleAdmin {
				h, err := params.Subscriber.SubscribeOrderChanges(ctx, actorID, func(change realtime.OrderChange) {
					push(streamEvent{name: eventOrderChange, data: change})
				})
				if err != nil {
					return err
				}
				handles = append(handles, h)
			}

			recipient := actorID
			if role == enums.RoleAdmin {
				recipient = notifications.AdminRecipient
			}
			topic := realtime.NotificationTopic(recipient)
			h, err := params.Subscriber.SubscribeBroadcast(ctx, streamKey(topic, actorID), topic, func(msg realtime.Message) {
				push(streamEvent{name: msg.Event, data: msg.Payload})
			})
			if err != nil {
				return err
			}
			handles = append(handles, h)

			if raw := strings.TrimSpace(r.URL.Query().Get(streamTrackingArg)); raw != "" {
				orderID, err := visibleOrder(ctx, params.Orders, raw, actorID, role)
				if err != nil {
					return err
				}
				topic := realtime.TrackingTopic(orderID.String())
				h, err := params.Subscriber.SubscribeBroadcast(ctx, streamKey(topic, actorID), topic, func(msg realtime.Message) {
					push(streamEvent{name: msg.Event, data: msg.Payload})
				})
				if err != nil {
					return err
				}
				handles = append(handles, h)
			}
			return nil
		}
		if err := subscribe(); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			case ev := <-events:
				if err := writeEvent(w, ev); err != nil {
					if logg != nil {
						logg.Error(ctx, "stream write failed", err)
					}
					return
				}
				flusher.Flush()
			}
		}
	}
}

func streamKey(topic, actorID string) string {
	return strings.Join([]string{streamKeyPrefix, topic, actorID}, ":")
}

func writeEvent(w http.ResponseWriter, ev streamEvent) error {
	data, err := json.Marshal(ev.data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, data)
	return err
}

func visibleOrder(ctx context.Context, orders orderViewer, raw, actorID string, role enums.Role) (uuid.UUID, error) {
	orderID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid track order id")
	}
	if orders == nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeInternal, "orders unavailable")
	}
	view, err := orders.GetView(ctx, orderID)
	if err != nil {
		if errors.Is(err, internalorders.ErrNotFound) {
			return uuid.Nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if !ordercontrollers.CanView(view.Order, actorID, role) {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return orderID, nil
}
