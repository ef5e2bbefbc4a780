package drivers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/api/middleware"
	"github.com/angelmondragon/orderflow-backend/api/responses"
	"github.com/angelmondragon/orderflow-backend/api/validators"
	internalorders "github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/internal/realtime"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

type presenceTracker interface {
	TrackPresence(ctx context.Context, presence realtime.DriverPresence) error
	UntrackPresence(ctx context.Context, driverID string) error
	PresenceState(ctx context.Context) (map[string]realtime.DriverPresence, error)
}

type locationBroadcaster interface {
	BroadcastDriverLocation(ctx context.Context, loc realtime.DriverLocation) error
}

type orderReader interface {
	GetView(ctx context.Context, id uuid.UUID) (*internalorders.OrderView, error)
}

type presenceRequest struct {
	Status string `json:"status" validate:"required,driver_availability"`
}

type locationRequest struct {
	OrderID  string   `json:"order_id" validate:"required,uuid"`
	Lat      *float64 `json:"lat" validate:"required,min=-90,max=90"`
	Lng      *float64 `json:"lng" validate:"required,min=-180,max=180"`
	Accuracy *float64 `json:"accuracy" validate:"omitempty,min=0"`
}

// trackable statuses are the ones where a driver is on the way.
var trackable = map[enums.OrderStatus]bool{
	enums.OrderStatusAssigned:       true,
	enums.OrderStatusOutForDelivery: true,
}

// UpdatePresence advertises the calling driver's availability. Going
// offline removes the driver from the presence state.
func UpdatePresence(tracker presenceTracker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if tracker == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "presence unavailable"))
			return
		}

		var body presenceRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParseDriverAvailability(body.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		driverID := middleware.ActorIDFromContext(r.Context())
		if status == enums.DriverOffline {
			if err := tracker.UntrackPresence(r.Context(), driverID); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "untrack presence"))
				return
			}
			responses.WriteSuccess(w, realtime.DriverPresence{DriverID: driverID, Status: status, Timestamp: time.Now().UTC()})
			return
		}

		presence := realtime.DriverPresence{DriverID: driverID, Status: status, Timestamp: time.Now().UTC()}
		if err := tracker.TrackPresence(r.Context(), presence); err != nil {
			if pkgerrors.As(err) != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "track presence"))
			return
		}
		responses.WriteSuccess(w, presence)
	}
}

// ListPresence returns every connected driver.
func ListPresence(tracker presenceTracker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if tracker == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "presence unavailable"))
			return
		}
		state, err := tracker.PresenceState(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load presence"))
			return
		}
		drivers := make([]realtime.DriverPresence, 0, len(state))
		for _, p := range state {
			drivers = append(drivers, p)
		}
		responses.WriteSuccess(w, map[string]any{"drivers": drivers})
	}
}

// UpdateLocation relays the calling driver's position to everyone tracking
// an order the driver is delivering. Nothing is stored.
func UpdateLocation(repo orderReader, broadcaster locationBroadcaster, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil || broadcaster == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "tracking unavailable"))
			return
		}

		var body locationRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := uuid.Parse(body.OrderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id"))
			return
		}

		driverID := middleware.ActorIDFromContext(r.Context())
		view, err := repo.GetView(r.Context(), orderID)
		if err != nil {
			if errors.Is(err, internalorders.ErrNotFound) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))
				return
			}
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order"))
			return
		}
		if view.DriverID == nil || view.DriverID.String() != driverID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "order is not assigned to this driver"))
			return
		}
		if !trackable[view.Status] {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not in delivery").
				WithDetails(map[string]any{"status": view.Status}))
			return
		}

		loc := realtime.DriverLocation{
			DriverID:  driverID,
			OrderID:   orderID.String(),
			Lat:       *body.Lat,
			Lng:       *body.Lng,
			Accuracy:  body.Accuracy,
			Timestamp: time.Now().UTC(),
		}
		if err := broadcaster.BroadcastDriverLocation(r.Context(), loc); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "broadcast location"))
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, loc)
	}
}
