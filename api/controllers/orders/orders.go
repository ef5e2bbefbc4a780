package orders

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/orderflow-backend/api/middleware"
	"github.com/angelmondragon/orderflow-backend/api/responses"
	"github.com/angelmondragon/orderflow-backend/api/validators"
	"github.com/angelmondragon/orderflow-backend/internal/history"
	internalorders "github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/internal/workflow"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/pagination"
)

const maxNotesLength = 1000

type statusChanger interface {
	ExecuteStatusChange(ctx context.Context, req workflow.ChangeRequest) (*workflow.ChangeResult, error)
}

type transitionLister interface {
	AllowedTransitions(current enums.OrderStatus, role enums.Role, actorID string, order models.Order) []enums.OrderStatus
}

type orderReader interface {
	GetView(ctx context.Context, id uuid.UUID) (*internalorders.OrderView, error)
}

type orderLister interface {
	ListByRestaurant(ctx context.Context, restaurantID uuid.UUID, params pagination.Params) (*pagination.Page[internalorders.OrderView], error)
	ListByDriver(ctx context.Context, driverID uuid.UUID, params pagination.Params) (*pagination.Page[internalorders.OrderView], error)
	ListByStatus(ctx context.Context, status enums.OrderStatus, params pagination.Params) (*pagination.Page[internalorders.OrderView], error)
}

type timelineReader interface {
	OrderTimeline(ctx context.Context, orderID uuid.UUID) ([]history.TimelineEntry, error)
}

type statusChangeRequest struct {
	Status      string           `json:"status" validate:"required,order_status"`
	Notes       *string          `json:"notes" validate:"omitempty,max=1000"`
	DriverID    *string          `json:"driver_id" validate:"omitempty,uuid"`
	TotalAmount *decimal.Decimal `json:"total_amount"`
	Metadata    map[string]any   `json:"metadata"`
}

// TransitionsResponse lists the statuses the caller may move an order to.
type TransitionsResponse struct {
	OrderID       uuid.UUID           `json:"order_id"`
	CurrentStatus enums.OrderStatus   `json:"current_status"`
	Transitions   []enums.OrderStatus `json:"transitions"`
}

// ChangeStatus runs one status change through the workflow engine as the
// calling actor.
func ChangeStatus(engine statusChanger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "workflow engine unavailable"))
			return
		}

		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body statusChangeRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		req, err := body.toChangeRequest(orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		req.ActorID = middleware.ActorIDFromContext(r.Context())
		req.Role = middleware.RoleFromContext(r.Context())

		result, err := engine.ExecuteStatusChange(r.Context(), req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func (b statusChangeRequest) toChangeRequest(orderID uuid.UUID) (workflow.ChangeRequest, error) {
	req := workflow.ChangeRequest{
		OrderID:     orderID,
		NewStatus:   enums.OrderStatus(b.Status),
		TotalAmount: b.TotalAmount,
		Metadata:    b.Metadata,
	}
	if b.Notes != nil {
		notes := validators.SanitizeString(*b.Notes, maxNotesLength)
		if notes != "" {
			req.Notes = &notes
		}
	}
	if b.DriverID != nil {
		driverID, err := uuid.Parse(*b.DriverID)
		if err != nil {
			return workflow.ChangeRequest{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid driver id")
		}
		req.DriverID = &driverID
	}
	if b.TotalAmount != nil && b.TotalAmount.IsNegative() {
		return workflow.ChangeRequest{}, pkgerrors.New(pkgerrors.CodeValidation, "total amount must not be negative").
			WithDetails(map[string]string{"total_amount": "must not be negative"})
	}
	return req, nil
}

// Transitions returns the next statuses available to the caller.
func Transitions(repo orderReader, engine transitionLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil || engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders unavailable"))
			return
		}

		view, err := loadVisible(r, repo)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		role := middleware.RoleFromContext(r.Context())
		actorID := middleware.ActorIDFromContext(r.Context())
		next := engine.AllowedTransitions(view.Status, role, actorID, view.Order)
		if next == nil {
			next = []enums.OrderStatus{}
		}
		responses.WriteSuccess(w, TransitionsResponse{
			OrderID:       view.ID,
			CurrentStatus: view.Status,
			Transitions:   next,
		})
	}
}

// Timeline returns the merged status and audit history of an order.
func Timeline(repo orderReader, recorder timelineReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil || recorder == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "history unavailable"))
			return
		}

		view, err := loadVisible(r, repo)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entries, err := recorder.OrderTimeline(r.Context(), view.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load timeline"))
			return
		}
		if entries == nil {
			entries = []history.TimelineEntry{}
		}
		responses.WriteSuccess(w, entries)
	}
}

// List returns the caller's orders: a restaurant sees its own, a driver the
// ones assigned to them and an admin filters by status.
func List(repo orderLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders repository unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
		if _, err := pagination.ParseCursor(cursor); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor"))
			return
		}
		params := pagination.Params{
			Limit:  limit,
			Cursor: cursor,
		}

		actorID, err := uuid.Parse(middleware.ActorIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "actor missing"))
			return
		}

		var page *pagination.Page[internalorders.OrderView]
		switch middleware.RoleFromContext(r.Context()) {
		case enums.RoleRestaurant:
			page, err = repo.ListByRestaurant(r.Context(), actorID, params)
		case enums.RoleDriver:
			page, err = repo.ListByDriver(r.Context(), actorID, params)
		case enums.RoleAdmin:
			status := enums.OrderStatusPending
			if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
				status, err = enums.ParseOrderStatus(raw)
				if err != nil {
					responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
					return
				}
			}
			page, err = repo.ListByStatus(r.Context(), status, params)
		default:
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "unsupported role"))
			return
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders"))
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func loadVisible(r *http.Request, repo orderReader) (*internalorders.OrderView, error) {
	orderID, err := validators.ParseUUIDParam(r, "orderId")
	if err != nil {
		return nil, err
	}
	view, err := repo.GetView(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, internalorders.ErrNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if !CanView(view.Order, middleware.ActorIDFromContext(r.Context()), middleware.RoleFromContext(r.Context())) {
		// Orders outside the caller's reach look missing.
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return view, nil
}

// CanView reports whether actorID acting as role may read order.
func CanView(order models.Order, actorID string, role enums.Role) bool {
	switch role {
	case enums.RoleAdmin:
		return true
	case enums.RoleRestaurant:
		return order.RestaurantID.String() == actorID
	case enums.RoleDriver:
		return order.DriverID != nil && order.DriverID.String() == actorID
	}
	return false
}
