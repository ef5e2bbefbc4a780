package admin

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/api/middleware"
	"github.com/angelmondragon/orderflow-backend/api/responses"
	"github.com/angelmondragon/orderflow-backend/api/validators"
	"github.com/angelmondragon/orderflow-backend/internal/bulk"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

type bulkService interface {
	Preview(ctx context.Context, req bulk.Request) (*bulk.Preview, error)
	Execute(ctx context.Context, req bulk.Request) (*bulk.Result, error)
	GetBatch(ctx context.Context, id uuid.UUID) (*models.BatchOperation, error)
}

type bulkRequest struct {
	OrderIDs        []string `json:"order_ids" validate:"required,min=1,max=500,dive,uuid"`
	Intent          string   `json:"intent" validate:"required,bulk_intent"`
	TargetStatus    *string  `json:"target_status" validate:"omitempty,order_status"`
	DriverID        *string  `json:"driver_id" validate:"omitempty,uuid"`
	Notes           *string  `json:"notes" validate:"omitempty,max=1000"`
	DryRun          bool     `json:"dry_run"`
	ContinueOnError *bool    `json:"continue_on_error"`
}

func (b bulkRequest) toRequest(r *http.Request) (bulk.Request, error) {
	ids := make([]uuid.UUID, 0, len(b.OrderIDs))
	for _, raw := range b.OrderIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return bulk.Request{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
		}
		ids = append(ids, id)
	}

	req := bulk.Request{
		OrderIDs:        ids,
		Intent:          enums.BulkIntent(b.Intent),
		DryRun:          b.DryRun,
		ContinueOnError: b.ContinueOnError,
		ActorID:         middleware.ActorIDFromContext(r.Context()),
		Role:            middleware.RoleFromContext(r.Context()),
	}
	if b.TargetStatus != nil {
		status := enums.OrderStatus(*b.TargetStatus)
		req.TargetStatus = &status
	}
	if b.DriverID != nil {
		driverID, err := uuid.Parse(*b.DriverID)
		if err != nil {
			return bulk.Request{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid driver id")
		}
		req.DriverID = &driverID
	}
	if b.Notes != nil {
		if notes := validators.SanitizeString(*b.Notes, 1000); notes != "" {
			req.Notes = &notes
		}
	}
	return req, nil
}

func decodeBulk(r *http.Request) (bulk.Request, error) {
	var body bulkRequest
	if err := validators.DecodeJSONBody(r, &body); err != nil {
		return bulk.Request{}, err
	}
	return body.toRequest(r)
}

// BulkPreview validates every order of a bulk intent without writing.
func BulkPreview(svc bulkService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "bulk operations unavailable"))
			return
		}
		req, err := decodeBulk(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		preview, err := svc.Preview(r.Context(), req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, preview)
	}
}

// BulkExecute runs a bulk intent, or previews it when dry_run is set.
func BulkExecute(svc bulkService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "bulk operations unavailable"))
			return
		}
		req, err := decodeBulk(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Execute(r.Context(), req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if result.DryRun {
			responses.WriteSuccess(w, result)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// Batch returns the persisted record of a bulk run.
func Batch(svc bulkService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "bulk operations unavailable"))
			return
		}
		batchID, err := validators.ParseUUIDParam(r, "batchId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		batch, err := svc.GetBatch(r.Context(), batchID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, batch)
	}
}
