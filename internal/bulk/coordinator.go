// Package bulk applies one status intent to many orders for admins, with a
// preview pass, bounded concurrency and a persisted batch record.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/internal/history"
	"github.com/angelmondragon/orderflow-backend/internal/notifications"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/internal/workflow"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
)

const (
	defaultMaxConcurrent = 5
	maxOrdersPerRequest  = 500
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type statusEngine interface {
	Check(ctx context.Context, req workflow.ChangeRequest) (*orders.OrderView, workflow.Validation, error)
	ExecuteStatusChange(ctx context.Context, req workflow.ChangeRequest) (*workflow.ChangeResult, error)
}

type summaryNotifier interface {
	NotifyBulkSummary(ctx context.Context, summary notifications.BulkSummary) error
}

type auditor interface {
	RecordAction(ctx context.Context, entry history.AuditEntry) error
}

type outboxPublisher interface {
	Enqueue(ctx context.Context, tx *gorm.DB, event outbox.Event) error
}

// CoordinatorParams wires a Coordinator. Notifier and Auditor are optional.
type CoordinatorParams struct {
	DB       txRunner
	Engine   statusEngine
	Batches  Repository
	Outbox   outboxPublisher
	Notifier summaryNotifier
	Auditor  auditor
	Logger   *logger.Logger
	Metrics  *metrics.WorkflowMetrics
	Config   config.BulkConfig
}

// Request is one bulk intent over a set of orders.
type Request struct {
	OrderIDs     []uuid.UUID
	Intent       enums.BulkIntent
	TargetStatus *enums.OrderStatus
	DriverID     *uuid.UUID
	Notes        *string
	DryRun       bool
	// ContinueOnError overrides the configured default when set. It only
	// governs execution failures: orders rejected by the preview are
	// reported as failures and never halt the valid ones.
	ContinueOnError *bool
	ActorID         string
	Role            enums.Role
}

// PreviewItem is the pre-flight verdict for one order.
type PreviewItem struct {
	OrderID       uuid.UUID         `json:"order_id"`
	CurrentStatus enums.OrderStatus `json:"current_status,omitempty"`
	Valid         bool              `json:"valid"`
	Reason        workflow.Reason   `json:"reason,omitempty"`
	Message       string            `json:"message,omitempty"`
}

// PreviewSummary counts preview verdicts.
type PreviewSummary struct {
	Total   int `json:"total"`
	Valid   int `json:"valid"`
	Invalid int `json:"invalid"`
}

// Preview is the outcome of validating every order before any write.
type Preview struct {
	Intent       enums.BulkIntent  `json:"intent"`
	TargetStatus enums.OrderStatus `json:"target_status"`
	Items        []PreviewItem     `json:"items"`
	Summary      PreviewSummary    `json:"summary"`
}

// Result aggregates an executed (or dry-run) bulk request.
type Result struct {
	BatchID    *uuid.UUID              `json:"batch_id,omitempty"`
	DryRun     bool                    `json:"dry_run"`
	Total      int                     `json:"total"`
	Successful int                     `json:"successful"`
	Failed     int                     `json:"failed"`
	Errors     []models.BatchItemError `json:"errors"`
	Warnings   []string                `json:"warnings"`
	Preview    *Preview                `json:"preview,omitempty"`
}

// Coordinator runs bulk status intents through the workflow engine.
type Coordinator struct {
	db       txRunner
	engine   statusEngine
	batches  Repository
	outbox   outboxPublisher
	notifier summaryNotifier
	auditor  auditor
	logg     *logger.Logger
	metrics  *metrics.WorkflowMetrics
	cfg      config.BulkConfig
	now      func() time.Time
}

// NewCoordinator validates params and builds the coordinator.
func NewCoordinator(params CoordinatorParams) (*Coordinator, error) {
	switch {
	case params.DB == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Engine == nil:
		return nil, fmt.Errorf("workflow engine required")
	case params.Batches == nil:
		return nil, fmt.Errorf("batch repository required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	cfg := params.Config
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	return &Coordinator{
		db:       params.DB,
		engine:   params.Engine,
		batches:  params.Batches,
		outbox:   params.Outbox,
		notifier: params.Notifier,
		auditor:  params.Auditor,
		logg:     params.Logger,
		metrics:  params.Metrics,
		cfg:      cfg,
		now:      time.Now,
	}, nil
}

// Preview validates every order in req without mutating anything.
func (c *Coordinator) Preview(ctx context.Context, req Request) (*Preview, error) {
	target, ids, err := c.prepare(req)
	if err != nil {
		return nil, err
	}
	return c.preview(ctx, req, target, ids), nil
}

// Execute runs req. A dry run returns the preview only. Otherwise valid
// orders are processed in chunks of MaxConcurrent and the outcome is
// persisted as a batch record.
func (c *Coordinator) Execute(ctx context.Context, req Request) (*Result, error) {
	target, ids, err := c.prepare(req)
	if err != nil {
		return nil, err
	}
	ctx = c.logg.WithActorID(ctx, req.ActorID)
	ctx = c.logg.WithField(ctx, "bulk_intent", string(req.Intent))

	preview := c.preview(ctx, req, target, ids)
	result := &Result{
		DryRun:   req.DryRun,
		Total:    len(ids),
		Errors:   []models.BatchItemError{},
		Warnings: []string{},
	}
	if len(ids) < len(req.OrderIDs) {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%d duplicate order ids ignored", len(req.OrderIDs)-len(ids)))
	}
	if req.DryRun {
		result.Preview = preview
		return result, nil
	}

	batch := &models.BatchOperation{
		ID:           uuid.New(),
		Type:         req.Intent,
		Status:       enums.BatchStatusProcessing,
		TargetStatus: target,
		TotalItems:   len(ids),
		CreatedBy:    req.ActorID,
		CreatedAt:    c.now().UTC(),
	}
	if err := c.batches.Create(ctx, batch); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create batch operation")
	}
	result.BatchID = &batch.ID
	ctx = c.logg.WithField(ctx, "batch_id", batch.ID.String())

	valid := make([]uuid.UUID, 0, len(preview.Items))
	for _, item := range preview.Items {
		if item.Valid {
			valid = append(valid, item.OrderID)
			continue
		}
		result.Failed++
		result.Errors = append(result.Errors, models.BatchItemError{OrderID: item.OrderID.String(), Error: item.Message})
		c.metrics.ObserveBulkItem(string(req.Intent), false)
	}

	c.process(ctx, req, target, valid, result)
	c.finish(ctx, req, batch, result)
	return result, nil
}

// GetBatch reads back a persisted batch record.
func (c *Coordinator) GetBatch(ctx context.Context, id uuid.UUID) (*models.BatchOperation, error) {
	batch, err := c.batches.Get(ctx, id)
	if errors.Is(err, ErrBatchNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "batch not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load batch")
	}
	return batch, nil
}

func (c *Coordinator) prepare(req Request) (enums.OrderStatus, []uuid.UUID, error) {
	if req.Role != enums.RoleAdmin {
		return "", nil, workflow.ReasonError(workflow.ReasonInsufficientPermission, "only admins can run bulk operations")
	}
	target, err := targetFor(req)
	if err != nil {
		return "", nil, err
	}
	if len(req.OrderIDs) == 0 {
		return "", nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one order id is required")
	}
	if len(req.OrderIDs) > maxOrdersPerRequest {
		return "", nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("at most %d orders per request", maxOrdersPerRequest))
	}
	return target, dedupe(req.OrderIDs), nil
}

func targetFor(req Request) (enums.OrderStatus, error) {
	switch req.Intent {
	case enums.BulkIntentAssignDriver:
		if req.DriverID == nil || *req.DriverID == uuid.Nil {
			return "", pkgerrors.New(pkgerrors.CodeValidation, "driver id is required to assign a driver")
		}
		return enums.OrderStatusAssigned, nil
	case enums.BulkIntentCancel:
		return enums.OrderStatusCancelled, nil
	case enums.BulkIntentConfirm:
		return enums.OrderStatusConfirmed, nil
	case enums.BulkIntentStatusChange:
		if req.TargetStatus == nil || !req.TargetStatus.IsValid() {
			return "", pkgerrors.New(pkgerrors.CodeValidation, "a valid target status is required")
		}
		return *req.TargetStatus, nil
	default:
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown bulk intent %q", req.Intent))
	}
}

func (c *Coordinator) preview(ctx context.Context, req Request, target enums.OrderStatus, ids []uuid.UUID) *Preview {
	out := &Preview{
		Intent:       req.Intent,
		TargetStatus: target,
		Items:        make([]PreviewItem, 0, len(ids)),
	}
	for _, id := range ids {
		item := PreviewItem{OrderID: id}
		view, validation, err := c.engine.Check(ctx, c.changeRequest(req, target, id))
		switch {
		case err != nil:
			item.Reason = workflow.ReasonOf(err)
			item.Message = pkgerrors.MessageOf(err)
		case !validation.Valid:
			item.CurrentStatus = view.Status
			item.Reason = validation.Reason
			item.Message = validation.Message
		default:
			item.CurrentStatus = view.Status
			item.Valid = true
		}
		if item.Valid {
			out.Summary.Valid++
		} else {
			out.Summary.Invalid++
		}
		out.Items = append(out.Items, item)
	}
	out.Summary.Total = len(out.Items)
	return out
}

// process executes valid ids chunk by chunk. Items inside a chunk run
// concurrently; chunks run one after another.
func (c *Coordinator) process(ctx context.Context, req Request, target enums.OrderStatus, ids []uuid.UUID, result *Result) {
	continueOnError := c.cfg.ContinueOnError
	if req.ContinueOnError != nil {
		continueOnError = *req.ContinueOnError
	}
	var mu sync.Mutex
	for start := 0; start < len(ids); start += c.cfg.MaxConcurrent {
		end := start + c.cfg.MaxConcurrent
		if end > len(ids) {
			end = len(ids)
		}
		chunkFailed := false
		g, gctx := errgroup.WithContext(ctx)
		for _, id := range ids[start:end] {
			id := id
			g.Go(func() error {
				_, err := c.engine.ExecuteStatusChange(gctx, c.changeRequest(req, target, id))
				c.metrics.ObserveBulkItem(string(req.Intent), err == nil)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					chunkFailed = true
					result.Failed++
					result.Errors = append(result.Errors, models.BatchItemError{OrderID: id.String(), Error: pkgerrors.MessageOf(err)})
					return nil
				}
				result.Successful++
				return nil
			})
		}
		_ = g.Wait()

		if chunkFailed && !continueOnError && end < len(ids) {
			for _, id := range ids[end:] {
				result.Warnings = append(result.Warnings, fmt.Sprintf("order %s not processed: stopped after an earlier failure", id))
			}
			return
		}
	}
}

func (c *Coordinator) finish(ctx context.Context, req Request, batch *models.BatchOperation, result *Result) {
	completedAt := c.now().UTC()
	batch.Status = enums.BatchStatusCompleted
	if result.Successful == 0 && result.Failed > 0 {
		batch.Status = enums.BatchStatusFailed
	}
	batch.ProcessedItems = result.Successful + result.Failed
	batch.SuccessCount = result.Successful
	batch.ErrorCount = result.Failed
	batch.Errors = result.Errors
	batch.CompletedAt = &completedAt

	err := c.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := c.batches.WithTx(tx).Finish(ctx, batch); err != nil {
			return err
		}
		return c.outbox.Enqueue(ctx, tx, outbox.BulkOperationCompleted{
			BatchID:      batch.ID,
			Intent:       req.Intent,
			TargetStatus: batch.TargetStatus,
			Total:        result.Total,
			Successful:   result.Successful,
			Failed:       result.Failed,
			CreatedBy:    req.ActorID,
			CreatorRole:  req.Role,
			CompletedAt:  completedAt,
		}.Event())
	})
	if err != nil {
		c.logg.Error(ctx, "persist bulk outcome failed", err)
		result.Warnings = append(result.Warnings, "batch record could not be finalized")
	}

	c.logg.Info(c.logg.WithFields(ctx, map[string]any{
		"total":      result.Total,
		"successful": result.Successful,
		"failed":     result.Failed,
	}), "bulk operation finished")

	if result.Successful > 0 && c.notifier != nil {
		err := c.notifier.NotifyBulkSummary(ctx, notifications.BulkSummary{
			BatchID:    batch.ID.String(),
			Intent:     req.Intent,
			Target:     batch.TargetStatus,
			Total:      result.Total,
			Successful: result.Successful,
			Failed:     result.Failed,
		})
		if err != nil {
			c.logg.Error(ctx, "bulk summary notification failed", err)
		}
	}
	c.audit(ctx, req, batch, result)
}

func (c *Coordinator) audit(ctx context.Context, req Request, batch *models.BatchOperation, result *Result) {
	if c.auditor == nil {
		return
	}
	ids := make([]string, 0, len(req.OrderIDs))
	for _, id := range req.OrderIDs {
		ids = append(ids, id.String())
	}
	err := c.auditor.RecordAction(ctx, history.AuditEntry{
		Action:    history.ActionBulkOperation,
		ActorID:   req.ActorID,
		ActorRole: req.Role,
		NewValues: map[string]any{
			"batch_id":      batch.ID.String(),
			"intent":        string(req.Intent),
			"target_status": string(batch.TargetStatus),
			"order_ids":     ids,
			"successful":    result.Successful,
			"failed":        result.Failed,
		},
	})
	if err != nil {
		c.logg.Error(ctx, "bulk audit entry failed", err)
	}
}

func (c *Coordinator) changeRequest(req Request, target enums.OrderStatus, id uuid.UUID) workflow.ChangeRequest {
	change := workflow.ChangeRequest{
		OrderID:   id,
		NewStatus: target,
		ActorID:   req.ActorID,
		Role:      req.Role,
		Notes:     req.Notes,
		Metadata:  map[string]any{"bulk_intent": string(req.Intent)},
	}
	if req.Intent == enums.BulkIntentAssignDriver {
		change.DriverID = req.DriverID
	}
	return change
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
