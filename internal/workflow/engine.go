// Package workflow is the single authority over order status changes: it
// validates a requested transition against the lifecycle graph, writes it
// together with its domain event, and fans the result out to history,
// notifications, the change stream and the automation scheduler.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/internal/history"
	"github.com/angelmondragon/orderflow-backend/internal/lifecycle"
	"github.com/angelmondragon/orderflow-backend/internal/notifications"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/internal/realtime"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
)

// SystemActorID is the actor recorded for changes made by automations.
const SystemActorID = "system"

const (
	defaultAutoCompleteAfter = 24 * time.Hour
	defaultEscalationAfter   = 2 * time.Hour
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Enqueue(ctx context.Context, tx *gorm.DB, event outbox.Event) error
}

type historyRecorder interface {
	RecordStatusChange(ctx context.Context, change history.StatusChange)
}

type statusNotifier interface {
	NotifyStatusChange(ctx context.Context, order orders.OrderView, oldStatus, newStatus enums.OrderStatus) ([]notifications.Notification, error)
}

type changePublisher interface {
	PublishOrderChange(ctx context.Context, change realtime.OrderChange) error
}

// Scheduler persists delayed automations for an order.
type Scheduler interface {
	Schedule(ctx context.Context, orderID uuid.UUID, kind enums.AutomationKind, expected enums.OrderStatus, delay time.Duration) error
}

// EngineParams wires the engine. History, Notifier, Changes and Scheduler
// are optional; a nil collaborator is skipped.
type EngineParams struct {
	DB        txRunner
	Orders    orders.Repository
	Outbox    outboxPublisher
	History   historyRecorder
	Notifier  statusNotifier
	Changes   changePublisher
	Scheduler Scheduler
	Graph     *lifecycle.Graph
	Logger    *logger.Logger
	Metrics   *metrics.WorkflowMetrics
	Config    config.WorkflowConfig
}

// ChangeRequest asks for one order to move to NewStatus.
type ChangeRequest struct {
	OrderID     uuid.UUID
	NewStatus   enums.OrderStatus
	ActorID     string
	Role        enums.Role
	Notes       *string
	DriverID    *uuid.UUID
	TotalAmount *decimal.Decimal
	Metadata    map[string]any
}

// ChangeResult describes a committed status change.
type ChangeResult struct {
	Order         orders.OrderView             `json:"order"`
	OldStatus     enums.OrderStatus            `json:"old_status"`
	Notifications []notifications.Notification `json:"notifications"`
}

// BulkChangeResult aggregates a sequential run over many orders.
type BulkChangeResult struct {
	Successful int               `json:"successful"`
	Failed     int               `json:"failed"`
	Errors     map[string]string `json:"errors"`
}

// Engine executes order status changes.
type Engine struct {
	db        txRunner
	orders    orders.Repository
	outbox    outboxPublisher
	history   historyRecorder
	notifier  statusNotifier
	changes   changePublisher
	scheduler Scheduler
	graph     *lifecycle.Graph
	logg      *logger.Logger
	metrics   *metrics.WorkflowMetrics
	cfg       config.WorkflowConfig
	now       func() time.Time
}

// NewEngine validates params and builds the engine.
func NewEngine(params EngineParams) (*Engine, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	graph := params.Graph
	if graph == nil {
		graph = lifecycle.Default
	}
	cfg := params.Config
	if cfg.AutoCompleteAfter <= 0 {
		cfg.AutoCompleteAfter = defaultAutoCompleteAfter
	}
	if cfg.EscalationAfter <= 0 {
		cfg.EscalationAfter = defaultEscalationAfter
	}
	return &Engine{
		db:        params.DB,
		orders:    params.Orders,
		outbox:    params.Outbox,
		history:   params.History,
		notifier:  params.Notifier,
		changes:   params.Changes,
		scheduler: params.Scheduler,
		graph:     graph,
		logg:      params.Logger,
		metrics:   params.Metrics,
		cfg:       cfg,
		now:       time.Now,
	}, nil
}

// Graph exposes the lifecycle the engine enforces.
func (e *Engine) Graph() *lifecycle.Graph { return e.graph }

// ValidateTransition checks a transition against the engine's graph.
func (e *Engine) ValidateTransition(current, next enums.OrderStatus, role enums.Role, actorID string, order models.Order) Validation {
	return ValidateTransition(e.graph, current, next, role, actorID, order)
}

// AllowedTransitions lists the statuses role can move order to.
func (e *Engine) AllowedTransitions(current enums.OrderStatus, role enums.Role, actorID string, order models.Order) []enums.OrderStatus {
	return AllowedTransitions(e.graph, current, role, actorID, order)
}

// Check loads the order and validates req against it without writing.
func (e *Engine) Check(ctx context.Context, req ChangeRequest) (*orders.OrderView, Validation, error) {
	view, err := e.load(ctx, req.OrderID)
	if err != nil {
		return nil, Validation{}, err
	}
	candidate := view.Order
	if rule, ok := e.graph.Lookup(view.Status, req.NewStatus); ok {
		if req.TotalAmount != nil && !rule.SetsTotalAmount {
			return nil, Validation{}, pkgerrors.New(pkgerrors.CodeValidation, "total amount can only be set when pricing an order").
				WithDetails(map[string]string{"field": "total_amount"})
		}
		candidate = withRequestFields(view.Order, req, rule)
	}
	return view, e.ValidateTransition(view.Status, req.NewStatus, req.Role, req.ActorID, candidate), nil
}

// ExecuteStatusChange validates and commits req. The status write and its
// outbox event share one transaction; history, notifications, the change
// stream and automation scheduling run afterwards and never undo the write.
func (e *Engine) ExecuteStatusChange(ctx context.Context, req ChangeRequest) (*ChangeResult, error) {
	if req.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !req.NewStatus.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown target status")
	}
	if !req.Role.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown actor role")
	}
	ctx = e.logg.WithOrderID(ctx, req.OrderID.String())
	ctx = e.logg.WithActorID(ctx, req.ActorID)

	before, validation, err := e.Check(ctx, req)
	if err != nil {
		e.metrics.ObserveTransition("", string(req.NewStatus), string(ReasonOf(err)))
		return nil, err
	}
	oldStatus := before.Status
	if !validation.Valid {
		e.metrics.ObserveTransition(string(oldStatus), string(req.NewStatus), string(validation.Reason))
		return nil, validationError(validation)
	}

	rule, _ := e.graph.Lookup(oldStatus, req.NewStatus)
	patch := e.buildPatch(rule, req)

	err = e.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := e.orders.WithTx(tx).Update(ctx, req.OrderID, patch); err != nil {
			return err
		}
		after := patch.Apply(before.Order)
		return e.outbox.Enqueue(ctx, tx, outbox.OrderStatusChanged{
			OrderID:      req.OrderID,
			RestaurantID: after.RestaurantID,
			DriverID:     after.DriverID,
			OldStatus:    oldStatus,
			NewStatus:    req.NewStatus,
			ActorID:      req.ActorID,
			ActorRole:    req.Role,
			Notes:        req.Notes,
			ChangedAt:    patch.UpdatedAt,
		}.Event())
	})
	if err != nil {
		e.metrics.ObserveTransition(string(oldStatus), string(req.NewStatus), string(ReasonStoreWriteFailure))
		if errors.Is(err, orders.ErrNotFound) {
			return nil, newReasonError(ReasonNotFound, "", "order not found", err)
		}
		return nil, newReasonError(ReasonStoreWriteFailure, "", "failed to write status change", err)
	}
	e.metrics.ObserveTransition(string(oldStatus), string(req.NewStatus), "ok")

	current := e.reload(ctx, *before, patch)
	e.logg.Info(e.logg.WithFields(ctx, map[string]any{
		"old_status": oldStatus,
		"new_status": req.NewStatus,
		"actor_role": req.Role,
	}), "order status changed")

	e.recordHistory(ctx, req, *before, current.Order)
	sent := e.notify(ctx, rule, *before, current, oldStatus, req.NewStatus)
	e.publishChange(ctx, before.Order, current.Order)
	e.scheduleAutomations(ctx, rule, req.OrderID)

	return &ChangeResult{Order: current, OldStatus: oldStatus, Notifications: sent}, nil
}

// ExecuteBulkStatusChange runs ExecuteStatusChange for each id in order.
// Failures are collected per order and never stop the loop.
func (e *Engine) ExecuteBulkStatusChange(ctx context.Context, orderIDs []uuid.UUID, newStatus enums.OrderStatus, actorID string, role enums.Role, notes *string) BulkChangeResult {
	result := BulkChangeResult{Errors: map[string]string{}}
	for _, id := range orderIDs {
		_, err := e.ExecuteStatusChange(ctx, ChangeRequest{
			OrderID:   id,
			NewStatus: newStatus,
			ActorID:   actorID,
			Role:      role,
			Notes:     notes,
		})
		if err != nil {
			result.Failed++
			result.Errors[id.String()] = pkgerrors.MessageOf(err)
			continue
		}
		result.Successful++
	}
	return result
}

func (e *Engine) load(ctx context.Context, id uuid.UUID) (*orders.OrderView, error) {
	view, err := e.orders.GetView(ctx, id)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			return nil, newReasonError(ReasonNotFound, "", "order not found", err)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return view, nil
}

func (e *Engine) buildPatch(rule lifecycle.Rule, req ChangeRequest) orders.Patch {
	status := req.NewStatus
	patch := orders.Patch{
		Status:    &status,
		UpdatedAt: e.now().UTC(),
		Notes:     req.Notes,
	}
	if rule.SetsTotalAmount {
		patch.TotalAmount = req.TotalAmount
	}
	switch {
	case rule.ClearsDriver:
		patch.ClearDriver = true
	case rule.AttachesDriver && req.DriverID != nil:
		patch.DriverID = req.DriverID
	}
	return patch
}

// reload reads the committed row back so display names follow a driver
// change. A failed read falls back to the patched copy.
func (e *Engine) reload(ctx context.Context, before orders.OrderView, patch orders.Patch) orders.OrderView {
	view, err := e.orders.GetView(ctx, before.ID)
	if err == nil {
		return *view
	}
	e.logg.Warn(e.logg.WithField(ctx, "error", err.Error()), "reload after status change failed")
	fallback := before
	fallback.Order = patch.Apply(before.Order)
	if patch.ClearDriver || patch.DriverID != nil {
		fallback.DriverName = nil
	}
	return fallback
}

func (e *Engine) recordHistory(ctx context.Context, req ChangeRequest, before orders.OrderView, after models.Order) {
	if e.history == nil {
		return
	}
	old := before.Status
	e.history.RecordStatusChange(ctx, history.StatusChange{
		OrderID:   req.OrderID,
		OldStatus: &old,
		NewStatus: req.NewStatus,
		ActorID:   req.ActorID,
		ActorRole: req.Role,
		Notes:     req.Notes,
		Metadata:  req.Metadata,
		Before:    snapshotValues(before.Order),
		After:     snapshotValues(after),
	})
}

// notify hands the change to the router. When the edge detaches the driver,
// the previous driver is still addressed.
func (e *Engine) notify(ctx context.Context, rule lifecycle.Rule, before, current orders.OrderView, oldStatus, newStatus enums.OrderStatus) []notifications.Notification {
	if e.notifier == nil {
		return nil
	}
	target := current
	if rule.ClearsDriver && before.HasDriver() {
		target.DriverID = before.DriverID
		target.DriverName = before.DriverName
	}
	sent, err := e.notifier.NotifyStatusChange(ctx, target, oldStatus, newStatus)
	if err != nil {
		e.logg.Error(ctx, "status change notification failed", err)
	}
	return sent
}

func (e *Engine) publishChange(ctx context.Context, before, after models.Order) {
	if e.changes == nil {
		return
	}
	change := realtime.OrderChange{
		Type: realtime.ChangeUpdate,
		New:  snapshot(after),
		Old:  snapshot(before),
	}
	if err := e.changes.PublishOrderChange(ctx, change); err != nil {
		e.logg.Error(ctx, "publish order change failed", err)
	}
}

func (e *Engine) scheduleAutomations(ctx context.Context, rule lifecycle.Rule, orderID uuid.UUID) {
	if e.scheduler == nil {
		return
	}
	if rule.Automation.ScheduleAutoComplete {
		if err := e.scheduler.Schedule(ctx, orderID, enums.AutomationAutoComplete, rule.To, e.cfg.AutoCompleteAfter); err != nil {
			e.logg.Error(ctx, "schedule auto-complete failed", err)
		}
	}
	if rule.Automation.ScheduleEscalation {
		if err := e.scheduler.Schedule(ctx, orderID, enums.AutomationEscalation, rule.To, e.cfg.EscalationAfter); err != nil {
			e.logg.Error(ctx, "schedule escalation failed", err)
		}
	}
}

// withRequestFields applies the request's driver and price to order, but
// only where rule lets the edge write them.
func withRequestFields(order models.Order, req ChangeRequest, rule lifecycle.Rule) models.Order {
	if req.DriverID != nil && rule.AttachesDriver {
		driver := *req.DriverID
		order.DriverID = &driver
	}
	if req.TotalAmount != nil && rule.SetsTotalAmount {
		amount := *req.TotalAmount
		order.TotalAmount = &amount
	}
	return order
}

func snapshot(order models.Order) *realtime.OrderSnapshot {
	snap := &realtime.OrderSnapshot{
		ID:           order.ID.String(),
		RestaurantID: order.RestaurantID.String(),
		Status:       order.Status,
		UpdatedAt:    order.UpdatedAt,
	}
	if order.HasDriver() {
		driver := order.DriverID.String()
		snap.DriverID = &driver
	}
	return snap
}

func snapshotValues(order models.Order) map[string]any {
	values := map[string]any{"status": string(order.Status)}
	if order.HasDriver() {
		values["driver_id"] = order.DriverID.String()
	}
	if order.TotalAmount != nil {
		values["total_amount"] = order.TotalAmount.StringFixed(2)
	}
	if order.Notes != nil {
		values["notes"] = *order.Notes
	}
	return values
}
