package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/internal/workflow"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
)

const (
	defaultBatchSize         = 100
	defaultMaxAttempts       = 3
	defaultAutoCompleteAfter = 24 * time.Hour
)

type orderReader interface {
	GetView(ctx context.Context, id uuid.UUID) (*orders.OrderView, error)
}

type statusChanger interface {
	ExecuteStatusChange(ctx context.Context, req workflow.ChangeRequest) (*workflow.ChangeResult, error)
}

type escalationNotifier interface {
	NotifyEscalation(ctx context.Context, order orders.OrderView, overdue time.Duration) error
}

// DispatchJobParams wires the dispatcher.
type DispatchJobParams struct {
	Logger            *logger.Logger
	Repository        Repository
	Orders            orderReader
	Engine            statusChanger
	Notifier          escalationNotifier
	Metrics           *metrics.WorkflowMetrics
	BatchSize         int
	MaxAttempts       int
	AutoCompleteAfter time.Duration
}

// DispatchJob fires due automations. It satisfies the cron job contract.
type DispatchJob struct {
	logg              *logger.Logger
	repo              Repository
	orders            orderReader
	engine            statusChanger
	notifier          escalationNotifier
	metrics           *metrics.WorkflowMetrics
	batchSize         int
	maxAttempts       int
	autoCompleteAfter time.Duration
	now               func() time.Time
}

// NewDispatchJob builds the order-automation cron job.
func NewDispatchJob(params DispatchJobParams) (*DispatchJob, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("automation repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order reader required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("workflow engine required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("escalation notifier required")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	autoCompleteAfter := params.AutoCompleteAfter
	if autoCompleteAfter <= 0 {
		autoCompleteAfter = defaultAutoCompleteAfter
	}
	return &DispatchJob{
		logg:              params.Logger,
		repo:              params.Repository,
		orders:            params.Orders,
		engine:            params.Engine,
		notifier:          params.Notifier,
		metrics:           params.Metrics,
		batchSize:         batchSize,
		maxAttempts:       maxAttempts,
		autoCompleteAfter: autoCompleteAfter,
		now:               time.Now,
	}, nil
}

func (j *DispatchJob) Name() string { return "order-automation" }

// Run processes one batch of due automations. Per-row failures are
// recorded on the row and combined into the returned error.
func (j *DispatchJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	rows, err := j.repo.FetchDue(ctx, now, j.batchSize)
	if err != nil {
		return fmt.Errorf("fetch due automations: %w", err)
	}
	var (
		errs   error
		counts = map[enums.AutomationStatus]int{}
	)
	for _, row := range rows {
		status, err := j.dispatch(ctx, row)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("automation %s: %w", row.ID, err))
		}
		counts[status]++
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"due":     len(rows),
		"done":    counts[enums.AutomationStatusDone],
		"skipped": counts[enums.AutomationStatusSkipped],
		"failed":  counts[enums.AutomationStatusFailed],
		"retried": counts[enums.AutomationStatusPending],
	}), "order automation run complete")
	return errs
}

func (j *DispatchJob) dispatch(ctx context.Context, row models.ScheduledAutomation) (enums.AutomationStatus, error) {
	ctx = j.logg.WithOrderID(ctx, row.OrderID.String())
	ctx = j.logg.WithField(ctx, "automation_kind", string(row.Kind))

	view, err := j.orders.GetView(ctx, row.OrderID)
	if errors.Is(err, orders.ErrNotFound) {
		return j.settle(ctx, row, enums.AutomationStatusSkipped, nil)
	}
	if err != nil {
		return j.fail(ctx, row, fmt.Errorf("load order: %w", err))
	}
	if view.Status != row.ExpectedStatus {
		j.logg.Debug(j.logg.WithField(ctx, "current_status", string(view.Status)), "order moved on, skipping automation")
		return j.settle(ctx, row, enums.AutomationStatusSkipped, nil)
	}

	switch row.Kind {
	case enums.AutomationAutoComplete:
		err = j.autoComplete(ctx, row)
		if pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
			return j.settle(ctx, row, enums.AutomationStatusSkipped, nil)
		}
	case enums.AutomationEscalation:
		err = j.notifier.NotifyEscalation(ctx, *view, j.now().UTC().Sub(row.CreatedAt))
	default:
		return j.settle(ctx, row, enums.AutomationStatusFailed, fmt.Errorf("unknown automation kind %q", row.Kind))
	}
	if err != nil {
		return j.fail(ctx, row, err)
	}
	return j.settle(ctx, row, enums.AutomationStatusDone, nil)
}

func (j *DispatchJob) autoComplete(ctx context.Context, row models.ScheduledAutomation) error {
	note := fmt.Sprintf("Auto-completed after %d hours", int(j.autoCompleteAfter.Hours()))
	_, err := j.engine.ExecuteStatusChange(ctx, workflow.ChangeRequest{
		OrderID:   row.OrderID,
		NewStatus: enums.OrderStatusCompleted,
		ActorID:   workflow.SystemActorID,
		Role:      enums.RoleAdmin,
		Notes:     &note,
		Metadata:  map[string]any{"automation_id": row.ID.String()},
	})
	return err
}

// fail retries the row until it has used its attempts, then marks it failed.
func (j *DispatchJob) fail(ctx context.Context, row models.ScheduledAutomation, cause error) (enums.AutomationStatus, error) {
	if row.Attempts+1 < j.maxAttempts {
		if err := j.repo.Retry(ctx, row.ID, cause); err != nil {
			return enums.AutomationStatusPending, multierr.Append(cause, err)
		}
		j.logg.Warn(j.logg.WithField(ctx, "error", cause.Error()), "automation failed, will retry")
		return enums.AutomationStatusPending, cause
	}
	return j.settle(ctx, row, enums.AutomationStatusFailed, cause)
}

func (j *DispatchJob) settle(ctx context.Context, row models.ScheduledAutomation, status enums.AutomationStatus, cause error) (enums.AutomationStatus, error) {
	err := j.repo.Settle(ctx, row.ID, status, j.now().UTC(), cause)
	if errors.Is(err, ErrAlreadySettled) {
		return status, nil
	}
	if err != nil {
		return status, multierr.Append(cause, fmt.Errorf("settle automation: %w", err))
	}
	j.metrics.ObserveAutomation(string(row.Kind), string(status))
	if status == enums.AutomationStatusFailed {
		j.logg.Error(ctx, "automation failed", cause)
	}
	return status, cause
}
