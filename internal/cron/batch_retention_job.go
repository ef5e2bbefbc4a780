package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

const defaultBatchRetention = 7 * 24 * time.Hour

type BatchRetentionJobParams struct {
	Logger      *logger.Logger
	Batches     batchPruner
	Automations automationPruner
	Retention   time.Duration
}

type batchPruner interface {
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type automationPruner interface {
	DeleteSettledBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewBatchRetentionJob removes finished bulk batches and settled
// automations older than the retention window.
func NewBatchRetentionJob(params BatchRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Batches == nil {
		return nil, fmt.Errorf("batch repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultBatchRetention
	}
	return &batchRetentionJob{
		logg:        params.Logger,
		batches:     params.Batches,
		automations: params.Automations,
		retention:   retention,
		now:         time.Now,
	}, nil
}

type batchRetentionJob struct {
	logg        *logger.Logger
	batches     batchPruner
	automations automationPruner
	retention   time.Duration
	now         func() time.Time
}

func (j *batchRetentionJob) Name() string { return "batch-retention" }

func (j *batchRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var errs error

	batches, err := j.batches.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("prune batches: %w", err))
	}
	var automations int64
	if j.automations != nil {
		automations, err = j.automations.DeleteSettledBefore(ctx, cutoff)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("prune automations: %w", err))
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":              cutoff,
		"batches_deleted":     batches,
		"automations_deleted": automations,
	})
	j.logg.Info(logCtx, "batch retention complete")
	return errs
}
