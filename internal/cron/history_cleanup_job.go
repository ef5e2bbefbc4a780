package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/orderflow-backend/internal/history"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

type HistoryCleanupJobParams struct {
	Logger    *logger.Logger
	Recorder  historyCleaner
	Retention int
}

type historyCleaner interface {
	CleanupOldHistory(ctx context.Context, daysToKeep int) (int64, error)
}

// NewHistoryCleanupJob prunes status history and audit rows past retention.
func NewHistoryCleanupJob(params HistoryCleanupJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Recorder == nil {
		return nil, fmt.Errorf("history recorder required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = history.DefaultRetentionDays
	}
	return &historyCleanupJob{
		logg:      params.Logger,
		recorder:  params.Recorder,
		retention: retention,
	}, nil
}

type historyCleanupJob struct {
	logg      *logger.Logger
	recorder  historyCleaner
	retention int
}

func (j *historyCleanupJob) Name() string { return "history-cleanup" }

func (j *historyCleanupJob) Run(ctx context.Context) error {
	deleted, err := j.recorder.CleanupOldHistory(ctx, j.retention)
	if err != nil {
		return fmt.Errorf("history cleanup: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	})
	j.logg.Info(logCtx, "history cleanup complete")
	return nil
}
