package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

const defaultOutboxRetention = 30 * 24 * time.Hour

type OutboxRetentionJobParams struct {
	Logger    *logger.Logger
	Outbox    outboxPruner
	Retention time.Duration
}

type outboxPruner interface {
	PurgePublished(ctx context.Context, cutoff time.Time) (int64, error)
	CountDeadLetters(ctx context.Context) (int64, error)
}

// NewOutboxRetentionJob purges published domain events past retention and
// warns while parked events are waiting for an operator.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox store required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultOutboxRetention
	}
	return &outboxRetentionJob{
		logg:      params.Logger,
		outbox:    params.Outbox,
		retention: retention,
		now:       time.Now,
	}, nil
}

type outboxRetentionJob struct {
	logg      *logger.Logger
	outbox    outboxPruner
	retention time.Duration
	now       func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	purged, err := j.outbox.PurgePublished(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}
	ctx = j.logg.WithFields(ctx, map[string]any{
		"cutoff":      cutoff,
		"rows_purged": purged,
	})

	parked, err := j.outbox.CountDeadLetters(ctx)
	if err != nil {
		return fmt.Errorf("count dead letters: %w", err)
	}
	if parked > 0 {
		j.logg.Warn(j.logg.WithField(ctx, "dead_letters", parked), "outbox has parked events")
	}
	j.logg.Info(ctx, "outbox retention complete")
	return nil
}
