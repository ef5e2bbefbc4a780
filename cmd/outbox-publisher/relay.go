package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
)

const (
	defaultBatchSize   = 50
	defaultMaxAttempts = 10
	sendTimeout        = 15 * time.Second
	maxBackoff         = 10 * time.Second
	jitterWindow       = 250 * time.Millisecond
)

const (
	outcomePublished = "published"
	outcomeRetry     = "retry"
	outcomeParked    = "parked"
)

type database interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type eventStore interface {
	Claim(ctx context.Context, tx *gorm.DB, limit int) ([]models.OutboxEvent, error)
	MarkPublished(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, cause error) error
	Park(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.DeadLetterReason, cause error) error
}

type eventRouter interface {
	Resolve(models.OutboxEvent) (outbox.Message, error)
}

type sender interface {
	Ping(context.Context) error
	Send(ctx context.Context, topic string, msg *gcppubsub.Message) error
}

type RelayParams struct {
	Logger  *logger.Logger
	DB      database
	Store   eventStore
	Router  eventRouter
	Sender  sender
	Metrics *metrics.OutboxMetrics
	Config  config.OutboxConfig
}

// Relay moves committed outbox events to Pub/Sub. An event is parked in the
// dead letters when it cannot be routed, when Pub/Sub refuses it outright, or
// when it runs out of attempts.
type Relay struct {
	logg         *logger.Logger
	db           database
	store        eventStore
	router       eventRouter
	sender       sender
	metrics      *metrics.OutboxMetrics
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewRelay(p RelayParams) (*Relay, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database is required")
	case p.Store == nil:
		return nil, errors.New("outbox store is required")
	case p.Router == nil:
		return nil, errors.New("event router is required")
	case p.Sender == nil:
		return nil, errors.New("pubsub sender is required")
	}
	batch := p.Config.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	attempts := p.Config.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	return &Relay{
		logg:         p.Logger,
		db:           p.DB,
		store:        p.Store,
		router:       p.Router,
		sender:       p.Sender,
		metrics:      p.Metrics,
		batchSize:    batch,
		maxAttempts:  attempts,
		pollInterval: p.Config.PollInterval(),
	}, nil
}

// Run drains batches until ctx ends. A full batch is followed immediately by
// the next one; failing batches back off up to maxBackoff.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	if err := r.sender.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub ping: %w", err)
	}

	wait := r.pollInterval
	for {
		claimed, err := r.drain(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			r.logg.Error(ctx, "outbox batch failed", err)
			wait = nextBackoff(wait, r.pollInterval, maxBackoff)
		case claimed == r.batchSize:
			wait = r.pollInterval
			continue
		default:
			wait = r.pollInterval
		}
		if err := sleep(ctx, wait+jitter()); err != nil {
			return err
		}
	}
}

// drain claims one batch and settles it in the claiming transaction. Once an
// event for an aggregate is left for retry, later events for that aggregate
// wait for the next batch so consumers see them in commit order.
func (r *Relay) drain(ctx context.Context) (int, error) {
	claimed := 0
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.store.Claim(ctx, tx, r.batchSize)
		if err != nil {
			return err
		}
		claimed = len(rows)
		r.metrics.ObserveBatch(claimed)

		held := make(map[uuid.UUID]bool)
		for _, row := range rows {
			if held[row.AggregateID] {
				continue
			}
			retry, err := r.deliver(ctx, tx, row)
			if err != nil {
				return err
			}
			if retry {
				held[row.AggregateID] = true
			}
		}
		return nil
	})
	return claimed, err
}

// deliver reports whether row stays queued for another attempt. The error is
// only for bookkeeping failures, which abort the batch.
func (r *Relay) deliver(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) (bool, error) {
	ctx = r.logg.WithFields(ctx, map[string]any{
		"event_id":     row.ID.String(),
		"event_type":   row.EventType,
		"aggregate_id": row.AggregateID.String(),
		"attempts":     row.Attempts,
	})

	msg, err := r.router.Resolve(row)
	if err != nil {
		return false, r.park(ctx, tx, row, enums.DeadLetterUnroutable, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	err = r.sender.Send(sendCtx, msg.Topic, &gcppubsub.Message{
		Data:        msg.Body,
		OrderingKey: msg.OrderingKey,
		Attributes:  msg.Attributes,
	})
	cancel()

	switch {
	case err == nil:
		if err := r.store.MarkPublished(ctx, tx, row.ID); err != nil {
			return false, fmt.Errorf("mark %s published: %w", row.ID, err)
		}
		r.metrics.ObserveOutcome(string(row.EventType), outcomePublished)
		r.logg.Debug(r.logg.WithField(ctx, "topic", msg.Topic), "outbox event published")
		return false, nil
	case !pkgerrors.IsRetryable(err):
		return false, r.park(ctx, tx, row, enums.DeadLetterRejected, err)
	case row.Attempts+1 >= r.maxAttempts:
		return false, r.park(ctx, tx, row, enums.DeadLetterExhausted, err)
	}

	r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "outbox publish failed, will retry")
	if err := r.store.MarkFailed(ctx, tx, row.ID, err); err != nil {
		return false, fmt.Errorf("mark %s failed: %w", row.ID, err)
	}
	r.metrics.ObserveOutcome(string(row.EventType), outcomeRetry)
	return true, nil
}

func (r *Relay) park(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.DeadLetterReason, cause error) error {
	if err := r.store.Park(ctx, tx, row, reason, cause); err != nil {
		return err
	}
	r.metrics.ObserveOutcome(string(row.EventType), outcomeParked)
	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
		"reason": reason,
		"error":  cause.Error(),
	}), "outbox event parked")
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, limit time.Duration) time.Duration {
	if current < base {
		current = base
	}
	return min(current*2, limit)
}

func jitter() time.Duration {
	return rand.N(jitterWindow)
}
