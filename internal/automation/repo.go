package automation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

const maxErrorLen = 1024

// ErrAlreadySettled is returned when a row left the pending state before
// the caller could settle it.
var ErrAlreadySettled = errors.New("automation already settled")

// ErrAlreadyScheduled is returned when the order already has a pending
// automation of the same kind.
var ErrAlreadyScheduled = errors.New("automation already scheduled")

// Repository persists scheduled automations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, row *models.ScheduledAutomation) error
	FetchDue(ctx context.Context, now time.Time, limit int) ([]models.ScheduledAutomation, error)
	Settle(ctx context.Context, id uuid.UUID, status enums.AutomationStatus, at time.Time, cause error) error
	Retry(ctx context.Context, id uuid.UUID, cause error) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.ScheduledAutomation, error)
	DeleteSettledBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the automation repository to a gorm connection.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Insert(ctx context.Context, row *models.ScheduledAutomation) error {
	err := r.db.WithContext(ctx).Create(row).Error
	if db.IsUniqueViolation(err, "") {
		return ErrAlreadyScheduled
	}
	return err
}

// FetchDue returns pending rows whose wake time has passed, oldest first.
func (r *repository) FetchDue(ctx context.Context, now time.Time, limit int) ([]models.ScheduledAutomation, error) {
	var rows []models.ScheduledAutomation
	err := r.db.WithContext(ctx).
		Where("status = ? AND wake_at <= ?", enums.AutomationStatusPending, now).
		Order("wake_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Settle moves a pending row to a final status. It only touches rows that
// are still pending, so a row fires at most once.
func (r *repository) Settle(ctx context.Context, id uuid.UUID, status enums.AutomationStatus, at time.Time, cause error) error {
	updates := map[string]any{
		"status":       status,
		"processed_at": at,
	}
	if cause != nil {
		updates["last_error"] = truncate(cause.Error())
		updates["attempts"] = gorm.Expr("attempts + 1")
	}
	res := r.db.WithContext(ctx).
		Model(&models.ScheduledAutomation{}).
		Where("id = ? AND status = ?", id, enums.AutomationStatusPending).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadySettled
	}
	return nil
}

// Retry keeps the row pending and records the failed attempt.
func (r *repository) Retry(ctx context.Context, id uuid.UUID, cause error) error {
	msg := ""
	if cause != nil {
		msg = truncate(cause.Error())
	}
	return r.db.WithContext(ctx).
		Model(&models.ScheduledAutomation{}).
		Where("id = ? AND status = ?", id, enums.AutomationStatusPending).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": msg,
		}).Error
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.ScheduledAutomation, error) {
	var rows []models.ScheduledAutomation
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("wake_at ASC").
		Find(&rows).Error
	return rows, err
}

// DeleteSettledBefore removes non-pending rows processed before cutoff.
func (r *repository) DeleteSettledBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status <> ? AND processed_at < ?", enums.AutomationStatusPending, cutoff).
		Delete(&models.ScheduledAutomation{})
	return res.RowsAffected, res.Error
}

func truncate(msg string) string {
	if len(msg) <= maxErrorLen {
		return msg
	}
	return msg[:maxErrorLen]
}
