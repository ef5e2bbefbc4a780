package history

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
)

// Repository persists status history and audit rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateStatusHistory(ctx context.Context, row *models.OrderStatusHistory) error
	CreateAuditLog(ctx context.Context, row *models.AuditLog) error
	ListStatusHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error)
	ListAuditLogs(ctx context.Context, orderID uuid.UUID) ([]models.AuditLog, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a history repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) CreateStatusHistory(ctx context.Context, row *models.OrderStatusHistory) error {
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *repositoryImpl) CreateAuditLog(ctx context.Context, row *models.AuditLog) error {
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *repositoryImpl) ListStatusHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error) {
	var rows []models.OrderStatusHistory
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repositoryImpl) ListAuditLogs(ctx context.Context, orderID uuid.UUID) ([]models.AuditLog, error) {
	var rows []models.AuditLog
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

// DeleteOlderThan removes history and audit rows created before cutoff and
// returns the combined count.
func (r *repositoryImpl) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	history := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.OrderStatusHistory{})
	if history.Error != nil {
		return 0, history.Error
	}
	audit := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.AuditLog{})
	if audit.Error != nil {
		return 0, audit.Error
	}
	return history.RowsAffected + audit.RowsAffected, nil
}
