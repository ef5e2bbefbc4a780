package bulk

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// ErrBatchNotFound is returned when a batch id is unknown.
var ErrBatchNotFound = errors.New("batch operation not found")

// Repository persists bulk batch records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, batch *models.BatchOperation) error
	Finish(ctx context.Context, batch *models.BatchOperation) error
	Get(ctx context.Context, id uuid.UUID) (*models.BatchOperation, error)
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the batch repository to a gorm connection.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, batch *models.BatchOperation) error {
	return r.db.WithContext(ctx).Create(batch).Error
}

// Finish writes the final counters and status of batch.
func (r *repository) Finish(ctx context.Context, batch *models.BatchOperation) error {
	return r.db.WithContext(ctx).
		Model(&models.BatchOperation{ID: batch.ID}).
		Select("status", "processed_items", "success_count", "error_count", "errors", "completed_at").
		Updates(batch).Error
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*models.BatchOperation, error) {
	var batch models.BatchOperation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// DeleteFinishedBefore removes completed or failed batches that finished
// before cutoff.
func (r *repository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status IN ? AND completed_at < ?", []enums.BatchStatus{enums.BatchStatusCompleted, enums.BatchStatusFailed}, cutoff).
		Delete(&models.BatchOperation{})
	return res.RowsAffected, res.Error
}
