package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/pagination"
)

// ErrNotFound is returned when no order matches the id.
var ErrNotFound = errors.New("order not found")

const viewSelect = "orders.*, r.display_name AS restaurant_name, d.display_name AS driver_name"

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.Status == "" {
		order.Status = enums.OrderStatusPending
	}
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, err
	}
	return order, nil
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *repository) GetView(ctx context.Context, id uuid.UUID) (*OrderView, error) {
	var views []OrderView
	err := r.viewQuery(ctx).
		Where("orders.id = ?", id).
		Limit(1).
		Scan(&views).Error
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, ErrNotFound
	}
	return &views[0], nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, patch Patch) error {
	updates := patch.columns()
	if len(updates) == 0 {
		return nil
	}
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) ListByRestaurant(ctx context.Context, restaurantID uuid.UUID, params pagination.Params) (*pagination.Page[OrderView], error) {
	return r.list(ctx, params, "orders.restaurant_id = ?", restaurantID)
}

func (r *repository) ListByDriver(ctx context.Context, driverID uuid.UUID, params pagination.Params) (*pagination.Page[OrderView], error) {
	return r.list(ctx, params, "orders.driver_id = ?", driverID)
}

func (r *repository) ListByStatus(ctx context.Context, status enums.OrderStatus, params pagination.Params) (*pagination.Page[OrderView], error) {
	return r.list(ctx, params, "orders.status = ?", status)
}

func (r *repository) list(ctx context.Context, params pagination.Params, where string, arg any) (*pagination.Page[OrderView], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	query := r.viewQuery(ctx).Where(where, arg)
	if cursor != nil {
		clause, args := cursor.Where("orders.created_at", "orders.id")
		query = query.Where(clause, args...)
	}
	var rows []OrderView
	err = query.
		Order("orders.created_at DESC").
		Order("orders.id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	page := pagination.Trim(rows, params.Limit, OrderView.Cursor)
	return &page, nil
}

func (r *repository) viewQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("orders").
		Select(viewSelect).
		Joins("LEFT JOIN profiles r ON r.id = orders.restaurant_id").
		Joins("LEFT JOIN profiles d ON d.id = orders.driver_id")
}
