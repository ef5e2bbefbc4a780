package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/pagination"
)

// Repository is the order store used by the workflow engine and the API.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetView(ctx context.Context, id uuid.UUID) (*OrderView, error)
	Update(ctx context.Context, id uuid.UUID, patch Patch) error
	ListByRestaurant(ctx context.Context, restaurantID uuid.UUID, params pagination.Params) (*pagination.Page[OrderView], error)
	ListByDriver(ctx context.Context, driverID uuid.UUID, params pagination.Params) (*pagination.Page[OrderView], error)
	ListByStatus(ctx context.Context, status enums.OrderStatus, params pagination.Params) (*pagination.Page[OrderView], error)
}
