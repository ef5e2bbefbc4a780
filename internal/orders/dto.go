package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/pagination"
)

// OrderView is an order joined with the display names of its parties.
type OrderView struct {
	models.Order   `gorm:"embedded"`
	RestaurantName *string `gorm:"column:restaurant_name" json:"restaurant_name"`
	DriverName     *string `gorm:"column:driver_name" json:"driver_name"`
}

// Cursor returns the pagination cursor pointing at this row.
func (v OrderView) Cursor() pagination.Cursor {
	return pagination.Cursor{CreatedAt: v.CreatedAt, ID: v.ID}
}

// Patch is a partial update of an order row. Nil fields are left unchanged.
type Patch struct {
	Status      *enums.OrderStatus
	UpdatedAt   time.Time
	Notes       *string
	DriverID    *uuid.UUID
	ClearDriver bool
	TotalAmount *decimal.Decimal
}

func (p Patch) columns() map[string]any {
	updates := map[string]any{}
	if p.Status != nil {
		updates["status"] = *p.Status
	}
	if !p.UpdatedAt.IsZero() {
		updates["updated_at"] = p.UpdatedAt
	}
	if p.Notes != nil {
		updates["notes"] = *p.Notes
	}
	if p.ClearDriver {
		updates["driver_id"] = nil
	} else if p.DriverID != nil {
		updates["driver_id"] = *p.DriverID
	}
	if p.TotalAmount != nil {
		updates["total_amount"] = *p.TotalAmount
	}
	return updates
}

// Apply returns a copy of order with the patch applied.
func (p Patch) Apply(order models.Order) models.Order {
	if p.Status != nil {
		order.Status = *p.Status
	}
	if !p.UpdatedAt.IsZero() {
		order.UpdatedAt = p.UpdatedAt
	}
	if p.Notes != nil {
		notes := *p.Notes
		order.Notes = &notes
	}
	if p.ClearDriver {
		order.DriverID = nil
	} else if p.DriverID != nil {
		driver := *p.DriverID
		order.DriverID = &driver
	}
	if p.TotalAmount != nil {
		amount := *p.TotalAmount
		order.TotalAmount = &amount
	}
	return order
}

// StringPtr is a small helper for building patches.
func StringPtr(v string) *string { return &v }

// StatusPtr is a small helper for building patches.
func StatusPtr(v enums.OrderStatus) *enums.OrderStatus { return &v }
