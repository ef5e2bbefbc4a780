package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/pagination"
)

func newProfile(t *testing.T, db *gorm.DB, role enums.Role, name string) uuid.UUID {
	t.Helper()
	profile := models.Profile{ID: uuid.New(), Role: role, DisplayName: name, CreatedAt: time.Now().UTC()}
	require.NoError(t, db.Create(&profile).Error)
	return profile.ID
}

func TestRepositoryCreateAndGet(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()

	restaurantID := newProfile(t, db, enums.RoleRestaurant, "Luigi's")
	created, err := repo.Create(ctx, &models.Order{RestaurantID: restaurantID})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, created.Status)

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, restaurantID, got.RestaurantID)
	assert.Nil(t, got.DriverID)
	assert.Nil(t, got.TotalAmount)

	_, err = repo.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepositoryUpdateAppliesPatch(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()

	restaurantID := newProfile(t, db, enums.RoleRestaurant, "Luigi's")
	driverID := newProfile(t, db, enums.RoleDriver, "Dana")
	order, err := repo.Create(ctx, &models.Order{RestaurantID: restaurantID, Status: enums.OrderStatusPriced})
	require.NoError(t, err)

	amount := decimal.RequireFromString("125.50")
	now := time.Now().UTC()
	require.NoError(t, repo.Update(ctx, order.ID, Patch{
		Status:      StatusPtr(enums.OrderStatusAssigned),
		UpdatedAt:   now,
		Notes:       StringPtr("leave at back door"),
		DriverID:    &driverID,
		TotalAmount: &amount,
	}))

	view, err := repo.GetView(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusAssigned, view.Status)
	require.NotNil(t, view.DriverID)
	assert.Equal(t, driverID, *view.DriverID)
	require.NotNil(t, view.TotalAmount)
	assert.True(t, amount.Equal(*view.TotalAmount))
	require.NotNil(t, view.RestaurantName)
	assert.Equal(t, "Luigi's", *view.RestaurantName)
	require.NotNil(t, view.DriverName)
	assert.Equal(t, "Dana", *view.DriverName)

	require.NoError(t, repo.Update(ctx, order.ID, Patch{
		Status:      StatusPtr(enums.OrderStatusCancelled),
		ClearDriver: true,
	}))
	got, err := repo.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Nil(t, got.DriverID)
	assert.Equal(t, enums.OrderStatusCancelled, got.Status)

	err = repo.Update(ctx, uuid.New(), Patch{Status: StatusPtr(enums.OrderStatusConfirmed)})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepositoryGetViewWithoutDriver(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()

	restaurantID := newProfile(t, db, enums.RoleRestaurant, "Taqueria")
	order, err := repo.Create(ctx, &models.Order{RestaurantID: restaurantID})
	require.NoError(t, err)

	view, err := repo.GetView(ctx, order.ID)
	require.NoError(t, err)
	assert.Nil(t, view.DriverName)

	_, err = repo.GetView(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepositoryListFiltersAndPaginates(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()

	restaurantA := newProfile(t, db, enums.RoleRestaurant, "A")
	restaurantB := newProfile(t, db, enums.RoleRestaurant, "B")
	driver := newProfile(t, db, enums.RoleDriver, "D")

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := repo.Create(ctx, &models.Order{
			RestaurantID: restaurantA,
			Status:       enums.OrderStatusPending,
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	_, err := repo.Create(ctx, &models.Order{
		RestaurantID: restaurantB,
		DriverID:     &driver,
		Status:       enums.OrderStatusAssigned,
		CreatedAt:    base,
	})
	require.NoError(t, err)

	page, err := repo.ListByRestaurant(ctx, restaurantA, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)
	assert.True(t, page.Items[0].CreatedAt.After(page.Items[1].CreatedAt))

	next, err := repo.ListByRestaurant(ctx, restaurantA, pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, next.Items, 1)
	assert.Empty(t, next.NextCursor)

	byDriver, err := repo.ListByDriver(ctx, driver, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, byDriver.Items, 1)
	assert.Equal(t, restaurantB, byDriver.Items[0].RestaurantID)

	byStatus, err := repo.ListByStatus(ctx, enums.OrderStatusPending, pagination.Params{})
	require.NoError(t, err)
	assert.Len(t, byStatus.Items, 3)
}

func TestPatchApplyMirrorsColumns(t *testing.T) {
	driver := uuid.New()
	order := models.Order{ID: uuid.New(), Status: enums.OrderStatusPriced}
	patched := Patch{Status: StatusPtr(enums.OrderStatusAssigned), DriverID: &driver}.Apply(order)
	assert.Equal(t, enums.OrderStatusAssigned, patched.Status)
	require.NotNil(t, patched.DriverID)
	assert.Equal(t, enums.OrderStatusPriced, order.Status, "original must not change")

	cleared := Patch{ClearDriver: true, DriverID: &driver}.Apply(patched)
	assert.Nil(t, cleared.DriverID)
	assert.Empty(t, Patch{}.columns())
}
