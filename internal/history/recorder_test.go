package history

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

func newTestRecorder(t *testing.T) (*Recorder, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t)
	rec, err := NewRecorder(db.NewFromConn(conn), NewRepository(conn), logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	require.NoError(t, err)
	return rec, conn
}

func statusPtr(s enums.OrderStatus) *enums.OrderStatus { return &s }

func TestRecordStatusChangeWritesHistoryAndAudit(t *testing.T) {
	rec, conn := newTestRecorder(t)
	ctx := context.Background()
	orderID := uuid.New()
	notes := "customer called"

	rec.RecordStatusChange(ctx, StatusChange{
		OrderID:   orderID,
		OldStatus: statusPtr(enums.OrderStatusPending),
		NewStatus: enums.OrderStatusConfirmed,
		ActorID:   "r1",
		ActorRole: enums.RoleRestaurant,
		Notes:     &notes,
		Metadata:  map[string]any{"source": "api"},
		Before:    map[string]any{"status": "pending"},
		After:     map[string]any{"status": "confirmed"},
	})

	var history []models.OrderStatusHistory
	require.NoError(t, conn.Find(&history).Error)
	require.Len(t, history, 1)
	assert.Equal(t, enums.OrderStatusConfirmed, history[0].NewStatus)
	require.NotNil(t, history[0].OldStatus)
	assert.Equal(t, enums.OrderStatusPending, *history[0].OldStatus)
	assert.Equal(t, "api", history[0].Metadata["source"])

	var audits []models.AuditLog
	require.NoError(t, conn.Find(&audits).Error)
	require.Len(t, audits, 1)
	assert.Equal(t, ActionStatusChanged, audits[0].Action)
	assert.Equal(t, "confirmed", audits[0].NewValues["status"])
}

type failingRepo struct {
	Repository
	audits int
}

func (f *failingRepo) CreateStatusHistory(context.Context, *models.OrderStatusHistory) error {
	return errors.New("db down")
}

func (f *failingRepo) CreateAuditLog(context.Context, *models.AuditLog) error {
	f.audits++
	return errors.New("db down")
}

func TestRecordStatusChangeSwallowsFailures(t *testing.T) {
	repo := &failingRepo{}
	rec, err := NewRecorder(db.NewFromConn(dbtest.Open(t)), repo, logger.New(logger.Options{Output: io.Discard}))
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		rec.RecordStatusChange(context.Background(), StatusChange{OrderID: uuid.New(), NewStatus: enums.OrderStatusPending})
	})
	assert.Equal(t, 1, repo.audits, "audit write is still attempted after a history failure")
}

func TestOrderTimelineMergesAndDedupes(t *testing.T) {
	rec, _ := newTestRecorder(t)
	ctx := context.Background()
	orderID := uuid.New()

	clock := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	rec.now = func() time.Time { return clock }

	rec.RecordStatusChange(ctx, StatusChange{OrderID: orderID, NewStatus: enums.OrderStatusPending, ActorID: "r1", ActorRole: enums.RoleRestaurant})
	clock = clock.Add(time.Minute)
	require.NoError(t, rec.RecordAction(ctx, AuditEntry{
		OrderID:   &orderID,
		Action:    ActionBulkOperation,
		ActorID:   "admin-1",
		ActorRole: enums.RoleAdmin,
		NewValues: map[string]any{"intent": "confirm"},
	}))
	clock = clock.Add(time.Minute)
	notes := "confirmed by phone"
	rec.RecordStatusChange(ctx, StatusChange{
		OrderID:   orderID,
		OldStatus: statusPtr(enums.OrderStatusPending),
		NewStatus: enums.OrderStatusConfirmed,
		ActorID:   "admin-1",
		ActorRole: enums.RoleAdmin,
		Notes:     &notes,
	})
	rec.RecordStatusChange(ctx, StatusChange{OrderID: uuid.New(), NewStatus: enums.OrderStatusPending, ActorID: "r2", ActorRole: enums.RoleRestaurant})

	timeline, err := rec.OrderTimeline(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, timeline, 3, "status_changed audit rows are folded into history")

	assert.Equal(t, EntryStatusChange, timeline[0].Type)
	assert.Equal(t, "Order created as pending", timeline[0].Description)
	assert.Equal(t, EntryAudit, timeline[1].Type)
	assert.Equal(t, "bulk operation", timeline[1].Description)
	assert.Equal(t, Actor{ID: "admin-1", Role: enums.RoleAdmin}, timeline[1].Actor)
	assert.Equal(t, "Status changed from pending to confirmed", timeline[2].Description)
	assert.Equal(t, "confirmed by phone", timeline[2].Metadata["notes"])

	for i := 1; i < len(timeline); i++ {
		assert.False(t, timeline[i].Timestamp.Before(timeline[i-1].Timestamp))
	}
}

func TestOrderTimelineRequiresID(t *testing.T) {
	rec, _ := newTestRecorder(t)
	_, err := rec.OrderTimeline(context.Background(), uuid.Nil)
	require.Error(t, err)
}

func TestRecordActionRequiresAction(t *testing.T) {
	rec, _ := newTestRecorder(t)
	require.Error(t, rec.RecordAction(context.Background(), AuditEntry{ActorID: "a"}))
}

func TestCleanupOldHistoryRespectsCutoff(t *testing.T) {
	rec, conn := newTestRecorder(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	rec.now = func() time.Time { return now.Add(-400 * 24 * time.Hour) }
	rec.RecordStatusChange(ctx, StatusChange{OrderID: uuid.New(), NewStatus: enums.OrderStatusPending, ActorID: "r1", ActorRole: enums.RoleRestaurant})
	rec.now = func() time.Time { return now.Add(-10 * 24 * time.Hour) }
	rec.RecordStatusChange(ctx, StatusChange{OrderID: uuid.New(), NewStatus: enums.OrderStatusPending, ActorID: "r1", ActorRole: enums.RoleRestaurant})

	rec.now = func() time.Time { return now }
	deleted, err := rec.CleanupOldHistory(ctx, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted, "one history and one audit row fall past the default horizon")

	var remaining int64
	require.NoError(t, conn.Model(&models.OrderStatusHistory{}).Count(&remaining).Error)
	assert.EqualValues(t, 1, remaining)

	deleted, err = rec.CleanupOldHistory(ctx, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)
}
