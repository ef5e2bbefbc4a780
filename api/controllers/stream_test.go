package controllers

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/orderflow-backend/api/middleware"
	"github.com/angelmondragon/orderflow-backend/internal/notifications"
	internalorders "github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/internal/realtime"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

type viewMap map[uuid.UUID]internalorders.OrderView

func (v viewMap) GetView(_ context.Context, id uuid.UUID) (*internalorders.OrderView, error) {
	view, ok := v[id]
	if !ok {
		return nil, internalorders.ErrNotFound
	}
	return &view, nil
}

func newStreamServer(t *testing.T, orders orderViewer) (*realtime.Manager, *httptest.Server) {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "stream-test", Output: io.Discard})
	manager, err := realtime.NewManager(realtime.ManagerParams{Backend: realtime.NewMemoryBackend(), Logger: logg})
	require.NoError(t, err)
	t.Cleanup(manager.Cleanup)

	handler := middleware.Actor(logg)(Stream(StreamParams{Subscriber: manager, Orders: orders, Logger: logg, Heartbeat: time.Hour}))
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return manager, srv
}

func openStream(t *testing.T, ctx context.Context, url string, actor uuid.UUID, role enums.Role) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set(middleware.ActorIDHeader, actor.String())
	req.Header.Set(middleware.ActorRoleHeader, string(role))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// nextEvent reads until the next "event:" block and returns its name and data.
func nextEvent(t *testing.T, reader *bufio.Reader) (string, string) {
	t.Helper()
	var name, data string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && name != "":
			return name, data
		}
	}
}

func TestStreamDeliversOrderChangesAndNotifications(t *testing.T) {
	manager, srv := newStreamServer(t, viewMap{})
	restaurant := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resp := openStream(t, ctx, srv.URL, restaurant, enums.RoleRestaurant)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)

	orderID := uuid.NewString()
	require.NoError(t, manager.PublishOrderChange(context.Background(), realtime.OrderChange{
		Type: realtime.ChangeUpdate,
		New:  &realtime.OrderSnapshot{ID: orderID, RestaurantID: restaurant.String(), Status: enums.OrderStatusConfirmed},
	}))
	name, data := nextEvent(t, reader)
	assert.Equal(t, "order_change", name)
	assert.Contains(t, data, orderID)
	assert.Contains(t, data, `"status":"confirmed"`)

	require.NoError(t, manager.BroadcastNotification(context.Background(), restaurant.String(), notifications.Notification{
		OrderID: orderID, Type: enums.NotificationTypeStatusChange, Message: "Order confirmed", RecipientID: restaurant.String(),
	}))
	name, data = nextEvent(t, reader)
	assert.Equal(t, realtime.EventNotification, name)
	assert.Contains(t, data, "Order confirmed")

	cancel()
	require.Eventually(t, func() bool { return manager.Channels() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStreamAdminReceivesSharedAdminNotifications(t *testing.T) {
	manager, srv := newStreamServer(t, viewMap{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resp := openStream(t, ctx, srv.URL, uuid.New(), enums.RoleAdmin)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reader := bufio.NewReader(resp.Body)
	_, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, 1, manager.Channels(), "admins have no change stream")

	require.NoError(t, manager.BroadcastNotification(context.Background(), notifications.AdminRecipient, map[string]string{"message": "Delivery overdue"}))
	name, data := nextEvent(t, reader)
	assert.Equal(t, realtime.EventNotification, name)
	assert.Contains(t, data, "Delivery overdue")
}

func TestStreamTracksVisibleOrderLocation(t *testing.T) {
	restaurant := uuid.New()
	driver := uuid.New()
	orderID := uuid.New()
	manager, srv := newStreamServer(t, viewMap{
		orderID: {Order: models.Order{ID: orderID, RestaurantID: restaurant, DriverID: &driver, Status: enums.OrderStatusOutForDelivery}},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resp := openStream(t, ctx, srv.URL+"?track="+orderID.String(), restaurant, enums.RoleRestaurant)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reader := bufio.NewReader(resp.Body)
	_, err := reader.ReadString('\n')
	require.NoError(t, err)

	require.NoError(t, manager.BroadcastDriverLocation(context.Background(), realtime.DriverLocation{
		DriverID: driver.String(), OrderID: orderID.String(), Lat: 40.7, Lng: -73.9,
	}))
	name, data := nextEvent(t, reader)
	assert.Equal(t, realtime.EventLocationUpdate, name)
	assert.Contains(t, data, `"lat":40.7`)

	stranger := openStream(t, ctx, srv.URL+"?track="+orderID.String(), uuid.New(), enums.RoleRestaurant)
	defer stranger.Body.Close()
	assert.Equal(t, http.StatusNotFound, stranger.StatusCode)
}

func TestStreamRejectsSecondStreamForSameUser(t *testing.T) {
	manager, srv := newStreamServer(t, viewMap{})
	driver := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := openStream(t, ctx, srv.URL, driver, enums.RoleDriver)
	defer first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)
	_, err := bufio.NewReader(first.Body).ReadString('\n')
	require.NoError(t, err)

	second := openStream(t, ctx, srv.URL, driver, enums.RoleDriver)
	defer second.Body.Close()
	assert.Equal(t, http.StatusConflict, second.StatusCode)
	assert.Equal(t, 2, manager.Channels(), "first stream keeps its registrations")
}
