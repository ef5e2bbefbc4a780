package notifications

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/orderflow-backend/internal/lifecycle"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

type recordingTransport struct {
	mu    sync.Mutex
	sent  []Notification
	failn map[string]error
}

func (r *recordingTransport) BroadcastNotification(_ context.Context, recipientID string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failn[recipientID]; err != nil {
		return err
	}
	r.sent = append(r.sent, payload.(Notification))
	return nil
}

type recordingBrowser struct {
	mu    sync.Mutex
	got   []Notification
	panic bool
}

func (b *recordingBrowser) NotifyBrowser(_ context.Context, n Notification) error {
	if b.panic {
		panic("browser exploded")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.got = append(b.got, n)
	return nil
}

func newTestRouter(t *testing.T, transport Transport, browser BrowserNotifier) *Router {
	t.Helper()
	r, err := NewRouter(RouterParams{
		Transport: transport,
		Browser:   browser,
		Logger:    logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	require.NoError(t, err)
	r.goFn = func(fn func()) { fn() }
	r.now = func() time.Time { return time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC) }
	return r
}

func strPtr(s string) *string { return &s }

func testOrder(withDriver bool) orders.OrderView {
	view := orders.OrderView{
		Order: models.Order{
			ID:           uuid.MustParse("0b7d6c1e-5a4f-4c1e-9f1d-2a3b4c5d6e7f"),
			RestaurantID: uuid.MustParse("11111111-1111-1111-1111-111111111111"),
			Status:       enums.OrderStatusAssigned,
		},
		RestaurantName: strPtr("Luigi's"),
	}
	if withDriver {
		driver := uuid.MustParse("22222222-2222-2222-2222-222222222222")
		view.DriverID = &driver
		view.DriverName = strPtr("Dana")
	}
	return view
}

func TestNewRouterRequiresDependencies(t *testing.T) {
	_, err := NewRouter(RouterParams{Logger: logger.New(logger.Options{Output: io.Discard})})
	require.Error(t, err)
	_, err = NewRouter(RouterParams{Transport: &recordingTransport{}})
	require.Error(t, err)
}

func TestNotifyAssignmentReachesDriverAndRestaurant(t *testing.T) {
	transport := &recordingTransport{}
	browser := &recordingBrowser{}
	r := newTestRouter(t, transport, browser)

	order := testOrder(true)
	sent, err := r.NotifyStatusChange(context.Background(), order, enums.OrderStatusPriced, enums.OrderStatusAssigned)
	require.NoError(t, err)
	require.Len(t, sent, 2)
	require.Len(t, transport.sent, 2)

	byRole := map[enums.Role]Notification{}
	for _, n := range transport.sent {
		byRole[n.RecipientRole] = n
	}
	driver := byRole[enums.RoleDriver]
	assert.Equal(t, order.DriverID.String(), driver.RecipientID)
	assert.Equal(t, enums.NotificationTypeAssigned, driver.Type)
	assert.Equal(t, enums.NotificationPriorityHigh, driver.Priority)
	assert.Equal(t, "You have been assigned order #0b7d6c1e from Luigi's", driver.Message)

	restaurant := byRole[enums.RoleRestaurant]
	assert.Equal(t, order.RestaurantID.String(), restaurant.RecipientID)
	assert.Equal(t, "Dana has been assigned to order #0b7d6c1e", restaurant.Message)
	assert.Equal(t, order.ID.String(), restaurant.OrderID)

	assert.Len(t, browser.got, 2, "assignment is browser eligible")
}

func TestAdminMessageCarriesNamesAndTransition(t *testing.T) {
	transport := &recordingTransport{}
	r := newTestRouter(t, transport, &recordingBrowser{})

	order := testOrder(true)
	order.Status = enums.OrderStatusOutForDelivery
	_, err := r.NotifyStatusChange(context.Background(), order, enums.OrderStatusAssigned, enums.OrderStatusOutForDelivery)
	require.NoError(t, err)

	var admin *Notification
	for i := range transport.sent {
		if transport.sent[i].RecipientRole == enums.RoleAdmin {
			admin = &transport.sent[i]
		}
	}
	require.NotNil(t, admin)
	assert.Equal(t, AdminRecipient, admin.RecipientID)
	assert.Equal(t, "Order #0b7d6c1e (Luigi's, driver Dana): assigned → out for delivery", admin.Message)
}

func TestDriverRecipientSkippedWithoutDriver(t *testing.T) {
	transport := &recordingTransport{}
	r := newTestRouter(t, transport, nil)

	// delivered -> completed notifies restaurant and driver
	sent, err := r.NotifyStatusChange(context.Background(), testOrder(false), enums.OrderStatusDelivered, enums.OrderStatusCompleted)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, enums.RoleRestaurant, sent[0].RecipientRole)
}

func TestAdminNeverGetsBrowserNotification(t *testing.T) {
	transport := &recordingTransport{}
	browser := &recordingBrowser{}
	r := newTestRouter(t, transport, browser)

	_, err := r.NotifyStatusChange(context.Background(), testOrder(true), enums.OrderStatusOutForDelivery, enums.OrderStatusDelivered)
	require.NoError(t, err)
	require.Len(t, transport.sent, 2)
	require.Len(t, browser.got, 1)
	assert.Equal(t, enums.RoleRestaurant, browser.got[0].RecipientRole)
}

func TestNonBrowserEdgeSkipsBrowser(t *testing.T) {
	browser := &recordingBrowser{}
	r := newTestRouter(t, &recordingTransport{}, browser)

	_, err := r.NotifyStatusChange(context.Background(), testOrder(false), enums.OrderStatusPending, enums.OrderStatusConfirmed)
	require.NoError(t, err)
	assert.Empty(t, browser.got)
}

func TestBrowserPanicIsContained(t *testing.T) {
	transport := &recordingTransport{}
	r := newTestRouter(t, transport, &recordingBrowser{panic: true})

	sent, err := r.NotifyStatusChange(context.Background(), testOrder(true), enums.OrderStatusPriced, enums.OrderStatusAssigned)
	require.NoError(t, err)
	assert.Len(t, sent, 2)
}

func TestBroadcastFailureIsReportedPerRecipient(t *testing.T) {
	order := testOrder(true)
	transport := &recordingTransport{failn: map[string]error{order.DriverID.String(): errors.New("channel down")}}
	r := newTestRouter(t, transport, nil)

	sent, err := r.NotifyStatusChange(context.Background(), order, enums.OrderStatusPriced, enums.OrderStatusAssigned)
	require.Error(t, err)
	require.Len(t, sent, 1, "other recipients still receive theirs")
	assert.Equal(t, enums.RoleRestaurant, sent[0].RecipientRole)
}

func TestUnknownEdgeSendsNothing(t *testing.T) {
	transport := &recordingTransport{}
	r := newTestRouter(t, transport, nil)

	sent, err := r.NotifyStatusChange(context.Background(), testOrder(false), enums.OrderStatusPending, enums.OrderStatusDelivered)
	require.NoError(t, err)
	assert.Empty(t, sent)
	assert.Empty(t, transport.sent)
}

func TestEmailChannelIsAStub(t *testing.T) {
	graph := lifecycle.NewGraph(lifecycle.Rule{
		Edge:         lifecycle.Edge{From: enums.OrderStatusPending, To: enums.OrderStatusConfirmed},
		AllowedRoles: []enums.Role{enums.RoleAdmin},
		Notify: lifecycle.NotifyPolicy{
			Recipients: []enums.Role{enums.RoleRestaurant},
			Priority:   enums.NotificationPriorityNormal,
			Type:       enums.NotificationTypeStatusChange,
			Channels:   lifecycle.Channels{Email: true},
		},
	})
	transport := &recordingTransport{}
	r := newTestRouter(t, transport, nil)
	r.graph = graph

	sent, err := r.NotifyStatusChange(context.Background(), testOrder(false), enums.OrderStatusPending, enums.OrderStatusConfirmed)
	require.NoError(t, err)
	assert.Len(t, sent, 1)
	assert.Empty(t, transport.sent, "email only policy never touches the realtime transport")
}

func TestNotifyEscalationIsUrgentForAdmin(t *testing.T) {
	transport := &recordingTransport{}
	r := newTestRouter(t, transport, nil)

	order := testOrder(true)
	require.NoError(t, r.NotifyEscalation(context.Background(), order, 2*time.Hour))
	require.Len(t, transport.sent, 1)
	n := transport.sent[0]
	assert.Equal(t, AdminRecipient, n.RecipientID)
	assert.Equal(t, enums.NotificationPriorityUrgent, n.Priority)
	assert.Contains(t, n.Message, "over 2h0m0s")
	assert.Equal(t, order.DriverID.String(), n.Data["driver_id"])
}

func TestNotifyBulkSummary(t *testing.T) {
	transport := &recordingTransport{}
	r := newTestRouter(t, transport, nil)

	require.NoError(t, r.NotifyBulkSummary(context.Background(), BulkSummary{
		BatchID:    "b1",
		Intent:     enums.BulkIntentCancel,
		Target:     enums.OrderStatusCancelled,
		Total:      3,
		Successful: 2,
		Failed:     1,
	}))
	require.Len(t, transport.sent, 1)
	assert.Equal(t, "Bulk cancel finished: 2 of 3 orders moved to cancelled, 1 failed", transport.sent[0].Message)
	assert.Equal(t, "b1", transport.sent[0].Data["batch_id"])
}

type browserCall struct {
	recipient string
	payload   any
}

type fakeBrowserTransport struct{ calls []browserCall }

func (f *fakeBrowserTransport) RequestBrowserNotification(_ context.Context, recipientID string, payload any) error {
	f.calls = append(f.calls, browserCall{recipient: recipientID, payload: payload})
	return nil
}

func TestTransportBrowserNotifierTargetsRecipient(t *testing.T) {
	fake := &fakeBrowserTransport{}
	notifier := NewTransportBrowserNotifier(fake)
	require.NoError(t, notifier.NotifyBrowser(context.Background(), Notification{RecipientID: "u1", Message: "hi"}))
	require.Len(t, fake.calls, 1)
	assert.Equal(t, "u1", fake.calls[0].recipient)
}
