package orders

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/orderflow-backend/api/middleware"
	"github.com/angelmondragon/orderflow-backend/internal/history"
	internalorders "github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/internal/workflow"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/pagination"
)

type stubEngine struct {
	got    workflow.ChangeRequest
	result *workflow.ChangeResult
	err    error
}

func (s *stubEngine) ExecuteStatusChange(_ context.Context, req workflow.ChangeRequest) (*workflow.ChangeResult, error) {
	s.got = req
	return s.result, s.err
}

func (s *stubEngine) AllowedTransitions(current enums.OrderStatus, role enums.Role, _ string, _ models.Order) []enums.OrderStatus {
	if current == enums.OrderStatusPending && role == enums.RoleRestaurant {
		return []enums.OrderStatus{enums.OrderStatusConfirmed, enums.OrderStatusCancelled}
	}
	return nil
}

type stubRepo struct {
	views      map[uuid.UUID]internalorders.OrderView
	listedBy   string
	listedArg  any
	listParams pagination.Params
}

func (s *stubRepo) GetView(_ context.Context, id uuid.UUID) (*internalorders.OrderView, error) {
	v, ok := s.views[id]
	if !ok {
		return nil, internalorders.ErrNotFound
	}
	return &v, nil
}

func (s *stubRepo) page() *pagination.Page[internalorders.OrderView] {
	return &pagination.Page[internalorders.OrderView]{Items: []internalorders.OrderView{}}
}

func (s *stubRepo) ListByRestaurant(_ context.Context, id uuid.UUID, params pagination.Params) (*pagination.Page[internalorders.OrderView], error) {
	s.listedBy, s.listedArg, s.listParams = "restaurant", id, params
	return s.page(), nil
}

func (s *stubRepo) ListByDriver(_ context.Context, id uuid.UUID, params pagination.Params) (*pagination.Page[internalorders.OrderView], error) {
	s.listedBy, s.listedArg, s.listParams = "driver", id, params
	return s.page(), nil
}

func (s *stubRepo) ListByStatus(_ context.Context, status enums.OrderStatus, params pagination.Params) (*pagination.Page[internalorders.OrderView], error) {
	s.listedBy, s.listedArg, s.listParams = "status", status, params
	return s.page(), nil
}

type stubTimeline struct {
	entries []history.TimelineEntry
}

func (s stubTimeline) OrderTimeline(context.Context, uuid.UUID) ([]history.TimelineEntry, error) {
	return s.entries, nil
}

func actorRequest(method, target string, body io.Reader, actorID uuid.UUID, role enums.Role, params map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, body)
	rc := chi.NewRouteContext()
	for k, v := range params {
		rc.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rc)
	return req.WithContext(middleware.WithActor(ctx, actorID.String(), role))
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	return payload.Error.Code
}

func TestChangeStatusBuildsRequestFromActorAndBody(t *testing.T) {
	orderID := uuid.New()
	driverID := uuid.New()
	actor := uuid.New()
	engine := &stubEngine{result: &workflow.ChangeResult{OldStatus: enums.OrderStatusPriced}}

	body := `{"status":"assigned","driver_id":"` + driverID.String() + `","notes":"  leave at back door  ","total_amount":"12.50"}`
	req := actorRequest(http.MethodPost, "/", strings.NewReader(body), actor, enums.RoleAdmin, map[string]string{"orderId": orderID.String()})
	resp := httptest.NewRecorder()
	ChangeStatus(engine, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, orderID, engine.got.OrderID)
	assert.Equal(t, enums.OrderStatusAssigned, engine.got.NewStatus)
	assert.Equal(t, actor.String(), engine.got.ActorID)
	assert.Equal(t, enums.RoleAdmin, engine.got.Role)
	require.NotNil(t, engine.got.DriverID)
	assert.Equal(t, driverID, *engine.got.DriverID)
	require.NotNil(t, engine.got.Notes)
	assert.Equal(t, "leave at back door", *engine.got.Notes)
	require.NotNil(t, engine.got.TotalAmount)
	assert.Equal(t, "12.5", engine.got.TotalAmount.String())
}

func TestChangeStatusRejectsBadInput(t *testing.T) {
	orderID := uuid.New().String()
	cases := map[string]struct {
		orderID string
		body    string
	}{
		"bad order id":    {"nope", `{"status":"confirmed"}`},
		"missing status":  {orderID, `{}`},
		"unknown status":  {orderID, `{"status":"teleported"}`},
		"unknown field":   {orderID, `{"status":"confirmed","rush":true}`},
		"bad driver id":   {orderID, `{"status":"assigned","driver_id":"abc"}`},
		"negative amount": {orderID, `{"status":"priced","total_amount":"-1"}`},
	}
	for name, tc := range cases {
		engine := &stubEngine{}
		req := actorRequest(http.MethodPost, "/", strings.NewReader(tc.body), uuid.New(), enums.RoleAdmin, map[string]string{"orderId": tc.orderID})
		resp := httptest.NewRecorder()
		ChangeStatus(engine, nil).ServeHTTP(resp, req)

		assert.Equal(t, http.StatusBadRequest, resp.Code, name)
		assert.Equal(t, uuid.Nil, engine.got.OrderID, "%s: engine must not run", name)
	}
}

func TestChangeStatusMapsWorkflowRejection(t *testing.T) {
	engine := &stubEngine{err: workflow.ReasonError(workflow.ReasonInvalidTransition, "cannot move an order from delivered to pending")}
	req := actorRequest(http.MethodPost, "/", strings.NewReader(`{"status":"pending"}`), uuid.New(), enums.RoleAdmin, map[string]string{"orderId": uuid.NewString()})
	resp := httptest.NewRecorder()
	ChangeStatus(engine, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Equal(t, "STATE_CONFLICT", decodeError(t, resp))
}

func TestTransitionsForOwningRestaurant(t *testing.T) {
	restaurant := uuid.New()
	orderID := uuid.New()
	repo := &stubRepo{views: map[uuid.UUID]internalorders.OrderView{
		orderID: {Order: models.Order{ID: orderID, RestaurantID: restaurant, Status: enums.OrderStatusPending}},
	}}

	req := actorRequest(http.MethodGet, "/", nil, restaurant, enums.RoleRestaurant, map[string]string{"orderId": orderID.String()})
	resp := httptest.NewRecorder()
	Transitions(repo, &stubEngine{}, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var envelope struct {
		Data TransitionsResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	assert.Equal(t, enums.OrderStatusPending, envelope.Data.CurrentStatus)
	assert.Equal(t, []enums.OrderStatus{enums.OrderStatusConfirmed, enums.OrderStatusCancelled}, envelope.Data.Transitions)
}

func TestOrdersOutsideReachLookMissing(t *testing.T) {
	orderID := uuid.New()
	repo := &stubRepo{views: map[uuid.UUID]internalorders.OrderView{
		orderID: {Order: models.Order{ID: orderID, RestaurantID: uuid.New(), Status: enums.OrderStatusPending}},
	}}

	for _, role := range []enums.Role{enums.RoleRestaurant, enums.RoleDriver} {
		req := actorRequest(http.MethodGet, "/", nil, uuid.New(), role, map[string]string{"orderId": orderID.String()})
		resp := httptest.NewRecorder()
		Timeline(repo, stubTimeline{}, nil).ServeHTTP(resp, req)
		assert.Equal(t, http.StatusNotFound, resp.Code, role)
	}

	req := actorRequest(http.MethodGet, "/", nil, uuid.New(), enums.RoleAdmin, map[string]string{"orderId": uuid.NewString()})
	resp := httptest.NewRecorder()
	Timeline(repo, stubTimeline{}, nil).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusNotFound, resp.Code, "unknown order")
}

func TestTimelineForAssignedDriver(t *testing.T) {
	driver := uuid.New()
	orderID := uuid.New()
	repo := &stubRepo{views: map[uuid.UUID]internalorders.OrderView{
		orderID: {Order: models.Order{ID: orderID, RestaurantID: uuid.New(), DriverID: &driver, Status: enums.OrderStatusAssigned}},
	}}
	timeline := stubTimeline{entries: []history.TimelineEntry{{
		Type:        history.EntryStatusChange,
		Timestamp:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Description: "Status changed from Priced to Assigned",
	}}}

	req := actorRequest(http.MethodGet, "/", nil, driver, enums.RoleDriver, map[string]string{"orderId": orderID.String()})
	resp := httptest.NewRecorder()
	Timeline(repo, timeline, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var envelope struct {
		Data []history.TimelineEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data, 1)
	assert.Equal(t, "Status changed from Priced to Assigned", envelope.Data[0].Description)
}

func TestListScopesByRole(t *testing.T) {
	actor := uuid.New()
	cases := []struct {
		role   enums.Role
		query  string
		by     string
		arg    any
		status int
	}{
		{enums.RoleRestaurant, "", "restaurant", actor, http.StatusOK},
		{enums.RoleDriver, "?limit=5", "driver", actor, http.StatusOK},
		{enums.RoleAdmin, "", "status", enums.OrderStatusPending, http.StatusOK},
		{enums.RoleAdmin, "?status=delivered", "status", enums.OrderStatusDelivered, http.StatusOK},
		{enums.RoleAdmin, "?status=lost", "", nil, http.StatusBadRequest},
		{enums.RoleDriver, "?limit=500", "", nil, http.StatusBadRequest},
		{enums.RoleDriver, "?cursor=%25%25", "", nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		repo := &stubRepo{}
		req := actorRequest(http.MethodGet, "/"+tc.query, nil, actor, tc.role, nil)
		resp := httptest.NewRecorder()
		List(repo, nil).ServeHTTP(resp, req)

		require.Equal(t, tc.status, resp.Code, "%s %s", tc.role, tc.query)
		assert.Equal(t, tc.by, repo.listedBy, "%s %s", tc.role, tc.query)
		assert.Equal(t, tc.arg, repo.listedArg, "%s %s", tc.role, tc.query)
	}
}
