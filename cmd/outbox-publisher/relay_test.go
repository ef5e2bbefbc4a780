package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/pubsub"
)

// scriptedSender fails the first sends for a key as scripted and records
// every message it accepts.
type scriptedSender struct {
	failures map[string][]error
	sent     []*gcppubsub.Message
	topics   []string
}

func (s *scriptedSender) Ping(context.Context) error { return nil }

func (s *scriptedSender) Send(_ context.Context, topic string, msg *gcppubsub.Message) error {
	if queue := s.failures[msg.OrderingKey]; len(queue) > 0 {
		s.failures[msg.OrderingKey] = queue[1:]
		return queue[0]
	}
	s.sent = append(s.sent, msg)
	s.topics = append(s.topics, topic)
	return nil
}

type relayHarness struct {
	relay  *Relay
	store  *outbox.Store
	client *db.Client
	conn   *gorm.DB
	sender *scriptedSender
	reg    *prometheus.Registry
}

func newRelayHarness(t *testing.T, maxAttempts int) *relayHarness {
	t.Helper()
	conn := dbtest.Open(t)
	h := &relayHarness{
		store:  outbox.NewStore(conn, nil),
		client: db.NewFromConn(conn),
		conn:   conn,
		sender: &scriptedSender{failures: map[string][]error{}},
		reg:    prometheus.NewRegistry(),
	}
	router, err := outbox.NewRouter(outbox.DomainRoutes("domain")...)
	require.NoError(t, err)
	h.relay, err = NewRelay(RelayParams{
		Logger:  logger.New(logger.Options{ServiceName: "relay-test", Output: io.Discard}),
		DB:      h.client,
		Store:   h.store,
		Router:  router,
		Sender:  h.sender,
		Metrics: metrics.NewOutboxMetrics(h.reg),
		Config:  config.OutboxConfig{BatchSize: 10, MaxAttempts: maxAttempts},
	})
	require.NoError(t, err)
	return h
}

func (h *relayHarness) enqueue(t *testing.T, orderID uuid.UUID, to enums.OrderStatus) {
	t.Helper()
	err := h.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return h.store.Enqueue(context.Background(), tx, outbox.OrderStatusChanged{
			OrderID:      orderID,
			RestaurantID: uuid.New(),
			NewStatus:    to,
			ActorID:      "restaurant-1",
			ActorRole:    enums.RoleRestaurant,
		}.Event())
	})
	require.NoError(t, err)
	// keeps created_at strictly increasing between rows
	time.Sleep(2 * time.Millisecond)
}

func (h *relayHarness) drain(t *testing.T) int {
	t.Helper()
	n, err := h.relay.drain(context.Background())
	require.NoError(t, err)
	return n
}

func (h *relayHarness) pending(t *testing.T) []models.OutboxEvent {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, h.conn.Where("published_at IS NULL").Order("created_at").Find(&rows).Error)
	return rows
}

func (h *relayHarness) outcome(t *testing.T, outcome string) float64 {
	t.Helper()
	families, err := h.reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "orderflow_outbox_events_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			if labelValue(m, "outcome") == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelValue(m *dto.Metric, name string) string {
	for _, pair := range m.GetLabel() {
		if pair.GetName() == name {
			return pair.GetValue()
		}
	}
	return ""
}

func TestDrainPublishesWithOrderingKey(t *testing.T) {
	h := newRelayHarness(t, 5)
	orderID := uuid.New()
	h.enqueue(t, orderID, enums.OrderStatusConfirmed)
	h.enqueue(t, orderID, enums.OrderStatusPriced)

	assert.Equal(t, 2, h.drain(t))
	require.Len(t, h.sender.sent, 2)
	for _, msg := range h.sender.sent {
		assert.Equal(t, orderID.String(), msg.OrderingKey)
		assert.Equal(t, "order_status_changed", msg.Attributes["event_type"])
	}
	assert.Equal(t, []string{"domain", "domain"}, h.sender.topics)
	assert.Empty(t, h.pending(t))
	assert.Equal(t, 2.0, h.outcome(t, outcomePublished))
}

func TestDrainHoldsLaterEventsOfAFailingAggregate(t *testing.T) {
	h := newRelayHarness(t, 5)
	stuck, fine := uuid.New(), uuid.New()
	h.sender.failures[stuck.String()] = []error{pubsub.Classify(status.Error(codes.Unavailable, "down"))}
	h.enqueue(t, stuck, enums.OrderStatusConfirmed)
	h.enqueue(t, fine, enums.OrderStatusConfirmed)
	h.enqueue(t, stuck, enums.OrderStatusPriced)

	h.drain(t)
	require.Len(t, h.sender.sent, 1)
	assert.Equal(t, fine.String(), h.sender.sent[0].OrderingKey)

	pending := h.pending(t)
	require.Len(t, pending, 2)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Zero(t, pending[1].Attempts, "held event is not charged an attempt")

	h.drain(t)
	require.Len(t, h.sender.sent, 3)
	assert.Equal(t, stuck.String(), h.sender.sent[1].OrderingKey)
	assert.Equal(t, stuck.String(), h.sender.sent[2].OrderingKey)
	assert.Empty(t, h.pending(t))
	assert.Equal(t, 1.0, h.outcome(t, outcomeRetry))
}

func TestDrainParksRejectedEvents(t *testing.T) {
	h := newRelayHarness(t, 5)
	orderID := uuid.New()
	h.sender.failures[orderID.String()] = []error{pubsub.Classify(status.Error(codes.InvalidArgument, "too large"))}
	h.enqueue(t, orderID, enums.OrderStatusConfirmed)

	h.drain(t)
	assert.Empty(t, h.pending(t))
	var letter models.OutboxDeadLetter
	require.NoError(t, h.conn.First(&letter).Error)
	assert.Equal(t, enums.DeadLetterRejected, letter.Reason)
	assert.Equal(t, 1, letter.Attempts)
	assert.Contains(t, letter.LastError, "too large")
	assert.Equal(t, 1.0, h.outcome(t, outcomeParked))
}

func TestDrainParksExhaustedEvents(t *testing.T) {
	h := newRelayHarness(t, 2)
	orderID := uuid.New()
	unavailable := pubsub.Classify(errors.New("connection reset"))
	h.sender.failures[orderID.String()] = []error{unavailable, unavailable, unavailable}
	h.enqueue(t, orderID, enums.OrderStatusConfirmed)

	h.drain(t)
	require.Len(t, h.pending(t), 1)
	h.drain(t)
	assert.Empty(t, h.pending(t))

	var letter models.OutboxDeadLetter
	require.NoError(t, h.conn.First(&letter).Error)
	assert.Equal(t, enums.DeadLetterExhausted, letter.Reason)
	assert.Equal(t, 2, letter.Attempts)
	assert.Empty(t, h.sender.sent)
}

func TestDrainParksUnroutableEvents(t *testing.T) {
	h := newRelayHarness(t, 5)
	row := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Envelope:      []byte(`{"schema_version":1}`),
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, h.conn.Create(&row).Error)

	h.drain(t)
	letter, err := h.store.DeadLetter(context.Background(), row.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.DeadLetterUnroutable, letter.Reason)
	assert.Empty(t, h.sender.sent)
}

func TestDrainEmpty(t *testing.T) {
	h := newRelayHarness(t, 5)
	assert.Zero(t, h.drain(t))
	assert.Empty(t, h.sender.sent)
}

func TestNextBackoff(t *testing.T) {
	base := 500 * time.Millisecond
	assert.Equal(t, time.Second, nextBackoff(0, base, maxBackoff))
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second, base, maxBackoff))
	assert.Equal(t, maxBackoff, nextBackoff(8*time.Second, base, maxBackoff))
}

func TestNewRelayRequiresCollaborators(t *testing.T) {
	_, err := NewRelay(RelayParams{Logger: logger.New(logger.Options{Output: io.Discard})})
	assert.Error(t, err)
}
