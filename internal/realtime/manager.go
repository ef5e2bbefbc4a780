// Package realtime adapts a pub/sub substrate into per-user order change
// streams, ephemeral broadcasts and driver presence, with per-key throttling
// and exponential-backoff reconnection.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
)

const (
	defaultMaxUpdatesPerSecond  = 5
	defaultMaxBurstSize         = 10
	defaultBaseReconnectDelay   = time.Second
	defaultMaxReconnectDelay    = 30 * time.Second
	defaultMaxReconnectAttempts = 10
	defaultSubscribeTimeout     = 10 * time.Second
)

// ErrChannelDisconnected is returned by sends to a key whose channel gave up reconnecting.
var ErrChannelDisconnected = errors.New("realtime channel disconnected")

func errRequired(what string) error {
	return fmt.Errorf("%s required", what)
}

// Options tunes the manager. Zero values fall back to defaults.
type Options struct {
	MaxUpdatesPerSecond  int
	MaxBurstSize         int
	BaseReconnectDelay   time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int
	SubscribeTimeout     time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxBurstSize <= 0 {
		o.MaxBurstSize = defaultMaxBurstSize
	}
	if o.MaxUpdatesPerSecond <= 0 {
		o.MaxUpdatesPerSecond = defaultMaxUpdatesPerSecond
	}
	if o.BaseReconnectDelay <= 0 {
		o.BaseReconnectDelay = defaultBaseReconnectDelay
	}
	if o.MaxReconnectDelay <= 0 {
		o.MaxReconnectDelay = defaultMaxReconnectDelay
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if o.SubscribeTimeout <= 0 {
		o.SubscribeTimeout = defaultSubscribeTimeout
	}
	return o
}

// ManagerParams wires a Manager.
type ManagerParams struct {
	Backend   Backend
	Logger    *logger.Logger
	Metrics   *metrics.RealtimeMetrics
	Throttler Throttler
	Options   Options
	AfterFunc AfterFunc
}

// Handle identifies one registration. It is required to unsubscribe.
type Handle struct {
	id       uuid.UUID
	key      string
	category Category
}

// Key returns the channel key the handle was registered under.
func (h *Handle) Key() string { return h.key }

// Category returns the channel category of the registration.
func (h *Handle) Category() Category { return h.category }

type channel struct {
	handle  *Handle
	topic   string
	deliver func(Message)
	onLive  func()

	sub          Subscription
	state        ConnectionState
	attempts     int
	generation   int
	retryTimer   Timer
	confirmTimer Timer
}

// Manager owns every channel registered by this process. Create one at
// startup and tear it down with Cleanup.
type Manager struct {
	backend   Backend
	logg      *logger.Logger
	metrics   *metrics.RealtimeMetrics
	throttler Throttler
	opts      Options
	afterFunc AfterFunc

	mu       sync.Mutex
	channels map[string]*channel
	states   map[string]ConnectionState
}

// NewManager builds a transport manager over backend.
func NewManager(params ManagerParams) (*Manager, error) {
	if params.Backend == nil {
		return nil, errRequired("backend")
	}
	if params.Logger == nil {
		return nil, errRequired("logger")
	}
	opts := params.Options.withDefaults()
	throttler := params.Throttler
	if throttler == nil {
		throttler = NewWindowThrottler(opts.MaxBurstSize)
	}
	afterFunc := params.AfterFunc
	if afterFunc == nil {
		afterFunc = realAfterFunc
	}
	return &Manager{
		backend:   params.Backend,
		logg:      params.Logger,
		metrics:   params.Metrics,
		throttler: throttler,
		opts:      opts,
		afterFunc: afterFunc,
		channels:  make(map[string]*channel),
		states:    make(map[string]ConnectionState),
	}, nil
}

// SubscribeOrderChanges streams inserts and updates of every order where
// userID is the restaurant, the assigned driver or the previous driver.
func (m *Manager) SubscribeOrderChanges(ctx context.Context, userID string, callback func(OrderChange)) (*Handle, error) {
	if userID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if callback == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "callback required")
	}
	key := ChangeKey(userID)
	deliver := func(msg Message) {
		var change OrderChange
		if err := json.Unmarshal(msg.Payload, &change); err != nil {
			m.logg.Error(m.logg.WithField(context.Background(), "channel_key", key), "undecodable order change", err)
			return
		}
		if !change.Involves(userID) {
			return
		}
		if !m.allow(key, CategoryChange) {
			return
		}
		callback(change)
		m.metrics.IncDelivered(string(CategoryChange))
	}
	return m.register(ctx, key, CategoryChange, TopicOrderChanges, deliver, nil)
}

// SubscribeBroadcast receives every message sent on topic under a
// caller-chosen key.
func (m *Manager) SubscribeBroadcast(ctx context.Context, key, topic string, callback func(Message)) (*Handle, error) {
	if key == "" || topic == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "key and topic required")
	}
	if callback == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "callback required")
	}
	// Notification feeds are never shed; location and ad hoc feeds are.
	gated := !IsNotificationTopic(topic)
	deliver := func(msg Message) {
		if gated && !m.allow(key, CategoryBroadcast) {
			return
		}
		callback(msg)
		m.metrics.IncDelivered(string(CategoryBroadcast))
	}
	return m.register(ctx, key, CategoryBroadcast, topic, deliver, nil)
}

// SubscribePresence streams driver join and leave events. A sync event with
// the full state is delivered every time the channel becomes live.
func (m *Manager) SubscribePresence(ctx context.Context, subscriberID string, callback func(PresenceEvent)) (*Handle, error) {
	if subscriberID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscriber id required")
	}
	if callback == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "callback required")
	}
	key := PresenceKey(subscriberID)
	deliver := func(msg Message) {
		var event PresenceEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			m.logg.Error(m.logg.WithField(context.Background(), "channel_key", key), "undecodable presence event", err)
			return
		}
		callback(event)
		m.metrics.IncDelivered(string(CategoryPresence))
	}
	onLive := func() {
		state, err := m.backend.PresenceState(context.Background(), TopicDriverPresence)
		if err != nil {
			m.logg.Error(m.logg.WithField(context.Background(), "channel_key", key), "presence sync failed", err)
			return
		}
		callback(PresenceEvent{Type: EventPresenceSync, State: state})
	}
	return m.register(ctx, key, CategoryPresence, TopicDriverPresence, deliver, onLive)
}

func (m *Manager) register(ctx context.Context, key string, category Category, topic string, deliver func(Message), onLive func()) (*Handle, error) {
	m.mu.Lock()
	if _, exists := m.channels[key]; exists {
		m.mu.Unlock()
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "channel already subscribed").
			WithDetails(map[string]any{"key": key})
	}
	handle := &Handle{id: uuid.New(), key: key, category: category}
	ch := &channel{
		handle:  handle,
		topic:   topic,
		deliver: deliver,
		onLive:  onLive,
	}
	m.channels[key] = ch
	m.metrics.SetChannels(len(m.channels))
	m.mu.Unlock()

	m.connect(ctx, key, ch)
	return handle, nil
}

// connect opens a backend subscription for ch under a fresh generation.
// Callbacks from older generations are ignored.
func (m *Manager) connect(ctx context.Context, key string, ch *channel) {
	m.mu.Lock()
	if m.channels[key] != ch {
		m.mu.Unlock()
		return
	}
	ch.generation++
	gen := ch.generation
	m.setState(key, ch, StateConnecting)
	ch.confirmTimer = m.afterFunc(m.opts.SubscribeTimeout, func() {
		m.onStatus(key, ch, gen, StatusTimedOut, nil)
	})
	topic := ch.topic
	m.mu.Unlock()

	sub, err := m.backend.Subscribe(ctx, topic, m.receiver(key, ch, gen), func(status SubscriptionStatus, err error) {
		m.onStatus(key, ch, gen, status, err)
	})

	m.mu.Lock()
	if m.channels[key] != ch || ch.generation != gen {
		m.mu.Unlock()
		if sub != nil {
			_ = sub.Close()
		}
		return
	}
	if err != nil {
		m.mu.Unlock()
		m.onStatus(key, ch, gen, StatusChannelError, err)
		return
	}
	ch.sub = sub
	m.mu.Unlock()
}

func (m *Manager) receiver(key string, ch *channel, gen int) func(Message) {
	return func(msg Message) {
		m.mu.Lock()
		live := m.channels[key] == ch && ch.generation == gen
		deliver := ch.deliver
		m.mu.Unlock()
		if !live {
			return
		}
		deliver(msg)
	}
}

func (m *Manager) onStatus(key string, ch *channel, gen int, status SubscriptionStatus, cause error) {
	m.mu.Lock()
	if m.channels[key] != ch || ch.generation != gen {
		m.mu.Unlock()
		return
	}
	switch status {
	case StatusSubscribed:
		stopTimer(ch.confirmTimer)
		ch.confirmTimer = nil
		ch.attempts = 0
		m.setState(key, ch, StateConnected)
		onLive := ch.onLive
		m.mu.Unlock()
		if onLive != nil {
			onLive()
		}
		return
	case StatusTimedOut:
		if ch.state != StateConnecting {
			m.mu.Unlock()
			return
		}
	}

	stopTimer(ch.confirmTimer)
	ch.confirmTimer = nil
	old := ch.sub
	ch.sub = nil
	// invalidate this generation so a late confirmation cannot flip the state back
	ch.generation++
	m.setState(key, ch, StateError)
	delay, scheduled := m.scheduleReconnectLocked(key, ch)
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	fields := map[string]any{
		"channel_key": key,
		"status":      status,
	}
	if scheduled {
		fields["retry_in_ms"] = delay.Milliseconds()
	}
	logCtx := m.logg.WithFields(context.Background(), fields)
	if cause != nil {
		m.logg.Error(logCtx, "realtime channel failed", cause)
	} else {
		m.logg.Warn(logCtx, "realtime channel failed")
	}
}

// scheduleReconnectLocked arms the single reconnect timer for key, replacing
// any pending one. Callers hold m.mu.
func (m *Manager) scheduleReconnectLocked(key string, ch *channel) (time.Duration, bool) {
	stopTimer(ch.retryTimer)
	ch.retryTimer = nil

	if ch.attempts >= m.opts.MaxReconnectAttempts {
		m.setState(key, ch, StateDisconnected)
		m.metrics.IncDropped(string(ch.handle.category), "reconnect_exhausted")
		return 0, false
	}
	delay := ReconnectDelay(ch.attempts, m.opts.BaseReconnectDelay, m.opts.MaxReconnectDelay)
	ch.attempts++
	ch.retryTimer = m.afterFunc(delay, func() {
		m.metrics.IncReconnect(string(ch.handle.category))
		m.connect(context.Background(), key, ch)
	})
	return delay, true
}

func (m *Manager) setState(key string, ch *channel, state ConnectionState) {
	ch.state = state
	m.states[key] = state
}

func (m *Manager) allow(key string, category Category) bool {
	if m.throttler.Allow(context.Background(), key) {
		return true
	}
	m.metrics.IncDropped(string(category), "throttled")
	return false
}

// Unsubscribe tears down the registration behind handle. The callback,
// throttle bucket and any pending reconnect go away together.
func (m *Manager) Unsubscribe(handle *Handle) error {
	if handle == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "handle required")
	}
	m.mu.Lock()
	ch, ok := m.channels[handle.key]
	if !ok || ch.handle != handle {
		m.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found").
			WithDetails(map[string]any{"key": handle.key})
	}
	stopTimer(ch.retryTimer)
	stopTimer(ch.confirmTimer)
	sub := ch.sub
	delete(m.channels, handle.key)
	delete(m.states, handle.key)
	m.throttler.Reset(handle.key)
	m.metrics.SetChannels(len(m.channels))
	m.mu.Unlock()

	if sub != nil {
		return sub.Close()
	}
	return nil
}

// ConnectionState reports the state of key. Keys never registered report false.
func (m *Manager) ConnectionState(key string) (ConnectionState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[key]
	return state, ok
}

// Channels returns how many registrations are live.
func (m *Manager) Channels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}

// Send publishes an ephemeral event on topic. When every local
// registration listening on topic has given up reconnecting, the send is
// dropped.
func (m *Manager) Send(ctx context.Context, topic, event string, payload any) error {
	if m.disconnected(topic) {
		m.metrics.IncDropped(string(CategoryBroadcast), "disconnected")
		m.logg.Warn(m.logg.WithFields(ctx, map[string]any{"topic": topic, "event": event}), "dropping send on disconnected channel")
		return ErrChannelDisconnected
	}
	msg, err := NewMessage(topic, event, payload)
	if err != nil {
		return err
	}
	if err := m.backend.Publish(ctx, msg); err != nil {
		return fmt.Errorf("send %s on %s: %w", event, topic, err)
	}
	return nil
}

// disconnected reports whether topic has local registrations and all of
// them are disconnected. Registration keys and topics differ, so the match
// is on the channel's topic.
func (m *Manager) disconnected(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	listeners := 0
	for _, ch := range m.channels {
		if ch.topic != topic {
			continue
		}
		if ch.state != StateDisconnected {
			return false
		}
		listeners++
	}
	return listeners > 0
}

// BroadcastNotification sends payload to recipientID's notification topic.
func (m *Manager) BroadcastNotification(ctx context.Context, recipientID string, payload any) error {
	return m.Send(ctx, NotificationTopic(recipientID), EventNotification, payload)
}

// RequestBrowserNotification asks recipientID's client to raise a local notification.
func (m *Manager) RequestBrowserNotification(ctx context.Context, recipientID string, payload any) error {
	return m.Send(ctx, NotificationTopic(recipientID), EventBrowserNotification, payload)
}

// BroadcastDriverLocation sends a location update to the order's tracking topic.
func (m *Manager) BroadcastDriverLocation(ctx context.Context, loc DriverLocation) error {
	if loc.OrderID == "" || loc.DriverID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id and driver id required")
	}
	if loc.Timestamp.IsZero() {
		loc.Timestamp = time.Now().UTC()
	}
	return m.Send(ctx, TrackingTopic(loc.OrderID), EventLocationUpdate, loc)
}

// PublishOrderChange puts an order change on the shared change stream.
func (m *Manager) PublishOrderChange(ctx context.Context, change OrderChange) error {
	msg, err := NewMessage(TopicOrderChanges, string(change.Type), change)
	if err != nil {
		return err
	}
	return m.backend.Publish(ctx, msg)
}

// TrackPresence records a driver as connected with the given availability.
func (m *Manager) TrackPresence(ctx context.Context, presence DriverPresence) error {
	if presence.DriverID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "driver id required")
	}
	if !presence.Status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid driver availability")
	}
	if presence.Timestamp.IsZero() {
		presence.Timestamp = time.Now().UTC()
	}
	return m.backend.Track(ctx, TopicDriverPresence, presence.DriverID, presence)
}

// UntrackPresence removes a driver from the presence state.
func (m *Manager) UntrackPresence(ctx context.Context, driverID string) error {
	return m.backend.Untrack(ctx, TopicDriverPresence, driverID)
}

// PresenceState returns every tracked driver.
func (m *Manager) PresenceState(ctx context.Context) (map[string]DriverPresence, error) {
	return m.backend.PresenceState(ctx, TopicDriverPresence)
}

// Cleanup tears down every channel, timer, callback and throttle bucket.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	subs := make([]Subscription, 0, len(m.channels))
	for _, ch := range m.channels {
		stopTimer(ch.retryTimer)
		stopTimer(ch.confirmTimer)
		if ch.sub != nil {
			subs = append(subs, ch.sub)
		}
	}
	m.channels = make(map[string]*channel)
	m.states = make(map[string]ConnectionState)
	m.throttler.ResetAll()
	m.metrics.SetChannels(0)
	m.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	m.logg.Info(context.Background(), "realtime manager cleaned up")
}

func stopTimer(t Timer) {
	if t != nil {
		t.Stop()
	}
}
