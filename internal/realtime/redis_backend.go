package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/redis"
)

var errSubscriptionLost = errors.New("redis subscription closed")

type bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (redis.Subscription, error)
	HSet(ctx context.Context, key, field string, value any) error
	HDel(ctx context.Context, key string, fields ...string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	ChannelName(key string) string
	PresenceKey(name string) string
}

// RedisBackend carries the transport over Redis pub/sub so every API
// instance sees the same change stream, broadcasts and presence.
type RedisBackend struct {
	bus  bus
	logg *logger.Logger

	mu     sync.Mutex
	subs   map[*redisSubscription]struct{}
	closed bool
}

type redisSubscription struct {
	backend *RedisBackend
	sub     redis.Subscription
	once    sync.Once
	mu      sync.Mutex
	closing bool
	done    chan struct{}
}

// NewRedisBackend builds a backend over the shared Redis client.
func NewRedisBackend(client bus, logg *logger.Logger) (*RedisBackend, error) {
	if client == nil {
		return nil, errRequired("redis client")
	}
	if logg == nil {
		return nil, errRequired("logger")
	}
	return &RedisBackend{
		bus:  client,
		logg: logg,
		subs: make(map[*redisSubscription]struct{}),
	}, nil
}

func (b *RedisBackend) Subscribe(ctx context.Context, topic string, deliver func(Message), status StatusFunc) (Subscription, error) {
	if deliver == nil {
		return nil, fmt.Errorf("deliver callback required")
	}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("backend closed")
	}

	raw, err := b.bus.Subscribe(ctx, b.bus.ChannelName(topic))
	if err != nil {
		return nil, err
	}
	sub := &redisSubscription{backend: b, sub: raw, done: make(chan struct{})}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	if status != nil {
		status(StatusSubscribed, nil)
	}
	go sub.pump(topic, deliver, status)
	return sub, nil
}

func (s *redisSubscription) pump(topic string, deliver func(Message), status StatusFunc) {
	defer close(s.done)
	logCtx := s.backend.logg.WithField(context.Background(), "topic", topic)
	for raw := range s.sub.Channel() {
		var msg Message
		if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
			s.backend.logg.Error(logCtx, "undecodable realtime message", err)
			continue
		}
		deliver(msg)
	}

	s.mu.Lock()
	expected := s.closing
	s.mu.Unlock()
	if !expected && status != nil {
		status(StatusClosed, errSubscriptionLost)
	}
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()

		s.backend.mu.Lock()
		delete(s.backend.subs, s)
		s.backend.mu.Unlock()
		err = s.sub.Close()
	})
	return err
}

func (b *RedisBackend) Publish(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode realtime message: %w", err)
	}
	if err := b.bus.Publish(ctx, b.bus.ChannelName(msg.Topic), raw); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Topic, err)
	}
	return nil
}

func (b *RedisBackend) Track(ctx context.Context, key, member string, presence DriverPresence) error {
	raw, err := json.Marshal(presence)
	if err != nil {
		return fmt.Errorf("encode presence: %w", err)
	}
	if err := b.bus.HSet(ctx, b.bus.PresenceKey(key), member, string(raw)); err != nil {
		return fmt.Errorf("track %s: %w", member, err)
	}
	msg, err := NewMessage(key, EventPresenceJoin, PresenceEvent{Type: EventPresenceJoin, DriverID: member, Presence: &presence})
	if err != nil {
		return err
	}
	return b.Publish(ctx, msg)
}

func (b *RedisBackend) Untrack(ctx context.Context, key, member string) error {
	if err := b.bus.HDel(ctx, b.bus.PresenceKey(key), member); err != nil {
		return fmt.Errorf("untrack %s: %w", member, err)
	}
	msg, err := NewMessage(key, EventPresenceLeave, PresenceEvent{Type: EventPresenceLeave, DriverID: member})
	if err != nil {
		return err
	}
	return b.Publish(ctx, msg)
}

func (b *RedisBackend) PresenceState(ctx context.Context, key string) (map[string]DriverPresence, error) {
	fields, err := b.bus.HGetAll(ctx, b.bus.PresenceKey(key))
	if err != nil {
		return nil, fmt.Errorf("presence state: %w", err)
	}
	out := make(map[string]DriverPresence, len(fields))
	for member, raw := range fields {
		var presence DriverPresence
		if err := json.Unmarshal([]byte(raw), &presence); err != nil {
			b.logg.Warn(b.logg.WithField(ctx, "driver_id", member), "skipping undecodable presence entry")
			continue
		}
		out[member] = presence
	}
	return out, nil
}

// Close closes every open subscription. The Redis client itself is owned by the caller.
func (b *RedisBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := make([]*redisSubscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	var errs error
	for _, sub := range subs {
		errs = multierr.Append(errs, sub.Close())
	}
	return errs
}
