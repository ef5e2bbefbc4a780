package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// StatusFunc receives subscription lifecycle updates from a Backend.
type StatusFunc func(status SubscriptionStatus, err error)

// Subscription is a live registration on a Backend topic.
type Subscription interface {
	Close() error
}

// Backend is the pub/sub substrate the transport adapts.
type Backend interface {
	// Subscribe registers deliver on topic. The backend reports
	// StatusSubscribed once the subscription is live and an error status
	// if it later breaks. Explicit Close does not report a status.
	Subscribe(ctx context.Context, topic string, deliver func(Message), status StatusFunc) (Subscription, error)
	// Publish sends msg to every current subscriber of its topic.
	Publish(ctx context.Context, msg Message) error
	// Track records presence for member under key and announces a join.
	Track(ctx context.Context, key, member string, presence DriverPresence) error
	// Untrack removes member from key and announces a leave.
	Untrack(ctx context.Context, key, member string) error
	// PresenceState returns every member currently tracked under key.
	PresenceState(ctx context.Context, key string) (map[string]DriverPresence, error)
	Close() error
}

// NewMessage encodes payload into a Message for topic.
func NewMessage(topic, event string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Message{Topic: topic, Event: event, Payload: raw, SentAt: time.Now().UTC()}, nil
}

// MemoryBackend is an in-process hub. Delivery is synchronous on the
// publishing goroutine.
type MemoryBackend struct {
	mu       sync.RWMutex
	nextID   uint64
	subs     map[string]map[uint64]*memorySubscription
	presence map[string]map[string]DriverPresence
	closed   bool
}

type memorySubscription struct {
	backend *MemoryBackend
	topic   string
	id      uint64
	deliver func(Message)
	status  StatusFunc
	once    sync.Once
}

// NewMemoryBackend builds an empty hub.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		subs:     make(map[string]map[uint64]*memorySubscription),
		presence: make(map[string]map[string]DriverPresence),
	}
}

func (b *MemoryBackend) Subscribe(ctx context.Context, topic string, deliver func(Message), status StatusFunc) (Subscription, error) {
	if deliver == nil {
		return nil, fmt.Errorf("deliver callback required")
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("backend closed")
	}
	b.nextID++
	sub := &memorySubscription{backend: b, topic: topic, id: b.nextID, deliver: deliver, status: status}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]*memorySubscription)
	}
	b.subs[topic][sub.id] = sub
	b.mu.Unlock()

	if status != nil {
		status(StatusSubscribed, nil)
	}
	return sub, nil
}

func (b *MemoryBackend) Publish(ctx context.Context, msg Message) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("backend closed")
	}
	targets := make([]*memorySubscription, 0, len(b.subs[msg.Topic]))
	for _, sub := range b.subs[msg.Topic] {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })
	for _, sub := range targets {
		sub.deliver(msg)
	}
	return nil
}

func (b *MemoryBackend) Track(ctx context.Context, key, member string, presence DriverPresence) error {
	b.mu.Lock()
	if b.presence[key] == nil {
		b.presence[key] = make(map[string]DriverPresence)
	}
	b.presence[key][member] = presence
	b.mu.Unlock()

	msg, err := NewMessage(key, EventPresenceJoin, PresenceEvent{Type: EventPresenceJoin, DriverID: member, Presence: &presence})
	if err != nil {
		return err
	}
	return b.Publish(ctx, msg)
}

func (b *MemoryBackend) Untrack(ctx context.Context, key, member string) error {
	b.mu.Lock()
	_, existed := b.presence[key][member]
	delete(b.presence[key], member)
	b.mu.Unlock()
	if !existed {
		return nil
	}

	msg, err := NewMessage(key, EventPresenceLeave, PresenceEvent{Type: EventPresenceLeave, DriverID: member})
	if err != nil {
		return err
	}
	return b.Publish(ctx, msg)
}

func (b *MemoryBackend) PresenceState(ctx context.Context, key string) (map[string]DriverPresence, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]DriverPresence, len(b.presence[key]))
	for member, presence := range b.presence[key] {
		out[member] = presence
	}
	return out, nil
}

// Subscribers returns how many live subscriptions exist on topic.
func (b *MemoryBackend) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string]map[uint64]*memorySubscription)
	return nil
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.backend.mu.Lock()
		delete(s.backend.subs[s.topic], s.id)
		if len(s.backend.subs[s.topic]) == 0 {
			delete(s.backend.subs, s.topic)
		}
		s.backend.mu.Unlock()
	})
	return nil
}
