package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

const throttleWindow = time.Second

// Throttler gates deliveries per channel key.
type Throttler interface {
	Allow(ctx context.Context, key string) bool
	Reset(key string)
	ResetAll()
}

type bucket struct {
	windowStart time.Time
	count       int
}

// WindowThrottler allows at most burst deliveries per key in each fixed
// one-second window. Excess deliveries are dropped, never queued.
type WindowThrottler struct {
	mu      sync.Mutex
	burst   int
	now     func() time.Time
	buckets map[string]*bucket
}

// NewWindowThrottler builds an in-process throttler.
func NewWindowThrottler(burst int) *WindowThrottler {
	if burst <= 0 {
		burst = defaultMaxBurstSize
	}
	return &WindowThrottler{
		burst:   burst,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

func (t *WindowThrottler) Allow(_ context.Context, key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	b, ok := t.buckets[key]
	if !ok || now.Sub(b.windowStart) >= throttleWindow {
		t.buckets[key] = &bucket{windowStart: now, count: 1}
		return true
	}
	if b.count >= t.burst {
		return false
	}
	b.count++
	return true
}

func (t *WindowThrottler) Reset(key string) {
	t.mu.Lock()
	delete(t.buckets, key)
	t.mu.Unlock()
}

func (t *WindowThrottler) ResetAll() {
	t.mu.Lock()
	t.buckets = make(map[string]*bucket)
	t.mu.Unlock()
}

// Tracked returns how many keys currently own a bucket.
func (t *WindowThrottler) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}

type windowCounter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
	ThrottleScope(channelKey string) string
}

// SharedThrottler keeps the window counters in Redis so every instance of
// the transport shares one budget per key. It fails open.
type SharedThrottler struct {
	counter windowCounter
	burst   int64
	logg    *logger.Logger
}

// NewSharedThrottler builds a Redis-backed throttler.
func NewSharedThrottler(counter windowCounter, burst int, logg *logger.Logger) (*SharedThrottler, error) {
	if counter == nil {
		return nil, errRequired("window counter")
	}
	if burst <= 0 {
		burst = defaultMaxBurstSize
	}
	return &SharedThrottler{counter: counter, burst: int64(burst), logg: logg}, nil
}

func (t *SharedThrottler) Allow(ctx context.Context, key string) bool {
	allowed, _, err := t.counter.FixedWindowAllow(ctx, t.counter.ThrottleScope(key), t.burst, throttleWindow)
	if err != nil {
		if t.logg != nil {
			t.logg.Error(t.logg.WithField(ctx, "channel_key", key), "shared throttle unavailable, allowing delivery", err)
		}
		return true
	}
	return allowed
}

// Reset is a no-op; Redis counters expire with their window.
func (t *SharedThrottler) Reset(string) {}

// ResetAll is a no-op; Redis counters expire with their window.
func (t *SharedThrottler) ResetAll() {}
