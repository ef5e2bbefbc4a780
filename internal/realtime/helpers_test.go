package realtime

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

// fakeClock records scheduled callbacks so tests can fire them by hand.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

// pending returns armed timers with the given delay.
func (c *fakeClock) pending(d time.Duration) []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.delay == d {
			out = append(out, t)
		}
	}
	return out
}

func (c *fakeClock) armed() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

func (c *fakeClock) fire(t *testing.T, d time.Duration) {
	t.Helper()
	timers := c.pending(d)
	require.Lenf(t, timers, 1, "expected one armed timer with delay %s", d)
	timers[0].fired = true
	timers[0].fn()
}

// scriptedBackend hands status reporting to the test instead of confirming
// subscriptions on its own.
type scriptedBackend struct {
	*MemoryBackend

	mu        sync.Mutex
	statuses  []StatusFunc
	subscribe int
	failNext  error
}

func newScriptedBackend() *scriptedBackend {
	return &scriptedBackend{MemoryBackend: NewMemoryBackend()}
}

func (b *scriptedBackend) Subscribe(ctx context.Context, topic string, deliver func(Message), status StatusFunc) (Subscription, error) {
	b.mu.Lock()
	b.subscribe++
	if err := b.failNext; err != nil {
		b.failNext = nil
		b.mu.Unlock()
		return nil, err
	}
	b.statuses = append(b.statuses, status)
	b.mu.Unlock()
	return b.MemoryBackend.Subscribe(ctx, topic, deliver, nil)
}

func (b *scriptedBackend) report(i int, status SubscriptionStatus, err error) {
	b.mu.Lock()
	fn := b.statuses[i]
	b.mu.Unlock()
	fn(status, err)
}

func (b *scriptedBackend) last() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.statuses) - 1
}

func (b *scriptedBackend) subscribeCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribe
}
