package cron

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	values map[string]string
	ttls   map[string]time.Duration
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryStore) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	if m.values[key] != expected {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func (m *memoryStore) LockKey(name string) string {
	return "of:lock:" + name
}

func TestRedisLockIsExclusiveAndOwnerScoped(t *testing.T) {
	store := newMemoryStore()
	first, err := NewRedisLock(store, "cron-worker:test", time.Minute)
	require.NoError(t, err)
	second, err := NewRedisLock(store, "cron-worker:test", time.Minute)
	require.NoError(t, err)
	ctx := context.Background()
	require.Equal(t, "of:lock:cron-worker:test", first.Key())

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, store.ttls[first.Key()])
	assert.Contains(t, store.values[first.Key()], "/")

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, second.Release(ctx))
	assert.Contains(t, store.values, first.Key(), "non-owner cannot release")

	require.NoError(t, first.Release(ctx))
	assert.Empty(t, store.values)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockLeavesLeaseTakenAfterExpiry(t *testing.T) {
	store := newMemoryStore()
	lock, err := NewRedisLock(store, "cron-worker:test", 0)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, defaultLockTTL, store.ttls[lock.Key()])

	// Simulate expiry followed by another instance taking the lease.
	store.values[lock.Key()] = "other-host/" + strings.Repeat("x", 8)

	require.NoError(t, lock.Release(ctx))
	assert.Equal(t, "other-host/xxxxxxxx", store.values[lock.Key()])
}

func TestNewRedisLockValidates(t *testing.T) {
	_, err := NewRedisLock(nil, "k", time.Minute)
	assert.Error(t, err)
	_, err = NewRedisLock(newMemoryStore(), "", time.Minute)
	assert.Error(t, err)
}
