package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

type fakeStore struct {
	mu     sync.Mutex
	data   map[string]string
	ttls   map[string]time.Duration
	setErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = value.(string)
	f.ttls[key] = ttl
	return true, nil
}

func (f *fakeStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.data[key] = value.(string)
	f.ttls[key] = ttl
	return nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("fake:%s:%s", scope, id)
}

func (f *fakeStore) record(t *testing.T) idempotencyRecord {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.data, 1)
	var rec idempotencyRecord
	for _, raw := range f.data {
		require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	}
	return rec
}

func bulkRequest(body, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/orders/bulk", strings.NewReader(body))
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	return req.WithContext(WithActor(req.Context(), "admin-1", enums.RoleAdmin))
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	return payload.Error.Code
}

func TestIdempotentOptionalKeyPassesThrough(t *testing.T) {
	store := newFakeStore()
	calls := 0
	handler := Idempotent(store, StatusChangeIdempotency, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	for range 2 {
		handler.ServeHTTP(httptest.NewRecorder(), bulkRequest(`{"status":"confirmed"}`, ""))
	}
	assert.Equal(t, 2, calls)
	assert.Empty(t, store.data)
}

func TestIdempotentRequiredKey(t *testing.T) {
	called := false
	handler := Idempotent(newFakeStore(), BulkIdempotency, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, bulkRequest(`{}`, ""))
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, bulkRequest(`{}`, strings.Repeat("k", maxIdempotencyKeyLen+1)))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.False(t, called)
}

func TestIdempotentReplaysStoredResponse(t *testing.T) {
	store := newFakeStore()
	calls := 0
	handler := Idempotent(store, BulkIdempotency, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, bulkRequest(`{"foo":"bar"}`, "abc"))
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get(replayedHeader))

	rec := store.record(t)
	assert.Equal(t, stateDone, rec.State)
	assert.Equal(t, BulkIdempotency.TTL, store.ttls["fake:admin-1|POST|/api/v1/admin/orders/bulk:abc"])

	replayed := httptest.NewRecorder()
	handler.ServeHTTP(replayed, bulkRequest(`{"foo":"bar"}`, "abc"))
	assert.Equal(t, http.StatusCreated, replayed.Code)
	assert.Equal(t, "application/json", replayed.Header().Get("Content-Type"))
	assert.Equal(t, "true", replayed.Header().Get(replayedHeader))
	assert.JSONEq(t, `{"ok":true}`, replayed.Body.String())
	assert.Equal(t, 1, calls)
}

func TestIdempotentKeysAreScopedToActor(t *testing.T) {
	store := newFakeStore()
	calls := 0
	handler := Idempotent(store, BulkIdempotency, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), bulkRequest(`{}`, "same"))
	other := bulkRequest(`{}`, "same")
	other = other.WithContext(WithActor(other.Context(), "admin-2", enums.RoleAdmin))
	handler.ServeHTTP(httptest.NewRecorder(), other)

	assert.Equal(t, 2, calls)
	assert.Len(t, store.data, 2)
}

func TestIdempotentDetectsBodyChange(t *testing.T) {
	store := newFakeStore()
	handler := Idempotent(store, BulkIdempotency, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), bulkRequest(`{"foo":"bar"}`, "xyz"))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, bulkRequest(`{"foo":"diff"}`, "xyz"))

	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, string(pkgerrors.CodeIdempotency), errorCode(t, resp))
}

func TestIdempotentRejectsConcurrentDuplicate(t *testing.T) {
	store := newFakeStore()
	entered := make(chan struct{})
	finish := make(chan struct{})
	handler := Idempotent(store, BulkIdempotency, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-finish
		w.WriteHeader(http.StatusCreated)
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.ServeHTTP(httptest.NewRecorder(), bulkRequest(`{}`, "k1"))
	}()
	<-entered

	rec := store.record(t)
	assert.Equal(t, statePending, rec.State)
	assert.Equal(t, claimTTL, store.ttls["fake:admin-1|POST|/api/v1/admin/orders/bulk:k1"])

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, bulkRequest(`{}`, "k1"))
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, string(pkgerrors.CodeConflict), errorCode(t, resp))

	close(finish)
	<-done
	assert.Equal(t, stateDone, store.record(t).State)
}

func TestIdempotentReleasesKeyOnServerError(t *testing.T) {
	store := newFakeStore()
	calls := 0
	handler := Idempotent(store, BulkIdempotency, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, bulkRequest(`{}`, "retry-me"))
	assert.Equal(t, http.StatusServiceUnavailable, first.Code)
	assert.Empty(t, store.data)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, bulkRequest(`{}`, "retry-me"))
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, 2, calls)
}

func TestIdempotentKeepsClientErrors(t *testing.T) {
	store := newFakeStore()
	handler := Idempotent(store, StatusChangeIdempotency, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), bulkRequest(`{}`, "bad"))
	rec := store.record(t)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Status)
}

func TestIdempotentReleasesKeyWhenHandlerPanics(t *testing.T) {
	store := newFakeStore()
	handler := Idempotent(store, BulkIdempotency, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	assert.Panics(t, func() {
		handler.ServeHTTP(httptest.NewRecorder(), bulkRequest(`{}`, "p"))
	})
	assert.Empty(t, store.data)
}

func TestIdempotentReleasesKeyWhenRecordCannotBeStored(t *testing.T) {
	store := newFakeStore()
	store.setErr = errors.New("redis down")
	handler := Idempotent(store, BulkIdempotency, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, bulkRequest(`{}`, "k"))
	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Empty(t, store.data)
}

func TestIdempotentWithoutStorePassesThrough(t *testing.T) {
	called := false
	handler := Idempotent(nil, BulkIdempotency, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), bulkRequest(`{}`, ""))
	assert.True(t, called)
}
