package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOutbox struct {
	cutoff   time.Time
	purgeErr error
	countErr error
	parked   int64
	purges   int
	counts   int
}

func (f *fakeOutbox) PurgePublished(_ context.Context, cutoff time.Time) (int64, error) {
	f.purges++
	f.cutoff = cutoff
	return 7, f.purgeErr
}

func (f *fakeOutbox) CountDeadLetters(context.Context) (int64, error) {
	f.counts++
	return f.parked, f.countErr
}

func newOutboxRetentionJob(t *testing.T, store *fakeOutbox, retention time.Duration) *outboxRetentionJob {
	t.Helper()
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:    quietLogger(),
		Outbox:    store,
		Retention: retention,
	})
	require.NoError(t, err)
	return job.(*outboxRetentionJob)
}

func TestOutboxRetentionJobUsesRetentionWindow(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)

	store := &fakeOutbox{parked: 2}
	job := newOutboxRetentionJob(t, store, 0)
	job.now = func() time.Time { return now }
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, now.Add(-defaultOutboxRetention), store.cutoff)
	assert.Equal(t, 1, store.counts)

	store = &fakeOutbox{}
	job = newOutboxRetentionJob(t, store, 48*time.Hour)
	job.now = func() time.Time { return now }
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, now.Add(-48*time.Hour), store.cutoff)
}

func TestOutboxRetentionJobPropagatesErrors(t *testing.T) {
	store := &fakeOutbox{purgeErr: errors.New("boom")}
	assert.ErrorContains(t, newOutboxRetentionJob(t, store, 0).Run(context.Background()), "boom")
	assert.Zero(t, store.counts)

	store = &fakeOutbox{countErr: errors.New("count failed")}
	assert.ErrorContains(t, newOutboxRetentionJob(t, store, 0).Run(context.Background()), "count failed")
}

func TestOutboxRetentionJobRequiresStore(t *testing.T) {
	_, err := NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: quietLogger()})
	assert.Error(t, err)
}
