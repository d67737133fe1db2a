package retryqueue

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestQueue(t *testing.T, opts Options) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	q, err := Dial("redis://"+s.Addr(), opts, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q, s
}

func TestDialRejectsBadURL(t *testing.T) {
	_, err := Dial("not a url", Options{}, nil)
	assert.Error(t, err)
}

func TestEnqueueDropsOldestWhenFull(t *testing.T) {
	q, _ := setupTestQueue(t, Options{Capacity: 2})
	ctx := context.Background()

	for _, id := range []string{"c1", "c2", "c3"} {
		require.NoError(t, q.Enqueue(ctx, Job{ContactID: id}))
	}
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var seen []string
	_, err = q.Drain(ctx, func(_ context.Context, job Job) error {
		seen = append(seen, job.ContactID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"c2", "c3"}, seen)
}

func TestDrainRequeuesUntilMaxAttempts(t *testing.T) {
	q, _ := setupTestQueue(t, Options{MaxAttempts: 2})
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Job{ContactID: "c1", FieldKey: "k", Value: "v"}))

	failing := func(context.Context, Job) error { return errors.New("crm down") }

	result, err := q.Drain(ctx, failing)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Requeued: 1}, result)

	result, err = q.Drain(ctx, failing)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Dropped: 1}, result)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDrainCarriesAttemptCount(t *testing.T) {
	q, _ := setupTestQueue(t, Options{MaxAttempts: 5})
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Job{ContactID: "c1"}))

	_, err := q.Drain(ctx, func(context.Context, Job) error { return errors.New("boom") })
	require.NoError(t, err)

	var attempts int
	result, err := q.Drain(ctx, func(_ context.Context, job Job) error {
		attempts = job.Attempts
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, attempts)
}

func TestDrainDropsUndecodableEntries(t *testing.T) {
	q, s := setupTestQueue(t, Options{})
	ctx := context.Background()
	_, err := s.Lpush(defaultKey, "{not json")
	require.NoError(t, err)

	result, err := q.Drain(ctx, func(context.Context, Job) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Dropped: 1}, result)
}

func TestNewAppliesDefaults(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	q := New(client, Options{}, nil)
	assert.Equal(t, defaultKey, q.key)
	assert.Equal(t, int64(1000), q.capacity)
	assert.Equal(t, 5, q.maxAttempts)
	assert.NoError(t, q.Ping(context.Background()))
}
