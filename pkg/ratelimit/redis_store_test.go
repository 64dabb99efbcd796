package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/taskmanager/pkg/ratelimit"
)

func TestRedisStore_SlidingWindow(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := ratelimit.NewRedisStore(client, ratelimit.WithKeyPrefix("test:rl"))
	sw, err := ratelimit.NewSlidingWindow(store, 3, 200*time.Millisecond)
	require.NoError(t, err)

	ctx := context.Background()
	for i := range 3 {
		res, err := sw.Allow(ctx, "email")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res, err := sw.Allow(ctx, "email")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	assert.True(t, mr.Exists("test:rl:email"))

	status, err := sw.Status(ctx, "email")
	require.NoError(t, err)
	assert.False(t, status.Allowed)

	time.Sleep(250 * time.Millisecond)

	res, err = sw.Allow(ctx, "email")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	require.NoError(t, sw.Reset(ctx, "email"))
	n, err := store.CountInWindow(ctx, "email", time.Second)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisStore_Unavailable(t *testing.T) {
	t.Parallel()

	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	t.Cleanup(func() { _ = client.Close() })

	store := ratelimit.NewRedisStore(client)
	_, _, err := store.RecordTimestampIfAllowed(context.Background(), "k", time.Now(), time.Second, 1, 1)
	assert.ErrorIs(t, err, ratelimit.ErrStoreUnavailable)
}
