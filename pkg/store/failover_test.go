package store_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/taskmanager/pkg/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFailoverStore_LocalWithoutPrimary(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := store.NewFailoverStore(ctx, nil)
	t.Cleanup(func() { _ = f.Close() })

	assert.Equal(t, store.ModeLocal, f.Mode())
	require.NoError(t, f.PushWithScore(ctx, "q", []byte("a"), 1))

	e, ok, err := f.PopMin(ctx, "q")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", string(e.Payload))
	require.NoError(t, f.Ping(ctx))
}

func TestFailoverStore_StartsDegradedWhenPrimaryDown(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	f := store.NewFailoverStore(ctx, store.NewRedisStore(client),
		store.WithLogger(quietLogger()),
		store.WithHealthInterval(time.Hour),
	)
	t.Cleanup(func() { _ = f.Close() })

	assert.Equal(t, store.ModeFallback, f.Mode())

	require.NoError(t, f.PushWithScore(ctx, "q", []byte("kept"), 1))
	n, err := f.Length(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ok, err := f.SetIfAbsentWithTTL(ctx, "k", []byte("v"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFailoverStore_FallbackAndRecovery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr:        mr.Addr(),
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	f := store.NewFailoverStore(ctx, store.NewRedisStore(client),
		store.WithLogger(quietLogger()),
		store.WithHealthInterval(20*time.Millisecond),
	)
	t.Cleanup(func() { _ = f.Close() })

	require.Equal(t, store.ModeShared, f.Mode())
	require.NoError(t, f.PushWithScore(ctx, "q", []byte("before"), 1))

	mr.Close()

	require.NoError(t, f.PushWithScore(ctx, "q", []byte("during"), 2))
	assert.Equal(t, store.ModeFallback, f.Mode())

	require.NoError(t, mr.Restart())

	require.Eventually(t, func() bool {
		return f.Mode() == store.ModeShared
	}, 3*time.Second, 20*time.Millisecond)

	members, err := mr.ZMembers("q")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"before", "during"}, members)

	e, ok, err := f.PopMin(ctx, "q")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "before", string(e.Payload))
}

func TestFailoverStore_SubscribeReceivesFromBothStores(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	f := store.NewFailoverStore(ctx, store.NewRedisStore(client),
		store.WithLogger(quietLogger()),
		store.WithHealthInterval(time.Hour),
	)
	t.Cleanup(func() { _ = f.Close() })

	sub, err := f.Subscribe(ctx, "wake")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, f.Publish(ctx, "wake", []byte("remote")))

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, "remote", string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func requireClosed(t *testing.T, sub store.Subscription) {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.Messages():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription still open after the mode switch")
		}
	}
}

func TestFailoverStore_SubscriptionFollowsModeSwitch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr:        mr.Addr(),
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	f := store.NewFailoverStore(ctx, store.NewRedisStore(client),
		store.WithLogger(quietLogger()),
		store.WithHealthInterval(20*time.Millisecond),
	)
	t.Cleanup(func() { _ = f.Close() })

	shared, err := f.Subscribe(ctx, "wake")
	require.NoError(t, err)
	defer shared.Close()

	mr.Close()
	require.NoError(t, f.PushWithScore(ctx, "q", []byte("a"), 1))
	require.Equal(t, store.ModeFallback, f.Mode())
	requireClosed(t, shared)

	// subscribed while degraded: memory only
	local, err := f.Subscribe(ctx, "wake")
	require.NoError(t, err)
	defer local.Close()

	require.NoError(t, mr.Restart())
	require.Eventually(t, func() bool {
		return f.Mode() == store.ModeShared
	}, 3*time.Second, 20*time.Millisecond)
	requireClosed(t, local)

	again, err := f.Subscribe(ctx, "wake")
	require.NoError(t, err)
	defer again.Close()

	// published by another process straight to redis
	require.Eventually(t, func() bool {
		mr.Publish("wake", "remote")
		select {
		case msg, ok := <-again.Messages():
			return ok && string(msg) == "remote"
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}
