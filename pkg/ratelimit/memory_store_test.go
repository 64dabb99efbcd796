package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/taskmanager/pkg/ratelimit"
)

func TestMemoryStore_RecordTimestampIfAllowed(t *testing.T) {
	t.Parallel()

	store := ratelimit.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	t.Run("records until limit", func(t *testing.T) {
		now := time.Now()
		for i := range 3 {
			ok, count, err := store.RecordTimestampIfAllowed(ctx, "a", now, time.Second, 3, 1)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, int64(i+1), count)
		}

		ok, count, err := store.RecordTimestampIfAllowed(ctx, "a", now, time.Second, 3, 1)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, int64(3), count)
	})

	t.Run("old timestamps are dropped", func(t *testing.T) {
		past := time.Now().Add(-2 * time.Second)
		for range 3 {
			_, _, err := store.RecordTimestampIfAllowed(ctx, "b", past, time.Second, 3, 1)
			require.NoError(t, err)
		}

		ok, count, err := store.RecordTimestampIfAllowed(ctx, "b", time.Now(), time.Second, 3, 1)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(1), count)
	})

	t.Run("count and delete", func(t *testing.T) {
		_, _, err := store.RecordTimestampIfAllowed(ctx, "c", time.Now(), time.Second, 10, 4)
		require.NoError(t, err)

		n, err := store.CountInWindow(ctx, "c", time.Second)
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)

		require.NoError(t, store.Delete(ctx, "c"))
		n, err = store.CountInWindow(ctx, "c", time.Second)
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = store.CountInWindow(ctx, "missing", time.Second)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestMemoryStore_ConcurrentRecord(t *testing.T) {
	t.Parallel()

	store := ratelimit.NewMemoryStore(ratelimit.WithShards(2))
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				ok, _, err := store.RecordTimestampIfAllowed(ctx, "shared", time.Now(), time.Minute, 50, 1)
				if err == nil && ok {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}

func TestMemoryStore_CleanupRemovesIdleWindows(t *testing.T) {
	t.Parallel()

	store := ratelimit.NewMemoryStore(
		ratelimit.WithCleanupInterval(10*time.Millisecond),
		ratelimit.WithMaxWindow(20*time.Millisecond),
	)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	_, _, err := store.RecordTimestampIfAllowed(ctx, "idle", time.Now(), 20*time.Millisecond, 5, 1)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		n, _ := store.CountInWindow(ctx, "idle", time.Hour)
		return n == 0
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}
