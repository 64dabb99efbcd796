package ratelimit_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/taskmanager/pkg/ratelimit"
)

func newLimiter(t *testing.T, limit int, window time.Duration, opts ...ratelimit.Option) *ratelimit.SlidingWindow {
	t.Helper()

	store := ratelimit.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	sw, err := ratelimit.NewSlidingWindow(store, limit, window, opts...)
	require.NoError(t, err)
	return sw
}

func TestNewSlidingWindow(t *testing.T) {
	t.Parallel()

	store := ratelimit.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	tests := []struct {
		name   string
		store  ratelimit.SlidingWindowStore
		limit  int
		window time.Duration
		want   error
	}{
		{name: "nil store", limit: 10, window: time.Second, want: ratelimit.ErrStoreRequired},
		{name: "zero limit", store: store, window: time.Second, want: ratelimit.ErrInvalidLimit},
		{name: "negative limit", store: store, limit: -1, window: time.Second, want: ratelimit.ErrInvalidLimit},
		{name: "zero window", store: store, limit: 10, want: ratelimit.ErrInvalidInterval},
		{name: "negative window", store: store, limit: 10, window: -time.Second, want: ratelimit.ErrInvalidInterval},
		{name: "valid", store: store, limit: 10, window: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sw, err := ratelimit.NewSlidingWindow(tt.store, tt.limit, tt.window)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
				assert.Nil(t, sw)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.window, sw.Window())
		})
	}
}

func TestSlidingWindow_Allow(t *testing.T) {
	t.Parallel()

	sw := newLimiter(t, 5, 100*time.Millisecond)
	ctx := context.Background()

	_, err := sw.Allow(ctx, "")
	assert.ErrorIs(t, err, ratelimit.ErrKeyRequired)

	for i := range 5 {
		res, err := sw.Allow(ctx, "thumbnails")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "submission %d", i+1)
		assert.Equal(t, "thumbnails", res.Key)
		assert.Equal(t, 5, res.Limit)
		assert.Equal(t, 4-i, res.Remaining)
	}

	res, err := sw.Allow(ctx, "thumbnails")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Zero(t, res.Remaining)
	assert.Positive(t, res.RetryAfter(time.Now()))
	assert.LessOrEqual(t, res.RetryAfter(time.Now()), 100*time.Millisecond)

	// other categories are unaffected
	res, err = sw.Allow(ctx, "reports")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	// the window slides past the burst
	time.Sleep(120 * time.Millisecond)
	res, err = sw.Allow(ctx, "thumbnails")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 4, res.Remaining)
}

func TestSlidingWindow_AllowN(t *testing.T) {
	t.Parallel()

	sw := newLimiter(t, 10, time.Minute)
	ctx := context.Background()

	res, err := sw.AllowN(ctx, "batch", 3)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 7, res.Remaining)

	res, err = sw.AllowN(ctx, "batch", 8)
	require.NoError(t, err)
	assert.False(t, res.Allowed, "all or nothing")
	assert.Equal(t, 7, res.Remaining, "a denied batch records nothing")

	res, err = sw.AllowN(ctx, "batch", 7)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Zero(t, res.Remaining)

	for _, n := range []int{0, -4} {
		res, err = sw.AllowN(ctx, "single", n)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	status, err := sw.Status(ctx, "single")
	require.NoError(t, err)
	assert.Equal(t, 8, status.Remaining, "non-positive n counts as one")
}

func TestSlidingWindow_LimitOverrides(t *testing.T) {
	t.Parallel()

	sw := newLimiter(t, 5, time.Minute, ratelimit.WithLimitOverrides(map[string]int{
		"sms":    2,
		"broken": 0,
	}))
	ctx := context.Background()

	assert.Equal(t, 2, sw.LimitFor("sms"))
	assert.Equal(t, 5, sw.LimitFor("broken"), "non-positive overrides are ignored")
	assert.Equal(t, 5, sw.LimitFor("email"))
	assert.Equal(t, map[string]int{"sms": 2}, sw.Limits())

	for range 2 {
		ok, err := sw.IsAllowed(ctx, "sms")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := sw.IsAllowed(ctx, "sms")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = sw.IsAllowed(ctx, "email")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = sw.IsAllowed(ctx, "")
	assert.ErrorIs(t, err, ratelimit.ErrKeyRequired)
}

func TestSlidingWindow_StatusAndReset(t *testing.T) {
	t.Parallel()

	sw := newLimiter(t, 3, time.Minute)
	ctx := context.Background()

	_, err := sw.Status(ctx, "")
	assert.ErrorIs(t, err, ratelimit.ErrKeyRequired)
	assert.ErrorIs(t, sw.Reset(ctx, ""), ratelimit.ErrKeyRequired)

	status, err := sw.Status(ctx, "webhooks")
	require.NoError(t, err)
	assert.True(t, status.Allowed)
	assert.Equal(t, 3, status.Remaining)

	for range 3 {
		_, err := sw.Allow(ctx, "webhooks")
		require.NoError(t, err)
	}

	status, err = sw.Status(ctx, "webhooks")
	require.NoError(t, err)
	assert.False(t, status.Allowed)
	assert.Zero(t, status.Remaining)

	status, err = sw.Status(ctx, "webhooks")
	require.NoError(t, err)
	assert.Zero(t, status.Remaining, "status does not consume")

	require.NoError(t, sw.Reset(ctx, "webhooks"))

	res, err := sw.Allow(ctx, "webhooks")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 2, res.Remaining)
}

func TestSlidingWindow_Concurrent(t *testing.T) {
	t.Parallel()

	sw := newLimiter(t, 100, time.Minute)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		allowed atomic.Int64
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				if ok, err := sw.IsAllowed(ctx, "shared"); err == nil && ok {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), allowed.Load())
}
