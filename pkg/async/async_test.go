package async_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/taskmanager/pkg/async"
)

func TestAsync(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	futureString := async.Async(ctx, 42, func(_ context.Context, num int) (string, error) {
		time.Sleep(20 * time.Millisecond)
		return fmt.Sprintf("Number: %d", num), nil
	})

	type pair struct{ A, B int }
	futureInt := async.Async(ctx, pair{A: 10, B: 32}, func(_ context.Context, p pair) (int, error) {
		return p.A + p.B, nil
	})

	s, err := futureString.Await()
	require.NoError(t, err)
	assert.Equal(t, "Number: 42", s)

	n, err := futureInt.Await()
	require.NoError(t, err)
	assert.Equal(t, 42, n)
	assert.True(t, futureInt.IsComplete())
}

func TestAsync_ErrorPropagation(t *testing.T) {
	t.Parallel()

	expected := errors.New("handler failed")
	future := async.Async(context.Background(), 1, func(context.Context, int) (int, error) {
		return 0, expected
	})

	res, err := future.Await()
	assert.ErrorIs(t, err, expected)
	assert.Zero(t, res)
}

func TestAsync_ContextCancellation(t *testing.T) {
	t.Parallel()

	t.Run("pre-cancelled context skips fn", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		called := false
		_, err := async.Async(ctx, 0, func(context.Context, int) (int, error) {
			called = true
			return 1, nil
		}).Await()

		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	})

	t.Run("fn observes deadline", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		_, err := async.Async(ctx, 0, func(ctx context.Context, _ int) (int, error) {
			select {
			case <-time.After(time.Second):
				return 1, nil
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}).Await()

		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestAsync_RecoversPanic(t *testing.T) {
	t.Parallel()

	future := async.Async(context.Background(), 0, func(context.Context, int) (int, error) {
		panic("handler exploded")
	})

	_, err := future.Await()
	require.Error(t, err)
	assert.ErrorIs(t, err, async.ErrPanic)

	var pe *async.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "handler exploded", pe.Value)
	assert.NotEmpty(t, pe.Stack)
}

func TestFuture_AwaitWithTimeout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		work    time.Duration
		timeout time.Duration
		wantErr error
	}{
		{name: "completes in time", work: 10 * time.Millisecond, timeout: time.Second},
		{name: "times out", work: 500 * time.Millisecond, timeout: 20 * time.Millisecond, wantErr: async.ErrTimeout},
		{name: "zero timeout waits", work: 10 * time.Millisecond, timeout: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			future := async.Async(context.Background(), tt.work, func(_ context.Context, d time.Duration) (string, error) {
				time.Sleep(d)
				return "done", nil
			})

			res, err := future.AwaitWithTimeout(tt.timeout)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, res)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "done", res)
		})
	}
}

func TestFuture_AwaitContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	future := async.Async(context.Background(), 0, func(context.Context, int) (int, error) {
		<-release
		return 7, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := future.AwaitContext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, future.IsComplete())

	close(release)
	<-future.Done()

	n, err := future.AwaitContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestAsync_ConcurrentFutures(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		count int
	)
	futures := make([]*async.Future[int], 0, 100)
	for i := range 100 {
		futures = append(futures, async.Async(context.Background(), i, func(_ context.Context, v int) (int, error) {
			mu.Lock()
			count++
			mu.Unlock()
			return v * 2, nil
		}))
	}

	for i, f := range futures {
		v, err := f.Await()
		require.NoError(t, err)
		assert.Equal(t, i*2, v)
	}
	assert.Equal(t, 100, count)
}
