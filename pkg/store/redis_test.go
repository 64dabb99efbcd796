package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/taskmanager/pkg/store"
)

func newRedisStore(t *testing.T) (*store.RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr:        mr.Addr(),
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
	s := store.NewRedisStore(client)
	t.Cleanup(func() { _ = s.Close() })

	return s, mr
}

func TestRedisStore_SortedSet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newRedisStore(t)

	require.NoError(t, s.PushWithScore(ctx, "q", []byte("low"), 40))
	require.NoError(t, s.PushWithScore(ctx, "q", []byte("urgent"), 1))
	require.NoError(t, s.PushWithScore(ctx, "q", []byte("normal"), 30))

	n, err := s.Length(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	for _, want := range []string{"urgent", "normal", "low"} {
		e, ok, err := s.PopMin(ctx, "q")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, string(e.Payload))
	}

	_, ok, err := s.PopMin(ctx, "q")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_PopMinUpTo(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newRedisStore(t)

	require.NoError(t, s.PushWithScore(ctx, "delayed", []byte("later"), 2000))
	require.NoError(t, s.PushWithScore(ctx, "delayed", []byte("due"), 1000))

	e, ok, err := s.PopMinUpTo(ctx, "delayed", 1500)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "due", string(e.Payload))
	assert.InDelta(t, 1000, e.Score, 0)

	_, ok, err = s.PopMinUpTo(ctx, "delayed", 1500)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.PopMinUpTo(ctx, "missing", 1500)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_RangeTrimRemove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newRedisStore(t)

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.PushWithScore(ctx, "dlq", fmt.Appendf(nil, "r%d", i), float64(i)))
	}

	require.NoError(t, s.TrimToLast(ctx, "dlq", 3))

	all, err := s.RangeByScoreDesc(ctx, "dlq", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "r5", string(all[0].Payload))
	assert.Equal(t, "r3", string(all[2].Payload))

	top, err := s.RangeByScoreDesc(ctx, "dlq", 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "r5", string(top[0].Payload))

	removed, err := s.Remove(ctx, "dlq", []byte("r5"))
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Remove(ctx, "dlq", []byte("r5"))
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRedisStore_PopMinIsExclusive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newRedisStore(t)

	const total = 200
	for i := range total {
		require.NoError(t, s.PushWithScore(ctx, "q", fmt.Appendf(nil, "%d", i), float64(i)))
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				e, ok, err := s.PopMin(ctx, "q")
				if err != nil || !ok {
					return
				}
				mu.Lock()
				seen[string(e.Payload)]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for _, v := range seen {
		assert.Equal(t, 1, v)
	}
}

func TestRedisStore_KeyValue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, mr := newRedisStore(t)

	ok, err := s.SetIfAbsentWithTTL(ctx, "lock", []byte("a"), time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetIfAbsentWithTTL(ctx, "lock", []byte("b"), time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	v, found, err := s.Get(ctx, "lock")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "a", string(v))

	deleted, err := s.CompareAndDelete(ctx, "lock", []byte("b"))
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = s.CompareAndDelete(ctx, "lock", []byte("a"))
	require.NoError(t, err)
	assert.True(t, deleted)

	_, found, err = s.Get(ctx, "lock")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = s.SetIfAbsentWithTTL(ctx, "ttl", []byte("x"), time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)
	_, found, err = s.Get(ctx, "ttl")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStore_PubSub(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newRedisStore(t)

	sub, err := s.Subscribe(ctx, "wake")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, s.Publish(ctx, "wake", []byte("ping")))

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, "ping", string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestRedisStore_Unavailable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, mr := newRedisStore(t)

	require.NoError(t, s.Ping(ctx))
	assert.Equal(t, store.ModeShared, s.Mode())

	mr.Close()

	err := s.PushWithScore(ctx, "q", []byte("x"), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrUnavailable)

	assert.ErrorIs(t, s.Ping(ctx), store.ErrUnavailable)
}
