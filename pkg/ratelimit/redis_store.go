package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var recordIfAllowedScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local n = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count + n > limit then
	return {0, count}
end
for i = 1, n do
	redis.call('ZADD', key, ARGV[1], ARGV[5] .. ':' .. i)
end
redis.call('PEXPIRE', key, window)
return {1, count + n}
`)

// RedisStore implements SlidingWindowStore with one sorted set per key, so
// limits hold across every process sharing the Redis instance.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithKeyPrefix namespaces all keys written by the store.
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a store on top of client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{client: client, prefix: "ratelimit"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

// RecordTimestampIfAllowed implements SlidingWindowStore.
func (s *RedisStore) RecordTimestampIfAllowed(ctx context.Context, key string, timestamp time.Time, window time.Duration, limit int, n int) (bool, int64, error) {
	res, err := recordIfAllowedScript.Run(ctx, s.client, []string{s.key(key)},
		timestamp.UnixMilli(),
		window.Milliseconds(),
		limit,
		n,
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return false, 0, errors.Join(ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return false, 0, ErrStoreUnavailable
	}
	return res[0] == 1, res[1], nil
}

// CountInWindow implements SlidingWindowStore.
func (s *RedisStore) CountInWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	minScore := "(" + strconv.FormatInt(time.Now().Add(-window).UnixMilli(), 10)
	n, err := s.client.ZCount(ctx, s.key(key), minScore, "+inf").Result()
	if err != nil {
		return 0, errors.Join(ErrStoreUnavailable, err)
	}
	return n, nil
}

// Delete implements SlidingWindowStore.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}
