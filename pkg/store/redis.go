package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	rediskit "github.com/dmitrymomot/taskmanager/pkg/redis"
)

var (
	compareAndDeleteScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

	popMinUpToScript = redis.NewScript(`
local r = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'WITHSCORES', 'LIMIT', 0, 1)
if #r == 0 then
	return false
end
redis.call('ZREM', KEYS[1], r[1])
return r
`)
)

// RedisStore implements Store on top of a shared Redis instance.
type RedisStore struct {
	client    redis.UniversalClient
	ping      func(context.Context) error
	subBuffer int
	closeOnce sync.Once
	closeErr  error
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithRedisSubscriptionBuffer sets the channel buffer of each subscription.
func WithRedisSubscriptionBuffer(size int) RedisStoreOption {
	return func(s *RedisStore) {
		if size > 0 {
			s.subBuffer = size
		}
	}
}

// NewRedisStore wraps client. The store takes ownership of the client and
// closes it on Close.
func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		ping:      rediskit.Healthcheck(client),
		subBuffer: 64,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// classify joins connectivity failures with ErrUnavailable. Server replies
// and caller cancellation are passed through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return err
	}
	return errors.Join(ErrUnavailable, err)
}

// PushWithScore implements Store.
func (s *RedisStore) PushWithScore(ctx context.Context, key string, payload []byte, score float64) error {
	if key == "" {
		return ErrInvalidKey
	}
	return classify(s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: string(payload)}).Err())
}

// PopMin implements Store.
func (s *RedisStore) PopMin(ctx context.Context, key string) (Entry, bool, error) {
	res, err := s.client.ZPopMin(ctx, key, 1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, classify(err)
	}
	if len(res) == 0 {
		return Entry{}, false, nil
	}
	return zToEntry(res[0]), true, nil
}

// PopMinUpTo implements Store.
func (s *RedisStore) PopMinUpTo(ctx context.Context, key string, maxScore float64) (Entry, bool, error) {
	res, err := popMinUpToScript.Run(ctx, s.client, []string{key}, strconv.FormatFloat(maxScore, 'f', -1, 64)).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, classify(err)
	}
	if len(res) < 2 {
		return Entry{}, false, nil
	}

	member, _ := res[0].(string)
	rawScore, _ := res[1].(string)
	score, err := strconv.ParseFloat(rawScore, 64)
	if err != nil {
		return Entry{}, false, fmt.Errorf("store: parse score %q: %w", rawScore, err)
	}
	return Entry{Payload: []byte(member), Score: score}, true, nil
}

// Length implements Store.
func (s *RedisStore) Length(ctx context.Context, key string) (int64, error) {
	n, err := s.client.ZCard(ctx, key).Result()
	return n, classify(err)
}

// RangeByScoreDesc implements Store.
func (s *RedisStore) RangeByScoreDesc(ctx context.Context, key string, limit int) ([]Entry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	res, err := s.client.ZRevRangeWithScores(ctx, key, 0, stop).Result()
	if err != nil {
		return nil, classify(err)
	}

	out := make([]Entry, 0, len(res))
	for _, z := range res {
		out = append(out, zToEntry(z))
	}
	return out, nil
}

// TrimToLast implements Store.
func (s *RedisStore) TrimToLast(ctx context.Context, key string, n int) error {
	if n <= 0 {
		return classify(s.client.Del(ctx, key).Err())
	}
	return classify(s.client.ZRemRangeByRank(ctx, key, 0, int64(-n-1)).Err())
}

// Remove implements Store.
func (s *RedisStore) Remove(ctx context.Context, key string, payload []byte) (bool, error) {
	n, err := s.client.ZRem(ctx, key, string(payload)).Result()
	if err != nil {
		return false, classify(err)
	}
	return n > 0, nil
}

// Publish implements Store.
func (s *RedisStore) Publish(ctx context.Context, topic string, msg []byte) error {
	return classify(s.client.Publish(ctx, topic, msg).Err())
}

// Subscribe implements Store. It waits for the subscription to be confirmed
// so that messages published after it returns are delivered.
func (s *RedisStore) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := s.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, classify(err)
	}

	sub := &redisSubscription{
		ps: ps,
		ch: make(chan []byte, s.subBuffer),
	}
	go sub.forward()

	return sub, nil
}

// SetIfAbsentWithTTL implements Store.
func (s *RedisStore) SetIfAbsentWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrInvalidKey
	}
	ok, err := s.client.SetNX(ctx, key, value, max(ttl, 0)).Result()
	return ok, classify(err)
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, classify(err)
	}
	return val, true, nil
}

// CompareAndDelete implements Store.
func (s *RedisStore) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	n, err := compareAndDeleteScript.Run(ctx, s.client, []string{key}, expected).Int64()
	if err != nil {
		return false, classify(err)
	}
	return n > 0, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return classify(s.client.Del(ctx, key).Err())
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.ping(ctx); err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	return nil
}

// Mode implements Store.
func (s *RedisStore) Mode() Mode { return ModeShared }

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}

func zToEntry(z redis.Z) Entry {
	var payload []byte
	switch m := z.Member.(type) {
	case string:
		payload = []byte(m)
	case []byte:
		payload = m
	default:
		payload = fmt.Append(nil, m)
	}
	return Entry{Payload: payload, Score: z.Score}
}

type redisSubscription struct {
	ps   *redis.PubSub
	ch   chan []byte
	once sync.Once
}

func (r *redisSubscription) forward() {
	defer close(r.ch)
	for msg := range r.ps.Channel() {
		select {
		case r.ch <- []byte(msg.Payload):
		default:
		}
	}
}

func (r *redisSubscription) Messages() <-chan []byte { return r.ch }

func (r *redisSubscription) Close() error {
	var err error
	r.once.Do(func() { err = r.ps.Close() })
	return err
}
