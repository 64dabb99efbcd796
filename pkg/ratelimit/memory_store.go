package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// MemoryStore implements SlidingWindowStore in process memory. Limits are
// enforced per process only. Keys are spread over shards so categories do
// not contend on one mutex.
type MemoryStore struct {
	shards []*shard

	cleanupInterval time.Duration
	maxWindow       time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
}

type shard struct {
	mu   sync.Mutex
	keys map[string][]time.Time
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval sets how often idle keys are dropped.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		if interval > 0 {
			s.cleanupInterval = interval
		}
	}
}

// WithMaxWindow sets the longest window the store is used with. A key is
// dropped once all of its timestamps are older than that.
func WithMaxWindow(window time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		if window > 0 {
			s.maxWindow = window
		}
	}
}

// WithShards sets the number of lock shards.
func WithShards(n int) MemoryStoreOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.shards = make([]*shard, n)
		}
	}
}

// NewMemoryStore starts a store and its cleanup goroutine. Close stops it.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		shards:          make([]*shard, 16),
		cleanupInterval: time.Minute,
		maxWindow:       time.Hour,
		stop:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	for i := range s.shards {
		s.shards[i] = &shard{keys: make(map[string][]time.Time)}
	}

	go s.cleanupLoop()
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

// prune drops timestamps at or before cutoff. Timestamps are appended in
// call order, so the slice is sorted unless a caller passes an older
// timestamp, in which case it is kept until it ages out with its successors.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}

// RecordTimestampIfAllowed implements SlidingWindowStore.
func (s *MemoryStore) RecordTimestampIfAllowed(_ context.Context, key string, timestamp time.Time, window time.Duration, limit int, n int) (bool, int64, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ts := prune(sh.keys[key], timestamp.Add(-window))
	if len(ts)+n > limit {
		sh.keys[key] = ts
		return false, int64(len(ts)), nil
	}
	for range n {
		ts = append(ts, timestamp)
	}
	sh.keys[key] = ts
	return true, int64(len(ts)), nil
}

// CountInWindow implements SlidingWindowStore.
func (s *MemoryStore) CountInWindow(_ context.Context, key string, window time.Duration) (int64, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ts, ok := sh.keys[key]
	if !ok {
		return 0, nil
	}
	ts = prune(ts, time.Now().Add(-window))
	sh.keys[key] = ts
	return int64(len(ts)), nil
}

// Delete implements SlidingWindowStore.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	delete(sh.keys, key)
	sh.mu.Unlock()
	return nil
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.cleanup(now.Add(-s.maxWindow))
		}
	}
}

func (s *MemoryStore) cleanup(cutoff time.Time) {
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, ts := range sh.keys {
			if ts = prune(ts, cutoff); len(ts) == 0 {
				delete(sh.keys, key)
			} else {
				sh.keys[key] = ts
			}
		}
		sh.mu.Unlock()
	}
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}
