package store

import (
	"bytes"
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps ordered sets, keys and subscriptions inside the current
// process. Safe for concurrent use.
type MemoryStore struct {
	mu     sync.Mutex
	sets   map[string]*sortedSet
	kv     map[string]kvEntry
	subs   map[string]map[*memorySubscription]struct{}
	seq    uint64
	closed bool

	cleanupInterval time.Duration
	subBuffer       int
	stopCleanup     chan struct{}
	closeOnce       sync.Once
}

type kvEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e kvEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

type member struct {
	payload string
	score   float64
	seq     uint64
}

type sortedSet struct {
	members []member // ordered by (score, seq)
	index   map[string]member
}

func compareMembers(a, b member) int {
	if c := cmp.Compare(a.score, b.score); c != 0 {
		return c
	}
	return cmp.Compare(a.seq, b.seq)
}

func (s *sortedSet) insert(m member) {
	if old, ok := s.index[m.payload]; ok {
		s.delete(old)
	}
	pos, _ := slices.BinarySearchFunc(s.members, m, compareMembers)
	s.members = slices.Insert(s.members, pos, m)
	s.index[m.payload] = m
}

func (s *sortedSet) delete(m member) {
	pos, found := slices.BinarySearchFunc(s.members, m, compareMembers)
	if found {
		s.members = slices.Delete(s.members, pos, pos+1)
	}
	delete(s.index, m.payload)
}

func (s *sortedSet) popFirst() member {
	m := s.members[0]
	s.members = slices.Delete(s.members, 0, 1)
	delete(s.index, m.payload)
	return m
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval sets how often expired keys are purged.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		if interval > 0 {
			s.cleanupInterval = interval
		}
	}
}

// WithSubscriptionBuffer sets the channel buffer of each subscription.
// Messages published to a full subscriber are dropped.
func WithSubscriptionBuffer(size int) MemoryStoreOption {
	return func(s *MemoryStore) {
		if size > 0 {
			s.subBuffer = size
		}
	}
}

// NewMemoryStore creates a new in-process store with automatic cleanup of
// expired keys.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		sets:            make(map[string]*sortedSet),
		kv:              make(map[string]kvEntry),
		subs:            make(map[string]map[*memorySubscription]struct{}),
		cleanupInterval: time.Minute,
		subBuffer:       64,
		stopCleanup:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for k, e := range s.kv {
		if e.expired(now) {
			delete(s.kv, k)
		}
	}
}

// PushWithScore implements Store.
func (s *MemoryStore) PushWithScore(_ context.Context, key string, payload []byte, score float64) error {
	if key == "" {
		return ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	set, ok := s.sets[key]
	if !ok {
		set = &sortedSet{index: make(map[string]member)}
		s.sets[key] = set
	}
	s.seq++
	set.insert(member{payload: string(payload), score: score, seq: s.seq})

	return nil
}

// PopMin implements Store.
func (s *MemoryStore) PopMin(_ context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Entry{}, false, ErrClosed
	}

	set, ok := s.sets[key]
	if !ok || len(set.members) == 0 {
		return Entry{}, false, nil
	}

	return s.popLocked(key, set), true, nil
}

// PopMinUpTo implements Store.
func (s *MemoryStore) PopMinUpTo(_ context.Context, key string, maxScore float64) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Entry{}, false, ErrClosed
	}

	set, ok := s.sets[key]
	if !ok || len(set.members) == 0 || set.members[0].score > maxScore {
		return Entry{}, false, nil
	}

	return s.popLocked(key, set), true, nil
}

func (s *MemoryStore) popLocked(key string, set *sortedSet) Entry {
	m := set.popFirst()
	if len(set.members) == 0 {
		delete(s.sets, key)
	}
	return Entry{Payload: []byte(m.payload), Score: m.score}
}

// Length implements Store.
func (s *MemoryStore) Length(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	if set, ok := s.sets[key]; ok {
		return int64(len(set.members)), nil
	}
	return 0, nil
}

// RangeByScoreDesc implements Store.
func (s *MemoryStore) RangeByScoreDesc(_ context.Context, key string, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	set, ok := s.sets[key]
	if !ok {
		return nil, nil
	}

	n := len(set.members)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]Entry, 0, n)
	for i := len(set.members) - 1; i >= 0 && len(out) < n; i-- {
		m := set.members[i]
		out = append(out, Entry{Payload: []byte(m.payload), Score: m.score})
	}
	return out, nil
}

// TrimToLast implements Store.
func (s *MemoryStore) TrimToLast(_ context.Context, key string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	set, ok := s.sets[key]
	if !ok {
		return nil
	}

	excess := len(set.members) - max(n, 0)
	if excess <= 0 {
		return nil
	}
	for _, m := range set.members[:excess] {
		delete(set.index, m.payload)
	}
	set.members = slices.Delete(set.members, 0, excess)
	if len(set.members) == 0 {
		delete(s.sets, key)
	}
	return nil
}

// Remove implements Store.
func (s *MemoryStore) Remove(_ context.Context, key string, payload []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}

	set, ok := s.sets[key]
	if !ok {
		return false, nil
	}
	m, ok := set.index[string(payload)]
	if !ok {
		return false, nil
	}
	set.delete(m)
	if len(set.members) == 0 {
		delete(s.sets, key)
	}
	return true, nil
}

// Publish implements Store. Delivery is best effort: a subscriber whose
// buffer is full misses the message.
func (s *MemoryStore) Publish(_ context.Context, topic string, msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	for sub := range s.subs[topic] {
		select {
		case sub.ch <- bytes.Clone(msg):
		default:
		}
	}
	return nil
}

// Subscribe implements Store.
func (s *MemoryStore) Subscribe(_ context.Context, topic string) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	sub := &memorySubscription{
		store: s,
		topic: topic,
		ch:    make(chan []byte, s.subBuffer),
	}
	if s.subs[topic] == nil {
		s.subs[topic] = make(map[*memorySubscription]struct{})
	}
	s.subs[topic][sub] = struct{}{}

	return sub, nil
}

// SetIfAbsentWithTTL implements Store. A non-positive ttl stores the key
// without expiry.
func (s *MemoryStore) SetIfAbsentWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}

	now := time.Now()
	if e, ok := s.kv[key]; ok && !e.expired(now) {
		return false, nil
	}

	e := kvEntry{value: bytes.Clone(value)}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	s.kv[key] = e

	return true, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, ErrClosed
	}

	e, ok := s.kv[key]
	if !ok {
		return nil, false, nil
	}
	if e.expired(time.Now()) {
		delete(s.kv, key)
		return nil, false, nil
	}
	return bytes.Clone(e.value), true, nil
}

// CompareAndDelete implements Store.
func (s *MemoryStore) CompareAndDelete(_ context.Context, key string, expected []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}

	e, ok := s.kv[key]
	if !ok || e.expired(time.Now()) || !bytes.Equal(e.value, expected) {
		return false, nil
	}
	delete(s.kv, key)
	return true, nil
}

// Delete implements Store. It removes key from both the key-value space and
// the ordered sets.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	delete(s.kv, key)
	delete(s.sets, key)
	return nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	return nil
}

// Mode implements Store.
func (s *MemoryStore) Mode() Mode { return ModeLocal }

// DrainSortedSets removes every ordered set and returns their members keyed
// by set name. Used to hand queued work back to a recovered primary.
func (s *MemoryStore) DrainSortedSets() map[string][]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]Entry, len(s.sets))
	for key, set := range s.sets {
		entries := make([]Entry, 0, len(set.members))
		for _, m := range set.members {
			entries = append(entries, Entry{Payload: []byte(m.payload), Score: m.score})
		}
		out[key] = entries
	}
	clear(s.sets)

	return out
}

// Close stops the cleanup goroutine and closes all subscriptions.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCleanup)

		s.mu.Lock()
		defer s.mu.Unlock()

		s.closed = true
		for _, subs := range s.subs {
			for sub := range subs {
				sub.closeLocked()
			}
		}
		clear(s.subs)
	})
	return nil
}

type memorySubscription struct {
	store  *MemoryStore
	topic  string
	ch     chan []byte
	closed bool
}

func (m *memorySubscription) Messages() <-chan []byte { return m.ch }

func (m *memorySubscription) Close() error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	if subs, ok := m.store.subs[m.topic]; ok {
		delete(subs, m)
		if len(subs) == 0 {
			delete(m.store.subs, m.topic)
		}
	}
	m.closeLocked()
	return nil
}

// closeLocked must be called with store.mu held.
func (m *memorySubscription) closeLocked() {
	if !m.closed {
		m.closed = true
		close(m.ch)
	}
}
