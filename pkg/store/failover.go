package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// FailoverStore serves requests from a primary store and switches to an
// in-process MemoryStore while the primary is unavailable.
type FailoverStore struct {
	primary Store
	memory  *MemoryStore
	log     *slog.Logger

	healthInterval time.Duration
	warn           *rate.Limiter

	degraded  atomic.Bool
	recoverMu sync.Mutex

	subsMu sync.Mutex
	subs   map[*mergedSubscription]struct{}

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// FailoverOption configures a FailoverStore.
type FailoverOption func(*FailoverStore)

// WithLogger sets the logger used for degraded mode warnings.
func WithLogger(log *slog.Logger) FailoverOption {
	return func(f *FailoverStore) {
		if log != nil {
			f.log = log
		}
	}
}

// WithHealthInterval sets how often the primary is probed while degraded.
func WithHealthInterval(d time.Duration) FailoverOption {
	return func(f *FailoverStore) {
		if d > 0 {
			f.healthInterval = d
		}
	}
}

// WithWarnInterval limits how often the degraded warning is logged.
// Zero logs every occurrence.
func WithWarnInterval(d time.Duration) FailoverOption {
	return func(f *FailoverStore) {
		if d > 0 {
			f.warn = rate.NewLimiter(rate.Every(d), 1)
		} else {
			f.warn = rate.NewLimiter(rate.Inf, 1)
		}
	}
}

// WithMemoryStore replaces the fallback store.
func WithMemoryStore(m *MemoryStore) FailoverOption {
	return func(f *FailoverStore) {
		if m != nil {
			f.memory = m
		}
	}
}

// NewFailoverStore wraps primary. A nil primary yields a store that only ever
// uses memory and reports ModeLocal. The primary is probed once with ctx; if
// it does not answer the store starts in fallback mode.
func NewFailoverStore(ctx context.Context, primary Store, opts ...FailoverOption) *FailoverStore {
	f := &FailoverStore{
		primary:        primary,
		log:            slog.Default(),
		healthInterval: 5 * time.Second,
		warn:           rate.NewLimiter(rate.Every(30*time.Second), 1),
		done:           make(chan struct{}),
		subs:           make(map[*mergedSubscription]struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.memory == nil {
		f.memory = NewMemoryStore()
	}

	if primary == nil {
		return f
	}

	if err := primary.Ping(ctx); err != nil {
		f.markDegraded("ping", err)
	}

	f.wg.Add(1)
	go f.recoveryLoop()

	return f
}

func (f *FailoverStore) markDegraded(op string, err error) {
	switched := f.degraded.CompareAndSwap(false, true)
	if switched {
		f.resetSubscriptions()
	}
	if switched || f.warn.Allow() {
		f.log.Warn("store backend unavailable, serving from in-process fallback",
			slog.String("component", "store"),
			slog.String("op", op),
			slog.String("mode", string(ModeFallback)),
			slog.String("error", err.Error()),
		)
	}
}

func (f *FailoverStore) recoveryLoop() {
	defer f.wg.Done()

	timer := time.NewTimer(f.healthInterval)
	defer timer.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-timer.C:
			if f.degraded.Load() {
				f.tryRecover()
			}
			timer.Reset(f.healthInterval)
		}
	}
}

// tryRecover probes the primary and, when it answers, moves queued entries
// back from memory before switching over.
func (f *FailoverStore) tryRecover() {
	f.recoverMu.Lock()
	defer f.recoverMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), max(f.healthInterval, time.Second))
	defer cancel()

	if err := f.primary.Ping(ctx); err != nil {
		return
	}

	moved, err := f.migrate(ctx)
	if err != nil {
		f.log.Warn("store recovery aborted, staying in fallback mode",
			slog.String("component", "store"),
			slog.String("error", err.Error()),
		)
		return
	}

	f.degraded.Store(false)

	// Writes that raced with the switch may still have landed in memory.
	stragglers, err := f.migrate(ctx)
	if err != nil {
		f.degraded.Store(true)
		return
	}

	f.resetSubscriptions()

	f.log.Info("store backend recovered",
		slog.String("component", "store"),
		slog.String("mode", string(ModeShared)),
		slog.Int("migrated", moved+stragglers),
	)
}

func (f *FailoverStore) migrate(ctx context.Context) (int, error) {
	sets := f.memory.DrainSortedSets()

	var (
		moved    int
		firstErr error
	)
	for key, entries := range sets {
		for _, e := range entries {
			if firstErr == nil {
				if err := f.primary.PushWithScore(ctx, key, e.Payload, e.Score); err != nil {
					firstErr = err
				} else {
					moved++
					continue
				}
			}
			// put back whatever could not be moved
			_ = f.memory.PushWithScore(ctx, key, e.Payload, e.Score)
		}
	}
	return moved, firstErr
}

func do[T any](f *FailoverStore, op string, fn func(Store) (T, error)) (T, error) {
	if f.primary == nil {
		return fn(f.memory)
	}
	if f.degraded.Load() {
		if f.warn.Allow() {
			f.log.Warn("store running in fallback mode, state is local to this process",
				slog.String("component", "store"),
				slog.String("op", op),
				slog.String("mode", string(ModeFallback)),
			)
		}
		return fn(f.memory)
	}

	v, err := fn(f.primary)
	if err != nil && errors.Is(err, ErrUnavailable) {
		f.markDegraded(op, err)
		return fn(f.memory)
	}
	return v, err
}

func exec(f *FailoverStore, op string, fn func(Store) error) error {
	_, err := do(f, op, func(s Store) (struct{}, error) {
		return struct{}{}, fn(s)
	})
	return err
}

type popResult struct {
	entry Entry
	ok    bool
}

// PushWithScore implements Store.
func (f *FailoverStore) PushWithScore(ctx context.Context, key string, payload []byte, score float64) error {
	return exec(f, "push", func(s Store) error {
		return s.PushWithScore(ctx, key, payload, score)
	})
}

// PopMin implements Store.
func (f *FailoverStore) PopMin(ctx context.Context, key string) (Entry, bool, error) {
	r, err := do(f, "pop_min", func(s Store) (popResult, error) {
		e, ok, err := s.PopMin(ctx, key)
		return popResult{e, ok}, err
	})
	return r.entry, r.ok, err
}

// PopMinUpTo implements Store.
func (f *FailoverStore) PopMinUpTo(ctx context.Context, key string, maxScore float64) (Entry, bool, error) {
	r, err := do(f, "pop_min_up_to", func(s Store) (popResult, error) {
		e, ok, err := s.PopMinUpTo(ctx, key, maxScore)
		return popResult{e, ok}, err
	})
	return r.entry, r.ok, err
}

// Length implements Store.
func (f *FailoverStore) Length(ctx context.Context, key string) (int64, error) {
	return do(f, "length", func(s Store) (int64, error) {
		return s.Length(ctx, key)
	})
}

// RangeByScoreDesc implements Store.
func (f *FailoverStore) RangeByScoreDesc(ctx context.Context, key string, limit int) ([]Entry, error) {
	return do(f, "range", func(s Store) ([]Entry, error) {
		return s.RangeByScoreDesc(ctx, key, limit)
	})
}

// TrimToLast implements Store.
func (f *FailoverStore) TrimToLast(ctx context.Context, key string, n int) error {
	return exec(f, "trim", func(s Store) error {
		return s.TrimToLast(ctx, key, n)
	})
}

// Remove implements Store.
func (f *FailoverStore) Remove(ctx context.Context, key string, payload []byte) (bool, error) {
	return do(f, "remove", func(s Store) (bool, error) {
		return s.Remove(ctx, key, payload)
	})
}

// Publish implements Store.
func (f *FailoverStore) Publish(ctx context.Context, topic string, msg []byte) error {
	return exec(f, "publish", func(s Store) error {
		return s.Publish(ctx, topic, msg)
	})
}

// Subscribe implements Store. The returned subscription receives messages
// published through memory as well as through the primary. It is closed
// whenever the store switches mode; subscribe again to follow the backend
// that is now active.
func (f *FailoverStore) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	local, err := f.memory.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	if f.primary == nil {
		return local, nil
	}

	degraded := f.degraded.Load()
	subs := []Subscription{local}
	if !degraded {
		remote, err := f.primary.Subscribe(ctx, topic)
		switch {
		case err == nil:
			subs = append(subs, remote)
		case errors.Is(err, ErrUnavailable):
			f.markDegraded("subscribe", err)
			degraded = true
		default:
			_ = local.Close()
			return nil, err
		}
	}

	merged := mergeSubscriptions(subs...)
	merged.onClose = func() { f.forget(merged) }

	f.subsMu.Lock()
	f.subs[merged] = struct{}{}
	f.subsMu.Unlock()

	// the mode flipped before registration, so the reset missed this one
	if f.degraded.Load() != degraded {
		_ = merged.Close()
	}

	return merged, nil
}

func (f *FailoverStore) forget(m *mergedSubscription) {
	f.subsMu.Lock()
	delete(f.subs, m)
	f.subsMu.Unlock()
}

// resetSubscriptions ends every open subscription after a mode switch so
// subscribers come back and attach to the store that is now active.
func (f *FailoverStore) resetSubscriptions() {
	f.subsMu.Lock()
	open := make([]*mergedSubscription, 0, len(f.subs))
	for m := range f.subs {
		open = append(open, m)
	}
	f.subsMu.Unlock()

	for _, m := range open {
		_ = m.Close()
	}
}

// SetIfAbsentWithTTL implements Store.
func (f *FailoverStore) SetIfAbsentWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return do(f, "set_nx", func(s Store) (bool, error) {
		return s.SetIfAbsentWithTTL(ctx, key, value, ttl)
	})
}

// Get implements Store.
func (f *FailoverStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	type getResult struct {
		val []byte
		ok  bool
	}
	r, err := do(f, "get", func(s Store) (getResult, error) {
		v, ok, err := s.Get(ctx, key)
		return getResult{v, ok}, err
	})
	return r.val, r.ok, err
}

// CompareAndDelete implements Store.
func (f *FailoverStore) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	return do(f, "compare_and_delete", func(s Store) (bool, error) {
		return s.CompareAndDelete(ctx, key, expected)
	})
}

// Delete implements Store.
func (f *FailoverStore) Delete(ctx context.Context, key string) error {
	return exec(f, "delete", func(s Store) error {
		return s.Delete(ctx, key)
	})
}

// Ping implements Store. In fallback mode it succeeds as long as the
// in-process store is usable.
func (f *FailoverStore) Ping(ctx context.Context) error {
	return exec(f, "ping", func(s Store) error {
		return s.Ping(ctx)
	})
}

// Mode implements Store.
func (f *FailoverStore) Mode() Mode {
	switch {
	case f.primary == nil:
		return ModeLocal
	case f.degraded.Load():
		return ModeFallback
	default:
		return ModeShared
	}
}

// Close stops the recovery loop and closes both stores.
func (f *FailoverStore) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		f.wg.Wait()

		err = f.memory.Close()
		if f.primary != nil {
			err = errors.Join(err, f.primary.Close())
		}
	})
	return err
}

// mergedSubscription fans several subscriptions into one channel. The
// channel closes as soon as any of them ends.
type mergedSubscription struct {
	subs    []Subscription
	ch      chan []byte
	done    chan struct{}
	halt    sync.Once
	once    sync.Once
	onClose func()
}

func mergeSubscriptions(subs ...Subscription) *mergedSubscription {
	m := &mergedSubscription{
		subs: subs,
		ch:   make(chan []byte, 64),
		done: make(chan struct{}),
	}

	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func(s Subscription) {
			defer wg.Done()
			defer m.stop()
			for {
				select {
				case <-m.done:
					return
				case msg, ok := <-s.Messages():
					if !ok {
						return
					}
					select {
					case m.ch <- msg:
					default:
					}
				}
			}
		}(s)
	}
	go func() {
		wg.Wait()
		close(m.ch)
	}()

	return m
}

func (m *mergedSubscription) stop() {
	m.halt.Do(func() { close(m.done) })
}

func (m *mergedSubscription) Messages() <-chan []byte { return m.ch }

func (m *mergedSubscription) Close() error {
	var err error
	m.once.Do(func() {
		m.stop()
		for _, s := range m.subs {
			err = errors.Join(err, s.Close())
		}
		if m.onClose != nil {
			m.onClose()
		}
	})
	return err
}
