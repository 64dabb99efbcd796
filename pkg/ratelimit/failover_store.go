package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// FailoverStore serves from a primary store and falls back to a MemoryStore
// while the primary reports ErrStoreUnavailable. Limits are enforced per
// process during that time. The primary is tried again once every retry
// interval; the first call that succeeds switches back.
type FailoverStore struct {
	primary  SlidingWindowStore
	fallback *MemoryStore
	log      *slog.Logger
	warn     *rate.Limiter

	retryInterval time.Duration
	degraded      atomic.Bool
	retryAt       atomic.Int64
}

// FailoverOption configures a FailoverStore.
type FailoverOption func(*FailoverStore)

// WithFailoverLogger sets the logger used for degraded mode warnings.
func WithFailoverLogger(log *slog.Logger) FailoverOption {
	return func(f *FailoverStore) {
		if log != nil {
			f.log = log
		}
	}
}

// WithRetryInterval sets how long the primary is skipped after it fails.
func WithRetryInterval(d time.Duration) FailoverOption {
	return func(f *FailoverStore) {
		if d > 0 {
			f.retryInterval = d
		}
	}
}

// WithFallbackStore replaces the in-process store used while degraded.
func WithFallbackStore(m *MemoryStore) FailoverOption {
	return func(f *FailoverStore) {
		if m != nil {
			f.fallback = m
		}
	}
}

// NewFailoverStore wraps primary.
func NewFailoverStore(primary SlidingWindowStore, opts ...FailoverOption) *FailoverStore {
	f := &FailoverStore{
		primary:       primary,
		log:           slog.Default(),
		warn:          rate.NewLimiter(rate.Every(30*time.Second), 1),
		retryInterval: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.fallback == nil {
		f.fallback = NewMemoryStore()
	}
	return f
}

// Degraded reports whether requests are currently served from memory.
func (f *FailoverStore) Degraded() bool { return f.degraded.Load() }

func (f *FailoverStore) usePrimary() bool {
	if f.primary == nil {
		return false
	}
	return !f.degraded.Load() || time.Now().UnixNano() >= f.retryAt.Load()
}

// observe records the outcome of a primary call and reports whether the
// caller should fall back.
func (f *FailoverStore) observe(op string, err error) bool {
	if err == nil {
		if f.degraded.CompareAndSwap(true, false) {
			f.log.Info("rate limit backend recovered", slog.String("component", "ratelimit"))
		}
		return false
	}
	if !errors.Is(err, ErrStoreUnavailable) {
		return false
	}

	f.retryAt.Store(time.Now().Add(f.retryInterval).UnixNano())
	if f.degraded.CompareAndSwap(false, true) || f.warn.Allow() {
		f.log.Warn("rate limit backend unavailable, enforcing limits per process",
			slog.String("component", "ratelimit"),
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
	}
	return true
}

// RecordTimestampIfAllowed implements SlidingWindowStore.
func (f *FailoverStore) RecordTimestampIfAllowed(ctx context.Context, key string, timestamp time.Time, window time.Duration, limit int, n int) (bool, int64, error) {
	if f.usePrimary() {
		ok, count, err := f.primary.RecordTimestampIfAllowed(ctx, key, timestamp, window, limit, n)
		if !f.observe("record", err) {
			return ok, count, err
		}
	}
	return f.fallback.RecordTimestampIfAllowed(ctx, key, timestamp, window, limit, n)
}

// CountInWindow implements SlidingWindowStore.
func (f *FailoverStore) CountInWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	if f.usePrimary() {
		count, err := f.primary.CountInWindow(ctx, key, window)
		if !f.observe("count", err) {
			return count, err
		}
	}
	return f.fallback.CountInWindow(ctx, key, window)
}

// Delete implements SlidingWindowStore. The key is removed from both stores.
func (f *FailoverStore) Delete(ctx context.Context, key string) error {
	_ = f.fallback.Delete(ctx, key)
	if f.usePrimary() {
		err := f.primary.Delete(ctx, key)
		if !f.observe("delete", err) {
			return err
		}
	}
	return nil
}

// Close stops the fallback store. The primary is left to its owner.
func (f *FailoverStore) Close() error {
	return f.fallback.Close()
}
