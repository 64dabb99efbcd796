package ratelimit

import (
	"context"
	"maps"
	"time"
)

// SlidingWindow implements a sliding window rate limiter that tracks
// individual request timestamps within a moving time window.
type SlidingWindow struct {
	store     SlidingWindowStore
	limit     int
	window    time.Duration
	overrides map[string]int
	now       func() time.Time
}

// Option configures a SlidingWindow.
type Option func(*SlidingWindow)

// WithLimitOverrides sets per-key limits. Keys not listed use the default
// limit; non-positive values are ignored.
func WithLimitOverrides(overrides map[string]int) Option {
	return func(sw *SlidingWindow) {
		for k, v := range overrides {
			if v > 0 {
				sw.overrides[k] = v
			}
		}
	}
}

// WithClock sets the time source for recorded timestamps and reset times.
func WithClock(now func() time.Time) Option {
	return func(sw *SlidingWindow) {
		if now != nil {
			sw.now = now
		}
	}
}

// NewSlidingWindow creates a new sliding window rate limiter.
func NewSlidingWindow(store SlidingWindowStore, limit int, window time.Duration, opts ...Option) (*SlidingWindow, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if window <= 0 {
		return nil, ErrInvalidInterval
	}

	sw := &SlidingWindow{
		store:     store,
		limit:     limit,
		window:    window,
		overrides: make(map[string]int),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(sw)
	}

	return sw, nil
}

// LimitFor returns the limit applied to key.
func (sw *SlidingWindow) LimitFor(key string) int {
	if l, ok := sw.overrides[key]; ok {
		return l
	}
	return sw.limit
}

// Limits returns a copy of the per-key overrides.
func (sw *SlidingWindow) Limits() map[string]int {
	return maps.Clone(sw.overrides)
}

// Window returns the window length.
func (sw *SlidingWindow) Window() time.Duration { return sw.window }

// IsAllowed records one request for key when it fits in the window.
func (sw *SlidingWindow) IsAllowed(ctx context.Context, key string) (bool, error) {
	res, err := sw.AllowN(ctx, key, 1)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

// Allow checks if a single request is allowed for the given key.
func (sw *SlidingWindow) Allow(ctx context.Context, key string) (*Result, error) {
	return sw.AllowN(ctx, key, 1)
}

// AllowN checks if n requests are allowed for the given key.
// Requests are recorded only when all n fit.
func (sw *SlidingWindow) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	if key == "" {
		return nil, ErrKeyRequired
	}
	if n <= 0 {
		n = 1
	}

	limit := sw.LimitFor(key)
	now := sw.now()

	allowed, count, err := sw.store.RecordTimestampIfAllowed(ctx, key, now, sw.window, limit, n)
	if err != nil {
		return nil, err
	}

	return &Result{
		Key:       key,
		Allowed:   allowed,
		Limit:     limit,
		Remaining: max(0, limit-int(count)),
		ResetAt:   now.Add(sw.window),
	}, nil
}

// Status returns the current rate limit status without consuming slots.
func (sw *SlidingWindow) Status(ctx context.Context, key string) (*Result, error) {
	if key == "" {
		return nil, ErrKeyRequired
	}

	count, err := sw.store.CountInWindow(ctx, key, sw.window)
	if err != nil {
		return nil, err
	}

	limit := sw.LimitFor(key)
	remaining := limit - int(count)

	return &Result{
		Key:       key,
		Allowed:   remaining > 0,
		Limit:     limit,
		Remaining: max(0, remaining),
		ResetAt:   sw.now().Add(sw.window),
	}, nil
}

// Reset resets the rate limit for the given key.
func (sw *SlidingWindow) Reset(ctx context.Context, key string) error {
	if key == "" {
		return ErrKeyRequired
	}

	return sw.store.Delete(ctx, key)
}
