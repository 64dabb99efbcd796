// Package ratelimit provides a sliding window rate limiter used to throttle
// task submission per category.
//
// The limiter keeps the timestamps of recent requests per key. A request is
// allowed when fewer than limit timestamps fall inside the trailing window,
// in which case its own timestamp is recorded. Denied requests record nothing.
//
// Two stores are available:
//
//   - MemoryStore keeps timestamps in process memory (per process limits).
//   - RedisStore keeps them in a Redis sorted set and applies the check with
//     a Lua script, so limits are shared by every process.
//
// FailoverStore wraps a shared store and switches to a MemoryStore while the
// shared one returns ErrStoreUnavailable, trying it again periodically.
//
// # Usage
//
//	store := ratelimit.NewMemoryStore()
//	defer store.Close()
//
//	limiter, err := ratelimit.NewSlidingWindow(store, 100, time.Minute,
//	    ratelimit.WithLimitOverrides(map[string]int{"email": 10}),
//	)
//	if err != nil {
//	    return err
//	}
//
//	res, err := limiter.Allow(ctx, "email")
//	if err != nil {
//	    return err
//	}
//	if !res.Allowed {
//	    return fmt.Errorf("email throttled, retry in %s", res.RetryAfter(time.Now()))
//	}
//
// # Errors
//
// Constructors return ErrStoreRequired, ErrInvalidLimit or ErrInvalidInterval
// for bad input; Allow and friends return ErrKeyRequired for an empty key.
// RedisStore joins transport failures with ErrStoreUnavailable.
package ratelimit
