package ratelimit

import (
	"context"
	"time"
)

// Result describes one limiter decision for a key.
type Result struct {
	Key       string
	Allowed   bool
	Limit     int
	Remaining int

	// ResetAt is the latest moment by which every request counted in this
	// decision has left the window.
	ResetAt time.Time
}

// RetryAfter reports how long a denied caller should back off, measured from
// now. It is zero for allowed results and never negative.
func (r *Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed || !r.ResetAt.After(now) {
		return 0
	}
	return r.ResetAt.Sub(now)
}

// SlidingWindowStore keeps request timestamps per key.
// Implementations must apply RecordTimestampIfAllowed atomically with respect
// to other callers sharing the same key.
type SlidingWindowStore interface {
	// RecordTimestampIfAllowed drops timestamps older than window and records
	// n copies of timestamp when the remaining count plus n fits in limit.
	// It returns whether it recorded and the count after the operation.
	RecordTimestampIfAllowed(ctx context.Context, key string, timestamp time.Time, window time.Duration, limit int, n int) (bool, int64, error)

	CountInWindow(ctx context.Context, key string, window time.Duration) (int64, error)

	Delete(ctx context.Context, key string) error
}
