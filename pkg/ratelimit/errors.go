package ratelimit

import "errors"

// Constructor errors.
var (
	ErrStoreRequired   = errors.New("ratelimit: store is required")
	ErrInvalidLimit    = errors.New("ratelimit: limit must be positive")
	ErrInvalidInterval = errors.New("ratelimit: window must be positive")
)

var (
	// ErrKeyRequired is returned for an empty key.
	ErrKeyRequired = errors.New("ratelimit: key is required")

	// ErrStoreUnavailable is joined with transport errors from RedisStore.
	ErrStoreUnavailable = errors.New("ratelimit: store unavailable")
)
