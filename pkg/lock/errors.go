package lock

import "errors"

var (
	ErrLockUnavailable = errors.New("lock: unavailable")
	ErrInvalidKey      = errors.New("lock: key is required")
	ErrInvalidOwner    = errors.New("lock: owner is required")
	ErrInvalidTTL      = errors.New("lock: ttl must be positive")
)
