package store

import "errors"

var (
	// ErrUnavailable signals that the backend could not be reached.
	// The failover store treats it as the trigger for degraded mode.
	ErrUnavailable = errors.New("store: backend unavailable")
	ErrClosed      = errors.New("store: closed")
	ErrInvalidKey  = errors.New("store: empty key")
)
