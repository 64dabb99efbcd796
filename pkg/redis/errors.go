package redis

import "errors"

// Sentinel errors. Each is joined with the go-redis cause, so errors.Is
// matches either.
var (
	ErrEmptyConnectionURL   = errors.New("redis: connection url is empty")
	ErrInvalidConnectionURL = errors.New("redis: cannot parse connection url")
	ErrNotReady             = errors.New("redis: server did not answer before the connect deadline")
	ErrHealthcheckFailed    = errors.New("redis: healthcheck failed")
)
