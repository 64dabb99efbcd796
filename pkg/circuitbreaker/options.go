package circuitbreaker

import "time"

type options struct {
	threshold     int
	openTimeout   time.Duration
	now           func() time.Time
	onStateChange StateChangeFunc
}

func defaultOptions() options {
	return options{
		threshold:   5,
		openTimeout: 60 * time.Second,
		now:         time.Now,
	}
}

// Option configures breakers.
type Option func(*options)

// WithFailureThreshold sets how many failures open the circuit.
func WithFailureThreshold(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.threshold = n
		}
	}
}

// WithOpenTimeout sets how long the circuit stays open before a probe.
func WithOpenTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.openTimeout = d
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithStateChange registers a callback invoked on every transition.
// It runs while the breaker is locked and must not call back into it.
func WithStateChange(fn StateChangeFunc) Option {
	return func(o *options) {
		o.onStateChange = fn
	}
}
