package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Outcome of a call made through a breaker.
type Outcome uint8

const (
	OutcomeOK Outcome = iota
	OutcomeCircuitOpen
	OutcomeHandlerError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeCircuitOpen:
		return "circuit_open"
	case OutcomeHandlerError:
		return "handler_error"
	default:
		return "unknown"
	}
}

// Result is returned by Execute.
type Result struct {
	Outcome Outcome
	Err     error
}

// Error returns nil on success, ErrCircuitOpen when the call was rejected
// and the function error otherwise.
func (r Result) Error() error {
	switch r.Outcome {
	case OutcomeOK:
		return nil
	case OutcomeCircuitOpen:
		return ErrCircuitOpen
	default:
		return r.Err
	}
}

// StateChangeFunc is called after every transition.
type StateChangeFunc func(name string, from, to State)

// Breaker guards calls to a single function.
type Breaker struct {
	name          string
	threshold     int
	openTimeout   time.Duration
	now           func() time.Time
	onStateChange StateChangeFunc

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool
}

// New creates a breaker in the Closed state.
func New(name string, opts ...Option) *Breaker {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return newBreaker(name, o)
}

func newBreaker(name string, o options) *Breaker {
	return &Breaker{
		name:          name,
		threshold:     o.threshold,
		openTimeout:   o.openTimeout,
		now:           o.now,
		onStateChange: o.onStateChange,
		state:         StateClosed,
	}
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// fire applies the transition for event. Must be called with b.mu held.
func (b *Breaker) fire(event Event, now time.Time) error {
	t, ok := lookup(b.state, event)
	if !ok {
		return &NoTransitionError{State: b.state, Event: event}
	}
	for _, g := range t.guards {
		if !g(b, now) {
			return fmt.Errorf("transition from '%s' on '%s' rejected by guard", b.state, event)
		}
	}

	from := b.state
	b.state = t.to
	if t.action != nil {
		t.action(b)
	}
	if b.onStateChange != nil {
		b.onStateChange(b.name, from, t.to)
	}
	return nil
}

// Execute runs fn unless the circuit is open. A panic in fn propagates to
// the caller after being counted as a failure.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) Result {
	probe, ok := b.admit()
	if !ok {
		return Result{Outcome: OutcomeCircuitOpen, Err: ErrCircuitOpen}
	}

	panicked := true
	defer func() {
		if panicked {
			b.record(probe, errors.New("panic"))
		}
	}()

	err := fn(ctx)
	panicked = false
	b.record(probe, err)

	if err != nil {
		return Result{Outcome: OutcomeHandlerError, Err: err}
	}
	return Result{Outcome: OutcomeOK}
}

// admit decides whether a call may proceed and whether it is the probe.
func (b *Breaker) admit() (probe bool, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if err := b.fire(EventCooldownElapsed, b.now()); err != nil {
			return false, false
		}
	}
	if b.state == StateHalfOpen {
		if b.probing {
			return false, false
		}
		b.probing = true
		return true, true
	}
	return false, true
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
	}

	now := b.now()
	if err == nil {
		if b.state == StateHalfOpen {
			_ = b.fire(EventProbeSucceeded, now)
		}
		return
	}

	b.failures++
	b.lastFailure = now

	switch b.state {
	case StateHalfOpen:
		_ = b.fire(EventProbeFailed, now)
	case StateClosed:
		// guard rejects the event until the threshold is reached
		_ = b.fire(EventFailureThresholdReached, now)
	}
}

// Reset forces the breaker back to Closed with no recorded failures.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.probing = false
	if from != StateClosed && b.onStateChange != nil {
		b.onStateChange(b.name, from, StateClosed)
	}
}
