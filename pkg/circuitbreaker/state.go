package circuitbreaker

import "time"

// State of a breaker.
type State uint8

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Event triggers a state transition.
type Event string

const (
	EventFailureThresholdReached Event = "failure-threshold-reached"
	EventCooldownElapsed         Event = "cooldown-elapsed"
	EventProbeSucceeded          Event = "probe-succeeded"
	EventProbeFailed             Event = "probe-failed"
)

// guard decides whether a transition may fire. Called with the breaker lock held.
type guard func(b *Breaker, now time.Time) bool

// action runs after the state has changed. Called with the breaker lock held.
type action func(b *Breaker)

type transition struct {
	from   State
	event  Event
	to     State
	guards []guard
	action action
}

var transitions = []transition{
	{
		from:   StateClosed,
		event:  EventFailureThresholdReached,
		to:     StateOpen,
		guards: []guard{thresholdReached},
	},
	{
		from:   StateOpen,
		event:  EventCooldownElapsed,
		to:     StateHalfOpen,
		guards: []guard{cooldownElapsed},
	},
	{
		from:   StateHalfOpen,
		event:  EventProbeSucceeded,
		to:     StateClosed,
		action: resetFailures,
	},
	{
		from:  StateHalfOpen,
		event: EventProbeFailed,
		to:    StateOpen,
	},
}

func thresholdReached(b *Breaker, _ time.Time) bool {
	return b.failures >= b.threshold
}

func cooldownElapsed(b *Breaker, now time.Time) bool {
	return now.Sub(b.lastFailure) >= b.openTimeout
}

func resetFailures(b *Breaker) {
	b.failures = 0
}

// lookup returns the transition for (from, event).
func lookup(from State, event Event) (transition, bool) {
	for _, t := range transitions {
		if t.from == from && t.event == event {
			return t, true
		}
	}
	return transition{}, false
}
