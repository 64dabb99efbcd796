package circuitbreaker

import (
	"errors"
	"fmt"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// NoTransitionError reports an event that is not valid in the current state.
type NoTransitionError struct {
	State State
	Event Event
}

func (e *NoTransitionError) Error() string {
	return fmt.Sprintf("no transition from state '%s' for event '%s'", e.State, e.Event)
}
