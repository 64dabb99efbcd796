package queue

import (
	"errors"
	"fmt"

	"github.com/dmitrymomot/taskmanager/pkg/circuitbreaker"
	"github.com/dmitrymomot/taskmanager/pkg/lock"
)

// Common errors
var (
	// ErrValidation is returned when a submission carries an unknown handler,
	// priority or worker type, or invalid retry settings.
	ErrValidation = errors.New("task validation failed")

	// ErrRateLimitExceeded is returned by Submit when the task's category is
	// over its limit. Nothing is enqueued.
	ErrRateLimitExceeded = errors.New("rate limit exceeded for task category")

	// ErrLockUnavailable is returned when a lock is held by another owner
	ErrLockUnavailable = lock.ErrLockUnavailable

	// ErrCircuitOpen is recorded when a handler's breaker rejected the call
	ErrCircuitOpen = circuitbreaker.ErrCircuitOpen

	// ErrTaskTimeout is recorded when a handler exceeded the task timeout
	ErrTaskTimeout = errors.New("task execution timed out")

	// ErrHandlerNotFound is returned when no handler is registered under a name
	ErrHandlerNotFound = errors.New("no handler registered for task")

	// ErrInvalidHandler is returned when registering a nil handler or an empty name
	ErrInvalidHandler = errors.New("invalid task handler")

	// ErrHandlerAlreadyRegistered is returned when trying to register a duplicate handler
	ErrHandlerAlreadyRegistered = errors.New("handler already registered")

	// ErrStoreNil is returned when a nil store is provided
	ErrStoreNil = errors.New("store cannot be nil")

	// ErrRegistryNil is returned when a nil registry is provided
	ErrRegistryNil = errors.New("handler registry cannot be nil")

	// ErrManagerRunning is returned when Start is called twice
	ErrManagerRunning = errors.New("task manager already started")

	// ErrManagerClosed is returned by operations invoked after Shutdown
	ErrManagerClosed = errors.New("task manager is shut down")

	// ErrShutdownTimeout is returned when workers did not drain in time
	ErrShutdownTimeout = errors.New("timed out waiting for workers to stop")

	// ErrTaskNotFound is returned when a dead-lettered task cannot be located
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidTask is returned when a payload cannot be decoded into a task
	ErrInvalidTask = errors.New("invalid task payload")

	// ErrInvalidSchedule is returned when schedule format is invalid
	ErrInvalidSchedule = errors.New("invalid schedule format")

	// ErrJobAlreadyRegistered is returned when trying to register a duplicate periodic job
	ErrJobAlreadyRegistered = errors.New("periodic job already registered")

	// ErrSchedulerNotConfigured is returned when scheduler has no jobs
	ErrSchedulerNotConfigured = errors.New("scheduler has no registered jobs")
)

// TaskExecutionError wraps the failure returned by a task handler.
type TaskExecutionError struct {
	TaskID  string
	Handler string
	Err     error
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("task %s (%s) failed: %v", e.TaskID, e.Handler, e.Err)
}

func (e *TaskExecutionError) Unwrap() error { return e.Err }
