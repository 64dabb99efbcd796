package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// DefaultCategory is the rate-limit category used when a task has none.
const DefaultCategory = "default"

// Priority is an ordered urgency level. Lower values are more urgent.
type Priority uint8

// Priority constants
const (
	PriorityEmergency Priority = iota
	PriorityCritical
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityBatch
	PriorityBackground
	PriorityMaintenance

	PriorityDefault = PriorityNormal
)

var priorityNames = [...]string{
	PriorityEmergency:   "emergency",
	PriorityCritical:    "critical",
	PriorityHigh:        "high",
	PriorityNormal:      "normal",
	PriorityLow:         "low",
	PriorityBatch:       "batch",
	PriorityBackground:  "background",
	PriorityMaintenance: "maintenance",
}

// Valid checks if the priority is a known level
func (p Priority) Valid() bool {
	return p <= PriorityMaintenance
}

func (p Priority) String() string {
	if !p.Valid() {
		return fmt.Sprintf("priority(%d)", uint8(p))
	}
	return priorityNames[p]
}

// MarshalText encodes the priority by name.
func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %d", ErrValidation, uint8(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText accepts a priority name or its numeric level.
func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParsePriority resolves a case-insensitive priority name or numeric level.
func ParsePriority(s string) (Priority, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range priorityNames {
		if name == s {
			return Priority(i), nil
		}
	}
	if n, err := cast.ToUint8E(s); err == nil && Priority(n).Valid() {
		return Priority(n), nil
	}
	return 0, fmt.Errorf("%w: unknown priority %q", ErrValidation, s)
}

// Priorities returns all levels, most urgent first.
func Priorities() []Priority {
	out := make([]Priority, 0, len(priorityNames))
	for i := range priorityNames {
		out = append(out, Priority(i))
	}
	return out
}

// WorkerType selects the pool that executes a task.
type WorkerType string

// WorkerType constants
const (
	WorkerTypeCPU     WorkerType = "cpu_intensive"
	WorkerTypeIO      WorkerType = "io_intensive"
	WorkerTypeMemory  WorkerType = "memory_intensive"
	WorkerTypeNetwork WorkerType = "network_intensive"
	WorkerTypeGeneral WorkerType = "general_purpose"

	WorkerTypeDefault = WorkerTypeGeneral
)

var workerTypes = []WorkerType{
	WorkerTypeCPU,
	WorkerTypeIO,
	WorkerTypeMemory,
	WorkerTypeNetwork,
	WorkerTypeGeneral,
}

// Valid checks if the worker type is known
func (wt WorkerType) Valid() bool {
	for _, known := range workerTypes {
		if wt == known {
			return true
		}
	}
	return false
}

func (wt WorkerType) String() string { return string(wt) }

// ParseWorkerType resolves a worker type name. The "_intensive" and
// "_purpose" suffixes may be omitted.
func ParseWorkerType(s string) (WorkerType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, wt := range workerTypes {
		name := string(wt)
		if s == name || s+"_intensive" == name || s+"_purpose" == name {
			return wt, nil
		}
	}
	return "", fmt.Errorf("%w: unknown worker type %q", ErrValidation, s)
}

// WorkerTypes returns every known worker type.
func WorkerTypes() []WorkerType {
	out := make([]WorkerType, len(workerTypes))
	copy(out, workerTypes)
	return out
}

// Task represents a unit of work in the queue
type Task struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Handler        string         `json:"handler"`
	Args           []any          `json:"args,omitempty"`
	Kwargs         map[string]any `json:"kwargs,omitempty"`
	Priority       Priority       `json:"priority"`
	WorkerType     WorkerType     `json:"worker_type"`
	MaxRetries     int            `json:"max_retries"`
	RetryDelay     time.Duration  `json:"-"`
	Timeout        time.Duration  `json:"-"`
	Category       string         `json:"category"`
	CurrentRetries int            `json:"current_retries"`
	CreatedAt      time.Time      `json:"created_at"`
	ScheduledFor   *time.Time     `json:"scheduled_for,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	SubmittedAt    time.Time      `json:"submitted_at"`
}

type taskAlias Task

// durations travel as seconds
type taskJSON struct {
	*taskAlias
	RetryDelay float64 `json:"retry_delay"`
	Timeout    float64 `json:"timeout,omitempty"`
}

func (t Task) MarshalJSON() ([]byte, error) {
	return json.Marshal(taskJSON{
		taskAlias:  (*taskAlias)(&t),
		RetryDelay: t.RetryDelay.Seconds(),
		Timeout:    t.Timeout.Seconds(),
	})
}

func (t *Task) UnmarshalJSON(b []byte) error {
	aux := taskJSON{taskAlias: (*taskAlias)(t)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	t.RetryDelay = time.Duration(aux.RetryDelay * float64(time.Second))
	t.Timeout = time.Duration(aux.Timeout * float64(time.Second))
	return nil
}

// Validate checks the fields Submit relies on.
func (t *Task) Validate() error {
	var errs []error
	if t.Handler == "" {
		errs = append(errs, errors.New("handler name is required"))
	}
	if !t.Priority.Valid() {
		errs = append(errs, fmt.Errorf("unknown priority %d", uint8(t.Priority)))
	}
	if !t.WorkerType.Valid() {
		errs = append(errs, fmt.Errorf("unknown worker type %q", t.WorkerType))
	}
	if t.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}
	if t.RetryDelay < 0 {
		errs = append(errs, errors.New("retry delay cannot be negative"))
	}
	if t.Timeout < 0 {
		errs = append(errs, errors.New("timeout cannot be negative"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrValidation}, errs...)...)
}

// Arg returns the positional argument at i, or nil when out of range.
func (t *Task) Arg(i int) any {
	if i < 0 || i >= len(t.Args) {
		return nil
	}
	return t.Args[i]
}

// Kwarg returns a keyword argument.
func (t *Task) Kwarg(name string) (any, bool) {
	v, ok := t.Kwargs[name]
	return v, ok
}

// IntKwarg converts a keyword argument to int. Numbers decoded from JSON
// arrive as float64 and are converted.
func (t *Task) IntKwarg(name string) (int, error) {
	return kwarg(t, name, cast.ToIntE)
}

func (t *Task) StringKwarg(name string) (string, error) {
	return kwarg(t, name, cast.ToStringE)
}

func (t *Task) BoolKwarg(name string) (bool, error) {
	return kwarg(t, name, cast.ToBoolE)
}

// DurationKwarg accepts strings like "1m30s"; bare numbers are nanoseconds.
func (t *Task) DurationKwarg(name string) (time.Duration, error) {
	return kwarg(t, name, cast.ToDurationE)
}

func kwarg[T any](t *Task, name string, conv func(any) (T, error)) (T, error) {
	v, ok := t.Kwargs[name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("kwarg %q is missing", name)
	}
	out, err := conv(v)
	if err != nil {
		return out, fmt.Errorf("kwarg %q: %w", name, err)
	}
	return out, nil
}

func (t *Task) category() string {
	if t.Category == "" {
		return DefaultCategory
	}
	return t.Category
}

// EncodeTask serializes a task for the store.
func EncodeTask(t *Task) ([]byte, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, errors.Join(ErrInvalidTask, err)
	}
	return b, nil
}

// DecodeTask parses a task read from the store.
func DecodeTask(b []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, errors.Join(ErrInvalidTask, err)
	}
	if t.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidTask)
	}
	return &t, nil
}

// DeadLetterRecord stores a task that exhausted all retries for manual
// inspection and recovery.
type DeadLetterRecord struct {
	Task         *Task     `json:"task"`
	FinalError   string    `json:"final_error"`
	ArchivedAt   time.Time `json:"archived_at"`
	TotalRetries int       `json:"total_retries"`
}
