package queue

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/taskmanager/pkg/ratelimit"
)

// Option is a functional option for configuring a Manager
type Option func(*managerOptions)

type managerOptions struct {
	config      Config
	logger      *slog.Logger
	rateStore   ratelimit.SlidingWindowStore
	cpuSampler  CPUSampler
	now         func() time.Time
	ownsStore   bool
	processName string
}

// WithConfig replaces the default configuration. Zero fields fall back to
// defaults.
func WithConfig(cfg Config) Option {
	return func(o *managerOptions) {
		o.config = cfg
	}
}

// WithLogger sets the logger for the manager and its workers
func WithLogger(logger *slog.Logger) Option {
	return func(o *managerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRateLimitStore sets the sliding window store backing per-category
// limits. The default is a per-process memory store.
func WithRateLimitStore(s ratelimit.SlidingWindowStore) Option {
	return func(o *managerOptions) {
		if s != nil {
			o.rateStore = s
		}
	}
}

// WithCPUSampler replaces the gopsutil based CPU sampler.
func WithCPUSampler(s CPUSampler) Option {
	return func(o *managerOptions) {
		if s != nil {
			o.cpuSampler = s
		}
	}
}

// WithClock overrides the time source used for scores and retry delays.
func WithClock(now func() time.Time) Option {
	return func(o *managerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithOwnedStore makes Shutdown close the store.
func WithOwnedStore() Option {
	return func(o *managerOptions) {
		o.ownsStore = true
	}
}

// WithProcessName sets the prefix of worker IDs and default lock owners.
func WithProcessName(name string) Option {
	return func(o *managerOptions) {
		if name != "" {
			o.processName = name
		}
	}
}

// SubmitOption is a functional option for configuring a submitted task
type SubmitOption func(*Task)

// WithPriority sets the task priority
func WithPriority(p Priority) SubmitOption {
	return func(t *Task) {
		t.Priority = p
	}
}

// WithWorkerType selects the pool that runs the task
func WithWorkerType(wt WorkerType) SubmitOption {
	return func(t *Task) {
		t.WorkerType = wt
	}
}

// WithCategory sets the rate-limit category
func WithCategory(category string) SubmitOption {
	return func(t *Task) {
		t.Category = category
	}
}

// WithMaxRetries sets how many times a failed task is retried
func WithMaxRetries(n int) SubmitOption {
	return func(t *Task) {
		t.MaxRetries = n
	}
}

// WithRetryDelay sets the backoff base. Attempt n waits delay * 2^n.
func WithRetryDelay(d time.Duration) SubmitOption {
	return func(t *Task) {
		t.RetryDelay = d
	}
}

// WithTimeout bounds a single execution. Zero disables the bound.
func WithTimeout(d time.Duration) SubmitOption {
	return func(t *Task) {
		t.Timeout = d
	}
}

// WithName sets the display name
func WithName(name string) SubmitOption {
	return func(t *Task) {
		t.Name = name
	}
}

// WithScheduledFor delays the first execution until at
func WithScheduledFor(at time.Time) SubmitOption {
	return func(t *Task) {
		if !at.IsZero() {
			at := at
			t.ScheduledFor = &at
		}
	}
}

// WithDelay is shorthand for WithScheduledFor(time.Now().Add(d))
func WithDelay(d time.Duration) SubmitOption {
	return func(t *Task) {
		if d > 0 {
			at := time.Now().Add(d)
			t.ScheduledFor = &at
		}
	}
}

// WithTaskID sets the task ID instead of generating one.
func WithTaskID(id string) SubmitOption {
	return func(t *Task) {
		if id != "" {
			t.ID = id
		}
	}
}
