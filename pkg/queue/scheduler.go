package queue

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dmitrymomot/taskmanager/pkg/logger"
)

// Job is a task submitted on a schedule.
type Job struct {
	Name     string
	Schedule Schedule
	Handler  string
	Args     []any
	Kwargs   map[string]any
	Options  []SubmitOption
}

// JobConfig is the file representation of a Job.
type JobConfig struct {
	Name       string         `yaml:"name" validate:"required"`
	Schedule   string         `yaml:"schedule" validate:"required"`
	Handler    string         `yaml:"handler" validate:"required"`
	Priority   string         `yaml:"priority"`
	WorkerType string         `yaml:"worker_type"`
	Category   string         `yaml:"category"`
	Kwargs     map[string]any `yaml:"kwargs"`
}

// Job converts the configuration into a Job.
func (c JobConfig) Job() (Job, error) {
	sched, err := ParseSchedule(c.Schedule)
	if err != nil {
		return Job{}, err
	}

	job := Job{Name: c.Name, Schedule: sched, Handler: c.Handler, Kwargs: c.Kwargs}
	if c.Priority != "" {
		p, err := ParsePriority(c.Priority)
		if err != nil {
			return Job{}, err
		}
		job.Options = append(job.Options, WithPriority(p))
	}
	if c.WorkerType != "" {
		wt, err := ParseWorkerType(c.WorkerType)
		if err != nil {
			return Job{}, err
		}
		job.Options = append(job.Options, WithWorkerType(wt))
	}
	if c.Category != "" {
		job.Options = append(job.Options, WithCategory(c.Category))
	}
	return job, nil
}

// SchedulerOption is a functional option for configuring a scheduler
type SchedulerOption func(*schedulerOptions)

type schedulerOptions struct {
	checkInterval time.Duration
	logger        *slog.Logger
}

// WithCheckInterval sets how often scheduler checks for due jobs
func WithCheckInterval(d time.Duration) SchedulerOption {
	return func(o *schedulerOptions) {
		if d > 0 {
			o.checkInterval = d
		}
	}
}

// WithSchedulerLogger sets the logger for the scheduler
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(o *schedulerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Scheduler submits jobs through a Manager when they are due. Several
// processes may run the same jobs: each run is claimed with a distributed
// lock so it is submitted once.
type Scheduler struct {
	m        *Manager
	mu       sync.RWMutex
	jobs     map[string]*scheduledJob
	interval time.Duration
	logger   *slog.Logger
}

type scheduledJob struct {
	Job
	next time.Time
}

// NewScheduler creates a job scheduler bound to m
func NewScheduler(m *Manager, opts ...SchedulerOption) (*Scheduler, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: manager is required", ErrValidation)
	}

	options := &schedulerOptions{
		checkInterval: time.Second,
		logger:        m.logger,
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Scheduler{
		m:        m,
		jobs:     make(map[string]*scheduledJob),
		interval: options.checkInterval,
		logger:   options.logger,
	}, nil
}

// AddJob registers a job. Its first run is the schedule's next time after now.
func (s *Scheduler) AddJob(job Job) error {
	if job.Name == "" || job.Handler == "" {
		return fmt.Errorf("%w: job name and handler are required", ErrValidation)
	}
	if job.Schedule == nil {
		return fmt.Errorf("%w: no schedule for job %s", ErrInvalidSchedule, job.Name)
	}
	now := s.m.now()
	next := job.Schedule.Next(now)
	if !next.After(now) {
		return fmt.Errorf("%w: %s never advances", ErrInvalidSchedule, job.Schedule)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("%w: %s", ErrJobAlreadyRegistered, job.Name)
	}
	s.jobs[job.Name] = &scheduledJob{Job: job, next: next}

	s.logger.Info("registered periodic job",
		slog.String("job", job.Name),
		slog.String("schedule", job.Schedule.String()),
		slog.Time("next_run", next))
	return nil
}

// RemoveJob removes a periodic job from the scheduler
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, name)
}

// Jobs returns the registered job names in sorted order
func (s *Scheduler) Jobs() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	s.mu.RUnlock()

	slices.Sort(names)
	return names
}

// Start checks jobs every interval until ctx is done
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.RLock()
	count := len(s.jobs)
	s.mu.RUnlock()

	if count == 0 {
		return ErrSchedulerNotConfigured
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler shutting down")
			return nil
		case <-ticker.C:
			s.RunDue(ctx, s.m.now())
		}
	}
}

// RunDue submits every job whose run time is not after now and returns
// how many submissions this process made. Missed runs are not replayed.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	var due []scheduledJob
	for _, job := range s.jobs {
		if now.Before(job.next) {
			continue
		}
		due = append(due, *job)
		next := job.Schedule.Next(job.next)
		if !next.After(now) {
			next = job.Schedule.Next(now)
		}
		job.next = next
	}
	s.mu.Unlock()

	fired := 0
	for _, job := range due {
		ok, err := s.fire(ctx, job.Job, job.next)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to submit periodic job",
				slog.String("job", job.Name),
				logger.Error(err))
			continue
		}
		if ok {
			fired++
		}
	}
	return fired
}

// fire claims the run at slot and submits the job.
func (s *Scheduler) fire(ctx context.Context, job Job, slot time.Time) (bool, error) {
	key := fmt.Sprintf("schedule:%s:%d", job.Name, slot.Unix())
	// the claim outlives the run so late processes skip it
	ttl := max(2*s.interval, time.Hour)

	claimed, err := s.m.AcquireLock(ctx, key, "", ttl)
	if err != nil {
		return false, err
	}
	if !claimed {
		s.logger.DebugContext(ctx, "periodic job already submitted by another process",
			slog.String("job", job.Name),
			slog.Time("slot", slot))
		return false, nil
	}

	opts := append([]SubmitOption{WithName(job.Name)}, job.Options...)
	id, err := s.m.Submit(ctx, job.Handler, job.Args, job.Kwargs, opts...)
	if err != nil {
		// free the slot so another process can try
		_, _ = s.m.ReleaseLock(ctx, key, "")
		return false, err
	}

	s.logger.InfoContext(ctx, "submitted periodic job",
		slog.String("job", job.Name),
		logger.TaskID(id),
		slog.Time("slot", slot))
	return true, nil
}
