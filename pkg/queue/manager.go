package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/taskmanager/pkg/circuitbreaker"
	"github.com/dmitrymomot/taskmanager/pkg/lock"
	"github.com/dmitrymomot/taskmanager/pkg/logger"
	"github.com/dmitrymomot/taskmanager/pkg/ratelimit"
	"github.com/dmitrymomot/taskmanager/pkg/store"
)

type managerState uint8

const (
	stateNew managerState = iota
	stateRunning
	stateClosed
)

// Manager is the composition root of the scheduler: it accepts tasks,
// runs the worker pools and the background loops, and exposes locks,
// metrics and the dead letter queue.
type Manager struct {
	cfg       Config
	store     store.Store
	registry  *Registry
	router    *Router
	limiter   *ratelimit.SlidingWindow
	rateStore ratelimit.SlidingWindowStore
	ownsRate  bool
	breakers  *circuitbreaker.Registry
	locks     *lock.Manager
	cpu       CPUSampler
	logger    *slog.Logger
	now       func() time.Time
	ownsStore bool
	processID string
	seq       sequencer

	pools     map[WorkerType]*pool
	stats     stats
	collector collector

	mu      sync.Mutex
	state   managerState
	cancel  context.CancelFunc
	loops   sync.WaitGroup
	workers sync.WaitGroup
}

// New creates a task manager. Handlers must be registered in reg before
// tasks referencing them are submitted.
func New(st store.Store, reg *Registry, opts ...Option) (*Manager, error) {
	if st == nil {
		return nil, ErrStoreNil
	}
	if reg == nil {
		return nil, ErrRegistryNil
	}

	options := &managerOptions{
		config:     DefaultConfig(),
		logger:     slog.Default(),
		cpuSampler: HostCPUSampler{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(options)
	}

	cfg := options.config.normalize()
	log := options.logger.With(logger.Component("taskmanager"))

	ownsRate := false
	if options.rateStore == nil {
		options.rateStore = ratelimit.NewMemoryStore(ratelimit.WithMaxWindow(cfg.RateLimitWindow))
		ownsRate = true
	}
	limiter, err := ratelimit.NewSlidingWindow(options.rateStore, cfg.RateLimit, cfg.RateLimitWindow,
		ratelimit.WithLimitOverrides(cfg.RateLimitOverrides),
		ratelimit.WithClock(options.now))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	router := NewRouter(cfg.Prefix, cfg.Partitions)

	m := &Manager{
		cfg:       cfg,
		store:     st,
		registry:  reg,
		router:    router,
		limiter:   limiter,
		rateStore: options.rateStore,
		ownsRate:  ownsRate,
		cpu:       options.cpuSampler,
		logger:    log,
		now:       options.now,
		ownsStore: options.ownsStore,
		processID: processID(options.processName),
		pools:     make(map[WorkerType]*pool, len(workerTypes)),
	}

	m.breakers = circuitbreaker.NewRegistry(
		circuitbreaker.WithFailureThreshold(cfg.BreakerFailureThreshold),
		circuitbreaker.WithOpenTimeout(cfg.BreakerOpenTimeout),
		circuitbreaker.WithClock(options.now),
		circuitbreaker.WithStateChange(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.Handler(name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		}),
	)
	m.locks = lock.NewManager(st,
		lock.WithPrefix(router.lockPrefix()),
		lock.WithLogger(log),
		lock.WithClock(options.now),
	)

	cpus := runtime.NumCPU()
	for _, wt := range workerTypes {
		m.pools[wt] = newPool(m, wt, cfg.InitialPoolSize(wt, cpus))
	}

	return m, nil
}

func processID(name string) string {
	if name == "" {
		name, _ = os.Hostname()
	}
	if name == "" {
		name = "taskmanager"
	}
	return fmt.Sprintf("%s-%d-%s", name, os.Getpid(), uuid.NewString()[:8])
}

// ProcessID identifies this manager in worker IDs and default lock owners.
func (m *Manager) ProcessID() string { return m.processID }

// Router exposes the key layout used by the manager.
func (m *Manager) Router() *Router { return m.router }

// Start launches the worker pools and background loops. The manager stops
// when ctx is cancelled or Shutdown is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case stateRunning:
		return ErrManagerRunning
	case stateClosed:
		return ErrManagerClosed
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.state = stateRunning

	for _, wt := range workerTypes {
		m.pools[wt].start(runCtx)
	}

	m.every(runCtx, m.cfg.ForwardInterval, func(ctx context.Context) { m.forward(ctx) })
	m.every(runCtx, m.cfg.MetricsInterval, func(ctx context.Context) { m.CollectMetrics(ctx) })
	m.every(runCtx, m.cfg.ScaleInterval, m.autoscale)
	m.loops.Add(1)
	go func() {
		defer m.loops.Done()
		m.listen(runCtx)
	}()

	m.logger.Info("task manager started",
		slog.String("process_id", m.processID),
		logger.Mode(m.store.Mode()),
		slog.Int("partitions", m.cfg.Partitions),
		slog.Any("pools", m.PoolTargets()))

	if m.store.Mode() != store.ModeShared {
		m.logger.Warn("task manager running without a shared backend: queues are process local and not durable",
			logger.Mode(m.store.Mode()))
	}

	return nil
}

// Run starts the manager and returns a function suitable for errgroup.
// The function blocks until ctx is done and then shuts down.
func (m *Manager) Run(ctx context.Context) func() error {
	return func() error {
		if err := m.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()

		return m.Shutdown(context.WithoutCancel(ctx))
	}
}

// every runs fn on a fixed interval until ctx is done.
func (m *Manager) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	m.loops.Add(1)
	go func() {
		defer m.loops.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

// listen wakes idle workers when a task is published for their type.
func (m *Manager) listen(ctx context.Context) {
	topic := m.router.NotifyTopic()
	for ctx.Err() == nil {
		sub, err := m.store.Subscribe(ctx, topic)
		if err != nil {
			if ctx.Err() == nil {
				m.logger.Debug("failed to subscribe to task notifications", logger.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.cfg.IdlePollInterval):
				continue
			}
		}

		m.consume(ctx, sub)
		_ = sub.Close()
	}
}

func (m *Manager) consume(ctx context.Context, sub store.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			if p, ok := m.pools[WorkerType(msg)]; ok {
				p.signal()
			}
		}
	}
}

func (m *Manager) notify(ctx context.Context, wt WorkerType) {
	if err := m.store.Publish(ctx, m.router.NotifyTopic(), []byte(wt)); err != nil {
		m.logger.DebugContext(ctx, "failed to publish task notification", logger.Error(err))
	}
}

func (m *Manager) checkOpen() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == stateClosed {
		return ErrManagerClosed
	}
	return nil
}

// Submit validates a task, checks the rate limit of its category and
// pushes it onto its queue. It returns the task ID and never waits for
// execution.
func (m *Manager) Submit(ctx context.Context, handler string, args []any, kwargs map[string]any, opts ...SubmitOption) (string, error) {
	if err := m.checkOpen(); err != nil {
		return "", err
	}

	task := &Task{
		Handler:    handler,
		Args:       args,
		Kwargs:     kwargs,
		Priority:   PriorityDefault,
		WorkerType: WorkerTypeDefault,
		MaxRetries: m.cfg.DefaultMaxRetries,
		RetryDelay: m.cfg.DefaultRetryDelay,
		Timeout:    m.cfg.DefaultTimeout,
		CreatedAt:  m.now(),
	}
	for _, opt := range opts {
		opt(task)
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Name == "" {
		task.Name = handler
	}

	if err := m.enqueue(ctx, task); err != nil {
		return "", err
	}
	return task.ID, nil
}

// enqueue is the submit path shared by Submit and RetryDeadLetterTask.
func (m *Manager) enqueue(ctx context.Context, task *Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	if _, ok := m.registry.Get(task.Handler); !ok {
		return errors.Join(ErrValidation, fmt.Errorf("%w: %s", ErrHandlerNotFound, task.Handler))
	}

	category := task.category()
	res, err := m.limiter.Allow(ctx, category)
	if err != nil {
		return fmt.Errorf("failed to check rate limit: %w", err)
	}
	if !res.Allowed {
		return fmt.Errorf("%w: %s (limit %d, retry in %s)",
			ErrRateLimitExceeded, category, res.Limit, res.RetryAfter(m.now()).Round(time.Millisecond))
	}

	now := m.now()
	if task.ScheduledFor != nil && task.ScheduledFor.After(now) {
		if err := m.scheduleDelayed(ctx, task, *task.ScheduledFor); err != nil {
			return err
		}
	} else if err := m.push(ctx, task, now); err != nil {
		return err
	}

	m.stats.submitted.Add(1)
	m.logger.DebugContext(ctx, "task submitted",
		logger.TaskID(task.ID),
		logger.Handler(task.Handler),
		logger.Priority(task.Priority),
		logger.WorkerType(task.WorkerType),
		logger.Category(category))
	return nil
}

// push places a task on its queue with a fresh score and wakes its pool.
func (m *Manager) push(ctx context.Context, task *Task, now time.Time) error {
	task.SubmittedAt = now
	key := m.router.QueueKey(task.Priority, task.WorkerType, task.ID)

	payload, err := EncodeTask(task)
	if err != nil {
		return err
	}
	if err := m.store.PushWithScore(ctx, key.String(), payload, m.seq.next(now)); err != nil {
		return fmt.Errorf("failed to enqueue task %s: %w", task.ID, err)
	}

	m.notify(ctx, task.WorkerType)
	return nil
}

// Cancel marks a task so workers discard it at pickup. A task already
// executing is not interrupted. It returns false if the task was already
// marked.
func (m *Manager) Cancel(ctx context.Context, taskID string) (bool, error) {
	if err := m.checkOpen(); err != nil {
		return false, err
	}
	if taskID == "" {
		return false, fmt.Errorf("%w: task id is required", ErrValidation)
	}

	ok, err := m.store.SetIfAbsentWithTTL(ctx, m.router.CancelKey(taskID), []byte(m.processID), m.cfg.CancelMarkerTTL)
	if err != nil {
		return false, fmt.Errorf("failed to cancel task %s: %w", taskID, err)
	}
	return ok, nil
}

// consumeCancel reports whether the task was cancelled and clears the marker.
func (m *Manager) consumeCancel(ctx context.Context, task *Task) bool {
	key := m.router.CancelKey(task.ID)
	_, found, err := m.store.Get(ctx, key)
	if err != nil {
		m.logger.DebugContext(ctx, "failed to read cancel marker", logger.TaskID(task.ID), logger.Error(err))
		return false
	}
	if !found {
		return false
	}

	if err := m.store.Delete(ctx, key); err != nil {
		m.logger.DebugContext(ctx, "failed to clear cancel marker", logger.TaskID(task.ID), logger.Error(err))
	}
	m.stats.cancelled.Add(1)
	return true
}

// AcquireLock takes a distributed lock for owner. An empty owner uses the
// process ID.
func (m *Manager) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return m.locks.Acquire(ctx, key, m.owner(owner), ttl)
}

// ReleaseLock releases a lock held by owner. It returns false without side
// effects when owner does not hold the lock.
func (m *Manager) ReleaseLock(ctx context.Context, key, owner string) (bool, error) {
	return m.locks.Release(ctx, key, m.owner(owner))
}

// ExecuteWithLock runs fn while holding key. The lock is released on every
// exit path and ErrLockUnavailable is returned if it cannot be taken.
func (m *Manager) ExecuteWithLock(ctx context.Context, key, owner string, timeout time.Duration, fn func(ctx context.Context) (any, error)) (any, error) {
	return lock.Execute(ctx, m.locks, key, m.owner(owner), timeout, fn)
}

func (m *Manager) owner(owner string) string {
	if owner == "" {
		return m.processID
	}
	return owner
}

// Shutdown stops the loops and waits for in-flight tasks to finish, bounded
// by ctx and ShutdownTimeout. Calling it more than once is a no-op.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.state == stateClosed {
		m.mu.Unlock()
		return nil
	}
	m.state = stateClosed
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	m.logger.Info("task manager stopping, waiting for active tasks to complete")

	ctx, stop := context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
	defer stop()

	done := make(chan struct{})
	go func() {
		m.loops.Wait()
		m.workers.Wait()
		close(done)
	}()

	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ErrShutdownTimeout)
	}

	m.flush()

	if m.ownsRate {
		if c, ok := m.rateStore.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if m.ownsStore {
		if err := m.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close store: %w", err))
		}
	}

	m.logger.Info("task manager stopped",
		slog.Int64("completed", m.stats.completed.Load()),
		slog.Int64("failed", m.stats.failed.Load()))

	return errors.Join(errs...)
}

// flush reports tasks left in process-local queues, which do not survive
// the process.
func (m *Manager) flush() {
	if m.store.Mode() == store.ModeShared {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap := m.CollectMetrics(ctx)
	if snap.TotalPending > 0 {
		m.logger.Warn("discarding tasks queued in process memory",
			logger.Mode(snap.BackendMode),
			slog.Int64("pending", snap.TotalPending))
	}
}
