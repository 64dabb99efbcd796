package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/dmitrymomot/taskmanager/pkg/async"
	"github.com/dmitrymomot/taskmanager/pkg/circuitbreaker"
	"github.com/dmitrymomot/taskmanager/pkg/logger"
)

// worker pulls one task per cycle from the queues of its worker type.
type worker struct {
	id    string
	wt    WorkerType
	m     *Manager
	order []QueueKey

	// stop asks the worker to exit after its current task.
	stop chan struct{}
	// wake interrupts an idle sleep when new work is published.
	wake chan struct{}

	errLog rate.Sometimes
}

func newWorker(m *Manager, wt WorkerType, index int) *worker {
	return &worker{
		id:     fmt.Sprintf("%s-%s-%d", m.processID, wt, index),
		wt:     wt,
		m:      m,
		order:  rotate(m.router.KeysFor(wt), m.router.Partitions(), index),
		stop:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
		errLog: rate.Sometimes{Interval: 5 * time.Second},
	}
}

// rotate shifts the partition start inside every priority band so workers
// of the same type spread over partitions. Priority order is kept.
func rotate(keys []QueueKey, partitions, index int) []QueueKey {
	if partitions <= 1 {
		return keys
	}
	out := make([]QueueKey, 0, len(keys))
	offset := index % partitions
	for band := 0; band+partitions <= len(keys); band += partitions {
		for i := range partitions {
			out = append(out, keys[band+(i+offset)%partitions])
		}
	}
	return out
}

func (w *worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *worker) stopping(ctx context.Context) bool {
	select {
	case <-w.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// run is the main processing loop
func (w *worker) run(ctx context.Context) {
	log := w.m.logger.With(logger.WorkerID(w.id), logger.WorkerType(w.wt))
	log.Debug("worker started")
	defer log.Debug("worker stopped")

	cfg := w.m.cfg
	idle := 0

	for !w.stopping(ctx) {
		if w.cycle(ctx, log) {
			idle = 0
			continue
		}

		idle++
		interval := cfg.FastPollInterval
		if idle >= cfg.IdleCycleThreshold {
			interval = cfg.IdlePollInterval
		}
		if !w.sleep(ctx, interval) {
			return
		}
	}
}

// sleep waits for interval, a wake-up or a stop request. It reports
// whether the worker should keep running.
func (w *worker) sleep(ctx context.Context, interval time.Duration) bool {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-w.stop:
		return false
	case <-w.wake:
		return true
	case <-timer.C:
		return true
	}
}

// cycle walks the monitored keys once and processes the first task found.
func (w *worker) cycle(ctx context.Context, log *slog.Logger) bool {
	for _, key := range w.order {
		entry, ok, err := w.m.store.PopMin(ctx, key.String())
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			w.errLog.Do(func() {
				log.Error("failed to pop task",
					logger.QueueKey(key),
					logger.Error(err))
			})
			continue
		}
		if !ok {
			continue
		}

		task, err := DecodeTask(entry.Payload)
		if err != nil {
			// nothing to retry or archive without an ID
			log.Error("dropping undecodable task",
				logger.QueueKey(key),
				slog.Int("payload_size", len(entry.Payload)),
				logger.Error(err))
			return true
		}

		log.Debug("claimed task",
			logger.TaskID(task.ID),
			slog.String("task_name", task.Name),
			logger.QueueKey(key))

		w.process(ctx, log, task)
		return true
	}
	return false
}

// process executes a task with its handler. Failures never escape the loop.
func (w *worker) process(ctx context.Context, log *slog.Logger, task *Task) {
	m := w.m
	// tasks finish even when shutdown starts mid-execution
	ctx = logger.WithTaskID(context.WithoutCancel(ctx), task.ID)
	log = log.With(logger.TaskID(task.ID), logger.Handler(task.Handler))

	if m.consumeCancel(ctx, task) {
		log.Info("task cancelled before execution")
		return
	}

	handler, ok := m.registry.Get(task.Handler)
	if !ok {
		w.handleMissingHandler(ctx, log, task)
		return
	}

	m.stats.active.Add(1)
	start := time.Now()
	res := m.breakers.Get(task.Handler).Execute(ctx, func(ctx context.Context) error {
		return invoke(ctx, handler, task)
	})
	duration := time.Since(start)
	m.stats.active.Add(-1)

	if err := res.Error(); err != nil {
		w.handleTaskFailure(ctx, log, task, res, duration)
		return
	}

	m.stats.completed.Add(1)
	log.Info("task completed successfully",
		slog.String("task_name", task.Name),
		logger.Priority(task.Priority),
		logger.Duration(duration))
}

// invoke runs the handler in its own goroutine bounded by the task timeout.
// Panics surface as *async.PanicError.
func invoke(ctx context.Context, h Handler, task *Task) error {
	var cancel context.CancelFunc
	if task.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	fut := async.Async(ctx, task, func(ctx context.Context, t *Task) (struct{}, error) {
		return struct{}{}, h.Handle(ctx, t)
	})

	_, err := fut.AwaitWithTimeout(task.Timeout)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, async.ErrTimeout):
		return ErrTaskTimeout
	case errors.Is(err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded):
		return ErrTaskTimeout
	}
	return err
}

// handleMissingHandler moves the task straight to the dead letter queue,
// retries cannot succeed until the handler is deployed.
func (w *worker) handleMissingHandler(ctx context.Context, log *slog.Logger, task *Task) {
	log.Error("no handler registered for task")
	w.m.stats.failed.Add(1)
	w.m.deadLetter(ctx, task, fmt.Errorf("%w: %s", ErrHandlerNotFound, task.Handler))
}

func (w *worker) handleTaskFailure(ctx context.Context, log *slog.Logger, task *Task, res circuitbreaker.Result, duration time.Duration) {
	m := w.m
	m.stats.failed.Add(1)

	execErr := res.Error()
	if res.Outcome == circuitbreaker.OutcomeHandlerError {
		execErr = &TaskExecutionError{TaskID: task.ID, Handler: task.Handler, Err: execErr}
	}

	log.Error("task failed",
		slog.String("task_name", task.Name),
		slog.String("outcome", res.Outcome.String()),
		logger.RetryCount(task.CurrentRetries),
		slog.Int("max_retries", task.MaxRetries),
		logger.Duration(duration),
		logger.Error(execErr))

	m.handleFailure(ctx, task, execErr)
}
