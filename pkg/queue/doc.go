// Package queue implements a priority-aware, partitioned task scheduler on
// top of a shared ordered store.
//
// The package is organised around a few components:
//
//   - Manager accepts tasks and owns the worker pools and background loops.
//   - Router maps a task onto one of the priority × worker type × partition queues.
//   - Registry resolves handler names to Handler implementations.
//   - Scheduler submits periodic jobs through the Manager.
//
// All state that crosses process boundaries goes through a store.Store:
// queues and the dead letter queue are sorted sets, cancellation markers
// and locks are keys with a TTL, and idle workers are woken over pub/sub.
// Pop-min is atomic, so a queued task is handed to exactly one worker.
// Execution is at-least-once: a task being executed when its process dies
// is lost from the queue.
//
// # Architecture
//
//  1. Submit validates the task, checks the rate limit of its category and
//     pushes it with score priority*1e13 + submission time in milliseconds.
//  2. Every worker walks the queues of its worker type from the most urgent
//     priority down and executes at most one task per cycle. Idle workers
//     back off from FastPollInterval to IdlePollInterval.
//  3. Handlers run behind a circuit breaker keyed by handler name and, when
//     the task has a timeout, are abandoned once it elapses.
//  4. Failed tasks are parked in a per worker type delayed set for
//     RetryDelay * 2^attempt and then requeued by the forwarder. Tasks that
//     exhaust MaxRetries are archived in the dead letter queue.
//  5. The metrics loop samples queue depth and CPU; the autoscaler doubles or
//     halves pool targets from those samples.
//
// # Usage
//
//	reg := queue.NewRegistry()
//	reg.MustRegister("send_email", queue.NewTaskHandler(func(ctx context.Context, p EmailPayload) error {
//		return mailer.Send(ctx, p.To, p.Subject)
//	}))
//
//	m, err := queue.New(st, reg, queue.WithConfig(cfg), queue.WithLogger(log))
//	if err != nil {
//		return err
//	}
//	if err := m.Start(ctx); err != nil {
//		return err
//	}
//	defer m.Shutdown(context.Background())
//
//	id, err := m.Submit(ctx, "send_email", nil,
//		map[string]any{"to": "user@example.com", "subject": "hi"},
//		queue.WithPriority(queue.PriorityHigh),
//		queue.WithWorkerType(queue.WorkerTypeNetwork),
//		queue.WithCategory("email"),
//	)
//
// # Error Handling
//
// Submission errors are returned synchronously and never enqueue a task:
// ErrValidation, ErrRateLimitExceeded and store failures. Execution errors
// never stop a worker; they are recorded on the task as TaskExecutionError,
// ErrTaskTimeout or ErrCircuitOpen and drive the retry path.
package queue
