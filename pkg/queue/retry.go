package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/dmitrymomot/taskmanager/pkg/logger"
	"github.com/dmitrymomot/taskmanager/pkg/store"
)

// maxBackoffShift keeps delay * 2^n from overflowing.
const maxBackoffShift = 30

// Backoff returns the delay before retry attempt n (zero based):
// base * 2^n.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	attempt = min(max(attempt, 0), maxBackoffShift)
	if base > math.MaxInt64>>attempt {
		return math.MaxInt64
	}
	return base << attempt
}

// handleFailure either schedules a retry or archives the task.
func (m *Manager) handleFailure(ctx context.Context, task *Task, execErr error) {
	task.LastError = execErr.Error()

	if task.CurrentRetries >= task.MaxRetries {
		m.deadLetter(ctx, task, execErr)
		return
	}

	delay := Backoff(task.RetryDelay, task.CurrentRetries)
	task.CurrentRetries++

	if err := m.scheduleDelayed(ctx, task, m.now().Add(delay)); err != nil {
		m.logger.ErrorContext(ctx, "failed to schedule retry, archiving task",
			logger.TaskID(task.ID),
			logger.Error(err))
		m.deadLetter(ctx, task, errors.Join(execErr, err))
		return
	}

	m.stats.retried.Add(1)
	m.logger.InfoContext(ctx, "task scheduled for retry",
		logger.TaskID(task.ID),
		logger.RetryCount(task.CurrentRetries),
		slog.Int("max_retries", task.MaxRetries),
		slog.Duration("delay", delay))
}

// scheduleDelayed parks a task in the delayed set of its worker type until at.
func (m *Manager) scheduleDelayed(ctx context.Context, task *Task, at time.Time) error {
	payload, err := EncodeTask(task)
	if err != nil {
		return err
	}
	key := m.router.DelayedKey(task.WorkerType)
	if err := m.store.PushWithScore(ctx, key, payload, float64(at.UnixMilli())); err != nil {
		return fmt.Errorf("failed to schedule task %s: %w", task.ID, err)
	}
	return nil
}

// deadLetter archives a task that will not be retried. Exhausted tasks are
// never dropped silently: a failed archive is logged with the full record.
func (m *Manager) deadLetter(ctx context.Context, task *Task, finalErr error) {
	rec := DeadLetterRecord{
		Task:         task,
		FinalError:   finalErr.Error(),
		ArchivedAt:   m.now(),
		TotalRetries: task.CurrentRetries,
	}

	if err := m.archive(ctx, rec); err != nil {
		m.logger.ErrorContext(ctx, "failed to move task to dead letter queue",
			logger.TaskID(task.ID),
			slog.Any("record", rec),
			logger.Error(err))
		return
	}

	m.stats.deadLettered.Add(1)
	m.logger.WarnContext(ctx, "task moved to dead letter queue",
		logger.TaskID(task.ID),
		logger.Handler(task.Handler),
		logger.WorkerType(task.WorkerType),
		logger.RetryCount(task.CurrentRetries),
		slog.String("final_error", rec.FinalError))
}

func (m *Manager) archive(ctx context.Context, rec DeadLetterRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := m.router.DeadLetterKey(rec.Task.WorkerType)
	if err := m.store.PushWithScore(ctx, key, payload, float64(rec.ArchivedAt.UnixMilli())); err != nil {
		return err
	}
	return m.store.TrimToLast(ctx, key, m.cfg.DeadLetterCap)
}

// forward moves due tasks from the delayed sets back onto their queues.
// It returns the number of tasks requeued.
func (m *Manager) forward(ctx context.Context) int {
	moved := 0
	for _, wt := range workerTypes {
		key := m.router.DelayedKey(wt)
		for ctx.Err() == nil {
			now := m.now()
			entry, ok, err := m.store.PopMinUpTo(ctx, key, float64(now.UnixMilli()))
			if err != nil {
				if ctx.Err() == nil {
					m.logger.ErrorContext(ctx, "failed to read delayed tasks",
						logger.WorkerType(wt),
						logger.Error(err))
				}
				break
			}
			if !ok {
				break
			}

			task, err := DecodeTask(entry.Payload)
			if err != nil {
				m.logger.ErrorContext(ctx, "dropping undecodable delayed task",
					logger.WorkerType(wt),
					logger.Error(err))
				continue
			}

			if err := m.push(ctx, task, now); err != nil {
				// put it back so the next tick retries
				if perr := m.store.PushWithScore(ctx, key, entry.Payload, entry.Score); perr != nil {
					m.logger.ErrorContext(ctx, "lost delayed task",
						logger.TaskID(task.ID),
						logger.Errors(err, perr))
				}
				break
			}
			moved++
		}
	}
	return moved
}

// DeadLetterTasks lists archived tasks newest first. With no worker types
// given, all types are searched. A non-positive limit returns everything
// retained.
func (m *Manager) DeadLetterTasks(ctx context.Context, limit int, types ...WorkerType) ([]DeadLetterRecord, error) {
	if len(types) == 0 {
		types = workerTypes
	}

	var out []DeadLetterRecord
	for _, wt := range types {
		if !wt.Valid() {
			return nil, fmt.Errorf("%w: unknown worker type %q", ErrValidation, wt)
		}
		entries, err := m.store.RangeByScoreDesc(ctx, m.router.DeadLetterKey(wt), limit)
		if err != nil {
			return nil, fmt.Errorf("failed to list dead letter tasks: %w", err)
		}
		for _, e := range entries {
			var rec DeadLetterRecord
			if err := json.Unmarshal(e.Payload, &rec); err != nil || rec.Task == nil {
				m.logger.WarnContext(ctx, "skipping undecodable dead letter record", logger.WorkerType(wt))
				continue
			}
			out = append(out, rec)
		}
	}

	slices.SortStableFunc(out, func(a, b DeadLetterRecord) int {
		return b.ArchivedAt.Compare(a.ArchivedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RetryDeadLetterTask removes an archived task and submits it again with
// its retry state cleared. It returns false when another caller removed
// the record first. If the resubmission is rejected the record is restored.
func (m *Manager) RetryDeadLetterTask(ctx context.Context, taskID string) (bool, error) {
	if err := m.checkOpen(); err != nil {
		return false, err
	}

	key, entry, rec, err := m.findDeadLetter(ctx, taskID)
	if err != nil {
		return false, err
	}

	removed, err := m.store.Remove(ctx, key, entry.Payload)
	if err != nil {
		return false, fmt.Errorf("failed to remove dead letter record: %w", err)
	}
	if !removed {
		return false, nil
	}

	task := rec.Task
	task.CurrentRetries = 0
	task.LastError = ""
	task.ScheduledFor = nil

	if err := m.enqueue(ctx, task); err != nil {
		if perr := m.store.PushWithScore(ctx, key, entry.Payload, entry.Score); perr != nil {
			return false, errors.Join(err, perr)
		}
		return false, err
	}

	m.logger.InfoContext(ctx, "dead letter task resubmitted",
		logger.TaskID(task.ID),
		logger.Handler(task.Handler))
	return true, nil
}

func (m *Manager) findDeadLetter(ctx context.Context, taskID string) (string, store.Entry, DeadLetterRecord, error) {
	for _, wt := range workerTypes {
		key := m.router.DeadLetterKey(wt)
		entries, err := m.store.RangeByScoreDesc(ctx, key, 0)
		if err != nil {
			return "", store.Entry{}, DeadLetterRecord{}, fmt.Errorf("failed to list dead letter tasks: %w", err)
		}
		for _, e := range entries {
			var rec DeadLetterRecord
			if err := json.Unmarshal(e.Payload, &rec); err != nil || rec.Task == nil {
				continue
			}
			if rec.Task.ID == taskID {
				return key, e, rec, nil
			}
		}
	}
	return "", store.Entry{}, DeadLetterRecord{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
}
