package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/taskmanager/pkg/queue"
	"github.com/dmitrymomot/taskmanager/pkg/store"
)

func newSchedulerManager(t *testing.T, st store.Store, clk *fakeClock) *queue.Manager {
	t.Helper()

	reg := queue.NewRegistry()
	reg.MustRegister("report", queue.HandlerFunc(func(context.Context, *queue.Task) error { return nil }))

	m, err := queue.New(st, reg,
		queue.WithConfig(testConfig()),
		queue.WithLogger(quietLogger()),
		queue.WithClock(clk.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func TestScheduler_RunDue(t *testing.T) {
	t.Parallel()

	clk := newClock()
	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })
	m := newSchedulerManager(t, st, clk)

	s, err := queue.NewScheduler(m, queue.WithSchedulerLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, s.AddJob(queue.Job{
		Name:     "hourly-report",
		Schedule: queue.Every(time.Hour),
		Handler:  "report",
		Options:  []queue.SubmitOption{queue.WithPriority(queue.PriorityBatch)},
	}))

	ctx := context.Background()
	assert.Zero(t, s.RunDue(ctx, clk.Now()), "not due yet")

	clk.Advance(time.Hour)
	assert.Equal(t, 1, s.RunDue(ctx, clk.Now()))
	assert.Zero(t, s.RunDue(ctx, clk.Now()), "same slot fires once")

	// a long pause does not replay missed runs
	clk.Advance(5 * time.Hour)
	assert.Equal(t, 1, s.RunDue(ctx, clk.Now()))

	snap := m.CollectMetrics(ctx)
	assert.Equal(t, int64(2), snap.TotalPending)

	assert.Equal(t, int64(2), snap.PendingByWorkerType[queue.WorkerTypeGeneral])
}

func TestScheduler_SingleSubmissionAcrossProcesses(t *testing.T) {
	t.Parallel()

	clk := newClock()
	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })

	job := queue.Job{Name: "cleanup", Schedule: queue.Every(time.Minute), Handler: "report"}

	var schedulers []*queue.Scheduler
	var managers []*queue.Manager
	for range 3 {
		m := newSchedulerManager(t, st, clk)
		s, err := queue.NewScheduler(m, queue.WithSchedulerLogger(quietLogger()))
		require.NoError(t, err)
		require.NoError(t, s.AddJob(job))
		schedulers = append(schedulers, s)
		managers = append(managers, m)
	}

	ctx := context.Background()
	for range 3 {
		clk.Advance(time.Minute)
		fired := 0
		for _, s := range schedulers {
			fired += s.RunDue(ctx, clk.Now())
		}
		assert.Equal(t, 1, fired)
	}

	snap := managers[0].CollectMetrics(ctx)
	assert.Equal(t, int64(3), snap.TotalPending)
}

func TestScheduler_Jobs(t *testing.T) {
	t.Parallel()

	clk := newClock()
	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })
	m := newSchedulerManager(t, st, clk)

	_, err := queue.NewScheduler(nil)
	assert.ErrorIs(t, err, queue.ErrValidation)

	s, err := queue.NewScheduler(m, queue.WithSchedulerLogger(quietLogger()))
	require.NoError(t, err)

	assert.ErrorIs(t, s.Start(context.Background()), queue.ErrSchedulerNotConfigured)

	assert.ErrorIs(t, s.AddJob(queue.Job{Handler: "report", Schedule: queue.Every(time.Minute)}), queue.ErrValidation)
	assert.ErrorIs(t, s.AddJob(queue.Job{Name: "x", Handler: "report"}), queue.ErrInvalidSchedule)
	assert.ErrorIs(t, s.AddJob(queue.Job{Name: "x", Handler: "report", Schedule: queue.Every(0)}), queue.ErrInvalidSchedule)

	require.NoError(t, s.AddJob(queue.Job{Name: "b", Handler: "report", Schedule: queue.DailyAt(3, 0)}))
	require.NoError(t, s.AddJob(queue.Job{Name: "a", Handler: "report", Schedule: queue.HourlyAt(0)}))
	assert.ErrorIs(t, s.AddJob(queue.Job{Name: "a", Handler: "report", Schedule: queue.HourlyAt(5)}), queue.ErrJobAlreadyRegistered)
	assert.Equal(t, []string{"a", "b"}, s.Jobs())

	s.RemoveJob("a")
	assert.Equal(t, []string{"b"}, s.Jobs())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("scheduler did not stop")
	}
}

func TestJobConfig_Job(t *testing.T) {
	t.Parallel()

	cfg := queue.JobConfig{
		Name:       "nightly",
		Schedule:   "@daily 02:00",
		Handler:    "report",
		Priority:   "low",
		WorkerType: "io",
		Category:   "reports",
		Kwargs:     map[string]any{"format": "pdf"},
	}
	job, err := cfg.Job()
	require.NoError(t, err)
	assert.Equal(t, "nightly", job.Name)
	assert.Equal(t, "@daily 02:00", job.Schedule.String())
	assert.Len(t, job.Options, 3)

	task := &queue.Task{}
	for _, opt := range job.Options {
		opt(task)
	}
	assert.Equal(t, queue.PriorityLow, task.Priority)
	assert.Equal(t, queue.WorkerTypeIO, task.WorkerType)
	assert.Equal(t, "reports", task.Category)

	bad := cfg
	bad.Schedule = "sometimes"
	_, err = bad.Job()
	assert.ErrorIs(t, err, queue.ErrInvalidSchedule)

	bad = cfg
	bad.Priority = "urgent"
	_, err = bad.Job()
	assert.ErrorIs(t, err, queue.ErrValidation)
}
