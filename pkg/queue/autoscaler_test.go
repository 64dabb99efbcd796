package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/taskmanager/pkg/queue"
)

func TestConfig_ScaleTarget(t *testing.T) {
	t.Parallel()

	cfg := queue.DefaultConfig()
	cfg.MinWorkers = 2
	cfg.MaxWorkers = 16

	tests := []struct {
		name    string
		current int
		pending int64
		cpu     float64
		want    int
	}{
		{name: "backlog with headroom doubles", current: 4, pending: 500, cpu: 30, want: 8},
		{name: "doubling stops at max", current: 12, pending: 500, cpu: 30, want: 16},
		{name: "backlog on a busy host holds", current: 4, pending: 500, cpu: 95, want: 4},
		{name: "idle halves", current: 8, pending: 2, cpu: 10, want: 4},
		{name: "halving stops at min", current: 3, pending: 0, cpu: 10, want: 2},
		{name: "idle but busy host holds", current: 8, pending: 2, cpu: 60, want: 8},
		{name: "moderate load holds", current: 8, pending: 50, cpu: 10, want: 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, cfg.ScaleTarget(tt.current, tt.pending, tt.cpu))
		})
	}
}

func TestConfig_InitialPoolSize(t *testing.T) {
	t.Parallel()

	cfg := queue.DefaultConfig()
	cfg.MaxWorkers = 20

	assert.Equal(t, 4, cfg.InitialPoolSize(queue.WorkerTypeCPU, 4))
	assert.Equal(t, 16, cfg.InitialPoolSize(queue.WorkerTypeIO, 4))
	assert.Equal(t, 16, cfg.InitialPoolSize(queue.WorkerTypeNetwork, 4))
	assert.Equal(t, 2, cfg.InitialPoolSize(queue.WorkerTypeMemory, 4))
	assert.Equal(t, 8, cfg.InitialPoolSize(queue.WorkerTypeGeneral, 4))
	assert.Equal(t, 20, cfg.InitialPoolSize(queue.WorkerTypeIO, 8), "clamped to max")
	assert.Equal(t, 1, cfg.InitialPoolSize(queue.WorkerTypeMemory, 1))

	cfg.PoolSizes = map[string]int{string(queue.WorkerTypeCPU): 3}
	assert.Equal(t, 3, cfg.InitialPoolSize(queue.WorkerTypeCPU, 64))
}

func TestManager_SetPoolTarget(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	f.start(t)

	n, err := f.m.SetPoolTarget(queue.WorkerTypeIO, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 4, f.m.Metrics().WorkersByType[queue.WorkerTypeIO])

	n, err = f.m.SetPoolTarget(queue.WorkerTypeIO, 100)
	require.NoError(t, err)
	assert.Equal(t, 8, n, "clamped to MaxWorkers")

	n, err = f.m.SetPoolTarget(queue.WorkerTypeIO, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "clamped to MinWorkers")
	assert.Equal(t, 1, f.m.PoolTargets()[queue.WorkerTypeIO])

	_, err = f.m.SetPoolTarget("gpu", 2)
	assert.ErrorIs(t, err, queue.ErrValidation)
}

func TestManager_Autoscale(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MetricsInterval = 10 * time.Millisecond
	cfg.ScaleInterval = 20 * time.Millisecond
	cfg.ScaleUpQueueLength = 20
	cfg.ScaleDownQueueLength = 5
	f := newFixture(t, cfg)

	release := make(chan struct{})
	f.reg.MustRegister("block", queue.HandlerFunc(func(context.Context, *queue.Task) error {
		<-release
		return nil
	}))

	ctx := context.Background()
	for range 60 {
		_, err := f.m.Submit(ctx, "block", nil, nil, queue.WithWorkerType(queue.WorkerTypeCPU))
		require.NoError(t, err)
	}
	f.start(t)

	require.Eventually(t, func() bool {
		return f.m.PoolTargets()[queue.WorkerTypeCPU] == cfg.MaxWorkers
	}, waitFor, tick, "backlog scales the pool up")

	close(release)

	require.Eventually(t, func() bool {
		return f.m.Metrics().Completed == 60 && f.m.PoolTargets()[queue.WorkerTypeCPU] == 1
	}, waitFor, tick, "an idle pool scales back down")
}
