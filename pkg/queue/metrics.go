package queue

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/taskmanager/pkg/logger"
	"github.com/dmitrymomot/taskmanager/pkg/store"
)

// collectConcurrency bounds parallel Length calls during a collection.
const collectConcurrency = 8

// CPUSampler reports host CPU utilisation in percent.
type CPUSampler interface {
	Percent(ctx context.Context) (float64, error)
}

// CPUSamplerFunc adapts a function to CPUSampler.
type CPUSamplerFunc func(ctx context.Context) (float64, error)

func (f CPUSamplerFunc) Percent(ctx context.Context) (float64, error) { return f(ctx) }

// HostCPUSampler measures utilisation across all cores since the previous call.
type HostCPUSampler struct{}

func (HostCPUSampler) Percent(ctx context.Context) (float64, error) {
	v, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(v) == 0 {
		return 0, nil
	}
	return v[0], nil
}

// MetricsSnapshot is a read-only copy of the manager's counters and the
// last collected queue state.
type MetricsSnapshot struct {
	TotalSubmitted int64 `json:"total_submitted"`
	Completed      int64 `json:"completed"`
	Failed         int64 `json:"failed"`
	Retried        int64 `json:"retried"`
	DeadLettered   int64 `json:"dead_lettered"`
	Cancelled      int64 `json:"cancelled"`

	PendingByQueue      map[string]int64     `json:"pending_by_queue"`
	PendingByWorkerType map[WorkerType]int64 `json:"pending_by_worker_type"`
	TotalPending        int64                `json:"total_pending"`

	WorkersByType map[WorkerType]int `json:"workers_by_type"`
	ActiveWorkers int64              `json:"active_workers"`

	ThroughputPerSecond float64    `json:"throughput_per_second"`
	CPUPercent          float64    `json:"cpu_percent"`
	BackendMode         store.Mode `json:"backend_mode"`
	OpenCircuits        []string   `json:"open_circuits,omitempty"`
	CollectedAt         time.Time  `json:"collected_at"`
}

type stats struct {
	submitted    atomic.Int64
	completed    atomic.Int64
	failed       atomic.Int64
	retried      atomic.Int64
	deadLettered atomic.Int64
	cancelled    atomic.Int64
	active       atomic.Int64
}

// collector keeps the sampled part of the snapshot.
type collector struct {
	mu            sync.RWMutex
	pending       map[string]int64
	pendingByType map[WorkerType]int64
	total         int64
	throughput    float64
	cpu           float64
	collectedAt   time.Time
	lastCompleted int64
}

// CollectMetrics samples queue depth and CPU now and returns the result.
// The collector loop calls it every MetricsInterval. A worker type whose
// queues could not be read keeps the depth from the previous collection.
func (m *Manager) CollectMetrics(ctx context.Context) MetricsSnapshot {
	pending := make(map[string]int64)
	byType := make(map[WorkerType]int64, len(workerTypes))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(collectConcurrency)
	for _, wt := range workerTypes {
		g.Go(func() error {
			var sum int64
			local := make(map[string]int64)
			for _, key := range m.router.KeysFor(wt) {
				n, err := m.store.Length(ctx, key.String())
				if err != nil {
					return fmt.Errorf("%s: %w", wt, err)
				}
				if n > 0 {
					local[key.String()] = n
					sum += n
				}
			}
			mu.Lock()
			maps.Copy(pending, local)
			byType[wt] = sum
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		m.logger.WarnContext(ctx, "failed to collect queue lengths", logger.Error(err))
	}

	cpuPercent, err := m.cpu.Percent(ctx)
	if err != nil {
		m.logger.DebugContext(ctx, "failed to sample cpu", logger.Error(err))
	}

	now := m.now()
	completed := m.stats.completed.Load()

	c := &m.collector
	c.mu.Lock()
	for _, wt := range workerTypes {
		if _, ok := byType[wt]; ok {
			continue
		}
		byType[wt] = c.pendingByType[wt]
		for _, key := range m.router.KeysFor(wt) {
			if n, ok := c.pending[key.String()]; ok {
				pending[key.String()] = n
			}
		}
	}
	var total int64
	for _, n := range byType {
		total += n
	}
	if !c.collectedAt.IsZero() {
		if elapsed := now.Sub(c.collectedAt).Seconds(); elapsed > 0 {
			c.throughput = float64(completed-c.lastCompleted) / elapsed
		}
	}
	c.pending = pending
	c.pendingByType = byType
	c.total = total
	c.cpu = cpuPercent
	c.collectedAt = now
	c.lastCompleted = completed
	c.mu.Unlock()

	return m.Metrics()
}

// Metrics returns the live counters together with the last collected
// queue depths.
func (m *Manager) Metrics() MetricsSnapshot {
	s := MetricsSnapshot{
		TotalSubmitted: m.stats.submitted.Load(),
		Completed:      m.stats.completed.Load(),
		Failed:         m.stats.failed.Load(),
		Retried:        m.stats.retried.Load(),
		DeadLettered:   m.stats.deadLettered.Load(),
		Cancelled:      m.stats.cancelled.Load(),
		ActiveWorkers:  m.stats.active.Load(),
		WorkersByType:  make(map[WorkerType]int, len(m.pools)),
		BackendMode:    m.store.Mode(),
		OpenCircuits:   m.breakers.Open(),
	}
	for wt, p := range m.pools {
		s.WorkersByType[wt] = p.size()
	}

	c := &m.collector
	c.mu.RLock()
	s.PendingByQueue = maps.Clone(c.pending)
	s.PendingByWorkerType = maps.Clone(c.pendingByType)
	s.TotalPending = c.total
	s.ThroughputPerSecond = c.throughput
	s.CPUPercent = c.cpu
	s.CollectedAt = c.collectedAt
	c.mu.RUnlock()

	if s.PendingByQueue == nil {
		s.PendingByQueue = map[string]int64{}
	}
	if s.PendingByWorkerType == nil {
		s.PendingByWorkerType = map[WorkerType]int64{}
	}
	return s
}
