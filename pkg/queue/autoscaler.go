package queue

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/taskmanager/pkg/logger"
)

// ScaleTarget returns the next pool target for a worker type given its
// current target, pending task count and host CPU percent. Pools double
// under backlog with CPU headroom and halve when idle.
func (c Config) ScaleTarget(current int, pending int64, cpuPercent float64) int {
	switch {
	case pending > c.ScaleUpQueueLength && cpuPercent < c.ScaleUpCPUBelow:
		return min(current*2, max(c.MaxWorkers, 1))
	case pending < c.ScaleDownQueueLength && cpuPercent < c.ScaleDownCPUBelow:
		return max(current/2, c.MinWorkers, 1)
	}
	return current
}

// autoscale adjusts pool targets from the last collected metrics.
func (m *Manager) autoscale(ctx context.Context) {
	snap := m.Metrics()
	if snap.CollectedAt.IsZero() {
		return
	}

	for _, wt := range workerTypes {
		p, ok := m.pools[wt]
		if !ok {
			continue
		}
		current := p.targetSize()
		next := m.cfg.ScaleTarget(current, snap.PendingByWorkerType[wt], snap.CPUPercent)
		if next == current {
			continue
		}

		p.setTarget(next)
		m.logger.InfoContext(ctx, "scaled worker pool",
			logger.WorkerType(wt),
			slog.Int("from", current),
			slog.Int("to", next),
			slog.Int64("pending", snap.PendingByWorkerType[wt]),
			slog.Float64("cpu_percent", snap.CPUPercent))
	}
}

// SetPoolTarget overrides the target size of one pool. The value is
// clamped to [MinWorkers, MaxWorkers] and returned.
func (m *Manager) SetPoolTarget(wt WorkerType, n int) (int, error) {
	p, ok := m.pools[wt]
	if !ok {
		return 0, ErrValidation
	}
	return p.setTarget(n), nil
}

// PoolTargets returns the current target size of every pool.
func (m *Manager) PoolTargets() map[WorkerType]int {
	out := make(map[WorkerType]int, len(m.pools))
	for wt, p := range m.pools {
		out[wt] = p.targetSize()
	}
	return out
}
