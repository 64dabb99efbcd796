package queue

import (
	"context"
	"sync"
)

// InitialPoolSize returns the starting worker count for a worker type on a
// machine with cpus cores, clamped to [MinWorkers, MaxWorkers].
func (c Config) InitialPoolSize(wt WorkerType, cpus int) int {
	cpus = max(cpus, 1)

	var n int
	if size, ok := c.PoolSizes[string(wt)]; ok {
		n = size
	} else {
		switch wt {
		case WorkerTypeCPU:
			n = cpus
		case WorkerTypeIO, WorkerTypeNetwork:
			n = 4 * cpus
		case WorkerTypeMemory:
			n = max(1, cpus/2)
		default:
			n = 2 * cpus
		}
	}
	return c.clampWorkers(n)
}

func (c Config) clampWorkers(n int) int {
	return min(max(n, c.MinWorkers, 1), max(c.MaxWorkers, c.MinWorkers, 1))
}

// pool owns the workers of one worker type and converges them to a target.
type pool struct {
	wt WorkerType
	m  *Manager

	mu      sync.Mutex
	ctx     context.Context
	target  int
	workers []*worker
	started int
}

func newPool(m *Manager, wt WorkerType, target int) *pool {
	return &pool{wt: wt, m: m, target: target}
}

// start launches the initial workers. Workers exit when ctx is done.
func (p *pool) start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ctx = ctx
	p.converge()
}

// setTarget clamps n and converges immediately. Surplus workers finish
// their current task before exiting.
func (p *pool) setTarget(n int) int {
	n = p.m.cfg.clampWorkers(n)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.target = n
	if p.ctx != nil {
		p.converge()
	}
	return n
}

// converge must be called with mu held.
func (p *pool) converge() {
	if p.ctx.Err() != nil {
		return
	}

	for len(p.workers) < p.target {
		w := newWorker(p.m, p.wt, p.started)
		p.started++
		p.workers = append(p.workers, w)

		p.m.workers.Add(1)
		go func() {
			defer p.m.workers.Done()
			w.run(p.ctx)
		}()
	}

	for len(p.workers) > p.target {
		last := len(p.workers) - 1
		close(p.workers[last].stop)
		p.workers[last] = nil
		p.workers = p.workers[:last]
	}
}

func (p *pool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

func (p *pool) targetSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

// signal wakes every idle worker of the pool.
func (p *pool) signal() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, w := range p.workers {
		w.signal()
	}
}
