// Command taskmanager runs a task manager process with a set of demo
// handlers and the periodic jobs listed in its configuration.
//
// Configuration comes from the environment (and .env) or, with -config, from
// a YAML file overlaid on the environment. Several processes pointed at the
// same Redis share queues, locks and rate limits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/taskmanager/pkg/config"
	"github.com/dmitrymomot/taskmanager/pkg/logger"
	"github.com/dmitrymomot/taskmanager/pkg/queue"
	"github.com/dmitrymomot/taskmanager/pkg/ratelimit"
	"github.com/dmitrymomot/taskmanager/pkg/redis"
	"github.com/dmitrymomot/taskmanager/pkg/store"
)

var errShutdownRequested = errors.New("shutdown requested")

type appConfig struct {
	Log   logger.Config        `yaml:"log"`
	Redis redis.Config         `yaml:"redis"`
	Store store.FailoverConfig `yaml:"store"`
	Queue queue.Config         `yaml:"queue"`

	// UseRedis selects the shared backend. Without it queues are process local.
	UseRedis       bool              `env:"TASKMANAGER_USE_REDIS" envDefault:"true" yaml:"use_redis"`
	ReportInterval time.Duration     `env:"TASKMANAGER_REPORT_INTERVAL" envDefault:"30s" yaml:"report_interval" validate:"gt=0"`
	SchedulerTick  time.Duration     `env:"TASKMANAGER_SCHEDULER_TICK" envDefault:"1s" yaml:"scheduler_tick" validate:"gt=0"`
	Jobs           []queue.JobConfig `yaml:"jobs" validate:"dive"`
}

func main() {
	configPath := flag.String("config", os.Getenv("TASKMANAGER_CONFIG"), "path to a YAML config file")
	demo := flag.Int("demo", 0, "submit this many demo tasks on start")
	flag.Parse()

	if err := run(*configPath, *demo); err != nil {
		slog.Error("taskmanager exited with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(configPath string, demo int) error {
	var cfg appConfig
	if configPath != "" {
		if err := config.LoadFile(configPath, &cfg); err != nil {
			return fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	} else if err := config.Load(&cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.FromConfig(cfg.Log)...)
	logger.SetAsDefault(log)

	ctx := context.Background()

	st, rateStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}

	reg := queue.NewRegistry()
	registerHandlers(reg, log)

	opts := []queue.Option{
		queue.WithConfig(cfg.Queue),
		queue.WithLogger(log),
		queue.WithOwnedStore(),
	}
	if rateStore != nil {
		defer rateStore.Close()
		opts = append(opts, queue.WithRateLimitStore(rateStore))
	}
	m, err := queue.New(st, reg, opts...)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("failed to create task manager: %w", err)
	}

	sched, err := newScheduler(m, cfg, log)
	if err != nil {
		_ = m.Shutdown(ctx)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(m.Run(gctx))
	g.Go(func() error { return waitForSignals(gctx, m, log) })
	g.Go(func() error { return report(gctx, m, log, cfg.ReportInterval) })
	if len(sched.Jobs()) > 0 {
		g.Go(func() error { return sched.Start(gctx) })
	}
	if demo > 0 {
		g.Go(func() error { return submitDemo(gctx, m, log, demo) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdownRequested) {
		return err
	}
	return nil
}

// openStore builds the queue backend. With Redis enabled both the store and
// the rate limiter fail over to process memory while Redis is down and move
// back once it answers again.
func openStore(ctx context.Context, cfg appConfig, log *slog.Logger) (store.Store, *ratelimit.FailoverStore, error) {
	if !cfg.UseRedis {
		return store.NewMemoryStore(), nil, nil
	}

	opts := append(cfg.Store.Options(), store.WithLogger(log))

	client, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		if redis.IsConfigError(err) {
			return nil, nil, fmt.Errorf("invalid redis config: %w", err)
		}
		log.Warn("redis is not reachable, starting in fallback mode", logger.Error(err))

		// both failover stores keep trying this client and switch back on recovery
		client, err = redis.NewClient(cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create redis client: %w", err)
		}
	}

	st := store.NewFailoverStore(ctx, store.NewRedisStore(client), opts...)
	rate := ratelimit.NewFailoverStore(
		ratelimit.NewRedisStore(client, ratelimit.WithKeyPrefix(cfg.Queue.Prefix+":ratelimit")),
		ratelimit.WithFailoverLogger(log),
		ratelimit.WithRetryInterval(cfg.Store.HealthInterval),
		ratelimit.WithFallbackStore(ratelimit.NewMemoryStore(ratelimit.WithMaxWindow(cfg.Queue.RateLimitWindow))))
	return st, rate, nil
}

func newScheduler(m *queue.Manager, cfg appConfig, log *slog.Logger) (*queue.Scheduler, error) {
	sched, err := queue.NewScheduler(m,
		queue.WithCheckInterval(cfg.SchedulerTick),
		queue.WithSchedulerLogger(log.With(logger.Component("scheduler"))))
	if err != nil {
		return nil, err
	}

	for _, jc := range cfg.Jobs {
		job, err := jc.Job()
		if err != nil {
			return nil, fmt.Errorf("invalid job %s: %w", jc.Name, err)
		}
		if err := sched.AddJob(job); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

// report logs a metrics snapshot every interval.
func report(ctx context.Context, m *queue.Manager, log *slog.Logger, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			logSnapshot(ctx, log, m.Metrics())
		}
	}
}

func logSnapshot(ctx context.Context, log *slog.Logger, s queue.MetricsSnapshot) {
	log.InfoContext(ctx, "task manager metrics",
		logger.Event("metrics"),
		logger.Mode(s.BackendMode),
		slog.Int64("submitted", s.TotalSubmitted),
		slog.Int64("completed", s.Completed),
		slog.Int64("failed", s.Failed),
		slog.Int64("retried", s.Retried),
		slog.Int64("dead_lettered", s.DeadLettered),
		slog.Int64("pending", s.TotalPending),
		slog.Int64("active_workers", s.ActiveWorkers),
		slog.Float64("throughput_per_second", s.ThroughputPerSecond),
		slog.Float64("cpu_percent", s.CPUPercent),
		slog.Any("workers", s.WorkersByType),
		slog.Any("open_circuits", s.OpenCircuits))
}
