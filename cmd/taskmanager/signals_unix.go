//go:build !windows

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/dmitrymomot/taskmanager/pkg/queue"
)

// waitForSignals blocks until SIGTERM or SIGINT arrives or ctx is done.
// SIGTSTP logs a metrics snapshot and keeps running.
func waitForSignals(ctx context.Context, m *queue.Manager, log *slog.Logger) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGTERM, unix.SIGINT, unix.SIGTSTP)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigs:
			if sig == unix.SIGTSTP {
				logSnapshot(ctx, log, m.CollectMetrics(ctx))
				continue
			}
			log.Info("received signal, shutting down", slog.String("signal", sig.String()))
			return errShutdownRequested
		}
	}
}
