//go:build windows

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/dmitrymomot/taskmanager/pkg/queue"
)

// waitForSignals blocks until an interrupt arrives or ctx is done.
func waitForSignals(ctx context.Context, _ *queue.Manager, log *slog.Logger) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)

	select {
	case <-ctx.Done():
		return nil
	case <-sigs:
		log.Info("received interrupt, shutting down")
		return errShutdownRequested
	}
}
