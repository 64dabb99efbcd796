package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/dmitrymomot/taskmanager/pkg/logger"
	"github.com/dmitrymomot/taskmanager/pkg/queue"
)

type resizePayload struct {
	Image  string `json:"image"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type notifyPayload struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

var errUpstreamUnavailable = errors.New("upstream unavailable")

// registerHandlers installs the demo handlers used by -demo and by the
// example job configuration.
func registerHandlers(reg *queue.Registry, log *slog.Logger) {
	reg.MustRegister("resize_image", queue.NewTaskHandler(func(ctx context.Context, p resizePayload) error {
		// stands in for real image work
		sum := sha256.Sum256([]byte(p.Image))
		for range p.Width * p.Height / 1000 {
			sum = sha256.Sum256(sum[:])
		}
		log.DebugContext(ctx, "image resized",
			slog.String("image", p.Image),
			slog.String("digest", hex.EncodeToString(sum[:8])))
		return nil
	}))

	reg.MustRegister("send_notification", queue.NewTaskHandler(func(ctx context.Context, p notifyPayload) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(20+rand.IntN(80)) * time.Millisecond):
		}
		if rand.IntN(10) == 0 {
			return fmt.Errorf("%w: notifying %s", errUpstreamUnavailable, p.To)
		}
		log.DebugContext(ctx, "notification sent", slog.String("to", p.To))
		return nil
	}))

	reg.MustRegister("cleanup", queue.HandlerFunc(func(ctx context.Context, task *queue.Task) error {
		olderThan, err := task.DurationKwarg("older_than")
		if err != nil {
			olderThan = 24 * time.Hour
		}
		log.InfoContext(ctx, "cleanup run",
			logger.TaskID(task.ID),
			slog.Duration("older_than", olderThan))
		return nil
	}))
}

// submitDemo enqueues n tasks spread over priorities and worker types.
func submitDemo(ctx context.Context, m *queue.Manager, log *slog.Logger, n int) error {
	priorities := queue.Priorities()
	submitted := 0

	for i := range n {
		if ctx.Err() != nil {
			break
		}

		var err error
		p := queue.WithPriority(priorities[i%len(priorities)])
		switch i % 3 {
		case 0:
			_, err = m.Submit(ctx, "resize_image", nil,
				map[string]any{"image": fmt.Sprintf("img-%04d.png", i), "width": 640, "height": 480},
				p, queue.WithWorkerType(queue.WorkerTypeCPU), queue.WithCategory("media"))
		case 1:
			_, err = m.Submit(ctx, "send_notification", nil,
				map[string]any{"to": fmt.Sprintf("user-%d@example.com", i), "message": "hello"},
				p, queue.WithWorkerType(queue.WorkerTypeNetwork), queue.WithCategory("notifications"),
				queue.WithTimeout(time.Second))
		default:
			_, err = m.Submit(ctx, "cleanup", nil,
				map[string]any{"older_than": "1h"},
				p, queue.WithWorkerType(queue.WorkerTypeIO), queue.WithDelay(time.Duration(i%5)*time.Second))
		}

		switch {
		case err == nil:
			submitted++
		case errors.Is(err, queue.ErrRateLimitExceeded):
			log.WarnContext(ctx, "demo task rate limited", logger.Error(err))
		default:
			return fmt.Errorf("failed to submit demo task: %w", err)
		}
	}

	log.InfoContext(ctx, "demo tasks submitted", slog.Int("count", submitted))
	return nil
}
