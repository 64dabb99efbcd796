package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/taskmanager/pkg/logger"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNew_Formats(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts []logger.Option
		json bool
	}{
		{name: "json by default", json: true},
		{name: "text", opts: []logger.Option{logger.WithTextFormatter()}},
		{name: "last format wins", opts: []logger.Option{logger.WithTextFormatter(), logger.WithJSONFormatter()}, json: true},
		{name: "explicit text", opts: []logger.Option{logger.WithFormat(logger.FormatText)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			buf := &bytes.Buffer{}
			log := logger.New(append(tt.opts, logger.WithOutput(buf))...)
			log.Info("task claimed", logger.WorkerType("io_intensive"))

			if tt.json {
				entry := decode(t, buf)
				assert.Equal(t, "INFO", entry["level"])
				assert.Equal(t, "task claimed", entry["msg"])
				assert.Equal(t, "io_intensive", entry["worker_type"])
				return
			}
			assert.Contains(t, buf.String(), `msg="task claimed"`)
			assert.Contains(t, buf.String(), "worker_type=io_intensive")
		})
	}

	assert.Panics(t, func() {
		logger.New(logger.WithFormat(logger.Format("xml")))
	})
}

func TestNew_StaticAttrs(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := logger.New(
		logger.WithOutput(buf),
		logger.WithAttr(logger.Component("taskmanager")),
	)
	log.With(logger.WorkerID("host-1-io-0")).Warn("pop failed")

	entry := decode(t, buf)
	assert.Equal(t, "taskmanager", entry["component"])
	assert.Equal(t, "host-1-io-0", entry["worker_id"])
}

func TestNew_ContextSurvivesWith(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := logger.New(
		logger.WithOutput(buf),
		logger.WithContextExtractors(nil, logger.TaskIDExtractor),
	)

	// workers derive their logger once and log many tasks through it
	worker := log.With(logger.WorkerType("cpu_intensive"))
	worker.InfoContext(logger.WithTaskID(context.Background(), "t-1"), "task completed")

	entry := decode(t, buf)
	assert.Equal(t, "t-1", entry["task_id"])
	assert.Equal(t, "cpu_intensive", entry["worker_type"])
}

func TestSetAsDefault(t *testing.T) {
	buf := &bytes.Buffer{}
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger.SetAsDefault(logger.New(logger.WithOutput(buf)))
	slog.Info("default")

	assert.Equal(t, "default", decode(t, buf)["msg"])
}
