package logger_test

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/taskmanager/pkg/logger"
)

func TestGroup(t *testing.T) {
	attr := logger.Group("req", slog.String("id", "1"), slog.Int("n", 2))
	require.Equal(t, "req", attr.Key)
	require.Equal(t, slog.KindGroup, attr.Value.Kind())
	g := attr.Value.Group()
	require.Len(t, g, 2)
	assert.Equal(t, "id", g[0].Key)
	assert.Equal(t, "n", g[1].Key)
}

func TestErrors(t *testing.T) {
	err1 := errors.New("first")
	err2 := errors.New("second")

	attr := logger.Errors(err1, nil, err2)
	require.Equal(t, "errors", attr.Key)
	require.Equal(t, slog.KindGroup, attr.Value.Kind())
	g := attr.Value.Group()
	require.Len(t, g, 2)
	assert.Equal(t, err1, g[0].Value.Any())
	assert.Equal(t, err2, g[1].Value.Any())

	empty := logger.Errors(nil)
	assert.True(t, empty.Equal(slog.Attr{}))
}

func TestError(t *testing.T) {
	err := errors.New("boom")
	attr := logger.Error(err)
	require.Equal(t, "error", attr.Key)
	assert.Equal(t, err, attr.Value.Any())

	empty := logger.Error(nil)
	assert.True(t, empty.Equal(slog.Attr{}))
}

func TestTaskAttrs(t *testing.T) {
	type workerType string
	type prio uint8

	tests := []struct {
		name    string
		attr    slog.Attr
		wantKey string
		wantVal any
	}{
		{name: "task id", attr: logger.TaskID("t-1"), wantKey: "task_id", wantVal: "t-1"},
		{name: "worker id", attr: logger.WorkerID("w-1"), wantKey: "worker_id", wantVal: "w-1"},
		{name: "worker type", attr: logger.WorkerType(workerType("io_intensive")), wantKey: "worker_type", wantVal: "io_intensive"},
		{name: "priority stringer", attr: logger.Priority(slog.LevelWarn), wantKey: "priority", wantVal: "WARN"},
		{name: "priority raw", attr: logger.Priority(prio(3)), wantKey: "priority", wantVal: prio(3)},
		{name: "category", attr: logger.Category("email"), wantKey: "category", wantVal: "email"},
		{name: "handler", attr: logger.Handler("send"), wantKey: "handler", wantVal: "send"},
		{name: "retry count", attr: logger.RetryCount(2), wantKey: "retry_count", wantVal: int64(2)},
		{name: "duration", attr: logger.Duration(time.Second), wantKey: "duration", wantVal: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.wantKey, tt.attr.Key)
			assert.Equal(t, tt.wantVal, tt.attr.Value.Any())
		})
	}

	assert.True(t, logger.TaskID("").Equal(slog.Attr{}))
}
