package logger

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Errors groups multiple non-nil errors under the key "errors".
// If all errors are nil, it returns an empty Attr.
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// TaskID records the task identifier under the key "task_id".
// If id is empty, it returns an empty Attr.
func TaskID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("task_id", id)
}

// WorkerID records the worker identifier under the key "worker_id".
func WorkerID(id string) slog.Attr {
	return slog.String("worker_id", id)
}

// WorkerType records the worker type under the key "worker_type".
// Accepts any string-based type.
func WorkerType[T ~string](wt T) slog.Attr {
	return slog.String("worker_type", string(wt))
}

// Priority records a priority under the key "priority" using its String form
// when available.
func Priority(p any) slog.Attr {
	if s, ok := p.(fmt.Stringer); ok {
		return slog.String("priority", s.String())
	}
	return slog.Any("priority", p)
}

// QueueKey records a queue key under the key "queue".
func QueueKey(key any) slog.Attr {
	if s, ok := key.(fmt.Stringer); ok {
		return slog.String("queue", s.String())
	}
	return slog.Any("queue", key)
}

// Category records the rate limit category under the key "category".
func Category(name string) slog.Attr {
	return slog.String("category", name)
}

// Mode records a backend mode under the key "mode".
func Mode[T ~string](m T) slog.Attr {
	return slog.String("mode", string(m))
}

// RetryCount records the retry count under the key "retry_count".
func RetryCount(count int) slog.Attr {
	return slog.Int("retry_count", count)
}

// Duration records a duration under the key "duration".
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Event records the event name under the key "event".
func Event(name string) slog.Attr {
	return slog.String("event", name)
}

// Handler records the handler name under the key "handler".
func Handler(name string) slog.Attr {
	return slog.String("handler", name)
}
