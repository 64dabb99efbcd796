package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
)

type (
	// Handler executes a task. A returned error schedules a retry.
	Handler interface {
		Handle(ctx context.Context, task *Task) error
	}

	// HandlerFunc adapts a function to Handler.
	HandlerFunc func(ctx context.Context, task *Task) error

	// TaskHandlerFunc receives the task kwargs decoded into T.
	TaskHandlerFunc[T any] func(ctx context.Context, payload T) error
)

func (f HandlerFunc) Handle(ctx context.Context, task *Task) error {
	return f(ctx, task)
}

// NewTaskHandler builds a handler that decodes the task's kwargs into T.
func NewTaskHandler[T any](handler TaskHandlerFunc[T]) Handler {
	return &kwargsHandler[T]{handler: handler}
}

type kwargsHandler[T any] struct {
	handler TaskHandlerFunc[T]
}

func (h *kwargsHandler[T]) Handle(ctx context.Context, task *Task) error {
	var payload T
	if len(task.Kwargs) > 0 {
		raw, err := json.Marshal(task.Kwargs)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("decode kwargs: %w", err)
		}
	}
	return h.handler(ctx, payload)
}

// Registry maps handler names to handlers. Tasks reference handlers by
// name only.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler under name.
func (r *Registry) Register(name string, h Handler) error {
	if name == "" || h == nil {
		return ErrInvalidHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerAlreadyRegistered, name)
	}
	r.handlers[name] = h
	return nil
}

// RegisterFunc is shorthand for Register(name, HandlerFunc(fn)).
func (r *Registry) RegisterFunc(name string, fn func(ctx context.Context, task *Task) error) error {
	if fn == nil {
		return ErrInvalidHandler
	}
	return r.Register(name, HandlerFunc(fn))
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(name string, h Handler) {
	if err := r.Register(name, h); err != nil {
		panic(err)
	}
}

func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	r.mu.RUnlock()

	slices.Sort(names)
	return names
}
