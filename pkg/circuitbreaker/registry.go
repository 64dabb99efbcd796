package circuitbreaker

import (
	"maps"
	"slices"
	"sync"
)

// Registry holds one breaker per name. Safe for concurrent use.
type Registry struct {
	opts     options
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry; opts apply to every breaker it creates.
func NewRegistry(opts ...Option) *Registry {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Registry{
		opts:     o,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok = r.breakers[name]; !ok {
		b = newBreaker(name, r.opts)
		r.breakers[name] = b
	}
	return b
}

// States returns a snapshot of every breaker's state.
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	breakers := maps.Clone(r.breakers)
	r.mu.RUnlock()

	out := make(map[string]State, len(breakers))
	for name, b := range breakers {
		out[name] = b.State()
	}
	return out
}

// Open returns the names of breakers that are not closed.
func (r *Registry) Open() []string {
	var names []string
	for name, st := range r.States() {
		if st != StateClosed {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}
