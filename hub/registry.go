package hub

import (
	"sync"
)

// Registry is the hub's record of registered plugin names. Names are kept in
// registration order and registering twice is a no-op, so the snapshot a
// plugin receives is stable across re-registration.
type Registry struct {
	mu    sync.RWMutex
	names []string
	index map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{index: make(map[string]struct{})}
}

// Add records a name. It reports whether the name was new.
func (r *Registry) Add(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[name]; ok {
		return false
	}
	r.index[name] = struct{}{}
	r.names = append(r.names, name)
	return true
}

func (r *Registry) Contains(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.index[name]
	return ok
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

// Reset forgets every name. The hub calls this on reset so each serving epoch
// starts from an empty registry.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = nil
	r.index = make(map[string]struct{})
}
