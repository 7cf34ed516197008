package tunnel

import (
	"sync"
)

// Registry name/tunnel map protected by a RWMutex.
// Pipelines for different tunnels run concurrently; the registry keeps
// their provisioned entities from sharing state.
type Registry struct {
	mu  sync.RWMutex
	obj map[string]*Tunnel
}

// Load recovers a tunnel by name
func (r *Registry) Load(name string) (val *Tunnel, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	val, ok = r.obj[name]
	return
}

// Store registers a tunnel by name
func (r *Registry) Store(name string, val *Tunnel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.obj == nil {
		r.obj = make(map[string]*Tunnel)
	}
	r.obj[name] = val
}

// Range processes the function on all tunnels (false terminates iteration).
func (r *Registry) Range(f func(name string, val *Tunnel) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for k, v := range r.obj {
		if !f(k, v) {
			break
		}
	}
}

// Len returns the number of tunnels in the registry
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.obj)
}
