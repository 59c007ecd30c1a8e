package pubsub

import (
	"sync"
)

// Router maps namespaces to the adapter serving them in this process.
type Router struct {
	mu       sync.RWMutex
	adapters map[string]*Adapter
}

func NewRouter() *Router {
	return &Router{adapters: make(map[string]*Adapter)}
}

// Register adds a for nsp. It fails if another adapter already serves nsp.
func (r *Router) Register(nsp string, a *Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[nsp]; ok {
		return ErrNamespaceRegistered
	}
	r.adapters[nsp] = a
	return nil
}

// Unregister removes nsp if it is still served by a and returns how many
// namespaces remain, and whether anything was removed.
func (r *Router) Unregister(nsp string, a *Adapter) (remaining int, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.adapters[nsp]; ok && cur == a {
		delete(r.adapters, nsp)
		removed = true
	}
	return len(r.adapters), removed
}

func (r *Router) Lookup(nsp string) (*Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[nsp]
	return a, ok
}

func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}

// Namespaces returns the registered namespaces in no particular order.
func (r *Router) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for nsp := range r.adapters {
		out = append(out, nsp)
	}
	return out
}

// Adapters returns a snapshot of the registered adapters.
func (r *Router) Adapters() []*Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}
