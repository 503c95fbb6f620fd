package sandbox

import (
	"fmt"
	"sync"
)

// Registry tracks which project environments are currently held by a
// controller. One environment is shared across sessions but never within a
// session: a second Start against the same name fails instead of having two
// controllers operate on one container.
type Registry struct {
	mu      sync.Mutex
	held    map[string]bool
	handles map[string]*EnvHandle
}

// EnvHandle describes one project's environment as the registry knows it.
type EnvHandle struct {
	Name        string
	ContainerID string
}

// NewRegistry creates an empty environment registry.
func NewRegistry() *Registry {
	return &Registry{
		held:    make(map[string]bool),
		handles: make(map[string]*EnvHandle),
	}
}

// Acquire claims the named environment for one controller. Fails with ErrBusy
// while another controller holds it.
func (r *Registry) Acquire(name string) (*EnvHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.held[name] {
		return nil, fmt.Errorf("%w: %s", ErrBusy, name)
	}
	r.held[name] = true

	h, ok := r.handles[name]
	if !ok {
		h = &EnvHandle{Name: name}
		r.handles[name] = h
	}
	return h, nil
}

// Release returns the named environment to the pool. The underlying container
// keeps running; only the hold is dropped.
func (r *Registry) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.held, name)
}

// Record notes the container currently backing the named environment.
func (r *Registry) Record(name, containerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[name]
	if !ok {
		h = &EnvHandle{Name: name}
		r.handles[name] = h
	}
	h.ContainerID = containerID
}

// Forget drops the handle after its container is destroyed. The caller's hold
// survives: a rebuild in progress must not open an acquisition window.
func (r *Registry) Forget(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, name)
}
