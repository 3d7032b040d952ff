package abi

import (
	"sync"
)

// ResourceManager[T] is a generic, thread-safe handle table for host-owned
// resources of type T. Handles are monotonically increasing and are never
// reused for the lifetime of the process, so a stale handle can never alias
// a newer resource.
type ResourceManager[T any] struct {
	mu         sync.RWMutex
	handles    map[uint32]T
	nextID     uint32
	destructor func(T)
}

// NewResourceManager creates a resource manager for a specific type.
// The destructor, if non-nil, runs when a resource is released via Remove.
func NewResourceManager[T any](destructor func(T)) *ResourceManager[T] {
	return &ResourceManager[T]{
		handles:    make(map[uint32]T),
		nextID:     0, // handles start at 1; 0 stays invalid
		destructor: destructor,
	}
}

// Add stores a new resource and returns a handle to it.
func (m *ResourceManager[T]) Add(resource T) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	handle := m.nextID
	m.handles[handle] = resource
	return handle
}

// Get retrieves a resource by its handle.
func (m *ResourceManager[T]) Get(handle uint32) (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.handles[handle]
	return res, ok
}

// Pop removes a resource and returns it, transferring ownership to the
// caller. The destructor is not run.
func (m *ResourceManager[T]) Pop(handle uint32) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.handles[handle]
	if ok {
		delete(m.handles, handle)
	}
	return res, ok
}

// Remove releases a resource: it is dropped from the table and the
// destructor, if any, runs on it. Reports whether the handle was live.
func (m *ResourceManager[T]) Remove(handle uint32) bool {
	m.mu.Lock()
	res, ok := m.handles[handle]
	if ok {
		delete(m.handles, handle)
	}
	m.mu.Unlock()

	if ok && m.destructor != nil {
		m.destructor(res)
	}
	return ok
}

// Range iterates over the resources in the manager. It calls the given
// function for each handle and resource. If the function returns false, the
// iteration stops.
func (m *ResourceManager[T]) Range(f func(handle uint32, resource T) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for handle, resource := range m.handles {
		if !f(handle, resource) {
			break
		}
	}
}

// Len returns the number of live resources.
func (m *ResourceManager[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handles)
}
