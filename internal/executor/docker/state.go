package docker

import (
	"sort"
	"sync"

	"azflow/internal/apperrors"
)

// poolState is the local record of an emulated pool.
type poolState struct {
	volumeName string
	image      string
}

// jobState is the local record of an emulated job.
type jobState struct {
	poolID string
}

// stateRepo tracks resources by ID with thread-safe access.
type stateRepo[T any] struct {
	resource string

	mu    sync.RWMutex
	items map[string]*T
}

func newStateRepo[T any](resource string) *stateRepo[T] {
	return &stateRepo[T]{
		resource: resource,
		items:    make(map[string]*T),
	}
}

// reserve claims an ID. The slot holds nil until commit is called.
func (r *stateRepo[T]) reserve(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[id]; exists {
		return apperrors.Conflict(r.resource, id, r.resource+" already exists")
	}
	r.items[id] = nil
	return nil
}

// commit fills in a reserved slot.
func (r *stateRepo[T]) commit(id string, v *T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[id] = v
}

// release removes an ID and returns its value if it existed.
func (r *stateRepo[T]) release(id string) (*T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, exists := r.items[id]
	if exists {
		delete(r.items, id)
	}
	return v, exists
}

// get returns (nil, true) for an ID that is reserved but not committed.
func (r *stateRepo[T]) get(id string) (*T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, exists := r.items[id]
	return v, exists
}

// ids returns the committed and reserved IDs in sorted order.
func (r *stateRepo[T]) ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
