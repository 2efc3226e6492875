// Package ids allocates notification identifiers and tracks which ones are
// live so that two notifications never share an identifier.
package ids

import (
	"errors"
	"math"
	"sync"
)

// ErrCollision is returned when reserving an identifier that is already live.
var ErrCollision = errors.New("notification id already in use")

// ErrExhausted is returned when every identifier in range is live.
var ErrExhausted = errors.New("notification id space exhausted")

// Registry hands out positive int32-range identifiers in increasing order,
// wrapping around and skipping identifiers that are still live.
type Registry struct {
	mu   sync.Mutex
	last int
	max  int
	live map[int]struct{}
}

// NewRegistry creates a registry whose first identifier is seed+1.
func NewRegistry(seed int) *Registry {
	if seed < 0 {
		seed = 0
	}
	return &Registry{
		last: seed,
		max:  math.MaxInt32,
		live: make(map[int]struct{}),
	}
}

// Next allocates and marks live the next free identifier.
func (r *Registry) Next() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.live) >= r.max {
		return 0, ErrExhausted
	}
	candidate := r.last
	for {
		candidate++
		if candidate > r.max {
			candidate = 1
		}
		if _, taken := r.live[candidate]; !taken {
			break
		}
	}
	r.last = candidate
	r.live[candidate] = struct{}{}
	return candidate, nil
}

// Reserve marks an externally chosen identifier live and moves the
// allocation cursor past it, so later allocations continue above it.
func (r *Registry) Reserve(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.live[id]; taken {
		return ErrCollision
	}
	r.live[id] = struct{}{}
	if id > r.last {
		r.last = id
	}
	return nil
}

// Release frees an identifier for reuse. Releasing an unknown id is a no-op.
func (r *Registry) Release(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, id)
}

// InUse reports whether the identifier is live.
func (r *Registry) InUse(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.live[id]
	return ok
}
