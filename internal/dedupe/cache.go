// ABOUTME: Bounded set of recently seen event ids
// ABOUTME: Used by the orchestrator to drop redelivered events without unbounded growth

package dedupe

import (
	"container/list"
	"sync"
)

// DefaultCapacity is the number of ids remembered when New is given a
// non-positive capacity.
const DefaultCapacity = 2048

// Ring remembers the most recent Capacity keys in insertion order.
// When full, marking a new key forgets the oldest one. Seeing a key again
// does not refresh its position.
type Ring struct {
	mu       sync.Mutex
	seen     map[string]*list.Element
	order    *list.List // oldest at front
	capacity int
}

// New creates a ring holding at most capacity keys.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{
		seen:     make(map[string]*list.Element, capacity),
		order:    list.New(),
		capacity: capacity,
	}
}

// Contains reports whether key is currently remembered.
func (r *Ring) Contains(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.seen[key]
	return ok
}

// CheckAndMark atomically checks if a key has been seen and marks it if not.
// Returns true if the key was already seen (duplicate), false if it's new and now marked.
func (r *Ring) CheckAndMark(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seen[key]; ok {
		return true
	}
	r.markLocked(key)
	return false
}

// Mark records key as seen.
func (r *Ring) Mark(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[key]; ok {
		return
	}
	r.markLocked(key)
}

// Len returns the number of remembered keys.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

// Reset forgets every key.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = make(map[string]*list.Element, r.capacity)
	r.order.Init()
}

// markLocked appends key, evicting the oldest key at capacity. Must be called with mu held.
func (r *Ring) markLocked(key string) {
	if len(r.seen) >= r.capacity {
		front := r.order.Front()
		if front != nil {
			oldest, _ := front.Value.(string)
			r.order.Remove(front)
			delete(r.seen, oldest)
		}
	}
	r.seen[key] = r.order.PushBack(key)
}
