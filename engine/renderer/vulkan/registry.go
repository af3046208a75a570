package vulkan

import (
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/device"
)

// registry maps the opaque handles given out by Device to native objects.
// All registries of one Device draw from the same counter so a handle is
// never valid in two tables.
type registry[T any] struct {
	mu    sync.RWMutex
	next  *atomic.Uint64
	items map[device.Handle]T
}

func newRegistry[T any](next *atomic.Uint64) *registry[T] {
	return &registry[T]{next: next, items: make(map[device.Handle]T)}
}

func (r *registry[T]) add(v T) device.Handle {
	h := device.Handle(r.next.Add(1))
	r.mu.Lock()
	r.items[h] = v
	r.mu.Unlock()
	return h
}

func (r *registry[T]) get(h device.Handle) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[h]
	return v, ok
}

// take removes h and returns what it pointed to.
func (r *registry[T]) take(h device.Handle) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.items[h]
	if ok {
		delete(r.items, h)
	}
	return v, ok
}

// drain empties the registry, handing every entry to fn.
func (r *registry[T]) drain(fn func(T)) {
	r.mu.Lock()
	items := r.items
	r.items = make(map[device.Handle]T)
	r.mu.Unlock()
	for _, v := range items {
		fn(v)
	}
}

func (r *registry[T]) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
