package rhi

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// cacheKey is a structural key: equal content must give equal hashes.
type cacheKey[K any] interface {
	Hash() uint64
	Equal(K) bool
}

// arena is an append-only table of derived objects. Entries are addressed
// by their stable index, so growing the table never invalidates a
// reference held elsewhere. Lookups run under a read lock; a miss
// re-checks under the write lock before constructing.
type arena[K cacheKey[K], V any] struct {
	name   string
	limit  int
	mu     sync.RWMutex
	keys   []K
	values []V
	index  map[uint64][]int

	hits   atomic.Uint64
	misses atomic.Uint64
}

func newArena[K cacheKey[K], V any](name string, limit int) *arena[K, V] {
	return &arena[K, V]{
		name:  name,
		limit: limit,
		index: make(map[uint64][]int),
	}
}

func (a *arena[K, V]) find(key K, h uint64) (int, bool) {
	for _, i := range a.index[h] {
		if a.keys[i].Equal(key) {
			return i, true
		}
	}
	return 0, false
}

// getOrCreate returns the index of key, calling create on a miss.
// create must not touch this arena.
func (a *arena[K, V]) getOrCreate(key K, create func() (V, error)) (int, error) {
	h := key.Hash()

	a.mu.RLock()
	i, ok := a.find(key, h)
	a.mu.RUnlock()
	if ok {
		a.hits.Add(1)
		return i, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if i, ok := a.find(key, h); ok {
		a.hits.Add(1)
		return i, nil
	}
	if a.limit > 0 && len(a.values) >= a.limit {
		return 0, errors.Wrapf(core.ErrPoolExhausted, "%s cache holds %d entries", a.name, a.limit)
	}

	v, err := create()
	if err != nil {
		return 0, errors.Wrapf(err, "failed to create %s", a.name)
	}
	i = len(a.values)
	a.keys = append(a.keys, key)
	a.values = append(a.values, v)
	a.index[h] = append(a.index[h], i)
	a.misses.Add(1)
	core.LogDebug("%s cache miss: created #%d (hash %016x)", a.name, i, h)
	return i, nil
}

func (a *arena[K, V]) at(i int) V {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.values[i]
}

func (a *arena[K, V]) key(i int) K {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.keys[i]
}

func (a *arena[K, V]) len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.values)
}

func (a *arena[K, V]) each(fn func(i int, v V)) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for i, v := range a.values {
		fn(i, v)
	}
}

// reset drops every entry. The caller destroys the native objects first.
func (a *arena[K, V]) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = nil
	a.values = nil
	a.index = make(map[uint64][]int)
}

func (a *arena[K, V]) stats() core.CacheStats {
	return core.CacheStats{Hits: a.hits.Load(), Misses: a.misses.Load()}
}
