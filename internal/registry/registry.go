// File: internal/registry/registry.go
// Package registry
// Author: momentics <momentics@gmail.com>
//
// Sharded, thread-safe index of live connections keyed by connection id.

package registry

import (
	"hash/fnv"
	"sync"
)

// Registry maps ids to values across power-of-two shards.
type Registry[V any] struct {
	shards []*shard[V]
	mask   uint32
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

// New constructs a registry with shardCount shards, rounded up to a power of two.
func New[V any](shardCount int) *Registry[V] {
	if shardCount <= 0 {
		shardCount = 16
	}
	m := nextPowerOfTwo(uint32(shardCount))
	shards := make([]*shard[V], m)
	for i := range shards {
		shards[i] = &shard[V]{items: make(map[string]V)}
	}
	return &Registry[V]{shards: shards, mask: m - 1}
}

func (r *Registry[V]) shard(id string) *shard[V] {
	return r.shards[fnv32(id)&r.mask]
}

// Add stores v under id. It reports false when id is already present.
func (r *Registry[V]) Add(id string, v V) bool {
	sh := r.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.items[id]; ok {
		return false
	}
	sh.items[id] = v
	return true
}

// Get fetches the value for id.
func (r *Registry[V]) Get(id string) (V, bool) {
	sh := r.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	v, ok := sh.items[id]
	return v, ok
}

// Delete removes id.
func (r *Registry[V]) Delete(id string) {
	sh := r.shard(id)
	sh.mu.Lock()
	delete(sh.items, id)
	sh.mu.Unlock()
}

// Range calls fn for a snapshot of each shard, so fn may add or delete.
func (r *Registry[V]) Range(fn func(id string, v V)) {
	type entry struct {
		id string
		v  V
	}
	var batch []entry
	for _, sh := range r.shards {
		sh.mu.RLock()
		batch = batch[:0]
		for id, v := range sh.items {
			batch = append(batch, entry{id, v})
		}
		sh.mu.RUnlock()
		for _, e := range batch {
			fn(e.id, e.v)
		}
	}
}

// Len counts stored values.
func (r *Registry[V]) Len() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		n += len(sh.items)
		sh.mu.RUnlock()
	}
	return n
}

// fnv32 hashes a string to uint32.
func fnv32(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}

// nextPowerOfTwo returns the next power-of-two >= v.
func nextPowerOfTwo(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
