// Package syncmap provides a mutex-guarded generic map for state shared
// between handlers and the goroutines they start.
package syncmap

import (
	"iter"
	"maps"
	"sync"
)

// Map is a map synchronized with a mutex. The zero value is not usable.
type Map[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]V
}

// New creates an empty map.
func New[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{m: make(map[K]V)}
}

// Load returns the value for a key.
func (m *Map[K, V]) Load(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.m[key]
	return v, ok
}

// Store sets the value for a key.
func (m *Map[K, V]) Store(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[key] = value
}

// LoadOrStore returns the existing value for a key if present. Otherwise, it
// stores and returns the result of calling mk. mk runs under the map's lock
// and must not use the map.
func (m *Map[K, V]) LoadOrStore(key K, mk func() V) V {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.m[key]
	if !ok {
		v = mk()
		m.m[key] = v
	}
	return v
}

// Take removes a key and returns the value it had.
func (m *Map[K, V]) Take(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.m[key]
	delete(m.m, key)
	return v, ok
}

// Delete removes a key.
func (m *Map[K, V]) Delete(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.m, key)
}

// Sweep removes every entry for which del returns true and reports how many
// were removed. del runs under the map's lock and must not use the map.
func (m *Map[K, V]) Sweep(del func(K, V) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.m)
	maps.DeleteFunc(m.m, del)
	return n - len(m.m)
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.m)
}

// All iterates over a snapshot of the map's entries. The map may be modified
// during iteration without affecting the entries visited.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	m.mu.Lock()
	s := maps.Clone(m.m)
	m.mu.Unlock()
	return maps.All(s)
}
