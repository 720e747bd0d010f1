// Package store provides namespaced key-value storage shared by handlers.
package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/zephyrtronium/switchboard/syncmap"
)

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("key not found")

// Backend is a key-value storage engine.
type Backend interface {
	// Get returns a copy of the value for a key.
	// If there is none, the error is ErrNotFound.
	Get(ctx context.Context, key []byte) ([]byte, error)
	// Set sets the value for a key.
	Set(ctx context.Context, key, val []byte) error
	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key []byte) error
	// Keys returns every key beginning with prefix, in byte order.
	Keys(ctx context.Context, prefix []byte) ([][]byte, error)
	// Close releases the backend's resources.
	Close() error
}

// Store divides a backend into namespaces, each guarded by its own lock.
type Store struct {
	b     Backend
	locks *syncmap.Map[string, *sync.Mutex]
}

// New creates a store over a backend.
func New(b Backend) *Store {
	return &Store{b: b, locks: syncmap.New[string, *sync.Mutex]()}
}

// Namespace returns the storage for a namespace. Every Namespace with the same
// name shares the same lock.
func (s *Store) Namespace(ns string) *Namespace {
	mu := s.locks.LoadOrStore(ns, func() *sync.Mutex { return new(sync.Mutex) })
	return &Namespace{name: ns, prefix: prefix(ns), mu: mu, b: s.b}
}

// prefix is the key prefix for a namespace. The name's length comes first so
// that no namespace's keys begin with another's prefix.
func prefix(ns string) []byte {
	b := binary.AppendUvarint(make([]byte, 0, binary.MaxVarintLen64+len(ns)), uint64(len(ns)))
	return append(b, ns...)
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.b.Close()
}

// Namespace is storage for one namespace.
// Its methods are safe to call concurrently.
type Namespace struct {
	name   string
	prefix []byte
	mu     *sync.Mutex
	b      Backend
}

// Name returns the namespace's name.
func (n *Namespace) Name() string {
	return n.name
}

// Get returns the value for a key.
// If there is none, the error is ErrNotFound.
func (n *Namespace) Get(ctx context.Context, key string) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tx().Get(ctx, key)
}

// Set sets the value for a key.
func (n *Namespace) Set(ctx context.Context, key string, val []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tx().Set(ctx, key, val)
}

// Delete removes a key.
func (n *Namespace) Delete(ctx context.Context, key string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tx().Delete(ctx, key)
}

// Keys returns every key in the namespace.
func (n *Namespace) Keys(ctx context.Context) ([]string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tx().Keys(ctx)
}

// Synchronize calls f while holding the namespace's lock.
// f must use only the given Tx to access the namespace.
func (n *Namespace) Synchronize(ctx context.Context, f func(tx *Tx) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return f(n.tx())
}

func (n *Namespace) tx() *Tx {
	return &Tx{ns: n}
}

// Tx is access to a namespace under its lock.
type Tx struct {
	ns *Namespace
}

func (t *Tx) key(k string) []byte {
	b := make([]byte, 0, len(t.ns.prefix)+len(k))
	b = append(b, t.ns.prefix...)
	return append(b, k...)
}

// Get returns the value for a key.
func (t *Tx) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := t.ns.b.Get(ctx, t.key(key))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("couldn't get %s in %s: %w", key, t.ns.name, err)
	}
	return v, nil
}

// Set sets the value for a key.
func (t *Tx) Set(ctx context.Context, key string, val []byte) error {
	if err := t.ns.b.Set(ctx, t.key(key), val); err != nil {
		return fmt.Errorf("couldn't set %s in %s: %w", key, t.ns.name, err)
	}
	return nil
}

// Delete removes a key.
func (t *Tx) Delete(ctx context.Context, key string) error {
	if err := t.ns.b.Delete(ctx, t.key(key)); err != nil {
		return fmt.Errorf("couldn't delete %s in %s: %w", key, t.ns.name, err)
	}
	return nil
}

// Keys returns every key in the namespace.
func (t *Tx) Keys(ctx context.Context) ([]string, error) {
	ks, err := t.ns.b.Keys(ctx, t.ns.prefix)
	if err != nil {
		return nil, fmt.Errorf("couldn't list keys in %s: %w", t.ns.name, err)
	}
	r := make([]string, len(ks))
	for i, k := range ks {
		r[i] = string(k[len(t.ns.prefix):])
	}
	return r, nil
}
