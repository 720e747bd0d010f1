package store

import (
	"bytes"
	"context"
	"slices"
	"strings"
	"sync"
)

// Memory is a backend that holds everything in a map.
type Memory struct {
	mu sync.Mutex
	m  map[string][]byte
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{m: make(map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, key []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.m[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (m *Memory) Set(ctx context.Context, key, val []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[string(key)] = bytes.Clone(val)
	return nil
}

func (m *Memory) Delete(ctx context.Context, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.m, string(key))
	return nil
}

func (m *Memory) Keys(ctx context.Context, prefix []byte) ([][]byte, error) {
	m.mu.Lock()
	var ks []string
	for k := range m.m {
		if strings.HasPrefix(k, string(prefix)) {
			ks = append(ks, k)
		}
	}
	m.mu.Unlock()
	slices.Sort(ks)
	r := make([][]byte, len(ks))
	for i, k := range ks {
		r[i] = []byte(k)
	}
	return r, nil
}

func (m *Memory) Close() error {
	return nil
}
