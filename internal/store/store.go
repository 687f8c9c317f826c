// Package store provides the key-value persistence contract the resource
// engine runs on, plus the built-in backends (memory, BoltDB file, Postgres
// document table).
//
// Keys are "<object>:<id>" (e.g. "charge:ch_abc"). Values are the JSON
// encoding of the resource's stored fields. The contract is deliberately
// small: point lookup, prefix scan, upsert, delete. There are no
// transactions; the engine's conflict-on-create check is a documented
// best-effort read-then-write, not a linearizable guarantee.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// Store is the persistence contract shared by all backends.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set upserts the value under key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key returns ErrNotFound so
	// the engine can surface a 404.
	Delete(ctx context.Context, key string) error

	// ScanPrefix returns all values whose key starts with prefix, in
	// ascending key order.
	ScanPrefix(ctx context.Context, prefix string) ([][]byte, error)

	// Flush removes everything. Used by the test-harness reset endpoint.
	Flush(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Memory is the default in-process backend.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	m.data[key] = stored
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[key]; !ok {
		return ErrNotFound
	}
	delete(m.data, key)
	return nil
}

func (m *Memory) ScanPrefix(_ context.Context, prefix string) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	values := make([][]byte, 0, len(keys))
	for _, k := range keys {
		v := m.data[k]
		out := make([]byte, len(v))
		copy(out, v)
		values = append(values, out)
	}
	return values, nil
}

func (m *Memory) Flush(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = make(map[string][]byte)
	return nil
}

func (m *Memory) Close() error {
	return nil
}
