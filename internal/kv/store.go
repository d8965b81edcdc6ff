// Package kv defines the small key-value contract used for per-chat modes,
// lock markers and upload bookkeeping.
package kv

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("key not found")

// Store is a flat string key-value store. Single-key operations are atomic;
// there are no multi-key transactions.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// SetIfAbsent stores value only when key does not exist and reports
	// whether it did.
	SetIfAbsent(ctx context.Context, key, value string) (bool, error)
	// CompareAndSwap replaces old with value and reports whether the
	// current value was old.
	CompareAndSwap(ctx context.Context, key, old, value string) (bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// MemoryStore keeps everything in a map. It suits single-process
// deployments and tests.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryStore) SetIfAbsent(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value
	return true, nil
}

func (m *MemoryStore) CompareAndSwap(_ context.Context, key, old, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.data[key]; !ok || cur != old {
		return false, nil
	}
	m.data[key] = value
	return true, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
