// Package kv provides the device-local key/value blob store backing the
// session cache and identity bootstrap. The store is a dumb string blob
// store; callers own all serialization.
package kv

import (
	"context"
	"sync"
)

// Store is the durable key/value persistence primitive. Values survive
// process restarts.
type Store interface {
	// Get retrieves the value for key. found is false when the key is absent.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the underlying storage.
	Close() error
}

// MemStore is an in-memory Store used in tests and ephemeral setups.
type MemStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]string)}
}

// Get retrieves the value for key.
func (m *MemStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// Set writes value under key.
func (m *MemStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// Delete removes key.
func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error { return nil }
