package kvstore

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-memory Store, optionally bounded by a byte quota so that
// write failures can be exercised the way a browser storage quota behaves.
type Memory struct {
	mu       sync.RWMutex
	data     map[string]string
	size     int
	maxBytes int
}

// NewMemory creates a Memory store. maxBytes <= 0 means unbounded.
func NewMemory(maxBytes int) *Memory {
	return &Memory{
		data:     make(map[string]string),
		maxBytes: maxBytes,
	}
}

// Get retrieves a value.
func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// Set stores a value, failing with ErrQuotaExceeded when the quota would be exceeded.
func (m *Memory) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	size := m.size + len(key) + len(value)
	if old, ok := m.data[key]; ok {
		size -= len(key) + len(old)
	}
	if m.maxBytes > 0 && size > m.maxBytes {
		return ErrQuotaExceeded
	}

	m.data[key] = value
	m.size = size
	return nil
}

// Delete removes a value.
func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.data[key]; ok {
		m.size -= len(key) + len(old)
		delete(m.data, key)
	}
	return nil
}

// Keys returns all keys in sorted order.
func (m *Memory) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Size reports the bytes currently charged against the quota.
func (m *Memory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}
