package storage

import (
	"context"
	"sync"

	"authflow/core"
)

// MemoryStorage keeps items in process memory. Nothing survives a restart.
type MemoryStorage struct {
	mu    sync.Mutex
	items map[string]string

	// Track method calls for verification
	GetItemCalls    int
	SetItemCalls    int
	RemoveItemCalls int

	// FailWith, when set, is returned by every operation
	FailWith error
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		items: make(map[string]string),
	}
}

func (m *MemoryStorage) GetItem(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetItemCalls++

	if m.FailWith != nil {
		return "", m.FailWith
	}
	value, ok := m.items[key]
	if !ok {
		return "", core.ErrNotFound
	}
	return value, nil
}

func (m *MemoryStorage) SetItem(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SetItemCalls++

	if m.FailWith != nil {
		return m.FailWith
	}
	m.items[key] = value
	return nil
}

func (m *MemoryStorage) RemoveItem(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RemoveItemCalls++

	if m.FailWith != nil {
		return m.FailWith
	}
	delete(m.items, key)
	return nil
}

// Len reports how many items are stored.
func (m *MemoryStorage) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
