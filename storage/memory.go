package storage

import (
	"context"
	"sync"
)

// Memory keeps media in process. It is meant for tests and development.
type Memory struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{items: make(map[string][]byte)}
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.items[id]
	m.mu.RUnlock()
	if !ok {
		return nil, NotFound(id)
	}
	return append([]byte(nil), data...), nil
}

// Put implements Store.
func (m *Memory) Put(ctx context.Context, id string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateID(id); err != nil {
		return err
	}
	m.mu.Lock()
	m.items[id] = append([]byte(nil), data...)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored items.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
