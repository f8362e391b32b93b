package authclient

import (
	"context"
	"sync"
	"time"
)

// Storage persists the serialized session of one browser. GetItem returns
// nil with no error when the key is missing.
type Storage interface {
	GetItem(ctx context.Context, key string) ([]byte, error)
	SetItem(ctx context.Context, key string, value []byte, ttl time.Duration) error
	RemoveItem(ctx context.Context, key string) error
}

// Watcher is implemented by storages that can report writes made by other
// processes. The returned channel is closed when ctx is done.
type Watcher interface {
	Watch(ctx context.Context, key string) (<-chan struct{}, error)
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStorage is a process-local Storage for development and tests.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string]memoryItem), now: time.Now}
}

func (m *MemoryStorage) GetItem(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	item, ok := m.items[key]
	m.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	if !item.expiresAt.IsZero() && !m.now().Before(item.expiresAt) {
		m.mu.Lock()
		delete(m.items, key)
		m.mu.Unlock()
		return nil, nil
	}
	return item.value, nil
}

func (m *MemoryStorage) SetItem(_ context.Context, key string, value []byte, ttl time.Duration) error {
	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.items[key] = item
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) RemoveItem(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}
