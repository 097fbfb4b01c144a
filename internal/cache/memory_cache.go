package cache

import (
	"sort"
	"sync"
)

// MemoryCache implements GenericCache in process memory
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewGenericMemory creates an empty in-memory cache
func NewGenericMemory() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string][]byte),
	}
}

func (m *MemoryCache) Get(key string) ([]byte, error) {
	m.mu.RLock()
	data, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryCache) Set(key string, value []byte) error {
	if key == "" {
		return nil
	}
	m.mu.Lock()
	m.entries[key] = append([]byte(nil), value...)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Delete(key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Keys() ([]string, error) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.entries))
	for key := range m.entries {
		keys = append(keys, key)
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryCache) Init() error {
	return nil
}

func (m *MemoryCache) Clear() error {
	m.mu.Lock()
	m.entries = make(map[string][]byte)
	m.mu.Unlock()
	return nil
}
