package storage

import (
	"fmt"
	"sync"

	"github.com/iTrooz/offline-cache-proxy/internal/cache"
)

// NewMemory creates a Storage living in process memory
func NewMemory() Storage {
	return &store{backend: &memoryBackend{caches: make(map[string]*cache.MemoryCache)}}
}

type memoryBackend struct {
	mu     sync.RWMutex
	caches map[string]*cache.MemoryCache
}

func (m *memoryBackend) names() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.caches))
	for name := range m.caches {
		names = append(names, name)
	}
	return names, nil
}

func (m *memoryBackend) open(name string) (cache.GenericCache, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	generic, ok := m.caches[name]
	if !ok {
		generic = cache.NewGenericMemory()
		m.caches[name] = generic
	}
	return generic, nil
}

func (m *memoryBackend) lookup(name string) (cache.GenericCache, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	generic, ok := m.caches[name]
	if !ok {
		return nil, false, nil
	}
	return generic, true, nil
}

func (m *memoryBackend) remove(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.caches[name]; !ok {
		return false, nil
	}
	delete(m.caches, name)
	return true, nil
}
