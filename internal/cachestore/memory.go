package cachestore

import (
	"sort"
	"sync"
)

// MemoryStorage is an in-memory implementation of the Storage interface.
// It is useful for tests and for a proxy that does not need to survive restarts.
// This implementation is safe for concurrent use.
type MemoryStorage struct {
	mu     sync.RWMutex
	caches map[string]*memoryCache
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{caches: make(map[string]*memoryCache)}
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func (s *MemoryStorage) Open(name string) (Cache, error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.caches[name]
	if !ok {
		c = &memoryCache{entries: make(map[string]*Entry)}
		s.caches[name] = c
	}
	return c, nil
}

func (s *MemoryStorage) lookup(name string) (Cache, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.caches[name]
	if !ok {
		return nil, nil
	}
	return c, nil
}

func (s *MemoryStorage) Names() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.caches))
	for name := range s.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStorage) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.caches, name)
	return nil
}

func (s *MemoryStorage) Match(key string) (*Entry, error) {
	return matchIn(s, key)
}

func (s *MemoryStorage) DeleteAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caches = make(map[string]*memoryCache)
	return nil
}

func (c *memoryCache) Get(key string) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (c *memoryCache) Put(key string, e *Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := *e
	c.entries[key] = &cp
	return nil
}

func (c *memoryCache) Keys() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Compile-time check that MemoryStorage implements Storage interface
var _ Storage = (*MemoryStorage)(nil)
