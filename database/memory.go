package database

import (
	"context"
	"strconv"
	"sync"

	"advisor/schemas"
)

// MemoryStore keeps rows per sheet tab in process. Row ids are 1-based
// positions, like sheet row numbers without a header.
type MemoryStore struct {
	mu   sync.RWMutex
	tabs map[schemas.SheetTarget][]schemas.Lead
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tabs: make(map[schemas.SheetTarget][]schemas.Lead)}
}

func (s *MemoryStore) Rows(ctx context.Context, target schemas.SheetTarget) ([]schemas.LeadRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	leads := s.tabs[target]
	rows := make([]schemas.LeadRow, 0, len(leads))
	for i, lead := range leads {
		rows = append(rows, schemas.LeadRow{ID: strconv.Itoa(i + 1), Lead: lead})
	}
	return rows, nil
}

func (s *MemoryStore) Row(ctx context.Context, target schemas.SheetTarget, id string) (schemas.LeadRow, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index(target, id)
	if !ok {
		return schemas.LeadRow{}, false, nil
	}
	return schemas.LeadRow{ID: id, Lead: s.tabs[target][i]}, true, nil
}

func (s *MemoryStore) Update(ctx context.Context, target schemas.SheetTarget, id string, lead schemas.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index(target, id)
	if !ok {
		return ErrRowNotFound
	}
	s.tabs[target][i] = lead
	return nil
}

func (s *MemoryStore) Append(ctx context.Context, target schemas.SheetTarget, lead schemas.Lead) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tabs[target] = append(s.tabs[target], lead)
	return strconv.Itoa(len(s.tabs[target])), nil
}

func (s *MemoryStore) Len(target schemas.SheetTarget) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tabs[target])
}

func (s *MemoryStore) index(target schemas.SheetTarget, id string) (int, bool) {
	n, err := strconv.Atoi(id)
	if err != nil || n < 1 || n > len(s.tabs[target]) {
		return 0, false
	}
	return n - 1, true
}

// MemoryIndexCache is the in-process counterpart of RedisIndexCache.
type MemoryIndexCache struct {
	mu      sync.Mutex
	entries map[string]string
}

func NewMemoryIndexCache() *MemoryIndexCache {
	return &MemoryIndexCache{entries: make(map[string]string)}
}

func (c *MemoryIndexCache) Get(ctx context.Context, target schemas.SheetTarget, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.entries[indexKey(target, key)]
	return id, ok, nil
}

func (c *MemoryIndexCache) Set(ctx context.Context, target schemas.SheetTarget, key, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[indexKey(target, key)] = id
	return nil
}
