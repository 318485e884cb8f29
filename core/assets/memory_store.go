package assets

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps assets in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	assets map[uuid.UUID]*Asset
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{assets: make(map[uuid.UUID]*Asset)}
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (s *MemoryStore) Put(_ context.Context, a *Asset) error {
	if err := validate(a); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[a.ID] = a.Clone()
	return nil
}

// Len reports how many assets are held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.assets)
}
