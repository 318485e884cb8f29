package locks

import (
	"context"
	"sync"
	"time"
)

// LocalStore is an in-process Store for single-node deployments and tests.
type LocalStore struct {
	mu    sync.Mutex
	held  map[string]localLock
	clock func() time.Time
}

type localLock struct {
	holder    string
	expiresAt time.Time
}

func NewLocalStore() *LocalStore {
	return &LocalStore{held: make(map[string]localLock), clock: time.Now}
}

func (s *LocalStore) Acquire(_ context.Context, resource, holder string, ttl time.Duration) (bool, error) {
	resource, holder, err := validate(resource, holder)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	if cur, ok := s.held[resource]; ok && cur.holder != holder && now.Before(cur.expiresAt) {
		return false, nil
	}
	s.held[resource] = localLock{holder: holder, expiresAt: now.Add(normalizeTTL(ttl))}
	return true, nil
}

func (s *LocalStore) Release(_ context.Context, resource, holder string) (bool, error) {
	resource, holder, err := validate(resource, holder)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.held[resource]
	if !ok || cur.holder != holder {
		return false, nil
	}
	delete(s.held, resource)
	return true, nil
}
