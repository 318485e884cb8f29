// Package library exposes the shared library of default wearables.
package library

import (
	"fmt"
	"sort"

	"github.com/cordum/gridstore/core/infra/config"
	"github.com/google/uuid"
)

// Service answers the inventory engine's library questions from config.
type Service struct {
	owner        uuid.UUID
	assets       map[string]uuid.UUID
	defaultItems map[uuid.UUID]string
}

// New parses the configured ids. Any malformed id is an error.
func New(cfg config.LibraryConfig) (*Service, error) {
	owner, err := uuid.Parse(cfg.Owner)
	if err != nil {
		return nil, fmt.Errorf("library owner: %w", err)
	}
	s := &Service{
		owner:        owner,
		assets:       make(map[string]uuid.UUID, len(cfg.DefaultAssets)),
		defaultItems: make(map[uuid.UUID]string, len(cfg.DefaultItems)),
	}
	for slot, raw := range cfg.DefaultAssets {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("default asset %s: %w", slot, err)
		}
		s.assets[slot] = id
	}
	for slot, raw := range cfg.DefaultItems {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("default item %s: %w", slot, err)
		}
		s.defaultItems[id] = slot
	}
	return s, nil
}

func (s *Service) Owner() uuid.UUID { return s.owner }

// DefaultAsset returns the library asset for a wearable slot.
func (s *Service) DefaultAsset(slot string) (uuid.UUID, bool) {
	id, ok := s.assets[slot]
	return id, ok
}

// IsDefaultItem reports whether id is one of the library's placeholder items.
func (s *Service) IsDefaultItem(id uuid.UUID) bool {
	_, ok := s.defaultItems[id]
	return ok
}

// Slots lists the configured wearable slots in name order.
func (s *Service) Slots() []string {
	out := make([]string, 0, len(s.assets))
	for slot := range s.assets {
		out = append(out, slot)
	}
	sort.Strings(out)
	return out
}
