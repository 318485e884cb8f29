// Package directory resolves account display names to account ids.
package directory

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"
)

const (
	defaultTTL     = 5 * time.Minute
	defaultCleanup = 10 * time.Minute
)

// NameKey normalizes a "First Last" pair for lookups.
func NameKey(first, last string) string {
	return strings.ToLower(strings.TrimSpace(first)) + " " + strings.ToLower(strings.TrimSpace(last))
}

// Static is a fixed name table, used by tests and the memory backend.
type Static map[string]uuid.UUID

// NewStatic builds a Static from "First Last" keys.
func NewStatic(names map[string]uuid.UUID) Static {
	out := make(Static, len(names))
	for name, id := range names {
		first, last, _ := strings.Cut(strings.TrimSpace(name), " ")
		out[NameKey(first, last)] = id
	}
	return out
}

func (s Static) ResolveName(_ context.Context, first, last string) (uuid.UUID, bool, error) {
	id, ok := s[NameKey(first, last)]
	return id, ok, nil
}

// Resolver is satisfied by every directory in this package.
type Resolver interface {
	ResolveName(ctx context.Context, first, last string) (uuid.UUID, bool, error)
}

type cachedEntry struct {
	id    uuid.UUID
	found bool
}

// Cached memoizes another resolver's answers, misses included, for a TTL.
type Cached struct {
	next  Resolver
	cache *cache.Cache
}

func NewCached(next Resolver, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cached{next: next, cache: cache.New(ttl, defaultCleanup)}
}

func (c *Cached) ResolveName(ctx context.Context, first, last string) (uuid.UUID, bool, error) {
	key := NameKey(first, last)
	if obj, found := c.cache.Get(key); found {
		entry := obj.(cachedEntry)
		return entry.id, entry.found, nil
	}
	id, ok, err := c.next.ResolveName(ctx, first, last)
	if err != nil {
		return uuid.Nil, false, err
	}
	c.cache.SetDefault(key, cachedEntry{id: id, found: ok})
	return id, ok, nil
}

// Forget drops a cached answer, e.g. after an account rename.
func (c *Cached) Forget(first, last string) {
	c.cache.Delete(NameKey(first, last))
}
