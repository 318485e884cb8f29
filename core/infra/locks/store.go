package locks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const defaultTTL = 30 * time.Second

// ErrHeld is returned by WithLock when another holder owns the resource.
var ErrHeld = errors.New("lock held by another holder")

// Store hands out exclusive, expiring advisory locks keyed by resource name.
type Store interface {
	Acquire(ctx context.Context, resource, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, resource, holder string) (bool, error)
}

// WithLock runs fn while holding resource. The lock is released when fn returns,
// even if fn fails.
func WithLock(ctx context.Context, store Store, resource, holder string, ttl time.Duration, fn func(context.Context) error) error {
	if store == nil {
		return fn(ctx)
	}
	ok, err := store.Acquire(ctx, resource, holder, ttl)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", resource, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", resource, ErrHeld)
	}
	defer func() {
		// release on a fresh context so a cancelled caller still frees the key
		relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = store.Release(relCtx, resource, holder)
	}()
	return fn(ctx)
}

// OwnerResource names the repair lock for one inventory owner.
func OwnerResource(owner string) string {
	return "inventory:" + strings.ToLower(strings.TrimSpace(owner))
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return defaultTTL
	}
	return ttl
}

func validate(resource, holder string) (string, string, error) {
	resource = strings.TrimSpace(resource)
	holder = strings.TrimSpace(holder)
	if resource == "" || holder == "" {
		return "", "", fmt.Errorf("resource and holder required")
	}
	return resource, holder, nil
}
