package assets

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Tiered routes assets flagged Local to the region-local store and everything
// else to the shared store. Reads try local first.
type Tiered struct {
	Shared Store
	Local  Store
}

func (t *Tiered) Put(ctx context.Context, a *Asset) error {
	if err := validate(a); err != nil {
		return err
	}
	if a.Local && t.Local != nil {
		return t.Local.Put(ctx, a)
	}
	return t.Shared.Put(ctx, a)
}

func (t *Tiered) Get(ctx context.Context, id uuid.UUID) (*Asset, error) {
	if t.Local != nil {
		a, err := t.Local.Get(ctx, id)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return t.Shared.Get(ctx, id)
}
