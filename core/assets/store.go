package assets

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get when no asset has the id.
var ErrNotFound = errors.New("asset not found")

// Asset is one binary blob with the metadata the upload pipeline captures.
// Type carries the same tag values as inventory.AssetType.
type Asset struct {
	ID          uuid.UUID `json:"id"`
	Type        int8      `json:"type"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatorID   string    `json:"creator_id"`
	Local       bool      `json:"local"`
	Temporary   bool      `json:"temporary"`
	Data        []byte    `json:"-"`
}

// Clone returns a deep copy so callers can re-key an asset without touching
// the stored original.
func (a *Asset) Clone() *Asset {
	out := *a
	out.Data = append([]byte(nil), a.Data...)
	return &out
}

// Store is the blob store collaborator.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*Asset, error)
	Put(ctx context.Context, a *Asset) error
}

func validate(a *Asset) error {
	if a == nil {
		return errors.New("nil asset")
	}
	if a.ID == uuid.Nil {
		return errors.New("asset id required")
	}
	return nil
}
