// Package transactions tracks in-flight asset uploads per connected agent
// and publishes finished uploads into the inventory.
package transactions

import (
	"context"
	"errors"
	"sync"

	"github.com/cordum/gridstore/core/assets"
	"github.com/cordum/gridstore/core/billing"
	"github.com/cordum/gridstore/core/infra/metrics"
	"github.com/cordum/gridstore/core/inventory"
	"github.com/google/uuid"
)

const component = "uploads"

// User-visible alert texts.
const (
	AlertInsufficientFunds = "Unable to upload asset. Insufficient funds."
	AlertCreateFailed      = "Unable to create inventory item"
)

var (
	// ErrInsufficientFunds is returned when billing refuses a billable upload.
	ErrInsufficientFunds = errors.New("upload not covered by funds")
	// ErrUnknownXfer is returned for a chunk whose xfer id matches no upload.
	ErrUnknownXfer = errors.New("unknown xfer id")
	// ErrCollectionClosed is returned by a collection whose agent has left.
	ErrCollectionClosed = errors.New("transaction collection closed")
)

// Notifier pushes upload events back to the uploading client. Delivery is
// best effort.
type Notifier interface {
	RequestXfer(ctx context.Context, agent uuid.UUID, xferID uint64, assetID uuid.UUID, assetType inventory.AssetType)
	ConfirmXfer(ctx context.Context, agent uuid.UUID, xferID uint64, packetID uint32)
	UploadComplete(ctx context.Context, agent, assetID uuid.UUID, assetType inventory.AssetType, success bool)
	ItemCreated(ctx context.Context, agent uuid.UUID, item inventory.Item, callbackID uint32)
	Alert(ctx context.Context, agent uuid.UUID, message string)
}

// Inventory is the part of the tree engine finished uploads publish into.
type Inventory interface {
	AddItem(ctx context.Context, it inventory.Item) error
	UpdateItem(ctx context.Context, it inventory.Item) error
	GetFolderForType(ctx context.Context, owner uuid.UUID, invType inventory.InventoryType, assetType inventory.AssetType) (*inventory.Folder, bool)
}

// Deps are shared by every collection in a registry.
type Deps struct {
	Assets       assets.Store
	Inventory    Inventory
	Notifier     Notifier
	Billing      billing.Gate
	Metrics      metrics.Metrics
	UploadCharge int
}

// Registry maps connected agents to their upload collections. One mutex
// covers lookup, insert and remove.
type Registry struct {
	mu          sync.Mutex
	collections map[uuid.UUID]*Collection
	deps        *Deps
}

func NewRegistry(deps Deps) *Registry {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop{}
	}
	if deps.Billing == nil {
		deps.Billing = billing.Unlimited{}
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	return &Registry{collections: make(map[uuid.UUID]*Collection), deps: &deps}
}

// GetOrCreate returns the agent's collection, allocating it on first use.
func (r *Registry) GetOrCreate(agent uuid.UUID) *Collection {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.collections[agent]; ok {
		return c
	}
	c := newCollection(agent, r.deps)
	r.collections[agent] = c
	return c
}

func (r *Registry) Get(agent uuid.UUID) (*Collection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.collections[agent]
	return c, ok
}

// Remove drops the agent's collection and every upload still open in it.
func (r *Registry) Remove(agent uuid.UUID) {
	r.mu.Lock()
	c, ok := r.collections[agent]
	delete(r.collections, agent)
	r.mu.Unlock()
	if ok {
		c.abandon()
	}
}

// Len reports how many agents have a collection.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.collections)
}

type nopNotifier struct{}

func (nopNotifier) RequestXfer(context.Context, uuid.UUID, uint64, uuid.UUID, inventory.AssetType) {}
func (nopNotifier) ConfirmXfer(context.Context, uuid.UUID, uint64, uint32)                         {}
func (nopNotifier) UploadComplete(context.Context, uuid.UUID, uuid.UUID, inventory.AssetType, bool) {
}
func (nopNotifier) ItemCreated(context.Context, uuid.UUID, inventory.Item, uint32) {}
func (nopNotifier) Alert(context.Context, uuid.UUID, string)                       {}
