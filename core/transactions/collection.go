package transactions

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/cordum/gridstore/core/infra/logging"
	"github.com/cordum/gridstore/core/inventory"
	"github.com/google/uuid"
)

// UploadRequest opens (or re-primes) an upload. Data holds the whole asset
// when it fits in the request; otherwise it is empty and the payload
// arrives as xfer chunks.
type UploadRequest struct {
	TransactionID uuid.UUID           `json:"transaction_id"`
	AssetID       uuid.UUID           `json:"asset_id"`
	Type          inventory.AssetType `json:"type"`
	Data          []byte              `json:"data,omitempty"`
	StoreLocal    bool                `json:"store_local"`
	TempFile      bool                `json:"temp_file"`
}

// CreateItemRequest asks for an item pointing at a transaction's asset.
type CreateItemRequest struct {
	TransactionID uuid.UUID               `json:"transaction_id"`
	FolderID      uuid.UUID               `json:"folder_id"`
	CallbackID    uint32                  `json:"callback_id"`
	Name          string                  `json:"name"`
	Description   string                  `json:"description"`
	AssetType     inventory.AssetType     `json:"asset_type"`
	InvType       inventory.InventoryType `json:"inv_type"`
	WearableType  inventory.WearableType  `json:"wearable_type"`
	NextOwnerMask uint32                  `json:"next_owner_mask"`
}

// Collection holds one agent's uploads keyed by transaction id, plus an
// index of the xfer ids handed out for chunked transfers.
type Collection struct {
	agent uuid.UUID
	deps  *Deps

	mu      sync.Mutex
	uploads map[uuid.UUID]*Upload
	xfers   map[uint64]*Upload
	closed  bool
}

func newCollection(agent uuid.UUID, deps *Deps) *Collection {
	return &Collection{
		agent:   agent,
		deps:    deps,
		uploads: make(map[uuid.UUID]*Upload),
		xfers:   make(map[uint64]*Upload),
	}
}

// Agent returns the owning agent id.
func (c *Collection) Agent() uuid.UUID { return c.agent }

// Upload looks up a transaction.
func (c *Collection) Upload(transactionID uuid.UUID) (*Upload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.uploads[transactionID]
	return u, ok
}

// Len reports the number of open transactions.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.uploads)
}

// HandleUploadRequest gates billable uploads on funds, then opens or
// re-primes the transaction. A payload that arrived whole completes at once;
// otherwise the client is asked to stream it.
func (c *Collection) HandleUploadRequest(ctx context.Context, req UploadRequest) error {
	if req.Type.Billable() && !req.TempFile {
		covered, err := c.deps.Billing.UploadCovered(ctx, c.agent, c.deps.UploadCharge)
		if err != nil {
			logging.Error(component, "billing check failed", "agent", c.agent, "error", err)
		}
		if err != nil || !covered {
			c.deps.Notifier.Alert(ctx, c.agent, AlertInsufficientFunds)
			c.deps.Metrics.IncUploadsRejected("insufficient_funds")
			logging.Info(component, "upload rejected", "agent", c.agent, "transaction", req.TransactionID, "type", req.Type)
			return ErrInsufficientFunds
		}
	}
	if req.AssetID == uuid.Nil {
		req.AssetID = uuid.New()
	}

	u, ok := c.open(req.TransactionID)
	if !ok {
		return ErrCollectionClosed
	}
	c.deps.Metrics.IncUploadsOpened(req.Type.String())
	if len(req.Data) > 2 {
		u.prime(req, 0)
		u.mu.Lock()
		u.complete(ctx)
		u.mu.Unlock()
		return nil
	}
	xferID := c.allocXfer(u)
	u.prime(req, xferID)
	c.deps.Notifier.RequestXfer(ctx, c.agent, xferID, req.AssetID, req.Type)
	return nil
}

// HandleXfer appends one chunk to the upload that owns xferID. The final
// chunk completes the upload.
func (c *Collection) HandleXfer(ctx context.Context, xferID uint64, packetID uint32, data []byte, final bool) error {
	c.mu.Lock()
	u, ok := c.xfers[xferID]
	c.mu.Unlock()
	if !ok {
		return ErrUnknownXfer
	}
	u.receive(ctx, xferID, packetID, data, final)
	return nil
}

// HandleItemCreation creates the item now if the upload finished, otherwise
// once it does. An unknown transaction id opens a new transaction.
func (c *Collection) HandleItemCreation(ctx context.Context, req CreateItemRequest) {
	u, ok := c.open(req.TransactionID)
	if !ok {
		logging.Info(component, "dropping item create after disconnect", "agent", c.agent, "transaction", req.TransactionID)
		return
	}
	u.requestCreate(ctx, req)
}

// HandleItemUpdate points item at the transaction's asset, now or on
// completion.
func (c *Collection) HandleItemUpdate(ctx context.Context, transactionID uuid.UUID, item inventory.Item) {
	u, ok := c.open(transactionID)
	if !ok {
		logging.Info(component, "dropping item update after disconnect", "agent", c.agent, "transaction", transactionID)
		return
	}
	u.requestUpdate(ctx, item)
}

// open returns the transaction's upload, creating it if needed. It fails
// once the collection has been abandoned.
func (c *Collection) open(transactionID uuid.UUID) (*Upload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false
	}
	if u, ok := c.uploads[transactionID]; ok {
		return u, true
	}
	u := &Upload{coll: c, transactionID: transactionID}
	c.uploads[transactionID] = u
	return u, true
}

func (c *Collection) allocXfer(u *Upload) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, owner := range c.xfers {
		if owner == u {
			delete(c.xfers, id)
		}
	}
	var id uint64
	for id == 0 || c.xfers[id] != nil {
		id = rand.Uint64()
	}
	c.xfers[id] = u
	return id
}

// release forgets a published or discarded upload.
func (c *Collection) release(u *Upload, xferID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uploads[u.transactionID] == u {
		delete(c.uploads, u.transactionID)
	}
	if xferID != 0 && c.xfers[xferID] == u {
		delete(c.xfers, xferID)
	}
}

// abandon closes the collection and retires every upload in it. A chunk or
// item request still holding a reference finds the upload finished and
// publishes nothing.
func (c *Collection) abandon() {
	c.mu.Lock()
	uploads := c.uploads
	c.uploads = make(map[uuid.UUID]*Upload)
	c.xfers = make(map[uint64]*Upload)
	c.closed = true
	c.mu.Unlock()
	for _, u := range uploads {
		u.mu.Lock()
		if u.primed && !u.finished {
			c.deps.Metrics.IncUploadsCompleted(u.assetType.String(), "abandoned")
		}
		u.retire()
		u.mu.Unlock()
	}
	if len(uploads) > 0 {
		logging.Info(component, "abandoned uploads on disconnect", "agent", c.agent, "count", len(uploads))
	}
}
