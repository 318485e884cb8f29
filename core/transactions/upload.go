package transactions

import (
	"context"
	"sync"

	"github.com/cordum/gridstore/core/assets"
	"github.com/cordum/gridstore/core/infra/logging"
	"github.com/cordum/gridstore/core/inventory"
	"github.com/google/uuid"
)

// Upload is one in-flight asset upload. It is opened by an upload request or
// by an item request naming its transaction id, and finishes when the whole
// payload has arrived.
type Upload struct {
	coll          *Collection
	transactionID uuid.UUID

	mu         sync.Mutex
	assetID    uuid.UUID
	assetType  inventory.AssetType
	data       []byte
	storeLocal bool
	tempFile   bool
	xferID     uint64
	primed     bool
	finished   bool
	abandoned  bool
	create     *CreateItemRequest
	update     *inventory.Item
}

func (u *Upload) TransactionID() uuid.UUID { return u.transactionID }

func (u *Upload) AssetID() uuid.UUID {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.assetID
}

// Finished reports whether the whole payload has arrived.
func (u *Upload) Finished() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.finished
}

// Size is the number of payload bytes received so far.
func (u *Upload) Size() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.data)
}

// prime (re)starts the upload with the request's metadata, dropping any
// payload received under an earlier request. Pending item requests survive.
func (u *Upload) prime(req UploadRequest, xferID uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.abandoned {
		return
	}
	u.assetID = req.AssetID
	u.assetType = req.Type
	u.storeLocal = req.StoreLocal
	u.tempFile = req.TempFile
	u.data = append([]byte(nil), req.Data...)
	u.xferID = xferID
	u.primed = true
	u.finished = false
}

func (u *Upload) receive(ctx context.Context, xferID uint64, packetID uint32, data []byte, final bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.finished || u.xferID != xferID {
		return
	}
	u.data = append(u.data, data...)
	u.coll.deps.Notifier.ConfirmXfer(ctx, u.coll.agent, xferID, packetID)
	if final {
		u.complete(ctx)
	}
}

// retire runs with u.mu held.
func (u *Upload) retire() {
	u.abandoned = true
	u.finished = true
	u.data = nil
	u.create, u.update = nil, nil
}

// complete runs with u.mu held.
func (u *Upload) complete(ctx context.Context) {
	if u.abandoned {
		return
	}
	deps := u.coll.deps
	agent := u.coll.agent
	u.finished = true
	size := len(u.data)
	deps.Notifier.UploadComplete(ctx, agent, u.assetID, u.assetType, true)

	var outcome string
	switch {
	case u.tempFile:
		u.data = nil
		u.create, u.update = nil, nil
		u.coll.release(u, u.xferID)
		outcome = "temporary"
	case u.create != nil:
		outcome = u.publishCreate(ctx, *u.create)
		u.create = nil
		u.coll.release(u, u.xferID)
	case u.update != nil:
		outcome = u.publishUpdate(ctx, *u.update)
		u.update = nil
		u.coll.release(u, u.xferID)
	case u.storeLocal:
		outcome = "stored_local"
		if err := deps.Assets.Put(ctx, u.asset("", "")); err != nil {
			logging.Error(component, "store local asset failed", "asset", u.assetID, "error", err)
			outcome = "failed"
		}
	default:
		outcome = "awaiting_item"
	}
	deps.Metrics.IncUploadsCompleted(u.assetType.String(), outcome)
	logging.Info(component, "upload complete", "agent", agent, "transaction", u.transactionID,
		"asset", u.assetID, "bytes", size, "outcome", outcome)
}

func (u *Upload) requestCreate(ctx context.Context, req CreateItemRequest) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.abandoned {
		return
	}
	if !u.finished {
		u.create = &req
		return
	}
	if u.tempFile {
		logging.Info(component, "ignoring item create for temporary upload", "transaction", u.transactionID)
		return
	}
	outcome := u.publishCreate(ctx, req)
	u.coll.release(u, u.xferID)
	logging.Info(component, "deferred item create", "transaction", u.transactionID, "outcome", outcome)
}

func (u *Upload) requestUpdate(ctx context.Context, item inventory.Item) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.abandoned {
		return
	}
	if !u.finished {
		u.update = &item
		return
	}
	if u.tempFile {
		logging.Info(component, "ignoring item update for temporary upload", "transaction", u.transactionID)
		return
	}
	outcome := u.publishUpdate(ctx, item)
	u.coll.release(u, u.xferID)
	logging.Info(component, "deferred item update", "transaction", u.transactionID, "outcome", outcome)
}

func (u *Upload) asset(name, description string) *assets.Asset {
	return &assets.Asset{
		ID:          u.assetID,
		Type:        int8(u.assetType),
		Name:        name,
		Description: description,
		CreatorID:   u.coll.agent.String(),
		Local:       u.storeLocal,
		Temporary:   u.tempFile,
		Data:        u.data,
	}
}

func (u *Upload) publishCreate(ctx context.Context, req CreateItemRequest) string {
	deps := u.coll.deps
	agent := u.coll.agent
	if err := deps.Assets.Put(ctx, u.asset(req.Name, req.Description)); err != nil {
		logging.Error(component, "store asset failed", "asset", u.assetID, "error", err)
		deps.Notifier.Alert(ctx, agent, AlertCreateFailed)
		return "failed"
	}
	folderID := req.FolderID
	if folderID == uuid.Nil {
		if f, ok := deps.Inventory.GetFolderForType(ctx, agent, req.InvType, req.AssetType); ok {
			folderID = f.ID
		}
	}
	item := inventory.Item{
		ID:          uuid.New(),
		Owner:       agent,
		FolderID:    folderID,
		AssetID:     u.assetID,
		Name:        req.Name,
		Description: req.Description,
		AssetType:   req.AssetType,
		InvType:     req.InvType,
		Flags:       uint32(req.WearableType),
		CreatorID:   agent.String(),
		Permissions: inventory.Permissions{
			Base:     inventory.PermAll,
			Current:  inventory.PermAll,
			EveryOne: inventory.PermNone,
			Next:     req.NextOwnerMask,
		},
	}
	if err := deps.Inventory.AddItem(ctx, item); err != nil {
		logging.Error(component, "create item failed", "agent", agent, "folder", folderID, "error", err)
		deps.Notifier.Alert(ctx, agent, AlertCreateFailed)
		return "failed"
	}
	deps.Notifier.ItemCreated(ctx, agent, item, req.CallbackID)
	return "created"
}

func (u *Upload) publishUpdate(ctx context.Context, item inventory.Item) string {
	deps := u.coll.deps
	if err := deps.Assets.Put(ctx, u.asset(item.Name, item.Description)); err != nil {
		logging.Error(component, "store asset failed", "asset", u.assetID, "error", err)
		return "failed"
	}
	item.AssetID = u.assetID
	if err := deps.Inventory.UpdateItem(ctx, item); err != nil {
		logging.Error(component, "update item failed", "item", item.ID, "error", err)
		return "failed"
	}
	return "updated"
}
