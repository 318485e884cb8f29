package session

import (
	"embed"

	"github.com/cordum/gridstore/core/infra/schema"
	"github.com/cordum/gridstore/core/inventory"
	"github.com/google/uuid"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

// ClientEvent announces a session opening or closing.
type ClientEvent struct {
	AgentID uuid.UUID `json:"agent_id"`
}

// UploadRequestEvent is a client's request to upload an asset.
type UploadRequestEvent struct {
	AgentID       uuid.UUID           `json:"agent_id"`
	TransactionID uuid.UUID           `json:"transaction_id"`
	AssetID       uuid.UUID           `json:"asset_id"`
	Type          inventory.AssetType `json:"type"`
	Data          []byte              `json:"data,omitempty"`
	StoreLocal    bool                `json:"store_local"`
	TempFile      bool                `json:"temp_file"`
}

// ChunkEvent carries one xfer packet as received from the client. The first
// packet still holds the 4-byte length prefix.
type ChunkEvent struct {
	AgentID  uuid.UUID `json:"agent_id"`
	XferID   uint64    `json:"xfer_id"`
	PacketID uint32    `json:"packet_id"`
	Data     []byte    `json:"data,omitempty"`
}

// ItemCreateEvent asks for an item built from an upload transaction.
type ItemCreateEvent struct {
	AgentID       uuid.UUID               `json:"agent_id"`
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

// ItemUpdateEvent points an existing item at an upload transaction's asset.
type ItemUpdateEvent struct {
	AgentID       uuid.UUID      `json:"agent_id"`
	TransactionID uuid.UUID      `json:"transaction_id"`
	Item          inventory.Item `json:"item"`
}

// Client-bound notice kinds, appended to bus.ClientSubject.
const (
	KindXferRequest    = "xfer.request"
	KindXferConfirm    = "xfer.confirm"
	KindUploadComplete = "upload.complete"
	KindItemCreated    = "item.created"
	KindAlert          = "alert"
)

type XferRequestNotice struct {
	XferID  uint64              `json:"xfer_id"`
	AssetID uuid.UUID           `json:"asset_id"`
	Type    inventory.AssetType `json:"type"`
}

type XferConfirmNotice struct {
	XferID   uint64 `json:"xfer_id"`
	PacketID uint32 `json:"packet_id"`
}

type UploadCompleteNotice struct {
	AssetID uuid.UUID           `json:"asset_id"`
	Type    inventory.AssetType `json:"type"`
	Success bool                `json:"success"`
}

type ItemCreatedNotice struct {
	CallbackID uint32         `json:"callback_id"`
	Item       inventory.Item `json:"item"`
}

type AlertNotice struct {
	Message string `json:"message"`
}

func mustSchema(name string) *schema.Validator {
	data, err := schemaFiles.ReadFile("schemas/" + name + ".schema.json")
	if err != nil {
		panic(err)
	}
	return schema.MustCompile(name, data)
}

var (
	clientSchema        = mustSchema("client")
	uploadRequestSchema = mustSchema("upload_request")
	chunkSchema         = mustSchema("chunk")
	itemCreateSchema    = mustSchema("item_create")
	itemUpdateSchema    = mustSchema("item_update")
)
