// Package session turns client session and upload events from the bus into
// calls on the upload transaction registry.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/cordum/gridstore/core/infra/bus"
	"github.com/cordum/gridstore/core/infra/config"
	"github.com/cordum/gridstore/core/infra/logging"
	"github.com/cordum/gridstore/core/infra/schema"
	"github.com/cordum/gridstore/core/transactions"
	"github.com/google/uuid"
)

const (
	component = "session"

	// firstPacketHeader is the length prefix carried by packet 0 of an xfer.
	firstPacketHeader = 4

	provisionTimeout = 10 * time.Second
)

// Provisioner creates a connecting agent's inventory when it has none.
type Provisioner interface {
	CreateUserInventory(ctx context.Context, owner uuid.UUID, withDefaults bool) (bool, error)
}

// Adapter subscribes to the session and upload subjects. Upload collections
// live in this process, so every event of one agent must reach the same
// instance; subscriptions therefore use no queue group.
type Adapter struct {
	bus       bus.Bus
	registry  *transactions.Registry
	finalMask uint32

	provisioner  Provisioner
	withDefaults bool
	retryDelay   time.Duration
}

func NewAdapter(b bus.Bus, registry *transactions.Registry, finalMask uint32) *Adapter {
	if finalMask == 0 {
		finalMask = config.DefaultFinalChunkMask
	}
	return &Adapter{bus: b, registry: registry, finalMask: finalMask}
}

// WithProvisioner makes connect events ensure the agent's inventory. A
// failed provisioning asks the bus to redeliver the connect after retry.
func (a *Adapter) WithProvisioner(p Provisioner, withDefaults bool, retry time.Duration) *Adapter {
	a.provisioner = p
	a.withDefaults = withDefaults
	a.retryDelay = retry
	return a
}

// Start registers every handler.
func (a *Adapter) Start() error {
	subs := []struct {
		subject string
		handler bus.Handler
	}{
		{bus.SubjectClientConnect, a.handleConnect},
		{bus.SubjectClientClose, a.handleClose},
		{bus.SubjectUploadRequest, a.handleUploadRequest},
		{bus.SubjectUploadChunk, a.handleChunk},
		{bus.SubjectItemCreate, a.handleItemCreate},
		{bus.SubjectItemUpdate, a.handleItemUpdate},
	}
	for _, s := range subs {
		if err := a.bus.Subscribe(s.subject, "", s.handler); err != nil {
			return err
		}
	}
	logging.Info(component, "session adapter subscribed", "subjects", len(subs))
	return nil
}

// decode validates the raw body against v's schema before unmarshalling.
// Invalid events are logged and dropped.
func decode(msg *bus.Message, validator *schema.Validator, v any) bool {
	if err := validator.Validate(msg.Data); err != nil {
		logging.Error(component, "invalid event", "subject", msg.Subject, "error", err)
		return false
	}
	if err := msg.Decode(v); err != nil {
		logging.Error(component, "undecodable event", "subject", msg.Subject, "error", err)
		return false
	}
	return true
}

func (a *Adapter) handleConnect(msg *bus.Message) error {
	var ev ClientEvent
	if !decode(msg, clientSchema, &ev) {
		return nil
	}
	a.registry.GetOrCreate(ev.AgentID)
	if a.provisioner == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), provisionTimeout)
	defer cancel()
	created, err := a.provisioner.CreateUserInventory(ctx, ev.AgentID, a.withDefaults)
	if err != nil {
		logging.Warn(component, "inventory provisioning failed", "agent", ev.AgentID, "retry", a.retryDelay, "error", err)
		return bus.RetryAfter(err, a.retryDelay)
	}
	if created {
		logging.Info(component, "provisioned inventory on connect", "agent", ev.AgentID)
	}
	return nil
}

func (a *Adapter) handleClose(msg *bus.Message) error {
	var ev ClientEvent
	if !decode(msg, clientSchema, &ev) {
		return nil
	}
	a.registry.Remove(ev.AgentID)
	return nil
}

func (a *Adapter) handleUploadRequest(msg *bus.Message) error {
	var ev UploadRequestEvent
	if !decode(msg, uploadRequestSchema, &ev) {
		return nil
	}
	err := a.registry.GetOrCreate(ev.AgentID).HandleUploadRequest(context.Background(), transactions.UploadRequest{
		TransactionID: ev.TransactionID,
		AssetID:       ev.AssetID,
		Type:          ev.Type,
		Data:          ev.Data,
		StoreLocal:    ev.StoreLocal,
		TempFile:      ev.TempFile,
	})
	if err != nil && !errors.Is(err, transactions.ErrInsufficientFunds) {
		logging.Error(component, "upload request failed", "agent", ev.AgentID, "error", err)
	}
	return nil
}

func (a *Adapter) handleChunk(msg *bus.Message) error {
	var ev ChunkEvent
	if !decode(msg, chunkSchema, &ev) {
		return nil
	}
	c, ok := a.registry.Get(ev.AgentID)
	if !ok {
		logging.Info(component, "chunk for unknown agent", "agent", ev.AgentID, "xfer", ev.XferID)
		return nil
	}
	data, final := a.frame(ev.PacketID, ev.Data)
	if err := c.HandleXfer(context.Background(), ev.XferID, ev.PacketID, data, final); err != nil {
		logging.Info(component, "chunk dropped", "agent", ev.AgentID, "xfer", ev.XferID, "error", err)
	}
	return nil
}

// frame strips the first packet's length prefix and reads the final flag
// out of the packet id.
func (a *Adapter) frame(packetID uint32, data []byte) ([]byte, bool) {
	if packetID&^a.finalMask == 0 && len(data) >= firstPacketHeader {
		data = data[firstPacketHeader:]
	}
	return data, packetID&a.finalMask != 0
}

func (a *Adapter) handleItemCreate(msg *bus.Message) error {
	var ev ItemCreateEvent
	if !decode(msg, itemCreateSchema, &ev) {
		return nil
	}
	a.registry.GetOrCreate(ev.AgentID).HandleItemCreation(context.Background(), transactions.CreateItemRequest{
		TransactionID: ev.TransactionID,
		FolderID:      ev.FolderID,
		CallbackID:    ev.CallbackID,
		Name:          ev.Name,
		Description:   ev.Description,
		AssetType:     ev.AssetType,
		InvType:       ev.InvType,
		WearableType:  ev.WearableType,
		NextOwnerMask: ev.NextOwnerMask,
	})
	return nil
}

func (a *Adapter) handleItemUpdate(msg *bus.Message) error {
	var ev ItemUpdateEvent
	if !decode(msg, itemUpdateSchema, &ev) {
		return nil
	}
	if ev.TransactionID == uuid.Nil {
		return nil
	}
	a.registry.GetOrCreate(ev.AgentID).HandleItemUpdate(context.Background(), ev.TransactionID, ev.Item)
	return nil
}
