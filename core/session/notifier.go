package session

import (
	"context"

	"github.com/cordum/gridstore/core/infra/bus"
	"github.com/cordum/gridstore/core/infra/logging"
	"github.com/cordum/gridstore/core/inventory"
	"github.com/google/uuid"
)

// BusNotifier publishes upload notices on the agent's client subjects.
type BusNotifier struct {
	bus bus.Bus
}

func NewBusNotifier(b bus.Bus) *BusNotifier {
	return &BusNotifier{bus: b}
}

func (n *BusNotifier) publish(agent uuid.UUID, kind string, v any) {
	subject := bus.ClientSubject(agent.String(), kind)
	if err := n.bus.Publish(subject, v); err != nil {
		logging.Error(component, "publish client notice failed", "subject", subject, "error", err)
	}
}

func (n *BusNotifier) RequestXfer(_ context.Context, agent uuid.UUID, xferID uint64, assetID uuid.UUID, assetType inventory.AssetType) {
	n.publish(agent, KindXferRequest, XferRequestNotice{XferID: xferID, AssetID: assetID, Type: assetType})
}

func (n *BusNotifier) ConfirmXfer(_ context.Context, agent uuid.UUID, xferID uint64, packetID uint32) {
	n.publish(agent, KindXferConfirm, XferConfirmNotice{XferID: xferID, PacketID: packetID})
}

func (n *BusNotifier) UploadComplete(_ context.Context, agent, assetID uuid.UUID, assetType inventory.AssetType, success bool) {
	n.publish(agent, KindUploadComplete, UploadCompleteNotice{AssetID: assetID, Type: assetType, Success: success})
}

func (n *BusNotifier) ItemCreated(_ context.Context, agent uuid.UUID, item inventory.Item, callbackID uint32) {
	n.publish(agent, KindItemCreated, ItemCreatedNotice{CallbackID: callbackID, Item: item})
}

func (n *BusNotifier) Alert(_ context.Context, agent uuid.UUID, message string) {
	n.publish(agent, KindAlert, AlertNotice{Message: message})
}
