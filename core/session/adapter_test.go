package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cordum/gridstore/core/assets"
	"github.com/cordum/gridstore/core/infra/bus"
	"github.com/cordum/gridstore/core/inventory"
	"github.com/cordum/gridstore/core/transactions"
	"github.com/google/uuid"
)

type harness struct {
	bus      *bus.LocalBus
	registry *transactions.Registry
	engine   *inventory.Engine
	store    *assets.MemoryStore
	notices  map[string][]json.RawMessage
	agent    uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		bus:     bus.NewLocalBus(),
		engine:  inventory.NewEngine(inventory.NewMemoryRepository(), inventory.Options{}),
		store:   assets.NewMemoryStore(),
		notices: map[string][]json.RawMessage{},
		agent:   uuid.New(),
	}
	if _, err := h.engine.CreateUserInventory(context.Background(), h.agent, false); err != nil {
		t.Fatalf("create inventory: %v", err)
	}
	h.registry = transactions.NewRegistry(transactions.Deps{
		Assets:    h.store,
		Inventory: h.engine,
		Notifier:  NewBusNotifier(h.bus),
	})
	if err := NewAdapter(h.bus, h.registry, 0).Start(); err != nil {
		t.Fatalf("start adapter: %v", err)
	}
	prefix := bus.ClientSubject(h.agent.String(), "")
	if err := h.bus.Subscribe("gridstore.client.>", "", func(msg *bus.Message) error {
		kind := msg.Subject[len(prefix):]
		h.notices[kind] = append(h.notices[kind], append(json.RawMessage(nil), msg.Data...))
		return nil
	}); err != nil {
		t.Fatalf("subscribe client notices: %v", err)
	}
	return h
}

func (h *harness) publish(t *testing.T, subject string, v any) {
	t.Helper()
	if err := h.bus.Publish(subject, v); err != nil {
		t.Fatalf("publish %s: %v", subject, err)
	}
}

func TestConnectAndClose(t *testing.T) {
	h := newHarness(t)
	h.publish(t, bus.SubjectClientConnect, ClientEvent{AgentID: h.agent})
	if h.registry.Len() != 1 {
		t.Fatalf("expected collection after connect")
	}
	h.publish(t, bus.SubjectClientClose, ClientEvent{AgentID: h.agent})
	if h.registry.Len() != 0 {
		t.Fatalf("expected collection removed on close")
	}
}

type flakyProvisioner struct {
	failures int
	calls    int
	defaults []bool
}

func (p *flakyProvisioner) CreateUserInventory(_ context.Context, _ uuid.UUID, withDefaults bool) (bool, error) {
	p.calls++
	p.defaults = append(p.defaults, withDefaults)
	if p.calls <= p.failures {
		return false, errors.New("inventory store unavailable")
	}
	return true, nil
}

func TestConnectProvisioningFailureAsksForRedelivery(t *testing.T) {
	b := bus.NewLocalBus()
	registry := transactions.NewRegistry(transactions.Deps{Assets: assets.NewMemoryStore(), Notifier: NewBusNotifier(b)})
	prov := &flakyProvisioner{failures: 1}
	if err := NewAdapter(b, registry, 0).WithProvisioner(prov, true, 5*time.Second).Start(); err != nil {
		t.Fatalf("start adapter: %v", err)
	}
	agent := uuid.New()

	err := b.Publish(bus.SubjectClientConnect, ClientEvent{AgentID: agent})
	delay, ok := bus.RetryDelay(err)
	if !ok || delay != 5*time.Second {
		t.Fatalf("expected redelivery after 5s, got %v (%s, %v)", err, delay, ok)
	}
	if registry.Len() != 1 {
		t.Fatalf("collection should open even when provisioning fails")
	}
	if err := b.Publish(bus.SubjectClientConnect, ClientEvent{AgentID: agent}); err != nil {
		t.Fatalf("redelivered connect: %v", err)
	}
	if prov.calls != 2 || !prov.defaults[1] {
		t.Fatalf("unexpected provisioner calls: %+v", prov)
	}
}

func TestConnectProvisionsInventory(t *testing.T) {
	b := bus.NewLocalBus()
	engine := inventory.NewEngine(inventory.NewMemoryRepository(), inventory.Options{})
	registry := transactions.NewRegistry(transactions.Deps{Assets: assets.NewMemoryStore(), Inventory: engine, Notifier: NewBusNotifier(b)})
	if err := NewAdapter(b, registry, 0).WithProvisioner(engine, false, time.Second).Start(); err != nil {
		t.Fatalf("start adapter: %v", err)
	}
	agent := uuid.New()
	for i := 0; i < 2; i++ {
		if err := b.Publish(bus.SubjectClientConnect, ClientEvent{AgentID: agent}); err != nil {
			t.Fatalf("connect %d: %v", i, err)
		}
	}
	if roots := engine.GetRootFolders(context.Background(), agent); len(roots) != 1 {
		t.Fatalf("expected one root after repeated connects, got %d", len(roots))
	}
}

func TestChunkedUploadOverBus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tx, asset := uuid.New(), uuid.New()
	h.publish(t, bus.SubjectClientConnect, ClientEvent{AgentID: h.agent})
	h.publish(t, bus.SubjectItemCreate, ItemCreateEvent{
		AgentID:       h.agent,
		TransactionID: tx,
		CallbackID:    42,
		Name:          "script",
		AssetType:     inventory.AssetLSLText,
		InvType:       inventory.InvLSL,
		NextOwnerMask: inventory.PermAll,
	})
	h.publish(t, bus.SubjectUploadRequest, UploadRequestEvent{AgentID: h.agent, TransactionID: tx, AssetID: asset, Type: inventory.AssetLSLText})

	if len(h.notices[KindXferRequest]) != 1 {
		t.Fatalf("expected an xfer request, got %v", h.notices)
	}
	var xfer XferRequestNotice
	if err := json.Unmarshal(h.notices[KindXferRequest][0], &xfer); err != nil {
		t.Fatalf("decode xfer request: %v", err)
	}
	if xfer.AssetID != asset || xfer.XferID == 0 {
		t.Fatalf("unexpected xfer request: %+v", xfer)
	}

	h.publish(t, bus.SubjectUploadChunk, ChunkEvent{AgentID: h.agent, XferID: xfer.XferID, PacketID: 0, Data: []byte("\x06\x00\x00\x00abc")})
	h.publish(t, bus.SubjectUploadChunk, ChunkEvent{AgentID: h.agent, XferID: xfer.XferID, PacketID: 1 | 0x80000000, Data: []byte("def")})

	if len(h.notices[KindXferConfirm]) != 2 || len(h.notices[KindUploadComplete]) != 1 {
		t.Fatalf("unexpected notices: %v", h.notices)
	}
	stored, err := h.store.Get(ctx, asset)
	if err != nil || string(stored.Data) != "abcdef" {
		t.Fatalf("unexpected stored asset: %+v err=%v", stored, err)
	}
	if len(h.notices[KindItemCreated]) != 1 {
		t.Fatalf("expected item created notice")
	}
	var created ItemCreatedNotice
	if err := json.Unmarshal(h.notices[KindItemCreated][0], &created); err != nil {
		t.Fatalf("decode item created: %v", err)
	}
	if created.CallbackID != 42 || created.Item.AssetID != asset {
		t.Fatalf("unexpected item created notice: %+v", created)
	}
	scripts, _ := h.engine.GetFolderForType(ctx, h.agent, inventory.InvLSL, inventory.AssetLSLText)
	if items := h.engine.GetFolderItems(ctx, h.agent, scripts.ID); len(items) != 1 {
		t.Fatalf("expected the script in the scripts folder, got %d", len(items))
	}
}

func TestInvalidEventsAreDropped(t *testing.T) {
	h := newHarness(t)
	if err := h.bus.Publish(bus.SubjectUploadRequest, map[string]any{"agent_id": "nope", "transaction_id": uuid.NewString(), "type": 0}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := h.bus.Publish(bus.SubjectUploadChunk, map[string]any{"agent_id": h.agent.String()}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if h.registry.Len() != 0 {
		t.Fatalf("invalid events reached the registry")
	}
}

func TestChunkForUnknownAgent(t *testing.T) {
	h := newHarness(t)
	h.publish(t, bus.SubjectUploadChunk, ChunkEvent{AgentID: uuid.New(), XferID: 9, PacketID: 0x80000000})
	if h.registry.Len() != 0 {
		t.Fatalf("chunk opened a collection")
	}
}

func TestFrame(t *testing.T) {
	a := NewAdapter(bus.NewLocalBus(), nil, 0)
	cases := map[string]struct {
		packet uint32
		data   string
		want   string
		final  bool
	}{
		"first":          {0, "\x03\x00\x00\x00abc", "abc", false},
		"first and last": {0x80000000, "\x03\x00\x00\x00abc", "abc", true},
		"middle":         {2, "xyz", "xyz", false},
		"last":           {0x80000003, "end", "end", true},
		"short first":    {0, "ab", "ab", false},
	}
	for name, tc := range cases {
		data, final := a.frame(tc.packet, []byte(tc.data))
		if string(data) != tc.want || final != tc.final {
			t.Fatalf("%s: got %q final=%v", name, data, final)
		}
	}
}
