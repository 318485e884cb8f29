package admin

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cordum/gridstore/core/directory"
	"github.com/cordum/gridstore/core/infra/bus"
	"github.com/cordum/gridstore/core/infra/locks"
	"github.com/cordum/gridstore/core/inventory"
	"github.com/google/uuid"
)

type fixture struct {
	bus    *bus.LocalBus
	engine *inventory.Engine
	locks  *locks.LocalStore
	owner  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		bus:   bus.NewLocalBus(),
		locks: locks.NewLocalStore(),
		owner: uuid.New(),
	}
	f.engine = inventory.NewEngine(inventory.NewMemoryRepository(), inventory.Options{
		Locks:   f.locks,
		LockTTL: time.Minute,
	})
	dir := directory.NewStatic(map[string]uuid.UUID{"Test User": f.owner})
	if err := NewService(f.bus, f.engine, dir, false).Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	return f
}

func (f *fixture) request(t *testing.T, subject string, req Request) Response {
	t.Helper()
	var resp Response
	if err := f.bus.Request(context.Background(), subject, req, &resp); err != nil {
		t.Fatalf("request %s: %v", subject, err)
	}
	return resp
}

func TestCreateInventoryByName(t *testing.T) {
	f := newFixture(t)
	resp := f.request(t, bus.SubjectCreateInventory, Request{First: "test", Last: "user"})
	if !resp.OK || !resp.Created || resp.Owner != f.owner {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if _, ok := f.engine.GetRootFolder(context.Background(), f.owner); !ok {
		t.Fatalf("expected root folder")
	}

	resp = f.request(t, bus.SubjectCreateInventory, Request{AgentID: f.owner})
	if !resp.OK || resp.Created {
		t.Fatalf("second create should be a no-op: %+v", resp)
	}
}

func TestFixInventoryReportsRepairs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.engine.CreateUserInventory(ctx, f.owner, false); err != nil {
		t.Fatalf("create: %v", err)
	}
	stray := inventory.Folder{
		ID:       uuid.New(),
		ParentID: uuid.New(),
		Owner:    f.owner,
		Name:     "stray",
		Type:     inventory.AssetClothing,
		Version:  1,
	}
	if err := f.engine.AddFolder(ctx, stray); err != nil {
		t.Fatalf("add stray: %v", err)
	}

	resp := f.request(t, bus.SubjectFixInventory, Request{First: "Test", Last: "User"})
	if !resp.OK || resp.Report == nil {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Report.Reparented != 1 {
		t.Fatalf("expected one reparent, got %+v", resp.Report)
	}

	resp = f.request(t, bus.SubjectFixInventory, Request{AgentID: f.owner})
	if !resp.OK || resp.Report.Changes() != 0 {
		t.Fatalf("expected idempotent second pass: %+v", resp.Report)
	}
}

func TestFixInventoryLockHeld(t *testing.T) {
	f := newFixture(t)
	ok, err := f.locks.Acquire(context.Background(), locks.OwnerResource(f.owner.String()), "console", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire: %v %v", ok, err)
	}
	resp := f.request(t, bus.SubjectFixInventory, Request{AgentID: f.owner})
	if resp.OK || !strings.Contains(resp.Error, locks.ErrHeld.Error()) {
		t.Fatalf("expected lock error, got %+v", resp)
	}
}

func TestUnknownAccount(t *testing.T) {
	f := newFixture(t)
	resp := f.request(t, bus.SubjectFixInventory, Request{First: "No", Last: "Body"})
	if resp.OK || !strings.Contains(resp.Error, ErrUnknownAccount.Error()) {
		t.Fatalf("expected unknown account, got %+v", resp)
	}
	resp = f.request(t, bus.SubjectCreateInventory, Request{First: "Only"})
	if resp.OK || resp.Error != errMissingName.Error() {
		t.Fatalf("expected missing name, got %+v", resp)
	}
}

func TestTargetWithoutDirectory(t *testing.T) {
	s := NewService(bus.NewLocalBus(), nil, nil, false)
	msg := &bus.Message{Subject: bus.SubjectFixInventory, Data: []byte(`{"first":"a","last":"b"}`)}
	if _, err := s.target(context.Background(), msg); !errors.Is(err, ErrUnknownAccount) {
		t.Fatalf("expected ErrUnknownAccount, got %v", err)
	}
}
