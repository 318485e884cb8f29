package inventory

import (
	"context"
	"testing"

	"github.com/cordum/gridstore/core/assets"
	"github.com/google/uuid"
)

func newProvisionEngine(t *testing.T) (*Engine, *MemoryRepository, *assets.MemoryStore, *stubLibrary) {
	t.Helper()
	store := assets.NewMemoryStore()
	lib := &stubLibrary{owner: uuid.New(), assets: map[string]uuid.UUID{}}
	ctx := context.Background()
	for _, slot := range []string{"shape", "skin", "shirt"} {
		id := uuid.New()
		lib.assets[slot] = id
		if err := store.Put(ctx, &assets.Asset{ID: id, Type: int8(AssetBodypart), Name: slot, Data: []byte(slot)}); err != nil {
			t.Fatalf("seed asset: %v", err)
		}
	}
	// hair points at an asset that was never stored
	lib.assets["hair"] = uuid.New()
	e, repo := newTestEngine(t, Options{Assets: store, Library: lib})
	return e, repo, store, lib
}

func TestCreateUserInventorySystemFolders(t *testing.T) {
	e, _, _, _ := newProvisionEngine(t)
	ctx := context.Background()
	owner := uuid.New()

	created, err := e.CreateUserInventory(ctx, owner, false)
	if err != nil || !created {
		t.Fatalf("expected inventory created, got %v %v", created, err)
	}
	root, ok := e.GetRootFolder(ctx, owner)
	if !ok || root.Name != RootName {
		t.Fatalf("unexpected root: %+v", root)
	}
	byType := map[AssetType]int{}
	for _, f := range e.GetSystemFolders(ctx, owner) {
		byType[f.Type]++
		if f.ID != root.ID && f.ParentID != root.ID {
			t.Fatalf("system folder %s not under root", f.Name)
		}
	}
	for _, sf := range systemFolders {
		if byType[sf.typ] != 1 {
			t.Fatalf("expected one %s folder, got %d", sf.name, byType[sf.typ])
		}
	}
	if got := len(e.GetInventorySkeleton(ctx, owner)); got != len(systemFolders)+1 {
		t.Fatalf("expected %d folders, got %d", len(systemFolders)+1, got)
	}

	created, err = e.CreateUserInventory(ctx, owner, true)
	if err != nil || created {
		t.Fatalf("second call should be a no-op, got %v %v", created, err)
	}
	if got := len(e.GetInventorySkeleton(ctx, owner)); got != len(systemFolders)+1 {
		t.Fatalf("second call added folders: %d", got)
	}
}

func TestCreateUserInventoryFillsMissingFolders(t *testing.T) {
	e, repo, _, _ := newProvisionEngine(t)
	ctx := context.Background()
	owner := uuid.New()
	root := mustFolder(t, repo, owner, uuid.Nil, AssetRootFolder, RootName)
	trash := mustFolder(t, repo, owner, root.ID, AssetTrashFolder, "Bin")

	created, err := e.CreateUserInventory(ctx, owner, true)
	if err != nil || created {
		t.Fatalf("expected existing root kept, got %v %v", created, err)
	}
	f, ok := e.GetFolderForType(ctx, owner, InvUnknown, AssetTrashFolder)
	if !ok || f.ID != trash.ID || f.Name != "Bin" {
		t.Fatalf("existing trash replaced: %+v", f)
	}
	bodyparts, _ := e.GetFolderForType(ctx, owner, InvWearable, AssetBodypart)
	if items := e.GetFolderItems(ctx, owner, bodyparts.ID); len(items) != 2 {
		t.Fatalf("expected shape and skin filled in, got %d items", len(items))
	}
}

func TestCreateUserInventoryRefillsMissingDefaults(t *testing.T) {
	e, _, store, _ := newProvisionEngine(t)
	ctx := context.Background()
	owner := uuid.New()
	if _, err := e.CreateUserInventory(ctx, owner, true); err != nil {
		t.Fatalf("create inventory: %v", err)
	}
	bodyparts, _ := e.GetFolderForType(ctx, owner, InvWearable, AssetBodypart)
	var skin Item
	for _, it := range e.GetFolderItems(ctx, owner, bodyparts.ID) {
		if WearableType(it.Flags) == WearableSkin {
			skin = it
		}
	}
	if skin.ID == uuid.Nil {
		t.Fatalf("skin not cloned")
	}
	if err := e.DeleteItems(ctx, owner, []uuid.UUID{skin.ID}); err != nil {
		t.Fatalf("delete skin: %v", err)
	}
	before := store.Len()

	if _, err := e.CreateUserInventory(ctx, owner, true); err != nil {
		t.Fatalf("second create: %v", err)
	}
	if got := store.Len() - before; got != 1 {
		t.Fatalf("expected only the skin re-cloned, got %d new assets", got)
	}
	counts := map[WearableType]int{}
	clothing, _ := e.GetFolderForType(ctx, owner, InvWearable, AssetClothing)
	for _, id := range []uuid.UUID{bodyparts.ID, clothing.ID} {
		for _, it := range e.GetFolderItems(ctx, owner, id) {
			counts[WearableType(it.Flags)]++
		}
	}
	for _, w := range []WearableType{WearableShape, WearableSkin, WearableShirt} {
		if counts[w] != 1 {
			t.Fatalf("expected one wearable %d, got %d", w, counts[w])
		}
	}
}

func TestCreateUserInventoryClonesDefaults(t *testing.T) {
	e, _, store, lib := newProvisionEngine(t)
	ctx := context.Background()
	before := store.Len()

	owners := []uuid.UUID{uuid.New(), uuid.New()}
	seen := map[uuid.UUID]bool{}
	for _, owner := range owners {
		if _, err := e.CreateUserInventory(ctx, owner, true); err != nil {
			t.Fatalf("create inventory: %v", err)
		}
		bodyparts, _ := e.GetFolderForType(ctx, owner, InvWearable, AssetBodypart)
		clothing, _ := e.GetFolderForType(ctx, owner, InvWearable, AssetClothing)
		items := append(e.GetFolderItems(ctx, owner, bodyparts.ID), e.GetFolderItems(ctx, owner, clothing.ID)...)
		if len(items) != 3 {
			t.Fatalf("expected shape, skin and shirt, got %d items", len(items))
		}
		for _, it := range items {
			if seen[it.ID] || seen[it.AssetID] {
				t.Fatalf("ids reused across owners")
			}
			seen[it.ID] = true
			seen[it.AssetID] = true
			if it.Owner != owner || it.CreatorID != lib.owner.String() || it.InvType != InvWearable {
				t.Fatalf("unexpected default item: %+v", it)
			}
			if it.Permissions.Base != PermAll || it.Permissions.EveryOne != PermNone {
				t.Fatalf("unexpected permissions: %+v", it.Permissions)
			}
			for _, src := range lib.assets {
				if it.AssetID == src {
					t.Fatalf("item references the library asset directly")
				}
			}
			a, err := store.Get(ctx, it.AssetID)
			if err != nil || len(a.Data) == 0 {
				t.Fatalf("cloned asset missing: %v", err)
			}
		}
	}
	if got := store.Len() - before; got != 6 {
		t.Fatalf("expected 6 cloned assets, got %d", got)
	}
}
