package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/cordum/gridstore/core/assets"
	"github.com/cordum/gridstore/core/infra/logging"
	"github.com/google/uuid"
)

type systemFolder struct {
	typ  AssetType
	name string
}

// systemFolders is the set every inventory carries under its root.
var systemFolders = []systemFolder{
	{AssetAnimation, "Animations"},
	{AssetBodypart, "Body Parts"},
	{AssetCallingCard, "Calling Cards"},
	{AssetClothing, "Clothing"},
	{AssetGesture, "Gestures"},
	{AssetLandmark, "Landmarks"},
	{AssetLostAndFoundFolder, "Lost And Found"},
	{AssetNotecard, "Notecards"},
	{AssetObject, "Objects"},
	{AssetSnapshotFolder, "Photo Album"},
	{AssetLSLText, "Scripts"},
	{AssetSound, "Sounds"},
	{AssetTexture, "Textures"},
	{AssetTrashFolder, "Trash"},
}

// DefaultWearable describes one starter item cloned from the library.
type DefaultWearable struct {
	Slot      string
	Name      string
	AssetType AssetType
	Wearable  WearableType
}

// DefaultWearables lists the starter outfit in clone order.
var DefaultWearables = []DefaultWearable{
	{"shape", "Default shape", AssetBodypart, WearableShape},
	{"skin", "Default skin", AssetBodypart, WearableSkin},
	{"hair", "Default hair", AssetBodypart, WearableHair},
	{"eyes", "Default eyes", AssetBodypart, WearableEyes},
	{"shirt", "Default shirt", AssetClothing, WearableShirt},
	{"pants", "Default pants", AssetClothing, WearablePants},
}

// CreateUserInventory makes sure the owner has a root and every system
// folder, creating only what is missing. With withDefaults set, every
// starter slot the owner has no wearable for is cloned from the library, so
// a repeated call fills gaps without duplicating. Reports whether the root
// was created.
func (e *Engine) CreateUserInventory(ctx context.Context, owner uuid.UUID, withDefaults bool) (bool, error) {
	created, err := e.CreateUserRootFolder(ctx, owner)
	if err != nil {
		return false, err
	}
	root, ok := e.GetRootFolder(ctx, owner)
	if !ok {
		return created, fmt.Errorf("owner %s: root folder missing after create", owner)
	}

	have := map[AssetType]bool{}
	for _, f := range e.GetSystemFolders(ctx, owner) {
		have[f.Type] = true
	}
	var errs []error
	for _, sf := range systemFolders {
		if have[sf.typ] {
			continue
		}
		if _, err := e.CreateFolder(ctx, owner, root.ID, sf.typ, sf.name); err != nil {
			errs = append(errs, fmt.Errorf("create %s folder: %w", sf.name, err))
		}
	}
	if withDefaults {
		if err := e.cloneDefaults(ctx, owner); err != nil {
			errs = append(errs, err)
		}
	}
	if created {
		logging.Info(component, "created user inventory", "owner", owner, "root", root.ID)
	}
	return created, errors.Join(errs...)
}

type slotKey struct {
	typ      AssetType
	wearable WearableType
}

func (e *Engine) cloneDefaults(ctx context.Context, owner uuid.UUID) error {
	if e.lib == nil || e.assets == nil {
		return nil
	}
	worn := map[slotKey]bool{}
	for _, it := range e.items(ctx, ItemQuery{Owner: owner}) {
		if it.InvType == InvWearable {
			worn[slotKey{it.AssetType, WearableType(it.Flags & 0xff)}] = true
		}
	}
	var errs []error
	for _, dw := range DefaultWearables {
		if worn[slotKey{dw.AssetType, dw.Wearable}] {
			continue
		}
		src, ok := e.lib.DefaultAsset(dw.Slot)
		if !ok {
			continue
		}
		a, err := e.assets.Get(ctx, src)
		if err != nil {
			if !errors.Is(err, assets.ErrNotFound) {
				logging.Error(component, "load default asset failed", "slot", dw.Slot, "asset", src, "error", err)
			}
			continue
		}
		folder, ok := e.GetFolderForType(ctx, owner, InvWearable, dw.AssetType)
		if !ok {
			continue
		}
		clone := a.Clone()
		clone.ID = uuid.New()
		if err := e.assets.Put(ctx, clone); err != nil {
			errs = append(errs, fmt.Errorf("clone %s asset: %w", dw.Slot, err))
			continue
		}
		it := Item{
			ID:          uuid.New(),
			Owner:       owner,
			FolderID:    folder.ID,
			AssetID:     clone.ID,
			Name:        dw.Name,
			Description: dw.Name + " description",
			AssetType:   dw.AssetType,
			InvType:     InvWearable,
			Flags:       uint32(dw.Wearable),
			CreatorID:   e.lib.Owner().String(),
			Permissions: Permissions{Base: PermAll, Current: PermAll, EveryOne: PermNone, Next: PermAll},
		}
		if err := e.AddItem(ctx, it); err != nil {
			errs = append(errs, fmt.Errorf("add %s item: %w", dw.Slot, err))
		}
	}
	return errors.Join(errs...)
}
