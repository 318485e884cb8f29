package inventory

import (
	"context"

	"github.com/google/uuid"
)

// RootName is the display name of an owner's canonical root folder.
const RootName = "My Inventory"

// AssetType tags both items and folders. On folders a negative value means a
// plain user folder; non-negative values name a system folder kind.
type AssetType int8

const (
	AssetUnknown             AssetType = -1
	AssetTexture             AssetType = 0
	AssetSound               AssetType = 1
	AssetCallingCard         AssetType = 2
	AssetLandmark            AssetType = 3
	AssetClothing            AssetType = 5
	AssetObject              AssetType = 6
	AssetNotecard            AssetType = 7
	AssetFolder              AssetType = 8
	AssetRootFolder          AssetType = 9
	AssetLSLText             AssetType = 10
	AssetLSLBytecode         AssetType = 11
	AssetTextureTGA          AssetType = 12
	AssetBodypart            AssetType = 13
	AssetTrashFolder         AssetType = 14
	AssetSnapshotFolder      AssetType = 15
	AssetLostAndFoundFolder  AssetType = 16
	AssetSoundWAV            AssetType = 17
	AssetImageTGA            AssetType = 18
	AssetImageJPEG           AssetType = 19
	AssetAnimation           AssetType = 20
	AssetGesture             AssetType = 21
	AssetSimstate            AssetType = 22
	AssetFavoriteFolder      AssetType = 23
	AssetLink                AssetType = 24
	AssetLinkFolder          AssetType = 25
	AssetCurrentOutfitFolder AssetType = 46
	AssetOutfitFolder        AssetType = 47
	AssetMyOutfitsFolder     AssetType = 48
	AssetMesh                AssetType = 49
)

var assetTypeNames = map[AssetType]string{
	AssetUnknown:             "unknown",
	AssetTexture:             "texture",
	AssetSound:               "sound",
	AssetCallingCard:         "callingcard",
	AssetLandmark:            "landmark",
	AssetClothing:            "clothing",
	AssetObject:              "object",
	AssetNotecard:            "notecard",
	AssetFolder:              "folder",
	AssetRootFolder:          "root",
	AssetLSLText:             "lsltext",
	AssetLSLBytecode:         "lslbyte",
	AssetTextureTGA:          "txtr_tga",
	AssetBodypart:            "bodypart",
	AssetTrashFolder:         "trash",
	AssetSnapshotFolder:      "snapshot",
	AssetLostAndFoundFolder:  "lstndfnd",
	AssetSoundWAV:            "snd_wav",
	AssetImageTGA:            "img_tga",
	AssetImageJPEG:           "jpeg",
	AssetAnimation:           "animatn",
	AssetGesture:             "gesture",
	AssetSimstate:            "simstate",
	AssetFavoriteFolder:      "favorite",
	AssetLink:                "link",
	AssetLinkFolder:          "link_f",
	AssetCurrentOutfitFolder: "current",
	AssetOutfitFolder:        "outfit",
	AssetMyOutfitsFolder:     "my_otfts",
	AssetMesh:                "mesh",
}

func (t AssetType) String() string {
	if name, ok := assetTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// IsSystem reports whether a folder of this type is a reserved system folder.
func (t AssetType) IsSystem() bool { return t >= 0 }

// Unique reports whether at most one folder of this type may exist per owner.
func (t AssetType) Unique() bool { return t.IsSystem() && t != AssetLinkFolder }

// IsLink reports whether an item of this type points at another item or folder.
func (t AssetType) IsLink() bool { return t == AssetLink || t == AssetLinkFolder }

// Billable reports whether uploading this type is gated on the uploader's funds.
func (t AssetType) Billable() bool {
	switch t {
	case AssetTexture, AssetSound, AssetTextureTGA, AssetAnimation:
		return true
	default:
		return false
	}
}

// InventoryType is the client-facing classification of an item.
type InventoryType int8

const (
	InvUnknown      InventoryType = -1
	InvTexture      InventoryType = 0
	InvSound        InventoryType = 1
	InvCallingCard  InventoryType = 2
	InvLandmark     InventoryType = 3
	InvObject       InventoryType = 6
	InvNotecard     InventoryType = 7
	InvFolder       InventoryType = 8
	InvRootCategory InventoryType = 9
	InvLSL          InventoryType = 10
	InvSnapshot     InventoryType = 15
	InvAttachment   InventoryType = 17
	InvWearable     InventoryType = 18
	InvAnimation    InventoryType = 19
	InvGesture      InventoryType = 20
	InvMesh         InventoryType = 22
)

// WearableType is stored in an item's flags when the item is a wearable.
type WearableType uint32

const (
	WearableShape WearableType = 0
	WearableSkin  WearableType = 1
	WearableHair  WearableType = 2
	WearableEyes  WearableType = 3
	WearableShirt WearableType = 4
	WearablePants WearableType = 5
)

// Permission masks.
const (
	PermAll  uint32 = 0x7FFFFFFF
	PermNone uint32 = 0
)

// gestureActiveFlag marks a gesture item as active in its flags.
const gestureActiveFlag uint32 = 1

// Folder is one node of an owner's inventory tree.
type Folder struct {
	ID       uuid.UUID `json:"id"`
	Owner    uuid.UUID `json:"owner"`
	ParentID uuid.UUID `json:"parent_id"`
	Name     string    `json:"name"`
	Type     AssetType `json:"type"`
	Version  uint32    `json:"version"`
}

// IsRoot reports whether f is shaped like a root folder.
func (f *Folder) IsRoot() bool {
	return f.ParentID == uuid.Nil && f.Type == AssetRootFolder
}

// Permissions is the four-tier permission set carried by every item.
type Permissions struct {
	Base     uint32 `json:"base"`
	Current  uint32 `json:"current"`
	EveryOne uint32 `json:"everyone"`
	Next     uint32 `json:"next"`
}

// Item is a leaf of the inventory tree referencing an asset, or another item
// when AssetType is a link.
type Item struct {
	ID          uuid.UUID     `json:"id"`
	Owner       uuid.UUID     `json:"owner"`
	FolderID    uuid.UUID     `json:"folder_id"`
	AssetID     uuid.UUID     `json:"asset_id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	AssetType   AssetType     `json:"asset_type"`
	InvType     InventoryType `json:"inv_type"`
	Flags       uint32        `json:"flags"`
	CreatorID   string        `json:"creator_id"`
	Permissions Permissions   `json:"permissions"`
	CreatedAt   int64         `json:"created_at,omitempty"`
}

// IsActiveGesture reports whether the item is a gesture flagged active.
func (i *Item) IsActiveGesture() bool {
	return i.AssetType == AssetGesture && i.Flags&gestureActiveFlag != 0
}

// Content is the direct contents of one folder.
type Content struct {
	Owner   uuid.UUID `json:"owner"`
	Folders []Folder  `json:"folders"`
	Items   []Item    `json:"items"`
}

// FolderQuery selects folders by attribute. Zero IDs are ignored; pointer
// fields are matched only when set, so a parentless lookup passes
// ParentID = &uuid.Nil.
type FolderQuery struct {
	ID       uuid.UUID
	Owner    uuid.UUID
	ParentID *uuid.UUID
	Type     *AssetType
}

// ItemQuery selects items by attribute, following FolderQuery conventions.
type ItemQuery struct {
	ID       uuid.UUID
	Owner    uuid.UUID
	FolderID *uuid.UUID
}

// Match reports whether f satisfies q.
func (q FolderQuery) Match(f *Folder) bool {
	if q.ID != uuid.Nil && f.ID != q.ID {
		return false
	}
	if q.Owner != uuid.Nil && f.Owner != q.Owner {
		return false
	}
	if q.ParentID != nil && f.ParentID != *q.ParentID {
		return false
	}
	if q.Type != nil && f.Type != *q.Type {
		return false
	}
	return true
}

// Match reports whether it satisfies q.
func (q ItemQuery) Match(it *Item) bool {
	if q.ID != uuid.Nil && it.ID != q.ID {
		return false
	}
	if q.Owner != uuid.Nil && it.Owner != q.Owner {
		return false
	}
	if q.FolderID != nil && it.FolderID != *q.FolderID {
		return false
	}
	return true
}

// Repository persists folders and items. Every call may fail and is safe to
// retry; the engine never assumes two calls commit together.
type Repository interface {
	GetFolders(ctx context.Context, q FolderQuery) ([]Folder, error)
	GetItems(ctx context.Context, q ItemQuery) ([]Item, error)
	StoreFolder(ctx context.Context, f Folder) error
	StoreItem(ctx context.Context, it Item) error
	DeleteFolder(ctx context.Context, id uuid.UUID) error
	DeleteItem(ctx context.Context, id uuid.UUID) error
	DeleteFolderItems(ctx context.Context, folderID uuid.UUID) error
	IncrementFolder(ctx context.Context, folderID uuid.UUID) error
	IncrementFolderByItem(ctx context.Context, itemID uuid.UUID) error
	MoveItem(ctx context.Context, itemID, folderID uuid.UUID) error
	GetActiveGestures(ctx context.Context, owner uuid.UUID) ([]Item, error)
}

// Directory resolves legacy "First Last" creator names to account ids.
type Directory interface {
	ResolveName(ctx context.Context, first, last string) (uuid.UUID, bool, error)
}

// Library exposes the shared default wearables cloned into new inventories.
type Library interface {
	Owner() uuid.UUID
	DefaultAsset(slot string) (uuid.UUID, bool)
	IsDefaultItem(id uuid.UUID) bool
}

// ParentFilter is shorthand for a FolderQuery/ItemQuery parent pointer.
func ParentFilter(id uuid.UUID) *uuid.UUID { return &id }

// TypeFilter is shorthand for a FolderQuery type pointer.
func TypeFilter(t AssetType) *AssetType { return &t }
