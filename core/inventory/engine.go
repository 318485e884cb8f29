package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cordum/gridstore/core/assets"
	"github.com/cordum/gridstore/core/infra/locks"
	"github.com/cordum/gridstore/core/infra/logging"
	"github.com/cordum/gridstore/core/infra/metrics"
	"github.com/google/uuid"
)

const (
	component = "inventory"

	// legacyCreatorPrefix is the fixed-width scheme prefix in front of a
	// "First Last" creator string written by old clients.
	legacyCreatorPrefix = 7
)

// Options wires the engine's collaborators. Nil collaborators disable the
// feature that needs them.
type Options struct {
	// DisableDelete restricts permanent deletion to link-folder subtrees.
	DisableDelete bool
	Directory     Directory
	Assets        assets.Store
	Library       Library
	Metrics       metrics.Metrics
	Locks         locks.Store
	LockTTL       time.Duration
}

// Engine owns the structural invariants of every owner's folder/item tree.
type Engine struct {
	repo        Repository
	allowDelete bool
	dir         Directory
	assets      assets.Store
	lib         Library
	metrics     metrics.Metrics
	locks       locks.Store
	lockTTL     time.Duration
}

func NewEngine(repo Repository, opts Options) *Engine {
	m := opts.Metrics
	if m == nil {
		m = metrics.Noop{}
	}
	lockStore := opts.Locks
	if lockStore == nil {
		lockStore = locks.NewLocalStore()
	}
	return &Engine{
		repo:        repo,
		allowDelete: !opts.DisableDelete,
		dir:         opts.Directory,
		assets:      opts.Assets,
		lib:         opts.Library,
		metrics:     m,
		locks:       lockStore,
		lockTTL:     opts.LockTTL,
	}
}

// AllowDelete reports the account-wide deletion policy.
func (e *Engine) AllowDelete() bool { return e.allowDelete }

// --- reads ---

func (e *Engine) folders(ctx context.Context, q FolderQuery) []Folder {
	out, err := e.repo.GetFolders(ctx, q)
	if err != nil {
		logging.Error(component, "get folders failed", "error", err)
		return nil
	}
	sortFolders(out)
	return out
}

func (e *Engine) items(ctx context.Context, q ItemQuery) []Item {
	out, err := e.repo.GetItems(ctx, q)
	if err != nil {
		logging.Error(component, "get items failed", "error", err)
		return nil
	}
	return out
}

// GetFolder looks a folder up by id.
func (e *Engine) GetFolder(ctx context.Context, id uuid.UUID) (*Folder, bool) {
	if id == uuid.Nil {
		return nil, false
	}
	found := e.folders(ctx, FolderQuery{ID: id})
	if len(found) == 0 {
		return nil, false
	}
	return &found[0], true
}

// GetInventorySkeleton returns every folder the owner has, ordered by id.
func (e *Engine) GetInventorySkeleton(ctx context.Context, owner uuid.UUID) []Folder {
	return e.folders(ctx, FolderQuery{Owner: owner})
}

// GetRootFolders returns the owner's parentless folders.
func (e *Engine) GetRootFolders(ctx context.Context, owner uuid.UUID) []Folder {
	return e.folders(ctx, FolderQuery{Owner: owner, ParentID: ParentFilter(uuid.Nil)})
}

// GetRootFolder picks the owner's root among its parentless folders:
// the canonically named one (root-typed first), then any root-typed one,
// then the lowest id. More than one candidate is logged for repair.
func (e *Engine) GetRootFolder(ctx context.Context, owner uuid.UUID) (*Folder, bool) {
	roots := e.GetRootFolders(ctx, owner)
	if len(roots) == 0 {
		return nil, false
	}
	if len(roots) > 1 {
		logging.Warn(component, "multiple parentless folders, run fix inventory", "owner", owner, "count", len(roots))
	}
	pick := func(match func(*Folder) bool) (*Folder, bool) {
		for i := range roots {
			if match(&roots[i]) {
				return &roots[i], true
			}
		}
		return nil, false
	}
	if f, ok := pick(func(f *Folder) bool { return f.Name == RootName && f.Type == AssetRootFolder }); ok {
		return f, true
	}
	if f, ok := pick(func(f *Folder) bool { return f.Name == RootName }); ok {
		return f, true
	}
	if f, ok := pick(func(f *Folder) bool { return f.Type == AssetRootFolder }); ok {
		return f, true
	}
	return &roots[0], true
}

// GetSystemFolders returns the owner's folders carrying a system type tag.
func (e *Engine) GetSystemFolders(ctx context.Context, owner uuid.UUID) []Folder {
	var out []Folder
	for _, f := range e.GetInventorySkeleton(ctx, owner) {
		if f.Type.IsSystem() {
			out = append(out, f)
		}
	}
	return out
}

// GetFolderForType returns the owner's folder for an asset type. Snapshots
// carry the texture asset type but live in the snapshot folder.
func (e *Engine) GetFolderForType(ctx context.Context, owner uuid.UUID, invType InventoryType, assetType AssetType) (*Folder, bool) {
	if invType == InvSnapshot {
		assetType = AssetSnapshotFolder
	}
	found := e.folders(ctx, FolderQuery{Owner: owner, Type: TypeFilter(assetType)})
	if len(found) == 0 {
		return nil, false
	}
	return &found[0], true
}

// GetFolderContent lists the direct subfolders and items of a folder. The
// owner is taken from the folder itself when it exists.
func (e *Engine) GetFolderContent(ctx context.Context, owner, folderID uuid.UUID) Content {
	if f, ok := e.GetFolder(ctx, folderID); ok {
		owner = f.Owner
	}
	return Content{
		Owner:   owner,
		Folders: e.folders(ctx, FolderQuery{ParentID: ParentFilter(folderID)}),
		Items:   e.items(ctx, ItemQuery{FolderID: ParentFilter(folderID)}),
	}
}

// GetFolderItems lists the items directly inside a folder.
func (e *Engine) GetFolderItems(ctx context.Context, owner, folderID uuid.UUID) []Item {
	if f, ok := e.GetFolder(ctx, folderID); ok {
		owner = f.Owner
	}
	return e.items(ctx, ItemQuery{Owner: owner, FolderID: ParentFilter(folderID)})
}

// GetFolderFolders lists the direct subfolders of a folder.
func (e *Engine) GetFolderFolders(ctx context.Context, owner, folderID uuid.UUID) []Folder {
	return e.folders(ctx, FolderQuery{ParentID: ParentFilter(folderID)})
}

func (e *Engine) GetActiveGestures(ctx context.Context, owner uuid.UUID) []Item {
	out, err := e.repo.GetActiveGestures(ctx, owner)
	if err != nil {
		logging.Error(component, "get active gestures failed", "owner", owner, "error", err)
		return nil
	}
	return out
}

func (e *Engine) getItem(ctx context.Context, id uuid.UUID) (*Item, bool) {
	if id == uuid.Nil {
		return nil, false
	}
	found := e.items(ctx, ItemQuery{ID: id})
	if len(found) == 0 {
		return nil, false
	}
	return &found[0], true
}

// GetItem looks an item up by id, healing a legacy creator id on the way.
func (e *Engine) GetItem(ctx context.Context, id uuid.UUID) (*Item, bool) {
	it, ok := e.getItem(ctx, id)
	if !ok {
		return nil, false
	}
	e.HealCreator(ctx, it)
	return it, true
}

// HealCreator rewrites a creator id that is not a uuid. A legacy
// "<scheme>First Last" value is resolved against the directory; anything
// unresolvable becomes the nil uuid. Reports whether the item changed.
func (e *Engine) HealCreator(ctx context.Context, it *Item) bool {
	if _, err := uuid.Parse(it.CreatorID); err == nil {
		return false
	}
	legacy := it.CreatorID
	resolved := uuid.Nil
	if id, ok := e.resolveLegacyCreator(ctx, legacy); ok {
		resolved = id
	}
	it.CreatorID = resolved.String()
	if err := e.repo.StoreItem(ctx, *it); err != nil {
		logging.Error(component, "store healed creator failed", "item", it.ID, "error", err)
	}
	logging.Warn(component, "healed creator id", "item", it.ID, "legacy", legacy, "creator", it.CreatorID)
	return true
}

func (e *Engine) resolveLegacyCreator(ctx context.Context, raw string) (uuid.UUID, bool) {
	if e.dir == nil || len(raw) <= legacyCreatorPrefix {
		return uuid.Nil, false
	}
	parts := strings.Split(raw[legacyCreatorPrefix:], " ")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return uuid.Nil, false
	}
	id, ok, err := e.dir.ResolveName(ctx, parts[0], parts[1])
	if err != nil {
		logging.Error(component, "resolve legacy creator failed", "name", raw, "error", err)
		return uuid.Nil, false
	}
	return id, ok
}

// --- folder mutations ---

// CreateFolder allocates a new folder at version 1. Duplicate system types
// are not checked here.
func (e *Engine) CreateFolder(ctx context.Context, owner, parent uuid.UUID, typ AssetType, name string) (*Folder, error) {
	f := Folder{
		ID:       uuid.New(),
		Owner:    owner,
		ParentID: parent,
		Name:     name,
		Type:     typ,
		Version:  1,
	}
	if err := e.repo.StoreFolder(ctx, f); err != nil {
		return nil, fmt.Errorf("store folder: %w", err)
	}
	return &f, nil
}

// AddFolder stores a folder whose id is not yet taken.
func (e *Engine) AddFolder(ctx context.Context, f Folder) error {
	if _, ok := e.GetFolder(ctx, f.ID); ok {
		return ErrExists
	}
	if f.Version == 0 {
		f.Version = 1
	}
	return e.repo.StoreFolder(ctx, f)
}

// UpdateFolder writes folder metadata. Unknown ids are added. When either
// side is a system folder only the version moves; otherwise an older
// incoming version is rejected as stale. A nil parent keeps the stored one
// and a parent below the folder itself is refused with ErrCycle.
func (e *Engine) UpdateFolder(ctx context.Context, f Folder) error {
	if !e.allowDelete && f.Type == AssetLinkFolder {
		e.metrics.IncGuardRejected("update_folder", "policy")
		return ErrPolicy
	}
	existing, ok := e.GetFolder(ctx, f.ID)
	if !ok {
		return e.AddFolder(ctx, f)
	}
	if existing.Type.IsSystem() || f.Type.IsSystem() {
		existing.Version++
		return e.repo.StoreFolder(ctx, *existing)
	}
	if f.Version < existing.Version {
		e.metrics.IncGuardRejected("update_folder", "stale")
		return ErrStaleWrite
	}
	if f.ParentID == uuid.Nil {
		f.ParentID = existing.ParentID
	}
	if f.ParentID != existing.ParentID && e.isAncestorOrSelf(ctx, f.ID, f.ParentID) {
		e.metrics.IncGuardRejected("update_folder", "cycle")
		return ErrCycle
	}
	f.Owner = existing.Owner
	f.Version++
	return e.repo.StoreFolder(ctx, f)
}

// MoveFolder reparents an existing folder.
func (e *Engine) MoveFolder(ctx context.Context, f Folder) error {
	existing, ok := e.GetFolder(ctx, f.ID)
	if !ok {
		return ErrNotFound
	}
	if e.isAncestorOrSelf(ctx, existing.ID, f.ParentID) {
		return ErrCycle
	}
	existing.ParentID = f.ParentID
	return e.repo.StoreFolder(ctx, *existing)
}

// isAncestorOrSelf reports whether id appears on the parent chain starting at from.
func (e *Engine) isAncestorOrSelf(ctx context.Context, id, from uuid.UUID) bool {
	seen := map[uuid.UUID]bool{}
	for cur := from; cur != uuid.Nil && !seen[cur]; {
		if cur == id {
			return true
		}
		seen[cur] = true
		f, ok := e.GetFolder(ctx, cur)
		if !ok {
			return false
		}
		cur = f.ParentID
	}
	return false
}

// DeleteFolders permanently removes the owner's folders that sit in a
// deletable subtree and skips the rest. The trash folder itself is emptied,
// never removed.
func (e *Engine) DeleteFolders(ctx context.Context, owner uuid.UUID, ids []uuid.UUID) error {
	var errs []error
	for _, id := range ids {
		f, ok := e.GetFolder(ctx, id)
		if !ok || f.Owner != owner {
			logging.Info(component, "skipping folder delete for foreign or missing folder", "owner", owner, "folder", id)
			continue
		}
		if !e.deletable(ctx, id) {
			e.metrics.IncGuardRejected("delete_folder", e.guardReason())
			logging.Info(component, "skipping folder delete outside deletable subtree", "owner", owner, "folder", id)
			continue
		}
		keepSelf := f.Type == AssetTrashFolder
		if err := e.purgeTree(ctx, id, !keepSelf); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PurgeFolder empties a folder in a deletable subtree, removing its
// subfolders and items but not the folder record.
func (e *Engine) PurgeFolder(ctx context.Context, f Folder) error {
	if !e.deletable(ctx, f.ID) {
		e.metrics.IncGuardRejected("purge_folder", e.guardReason())
		return ErrNotUnderTrash
	}
	return e.purgeTree(ctx, f.ID, false)
}

// ForcePurgeFolder removes a folder, its subtree and their items without any
// guard. Only the repair pass calls it.
func (e *Engine) ForcePurgeFolder(ctx context.Context, f Folder) error {
	return e.purgeTree(ctx, f.ID, true)
}

func (e *Engine) guardReason() string {
	if e.allowDelete {
		return "not_under_trash"
	}
	return "not_under_link_folder"
}

func (e *Engine) deletable(ctx context.Context, id uuid.UUID) bool {
	if e.allowDelete {
		return e.underType(ctx, id, AssetTrashFolder)
	}
	return e.underType(ctx, id, AssetLinkFolder)
}

// underType reports whether the folder or one of its ancestors has typ. The
// walk stops at the root, at a missing parent and on a cycle.
func (e *Engine) underType(ctx context.Context, id uuid.UUID, typ AssetType) bool {
	f, ok := e.GetFolder(ctx, id)
	if !ok {
		return false
	}
	seen := map[uuid.UUID]bool{f.ID: true}
	for {
		if f.Type == typ {
			return true
		}
		if f.Type == AssetRootFolder || f.ParentID == uuid.Nil || seen[f.ParentID] {
			return false
		}
		seen[f.ParentID] = true
		if f, ok = e.GetFolder(ctx, f.ParentID); !ok {
			return false
		}
	}
}

// purgeTree deletes the items of every folder under rootID and the folder
// records below it, plus rootID's own record when includeSelf is set. The
// walk uses an explicit stack and tolerates cycles.
func (e *Engine) purgeTree(ctx context.Context, rootID uuid.UUID, includeSelf bool) error {
	stack := []uuid.UUID{rootID}
	seen := map[uuid.UUID]bool{}
	var order []uuid.UUID
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		order = append(order, id)
		for _, child := range e.folders(ctx, FolderQuery{ParentID: ParentFilter(id)}) {
			stack = append(stack, child.ID)
		}
	}
	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		if err := e.repo.DeleteFolderItems(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("delete items of %s: %w", id, err))
		}
		if id == rootID && !includeSelf {
			continue
		}
		if err := e.repo.DeleteFolder(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("delete folder %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// --- item mutations ---

// AddItem stores a new item and bumps its folder's version. The item's owner
// is taken from the containing folder.
func (e *Engine) AddItem(ctx context.Context, it Item) error {
	return e.storeItem(ctx, it)
}

// UpdateItem rewrites an item and bumps its folder's version. Links can only
// be created, not rewritten, while deletion is disabled.
func (e *Engine) UpdateItem(ctx context.Context, it Item) error {
	if !e.allowDelete && it.AssetType.IsLink() {
		e.metrics.IncGuardRejected("update_item", "policy")
		return ErrPolicy
	}
	return e.storeItem(ctx, it)
}

func (e *Engine) storeItem(ctx context.Context, it Item) error {
	folder, ok := e.GetFolder(ctx, it.FolderID)
	if !ok {
		return fmt.Errorf("folder %s: %w", it.FolderID, ErrNotFound)
	}
	it.Owner = folder.Owner
	if it.CreatedAt == 0 {
		it.CreatedAt = time.Now().Unix()
	}
	if err := e.repo.IncrementFolder(ctx, it.FolderID); err != nil {
		return fmt.Errorf("increment folder: %w", err)
	}
	return e.repo.StoreItem(ctx, it)
}

// MoveItems moves each item into its FolderID, bumping both the old and the
// new folder. Items or destinations that do not exist, or that belong to
// different owners, are skipped.
func (e *Engine) MoveItems(ctx context.Context, owner uuid.UUID, items []Item) error {
	var errs []error
	for _, it := range items {
		dest, ok := e.GetFolder(ctx, it.FolderID)
		if !ok {
			continue
		}
		existing, ok := e.getItem(ctx, it.ID)
		if !ok || existing.Owner != dest.Owner {
			logging.Info(component, "skipping item move", "owner", owner, "item", it.ID, "folder", it.FolderID)
			continue
		}
		if err := e.repo.IncrementFolder(ctx, dest.ID); err != nil {
			errs = append(errs, err)
		}
		if err := e.repo.IncrementFolderByItem(ctx, it.ID); err != nil {
			errs = append(errs, err)
		}
		if err := e.repo.MoveItem(ctx, it.ID, dest.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeleteItems removes the owner's items, bumping each containing folder
// first. Items of other owners are skipped. While deletion is disabled only
// items under a link folder are removed.
func (e *Engine) DeleteItems(ctx context.Context, owner uuid.UUID, ids []uuid.UUID) error {
	var errs []error
	for _, id := range ids {
		it, ok := e.getItem(ctx, id)
		if !ok {
			continue
		}
		if it.Owner != owner {
			e.metrics.IncGuardRejected("delete_item", "foreign_owner")
			logging.Info(component, "skipping item delete for another owner", "owner", owner, "item", id)
			continue
		}
		if e.allowDelete {
			if err := e.repo.IncrementFolder(ctx, it.FolderID); err != nil {
				errs = append(errs, err)
			}
			if err := e.repo.DeleteItem(ctx, id); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if err := e.repo.IncrementFolder(ctx, it.FolderID); err != nil {
			errs = append(errs, err)
		}
		if !e.underType(ctx, it.FolderID, AssetLinkFolder) {
			e.metrics.IncGuardRejected("delete_item", "not_under_link_folder")
			continue
		}
		if err := e.repo.DeleteItem(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// --- root ---

// CreateUserRootFolder creates the owner's root when none exists. If the
// owner already has folders, the root is rebuilt under the id they point at.
func (e *Engine) CreateUserRootFolder(ctx context.Context, owner uuid.UUID) (bool, error) {
	if _, ok := e.GetRootFolder(ctx, owner); ok {
		return false, nil
	}
	skel := e.GetInventorySkeleton(ctx, owner)
	if len(skel) == 0 {
		if _, err := e.CreateFolder(ctx, owner, uuid.Nil, AssetRootFolder, RootName); err != nil {
			return false, err
		}
		return true, nil
	}
	if _, err := e.reconstructRoot(ctx, owner, skel); err != nil {
		return false, err
	}
	return true, nil
}

// reconstructRoot stores a root whose id is the parent most commonly
// referenced by folders whose parent is missing, so they reattach in place.
func (e *Engine) reconstructRoot(ctx context.Context, owner uuid.UUID, skel []Folder) (*Folder, error) {
	root := Folder{
		ID:      impliedRootID(skel),
		Owner:   owner,
		Name:    RootName,
		Type:    AssetRootFolder,
		Version: 1,
	}
	if err := e.repo.StoreFolder(ctx, root); err != nil {
		return nil, fmt.Errorf("store reconstructed root: %w", err)
	}
	logging.Warn(component, "reconstructed root folder", "owner", owner, "folder", root.ID)
	return &root, nil
}

func impliedRootID(skel []Folder) uuid.UUID {
	known := make(map[uuid.UUID]bool, len(skel))
	for _, f := range skel {
		known[f.ID] = true
	}
	counts := map[uuid.UUID]int{}
	for _, f := range skel {
		if f.ParentID != uuid.Nil && !known[f.ParentID] {
			counts[f.ParentID]++
		}
	}
	if len(counts) == 0 {
		return uuid.New()
	}
	candidates := make([]uuid.UUID, 0, len(counts))
	for id := range counts {
		candidates = append(candidates, id)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if counts[candidates[i]] != counts[candidates[j]] {
			return counts[candidates[i]] > counts[candidates[j]]
		}
		return lessID(candidates[i], candidates[j])
	})
	return candidates[0]
}
