package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/cordum/gridstore/core/infra/locks"
	"github.com/cordum/gridstore/core/infra/logging"
	"github.com/google/uuid"
)

const repairComponent = "repair"

// RepairReport counts the corrective writes one FixInventory run made.
type RepairReport struct {
	Owner             uuid.UUID `json:"owner"`
	RootCreated       bool      `json:"root_created"`
	RootReconstructed bool      `json:"root_reconstructed"`
	Reparented        int       `json:"reparented"`
	BrokenLinks       int       `json:"broken_links"`
	MeshPurged        int       `json:"mesh_purged"`
	Merged            int       `json:"merged"`
	DuplicatesPurged  int       `json:"duplicates_purged"`
	FoldersCreated    int       `json:"folders_created"`
}

// Changes is the total number of fixes in the report.
func (r *RepairReport) Changes() int {
	n := r.Reparented + r.BrokenLinks + r.MeshPurged + r.Merged + r.DuplicatesPurged + r.FoldersCreated
	if r.RootCreated || r.RootReconstructed {
		n++
	}
	return n
}

// FixInventory restores the owner's tree invariants. It holds the owner's
// repair lock for the whole run; a concurrent run fails with locks.ErrHeld.
// A second run over a repaired tree makes no writes.
func (e *Engine) FixInventory(ctx context.Context, owner uuid.UUID) (*RepairReport, error) {
	var report *RepairReport
	err := locks.WithLock(ctx, e.locks, locks.OwnerResource(owner.String()), uuid.NewString(), e.lockTTL,
		func(ctx context.Context) error {
			var err error
			report, err = e.fixInventory(ctx, owner)
			return err
		})
	switch {
	case errors.Is(err, locks.ErrHeld):
		e.metrics.IncRepairs("locked")
	case err != nil:
		e.metrics.IncRepairs("error")
	default:
		e.metrics.IncRepairs("ok")
		logging.Info(repairComponent, "inventory repaired", "owner", owner, "changes", report.Changes())
	}
	return report, err
}

func (e *Engine) fixInventory(ctx context.Context, owner uuid.UUID) (*RepairReport, error) {
	report := &RepairReport{Owner: owner}

	root, err := e.ensureRoot(ctx, owner, report)
	if err != nil {
		return report, err
	}
	var errs []error
	errs = append(errs, e.fixStructure(ctx, owner, root, report)...)
	errs = append(errs, e.fixOutfitsAndMeshes(ctx, owner, report)...)

	before := len(e.GetSystemFolders(ctx, owner))
	if _, err := e.CreateUserInventory(ctx, owner, false); err != nil {
		errs = append(errs, err)
	}
	if added := len(e.GetSystemFolders(ctx, owner)) - before; added > 0 {
		report.FoldersCreated += added
		e.fixed("system_folder", owner, "created missing system folders", "count", added)
	}

	errs = append(errs, e.mergeDuplicates(ctx, owner, root, report)...)
	return report, errors.Join(errs...)
}

func (e *Engine) fixed(kind string, owner uuid.UUID, msg string, kv ...any) {
	e.metrics.IncRepairFixes(kind)
	logging.Warn(repairComponent, msg, append([]any{"owner", owner, "kind", kind}, kv...)...)
}

// ensureRoot returns the owner's root, rebuilding it when no parentless
// folder exists or the chosen one is not root-typed. The folder that stood
// in for the root is reattached below the new one by fixStructure.
func (e *Engine) ensureRoot(ctx context.Context, owner uuid.UUID, report *RepairReport) (*Folder, error) {
	root, ok := e.GetRootFolder(ctx, owner)
	if ok && root.Type == AssetRootFolder {
		return root, nil
	}
	skel := e.GetInventorySkeleton(ctx, owner)
	if len(skel) == 0 {
		if _, err := e.CreateUserInventory(ctx, owner, false); err != nil {
			return nil, err
		}
		report.RootCreated = true
		e.fixed("root", owner, "created empty inventory")
	} else {
		if _, err := e.reconstructRoot(ctx, owner, skel); err != nil {
			return nil, err
		}
		report.RootReconstructed = true
		e.fixed("root", owner, "reconstructed root", "stand_in", standIn(root))
	}
	root, ok = e.GetRootFolder(ctx, owner)
	if !ok || root.Type != AssetRootFolder {
		return nil, fmt.Errorf("owner %s: no root folder after repair", owner)
	}
	return root, nil
}

func standIn(f *Folder) uuid.UUID {
	if f == nil {
		return uuid.Nil
	}
	return f.ID
}

// fixStructure reattaches every folder that does not hang off the root:
// impostor roots, dangling or self parents, members of parent cycles, the
// children of impostors and any remaining parentless folder.
func (e *Engine) fixStructure(ctx context.Context, owner uuid.UUID, root *Folder, report *RepairReport) []error {
	skel := e.GetInventorySkeleton(ctx, owner)
	byID := make(map[uuid.UUID]*Folder, len(skel))
	for i := range skel {
		byID[skel[i].ID] = &skel[i]
	}

	bad := map[uuid.UUID]bool{}
	for _, f := range skel {
		if f.ID != root.ID && f.Name == RootName {
			bad[f.ID] = true
		}
	}

	var errs []error
	reparent := func(f *Folder, reason string) {
		f.ParentID = root.ID
		if err := e.repo.StoreFolder(ctx, *f); err != nil {
			errs = append(errs, fmt.Errorf("reparent %s: %w", f.ID, err))
			return
		}
		report.Reparented++
		e.fixed("reparent", owner, "moved folder under root", "folder", f.ID, "name", f.Name, "reason", reason)
	}

	for i := range skel {
		f := &skel[i]
		if f.ID == root.ID {
			continue
		}
		switch {
		case f.ParentID == f.ID:
			reparent(f, "self parent")
		case f.ParentID != uuid.Nil && byID[f.ParentID] == nil:
			reparent(f, "dangling parent")
		case bad[f.ParentID]:
			reparent(f, "child of impostor root")
		case f.ParentID == uuid.Nil:
			reparent(f, "extra parentless folder")
		}
	}

	// Anything still unable to reach the root sits on a parent cycle; break
	// each cycle at its lowest id member.
	for i := range skel {
		f := &skel[i]
		if cycle := cycleFrom(f.ID, root.ID, byID); len(cycle) > 0 {
			lowest := cycle[0]
			for _, id := range cycle[1:] {
				if lessID(id, lowest) {
					lowest = id
				}
			}
			reparent(byID[lowest], "parent cycle")
		}
	}
	return errs
}

// cycleFrom walks up from start and returns the members of the cycle it runs
// into, or nil when the walk ends at the root or a parentless folder.
func cycleFrom(start, rootID uuid.UUID, byID map[uuid.UUID]*Folder) []uuid.UUID {
	pos := map[uuid.UUID]int{}
	var path []uuid.UUID
	for cur := start; cur != uuid.Nil && cur != rootID; {
		if at, seen := pos[cur]; seen {
			return path[at:]
		}
		f := byID[cur]
		if f == nil {
			return nil
		}
		pos[cur] = len(path)
		path = append(path, cur)
		cur = f.ParentID
	}
	return nil
}

// fixOutfitsAndMeshes drops current-outfit entries that no longer resolve or
// that point at library defaults, and purges legacy mesh folders.
func (e *Engine) fixOutfitsAndMeshes(ctx context.Context, owner uuid.UUID, report *RepairReport) []error {
	var errs []error
	for _, f := range e.GetInventorySkeleton(ctx, owner) {
		switch f.Type {
		case AssetCurrentOutfitFolder:
			var broken []uuid.UUID
			for _, it := range e.items(ctx, ItemQuery{Owner: owner, FolderID: ParentFilter(f.ID)}) {
				if !e.outfitEntryResolves(ctx, it) {
					broken = append(broken, it.ID)
				}
			}
			if len(broken) == 0 {
				continue
			}
			if err := e.repo.IncrementFolder(ctx, f.ID); err != nil {
				errs = append(errs, err)
			}
			for _, id := range broken {
				if err := e.repo.DeleteItem(ctx, id); err != nil {
					errs = append(errs, err)
					continue
				}
				report.BrokenLinks++
				e.fixed("broken_link", owner, "removed broken outfit link", "item", id)
			}
		case AssetMesh:
			if err := e.ForcePurgeFolder(ctx, f); err != nil {
				errs = append(errs, err)
				continue
			}
			report.MeshPurged++
			e.fixed("mesh_folder", owner, "purged mesh folder", "folder", f.ID)
		}
	}
	return errs
}

// outfitEntryResolves reports whether a current-outfit entry points at a
// live item that is not a library placeholder. Folder links may also point
// at a folder.
func (e *Engine) outfitEntryResolves(ctx context.Context, it Item) bool {
	if e.lib != nil && e.lib.IsDefaultItem(it.AssetID) {
		return false
	}
	if _, ok := e.getItem(ctx, it.AssetID); ok {
		return true
	}
	if it.AssetType == AssetLinkFolder {
		_, ok := e.GetFolder(ctx, it.AssetID)
		return ok
	}
	return false
}

// mergeDuplicates keeps the lowest id folder of each unique system type, the
// root pinned for the root type, and folds every other one into it.
func (e *Engine) mergeDuplicates(ctx context.Context, owner uuid.UUID, root *Folder, report *RepairReport) []error {
	skel := e.GetInventorySkeleton(ctx, owner)
	canonical := map[AssetType]uuid.UUID{AssetRootFolder: root.ID}
	for _, f := range skel {
		if !f.Type.Unique() {
			continue
		}
		if _, ok := canonical[f.Type]; !ok {
			canonical[f.Type] = f.ID
		}
	}

	var errs []error
	for _, dup := range skel {
		if !dup.Type.Unique() || dup.ID == root.ID || canonical[dup.Type] == dup.ID {
			continue
		}
		target := canonical[dup.Type]
		for _, child := range e.folders(ctx, FolderQuery{ParentID: ParentFilter(dup.ID)}) {
			child.ParentID = target
			if child.ID == target {
				child.ParentID = root.ID
			}
			if err := e.repo.StoreFolder(ctx, child); err != nil {
				errs = append(errs, err)
				continue
			}
			report.Merged++
		}
		items := e.items(ctx, ItemQuery{FolderID: ParentFilter(dup.ID)})
		if len(items) > 0 {
			if err := e.repo.IncrementFolder(ctx, target); err != nil {
				errs = append(errs, err)
			}
		}
		for _, it := range items {
			if err := e.repo.MoveItem(ctx, it.ID, target); err != nil {
				errs = append(errs, err)
				continue
			}
			report.Merged++
		}
		if err := e.ForcePurgeFolder(ctx, dup); err != nil {
			errs = append(errs, err)
			continue
		}
		report.DuplicatesPurged++
		e.fixed("duplicate_system_folder", owner, "merged duplicate system folder",
			"folder", dup.ID, "type", dup.Type, "into", target)
	}
	return errs
}
