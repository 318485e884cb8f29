package inventory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepository is a Repository kept in process memory. It backs the
// memory deployment mode and the engine tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	folders map[uuid.UUID]Folder
	items   map[uuid.UUID]Item
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		folders: make(map[uuid.UUID]Folder),
		items:   make(map[uuid.UUID]Item),
	}
}

func (r *MemoryRepository) GetFolders(_ context.Context, q FolderQuery) ([]Folder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Folder
	if q.ID != uuid.Nil {
		if f, ok := r.folders[q.ID]; ok && q.Match(&f) {
			out = append(out, f)
		}
		return out, nil
	}
	for _, f := range r.folders {
		if q.Match(&f) {
			out = append(out, f)
		}
	}
	sortFolders(out)
	return out, nil
}

func (r *MemoryRepository) GetItems(_ context.Context, q ItemQuery) ([]Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Item
	for _, it := range r.items {
		if q.Match(&it) {
			out = append(out, it)
		}
	}
	sortItems(out)
	return out, nil
}

func (r *MemoryRepository) StoreFolder(_ context.Context, f Folder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.folders[f.ID] = f
	return nil
}

func (r *MemoryRepository) StoreItem(_ context.Context, it Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[it.ID] = it
	return nil
}

func (r *MemoryRepository) DeleteFolder(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.folders, id)
	return nil
}

func (r *MemoryRepository) DeleteItem(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
	return nil
}

func (r *MemoryRepository) DeleteFolderItems(_ context.Context, folderID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, it := range r.items {
		if it.FolderID == folderID {
			delete(r.items, id)
		}
	}
	return nil
}

func (r *MemoryRepository) IncrementFolder(_ context.Context, folderID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bump(folderID)
	return nil
}

func (r *MemoryRepository) IncrementFolderByItem(_ context.Context, itemID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if it, ok := r.items[itemID]; ok {
		r.bump(it.FolderID)
	}
	return nil
}

func (r *MemoryRepository) MoveItem(_ context.Context, itemID, folderID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if it, ok := r.items[itemID]; ok {
		it.FolderID = folderID
		r.items[itemID] = it
	}
	return nil
}

func (r *MemoryRepository) GetActiveGestures(_ context.Context, owner uuid.UUID) ([]Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Item
	for _, it := range r.items {
		if it.Owner == owner && it.IsActiveGesture() {
			out = append(out, it)
		}
	}
	sortItems(out)
	return out, nil
}

func (r *MemoryRepository) bump(folderID uuid.UUID) {
	if f, ok := r.folders[folderID]; ok {
		f.Version++
		r.folders[folderID] = f
	}
}

func sortFolders(fs []Folder) {
	sort.Slice(fs, func(i, j int) bool { return lessID(fs[i].ID, fs[j].ID) })
}

func sortItems(items []Item) {
	sort.Slice(items, func(i, j int) bool { return lessID(items[i].ID, items[j].ID) })
}

func lessID(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}
