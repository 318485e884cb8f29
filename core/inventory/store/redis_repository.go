package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/cordum/gridstore/core/infra/redisutil"
	"github.com/cordum/gridstore/core/inventory"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	folderPrefix = "inv:folder:"
	itemPrefix   = "inv:item:"
)

// ErrUnindexedQuery is returned for a query that names no id, owner, parent
// or folder to start from.
var ErrUnindexedQuery = errors.New("query needs an id, owner, parent or folder")

// RedisRepository stores folders and items as JSON documents with set
// indexes per owner and per parent. A folder's version lives in its own
// counter key so increments stay atomic.
type RedisRepository struct {
	client redis.UniversalClient
}

// NewRedisRepository connects to url.
func NewRedisRepository(url string) (*RedisRepository, error) {
	client, err := redisutil.Connect(url)
	if err != nil {
		return nil, err
	}
	return &RedisRepository{client: client}, nil
}

func NewRedisRepositoryWithClient(client redis.UniversalClient) *RedisRepository {
	return &RedisRepository{client: client}
}

func (r *RedisRepository) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

func folderKey(id uuid.UUID) string        { return folderPrefix + id.String() }
func folderVersionKey(id uuid.UUID) string { return folderPrefix + id.String() + ":version" }
func folderItemsKey(id uuid.UUID) string   { return folderPrefix + id.String() + ":items" }
func childrenKey(id uuid.UUID) string      { return folderPrefix + id.String() + ":children" }
func itemKey(id uuid.UUID) string          { return itemPrefix + id.String() }
func ownerFoldersKey(id uuid.UUID) string  { return "inv:owner:" + id.String() + ":folders" }
func ownerItemsKey(id uuid.UUID) string    { return "inv:owner:" + id.String() + ":items" }

// --- folders ---

func (r *RedisRepository) GetFolders(ctx context.Context, q inventory.FolderQuery) ([]inventory.Folder, error) {
	var ids []string
	switch {
	case q.ID != uuid.Nil:
		ids = []string{q.ID.String()}
	case q.ParentID != nil && *q.ParentID != uuid.Nil:
		members, err := r.client.SMembers(ctx, childrenKey(*q.ParentID)).Result()
		if err != nil {
			return nil, fmt.Errorf("folder children: %w", err)
		}
		ids = members
	case q.Owner != uuid.Nil:
		members, err := r.client.SMembers(ctx, ownerFoldersKey(q.Owner)).Result()
		if err != nil {
			return nil, fmt.Errorf("owner folders: %w", err)
		}
		ids = members
	default:
		return nil, ErrUnindexedQuery
	}
	folders, err := r.loadFolders(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := folders[:0]
	for i := range folders {
		if q.Match(&folders[i]) {
			out = append(out, folders[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i].ID, out[j].ID) })
	return out, nil
}

func (r *RedisRepository) loadFolders(ctx context.Context, ids []string) ([]inventory.Folder, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(ids)*2)
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		keys = append(keys, folderKey(id), folderVersionKey(id))
	}
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load folders: %w", err)
	}
	out := make([]inventory.Folder, 0, len(vals)/2)
	for i := 0; i+1 < len(vals); i += 2 {
		doc, ok := vals[i].(string)
		if !ok {
			continue
		}
		var f inventory.Folder
		if err := json.Unmarshal([]byte(doc), &f); err != nil {
			return nil, fmt.Errorf("decode folder %s: %w", keys[i], err)
		}
		if v, ok := vals[i+1].(string); ok {
			if n, err := strconv.ParseUint(v, 10, 32); err == nil {
				f.Version = uint32(n)
			}
		}
		out = append(out, f)
	}
	return out, nil
}

func (r *RedisRepository) getFolder(ctx context.Context, id uuid.UUID) (*inventory.Folder, error) {
	found, err := r.loadFolders(ctx, []string{id.String()})
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return &found[0], nil
}

func (r *RedisRepository) StoreFolder(ctx context.Context, f inventory.Folder) error {
	if f.ID == uuid.Nil {
		return errors.New("folder id required")
	}
	prev, err := r.getFolder(ctx, f.ID)
	if err != nil {
		return err
	}
	doc, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode folder: %w", err)
	}
	id := f.ID.String()
	pipe := r.client.TxPipeline()
	if prev != nil {
		if prev.ParentID != f.ParentID {
			pipe.SRem(ctx, childrenKey(prev.ParentID), id)
		}
		if prev.Owner != f.Owner {
			pipe.SRem(ctx, ownerFoldersKey(prev.Owner), id)
		}
	}
	pipe.Set(ctx, folderKey(f.ID), doc, 0)
	pipe.Set(ctx, folderVersionKey(f.ID), f.Version, 0)
	pipe.SAdd(ctx, ownerFoldersKey(f.Owner), id)
	if f.ParentID != uuid.Nil {
		pipe.SAdd(ctx, childrenKey(f.ParentID), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store folder: %w", err)
	}
	return nil
}

func (r *RedisRepository) DeleteFolder(ctx context.Context, id uuid.UUID) error {
	prev, err := r.getFolder(ctx, id)
	if err != nil || prev == nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, folderKey(id), folderVersionKey(id))
	pipe.SRem(ctx, ownerFoldersKey(prev.Owner), id.String())
	pipe.SRem(ctx, childrenKey(prev.ParentID), id.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	return nil
}

func (r *RedisRepository) IncrementFolder(ctx context.Context, folderID uuid.UUID) error {
	exists, err := r.client.Exists(ctx, folderKey(folderID)).Result()
	if err != nil {
		return fmt.Errorf("increment folder: %w", err)
	}
	if exists == 0 {
		return nil
	}
	return r.client.Incr(ctx, folderVersionKey(folderID)).Err()
}

func (r *RedisRepository) IncrementFolderByItem(ctx context.Context, itemID uuid.UUID) error {
	it, err := r.getItem(ctx, itemID)
	if err != nil || it == nil {
		return err
	}
	return r.IncrementFolder(ctx, it.FolderID)
}

// --- items ---

func (r *RedisRepository) GetItems(ctx context.Context, q inventory.ItemQuery) ([]inventory.Item, error) {
	var ids []string
	switch {
	case q.ID != uuid.Nil:
		ids = []string{q.ID.String()}
	case q.FolderID != nil:
		members, err := r.client.SMembers(ctx, folderItemsKey(*q.FolderID)).Result()
		if err != nil {
			return nil, fmt.Errorf("folder items: %w", err)
		}
		ids = members
	case q.Owner != uuid.Nil:
		members, err := r.client.SMembers(ctx, ownerItemsKey(q.Owner)).Result()
		if err != nil {
			return nil, fmt.Errorf("owner items: %w", err)
		}
		ids = members
	default:
		return nil, ErrUnindexedQuery
	}
	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := items[:0]
	for i := range items {
		if q.Match(&items[i]) {
			out = append(out, items[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i].ID, out[j].ID) })
	return out, nil
}

func (r *RedisRepository) loadItems(ctx context.Context, ids []string) ([]inventory.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(ids))
	for _, raw := range ids {
		if id, err := uuid.Parse(raw); err == nil {
			keys = append(keys, itemKey(id))
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	out := make([]inventory.Item, 0, len(vals))
	for i, v := range vals {
		doc, ok := v.(string)
		if !ok {
			continue
		}
		var it inventory.Item
		if err := json.Unmarshal([]byte(doc), &it); err != nil {
			return nil, fmt.Errorf("decode item %s: %w", keys[i], err)
		}
		out = append(out, it)
	}
	return out, nil
}

func (r *RedisRepository) getItem(ctx context.Context, id uuid.UUID) (*inventory.Item, error) {
	found, err := r.loadItems(ctx, []string{id.String()})
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return &found[0], nil
}

func (r *RedisRepository) StoreItem(ctx context.Context, it inventory.Item) error {
	if it.ID == uuid.Nil {
		return errors.New("item id required")
	}
	prev, err := r.getItem(ctx, it.ID)
	if err != nil {
		return err
	}
	return r.writeItem(ctx, prev, it)
}

func (r *RedisRepository) writeItem(ctx context.Context, prev *inventory.Item, it inventory.Item) error {
	doc, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}
	id := it.ID.String()
	pipe := r.client.TxPipeline()
	if prev != nil {
		if prev.FolderID != it.FolderID {
			pipe.SRem(ctx, folderItemsKey(prev.FolderID), id)
		}
		if prev.Owner != it.Owner {
			pipe.SRem(ctx, ownerItemsKey(prev.Owner), id)
		}
	}
	pipe.Set(ctx, itemKey(it.ID), doc, 0)
	pipe.SAdd(ctx, ownerItemsKey(it.Owner), id)
	pipe.SAdd(ctx, folderItemsKey(it.FolderID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store item: %w", err)
	}
	return nil
}

func (r *RedisRepository) MoveItem(ctx context.Context, itemID, folderID uuid.UUID) error {
	prev, err := r.getItem(ctx, itemID)
	if err != nil || prev == nil {
		return err
	}
	next := *prev
	next.FolderID = folderID
	return r.writeItem(ctx, prev, next)
}

func (r *RedisRepository) DeleteItem(ctx context.Context, id uuid.UUID) error {
	prev, err := r.getItem(ctx, id)
	if err != nil || prev == nil {
		return err
	}
	return r.deleteItems(ctx, []inventory.Item{*prev})
}

func (r *RedisRepository) DeleteFolderItems(ctx context.Context, folderID uuid.UUID) error {
	items, err := r.GetItems(ctx, inventory.ItemQuery{FolderID: inventory.ParentFilter(folderID)})
	if err != nil {
		return err
	}
	if err := r.deleteItems(ctx, items); err != nil {
		return err
	}
	return r.client.Del(ctx, folderItemsKey(folderID)).Err()
}

func (r *RedisRepository) deleteItems(ctx context.Context, items []inventory.Item) error {
	if len(items) == 0 {
		return nil
	}
	pipe := r.client.TxPipeline()
	for _, it := range items {
		id := it.ID.String()
		pipe.Del(ctx, itemKey(it.ID))
		pipe.SRem(ctx, ownerItemsKey(it.Owner), id)
		pipe.SRem(ctx, folderItemsKey(it.FolderID), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete items: %w", err)
	}
	return nil
}

func (r *RedisRepository) GetActiveGestures(ctx context.Context, owner uuid.UUID) ([]inventory.Item, error) {
	items, err := r.GetItems(ctx, inventory.ItemQuery{Owner: owner})
	if err != nil {
		return nil, err
	}
	out := items[:0]
	for i := range items {
		if items[i].IsActiveGesture() {
			out = append(out, items[i])
		}
	}
	return out, nil
}

func lessID(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}
