package assets

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"
	ldb_opt "github.com/syndtr/goleveldb/leveldb/opt"
)

const levelStoreVersion = 1

var (
	versionKey = []byte("version")
	metaPrefix = []byte("m:")
	dataPrefix = []byte("d:")
)

// LevelStore is the region-local asset store backing storeLocal uploads.
type LevelStore struct {
	db *leveldb.DB
}

// OpenLevelStore opens (or creates) the store under dir.
func OpenLevelStore(dir string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(dir, &ldb_opt.Options{ErrorIfExist: false})
	if err != nil {
		return nil, fmt.Errorf("open local asset store: %w", err)
	}
	raw, err := db.Get(versionKey, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		version := make([]byte, 4)
		binary.BigEndian.PutUint32(version, levelStoreVersion)
		if err := db.Put(versionKey, version, nil); err != nil {
			db.Close()
			return nil, err
		}
	case err != nil:
		db.Close()
		return nil, err
	case len(raw) != 4 || binary.BigEndian.Uint32(raw) != levelStoreVersion:
		db.Close()
		return nil, fmt.Errorf("incompatible local asset store version %x", raw)
	}
	return &LevelStore{db: db}, nil
}

func (s *LevelStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *LevelStore) Put(_ context.Context, a *Asset) error {
	if err := validate(a); err != nil {
		return err
	}
	meta, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal asset metadata: %w", err)
	}
	batch := new(leveldb.Batch)
	batch.Put(levelKey(metaPrefix, a.ID), meta)
	batch.Put(levelKey(dataPrefix, a.ID), a.Data)
	return s.db.Write(batch, nil)
}

func (s *LevelStore) Get(_ context.Context, id uuid.UUID) (*Asset, error) {
	data, err := s.db.Get(levelKey(dataPrefix, id), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a := &Asset{ID: id}
	meta, err := s.db.Get(levelKey(metaPrefix, id), nil)
	if err == nil {
		if err := json.Unmarshal(meta, a); err != nil {
			return nil, fmt.Errorf("decode asset metadata: %w", err)
		}
	}
	a.Data = data
	return a, nil
}

func levelKey(prefix []byte, id uuid.UUID) []byte {
	key := make([]byte, 0, len(prefix)+16)
	key = append(key, prefix...)
	return append(key, id[:]...)
}
