package assets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cordum/gridstore/core/infra/redisutil"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTemporaryTTL = 24 * time.Hour
	envTemporaryTTL     = "GRIDSTORE_TEMP_ASSET_TTL"
)

// RedisStore is the grid-wide shared blob store. Temporary assets expire.
type RedisStore struct {
	client       redis.UniversalClient
	temporaryTTL time.Duration
}

// NewRedisStore constructs an asset store backed by Redis.
func NewRedisStore(url string) (*RedisStore, error) {
	client, err := redisutil.Connect(url)
	if err != nil {
		return nil, err
	}
	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient shares an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, temporaryTTL: parseDurationEnv(envTemporaryTTL, defaultTemporaryTTL)}
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Put writes content and metadata in one transaction.
func (s *RedisStore) Put(ctx context.Context, a *Asset) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("asset store unavailable")
	}
	if err := validate(a); err != nil {
		return err
	}
	meta, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal asset metadata: %w", err)
	}
	var ttl time.Duration
	if a.Temporary {
		ttl = s.temporaryTTL
	}
	id := a.ID.String()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, dataKey(id), a.Data, ttl)
	pipe.Set(ctx, metaKey(id), meta, ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// Get returns the asset or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, id uuid.UUID) (*Asset, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("asset store unavailable")
	}
	key := id.String()
	pipe := s.client.Pipeline()
	dataCmd := pipe.Get(ctx, dataKey(key))
	metaCmd := pipe.Get(ctx, metaKey(key))
	_, _ = pipe.Exec(ctx)

	data, err := dataCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a := &Asset{ID: id}
	if raw, err := metaCmd.Bytes(); err == nil {
		if err := json.Unmarshal(raw, a); err != nil {
			return nil, fmt.Errorf("decode asset metadata: %w", err)
		}
	}
	a.Data = data
	return a, nil
}

func parseDurationEnv(key string, fallback time.Duration) time.Duration {
	if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func dataKey(id string) string { return "asset:" + id }
func metaKey(id string) string { return "asset:meta:" + id }
