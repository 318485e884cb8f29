package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/cordum/gridstore/core/infra/redisutil"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const nameKeyPrefix = "directory:name:"

// Redis resolves names from "directory:name:<first> <last>" keys holding an
// account id.
type Redis struct {
	client redis.UniversalClient
}

func NewRedis(url string) (*Redis, error) {
	client, err := redisutil.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Redis{client: client}, nil
}

func NewRedisWithClient(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

func (r *Redis) ResolveName(ctx context.Context, first, last string) (uuid.UUID, bool, error) {
	raw, err := r.client.Get(ctx, nameKeyPrefix+NameKey(first, last)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("resolve name: %w", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("directory entry %q: %w", raw, err)
	}
	return id, true, nil
}

// Register maps a name to an account id.
func (r *Redis) Register(ctx context.Context, first, last string, id uuid.UUID) error {
	return r.client.Set(ctx, nameKeyPrefix+NameKey(first, last), id.String(), 0).Err()
}
