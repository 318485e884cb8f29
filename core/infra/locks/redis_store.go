package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/cordum/gridstore/core/infra/redisutil"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps locks as plain keys with a PX expiry so a crashed holder
// never wedges an owner's repair.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore constructs a Redis-backed lock store.
func NewRedisStore(url string) (*RedisStore, error) {
	client, err := redisutil.Connect(url)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient shares an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Close shuts down the Redis client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Acquire sets the lock key if absent. A holder re-acquiring its own lock
// refreshes the expiry.
func (s *RedisStore) Acquire(ctx context.Context, resource, holder string, ttl time.Duration) (bool, error) {
	if s == nil || s.client == nil {
		return false, fmt.Errorf("lock store unavailable")
	}
	resource, holder, err := validate(resource, holder)
	if err != nil {
		return false, err
	}
	res, err := s.client.Eval(ctx, acquireScript, []string{lockKey(resource)}, holder, normalizeTTL(ttl).Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Release deletes the key only when holder still owns it.
func (s *RedisStore) Release(ctx context.Context, resource, holder string) (bool, error) {
	if s == nil || s.client == nil {
		return false, fmt.Errorf("lock store unavailable")
	}
	resource, holder, err := validate(resource, holder)
	if err != nil {
		return false, err
	}
	res, err := s.client.Eval(ctx, releaseScript, []string{lockKey(resource)}, holder).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Holder returns the current holder of resource, or "" if unlocked.
func (s *RedisStore) Holder(ctx context.Context, resource string) (string, error) {
	val, err := s.client.Get(ctx, lockKey(resource)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func lockKey(resource string) string {
	return "lock:" + resource
}

const acquireScript = `
local current = redis.call("GET", KEYS[1])
if not current or current == ARGV[1] then
  redis.call("SET", KEYS[1], ARGV[1], "PX", tonumber(ARGV[2]))
  return 1
end
return 0
`

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  redis.call("DEL", KEYS[1])
  return 1
end
return 0
`
