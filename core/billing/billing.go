// Package billing decides whether an agent can pay for an upload.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/cordum/gridstore/core/infra/redisutil"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Gate is consulted before a billable upload opens a transaction.
type Gate interface {
	UploadCovered(ctx context.Context, agent uuid.UUID, charge int) (bool, error)
}

// Unlimited covers every upload.
type Unlimited struct{}

func (Unlimited) UploadCovered(context.Context, uuid.UUID, int) (bool, error) { return true, nil }

const (
	balancePrefix = "billing:balance:"
	maxTxRetries  = 5
)

// RedisLedger keeps one integer balance per agent and debits the upload
// charge when it covers the upload.
type RedisLedger struct {
	client redis.UniversalClient
}

func NewRedisLedger(url string) (*RedisLedger, error) {
	client, err := redisutil.Connect(url)
	if err != nil {
		return nil, err
	}
	return &RedisLedger{client: client}, nil
}

func NewRedisLedgerWithClient(client redis.UniversalClient) *RedisLedger {
	return &RedisLedger{client: client}
}

func (l *RedisLedger) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}

func balanceKey(agent uuid.UUID) string { return balancePrefix + agent.String() }

// UploadCovered debits charge when the balance covers it. A zero charge is
// always covered.
func (l *RedisLedger) UploadCovered(ctx context.Context, agent uuid.UUID, charge int) (bool, error) {
	if charge <= 0 {
		return true, nil
	}
	key := balanceKey(agent)
	covered := false
	debit := func(tx *redis.Tx) error {
		balance, err := tx.Get(ctx, key).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if balance < int64(charge) {
			covered = false
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.DecrBy(ctx, key, int64(charge))
			return nil
		})
		covered = err == nil
		return err
	}
	for i := 0; i < maxTxRetries; i++ {
		err := l.client.Watch(ctx, debit, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("debit upload charge: %w", err)
		}
		return covered, nil
	}
	return false, fmt.Errorf("debit upload charge: %w", redis.TxFailedErr)
}

// Credit adds amount to the agent's balance.
func (l *RedisLedger) Credit(ctx context.Context, agent uuid.UUID, amount int64) error {
	return l.client.IncrBy(ctx, balanceKey(agent), amount).Err()
}

// Balance returns the agent's current balance, zero when unset.
func (l *RedisLedger) Balance(ctx context.Context, agent uuid.UUID) (int64, error) {
	raw, err := l.client.Get(ctx, balanceKey(agent)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}
