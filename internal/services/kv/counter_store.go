// Package kv implements interfaces.CounterStore against Redis, the
// shared in-memory KV service the spec calls for behind the distributed
// poll lock, per-crawl progress counters, and the pending-finalize set.
package kv

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvestyard/internal/apperr"
)

// unlockScript releases a lock only if the caller's token still matches
// the value stored, preventing a holder whose TTL already expired from
// releasing a lock someone else has since acquired.
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

type CounterStore struct {
	client *redis.Client
	logger arbor.ILogger
}

func NewCounterStore(client *redis.Client, logger arbor.ILogger) *CounterStore {
	return &CounterStore{client: client, logger: logger}
}

func (c *CounterStore) AcquireLock(ctx context.Context, name string, ttl time.Duration, token string) (bool, error) {
	ok, err := c.client.SetNX(ctx, name, token, ttl).Result()
	if err != nil {
		return false, apperr.Wrap(apperr.KindTransientInfra, "lock_acquire_failed", "failed to acquire distributed lock", err)
	}
	return ok, nil
}

func (c *CounterStore) ReleaseLock(ctx context.Context, name string, token string) error {
	res, err := c.client.Eval(ctx, unlockScript, []string{name}, token).Result()
	if err != nil {
		return apperr.Wrap(apperr.KindTransientInfra, "lock_release_failed", "failed to release distributed lock", err)
	}
	if n, ok := res.(int64); ok && n == 0 {
		return apperr.ErrLockNotHeld
	}
	return nil
}

func (c *CounterStore) HIncrBy(ctx context.Context, hashKey, field string, delta int64) (int64, error) {
	return c.client.HIncrBy(ctx, hashKey, field, delta).Result()
}

// decrFloorScript atomically decrements a hash field by the requested
// amount but never below zero, satisfying the "enqueuing must not go
// negative" invariant without a read-then-write race.
const decrFloorScript = `
local current = tonumber(redis.call("HGET", KEYS[1], ARGV[1])) or 0
local next = current - tonumber(ARGV[2])
if next < 0 then next = 0 end
redis.call("HSET", KEYS[1], ARGV[1], next)
return next
`

func (c *CounterStore) HDecrByFloor(ctx context.Context, hashKey, field string, delta int64) (int64, error) {
	res, err := c.client.Eval(ctx, decrFloorScript, []string{hashKey}, field, delta).Result()
	if err != nil {
		return 0, err
	}
	n, ok := res.(int64)
	if !ok {
		return 0, errors.New("unexpected decrFloor result type")
	}
	return n, nil
}

func (c *CounterStore) HGet(ctx context.Context, hashKey, field string) (string, error) {
	v, err := c.client.HGet(ctx, hashKey, field).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

func (c *CounterStore) HSet(ctx context.Context, hashKey, field, value string) error {
	return c.client.HSet(ctx, hashKey, field, value).Err()
}

func (c *CounterStore) HGetAll(ctx context.Context, hashKey string) (map[string]string, error) {
	return c.client.HGetAll(ctx, hashKey).Result()
}

func (c *CounterStore) HSetNX(ctx context.Context, hashKey, field, value string) (bool, error) {
	return c.client.HSetNX(ctx, hashKey, field, value).Result()
}

func (c *CounterStore) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *CounterStore) SAdd(ctx context.Context, setKey, member string) error {
	return c.client.SAdd(ctx, setKey, member).Err()
}

func (c *CounterStore) SRem(ctx context.Context, setKey, member string) error {
	return c.client.SRem(ctx, setKey, member).Err()
}

func (c *CounterStore) SMembers(ctx context.Context, setKey string) ([]string, error) {
	return c.client.SMembers(ctx, setKey).Result()
}

func (c *CounterStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *CounterStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}
