package interfaces

import (
	"context"
	"time"
)

// CounterStore abstracts the shared in-memory KV service (Redis in this
// deployment) that backs the distributed poll lock, per-crawl progress
// counters, and the pending-finalize set. Every method here must be
// usable from any process replica: no in-memory fallback is correct
// because the scheduler and worker fleet are assumed to be multi-process.
type CounterStore interface {
	// AcquireLock attempts to take a named lock with the given TTL,
	// returning true if acquired (SETNX semantics). token must be
	// presented to ReleaseLock so a holder cannot release a lock it no
	// longer owns (e.g. after its TTL already expired and someone else
	// acquired it).
	AcquireLock(ctx context.Context, name string, ttl time.Duration, token string) (acquired bool, err error)
	ReleaseLock(ctx context.Context, name string, token string) error

	// HIncrBy atomically increments a field within a hash (e.g.
	// "crawl:{jobId}") and returns the new value.
	HIncrBy(ctx context.Context, hashKey, field string, delta int64) (int64, error)
	// HDecrByFloor atomically decrements a field, clamping at zero so a
	// racing decrement beneath zero never drives the field negative.
	HDecrByFloor(ctx context.Context, hashKey, field string, delta int64) (int64, error)
	HGet(ctx context.Context, hashKey, field string) (string, error)
	HSet(ctx context.Context, hashKey, field, value string) error
	HGetAll(ctx context.Context, hashKey string) (map[string]string, error)
	HSetNX(ctx context.Context, hashKey, field, value string) (set bool, err error)
	Delete(ctx context.Context, key string) error

	// SAdd/SRem/SMembers back the jobs:pending_finalize enrollment set.
	SAdd(ctx context.Context, setKey, member string) error
	SRem(ctx context.Context, setKey, member string) error
	SMembers(ctx context.Context, setKey string) ([]string, error)

	// Set/Get back small opaque string values such as persisted crawl
	// summaries keyed by jobId.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
}
