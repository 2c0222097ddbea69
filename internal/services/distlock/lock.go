// Package distlock provides scoped acquisition of the distributed locks
// backing single-writer sections such as the scheduler poll loop,
// following the teacher's pattern of releasing scoped resources via
// defer on every exit path including panics.
package distlock

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ternarybob/harvestyard/internal/interfaces"
)

// Lock wraps one named distributed lock held by this process.
type Lock struct {
	store interfaces.CounterStore
	name  string
	token string
}

// TryAcquire attempts to take the named lock with ttl. If acquired, the
// returned Lock's Release must be deferred immediately by the caller.
func TryAcquire(ctx context.Context, store interfaces.CounterStore, name string, ttl time.Duration) (*Lock, bool, error) {
	token := uuid.New().String()
	ok, err := store.AcquireLock(ctx, name, ttl, token)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{store: store, name: name, token: token}, true, nil
}

// Release gives up the lock if still held by this token. It is safe to
// call from a deferred panic-recovery path.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.store.ReleaseLock(ctx, l.name, l.token)
}

// WithLock runs fn while holding the named lock, releasing it on every
// exit path (including a panic propagating out of fn). Returns
// (ran=false, nil) if the lock could not be acquired.
func WithLock(ctx context.Context, store interfaces.CounterStore, name string, ttl time.Duration, fn func(ctx context.Context) error) (ran bool, err error) {
	lock, acquired, err := TryAcquire(ctx, store, name, ttl)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}
	defer func() {
		_ = lock.Release(ctx)
	}()

	return true, fn(ctx)
}
