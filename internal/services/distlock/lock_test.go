package distlock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ternarybob/harvestyard/internal/services/distlock"
)

// fakeCounterStore implements just enough of interfaces.CounterStore to
// exercise lock acquisition/release semantics in isolation.
type fakeCounterStore struct {
	mu     sync.Mutex
	locks  map[string]string // name -> token
}

func newFakeCounterStore() *fakeCounterStore {
	return &fakeCounterStore{locks: make(map[string]string)}
}

func (f *fakeCounterStore) AcquireLock(ctx context.Context, name string, ttl time.Duration, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, held := f.locks[name]; held {
		return false, nil
	}
	f.locks[name] = token
	return true, nil
}

func (f *fakeCounterStore) ReleaseLock(ctx context.Context, name string, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locks[name] == token {
		delete(f.locks, name)
	}
	return nil
}

func (f *fakeCounterStore) HIncrBy(ctx context.Context, hashKey, field string, delta int64) (int64, error) {
	return 0, nil
}
func (f *fakeCounterStore) HDecrByFloor(ctx context.Context, hashKey, field string, delta int64) (int64, error) {
	return 0, nil
}
func (f *fakeCounterStore) HGet(ctx context.Context, hashKey, field string) (string, error) {
	return "", nil
}
func (f *fakeCounterStore) HSet(ctx context.Context, hashKey, field, value string) error { return nil }
func (f *fakeCounterStore) HGetAll(ctx context.Context, hashKey string) (map[string]string, error) {
	return nil, nil
}
func (f *fakeCounterStore) HSetNX(ctx context.Context, hashKey, field, value string) (bool, error) {
	return true, nil
}
func (f *fakeCounterStore) Delete(ctx context.Context, key string) error { return nil }
func (f *fakeCounterStore) SAdd(ctx context.Context, setKey, member string) error { return nil }
func (f *fakeCounterStore) SRem(ctx context.Context, setKey, member string) error { return nil }
func (f *fakeCounterStore) SMembers(ctx context.Context, setKey string) ([]string, error) {
	return nil, nil
}
func (f *fakeCounterStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return nil
}
func (f *fakeCounterStore) Get(ctx context.Context, key string) (string, bool, error) {
	return "", false, nil
}

func TestWithLock_SecondAcquireFailsWhileHeld(t *testing.T) {
	ctx := context.Background()
	store := newFakeCounterStore()

	started := make(chan struct{})
	release := make(chan struct{})
	var secondRan bool

	go func() {
		_, _ = distlock.WithLock(ctx, store, "scheduler:poll:lock", time.Second, func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	ran, err := distlock.WithLock(ctx, store, "scheduler:poll:lock", time.Second, func(ctx context.Context) error {
		secondRan = true
		return nil
	})
	require.NoError(t, err)
	require.False(t, ran)
	require.False(t, secondRan)

	close(release)
}

func TestWithLock_ReleasesOnPanic(t *testing.T) {
	ctx := context.Background()
	store := newFakeCounterStore()

	func() {
		defer func() { _ = recover() }()
		_, _ = distlock.WithLock(ctx, store, "lock-a", time.Second, func(ctx context.Context) error {
			panic("boom")
		})
	}()

	ran, err := distlock.WithLock(ctx, store, "lock-a", time.Second, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran, "lock must have been released despite the panic")
}
