package interfaces

import "context"

// KeyValuePair mirrors the teacher's generic settings-row shape, used for
// small persisted process state (job definitions, settings) distinct from
// the high-traffic CounterStore.
type KeyValuePair struct {
	Key         string
	Value       string
	Description string
	CreatedAt   int64
	UpdatedAt   int64
}

// KeyValueStorage is a generic durable settings store, implemented over
// badgerhold the way the teacher's KVStorage wraps its primary DB.
type KeyValueStorage interface {
	Get(ctx context.Context, key string) (string, error)
	GetPair(ctx context.Context, key string) (*KeyValuePair, error)
	Set(ctx context.Context, key, value, description string) error
	Upsert(ctx context.Context, key, value, description string) (isNew bool, err error)
	Delete(ctx context.Context, key string) error
	ListByPrefix(ctx context.Context, prefix string) ([]*KeyValuePair, error)
}
