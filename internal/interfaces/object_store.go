package interfaces

import "context"

// ObjectStore holds opaque page/map cache payloads outside the primary
// metadata store, following the teacher's split between DB metadata and
// on-disk blobs (its FilesystemConfig separating image/attachment dirs
// from document rows).
type ObjectStore interface {
	Put(ctx context.Context, key string, payload []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
}
