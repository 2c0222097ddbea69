// Package fsstore implements interfaces.ObjectStore on the local
// filesystem, adapted from the teacher's FilesystemConfig split between
// database metadata and on-disk blob payloads.
package fsstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Store writes opaque payloads under a root directory, sharding by the
// first two characters of the key the way content-addressed blob stores
// commonly avoid single-directory fanout.
type Store struct {
	root string
}

func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create object store root %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

func (s *Store) pathFor(key string) string {
	shard := key
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join(s.root, shard, key)
}

func (s *Store) Put(ctx context.Context, key string, payload []byte) error {
	path := s.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create object shard dir: %w", err)
	}
	if err := os.WriteFile(path, payload, 0644); err != nil {
		return fmt.Errorf("failed to write object %s: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(s.pathFor(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, true, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	err := os.Remove(s.pathFor(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
