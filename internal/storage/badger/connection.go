// Package badger provides the badgerhold-backed implementations of the
// storage interfaces, adapted from the teacher's storage/badger layer.
package badger

import (
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/harvestyard/internal/common"
)

// DB wraps a badgerhold store shared by every entity-specific storage
// implementation in this package.
type DB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
	config *common.BadgerConfig
}

// NewDB opens (or resets and reopens) the embedded database at the
// configured path.
func NewDB(config *common.BadgerConfig, logger arbor.ILogger) (*DB, error) {
	if config.ResetOnStartup {
		if err := os.RemoveAll(config.Path); err != nil {
			return nil, fmt.Errorf("failed to reset badger directory %s: %w", config.Path, err)
		}
	}

	if err := os.MkdirAll(config.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create badger directory %s: %w", config.Path, err)
	}

	opts := badgerhold.DefaultOptions
	opts.Dir = config.Path
	opts.ValueDir = config.Path
	opts.Logger = nil // badger's internal logging is noisy; we log at the call site instead
	opts.Options = opts.Options.WithLoggingLevel(badger.ERROR)

	store, err := badgerhold.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badgerhold store at %s: %w", config.Path, err)
	}

	logger.Info().Str("path", config.Path).Msg("opened badger store")

	return &DB{store: store, logger: logger, config: config}, nil
}

// Store returns the underlying badgerhold store for entity-specific
// storage implementations to query directly.
func (d *DB) Store() *badgerhold.Store {
	return d.store
}

// Close releases the underlying badger files.
func (d *DB) Close() error {
	if d.store == nil {
		return nil
	}
	return d.store.Close()
}
