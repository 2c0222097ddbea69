package badger

import (
	"context"
	"sync"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/harvestyard/internal/apperr"
	"github.com/ternarybob/harvestyard/internal/models"
)

// OwnerStorage implements interfaces.OwnerStorage over badgerhold.
type OwnerStorage struct {
	db *DB
	mu sync.Mutex // serializes ApplyDelta's read-modify-write
}

func NewOwnerStorage(db *DB) *OwnerStorage {
	return &OwnerStorage{db: db}
}

func (s *OwnerStorage) Get(ctx context.Context, apiKeyID string) (*models.Owner, error) {
	var owner models.Owner
	err := s.db.Store().Get(apiKeyID, &owner)
	if err == badgerhold.ErrNotFound {
		return nil, apperr.ErrOwnerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &owner, nil
}

func (s *OwnerStorage) Update(ctx context.Context, owner *models.Owner) error {
	owner.UpdatedAt = time.Now()
	err := s.db.Store().Update(owner.ApiKeyID, owner)
	if err == badgerhold.ErrNotFound {
		return apperr.ErrOwnerNotFound
	}
	return err
}

// ApplyDelta performs a read-modify-write (Get then Update) against the
// owner row under an in-process mutex, so billing debits from this
// process serialize even when two jobs share one api_key, mirroring the
// spec's RDBMS-row-lock contract without a relational engine. It is not
// a badger transaction and does not serialize across processes.
func (s *OwnerStorage) ApplyDelta(ctx context.Context, apiKeyID string, delta float64) (*models.Owner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, err := s.Get(ctx, apiKeyID)
	if err != nil {
		return nil, err
	}
	owner.Credits -= delta // credits may go negative by design
	owner.LastUsedAt = time.Now()
	if err := s.Update(ctx, owner); err != nil {
		return nil, err
	}
	return owner, nil
}
