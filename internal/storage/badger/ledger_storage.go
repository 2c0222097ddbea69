package badger

import (
	"context"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/harvestyard/internal/models"
)

// LedgerStorage implements interfaces.LedgerStorage over badgerhold. The
// ledger is append-only; InsertIfAbsent is the only entry point creating
// rows, keyed on UUID with a badgerholdUnique constraint on
// IdempotencyKey providing exactly-once-per-key semantics without a
// relational UNIQUE constraint.
type LedgerStorage struct {
	db *DB
}

func NewLedgerStorage(db *DB) *LedgerStorage {
	return &LedgerStorage{db: db}
}

func (s *LedgerStorage) InsertIfAbsent(ctx context.Context, row *models.BillingLedger) (bool, error) {
	row.CreatedAt = time.Now()
	err := s.db.Store().Insert(row.UUID, row)
	if err == badgerhold.ErrUniqueExists || err == badgerhold.ErrKeyExists {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *LedgerStorage) Update(ctx context.Context, row *models.BillingLedger) error {
	return s.db.Store().Update(row.UUID, row)
}

func (s *LedgerStorage) GetByIdempotencyKey(ctx context.Context, key string) (*models.BillingLedger, error) {
	var rows []*models.BillingLedger
	query := badgerhold.Where("IdempotencyKey").Eq(key)
	if err := s.db.Store().Find(&rows, query); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *LedgerStorage) SumChargedByJob(ctx context.Context, jobID string) (float64, error) {
	var rows []*models.BillingLedger
	query := badgerhold.Where("JobID").Eq(jobID)
	if err := s.db.Store().Find(&rows, query); err != nil {
		return 0, err
	}
	var total float64
	for _, r := range rows {
		total += r.Charged
	}
	return total, nil
}
