package badger

import (
	"context"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/harvestyard/internal/models"
)

// JobResultStorage implements interfaces.JobResultStorage over
// badgerhold. JobResult rows are append-only: there is no Update method.
type JobResultStorage struct {
	db *DB
}

func NewJobResultStorage(db *DB) *JobResultStorage {
	return &JobResultStorage{db: db}
}

func (s *JobResultStorage) Append(ctx context.Context, result *models.JobResult) error {
	result.CreatedAt = time.Now()
	return s.db.Store().Insert(result.UUID, result)
}

func (s *JobResultStorage) ListByJob(ctx context.Context, jobUUID string, skip, limit int) ([]*models.JobResult, error) {
	var results []*models.JobResult
	query := badgerhold.Where("JobUUID").Eq(jobUUID).SortBy("CreatedAt").Skip(skip)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.db.Store().Find(&results, query); err != nil {
		return nil, err
	}
	return results, nil
}
