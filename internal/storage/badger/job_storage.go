package badger

import (
	"context"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/harvestyard/internal/apperr"
	"github.com/ternarybob/harvestyard/internal/models"
)

// JobStorage implements interfaces.JobStorage over badgerhold.
type JobStorage struct {
	db *DB
}

func NewJobStorage(db *DB) *JobStorage {
	return &JobStorage{db: db}
}

func (s *JobStorage) Create(ctx context.Context, job *models.Job) error {
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	return s.db.Store().Insert(job.UUID, job)
}

func (s *JobStorage) Get(ctx context.Context, uuid string) (*models.Job, error) {
	var job models.Job
	err := s.db.Store().Get(uuid, &job)
	if err == badgerhold.ErrNotFound {
		return nil, apperr.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *JobStorage) GetByJobID(ctx context.Context, jobID string) (*models.Job, error) {
	var jobs []*models.Job
	query := badgerhold.Where("JobID").Eq(jobID)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, apperr.ErrJobNotFound
	}
	return jobs[0], nil
}

func (s *JobStorage) Update(ctx context.Context, job *models.Job) error {
	job.UpdatedAt = time.Now()
	err := s.db.Store().Update(job.UUID, job)
	if err == badgerhold.ErrNotFound {
		return apperr.ErrJobNotFound
	}
	return err
}

func (s *JobStorage) ListRunningByType(ctx context.Context, jobType string) ([]*models.Job, error) {
	var jobs []*models.Job
	query := badgerhold.Where("JobType").Eq(jobType).And("Status").Eq(models.JobRunning)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, err
	}
	return jobs, nil
}
