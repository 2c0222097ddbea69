package badger

import (
	"context"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/harvestyard/internal/apperr"
	"github.com/ternarybob/harvestyard/internal/models"
)

// TaskStorage implements interfaces.TaskStorage over badgerhold.
type TaskStorage struct {
	db *DB
}

func NewTaskStorage(db *DB) *TaskStorage {
	return &TaskStorage{db: db}
}

func (s *TaskStorage) Create(ctx context.Context, task *models.ScheduledTask) error {
	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now
	return s.db.Store().Insert(task.UUID, task)
}

func (s *TaskStorage) Get(ctx context.Context, uuid string) (*models.ScheduledTask, error) {
	var task models.ScheduledTask
	err := s.db.Store().Get(uuid, &task)
	if err == badgerhold.ErrNotFound {
		return nil, apperr.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *TaskStorage) Update(ctx context.Context, task *models.ScheduledTask) error {
	task.UpdatedAt = time.Now()
	err := s.db.Store().Update(task.UUID, task)
	if err == badgerhold.ErrNotFound {
		return apperr.ErrTaskNotFound
	}
	return err
}

func (s *TaskStorage) Delete(ctx context.Context, uuid string) error {
	err := s.db.Store().Delete(uuid, &models.ScheduledTask{})
	if err == badgerhold.ErrNotFound {
		return apperr.ErrTaskNotFound
	}
	return err
}

func (s *TaskStorage) ListActive(ctx context.Context) ([]*models.ScheduledTask, error) {
	var tasks []*models.ScheduledTask
	query := badgerhold.Where("IsActive").Eq(true).And("IsPaused").Eq(false)
	if err := s.db.Store().Find(&tasks, query); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *TaskStorage) ListUpdatedSince(ctx context.Context, since int64) ([]*models.ScheduledTask, error) {
	var tasks []*models.ScheduledTask
	cutoff := time.UnixMilli(since)
	query := badgerhold.Where("UpdatedAt").Ge(cutoff)
	if err := s.db.Store().Find(&tasks, query); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *TaskStorage) ListActiveByOwner(ctx context.Context, apiKeyID string) ([]*models.ScheduledTask, error) {
	var tasks []*models.ScheduledTask
	query := badgerhold.Where("ApiKeyID").Eq(apiKeyID).And("IsActive").Eq(true).And("IsPaused").Eq(false)
	if err := s.db.Store().Find(&tasks, query); err != nil {
		return nil, err
	}
	return tasks, nil
}
