package badger

import (
	"context"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/harvestyard/internal/apperr"
	"github.com/ternarybob/harvestyard/internal/models"
)

// ExecutionStorage implements interfaces.ExecutionStorage over badgerhold.
type ExecutionStorage struct {
	db *DB
}

func NewExecutionStorage(db *DB) *ExecutionStorage {
	return &ExecutionStorage{db: db}
}

func (s *ExecutionStorage) Create(ctx context.Context, exec *models.TaskExecution) error {
	now := time.Now()
	exec.CreatedAt = now
	exec.UpdatedAt = now
	return s.db.Store().Insert(exec.UUID, exec)
}

func (s *ExecutionStorage) Get(ctx context.Context, uuid string) (*models.TaskExecution, error) {
	var exec models.TaskExecution
	err := s.db.Store().Get(uuid, &exec)
	if err == badgerhold.ErrNotFound {
		return nil, apperr.ErrExecutionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

func (s *ExecutionStorage) Update(ctx context.Context, exec *models.TaskExecution) error {
	exec.UpdatedAt = time.Now()
	err := s.db.Store().Update(exec.UUID, exec)
	if err == badgerhold.ErrNotFound {
		return apperr.ErrExecutionNotFound
	}
	return err
}

func (s *ExecutionStorage) ListByTask(ctx context.Context, taskUUID string) ([]*models.TaskExecution, error) {
	var execs []*models.TaskExecution
	query := badgerhold.Where("ScheduledTaskUUID").Eq(taskUUID).SortBy("CreatedAt").Reverse()
	if err := s.db.Store().Find(&execs, query); err != nil {
		return nil, err
	}
	return execs, nil
}

func (s *ExecutionStorage) ListByTaskAndStatus(ctx context.Context, taskUUID string, statuses ...models.ExecutionStatus) ([]*models.TaskExecution, error) {
	anyStatuses := make([]interface{}, 0, len(statuses))
	for _, st := range statuses {
		anyStatuses = append(anyStatuses, st)
	}

	var execs []*models.TaskExecution
	query := badgerhold.Where("ScheduledTaskUUID").Eq(taskUUID).And("Status").In(anyStatuses...)
	if err := s.db.Store().Find(&execs, query); err != nil {
		return nil, err
	}
	return execs, nil
}

func (s *ExecutionStorage) CountByTaskSince(ctx context.Context, taskUUID string, sinceUnixDay int64) (int, error) {
	cutoff := time.UnixMilli(sinceUnixDay)
	query := badgerhold.Where("ScheduledTaskUUID").Eq(taskUUID).And("CreatedAt").Ge(cutoff)
	count, err := s.db.Store().Count(&models.TaskExecution{}, query)
	return count, err
}

func (s *ExecutionStorage) ListStalePending(ctx context.Context, createdBefore, startedBefore int64) ([]*models.TaskExecution, error) {
	createdCutoff := time.UnixMilli(createdBefore)
	startedCutoff := time.UnixMilli(startedBefore)

	var results []*models.TaskExecution

	var neverStarted []*models.TaskExecution
	q1 := badgerhold.Where("Status").Eq(models.ExecutionPending).
		And("StartedAt").IsNil().
		And("CreatedAt").Lt(createdCutoff)
	if err := s.db.Store().Find(&neverStarted, q1); err != nil {
		return nil, err
	}
	results = append(results, neverStarted...)

	var startedButStale []*models.TaskExecution
	q2 := badgerhold.Where("Status").Eq(models.ExecutionPending).
		And("StartedAt").Not().IsNil().
		And("StartedAt").Lt(&startedCutoff)
	if err := s.db.Store().Find(&startedButStale, q2); err != nil {
		return nil, err
	}
	results = append(results, startedButStale...)

	return results, nil
}

func (s *ExecutionStorage) ListStaleRunning(ctx context.Context, createdBefore int64) ([]*models.TaskExecution, error) {
	createdCutoff := time.UnixMilli(createdBefore)
	var execs []*models.TaskExecution
	query := badgerhold.Where("Status").Eq(models.ExecutionRunning).
		And("StartedAt").IsNil().
		And("CreatedAt").Lt(createdCutoff)
	if err := s.db.Store().Find(&execs, query); err != nil {
		return nil, err
	}
	return execs, nil
}
