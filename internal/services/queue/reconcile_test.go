package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvestyard/internal/apperr"
	"github.com/ternarybob/harvestyard/internal/models"
	"github.com/ternarybob/harvestyard/internal/services/queue"
)

type fakeJobStorage struct {
	mu      sync.Mutex
	jobs    map[string]*models.Job
	running map[string][]*models.Job
}

func newFakeJobStorage(running ...*models.Job) *fakeJobStorage {
	s := &fakeJobStorage{jobs: make(map[string]*models.Job), running: make(map[string][]*models.Job)}
	for _, j := range running {
		s.jobs[j.UUID] = j
		s.running[j.JobType] = append(s.running[j.JobType], j)
	}
	return s
}

func (s *fakeJobStorage) Create(ctx context.Context, job *models.Job) error { return nil }

func (s *fakeJobStorage) Get(ctx context.Context, uuid string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[uuid]
	if !ok {
		return nil, apperr.ErrJobNotFound
	}
	return j, nil
}

func (s *fakeJobStorage) GetByJobID(ctx context.Context, jobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.JobID == jobID {
			return j, nil
		}
	}
	return nil, apperr.ErrJobNotFound
}

func (s *fakeJobStorage) Update(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.UUID] = job
	return nil
}

func (s *fakeJobStorage) ListRunningByType(ctx context.Context, jobType string) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[jobType], nil
}

type fakeExecutionStorageForReconcile struct{}

func (fakeExecutionStorageForReconcile) Create(ctx context.Context, exec *models.TaskExecution) error {
	return nil
}
func (fakeExecutionStorageForReconcile) Get(ctx context.Context, uuid string) (*models.TaskExecution, error) {
	return nil, apperr.ErrExecutionNotFound
}
func (fakeExecutionStorageForReconcile) Update(ctx context.Context, exec *models.TaskExecution) error {
	return nil
}
func (fakeExecutionStorageForReconcile) ListByTask(ctx context.Context, taskUUID string) ([]*models.TaskExecution, error) {
	return nil, nil
}
func (fakeExecutionStorageForReconcile) ListByTaskAndStatus(ctx context.Context, taskUUID string, statuses ...models.ExecutionStatus) ([]*models.TaskExecution, error) {
	return nil, nil
}
func (fakeExecutionStorageForReconcile) CountByTaskSince(ctx context.Context, taskUUID string, sinceUnixDay int64) (int, error) {
	return 0, nil
}
func (fakeExecutionStorageForReconcile) ListStalePending(ctx context.Context, createdBefore, startedBefore int64) ([]*models.TaskExecution, error) {
	return nil, nil
}
func (fakeExecutionStorageForReconcile) ListStaleRunning(ctx context.Context, createdBefore int64) ([]*models.TaskExecution, error) {
	return nil, nil
}

type fakeTaskStorageForReconcile struct{}

func (fakeTaskStorageForReconcile) Create(ctx context.Context, task *models.ScheduledTask) error {
	return nil
}
func (fakeTaskStorageForReconcile) Get(ctx context.Context, uuid string) (*models.ScheduledTask, error) {
	return nil, apperr.ErrTaskNotFound
}
func (fakeTaskStorageForReconcile) Update(ctx context.Context, task *models.ScheduledTask) error {
	return nil
}
func (fakeTaskStorageForReconcile) Delete(ctx context.Context, uuid string) error { return nil }
func (fakeTaskStorageForReconcile) ListActive(ctx context.Context) ([]*models.ScheduledTask, error) {
	return nil, nil
}
func (fakeTaskStorageForReconcile) ListUpdatedSince(ctx context.Context, since int64) ([]*models.ScheduledTask, error) {
	return nil, nil
}
func (fakeTaskStorageForReconcile) ListActiveByOwner(ctx context.Context, apiKeyID string) ([]*models.ScheduledTask, error) {
	return nil, nil
}

// S6: a running scrape job that has exceeded its type-specific runtime
// limit is marked failed by the reconciler's sweep.
func TestReconciler_Run_FailsRunningJobPastRuntimeLimit(t *testing.T) {
	ctx := context.Background()
	staleJob := &models.Job{
		UUID:      "job-stale",
		JobType:   string(models.TaskTypeScrape),
		Status:    models.JobRunning,
		CreatedAt: time.Now().Add(-45 * time.Minute),
		UpdatedAt: time.Now().Add(-45 * time.Minute),
	}
	jobs := newFakeJobStorage(staleJob)
	reconciler := queue.NewReconciler(fakeExecutionStorageForReconcile{}, fakeTaskStorageForReconcile{}, jobs, arbor.NewLogger())

	reconciler.Run(ctx)

	updated, err := jobs.Get(ctx, "job-stale")
	require.NoError(t, err)
	require.Equal(t, models.JobFailed, updated.Status)
	require.False(t, updated.IsSuccess)
}

// A scrape job still within its runtime limit is left untouched.
func TestReconciler_Run_LeavesFreshJobsRunning(t *testing.T) {
	ctx := context.Background()
	freshJob := &models.Job{
		UUID:      "job-fresh",
		JobType:   string(models.TaskTypeScrape),
		Status:    models.JobRunning,
		CreatedAt: time.Now().Add(-5 * time.Minute),
		UpdatedAt: time.Now().Add(-5 * time.Minute),
	}
	jobs := newFakeJobStorage(freshJob)
	reconciler := queue.NewReconciler(fakeExecutionStorageForReconcile{}, fakeTaskStorageForReconcile{}, jobs, arbor.NewLogger())

	reconciler.Run(ctx)

	updated, err := jobs.Get(ctx, "job-fresh")
	require.NoError(t, err)
	require.Equal(t, models.JobRunning, updated.Status)
}
