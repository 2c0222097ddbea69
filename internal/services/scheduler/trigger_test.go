package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvestyard/internal/apperr"
	"github.com/ternarybob/harvestyard/internal/models"
	"github.com/ternarybob/harvestyard/internal/services/billing"
	"github.com/ternarybob/harvestyard/internal/services/scheduler"
)

type fakeTaskStorage struct {
	mu    sync.Mutex
	tasks map[string]*models.ScheduledTask
}

func newFakeTaskStorage(tasks ...*models.ScheduledTask) *fakeTaskStorage {
	s := &fakeTaskStorage{tasks: make(map[string]*models.ScheduledTask)}
	for _, task := range tasks {
		s.tasks[task.UUID] = task
	}
	return s
}

func (s *fakeTaskStorage) Create(ctx context.Context, task *models.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.UUID] = task
	return nil
}

func (s *fakeTaskStorage) Get(ctx context.Context, uuid string) (*models.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[uuid]
	if !ok {
		return nil, apperr.ErrTaskNotFound
	}
	copied := *t
	return &copied, nil
}

func (s *fakeTaskStorage) Update(ctx context.Context, task *models.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.UUID] = task
	return nil
}

func (s *fakeTaskStorage) Delete(ctx context.Context, uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, uuid)
	return nil
}

func (s *fakeTaskStorage) ListActive(ctx context.Context) ([]*models.ScheduledTask, error) {
	return nil, nil
}

func (s *fakeTaskStorage) ListUpdatedSince(ctx context.Context, since int64) ([]*models.ScheduledTask, error) {
	return nil, nil
}

func (s *fakeTaskStorage) ListActiveByOwner(ctx context.Context, apiKeyID string) ([]*models.ScheduledTask, error) {
	return nil, nil
}

type fakeExecutionStorage struct {
	mu         sync.Mutex
	executions map[string]*models.TaskExecution
	byTask     map[string][]*models.TaskExecution
}

func newFakeExecutionStorage() *fakeExecutionStorage {
	return &fakeExecutionStorage{
		executions: make(map[string]*models.TaskExecution),
		byTask:     make(map[string][]*models.TaskExecution),
	}
}

func (s *fakeExecutionStorage) Create(ctx context.Context, exec *models.TaskExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[exec.UUID] = exec
	s.byTask[exec.ScheduledTaskUUID] = append(s.byTask[exec.ScheduledTaskUUID], exec)
	return nil
}

func (s *fakeExecutionStorage) Get(ctx context.Context, uuid string) (*models.TaskExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[uuid]
	if !ok {
		return nil, apperr.ErrExecutionNotFound
	}
	return e, nil
}

func (s *fakeExecutionStorage) Update(ctx context.Context, exec *models.TaskExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[exec.UUID] = exec
	return nil
}

func (s *fakeExecutionStorage) ListByTask(ctx context.Context, taskUUID string) ([]*models.TaskExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byTask[taskUUID], nil
}

func (s *fakeExecutionStorage) ListByTaskAndStatus(ctx context.Context, taskUUID string, statuses ...models.ExecutionStatus) ([]*models.TaskExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[models.ExecutionStatus]bool)
	for _, st := range statuses {
		want[st] = true
	}
	var out []*models.TaskExecution
	for _, e := range s.byTask[taskUUID] {
		if want[e.Status] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeExecutionStorage) CountByTaskSince(ctx context.Context, taskUUID string, sinceUnixDay int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byTask[taskUUID]), nil
}

func (s *fakeExecutionStorage) ListStalePending(ctx context.Context, createdBefore, startedBefore int64) ([]*models.TaskExecution, error) {
	return nil, nil
}

func (s *fakeExecutionStorage) ListStaleRunning(ctx context.Context, createdBefore int64) ([]*models.TaskExecution, error) {
	return nil, nil
}

type fakeJobStorageForScheduler struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func newFakeJobStorageForScheduler(jobs ...*models.Job) *fakeJobStorageForScheduler {
	s := &fakeJobStorageForScheduler{jobs: make(map[string]*models.Job)}
	for _, j := range jobs {
		s.jobs[j.UUID] = j
	}
	return s
}

func (s *fakeJobStorageForScheduler) Create(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.UUID] = job
	return nil
}

func (s *fakeJobStorageForScheduler) Get(ctx context.Context, uuid string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[uuid]
	if !ok {
		return nil, apperr.ErrJobNotFound
	}
	return j, nil
}

func (s *fakeJobStorageForScheduler) GetByJobID(ctx context.Context, jobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.JobID == jobID {
			return j, nil
		}
	}
	return nil, apperr.ErrJobNotFound
}

func (s *fakeJobStorageForScheduler) Update(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.UUID] = job
	return nil
}

func (s *fakeJobStorageForScheduler) ListRunningByType(ctx context.Context, jobType string) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, j := range s.jobs {
		if j.JobType == jobType && j.Status == models.JobRunning {
			out = append(out, j)
		}
	}
	return out, nil
}

type fakeJobCreator struct {
	calls int
}

func (c *fakeJobCreator) CreateJob(ctx context.Context, task *models.ScheduledTask, exec *models.TaskExecution) (*models.Job, error) {
	c.calls++
	return &models.Job{UUID: "job-" + exec.UUID, ApiKeyID: task.ApiKeyID}, nil
}

func testLogger() arbor.ILogger {
	return arbor.NewLogger()
}

func baseTask() *models.ScheduledTask {
	return &models.ScheduledTask{
		UUID:            "task-1",
		ApiKeyID:        "key-1",
		CronExpression:  "*/5 * * * *",
		Timezone:        "UTC",
		TaskType:        models.TaskTypeScrape,
		ConcurrencyMode: models.ConcurrencySkip,
		IsActive:        true,
	}
}

// S5: a task configured with concurrency=skip does not fire a second
// execution while one is already in flight.
func TestProcessTrigger_ConcurrencySkipWithInFlightExecution(t *testing.T) {
	ctx := context.Background()
	task := baseTask()
	tasks := newFakeTaskStorage(task)
	executions := newFakeExecutionStorage()
	creator := &fakeJobCreator{}

	svc := scheduler.NewService(tasks, executions, nil, nil, billing.NewEngine(nil, nil, nil, false, testLogger()), nil, nil, creator,
		scheduler.Config{CreditsEnabled: false}, testLogger())

	// Seed one already-running execution for this task.
	require.NoError(t, executions.Create(ctx, &models.TaskExecution{
		UUID:              "exec-running",
		ScheduledTaskUUID: task.UUID,
		Status:            models.ExecutionRunning,
	}))

	require.NoError(t, svc.ProcessTrigger(ctx, task.UUID))

	require.Equal(t, 0, creator.calls)
	execs, _ := executions.ListByTask(ctx, task.UUID)
	require.Len(t, execs, 1, "no new execution should have been created")
}

// A task with no in-flight execution fires normally and creates a job.
func TestProcessTrigger_FiresWhenNoInFlightExecution(t *testing.T) {
	ctx := context.Background()
	task := baseTask()
	tasks := newFakeTaskStorage(task)
	executions := newFakeExecutionStorage()
	creator := &fakeJobCreator{}

	svc := scheduler.NewService(tasks, executions, nil, nil, billing.NewEngine(nil, nil, nil, false, testLogger()), nil, nil, creator,
		scheduler.Config{CreditsEnabled: false}, testLogger())

	require.NoError(t, svc.ProcessTrigger(ctx, task.UUID))

	require.Equal(t, 1, creator.calls)
	execs, _ := executions.ListByTask(ctx, task.UUID)
	require.Len(t, execs, 1)
	require.Equal(t, models.ExecutionRunning, execs[0].Status)

	updated, err := tasks.Get(ctx, task.UUID)
	require.NoError(t, err)
	require.Equal(t, 1, updated.TotalExecutions)
	require.Equal(t, 1, updated.SuccessfulExecutions)
}

// A paused or inactive task never fires.
func TestProcessTrigger_IneligibleTaskIsNoop(t *testing.T) {
	ctx := context.Background()
	task := baseTask()
	task.IsPaused = true
	tasks := newFakeTaskStorage(task)
	executions := newFakeExecutionStorage()
	creator := &fakeJobCreator{}

	svc := scheduler.NewService(tasks, executions, nil, nil, billing.NewEngine(nil, nil, nil, false, testLogger()), nil, nil, creator,
		scheduler.Config{CreditsEnabled: false}, testLogger())

	require.NoError(t, svc.ProcessTrigger(ctx, task.UUID))
	require.Equal(t, 0, creator.calls)
}

// A job left "running" from before a restart is failed on Start, before
// the steady-state reconciliation loop takes over.
func TestStart_SweepsOrphanedRunningJobs(t *testing.T) {
	ctx := context.Background()
	tasks := newFakeTaskStorage()
	executions := newFakeExecutionStorage()
	jobs := newFakeJobStorageForScheduler(
		&models.Job{UUID: "orphan-1", JobID: "job-orphan-1", JobType: string(models.TaskTypeScrape), Status: models.JobRunning},
		&models.Job{UUID: "fresh-1", JobID: "job-fresh-1", JobType: string(models.TaskTypeScrape), Status: models.JobPending},
	)
	creator := &fakeJobCreator{}

	svc := scheduler.NewService(tasks, executions, nil, jobs, billing.NewEngine(nil, nil, nil, false, testLogger()), nil, nil, creator,
		scheduler.Config{CreditsEnabled: false, SyncInterval: time.Hour, PollLockTTL: time.Minute}, testLogger())

	require.NoError(t, svc.Start(ctx))
	require.NoError(t, svc.Stop(ctx))

	orphan, err := jobs.Get(ctx, "orphan-1")
	require.NoError(t, err)
	require.Equal(t, models.JobFailed, orphan.Status)
	require.False(t, orphan.IsSuccess)

	fresh, err := jobs.Get(ctx, "fresh-1")
	require.NoError(t, err)
	require.Equal(t, models.JobPending, fresh.Status)
}

// A task that hits MaxConsecutiveFailures is auto-paused.
func TestRecordFailure_AutoPausesAtThreshold(t *testing.T) {
	task := baseTask()
	for i := 0; i < models.MaxConsecutiveFailures-1; i++ {
		task.RecordFailure("transient error")
		require.False(t, task.IsPaused)
	}
	task.RecordFailure("transient error")
	require.True(t, task.IsPaused)
}
