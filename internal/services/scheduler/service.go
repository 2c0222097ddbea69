// Package scheduler implements the cron-driven trigger loop for
// recurring ScheduledTasks described in spec §4.1, adapted from the
// teacher's scheduler_service.go: a jobEntry/cron.Cron registration
// table, a panic-recovered background reconciliation loop, and a
// globalMu serializing trigger execution across all registered entries.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvestyard/internal/common"
	"github.com/ternarybob/harvestyard/internal/interfaces"
	"github.com/ternarybob/harvestyard/internal/models"
	"github.com/ternarybob/harvestyard/internal/services/billing"
	"github.com/ternarybob/harvestyard/internal/services/distlock"
)

// triggerEntry tracks one registered cron trigger for a ScheduledTask.
type triggerEntry struct {
	taskUUID  string
	cronEntry cron.EntryID
	isRunning bool
}

// Service is the cron-driven trigger loop.
type Service struct {
	tasks      interfaces.TaskStorage
	executions interfaces.ExecutionStorage
	owners     interfaces.OwnerStorage
	jobs       interfaces.JobStorage
	billing    *billing.Engine
	webhooks   interfaces.WebhookEmitter
	counters   interfaces.CounterStore
	jobCreator JobCreator
	logger     arbor.ILogger

	cronByTZ map[string]*cron.Cron // one cron.Cron per distinct IANA timezone, since robfig/cron is single-timezone per instance

	mu            sync.Mutex
	entries       map[string]*triggerEntry // keyed by task uuid
	globalMu      sync.Mutex               // serializes one trigger pipeline execution at a time, mirroring the teacher's globalMu
	running       bool
	lastSyncTime  time.Time

	pollLockName string
	pollLockTTL  time.Duration
	syncInterval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	creditsEnabled bool
}

// JobCreator is the façade the scheduler calls to create a Job and
// enqueue it for the appropriate worker pool; see internal/jobcreator.
type JobCreator interface {
	CreateJob(ctx context.Context, task *models.ScheduledTask, exec *models.TaskExecution) (*models.Job, error)
}

type Config struct {
	SyncInterval   time.Duration
	PollLockTTL    time.Duration
	CreditsEnabled bool
}

func NewService(
	tasks interfaces.TaskStorage,
	executions interfaces.ExecutionStorage,
	owners interfaces.OwnerStorage,
	jobs interfaces.JobStorage,
	billingEngine *billing.Engine,
	webhooks interfaces.WebhookEmitter,
	counters interfaces.CounterStore,
	jobCreator JobCreator,
	cfg Config,
	logger arbor.ILogger,
) *Service {
	if webhooks == nil {
		webhooks = interfaces.NoopWebhookEmitter{}
	}
	return &Service{
		tasks:          tasks,
		executions:     executions,
		owners:         owners,
		jobs:           jobs,
		billing:        billingEngine,
		webhooks:       webhooks,
		counters:       counters,
		jobCreator:     jobCreator,
		logger:         logger,
		cronByTZ:       make(map[string]*cron.Cron),
		entries:        make(map[string]*triggerEntry),
		pollLockName:   "scheduler:poll:lock",
		pollLockTTL:    cfg.PollLockTTL,
		syncInterval:   cfg.SyncInterval,
		creditsEnabled: cfg.CreditsEnabled,
		stopCh:         make(chan struct{}),
	}
}

// Start is idempotent: starting an already-running scheduler is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	s.sweepOrphanedJobs(ctx)

	if err := s.SyncFromDatabase(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("initial scheduler sync failed")
	}

	s.mu.Lock()
	for _, c := range s.cronByTZ {
		c.Start()
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.reconciliationLoop(ctx)

	s.logger.Info().Msg("scheduler started")
	return nil
}

// Stop is idempotent and does not cancel in-flight executions, per
// spec §9 ("Scheduler stop cancels reconciliation; it does not cancel
// running executions").
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	crons := make([]*cron.Cron, 0, len(s.cronByTZ))
	for _, c := range s.cronByTZ {
		crons = append(crons, c)
	}
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	for _, c := range crons {
		stopCtx := c.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(30 * time.Second):
		}
	}

	s.logger.Info().Msg("scheduler stopped")
	return nil
}

// AddTask registers a repeating trigger for task.
func (s *Service) AddTask(task *models.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addTaskLocked(task)
}

func (s *Service) addTaskLocked(task *models.ScheduledTask) error {
	if !task.IsEligibleForTrigger() {
		return nil
	}
	if _, exists := s.entries[task.UUID]; exists {
		s.removeTaskLocked(task.UUID)
	}

	tz := task.Timezone
	if tz == "" {
		tz = "UTC"
	}
	c, ok := s.cronByTZ[tz]
	if !ok {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("invalid timezone %q for task %s: %w", tz, task.UUID, err)
		}
		c = cron.New(cron.WithLocation(loc), cron.WithChain(cron.Recover(cronLogAdapter{s.logger})))
		s.cronByTZ[tz] = c
		if s.running {
			c.Start()
		}
	}

	taskUUID := task.UUID
	entryID, err := c.AddFunc(task.CronExpression, func() {
		s.fireTrigger(taskUUID)
	})
	if err != nil {
		return fmt.Errorf("failed to register cron trigger for task %s: %w", task.UUID, err)
	}

	s.entries[task.UUID] = &triggerEntry{taskUUID: task.UUID, cronEntry: entryID}
	return nil
}

// RemoveTask unregisters task's trigger.
func (s *Service) RemoveTask(taskUUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeTaskLocked(taskUUID)
	return nil
}

func (s *Service) removeTaskLocked(taskUUID string) {
	entry, ok := s.entries[taskUUID]
	if !ok {
		return
	}
	for _, c := range s.cronByTZ {
		c.Remove(entry.cronEntry)
	}
	delete(s.entries, taskUUID)
}

func (s *Service) fireTrigger(taskUUID string) {
	s.globalMu.Lock()
	defer s.globalMu.Unlock()

	ctx := context.Background()
	if err := s.ProcessTrigger(ctx, taskUUID); err != nil {
		s.logger.Error().Err(err).Str("task_uuid", taskUUID).Msg("trigger pipeline failed")
	}
}

// CancelExecution transitions a pending/running execution to cancelled.
func (s *Service) CancelExecution(ctx context.Context, executionUUID string) error {
	exec, err := s.executions.Get(ctx, executionUUID)
	if err != nil {
		return err
	}
	exec.Complete(models.ExecutionCancelled, "", "cancelled by request", "")
	if err := s.executions.Update(ctx, exec); err != nil {
		return err
	}
	return nil
}

// cronLogAdapter bridges robfig/cron's panic recovery into the arbor
// logger so a panicking trigger never crashes the process, mirroring the
// teacher's executeJob defer/recover pattern.
type cronLogAdapter struct {
	logger arbor.ILogger
}

func (a cronLogAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Debug().Msg(msg)
}

func (a cronLogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.logger.Error().Err(err).Str("stack", common.GetStackTrace()).Msg(msg)
}
