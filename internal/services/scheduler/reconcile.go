package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/ternarybob/harvestyard/internal/interfaces"
	"github.com/ternarybob/harvestyard/internal/models"
	"github.com/ternarybob/harvestyard/internal/services/distlock"
)

// reconciliationLoop runs the distributed-lock-guarded reconcile pass on
// a ticker until Stop is called, absorbing panics the way the teacher's
// staleJobDetectorLoop does so one bad tick never kills the scheduler.
func (s *Service) reconciliationLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runReconcileTickSafely(ctx)
		}
	}
}

func (s *Service) runReconcileTickSafely(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("panic", toString(r)).Msg("recovered from panic in scheduler reconciliation tick")
		}
	}()

	ran, err := distlock.WithLock(ctx, s.counters, s.pollLockName, s.pollLockTTL, func(lockCtx context.Context) error {
		return s.reconcileOnce(lockCtx)
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("scheduler reconciliation tick failed")
	}
	if !ran {
		s.logger.Debug().Msg("did not win scheduler poll lock this tick")
	}
}

func toString(v interface{}) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "unknown panic"
}

// reconcileOnce runs exactly once, holding the distributed poll lock:
// reads tasks changed since the last sync, registers/unregisters
// triggers, and enforces subscription limits. Stale executions are
// cleaned by queue.Reconciler on the app's own maintenance ticker, not
// here.
func (s *Service) reconcileOnce(ctx context.Context) error {
	capturedAt := time.Now()

	changed, err := s.tasks.ListUpdatedSince(ctx, s.lastSyncTime.UnixMilli())
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, task := range changed {
		if !task.IsEligibleForTrigger() {
			s.removeTaskLocked(task.UUID)
			continue
		}
		if err := s.addTaskLocked(task); err != nil {
			s.logger.Warn().Err(err).Str("task_uuid", task.UUID).Msg("failed to register trigger during reconciliation")
		}
	}
	s.mu.Unlock()

	s.lastSyncTime = capturedAt

	s.enforceSubscriptionLimits(ctx)

	return nil
}

// orphanedJobTypes lists the job types that execute in a worker queue and
// so can be left stuck "running" if the process dies mid-crawl; search
// and map tasks execute inline in the scheduler and finish or fail within
// the same trigger call, so they can never be orphaned this way.
var orphanedJobTypes = []models.TaskType{
	models.TaskTypeScrape,
	models.TaskTypeCrawl,
}

// sweepOrphanedJobs fails every job left "running" from before this
// process started, since no worker is still holding it: a clean restart
// means whatever progress state or queue message backed it is gone.
// Run once on Start, before the steady-state reconciliation loop (which
// only catches jobs that go stale *while this process is alive*) takes over.
func (s *Service) sweepOrphanedJobs(ctx context.Context) {
	if s.jobs == nil {
		return
	}
	for _, jobType := range orphanedJobTypes {
		jobs, err := s.jobs.ListRunningByType(ctx, string(jobType))
		if err != nil {
			s.logger.Warn().Err(err).Str("job_type", string(jobType)).Msg("failed to list running jobs for orphan sweep")
			continue
		}
		for _, job := range jobs {
			job.Status = models.JobFailed
			job.IsSuccess = false
			if err := s.jobs.Update(ctx, job); err != nil {
				s.logger.Warn().Err(err).Str("job_uuid", job.UUID).Msg("failed to fail orphaned job on startup")
				continue
			}
			s.logger.Warn().Str("job_uuid", job.UUID).Str("job_id", job.JobID).Msg("failed orphaned running job found at startup")
		}
	}
}

// SyncFromDatabase reconciles registered triggers against every
// currently active task, used on startup before the ticking
// reconciliation loop takes over incremental syncs.
func (s *Service) SyncFromDatabase(ctx context.Context) error {
	capturedAt := time.Now()

	active, err := s.tasks.ListActive(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, task := range active {
		if err := s.addTaskLocked(task); err != nil {
			s.logger.Warn().Err(err).Str("task_uuid", task.UUID).Msg("failed to register trigger during sync")
		}
	}
	s.mu.Unlock()

	s.lastSyncTime = capturedAt
	return nil
}

// ownerTaskGroup groups a set of active tasks under one owner for
// subscription-tier enforcement.
type ownerTaskGroup struct {
	apiKeyID string
	tasks    []*models.ScheduledTask
}

// enforceSubscriptionLimits pauses the newest tasks (by creation time)
// past each owner's tier limit, per spec §4.1's reconciliation step.
func (s *Service) enforceSubscriptionLimits(ctx context.Context) {
	active, err := s.tasks.ListActive(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to list active tasks for subscription limit enforcement")
		return
	}

	byOwner := make(map[string][]*models.ScheduledTask)
	for _, t := range active {
		byOwner[t.ApiKeyID] = append(byOwner[t.ApiKeyID], t)
	}

	for apiKeyID, tasks := range byOwner {
		owner, err := s.owners.Get(ctx, apiKeyID)
		if err != nil {
			continue
		}
		limit := models.LimitFor(owner.Tier)
		if len(tasks) <= limit {
			continue
		}

		sort.Slice(tasks, func(i, j int) bool {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		})

		excess := len(tasks) - limit
		for i := 0; i < excess; i++ {
			task := tasks[i]
			task.Pause("subscription tier task limit exceeded")
			if err := s.tasks.Update(ctx, task); err != nil {
				s.logger.Warn().Err(err).Str("task_uuid", task.UUID).Msg("failed to persist tier-limit pause")
				continue
			}
			s.mu.Lock()
			s.removeTaskLocked(task.UUID)
			s.mu.Unlock()
			s.webhooks.Emit(ctx, interfaces.WebhookEvent{Type: interfaces.EventTaskPaused, ApiKeyID: apiKeyID, Subject: task.UUID})
		}
	}
}
