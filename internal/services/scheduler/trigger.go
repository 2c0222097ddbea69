package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ternarybob/harvestyard/internal/common"
	"github.com/ternarybob/harvestyard/internal/interfaces"
	"github.com/ternarybob/harvestyard/internal/models"
)

// estimateRequiredCredits mirrors the task's min_credits_required floor
// combined with a type-specific estimate; the real per-type cost model
// is an out-of-scope collaborator (the extraction pipeline), so this
// keeps only the floor the spec requires the scheduler itself to
// enforce.
func estimateRequiredCredits(task *models.ScheduledTask) float64 {
	return task.MinCreditsRequired
}

// ProcessTrigger executes the full trigger pipeline from spec §4.1 for
// one task firing, creating and dispatching at most one Job.
func (s *Service) ProcessTrigger(ctx context.Context, taskUUID string) error {
	task, err := s.tasks.Get(ctx, taskUUID)
	if err != nil {
		return err
	}

	// Step 1: eligibility.
	if !task.IsEligibleForTrigger() {
		return nil
	}

	// Step 2: credit gate.
	if s.creditsEnabled && s.billing != nil && s.billing.Enabled() {
		if task.ApiKeyID == "" {
			task.Stop("no api_key bound to task")
			_ = s.tasks.Update(ctx, task)
			return nil
		}

		owner, err := s.owners.Get(ctx, task.ApiKeyID)
		if err != nil {
			task.Stop("bound api_key not found")
			_ = s.tasks.Update(ctx, task)
			return nil
		}

		required := estimateRequiredCredits(task)
		if owner.Credits < required {
			task.Pause("insufficient credits")
			s.mu.Lock()
			s.removeTaskLocked(task.UUID)
			s.mu.Unlock()
			_ = s.tasks.Update(ctx, task)
			s.webhooks.Emit(ctx, interfaces.WebhookEvent{Type: interfaces.EventTaskPaused, ApiKeyID: task.ApiKeyID, Subject: task.UUID})
			return nil
		}
	}

	// Step 3: concurrency gate.
	if task.ConcurrencyMode == models.ConcurrencySkip {
		inFlight, err := s.executions.ListByTaskAndStatus(ctx, task.UUID, models.ExecutionPending, models.ExecutionRunning)
		if err != nil {
			return err
		}
		if len(inFlight) > 0 {
			s.advanceNextExecution(ctx, task)
			return nil
		}
	}

	// Step 4: daily cap.
	if task.MaxExecutionsPerDay > 0 {
		startOfDay := startOfLocalDay(time.Now())
		count, err := s.executions.CountByTaskSince(ctx, task.UUID, startOfDay.UnixMilli())
		if err != nil {
			return err
		}
		if count >= task.MaxExecutionsPerDay {
			s.advanceNextExecution(ctx, task)
			return nil
		}
	}

	// Step 5: idempotency key and execution numbering.
	now := time.Now()
	idempotencyKey := common.IdempotencyKeyForExecution(task.UUID, now)
	executionNumber := task.TotalExecutions + 1

	exec := &models.TaskExecution{
		UUID:              common.NewExecutionID(),
		ScheduledTaskUUID: task.UUID,
		ExecutionNumber:   executionNumber,
		IdempotencyKey:    idempotencyKey,
		Status:            models.ExecutionPending,
		ScheduledFor:      now,
		TriggeredBy:       models.TriggeredByScheduler,
	}

	// Step 6: create execution, create+enqueue job; any failure here
	// rolls back to a failed execution instead of pausing the task,
	// per the non-retryable-vs-transient distinction in spec §7.
	if err := s.executions.Create(ctx, exec); err != nil {
		return err
	}

	job, createErr := s.jobCreator.CreateJob(ctx, task, exec)
	if createErr != nil {
		exec.Complete(models.ExecutionFailed, "JOB_CREATE_FAILED", createErr.Error(), "")
		_ = s.executions.Update(ctx, exec)
		s.recordFailureAndReschedule(ctx, task, "job creation failed")
		s.webhooks.Emit(ctx, interfaces.WebhookEvent{Type: interfaces.EventTaskFailed, ApiKeyID: task.ApiKeyID, Subject: task.UUID})
		return createErr
	}

	exec.MarkRunning(job.UUID)
	if err := s.executions.Update(ctx, exec); err != nil {
		return err
	}

	// Step 7: advance schedule and counters.
	task.TotalExecutions++
	task.RecordSuccess()
	now2 := time.Now()
	task.LastExecutionAt = &now2
	s.advanceNextExecution(ctx, task)

	// Step 8: webhook.
	s.webhooks.Emit(ctx, interfaces.WebhookEvent{Type: interfaces.EventTaskExecuted, ApiKeyID: task.ApiKeyID, Subject: task.UUID, Data: map[string]interface{}{
		"execution_uuid": exec.UUID,
		"job_uuid":       job.UUID,
	}})

	return nil
}

// recordFailureAndReschedule applies the failure-path accounting shared
// by every trigger-pipeline error branch: bump failure counters, maybe
// auto-pause, and still recompute next_execution_at so a failing task
// never stalls.
func (s *Service) recordFailureAndReschedule(ctx context.Context, task *models.ScheduledTask, reason string) {
	task.RecordFailure(reason)
	s.advanceNextExecution(ctx, task)
	if task.IsPaused {
		s.mu.Lock()
		s.removeTaskLocked(task.UUID)
		s.mu.Unlock()
	}
}

// advanceNextExecution recomputes next_execution_at from the cron
// expression and persists the task.
func (s *Service) advanceNextExecution(ctx context.Context, task *models.ScheduledTask) {
	if next, err := nextCronTime(task.CronExpression, task.Timezone); err == nil {
		task.NextExecutionAt = next
	}
	if err := s.tasks.Update(ctx, task); err != nil {
		s.logger.Warn().Err(err).Str("task_uuid", task.UUID).Msg("failed to persist task after trigger accounting")
	}
}

var fiveFieldCronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func nextCronTime(expr, tz string) (*time.Time, error) {
	schedule, err := fiveFieldCronParser.Parse(expr)
	if err != nil {
		return nil, err
	}
	loc := time.UTC
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	next := schedule.Next(time.Now().In(loc))
	return &next, nil
}

func startOfLocalDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
