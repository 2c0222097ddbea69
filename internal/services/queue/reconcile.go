package queue

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvestyard/internal/interfaces"
	"github.com/ternarybob/harvestyard/internal/models"
)

// Reconciler implements the stale-execution cleanup table from spec
// §4.2, run periodically from the app's maintenance loop
// (app.reconcileLoop).
type Reconciler struct {
	executions interfaces.ExecutionStorage
	tasks      interfaces.TaskStorage
	jobs       interfaces.JobStorage
	logger     arbor.ILogger
}

func NewReconciler(executions interfaces.ExecutionStorage, tasks interfaces.TaskStorage, jobs interfaces.JobStorage, logger arbor.ILogger) *Reconciler {
	return &Reconciler{executions: executions, tasks: tasks, jobs: jobs, logger: logger}
}

const (
	pendingNoStartTimeout    = 5 * time.Minute
	pendingStartedTimeout    = 5 * time.Minute
	runningNeverPickedUp     = 10 * time.Minute
	scrapeRuntimeLimit       = 30 * time.Minute
	searchRuntimeLimit       = 60 * time.Minute
	mapRuntimeLimit          = 30 * time.Minute
	crawlInactivityLimit     = 60 * time.Minute
)

// Run executes one reconciliation pass over stale executions.
func (r *Reconciler) Run(ctx context.Context) {
	now := time.Now()

	stalePending, err := r.executions.ListStalePending(ctx, now.Add(-pendingNoStartTimeout).UnixMilli(), now.Add(-pendingStartedTimeout).UnixMilli())
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to list stale pending executions")
	}
	for _, exec := range stalePending {
		code := "STALE_PENDING_TIMEOUT"
		if exec.StartedAt != nil {
			code = "STALE_PENDING_STARTED"
		}
		r.failExecution(ctx, exec, code, "execution stalled before completion")
	}

	staleRunning, err := r.executions.ListStaleRunning(ctx, now.Add(-runningNeverPickedUp).UnixMilli())
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to list stale running executions")
	}
	for _, exec := range staleRunning {
		r.failExecution(ctx, exec, "STALE_RUNNING_TIMEOUT", "worker never picked up execution")
	}

	r.checkRuntimeTimeouts(ctx, now, models.TaskTypeScrape, scrapeRuntimeLimit)
	r.checkRuntimeTimeouts(ctx, now, models.TaskTypeSearch, searchRuntimeLimit)
	r.checkRuntimeTimeouts(ctx, now, models.TaskTypeMap, mapRuntimeLimit)
	r.checkCrawlInactivity(ctx, now)
}

func (r *Reconciler) checkRuntimeTimeouts(ctx context.Context, now time.Time, jobType models.TaskType, limit time.Duration) {
	jobs, err := r.jobs.ListRunningByType(ctx, string(jobType))
	if err != nil {
		r.logger.Warn().Err(err).Str("job_type", string(jobType)).Msg("failed to list running jobs for timeout check")
		return
	}
	for _, job := range jobs {
		if now.Sub(job.CreatedAt) > limit {
			r.failJob(ctx, job, "EXECUTION_TIMEOUT", "runtime exceeded type-specific limit")
		}
	}
}

func (r *Reconciler) checkCrawlInactivity(ctx context.Context, now time.Time) {
	jobs, err := r.jobs.ListRunningByType(ctx, string(models.TaskTypeCrawl))
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to list running crawl jobs for inactivity check")
		return
	}
	for _, job := range jobs {
		if now.Sub(job.UpdatedAt) > crawlInactivityLimit {
			r.failJob(ctx, job, "EXECUTION_TIMEOUT", "crawl_inactivity")
		}
	}
}

func (r *Reconciler) failExecution(ctx context.Context, exec *models.TaskExecution, code, reason string) {
	exec.Complete(models.ExecutionFailed, code, reason, "")
	if err := r.executions.Update(ctx, exec); err != nil {
		r.logger.Warn().Err(err).Str("execution_uuid", exec.UUID).Msg("failed to mark stale execution failed")
		return
	}

	task, err := r.tasks.Get(ctx, exec.ScheduledTaskUUID)
	if err != nil {
		return
	}
	task.RecordFailure(reason)
	_ = r.tasks.Update(ctx, task)
}

func (r *Reconciler) failJob(ctx context.Context, job *models.Job, code, reason string) {
	job.Status = models.JobFailed
	job.IsSuccess = false
	if err := r.jobs.Update(ctx, job); err != nil {
		r.logger.Warn().Err(err).Str("job_uuid", job.UUID).Msg("failed to mark timed-out job failed")
	}
	r.logger.Warn().Str("job_uuid", job.UUID).Str("code", code).Str("reason", reason).Msg("job timed out")
}
