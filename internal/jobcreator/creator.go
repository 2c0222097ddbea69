// Package jobcreator implements the façade the Scheduler calls to turn a
// triggered ScheduledTask into a Job row plus a queue enqueue. app.New
// builds it after the Queue and before the Scheduler, which takes it as a
// dependency. The HTTP-facing creation path
// (direct /v1/scrape, /v1/crawl, etc. calls) is an out-of-scope
// collaborator; this package only covers scheduler-triggered creation.
package jobcreator

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvestyard/internal/apperr"
	"github.com/ternarybob/harvestyard/internal/common"
	"github.com/ternarybob/harvestyard/internal/interfaces"
	"github.com/ternarybob/harvestyard/internal/models"
	"github.com/ternarybob/harvestyard/internal/services/progress"
	"github.com/ternarybob/harvestyard/internal/services/queue"
)

// TemplateResolver resolves a template_id to its effective task_type and
// payload. The template store itself (templates/template_executions
// tables in spec §6) is out of scope here; this interface is the seam a
// full implementation would wire a template service into.
type TemplateResolver interface {
	Resolve(ctx context.Context, templateID string) (taskType models.TaskType, payload map[string]interface{}, err error)
}

// Creator implements scheduler.JobCreator.
type Creator struct {
	jobs       interfaces.JobStorage
	queueMgr   interfaces.QueueManager
	registry   *queue.Registry
	progress   *progress.Tracker
	templates  TemplateResolver
	logger     arbor.ILogger
	jobTTL     time.Duration
}

func NewCreator(jobs interfaces.JobStorage, queueMgr interfaces.QueueManager, registry *queue.Registry, progressTracker *progress.Tracker, templates TemplateResolver, jobTTL time.Duration, logger arbor.ILogger) *Creator {
	return &Creator{
		jobs:      jobs,
		queueMgr:  queueMgr,
		registry:  registry,
		progress:  progressTracker,
		templates: templates,
		jobTTL:    jobTTL,
		logger:    logger,
	}
}

// CreateJob creates the Job row for a triggered execution and enqueues
// it into the appropriate worker queue, resolving template tasks first.
func (c *Creator) CreateJob(ctx context.Context, task *models.ScheduledTask, exec *models.TaskExecution) (*models.Job, error) {
	taskType := task.TaskType
	payload := task.TaskPayload

	if taskType == models.TaskTypeTemplate {
		templateID, _ := task.TaskPayload["template_id"].(string)
		if templateID == "" || c.templates == nil {
			task.Stop("template_id missing or no template resolver configured")
			return nil, apperr.New(apperr.KindDependencyFail, "template_missing", "task references a template but none could be resolved")
		}
		resolvedType, resolvedPayload, err := c.templates.Resolve(ctx, templateID)
		if err != nil {
			task.Stop("linked template could not be resolved")
			return nil, apperr.Wrap(apperr.KindDependencyFail, "template_resolve_failed", "failed to resolve template", err)
		}
		taskType = resolvedType
		payload = resolvedPayload
	}

	engine := engineFor(taskType, payload)
	queueName := c.registry.QueueNameFor(string(taskType), engine)

	job := &models.Job{
		UUID:         common.NewJobID(),
		JobID:        common.NewJobID(),
		JobType:      string(taskType),
		JobQueueName: queueName,
		Engine:       engine,
		ApiKeyID:     task.ApiKeyID,
		Payload:      payload,
		Origin:       "scheduler",
		Status:       models.JobPending,
		Limit:        limitFromPayload(payload),
		ExpireAt:     time.Now().Add(c.jobTTL),
	}

	if err := c.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job row: %w", err)
	}

	// Synchronous task types execute inline in the scheduler worker (no
	// dedicated engine worker), per spec §4.1; they still get a Job row
	// for uniform accounting but are not enqueued for dispatch.
	if taskType == models.TaskTypeSearch || taskType == models.TaskTypeMap {
		return job, nil
	}

	if taskType == models.TaskTypeCrawl {
		if err := c.progress.EnsureStarted(ctx, job.JobID); err != nil {
			c.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("failed to initialize crawl progress state")
		}
	}

	policy := c.registry.PolicyFor(string(taskType))
	jobPayload, err := queue.MarshalJSON(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	if err := c.queueMgr.Enqueue(ctx, queueName, job.JobID, jobPayload, policy); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	job.Status = models.JobRunning
	if err := c.jobs.Update(ctx, job); err != nil {
		return nil, err
	}

	return job, nil
}

func engineFor(taskType models.TaskType, payload map[string]interface{}) models.Engine {
	if taskType == models.TaskTypeSearch || taskType == models.TaskTypeMap {
		return models.EngineNone
	}
	if e, ok := payload["engine"].(string); ok && e != "" {
		return models.Engine(e)
	}
	return models.EngineCheerio
}

func limitFromPayload(payload map[string]interface{}) int {
	if v, ok := payload["limit"].(float64); ok {
		return int(v)
	}
	return 0
}
