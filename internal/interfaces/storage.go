// Package interfaces defines the storage and service contracts shared
// across the execution backbone, following the teacher's pattern of
// narrow, single-purpose interfaces over a common badgerhold-backed store.
package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/harvestyard/internal/models"
)

// ErrKeyNotFound mirrors the teacher's KeyValueStorage sentinel, used by
// the KV-backed config/settings store independent of the primary
// entity stores (which use apperr.ErrXNotFound instead).
var ErrKeyNotFound = errors.New("key not found")

// TaskStorage persists ScheduledTask rows.
type TaskStorage interface {
	Create(ctx context.Context, task *models.ScheduledTask) error
	Get(ctx context.Context, uuid string) (*models.ScheduledTask, error)
	Update(ctx context.Context, task *models.ScheduledTask) error
	Delete(ctx context.Context, uuid string) error
	ListActive(ctx context.Context) ([]*models.ScheduledTask, error)
	ListUpdatedSince(ctx context.Context, since int64) ([]*models.ScheduledTask, error)
	ListActiveByOwner(ctx context.Context, apiKeyID string) ([]*models.ScheduledTask, error)
}

// ExecutionStorage persists TaskExecution rows.
type ExecutionStorage interface {
	Create(ctx context.Context, exec *models.TaskExecution) error
	Get(ctx context.Context, uuid string) (*models.TaskExecution, error)
	Update(ctx context.Context, exec *models.TaskExecution) error
	ListByTask(ctx context.Context, taskUUID string) ([]*models.TaskExecution, error)
	ListByTaskAndStatus(ctx context.Context, taskUUID string, statuses ...models.ExecutionStatus) ([]*models.TaskExecution, error)
	CountByTaskSince(ctx context.Context, taskUUID string, sinceUnixDay int64) (int, error)
	ListStalePending(ctx context.Context, createdBefore, startedBefore int64) ([]*models.TaskExecution, error)
	ListStaleRunning(ctx context.Context, createdBefore int64) ([]*models.TaskExecution, error)
}

// JobStorage persists Job rows.
type JobStorage interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, uuid string) (*models.Job, error)
	GetByJobID(ctx context.Context, jobID string) (*models.Job, error)
	Update(ctx context.Context, job *models.Job) error
	ListRunningByType(ctx context.Context, jobType string) ([]*models.Job, error)
}

// JobResultStorage persists per-page JobResult rows.
type JobResultStorage interface {
	Append(ctx context.Context, result *models.JobResult) error
	ListByJob(ctx context.Context, jobUUID string, skip, limit int) ([]*models.JobResult, error)
}

// CacheStorage persists PageCache and MapCache metadata rows.
type CacheStorage interface {
	GetFreshestPage(ctx context.Context, urlHash, optionsHash string, scrapedAfter int64) (*models.PageCache, error)
	UpsertPage(ctx context.Context, entry *models.PageCache) error

	GetFreshestMap(ctx context.Context, domainHash string, source models.MapSource, discoveredAfter int64) (*models.MapCache, error)
	UpsertMap(ctx context.Context, entry *models.MapCache) error
	ListPagesByDomain(ctx context.Context, domain string) ([]*models.PageCache, error)
}

// LedgerStorage persists the append-only BillingLedger.
type LedgerStorage interface {
	// InsertIfAbsent inserts a row keyed by IdempotencyKey and reports
	// whether it was newly inserted (false means a prior row already
	// exists and the caller must treat this as a dedup no-op).
	InsertIfAbsent(ctx context.Context, row *models.BillingLedger) (inserted bool, err error)
	Update(ctx context.Context, row *models.BillingLedger) error
	GetByIdempotencyKey(ctx context.Context, key string) (*models.BillingLedger, error)
	SumChargedByJob(ctx context.Context, jobID string) (float64, error)
}

// OwnerStorage persists Owner (api_key) rows.
type OwnerStorage interface {
	Get(ctx context.Context, apiKeyID string) (*models.Owner, error)
	Update(ctx context.Context, owner *models.Owner) error
	// ApplyDelta atomically adjusts Credits by delta and returns the
	// updated owner; credits may go negative by design.
	ApplyDelta(ctx context.Context, apiKeyID string, delta float64) (*models.Owner, error)
}
