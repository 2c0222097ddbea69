// Package progress implements the Crawl Progress Tracker described in
// spec §4.3: distributed counters for fan-out crawls, atomic
// finalization, and per-page billing, built on the shared CounterStore
// the way the teacher's event service brackets producer/consumer state
// with a mutex -- replaced here by atomic operations on the shared store
// (HIncrBy counters, an HSetNX finalize flag), since crawls are worked by
// a fleet, not one process. No lock is taken.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvestyard/internal/common"
	"github.com/ternarybob/harvestyard/internal/interfaces"
	"github.com/ternarybob/harvestyard/internal/models"
	"github.com/ternarybob/harvestyard/internal/services/billing"
)

const pendingFinalizeSetKey = "jobs:pending_finalize"

func hashKeyFor(jobID string) string {
	return fmt.Sprintf("crawl:%s", jobID)
}

func summaryKeyFor(jobID string) string {
	return fmt.Sprintf("crawl:summary:%s", jobID)
}

// Tracker coordinates crawl-wide progress counters.
type Tracker struct {
	counters interfaces.CounterStore
	jobs     interfaces.JobStorage
	billing  *billing.Engine
	webhooks interfaces.WebhookEmitter
	logger   arbor.ILogger

	finalizeEnrollFraction float64
}

func NewTracker(counters interfaces.CounterStore, jobs interfaces.JobStorage, billingEngine *billing.Engine, webhooks interfaces.WebhookEmitter, finalizeEnrollFraction float64, logger arbor.ILogger) *Tracker {
	if webhooks == nil {
		webhooks = interfaces.NoopWebhookEmitter{}
	}
	return &Tracker{
		counters:               counters,
		jobs:                   jobs,
		billing:                billingEngine,
		webhooks:                webhooks,
		finalizeEnrollFraction: finalizeEnrollFraction,
		logger:                  logger,
	}
}

// EnsureStarted sets started_at once; subsequent calls are no-ops.
func (t *Tracker) EnsureStarted(ctx context.Context, jobID string) error {
	hashKey := hashKeyFor(jobID)
	_, err := t.counters.HSetNX(ctx, hashKey, "started_at", strconv.FormatInt(time.Now().UnixMilli(), 10))
	return err
}

// BeginEnqueue brackets a producer adding child URLs.
func (t *Tracker) BeginEnqueue(ctx context.Context, jobID string) error {
	_, err := t.counters.HIncrBy(ctx, hashKeyFor(jobID), "enqueuing", 1)
	return err
}

// EndEnqueue closes a BeginEnqueue bracket, floored at zero.
func (t *Tracker) EndEnqueue(ctx context.Context, jobID string) error {
	_, err := t.counters.HDecrByFloor(ctx, hashKeyFor(jobID), "enqueuing", 1)
	return err
}

// IncrementEnqueued atomically adds n to the enqueued counter and ensures
// started_at is set.
func (t *Tracker) IncrementEnqueued(ctx context.Context, jobID string, n int64) error {
	if err := t.EnsureStarted(ctx, jobID); err != nil {
		return err
	}
	_, err := t.counters.HIncrBy(ctx, hashKeyFor(jobID), "enqueued", n)
	return err
}

// Snapshot reads the current counters for a crawl.
func (t *Tracker) Snapshot(ctx context.Context, jobID string) (*models.CrawlProgressState, error) {
	hashKey := hashKeyFor(jobID)
	fields, err := t.counters.HGetAll(ctx, hashKey)
	if err != nil {
		return nil, err
	}
	return stateFromFields(jobID, fields), nil
}

func stateFromFields(jobID string, fields map[string]string) *models.CrawlProgressState {
	state := &models.CrawlProgressState{JobID: jobID}
	state.Enqueued = parseInt64(fields["enqueued"])
	state.Done = parseInt64(fields["done"])
	state.Succeeded = parseInt64(fields["succeeded"])
	state.Failed = parseInt64(fields["failed"])
	state.Enqueuing = parseInt64(fields["enqueuing"])
	state.Finalized = fields["finalized"] == "1"
	state.Cancelled = fields["cancelled"] == "1"
	if v, ok := fields["started_at"]; ok && v != "" {
		ts := time.UnixMilli(parseInt64(v))
		state.StartedAt = &ts
	}
	if v, ok := fields["finished_at"]; ok && v != "" {
		ts := time.UnixMilli(parseInt64(v))
		state.FinishedAt = &ts
	}
	return state
}

func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// MarkPageDone records the outcome of one page. Returns the updated
// snapshot. If the crawl is already finalized, this is a no-op returning
// the current snapshot.
func (t *Tracker) MarkPageDone(ctx context.Context, jobID string, success bool, limit int) (*models.CrawlProgressState, error) {
	state, err := t.Snapshot(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if state.Finalized || state.Cancelled {
		return state, nil
	}

	hashKey := hashKeyFor(jobID)
	done, err := t.counters.HIncrBy(ctx, hashKey, "done", 1)
	if err != nil {
		return nil, err
	}
	field := "failed"
	if success {
		field = "succeeded"
	}
	if _, err := t.counters.HIncrBy(ctx, hashKey, field, 1); err != nil {
		return nil, err
	}

	job, err := t.jobs.GetByJobID(ctx, jobID)
	if err == nil {
		job.Completed++
		if !success {
			job.Failed++
		}
		_ = t.jobs.Update(ctx, job)

		// Per-page billing: the initial page is covered by the up-front
		// charge made when the crawl was created, so billing starts at
		// done > 1.
		if t.billing != nil && t.billing.Enabled() && success && done > 1 {
			idempotencyKey := common.IdempotencyKeyForPageCharge(jobID, int(done))
			result, chargeErr := t.billing.ChargeDelta(ctx, jobID, 1, "crawl_page_success", idempotencyKey, nil)
			if chargeErr != nil {
				t.logger.Warn().Err(chargeErr).Str("job_id", jobID).Msg("per-page billing charge failed")
			} else if result.RemainingCredits <= 0 {
				if enrollErr := t.counters.SAdd(ctx, pendingFinalizeSetKey, jobID); enrollErr != nil {
					t.logger.Warn().Err(enrollErr).Str("job_id", jobID).Msg("failed to enroll job in finalize set after credit exhaustion")
				}
			}
		}

		if limit > 0 && float64(done) >= float64(limit)*t.finalizeEnrollFraction {
			if err := t.counters.SAdd(ctx, pendingFinalizeSetKey, jobID); err != nil {
				t.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to enroll job in finalize set")
			}
		}
	}

	return t.Snapshot(ctx, jobID)
}

// TryFinalize performs the atomic check-and-set finalization policy from
// spec §4.3. Only one caller across the fleet observes true for a given
// crawl, enforced by the distributed CAS below on the "finalized" field.
func (t *Tracker) TryFinalize(ctx context.Context, jobID string, limit int) (bool, error) {
	state, err := t.Snapshot(ctx, jobID)
	if err != nil {
		return false, err
	}
	if state.Finalized {
		return false, nil
	}

	reachedLimit := state.ReachedLimit(limit)
	queueDrained := state.QueueDrained()
	if !reachedLimit && !queueDrained {
		return false, nil
	}

	hashKey := hashKeyFor(jobID)
	// HSetNX on "finalized" is the compare-and-set: only the caller that
	// wins the race sets it from absent to "1".
	won, err := t.counters.HSetNX(ctx, hashKey, "finalized", "1")
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}

	now := time.Now()
	if err := t.counters.HSet(ctx, hashKey, "finished_at", strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		return false, err
	}

	state.Finalized = true
	state.FinishedAt = &now

	if err := t.finalizeJob(ctx, jobID, state); err != nil {
		return true, err
	}

	_ = t.counters.SRem(ctx, pendingFinalizeSetKey, jobID)

	return true, nil
}

func (t *Tracker) finalizeJob(ctx context.Context, jobID string, state *models.CrawlProgressState) error {
	job, err := t.jobs.GetByJobID(ctx, jobID)
	if err != nil {
		return err
	}

	if state.Succeeded == 0 {
		job.Status = models.JobFailed
		job.IsSuccess = false
	} else {
		job.Status = models.JobCompleted
		job.IsSuccess = true
	}
	if err := t.jobs.Update(ctx, job); err != nil {
		return err
	}

	summary := models.CrawlSummary{
		JobID:      jobID,
		Total:      state.Enqueued,
		Succeeded:  state.Succeeded,
		Failed:     state.Failed,
		StartedAt:  state.StartedAt,
		FinishedAt: state.FinishedAt,
	}
	payload, err := json.Marshal(summary)
	if err == nil {
		if err := t.counters.Set(ctx, summaryKeyFor(jobID), string(payload), 7*24*time.Hour); err != nil {
			t.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to persist crawl summary")
		}
	}

	eventType := interfaces.EventCrawlComplete
	if !job.IsSuccess {
		eventType = interfaces.EventCrawlFailed
	}
	t.webhooks.Emit(ctx, interfaces.WebhookEvent{
		Type:     eventType,
		ApiKeyID: job.ApiKeyID,
		Subject:  jobID,
		Data: map[string]interface{}{
			"total":     summary.Total,
			"succeeded": summary.Succeeded,
			"failed":    summary.Failed,
		},
	})

	return nil
}

// Cancel marks a crawl cancelled and finalized, short-circuiting further
// progress increments.
func (t *Tracker) Cancel(ctx context.Context, jobID string) error {
	hashKey := hashKeyFor(jobID)
	if err := t.counters.HSet(ctx, hashKey, "cancelled", "1"); err != nil {
		return err
	}
	if err := t.counters.HSet(ctx, hashKey, "finalized", "1"); err != nil {
		return err
	}
	return t.counters.HSet(ctx, hashKey, "finished_at", strconv.FormatInt(time.Now().UnixMilli(), 10))
}

// SweepPendingFinalize is the periodic sweeper that retries TryFinalize
// for every job enrolled near its limit, tolerant of already-finalized
// entries left over from a prior successful finalize.
func (t *Tracker) SweepPendingFinalize(ctx context.Context, limitOf func(jobID string) int) {
	members, err := t.counters.SMembers(ctx, pendingFinalizeSetKey)
	if err != nil {
		t.logger.Warn().Err(err).Msg("failed to read pending-finalize set")
		return
	}
	for _, jobID := range members {
		limit := limitOf(jobID)
		won, err := t.TryFinalize(ctx, jobID, limit)
		if err != nil {
			t.logger.Warn().Err(err).Str("job_id", jobID).Msg("sweeper finalize attempt failed")
			continue
		}
		if !won {
			state, err := t.Snapshot(ctx, jobID)
			if err == nil && state.Finalized {
				// already finalized by a prior race winner; drop it
				_ = t.counters.SRem(ctx, pendingFinalizeSetKey, jobID)
			}
		}
	}
}

// GetSummary returns a previously persisted finalize summary, if any.
func (t *Tracker) GetSummary(ctx context.Context, jobID string) (*models.CrawlSummary, bool, error) {
	raw, found, err := t.counters.Get(ctx, summaryKeyFor(jobID))
	if err != nil || !found {
		return nil, false, err
	}
	var summary models.CrawlSummary
	if err := json.Unmarshal([]byte(raw), &summary); err != nil {
		return nil, false, err
	}
	return &summary, true, nil
}
