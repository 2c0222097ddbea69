// Package billing implements idempotent credit deduction with an
// append-only audit ledger, per spec §4.4. badgerhold has no relational
// transaction/row-lock primitive, so this package serializes charges per
// jobID with an in-process keyed mutex -- the equivalent scoped-resource
// acquisition the teacher uses around its storage mutations, generalized
// to per-job granularity instead of a single global lock.
package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvestyard/internal/apperr"
	"github.com/ternarybob/harvestyard/internal/common"
	"github.com/ternarybob/harvestyard/internal/interfaces"
	"github.com/ternarybob/harvestyard/internal/models"
)

const maxTargetRetries = 5

// ChargeResult is returned by both charging modes.
type ChargeResult struct {
	Charged          float64
	RemainingCredits float64
}

// Engine implements the delta and target billing modes described in
// spec §4.4.
type Engine struct {
	jobs    interfaces.JobStorage
	owners  interfaces.OwnerStorage
	ledger  interfaces.LedgerStorage
	logger  arbor.ILogger
	enabled bool

	jobLocks   map[string]*sync.Mutex
	jobLocksMu sync.Mutex
}

func NewEngine(jobs interfaces.JobStorage, owners interfaces.OwnerStorage, ledger interfaces.LedgerStorage, enabled bool, logger arbor.ILogger) *Engine {
	return &Engine{
		jobs:     jobs,
		owners:   owners,
		ledger:   ledger,
		enabled:  enabled,
		logger:   logger,
		jobLocks: make(map[string]*sync.Mutex),
	}
}

// Enabled reports whether the credits feature is active (CREDITS_ENABLED).
func (e *Engine) Enabled() bool {
	return e.enabled
}

func (e *Engine) lockFor(jobID string) *sync.Mutex {
	e.jobLocksMu.Lock()
	defer e.jobLocksMu.Unlock()
	m, ok := e.jobLocks[jobID]
	if !ok {
		m = &sync.Mutex{}
		e.jobLocks[jobID] = m
	}
	return m
}

// ChargeDelta applies an incremental charge. Duplicate calls with the
// same idempotencyKey never debit twice.
func (e *Engine) ChargeDelta(ctx context.Context, jobID string, delta float64, reason, idempotencyKey string, details *models.ChargeDetails) (*ChargeResult, error) {
	if !e.enabled {
		return &ChargeResult{}, nil
	}

	lock := e.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	if details != nil {
		details = normalizeChargeDetails(details, delta)
	}

	job, err := e.jobs.GetByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	owner, err := e.owners.Get(ctx, job.ApiKeyID)
	if err != nil {
		return nil, err
	}

	row := &models.BillingLedger{
		UUID:           common.NewLedgerID(),
		JobID:          jobID,
		ApiKeyID:       job.ApiKeyID,
		Mode:           models.BillingModeDelta,
		Reason:         reason,
		IdempotencyKey: idempotencyKey,
		BeforeUsed:     job.CreditsUsed,
		ChargeDetails:  details,
	}

	inserted, err := e.ledger.InsertIfAbsent(ctx, row)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransientInfra, "ledger_insert_failed", "failed to insert billing ledger row", err)
	}
	if !inserted {
		// A prior attempt with this idempotency key already charged.
		e.logger.Debug().Str("idempotency_key", idempotencyKey).Msg("duplicate billing charge suppressed")
		return &ChargeResult{Charged: 0, RemainingCredits: owner.Credits}, nil
	}

	beforeCredits := owner.Credits
	job.AddCredits(delta)
	if err := e.jobs.Update(ctx, job); err != nil {
		return nil, err
	}

	updatedOwner, err := e.owners.ApplyDelta(ctx, job.ApiKeyID, delta)
	if err != nil {
		return nil, err
	}

	row.Charged = delta
	row.AfterUsed = row.BeforeUsed + delta
	row.BeforeCredits = &beforeCredits
	row.AfterCredits = &updatedOwner.Credits
	if err := e.ledger.Update(ctx, row); err != nil {
		return nil, err
	}

	return &ChargeResult{Charged: delta, RemainingCredits: updatedOwner.Credits}, nil
}

// ChargeToUsed brings Job.CreditsUsed up to targetUsed, never refunding.
func (e *Engine) ChargeToUsed(ctx context.Context, jobID string, targetUsed float64, reason string) (*ChargeResult, error) {
	if !e.enabled {
		return &ChargeResult{}, nil
	}

	lock := e.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	for attempt := 1; attempt <= maxTargetRetries; attempt++ {
		job, err := e.jobs.GetByJobID(ctx, jobID)
		if err != nil {
			return nil, err
		}
		beforeUsed := job.CreditsUsed

		if targetUsed <= beforeUsed {
			idempotencyKey := fmt.Sprintf("target-noop:%s:%d", jobID, time.Now().UnixNano())
			row := &models.BillingLedger{
				UUID:           common.NewLedgerID(),
				JobID:          jobID,
				ApiKeyID:       job.ApiKeyID,
				Mode:           models.BillingModeTarget,
				Reason:         reason,
				IdempotencyKey: idempotencyKey,
				Charged:        0,
				BeforeUsed:     beforeUsed,
				AfterUsed:      beforeUsed,
			}
			if _, err := e.ledger.InsertIfAbsent(ctx, row); err != nil {
				return nil, err
			}
			owner, err := e.owners.Get(ctx, job.ApiKeyID)
			if err != nil {
				return nil, err
			}
			return &ChargeResult{Charged: 0, RemainingCredits: owner.Credits}, nil
		}

		delta := targetUsed - beforeUsed

		owner, err := e.owners.Get(ctx, job.ApiKeyID)
		if err != nil {
			return nil, err
		}
		beforeCredits := owner.Credits

		// Optimistic update: re-read and compare before writing, since
		// badgerhold has no native compare-and-swap. Another writer
		// moving credits_used between our read and write forces a retry.
		current, err := e.jobs.GetByJobID(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if current.CreditsUsed != beforeUsed {
			e.logger.Warn().Str("job_id", jobID).Int("attempt", attempt).Msg("optimistic lock conflict on chargeToUsed, retrying")
			continue
		}

		current.SetCreditsTarget(targetUsed)
		if err := e.jobs.Update(ctx, current); err != nil {
			return nil, err
		}

		updatedOwner, err := e.owners.ApplyDelta(ctx, job.ApiKeyID, delta)
		if err != nil {
			return nil, err
		}

		row := &models.BillingLedger{
			UUID:           common.NewLedgerID(),
			JobID:          jobID,
			ApiKeyID:       job.ApiKeyID,
			Mode:           models.BillingModeTarget,
			Reason:         reason,
			IdempotencyKey: fmt.Sprintf("target:%s:%d", jobID, time.Now().UnixNano()),
			Charged:        delta,
			BeforeUsed:     beforeUsed,
			AfterUsed:      targetUsed,
			BeforeCredits:  &beforeCredits,
			AfterCredits:   &updatedOwner.Credits,
		}
		if _, err := e.ledger.InsertIfAbsent(ctx, row); err != nil {
			return nil, err
		}

		return &ChargeResult{Charged: delta, RemainingCredits: updatedOwner.Credits}, nil
	}

	return nil, apperr.New(apperr.KindTransientInfra, "charge_to_used_exhausted", fmt.Sprintf("Failed to chargeToUsed after %d retries", maxTargetRetries))
}

// normalizeChargeDetails enforces that itemized details always sum to
// delta, collapsing any mismatch into a single adjustment item.
func normalizeChargeDetails(details *models.ChargeDetails, delta float64) *models.ChargeDetails {
	sum := 0.0
	for _, item := range details.Items {
		sum += item.Amount
	}
	if details.Total == delta && sum == delta {
		return details
	}
	return &models.ChargeDetails{
		Total: delta,
		Items: []models.ChargeItem{{Label: "unattributed_adjustment", Amount: delta}},
	}
}
