package app

import (
	"context"
	"time"

	"github.com/ternarybob/harvestyard/internal/common"
)

// startMaintenanceLoops launches the two periodic sweeps that have no
// other owner: the queue package's stale-execution/runtime-timeout
// reconciler (spec §4.2) and the crawl progress tracker's
// pending-finalize recovery sweep (spec §4.3), mirroring the scheduler's
// own panic-recovered ticker loop.
func (a *App) startMaintenanceLoops(ctx context.Context) {
	a.maintenanceWg.Add(2)
	go a.reconcileLoop(ctx)
	go a.finalizeSweepLoop(ctx)
}

func (a *App) reconcileLoop(ctx context.Context) {
	defer a.maintenanceWg.Done()

	ticker := time.NewTicker(a.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.maintenanceStopCh:
			return
		case <-ticker.C:
			a.runReconcileTickSafely(ctx)
		}
	}
}

func (a *App) runReconcileTickSafely(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			a.Logger.Error().Str("panic", common.GetStackTrace()).Msg("recovered from panic in queue reconciliation tick")
		}
	}()
	a.Reconciler.Run(ctx)
}

func (a *App) finalizeSweepLoop(ctx context.Context) {
	defer a.maintenanceWg.Done()

	ticker := time.NewTicker(a.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.maintenanceStopCh:
			return
		case <-ticker.C:
			a.runFinalizeSweepSafely(ctx)
		}
	}
}

func (a *App) runFinalizeSweepSafely(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			a.Logger.Error().Str("panic", common.GetStackTrace()).Msg("recovered from panic in pending-finalize sweep")
		}
	}()
	a.Progress.SweepPendingFinalize(ctx, a.limitForJob)
}

// limitForJob looks up a job's configured page limit for the sweeper,
// which only has the bare jobID string enrolled in the pending-finalize
// set to work from.
func (a *App) limitForJob(jobID string) int {
	job, err := a.JobStorage.GetByJobID(context.Background(), jobID)
	if err != nil {
		return 0
	}
	return job.Limit
}
