// Package app wires the process-wide singletons together: scheduler,
// queue manager, cache layer, progress tracker, billing engine. Lifecycle
// follows the teacher's global-singleton model named in spec §9:
// init(config) -> ready -> shutdown(drain, release locks, close conns).
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvestyard/internal/common"
	"github.com/ternarybob/harvestyard/internal/interfaces"
	badgerstorage "github.com/ternarybob/harvestyard/internal/storage/badger"
	"github.com/ternarybob/harvestyard/internal/storage/fsstore"

	"github.com/ternarybob/harvestyard/internal/jobcreator"
	"github.com/ternarybob/harvestyard/internal/services/billing"
	"github.com/ternarybob/harvestyard/internal/services/cache"
	"github.com/ternarybob/harvestyard/internal/services/events"
	"github.com/ternarybob/harvestyard/internal/services/kv"
	"github.com/ternarybob/harvestyard/internal/services/progress"
	"github.com/ternarybob/harvestyard/internal/services/queue"
	"github.com/ternarybob/harvestyard/internal/services/scheduler"
)

// App holds every process-wide singleton, built bottom-up in the order
// Billing -> Cache -> Progress -> Queue -> Job Creator -> Scheduler; the
// Scheduler takes the Job Creator as a dependency, so it is built last.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	DB          *badgerstorage.DB
	RedisClient *redisclient.Client
	Objects     *fsstore.Store

	EventBus       *events.Service
	WebhookEmitter *events.WebhookEmitter

	JobStorage interfaces.JobStorage
	Billing    *billing.Engine
	PageCache  *cache.PageCacheService
	MapCache   *cache.MapCacheService
	JobResults *badgerstorage.JobResultStorage
	Progress   *progress.Tracker
	QueueMgr   *queue.Manager
	QueueReg   *queue.Registry
	Reconciler *queue.Reconciler
	Scheduler  *scheduler.Service
	JobCreator *jobcreator.Creator

	reconcileInterval time.Duration
	sweepInterval     time.Duration
	maintenanceStopCh chan struct{}
	maintenanceWg     sync.WaitGroup
}

// New constructs every singleton without starting any background loop.
// Call Ready to start them.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	db, err := badgerstorage.NewDB(&config.Storage.Badger, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}

	objects, err := fsstore.New(config.Storage.Filesystem.ObjectStoreDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open object store: %w", err)
	}

	redisClient := redisclient.NewClient(&redisclient.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})
	counters := kv.NewCounterStore(redisClient, logger)

	taskStorage := badgerstorage.NewTaskStorage(db)
	executionStorage := badgerstorage.NewExecutionStorage(db)
	jobStorage := badgerstorage.NewJobStorage(db)
	jobResultStorage := badgerstorage.NewJobResultStorage(db)
	cacheStorage := badgerstorage.NewCacheStorage(db)
	ledgerStorage := badgerstorage.NewLedgerStorage(db)
	ownerStorage := badgerstorage.NewOwnerStorage(db)

	eventBus := events.NewService(logger)
	webhookEmitter := events.NewWebhookEmitter(eventBus, config.Webhooks.Enabled, logger)

	billingEngine := billing.NewEngine(jobStorage, ownerStorage, ledgerStorage, config.Billing.Enabled, logger)

	pageCache := cache.NewPageCacheService(cacheStorage, objects, true, time.Duration(config.Cache.PageDefaultMaxAgeMS)*time.Millisecond, logger)
	mapCache := cache.NewMapCacheService(cacheStorage, true, time.Duration(config.Cache.SitemapMaxAgeMS)*time.Millisecond, logger)

	progressTracker := progress.NewTracker(counters, jobStorage, billingEngine, webhookEmitter, config.Crawl.FinalizeEnrollThreshold, logger)

	queueMgr := queue.NewManager(db.Store(), 2*time.Second, logger)
	queueReg := queue.NewRegistry()
	reconciler := queue.NewReconciler(executionStorage, taskStorage, jobStorage, logger)

	creator := jobcreator.NewCreator(jobStorage, queueMgr, queueReg, progressTracker, nil, 7*24*time.Hour, logger)

	schedulerSvc := scheduler.NewService(
		taskStorage, executionStorage, ownerStorage, jobStorage, billingEngine, webhookEmitter, counters, creator,
		scheduler.Config{
			SyncInterval:   config.Scheduler.SyncInterval(),
			PollLockTTL:    config.Scheduler.PollLockTTL(),
			CreditsEnabled: config.Billing.Enabled,
		},
		logger,
	)

	return &App{
		Config:            config,
		Logger:            logger,
		DB:                db,
		RedisClient:       redisClient,
		Objects:           objects,
		EventBus:          eventBus,
		WebhookEmitter:    webhookEmitter,
		JobStorage:        jobStorage,
		Billing:           billingEngine,
		PageCache:         pageCache,
		MapCache:          mapCache,
		JobResults:        jobResultStorage,
		Progress:          progressTracker,
		QueueMgr:          queueMgr,
		QueueReg:          queueReg,
		Reconciler:        reconciler,
		Scheduler:         schedulerSvc,
		JobCreator:        creator,
		reconcileInterval: config.Queue.ReconcileInterval(),
		sweepInterval:     config.Crawl.FinalizeSweepInterval(),
		maintenanceStopCh: make(chan struct{}),
	}, nil
}

// Ready starts every background loop: queue workers, the scheduler, and
// the two maintenance sweeps (stale-execution reconciliation and
// pending-finalize recovery) that ride alongside it.
func (a *App) Ready(ctx context.Context) error {
	if err := a.QueueMgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start queue manager: %w", err)
	}
	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	a.startMaintenanceLoops(ctx)
	a.Logger.Info().Msg("application ready")
	return nil
}

// Shutdown drains background loops, releases the poll lock (handled
// internally by Scheduler.Stop via defer in the reconciliation tick),
// and closes storage connections, in reverse dependency order.
func (a *App) Shutdown(ctx context.Context) error {
	close(a.maintenanceStopCh)
	a.maintenanceWg.Wait()
	if err := a.Scheduler.Stop(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("scheduler stop reported an error")
	}
	if err := a.QueueMgr.Stop(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("queue manager stop reported an error")
	}
	if err := a.DB.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("failed to close badger store")
	}
	if err := a.RedisClient.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("failed to close redis client")
	}
	a.Logger.Info().Msg("application shut down")
	return nil
}
