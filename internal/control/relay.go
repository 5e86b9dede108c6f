package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crmsync/leadrelay/internal/core/config"
	"github.com/crmsync/leadrelay/internal/core/domain"
	"github.com/crmsync/leadrelay/internal/core/worker"
	"github.com/crmsync/leadrelay/internal/infra/crm"
	redisclient "github.com/crmsync/leadrelay/internal/infra/redis"
	"github.com/crmsync/leadrelay/internal/infra/snapshot"
	"github.com/crmsync/leadrelay/internal/infra/source"
	"github.com/crmsync/leadrelay/internal/infra/storage"
	"github.com/crmsync/leadrelay/internal/infra/storage/memory"
	"github.com/crmsync/leadrelay/internal/infra/storage/sqlite"
	"github.com/crmsync/leadrelay/internal/notify"
	"github.com/crmsync/leadrelay/internal/pipeline/coordinator"
	"github.com/crmsync/leadrelay/internal/pipeline/health"
	"github.com/crmsync/leadrelay/internal/pipeline/metrics"
	"github.com/crmsync/leadrelay/internal/pipeline/retry"
)

// Relay is the main application struct that manages the pipeline lifecycle.
type Relay struct {
	cfg          *config.AppConfig
	coordinator  *coordinator.Coordinator
	sweeper      *worker.Sweeper
	healthServer *health.Server
	store        storage.Store
	syncer       *snapshot.Syncer
	redisClient  *redisclient.Client
	log          *slog.Logger
	workers      sync.WaitGroup
}

// NewRelay creates a new Relay instance with all dependencies initialized.
func NewRelay(ctx context.Context, cfg *config.AppConfig) (*Relay, error) {

	// 1. Restore the store file from the snapshot service, if configured.
	// A fresh start (nothing remote yet) is not an error.
	var syncer *snapshot.Syncer
	if cfg.Snapshot.URL != "" && cfg.Database.Path != "" {
		syncer = snapshot.NewSyncer(cfg.Snapshot, nil)
		restored, err := syncer.Restore(ctx, cfg.Database.Path)
		if err != nil {
			metrics.SnapshotOps.WithLabelValues("restore", "error").Inc()
			return nil, fmt.Errorf("failed to restore snapshot: %w", err)
		}
		metrics.SnapshotOps.WithLabelValues("restore", "ok").Inc()
		if restored {
			slog.Info("Restored store from snapshot", "path", cfg.Database.Path)
		} else {
			slog.Info("No remote snapshot, starting fresh", "path", cfg.Database.Path)
		}
	}

	// 2. Initialize Storage
	var store storage.Store
	if cfg.Database.Path != "" {
		sqliteStore, err := sqlite.NewStore(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init store: %w", err)
		}
		store = sqliteStore
		slog.Info("Using SQLite storage", "path", cfg.Database.Path)
	} else {
		store = memory.NewStore()
		slog.Info("Using Memory storage")
	}

	// 3. Initialize Redis dedup cache (optional)
	var redisClient *redisclient.Client
	var cache coordinator.DedupCache
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Failed to connect to Redis, dedup cache disabled", "error", err)
		} else {
			cache = redisClient
			if err := store.Meta().TouchCacheBuilt(ctx, time.Now().UTC()); err != nil {
				slog.Warn("Failed to stamp cache availability", "error", err)
			}
			slog.Info("Redis dedup cache enabled")
		}
	}

	// 4. Initialize Source and CRM clients
	srcClient := source.NewHTTPClient(cfg.Source, nil)
	crmClient := crm.NewHTTPClient(cfg.CRM, nil)

	// 5. Create Delivery Coordinator
	tenants := make(map[string]domain.Tenant, len(cfg.Tenants))
	for _, t := range cfg.Tenants {
		tenants[t.Name] = t
	}

	coord := coordinator.New(
		coordinator.Config{
			Locations:             cfg.Locations,
			Tenants:               tenants,
			PollInterval:          cfg.Pipeline.PollInterval,
			Concurrency:           cfg.Pipeline.Concurrency,
			MaxCrossCycleAttempts: cfg.Pipeline.MaxCrossCycleAttempts,
			ScopedFingerprints:    cfg.Pipeline.ScopedFingerprints,
			Retry: retry.Config{
				MaxAttempts: cfg.Pipeline.Retry.MaxAttempts,
				BaseDelay:   cfg.Pipeline.Retry.BaseDelay,
				MaxDelay:    cfg.Pipeline.Retry.MaxDelay,
				Jitter:      cfg.Pipeline.Retry.Jitter,
			},
		},
		store,
		srcClient,
		crmClient,
		cache,
		notify.NewLogDigest(),
	)

	// 6. Initialize Retention Sweeper and Health Server
	sweeper := worker.NewSweeper(cfg.Retention, store)
	healthServer := health.NewServer(health.NewMonitor(store), cfg.Server.Port)

	return &Relay{
		cfg:          cfg,
		coordinator:  coord,
		sweeper:      sweeper,
		healthServer: healthServer,
		store:        store,
		syncer:       syncer,
		redisClient:  redisClient,
		log:          slog.Default(),
	}, nil
}

// Start starts the relay and all its components.
func (r *Relay) Start(ctx context.Context) error {
	// Start Health Server
	go func() {
		if err := r.healthServer.Start(); err != nil {
			r.log.Error("Health server failed", "error", err)
		}
	}()

	// Start Retention Sweeper
	r.workers.Add(1)
	go func() {
		defer r.workers.Done()
		r.sweeper.Start(ctx)
	}()

	// Start Delivery Coordinator
	r.workers.Add(1)
	go func() {
		defer r.workers.Done()
		if err := r.coordinator.Start(ctx); err != nil {
			r.log.Error("Coordinator failed", "error", err)
		}
	}()

	return nil
}

// Stop stops the relay, persisting the store file before exit.
func (r *Relay) Stop(ctx context.Context) error {
	r.log.Info("Stopping Relay...")

	// A cycle caught mid-flight still writes its bookkeeping. Let it drain
	// before the store goes away, bounded by the shutdown deadline.
	drained := make(chan struct{})
	go func() {
		r.workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		r.log.Warn("Shutdown deadline reached before pipeline drained")
	}

	if err := r.store.Close(); err != nil {
		r.log.Warn("Failed to close store", "error", err)
	}

	// Persist after Close so the snapshot sees a checkpointed file
	if r.syncer != nil {
		persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		uploaded, err := r.syncer.Persist(persistCtx, r.cfg.Database.Path)
		switch {
		case err != nil:
			metrics.SnapshotOps.WithLabelValues("persist", "error").Inc()
			r.log.Error("Failed to persist snapshot", "error", err)
		case uploaded:
			metrics.SnapshotOps.WithLabelValues("persist", "ok").Inc()
			r.log.Info("Persisted store snapshot")
		default:
			metrics.SnapshotOps.WithLabelValues("persist", "skipped").Inc()
			r.log.Warn("Snapshot upload refused, local file looks incomplete")
		}
	}

	if r.redisClient != nil {
		if err := r.redisClient.Close(); err != nil {
			r.log.Warn("Failed to close Redis", "error", err)
		}
	}

	return r.healthServer.Stop(ctx)
}
