package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"vitalsreport/internal/auth"
	"vitalsreport/internal/cachestore"
	"vitalsreport/internal/config"
	"vitalsreport/internal/database"
	"vitalsreport/internal/executor"
	"vitalsreport/internal/jobs"
	"vitalsreport/internal/metrics"
	"vitalsreport/internal/orchestrator"
	"vitalsreport/internal/report"
	"vitalsreport/internal/splitter"
	"vitalsreport/internal/timeframe"
	"vitalsreport/internal/upstream"
)

// Services holds the report pipeline shared by the server and the CLI.
type Services struct {
	Config       *config.Config
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Progress     *report.Progress
	Store        cachestore.Store
	Executor     *executor.Executor
	Orchestrator *orchestrator.Orchestrator
	Scheduler    *jobs.Scheduler
}

// NewServices opens the configured cache store and wires the pipeline on top of it.
func NewServices(ctx context.Context, cfg *config.Config, logger *slog.Logger, dbManager *database.DBManager) (*Services, error) {
	store, err := openStore(ctx, cfg, logger, dbManager)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	progress := &report.Progress{}

	exec := executor.New(executor.Options{
		Transport:         upstream.NewClient(cfg.APIBaseURL, cfg.GetRequestTimeout()),
		Auth:              tokenSource(cfg),
		MaxConcurrent:     cfg.MaxConcurrentRequests,
		RequestsPerSecond: cfg.RequestsPerSecond,
		PageSize:          cfg.PageSize,
		Logger:            logger,
		Metrics:           m,
	})

	fetcher := splitter.NewFetcher(splitter.Config{
		Executor: exec,
		Clock:    timeframe.SystemClock{},
		PageSize: exec.PageSize(),
		RowLimit: cfg.RowLimit,
		Progress: progress,
		Logger:   logger,
	})

	orch := orchestrator.New(orchestrator.Options{
		Store:                store,
		Fetcher:              fetcher,
		Progress:             progress,
		HighVolumeRowsPerDay: cfg.HighVolumeRowsPerDay,
		Logger:               logger,
		Metrics:              m,
	})

	var checkpointer jobs.Checkpointer
	if cfg.CacheBackend == config.CacheBackendSQLite {
		checkpointer = dbManager
	}
	scheduler := jobs.NewScheduler(jobs.SchedulerOptions{
		Cleanup:             jobs.NewCleanupJob(store, logger, m, nil, cfg.CacheRetentionDays),
		Maintenance:         jobs.NewMaintenanceJob(store, checkpointer, logger),
		MaintenanceInterval: cfg.GetJobInterval(),
		Logger:              logger,
	})

	return &Services{
		Config:       cfg,
		Logger:       logger,
		Metrics:      m,
		Progress:     progress,
		Store:        store,
		Executor:     exec,
		Orchestrator: orch,
		Scheduler:    scheduler,
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger, dbManager *database.DBManager) (cachestore.Store, error) {
	switch cfg.CacheBackend {
	case config.CacheBackendBadger:
		store, err := cachestore.OpenBadgerStore(ctx, cachestore.BadgerConfig{
			Path:   cfg.BadgerPath,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open badger cache: %w", err)
		}
		return store, nil
	default:
		if dbManager == nil {
			return nil, errors.New("sqlite cache requires a database manager")
		}
		store, err := cachestore.OpenSQLStore(ctx, dbManager.GetConnection(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite cache: %w", err)
		}
		return store, nil
	}
}

func tokenSource(cfg *config.Config) auth.TokenSource {
	if cfg.TokenFile != "" {
		return auth.NewFileSource(cfg.TokenFile)
	}
	return auth.StaticSource{AccessToken: cfg.AccessToken}
}

// Close waits for pending cache writes and closes the store.
func (s *Services) Close() error {
	s.Orchestrator.Wait()
	return s.Store.Close()
}
