package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const cleanupInterval = 24 * time.Hour

// Job is one unit of background work.
type Job interface {
	Run(ctx context.Context) error
}

// Scheduler is responsible for running background jobs
type Scheduler struct {
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	enabled   bool
	isRunning bool

	// Mutex to prevent concurrent job executions
	processingMutex sync.Mutex
	isProcessing    bool

	cleanupJob     Job
	maintenanceJob Job

	maintenanceInterval time.Duration
	cleanupInterval     time.Duration

	wg sync.WaitGroup
}

type SchedulerOptions struct {
	Cleanup     Job
	Maintenance Job
	// MaintenanceInterval defaults to one hour.
	MaintenanceInterval time.Duration
	// CleanupInterval defaults to one day.
	CleanupInterval time.Duration
	Logger          *slog.Logger
}

func NewScheduler(opts SchedulerOptions) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		logger:              logger,
		ctx:                 ctx,
		cancel:              cancel,
		enabled:             true,
		cleanupJob:          opts.Cleanup,
		maintenanceJob:      opts.Maintenance,
		maintenanceInterval: opts.MaintenanceInterval,
		cleanupInterval:     opts.CleanupInterval,
	}
	if s.maintenanceInterval <= 0 {
		s.maintenanceInterval = time.Hour
	}
	if s.cleanupInterval <= 0 {
		s.cleanupInterval = cleanupInterval
	}
	return s
}

// executeJobSafely runs a job only if no other job is currently executing
func (s *Scheduler) executeJobSafely(jobName string, job Job) {
	s.processingMutex.Lock()
	if s.isProcessing {
		s.logger.Debug("Skipping job execution - previous job still running", slog.String("job", jobName))
		s.processingMutex.Unlock()
		return
	}
	s.isProcessing = true
	s.processingMutex.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", jobName),
				slog.Any("panic", r))
		}

		s.processingMutex.Lock()
		s.isProcessing = false
		s.processingMutex.Unlock()
	}()

	if err := job.Run(s.ctx); err != nil {
		s.logger.Error("Error executing job", slog.String("job", jobName), slog.Any("error", err))
	}
}

// Start begins all background jobs.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Start() error {
	if !s.enabled {
		s.logger.Info("Background jobs are disabled.")
		return nil
	}

	if s.isRunning {
		s.logger.Info("Background jobs already running.")
		return nil
	}

	s.logger.Info("Starting background jobs...")
	s.isRunning = true

	if s.cleanupJob != nil {
		s.startJob("cache_cleanup", s.cleanupJob, s.cleanupInterval)
	}
	if s.maintenanceJob != nil {
		s.startJob("cache_maintenance", s.maintenanceJob, s.maintenanceInterval)
	}

	s.logger.Info("Background jobs started",
		slog.Bool("enabled", s.enabled),
		slog.Bool("isRunning", s.isRunning))

	return nil
}

func (s *Scheduler) startJob(name string, job Job, interval time.Duration) {
	s.logger.Info("Starting job", slog.String("job", name), slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()

		s.executeJobSafely(name, job)
		for {
			select {
			case <-ticker.C:
				s.executeJobSafely(name, job)
			case <-s.ctx.Done():
				s.logger.Info("Job stopped", slog.String("job", name))
				return
			}
		}
	}()
}

// Stop halts all background jobs and waits for running ones to return.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background jobs...")
	s.enabled = false
	s.cancel()
	s.wg.Wait()
	s.isRunning = false
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether jobs are currently running
func (s *Scheduler) IsRunning() bool {
	return s.isRunning
}

// RunCleanup triggers the cleanup job outside the schedule.
func (s *Scheduler) RunCleanup(ctx context.Context) error {
	if s.cleanupJob == nil {
		return nil
	}
	return s.cleanupJob.Run(ctx)
}
