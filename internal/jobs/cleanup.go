package jobs

import (
	"context"
	"log/slog"
	"time"

	"vitalsreport/internal/cachestore"
	"vitalsreport/internal/metrics"
	"vitalsreport/internal/timeframe"
)

// CleanupJob removes cache entries for days older than the retention period.
type CleanupJob struct {
	store         cachestore.Store
	logger        *slog.Logger
	metrics       *metrics.Metrics
	clock         timeframe.Clock
	retentionDays int
}

func NewCleanupJob(store cachestore.Store, logger *slog.Logger, m *metrics.Metrics, clock timeframe.Clock, retentionDays int) *CleanupJob {
	if clock == nil {
		clock = timeframe.SystemClock{}
	}
	return &CleanupJob{
		store:         store,
		logger:        logger,
		metrics:       m,
		clock:         clock,
		retentionDays: retentionDays,
	}
}

// Run prunes entries whose day is before today minus the retention period.
// A non-positive retention keeps everything.
func (j *CleanupJob) Run(ctx context.Context) error {
	if j.retentionDays <= 0 {
		j.logger.Debug("Cache retention disabled, skipping cleanup")
		return nil
	}
	cutoff := timeframe.Today(j.clock).AddDate(0, 0, -j.retentionDays)

	j.logger.Info("Starting cleanup of old cache entries",
		slog.Int("retention_days", j.retentionDays),
		slog.String("cutoff_date", timeframe.FormatDay(cutoff)))

	start := time.Now()
	deleted, err := j.store.Prune(ctx, cutoff)
	if err != nil {
		j.logger.Error("Failed to prune cache entries", slog.Any("error", err))
		return err
	}
	j.metrics.CacheEntriesPruned(deleted)

	j.logger.Info("Cleaned up old cache entries",
		slog.Int64("deleted_count", deleted),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}
