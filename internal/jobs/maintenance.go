package jobs

import (
	"context"
	"log/slog"
)

const gcDiscardRatio = 0.5

// garbageCollector is implemented by stores with a value log to compact.
type garbageCollector interface {
	RunGC(discardRatio float64) error
}

// Checkpointer flushes the SQLite write-ahead log.
type Checkpointer interface {
	CheckpointWAL(mode string) error
}

// MaintenanceJob keeps the cache files compact between reports.
type MaintenanceJob struct {
	store  any
	db     Checkpointer
	logger *slog.Logger
}

// NewMaintenanceJob takes the cache store and, optionally, the SQLite manager.
func NewMaintenanceJob(store any, db Checkpointer, logger *slog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		store:  store,
		db:     db,
		logger: logger,
	}
}

func (j *MaintenanceJob) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if gc, ok := j.store.(garbageCollector); ok {
		if err := gc.RunGC(gcDiscardRatio); err != nil {
			j.logger.Error("Cache value log GC failed", slog.Any("error", err))
			return err
		}
		j.logger.Debug("Cache value log GC complete")
	}

	if j.db != nil {
		if err := j.db.CheckpointWAL("PASSIVE"); err != nil {
			j.logger.Warn("Failed to checkpoint WAL", slog.Any("error", err))
			return err
		}
	}
	return nil
}
