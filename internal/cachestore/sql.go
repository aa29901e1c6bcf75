package cachestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"vitalsreport/internal/report"
	"vitalsreport/internal/timeframe"
)

const versionKey = "schema_version"

// EntryRecord is the SQL row behind one Entry.
type EntryRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	ViewID    string    `gorm:"uniqueIndex:idx_cache_entry_key;not null"`
	ShapeHash string    `gorm:"uniqueIndex:idx_cache_entry_key;not null"`
	SegmentID string    `gorm:"uniqueIndex:idx_cache_entry_key;not null"`
	Date      string    `gorm:"uniqueIndex:idx_cache_entry_key;index;not null"`
	RowCount  int       `gorm:"not null;default:0"`
	Payload   string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (EntryRecord) TableName() string {
	return "cache_entries"
}

// MetaRecord holds store-level settings such as the layout version.
type MetaRecord struct {
	Name  string `gorm:"primaryKey"`
	Value string `gorm:"not null"`
}

func (MetaRecord) TableName() string {
	return "cache_meta"
}

// Models returns the gorm models owned by the SQL store.
func Models() []any {
	return []any{&EntryRecord{}, &MetaRecord{}}
}

// SQLStore keeps entries in the application's SQLite database.
type SQLStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// OpenSQLStore creates the tables if needed and applies the migration policy.
func OpenSQLStore(ctx context.Context, db *gorm.DB, logger *slog.Logger) (*SQLStore, error) {
	if db == nil {
		return nil, gorm.ErrInvalidDB
	}
	s := &SQLStore{db: db, logger: logger}
	if _, err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) (MigrationAction, error) {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(Models()...); err != nil {
		return MigrationNone, fmt.Errorf("failed to migrate cache tables: %w", err)
	}

	old, err := s.version(db)
	if err != nil {
		return MigrationNone, err
	}
	action := PlanMigration(old, CurrentVersion)
	if action != MigrationNone {
		s.logger.Info("Migrating report cache",
			slog.Int("from_version", old),
			slog.Int("to_version", CurrentVersion),
			slog.String("action", action.String()))
	}

	err = sqlite.PerformWrite(s.logger, db, func(tx *gorm.DB) error {
		switch action {
		case MigrationNone:
			return nil
		case MigrationWipe:
			if err := tx.Exec("DELETE FROM cache_entries").Error; err != nil {
				return err
			}
		case MigrationInPlace:
			if err := tx.Exec("UPDATE cache_entries SET row_count = json_array_length(payload)").Error; err != nil {
				return err
			}
		}
		return tx.Exec(`
			INSERT INTO cache_meta (name, value) VALUES (?, ?)
			ON CONFLICT (name) DO UPDATE SET value = excluded.value
		`, versionKey, strconv.Itoa(CurrentVersion)).Error
	})
	if err != nil {
		return action, fmt.Errorf("failed to apply cache migration %s: %w", action, err)
	}
	return action, nil
}

func (s *SQLStore) version(db *gorm.DB) (int, error) {
	var meta MetaRecord
	err := db.Where("name = ?", versionKey).First(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cache version: %w", err)
	}
	v, err := strconv.Atoi(meta.Value)
	if err != nil {
		// An unreadable version is treated like an ancient one.
		return 1, nil
	}
	return v, nil
}

func (s *SQLStore) Keys(ctx context.Context, view string, segments []string, shape string, dr timeframe.DateRange) ([]Key, error) {
	var records []EntryRecord
	err := s.db.WithContext(ctx).
		Select("segment_id", "date").
		Where("view_id = ? AND shape_hash = ? AND segment_id IN ? AND date BETWEEN ? AND ?",
			view, shape, segments, timeframe.FormatDay(dr.Start), timeframe.FormatDay(dr.End)).
		Find(&records).Error
	if err != nil {
		return nil, readErr(err)
	}

	keys := make([]Key, 0, len(records))
	for _, r := range records {
		day, err := timeframe.ParseDay(r.Date)
		if err != nil {
			return nil, readErr(err)
		}
		keys = append(keys, Key{Segment: r.SegmentID, Day: day})
	}
	return keys, nil
}

func (s *SQLStore) Get(ctx context.Context, view, shape string, keys []Key) ([]report.Row, error) {
	var rows []report.Row
	for _, k := range keys {
		var rec EntryRecord
		err := s.db.WithContext(ctx).
			Where("view_id = ? AND shape_hash = ? AND segment_id = ? AND date = ?",
				view, shape, k.Segment, timeframe.FormatDay(k.Day)).
			First(&rec).Error
		if err != nil {
			return nil, readErr(fmt.Errorf("entry %s/%s: %w", k.Segment, timeframe.FormatDay(k.Day), err))
		}
		decoded, err := decodeRows([]byte(rec.Payload))
		if err != nil {
			return nil, readErr(err)
		}
		rows = append(rows, decoded...)
	}
	return rows, nil
}

func (s *SQLStore) Put(ctx context.Context, view, shape string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now().UTC()
	err := sqlite.PerformWrite(s.logger, s.db.WithContext(ctx), func(tx *gorm.DB) error {
		for _, e := range entries {
			payload, err := encodeRows(e.Rows)
			if err != nil {
				return err
			}
			err = tx.Exec(`
				INSERT INTO cache_entries (view_id, shape_hash, segment_id, date, row_count, payload, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (view_id, shape_hash, segment_id, date) DO UPDATE SET
					row_count = excluded.row_count,
					payload = excluded.payload,
					updated_at = excluded.updated_at
			`, view, shape, e.Segment, timeframe.FormatDay(e.Day), len(e.Rows), string(payload), now).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return writeErr(err)
	}
	return nil
}

func (s *SQLStore) AverageDailyRows(ctx context.Context, view string) (float64, error) {
	var avg *float64
	err := s.db.WithContext(ctx).Raw(`
		SELECT AVG(total) FROM (
			SELECT SUM(row_count) AS total
			FROM cache_entries
			WHERE view_id = ?
			GROUP BY shape_hash, date
		)
	`, view).Scan(&avg).Error
	if err != nil {
		return 0, readErr(err)
	}
	if avg == nil {
		return 0, nil
	}
	return *avg, nil
}

func (s *SQLStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := sqlite.PerformWrite(s.logger, s.db.WithContext(ctx), func(tx *gorm.DB) error {
		res := tx.Where("date < ?", timeframe.FormatDay(before)).Delete(&EntryRecord{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, writeErr(err)
	}
	return deleted, nil
}

func (s *SQLStore) Clear(ctx context.Context) error {
	err := sqlite.PerformWrite(s.logger, s.db.WithContext(ctx), func(tx *gorm.DB) error {
		return tx.Exec("DELETE FROM cache_entries").Error
	})
	if err != nil {
		return writeErr(err)
	}
	return nil
}

// Close is a no-op; the connection belongs to the database manager.
func (s *SQLStore) Close() error {
	return nil
}
