package cachestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"vitalsreport/internal/report"
	"vitalsreport/internal/timeframe"
)

// Key layout:
//
//	e/<view>/<shape>/<segment>/<date>  JSON rows
//	s/<view>/<shape>/<segment>/<date>  row count
//	meta/version                       layout version
const (
	entryPrefix = "e/"
	statPrefix  = "s/"
	metaVersion = "meta/version"
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the directory for database files. Ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *slog.Logger
}

// BadgerStore keeps entries in an embedded badger database.
type BadgerStore struct {
	db       *badger.DB
	logger   *slog.Logger
	inMemory bool
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadgerStore opens the database and applies the migration policy.
func OpenBadgerStore(ctx context.Context, cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger path is required for a persistent cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
		opts = opts.WithLogger(nil)
	} else {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}

	s := &BadgerStore{db: db, logger: logger, inMemory: cfg.InMemory}
	if _, err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BadgerStore) migrate(ctx context.Context) (MigrationAction, error) {
	old, err := s.version()
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

	switch action {
	case MigrationNone:
		return action, nil
	case MigrationWipe:
		if err := s.db.DropPrefix([]byte(entryPrefix), []byte(statPrefix)); err != nil {
			return action, fmt.Errorf("failed to wipe cache: %w", err)
		}
	case MigrationInPlace:
		if err := s.rebuildStats(ctx); err != nil {
			return action, fmt.Errorf("failed to rebuild cache statistics: %w", err)
		}
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(metaVersion), []byte(strconv.Itoa(CurrentVersion)))
	})
	if err != nil {
		return action, fmt.Errorf("failed to record cache version: %w", err)
	}
	return action, nil
}

func (s *BadgerStore) version() (int, error) {
	var v int
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaVersion))
		if errors.Is(err, badger.ErrKeyNotFound) {
			// Entries without a version marker predate versioning.
			if hasPrefix(txn, entryPrefix) {
				v = 1
			}
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			n, err := strconv.Atoi(string(val))
			if err != nil {
				n = 1
			}
			v = n
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read cache version: %w", err)
	}
	return v, nil
}

func hasPrefix(txn *badger.Txn, prefix string) bool {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()
	it.Seek([]byte(prefix))
	return it.ValidForPrefix([]byte(prefix))
}

func (s *BadgerStore) rebuildStats(ctx context.Context) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	prefix := []byte(entryPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			payload, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			rows, err := decodeRows(payload)
			if err != nil {
				return err
			}
			statKey := append([]byte(statPrefix), item.Key()[len(entryPrefix):]...)
			if err := wb.Set(statKey, []byte(strconv.Itoa(len(rows)))); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return wb.Flush()
}

func cellPath(view, shape, segment string) string {
	return url.PathEscape(view) + "/" + url.PathEscape(shape) + "/" + url.PathEscape(segment) + "/"
}

func entryKey(view, shape string, k Key) []byte {
	return []byte(entryPrefix + cellPath(view, shape, k.Segment) + timeframe.FormatDay(k.Day))
}

func statKey(view, shape string, k Key) []byte {
	return []byte(statPrefix + cellPath(view, shape, k.Segment) + timeframe.FormatDay(k.Day))
}

func (s *BadgerStore) Keys(ctx context.Context, view string, segments []string, shape string, dr timeframe.DateRange) ([]Key, error) {
	var keys []Key
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		last := timeframe.FormatDay(dr.End)
		for _, segment := range segments {
			prefix := []byte(entryPrefix + cellPath(view, shape, segment))
			start := append(bytes.Clone(prefix), timeframe.FormatDay(dr.Start)...)
			for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}
				date := string(it.Item().Key()[len(prefix):])
				if date > last {
					break
				}
				day, err := timeframe.ParseDay(date)
				if err != nil {
					return err
				}
				keys = append(keys, Key{Segment: segment, Day: day})
			}
		}
		return nil
	})
	if err != nil {
		return nil, readErr(err)
	}
	return keys, nil
}

func (s *BadgerStore) Get(ctx context.Context, view, shape string, keys []Key) ([]report.Row, error) {
	var rows []report.Row
	err := s.db.View(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := ctx.Err(); err != nil {
				return err
			}
			item, err := txn.Get(entryKey(view, shape, k))
			if err != nil {
				return fmt.Errorf("entry %s/%s: %w", k.Segment, timeframe.FormatDay(k.Day), err)
			}
			err = item.Value(func(val []byte) error {
				decoded, err := decodeRows(val)
				if err != nil {
					return err
				}
				rows = append(rows, decoded...)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, readErr(err)
	}
	return rows, nil
}

func (s *BadgerStore) Put(ctx context.Context, view, shape string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return writeErr(err)
		}
		payload, err := encodeRows(e.Rows)
		if err != nil {
			return writeErr(err)
		}
		k := Key{Segment: e.Segment, Day: e.Day}
		if err := wb.Set(entryKey(view, shape, k), payload); err != nil {
			return writeErr(err)
		}
		if err := wb.Set(statKey(view, shape, k), []byte(strconv.Itoa(len(e.Rows)))); err != nil {
			return writeErr(err)
		}
	}
	if err := wb.Flush(); err != nil {
		return writeErr(err)
	}
	return nil
}

func (s *BadgerStore) AverageDailyRows(ctx context.Context, view string) (float64, error) {
	totals := make(map[string]int)
	prefix := []byte(statPrefix + url.PathEscape(view) + "/")
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			// <shape>/<segment>/<date>
			parts := strings.Split(string(item.Key()[len(prefix):]), "/")
			if len(parts) != 3 {
				continue
			}
			err := item.Value(func(val []byte) error {
				n, err := strconv.Atoi(string(val))
				if err != nil {
					return err
				}
				totals[parts[0]+"/"+parts[2]] += n
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, readErr(err)
	}
	if len(totals) == 0 {
		return 0, nil
	}
	var sum int
	for _, n := range totals {
		sum += n
	}
	return float64(sum) / float64(len(totals)), nil
}

func (s *BadgerStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	cutoff := timeframe.FormatDay(before)
	var stale [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(entryPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().KeyCopy(nil)
			if date := string(key[bytes.LastIndexByte(key, '/')+1:]); date < cutoff {
				stale = append(stale, key)
			}
		}
		return nil
	})
	if err != nil {
		return 0, readErr(err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			return 0, writeErr(err)
		}
		if err := wb.Delete(append([]byte(statPrefix), key[len(entryPrefix):]...)); err != nil {
			return 0, writeErr(err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, writeErr(err)
	}
	return int64(len(stale)), nil
}

func (s *BadgerStore) Clear(ctx context.Context) error {
	if err := s.db.DropPrefix([]byte(entryPrefix), []byte(statPrefix)); err != nil {
		return writeErr(err)
	}
	return nil
}

// RunGC reclaims value log space; badger.ErrNoRewrite means nothing was due.
func (s *BadgerStore) RunGC(discardRatio float64) error {
	if s.inMemory {
		return nil
	}
	err := s.db.RunValueLogGC(discardRatio)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return err
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
