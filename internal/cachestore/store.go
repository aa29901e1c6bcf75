// Package cachestore persists golden, unsampled report rows per view, query
// shape, segment and calendar day.
package cachestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"vitalsreport/internal/report"
	"vitalsreport/internal/timeframe"
)

// Key identifies one cached cell within a view and query shape.
type Key struct {
	Segment string
	Day     time.Time
}

// Entry is the unit of persistence: all rows for one segment on one day.
type Entry struct {
	Segment string
	Day     time.Time
	Rows    []report.Row
}

// Store is a persistent cache of daily report rows. Writes replace entries by
// key; entries for different keys never interact.
type Store interface {
	// Keys lists the cells that exist for the given segments within dr.
	Keys(ctx context.Context, view string, segments []string, shape string, dr timeframe.DateRange) ([]Key, error)
	// Get loads the rows of the given cells.
	Get(ctx context.Context, view, shape string, keys []Key) ([]report.Row, error)
	Put(ctx context.Context, view, shape string, entries []Entry) error
	// AverageDailyRows is the mean number of rows per cached day for the view.
	AverageDailyRows(ctx context.Context, view string) (float64, error)
	// Prune drops entries for days before the cutoff and returns how many went.
	Prune(ctx context.Context, before time.Time) (int64, error)
	Clear(ctx context.Context) error
	Close() error
}

// UsableDays returns the days of dr for which every segment has an entry.
func UsableDays(keys []Key, segments []string, dr timeframe.DateRange) []time.Time {
	have := make(map[time.Time]map[string]bool)
	for _, k := range keys {
		d := timeframe.Day(k.Day)
		if have[d] == nil {
			have[d] = make(map[string]bool)
		}
		have[d][k.Segment] = true
	}

	var usable []time.Time
	for _, day := range dr.Days() {
		complete := len(segments) > 0
		for _, s := range segments {
			if !have[day][s] {
				complete = false
				break
			}
		}
		if complete {
			usable = append(usable, day)
		}
	}
	return usable
}

// KeysForDays builds the keys of every segment on every given day.
func KeysForDays(segments []string, days []time.Time) []Key {
	keys := make([]Key, 0, len(segments)*len(days))
	for _, d := range days {
		for _, s := range segments {
			keys = append(keys, Key{Segment: s, Day: d})
		}
	}
	return keys
}

// GroupEntries splits cacheable rows into per-segment, per-day entries. Every
// (segment, day) pair in days gets an entry, empty when no row matched, so that
// days without data are recorded as known. Rows that are not cacheable, or
// whose date falls outside days, are ignored.
func GroupEntries(rows []report.Row, segments []string, days []time.Time) []Entry {
	index := make(map[Key]int, len(segments)*len(days))
	entries := make([]Entry, 0, len(segments)*len(days))
	for _, d := range days {
		for _, s := range segments {
			index[Key{Segment: s, Day: d}] = len(entries)
			entries = append(entries, Entry{Segment: s, Day: d, Rows: []report.Row{}})
		}
	}

	for _, r := range rows {
		if !r.Cacheable {
			continue
		}
		day, err := timeframe.ParseDay(r.Date())
		if err != nil {
			continue
		}
		i, ok := index[Key{Segment: r.Segment(), Day: day}]
		if !ok {
			continue
		}
		entries[i].Rows = append(entries[i].Rows, r)
	}
	return entries
}

func encodeRows(rows []report.Row) ([]byte, error) {
	if rows == nil {
		rows = []report.Row{}
	}
	return json.Marshal(rows)
}

func decodeRows(payload []byte) ([]report.Row, error) {
	var rows []report.Row
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return rows, nil
}

func readErr(err error) error {
	return fmt.Errorf("%w: %w", report.ErrCacheRead, err)
}

func writeErr(err error) error {
	return fmt.Errorf("%w: %w", report.ErrCacheWrite, err)
}
