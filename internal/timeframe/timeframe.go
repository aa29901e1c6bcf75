package timeframe

import (
	"fmt"
	"slices"
	"time"
)

// ISODate is the calendar day layout used on the wire and as cache key component.
const ISODate = "2006-01-02"

// Clock supplies the current time. Reports need it to decide which days are
// still provisional (today and yesterday).
type Clock interface {
	Now() time.Time
}

// SystemClock is the default Clock backed by time.Now.
type SystemClock struct{}

// Now returns the wall clock time in UTC.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock always returns the same instant. Used by tests and by the CLI's --today flag.
type FixedClock struct {
	At time.Time
}

// Now returns the configured instant.
func (c FixedClock) Now() time.Time {
	return c.At
}

// Today returns the calendar day of the clock's current time.
func Today(c Clock) time.Time {
	return Day(c.Now())
}

// Day truncates t to UTC midnight of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDay renders a day as YYYY-MM-DD.
func FormatDay(t time.Time) string {
	return t.Format(ISODate)
}

// ParseDay parses a YYYY-MM-DD string into a UTC day.
func ParseDay(s string) (time.Time, error) {
	t, err := time.ParseInLocation(ISODate, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange builds a range from two days, normalising both to UTC midnight.
func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: Day(start), End: Day(end)}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r, nil
}

// SingleDay returns the range covering exactly one day.
func SingleDay(day time.Time) DateRange {
	d := Day(day)
	return DateRange{Start: d, End: d}
}

// Validate checks that the range is non-empty.
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("date range requires both start and end dates")
	}
	if r.Start.After(r.End) {
		return fmt.Errorf("start date %s must not be after end date %s", FormatDay(r.Start), FormatDay(r.End))
	}
	return nil
}

// NumDays returns the number of calendar days covered.
func (r DateRange) NumDays() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// IsSingleDay reports whether the range spans exactly one day.
func (r DateRange) IsSingleDay() bool {
	return r.Start.Equal(r.End)
}

// Contains reports whether day falls inside the range.
func (r DateRange) Contains(day time.Time) bool {
	d := Day(day)
	return !d.Before(r.Start) && !d.After(r.End)
}

// Days enumerates every day in the range in chronological order.
func (r DateRange) Days() []time.Time {
	days := make([]time.Time, 0, r.NumDays())
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// SplitByDay returns one single-day range per day.
func (r DateRange) SplitByDay() []DateRange {
	days := r.Days()
	ranges := make([]DateRange, len(days))
	for i, d := range days {
		ranges[i] = SingleDay(d)
	}
	return ranges
}

// Clip intersects the range with [start, end]. ok is false when nothing is left.
func (r DateRange) Clip(start, end time.Time) (DateRange, bool) {
	s, e := r.Start, r.End
	if start.After(s) {
		s = Day(start)
	}
	if end.Before(e) {
		e = Day(end)
	}
	if s.After(e) {
		return DateRange{}, false
	}
	return DateRange{Start: s, End: e}, true
}

// String renders the range as "start..end".
func (r DateRange) String() string {
	return FormatDay(r.Start) + ".." + FormatDay(r.End)
}

// Runs groups the given days (any order, duplicates ignored) into maximal
// contiguous ranges, returned in chronological order.
func Runs(days []time.Time) []DateRange {
	if len(days) == 0 {
		return nil
	}
	seen := make(map[time.Time]bool, len(days))
	sorted := make([]time.Time, 0, len(days))
	for _, d := range days {
		d = Day(d)
		if seen[d] {
			continue
		}
		seen[d] = true
		sorted = append(sorted, d)
	}
	slices.SortFunc(sorted, time.Time.Compare)

	var runs []DateRange
	cur := DateRange{Start: sorted[0], End: sorted[0]}
	for _, d := range sorted[1:] {
		if d.Equal(cur.End.AddDate(0, 0, 1)) {
			cur.End = d
			continue
		}
		runs = append(runs, cur)
		cur = DateRange{Start: d, End: d}
	}
	return append(runs, cur)
}
