// Package splitter partitions a report date range into sub-ranges the API can
// answer exactly, and fetches them.
package splitter

import (
	"vitalsreport/internal/report"
	"vitalsreport/internal/timeframe"
)

// Planner decides the initial sub-ranges for a date range.
type Planner struct {
	Clock timeframe.Clock
}

// Plan splits r into the sub-ranges to query first.
//
// Forced-small requests and single days are fetched whole. With dailyBias,
// every day is its own sub-range. Otherwise a multi-day range touching
// yesterday or today is cut so that those two days, whose data is not final
// yet, never share a request with finalized history.
func (p Planner) Plan(r timeframe.DateRange, req report.Request, dailyBias bool) []timeframe.DateRange {
	if req.ForcedSmall() || r.IsSingleDay() {
		return []timeframe.DateRange{r}
	}
	if dailyBias {
		return r.SplitByDay()
	}

	clock := p.Clock
	if clock == nil {
		clock = timeframe.SystemClock{}
	}
	today := timeframe.Today(clock)
	yesterday := today.AddDate(0, 0, -1)
	if !r.Contains(yesterday) && !r.Contains(today) {
		return []timeframe.DateRange{r}
	}

	var parts []timeframe.DateRange
	if history, ok := r.Clip(r.Start, yesterday.AddDate(0, 0, -1)); ok {
		parts = append(parts, history)
	}
	if y, ok := r.Clip(yesterday, yesterday); ok {
		parts = append(parts, y)
	}
	if rest, ok := r.Clip(today, r.End); ok {
		parts = append(parts, rest)
	}
	return parts
}
