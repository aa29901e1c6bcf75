package timeframe

import (
	"fmt"
	"time"
)

// DefaultWindowDays is the size of the window used when no dates are given.
const DefaultWindowDays = 28

type ParserParams struct {
	StartDate string
	EndDate   string
}

type Parser struct {
	clock Clock
}

func NewParser(clock ...Clock) *Parser {
	var c Clock = SystemClock{}
	if len(clock) > 0 && clock[0] != nil {
		c = clock[0]
	}
	return &Parser{clock: c}
}

// ParseDateRange turns user supplied dates into a DateRange. Missing dates default
// to the DefaultWindowDays days ending yesterday. End dates in the future are clamped to today.
func (p *Parser) ParseDateRange(params ParserParams) (DateRange, error) {
	today := Today(p.clock)

	end, err := p.parseDateWithDefault(params.EndDate, today.AddDate(0, 0, -1))
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid 'end' date: %w", err)
	}
	if end.After(today) {
		end = today
	}

	start, err := p.parseDateWithDefault(params.StartDate, end.AddDate(0, 0, -(DefaultWindowDays-1)))
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid 'start' date: %w", err)
	}

	return NewDateRange(start, end)
}

func (p *Parser) parseDateWithDefault(dateStr string, defaultDate time.Time) (time.Time, error) {
	if dateStr == "" {
		return defaultDate, nil
	}
	return ParseDay(dateStr)
}
