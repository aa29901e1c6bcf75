package report

import (
	"errors"
	"fmt"

	"vitalsreport/internal/timeframe"
)

var (
	// ErrAborted is returned by operations that observed report cancellation.
	ErrAborted = errors.New("report aborted")
	// ErrSampling signals that a day-level sub-range came back sampled.
	ErrSampling = errors.New("sampled data in a granular fetch")
	// ErrRowLimit is matched by RowLimitError.
	ErrRowLimit = errors.New("row_limit_exceeded")
	// ErrCacheRead and ErrCacheWrite wrap local cache store failures.
	ErrCacheRead  = errors.New("cache read failed")
	ErrCacheWrite = errors.New("cache write failed")
)

// UserFacing is implemented by errors that are shown to the user.
type UserFacing interface {
	error
	Title() string
	Message() string
}

// APIError is a non-auth, non-2xx response from the reporting API.
type APIError struct {
	Code    int
	Status  string
	Details string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("reporting API error %d: %s", e.Code, e.Details)
}

func (e *APIError) Title() string {
	if e.Status != "" {
		return fmt.Sprintf("%s (%d)", e.Status, e.Code)
	}
	return fmt.Sprintf("Analytics API error (%d)", e.Code)
}

func (e *APIError) Message() string { return e.Details }

// RowLimitError is raised when a single day still exceeds the API row limit.
type RowLimitError struct {
	Range    timeframe.DateRange
	RowCount int
}

func (e *RowLimitError) Error() string {
	return fmt.Sprintf("%s: %d rows for %s", ErrRowLimit, e.RowCount, e.Range)
}

func (e *RowLimitError) Is(target error) bool { return target == ErrRowLimit }

func (e *RowLimitError) Title() string { return "Sorry, cannot create report" }

func (e *RowLimitError) Message() string {
	return fmt.Sprintf("The report for %s contains more than the maximum number of rows the API can return. "+
		"Try a smaller date range or add filters.", timeframe.FormatDay(e.Range.Start))
}

// SamplingError carries the sub-range that came back sampled.
type SamplingError struct {
	Range      timeframe.DateRange
	SampleRate float64
}

func (e *SamplingError) Error() string {
	return fmt.Sprintf("%s: %s sampled at %.4f", ErrSampling, e.Range, e.SampleRate)
}

func (e *SamplingError) Is(target error) bool { return target == ErrSampling }

// UnexpectedMetricError is raised when a row names a metric that is not a Web Vital.
type UnexpectedMetricError struct {
	Metric string
}

func (e *UnexpectedMetricError) Error() string {
	return fmt.Sprintf("unexpected metric name %q", e.Metric)
}

func (e *UnexpectedMetricError) Title() string { return "Unexpected metric name" }

func (e *UnexpectedMetricError) Message() string {
	return fmt.Sprintf("The metric %q is not a known Web Vitals metric. "+
		"Check the event action dimension and the filters in your report configuration.", e.Metric)
}

// Aborted wraps cause so that errors.Is(err, ErrAborted) holds.
func Aborted(cause error) error {
	if cause == nil || errors.Is(cause, ErrAborted) {
		return ErrAborted
	}
	return fmt.Errorf("%w: %w", ErrAborted, cause)
}
