package testsupport

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vitalsreport/internal/report"
	"vitalsreport/internal/timeframe"
	"vitalsreport/internal/upstream"
)

// Today is the fixed "today" used by report tests.
var Today = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

// TestClock returns a clock frozen at Today.
func TestClock() timeframe.FixedClock {
	return timeframe.FixedClock{At: Today.Add(10 * time.Hour)}
}

// Segments used by test requests. The API echoes segment names, not ids.
var (
	DesktopSegment = report.Segment{ID: "-15", Name: "Desktop Traffic"}
	MobileSegment  = report.Segment{ID: "-14", Name: "Mobile Traffic"}
)

// Dimensions requested by test reports, in row order.
var TestDimensions = []string{
	"ga:segment", "ga:date", "ga:eventAction", "ga:countryIsoCode", "ga:pagePath", "ga:eventLabel",
}

// Day parses a YYYY-MM-DD literal or fails the test.
func Day(t testing.TB, s string) time.Time {
	t.Helper()
	d, err := timeframe.ParseDay(s)
	require.NoError(t, err)
	return d
}

// Range builds a date range from two YYYY-MM-DD literals.
func Range(t testing.TB, start, end string) timeframe.DateRange {
	t.Helper()
	dr, err := timeframe.NewDateRange(Day(t, start), Day(t, end))
	require.NoError(t, err)
	return dr
}

// NewTestRequest builds a two-segment Web Vitals request over [start, end].
func NewTestRequest(t testing.TB, start, end string, sampling report.SamplingMode) report.Request {
	t.Helper()
	req, err := report.NewRequest(report.RequestParams{
		ViewID:     "12345",
		Segments:   []report.Segment{DesktopSegment, MobileSegment},
		DateRange:  Range(t, start, end),
		Dimensions: TestDimensions,
		Metrics:    []string{"ga:eventValue"},
		Filters: []report.Filter{
			{Dimension: "ga:eventCategory", Operator: "EXACT", Expression: []string{"Web Vitals"}},
		},
		Sampling: sampling,
	})
	require.NoError(t, err)
	return req
}

// APIRow builds a raw API row as the reporting API returns it: segment name
// and YYYYMMDD date.
func APIRow(segmentName, day, metric string, value float64) upstream.ReportRow {
	compact := strings.ReplaceAll(day, "-", "")
	return upstream.ReportRow{
		Dimensions: []string{segmentName, compact, metric, "US", "/", metric + "-" + compact + "-" + strconv.FormatFloat(value, 'f', -1, 64)},
		Metrics:    []upstream.DateRangeValues{{Values: []string{strconv.FormatFloat(value, 'f', -1, 64)}}},
	}
}

// DailyRows returns one LCP and one CLS row per segment for every day of dr.
// Values grow with the day so that ordering is easy to check.
func DailyRows(dr timeframe.DateRange) []upstream.ReportRow {
	var rows []upstream.ReportRow
	for i, d := range dr.Days() {
		day := timeframe.FormatDay(d)
		for j, seg := range []report.Segment{DesktopSegment, MobileSegment} {
			rows = append(rows,
				APIRow(seg.Name, day, "LCP", float64(1000+i*10+j)),
				APIRow(seg.Name, day, "CLS", float64(i*10+j)),
			)
		}
	}
	return rows
}

// FakeAPI is an in-memory reporting API. It answers requests from Rows,
// filtered by date range, sorted by value then date, and paginated by the
// request's page size with offset tokens.
type FakeAPI struct {
	mu sync.Mutex

	Rows []upstream.ReportRow

	// Hook runs after a page is built and may adjust it or fail the call.
	Hook func(req upstream.ReportRequest, rep *upstream.Report) error

	calls  []upstream.ReportRequest
	tokens []string
}

func (f *FakeAPI) Do(ctx context.Context, token string, req upstream.ReportRequest) (*upstream.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.tokens = append(f.tokens, token)
	hook := f.Hook
	rows := f.matching(req)
	f.mu.Unlock()

	offset, _ := strconv.Atoi(req.PageToken)
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = len(rows)
	}
	end := min(offset+pageSize, len(rows))
	if offset > end {
		offset = end
	}

	rep := &upstream.Report{Data: upstream.ReportData{
		Rows:         slices.Clone(rows[offset:end]),
		RowCount:     len(rows),
		IsDataGolden: true,
	}}
	if end < len(rows) {
		rep.NextPageToken = strconv.Itoa(end)
	}
	if hook != nil {
		if err := hook(req, rep); err != nil {
			return nil, err
		}
	}
	return rep, nil
}

func (f *FakeAPI) matching(req upstream.ReportRequest) []upstream.ReportRow {
	dr := req.DateRanges[0]
	start := strings.ReplaceAll(dr.StartDate, "-", "")
	end := strings.ReplaceAll(dr.EndDate, "-", "")

	var rows []upstream.ReportRow
	for _, r := range f.Rows {
		if d := r.Dimensions[1]; d >= start && d <= end {
			rows = append(rows, r)
		}
	}
	slices.SortStableFunc(rows, func(a, b upstream.ReportRow) int {
		av, _ := strconv.ParseFloat(a.Metrics[0].Values[0], 64)
		bv, _ := strconv.ParseFloat(b.Metrics[0].Values[0], 64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return strings.Compare(a.Dimensions[1], b.Dimensions[1])
	})
	return rows
}

// Calls returns the requests received so far.
func (f *FakeAPI) Calls() []upstream.ReportRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// Tokens returns the bearer tokens received so far.
func (f *FakeAPI) Tokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.tokens)
}

// CallRanges returns "start..end" for each received request.
func (f *FakeAPI) CallRanges() []string {
	calls := f.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.DateRanges[0].StartDate + ".." + c.DateRanges[0].EndDate
	}
	return out
}

// IsSingleDay reports whether a wire request covers one day.
func IsSingleDay(req upstream.ReportRequest) bool {
	return req.DateRanges[0].StartDate == req.DateRanges[0].EndDate
}
