package orchestrator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalsreport/internal/auth"
	"vitalsreport/internal/cachestore"
	"vitalsreport/internal/executor"
	"vitalsreport/internal/orchestrator"
	"vitalsreport/internal/report"
	"vitalsreport/internal/splitter"
	"vitalsreport/internal/testsupport"
	"vitalsreport/internal/timeframe"
	"vitalsreport/internal/upstream"
)

const pageSize = 1000

type fixture struct {
	api      *testsupport.FakeAPI
	store    *testsupport.FaultyStore
	progress *report.Progress
	orch     *orchestrator.Orchestrator
}

func newFixture(t *testing.T, store cachestore.Store, threshold float64) *fixture {
	t.Helper()
	f := &fixture{
		api:      &testsupport.FakeAPI{Rows: testsupport.DailyRows(testsupport.Range(t, "2024-01-01", "2024-01-10"))},
		progress: &report.Progress{},
	}
	exec := executor.New(executor.Options{
		Transport: f.api,
		Auth:      auth.StaticSource{AccessToken: "token"},
		PageSize:  pageSize,
		Logger:    testsupport.GetLogger(),
	})
	fetcher := splitter.NewFetcher(splitter.Config{
		Executor: exec,
		Clock:    testsupport.TestClock(),
		PageSize: pageSize,
		Progress: f.progress,
		Logger:   testsupport.GetLogger(),
	})

	opts := orchestrator.Options{
		Fetcher:              fetcher,
		Progress:             f.progress,
		HighVolumeRowsPerDay: threshold,
		Logger:               testsupport.GetLogger(),
	}
	if store != nil {
		f.store = testsupport.NewFaultyStore(store)
		opts.Store = f.store
	}
	f.orch = orchestrator.New(opts)
	t.Cleanup(f.orch.Wait)
	return f
}

func (f *fixture) run(t *testing.T, start, end string, sampling report.SamplingMode) *report.Result {
	t.Helper()
	res, err := f.orch.Run(context.Background(), testsupport.NewTestRequest(t, start, end, sampling))
	require.NoError(t, err)
	f.orch.Wait()
	return res
}

// stripped drops cache bookkeeping so rows from different sources compare equal.
func stripped(rows []report.Row) []report.Row {
	out := make([]report.Row, len(rows))
	for i, r := range rows {
		r.Cacheable = false
		out[i] = r
	}
	return out
}

func markSampled(rep *upstream.Report) {
	rep.Data.SamplesReadCounts = []string{"250"}
	rep.Data.SamplingSpaceSizes = []string{"1000"}
}

func TestRunColdCache(t *testing.T) {
	f := newFixture(t, testsupport.SetupSQLStore(t), 0)

	res := f.run(t, "2024-01-01", "2024-01-03", report.SamplingAuto)

	assert.Equal(t, report.SourceNetwork, res.Meta.Source)
	assert.False(t, res.Meta.IsSampled)
	assert.Len(t, res.Rows, 12)
	assert.Equal(t, []string{"2024-01-01..2024-01-03"}, f.api.CallRanges())
	assert.Equal(t, 100, f.progress.Percent())

	req := testsupport.NewTestRequest(t, "2024-01-01", "2024-01-03", report.SamplingAuto)
	keys, err := f.store.Keys(context.Background(), req.ViewID(), req.SegmentIDs(), req.ShapeHash(), req.DateRange())
	require.NoError(t, err)
	assert.Len(t, keys, 6)
}

func TestRunWarmCache(t *testing.T) {
	f := newFixture(t, testsupport.SetupSQLStore(t), 0)
	f.run(t, "2024-01-01", "2024-01-03", report.SamplingAuto)

	res := f.run(t, "2024-01-01", "2024-01-03", report.SamplingAuto)

	assert.Equal(t, report.SourceCache, res.Meta.Source)
	assert.Len(t, res.Rows, 12)
	assert.Len(t, f.api.Calls(), 1, "second run is served from cache")
}

func TestRunPartialCache(t *testing.T) {
	f := newFixture(t, testsupport.SetupSQLStore(t), 0)
	f.run(t, "2024-01-01", "2024-01-02", report.SamplingAuto)

	res := f.run(t, "2024-01-01", "2024-01-04", report.SamplingAuto)

	assert.Equal(t, report.SourceMixed, res.Meta.Source)
	assert.Equal(t, []string{"2024-01-01..2024-01-02", "2024-01-03..2024-01-04"}, f.api.CallRanges())

	uncached := newFixture(t, nil, 0)
	want := uncached.run(t, "2024-01-01", "2024-01-04", report.SamplingAuto)
	assert.Equal(t, stripped(want.Rows), stripped(res.Rows), "mixed result matches a network-only result")
}

func TestRunForcedSmallBypassesCache(t *testing.T) {
	f := newFixture(t, testsupport.SetupSQLStore(t), 0)
	f.run(t, "2024-01-01", "2024-01-03", report.SamplingAuto)
	puts := f.store.Puts()

	res := f.run(t, "2024-01-01", "2024-01-03", report.SamplingForcedSmall)

	assert.Equal(t, report.SourceNetwork, res.Meta.Source)
	assert.Len(t, res.Rows, 12)
	calls := f.api.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, upstream.SamplingLevelSmall, calls[1].SamplingLevel)
	assert.Equal(t, puts, f.store.Puts(), "forced small results are never cached")
}

func TestRunSamplingRetry(t *testing.T) {
	f := newFixture(t, testsupport.SetupSQLStore(t), 0)
	f.api.Hook = func(req upstream.ReportRequest, rep *upstream.Report) error {
		markSampled(rep)
		return nil
	}

	res := f.run(t, "2024-01-01", "2024-01-03", report.SamplingAuto)

	assert.Equal(t, report.SourceNetwork, res.Meta.Source)
	assert.True(t, res.Meta.IsSampled)
	assert.Len(t, res.Rows, 12)

	calls := f.api.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, upstream.SamplingLevelSmall, last.SamplingLevel)
	assert.Equal(t, "2024-01-01", last.DateRanges[0].StartDate)
	assert.Equal(t, "2024-01-03", last.DateRanges[0].EndDate)

	small := 0
	for _, c := range calls {
		if c.SamplingLevel == upstream.SamplingLevelSmall {
			small++
		}
	}
	assert.Equal(t, 1, small)
	assert.Zero(t, f.store.Puts(), "sampled data is not cached")
	assert.Equal(t, 100, f.progress.Percent())
}

func TestRunCacheReadFailure(t *testing.T) {
	f := newFixture(t, testsupport.SetupSQLStore(t), 0)
	f.run(t, "2024-01-01", "2024-01-02", report.SamplingAuto)
	f.store.FailGet(true)

	res := f.run(t, "2024-01-01", "2024-01-03", report.SamplingAuto)

	assert.Equal(t, report.SourceNetwork, res.Meta.Source)
	assert.Len(t, res.Rows, 12)
	assert.Equal(t, 1, f.store.Clears())
	assert.ElementsMatch(t, []string{
		"2024-01-01..2024-01-02",
		"2024-01-03..2024-01-03",
		"2024-01-01..2024-01-02",
	}, f.api.CallRanges())
}

func TestRunCacheWriteFailure(t *testing.T) {
	f := newFixture(t, testsupport.SetupSQLStore(t), 0)
	f.store.FailPut(true)

	res := f.run(t, "2024-01-01", "2024-01-03", report.SamplingAuto)

	assert.Len(t, res.Rows, 12)
	assert.Equal(t, 1, f.store.Clears())

	f.store.FailPut(false)
	res = f.run(t, "2024-01-01", "2024-01-03", report.SamplingAuto)
	assert.Equal(t, report.SourceNetwork, res.Meta.Source, "nothing was cached by the failed write")
}

func TestRunDailyBias(t *testing.T) {
	f := newFixture(t, testsupport.SetupSQLStore(t), 1)
	f.run(t, "2024-01-01", "2024-01-01", report.SamplingAuto)

	res := f.run(t, "2024-01-01", "2024-01-04", report.SamplingAuto)

	assert.Equal(t, report.SourceMixed, res.Meta.Source)
	assert.Len(t, res.Rows, 16)
	assert.ElementsMatch(t, []string{
		"2024-01-01..2024-01-01",
		"2024-01-02..2024-01-02",
		"2024-01-03..2024-01-03",
		"2024-01-04..2024-01-04",
	}, f.api.CallRanges())
}

func TestRunErrors(t *testing.T) {
	t.Run("row limit", func(t *testing.T) {
		f := newFixture(t, testsupport.SetupSQLStore(t), 0)
		f.api.Hook = func(req upstream.ReportRequest, rep *upstream.Report) error {
			rep.Data.RowCount = splitter.DefaultRowLimit
			return nil
		}

		_, err := f.orch.Run(context.Background(), testsupport.NewTestRequest(t, "2024-01-01", "2024-01-01", report.SamplingAuto))
		assert.ErrorIs(t, err, report.ErrRowLimit)
	})

	t.Run("aborted", func(t *testing.T) {
		f := newFixture(t, testsupport.SetupSQLStore(t), 0)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := f.orch.Run(ctx, testsupport.NewTestRequest(t, "2024-01-01", "2024-01-03", report.SamplingAuto))
		assert.ErrorIs(t, err, report.ErrAborted)
		assert.Empty(t, f.api.Calls())
	})
}

func TestClearCache(t *testing.T) {
	f := newFixture(t, testsupport.SetupSQLStore(t), 0)
	f.run(t, "2024-01-01", "2024-01-02", report.SamplingAuto)

	require.NoError(t, f.orch.ClearCache(context.Background()))

	res := f.run(t, "2024-01-01", "2024-01-02", report.SamplingAuto)
	assert.Equal(t, report.SourceNetwork, res.Meta.Source)
}

func TestRunUnresolvedSegmentsAreNotCached(t *testing.T) {
	f := newFixture(t, testsupport.SetupSQLStore(t), 0)
	req, err := report.NewRequest(report.RequestParams{
		ViewID:     "12345",
		Segments:   []report.Segment{{ID: "-15"}, {ID: "-14"}},
		DateRange:  testsupport.Range(t, "2024-01-01", "2024-01-03"),
		Dimensions: testsupport.TestDimensions,
		Metrics:    []string{"ga:eventValue"},
	})
	require.NoError(t, err)

	for range 2 {
		res, err := f.orch.Run(context.Background(), req)
		require.NoError(t, err)
		f.orch.Wait()

		assert.Equal(t, report.SourceNetwork, res.Meta.Source)
		assert.Len(t, res.Rows, 12)
	}
	assert.Zero(t, f.store.Puts())
	assert.Len(t, f.api.Calls(), 2)
}

func TestRunNonGoldenIsNotCached(t *testing.T) {
	f := newFixture(t, testsupport.SetupSQLStore(t), 0)
	f.api.Rows = testsupport.DailyRows(testsupport.Range(t, "2024-05-28", "2024-06-01"))
	f.api.Hook = func(req upstream.ReportRequest, rep *upstream.Report) error {
		if req.DateRanges[0].StartDate >= "2024-05-31" {
			rep.Data.IsDataGolden = false
		}
		return nil
	}

	res := f.run(t, "2024-05-28", "2024-06-01", report.SamplingAuto)

	assert.Equal(t, report.SourceNetwork, res.Meta.Source)
	assert.Len(t, res.Rows, 20)
	assert.ElementsMatch(t, []string{
		"2024-05-28..2024-05-30",
		"2024-05-31..2024-05-31",
		"2024-06-01..2024-06-01",
	}, f.api.CallRanges())

	req := testsupport.NewTestRequest(t, "2024-05-28", "2024-06-01", report.SamplingAuto)
	keys, err := f.store.Keys(context.Background(), req.ViewID(), req.SegmentIDs(), req.ShapeHash(), req.DateRange())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"2024-05-28", "2024-05-29", "2024-05-30"}, keyDays(keys))
	puts := f.store.Puts()

	res = f.run(t, "2024-05-28", "2024-06-01", report.SamplingAuto)

	assert.Equal(t, report.SourceMixed, res.Meta.Source)
	assert.Len(t, res.Rows, 20)
	assert.ElementsMatch(t, []string{
		"2024-05-31..2024-05-31",
		"2024-06-01..2024-06-01",
	}, f.api.CallRanges()[3:])
	assert.Equal(t, puts, f.store.Puts(), "non-golden days are never written")
}

func keyDays(keys []cachestore.Key) []string {
	seen := make(map[string]bool)
	var days []string
	for _, k := range keys {
		day := timeframe.FormatDay(k.Day)
		if !seen[day] {
			seen[day] = true
			days = append(days, day)
		}
	}
	return days
}
