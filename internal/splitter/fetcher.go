package splitter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"vitalsreport/internal/report"
	"vitalsreport/internal/timeframe"
	"vitalsreport/internal/upstream"
	"vitalsreport/internal/vitals"
)

// DefaultRowLimit is the row count at which the API truncates a report.
const DefaultRowLimit = 1000000

// Executor issues one page request.
type Executor interface {
	Execute(ctx context.Context, req report.Request) (*upstream.Report, error)
}

type Config struct {
	Executor Executor
	Clock    timeframe.Clock
	// PageSize must match the page size the executor sends.
	PageSize int
	// RowLimit defaults to DefaultRowLimit.
	RowLimit int
	Progress *report.Progress
	Logger   *slog.Logger
}

// Options describe the logical request a fetch belongs to.
type Options struct {
	// DailyBias starts every range at day granularity.
	DailyBias bool
	// MultiDay is set when the logical report spans more than one day. A
	// sampled single day is then an error instead of an accepted result.
	MultiDay bool
}

// Chunk is the normalized data of one fetched sub-range.
type Chunk struct {
	Range   timeframe.DateRange
	Rows    []report.Row
	Golden  bool
	Sampled bool
	// Unresolved is set when a row's segment name matched none of the
	// requested segments, so rows cannot be filed under a segment id.
	Unresolved bool
}

// Cacheable reports whether the chunk may be written to the cache.
func (c Chunk) Cacheable() bool {
	return c.Golden && !c.Sampled && !c.Unresolved
}

// Result holds every chunk of a fetch, in chronological order, and their merged rows.
type Result struct {
	Rows    []report.Row
	Chunks  []Chunk
	Sampled bool
}

type Fetcher struct {
	exec     Executor
	planner  Planner
	pageSize int
	rowLimit int
	progress *report.Progress
	logger   *slog.Logger
}

func NewFetcher(cfg Config) *Fetcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rowLimit := cfg.RowLimit
	if rowLimit <= 0 {
		rowLimit = DefaultRowLimit
	}
	return &Fetcher{
		exec:     cfg.Executor,
		planner:  Planner{Clock: cfg.Clock},
		pageSize: cfg.PageSize,
		rowLimit: rowLimit,
		progress: cfg.Progress,
		logger:   logger,
	}
}

// Fetch plans and fetches every range for req. Sub-ranges run concurrently;
// the first failure cancels the rest.
func (f *Fetcher) Fetch(ctx context.Context, req report.Request, ranges []timeframe.DateRange, opts Options) (*Result, error) {
	var planned []timeframe.DateRange
	for _, r := range ranges {
		planned = append(planned, f.planner.Plan(r, req, opts.DailyBias)...)
	}
	f.progress.AddTotal(len(planned))

	chunks, err := f.fetchAll(ctx, req, planned, opts)
	if err != nil {
		return nil, err
	}

	res := &Result{Chunks: chunks}
	seqs := make([][]report.Row, len(chunks))
	for i, c := range chunks {
		seqs[i] = c.Rows
		res.Sampled = res.Sampled || c.Sampled
	}
	res.Rows = report.MergeAll(seqs...)
	return res, nil
}

func (f *Fetcher) fetchAll(ctx context.Context, req report.Request, ranges []timeframe.DateRange, opts Options) ([]Chunk, error) {
	results := make([][]Chunk, len(ranges))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range ranges {
		g.Go(func() error {
			chunks, err := f.fetchRange(gctx, req, r, opts)
			if err != nil {
				return err
			}
			results[i] = chunks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var chunks []Chunk
	for _, c := range results {
		chunks = append(chunks, c...)
	}
	return chunks, nil
}

func (f *Fetcher) fetchRange(ctx context.Context, req report.Request, r timeframe.DateRange, opts Options) ([]Chunk, error) {
	sub := req.WithDateRange(r)
	first, err := f.exec.Execute(ctx, sub)
	if err != nil {
		return nil, err
	}

	rowCount := first.Data.RowCount
	if rowCount >= f.rowLimit {
		if r.IsSingleDay() {
			return nil, &report.RowLimitError{Range: r, RowCount: rowCount}
		}
		f.logger.Info("Row limit reached, splitting by day",
			slog.String("range", r.String()),
			slog.Int("row_count", rowCount))
		return f.replanByDay(ctx, req, r, opts)
	}

	if first.Sampled() && !req.ForcedSmall() {
		switch {
		case !r.IsSingleDay():
			f.logger.Info("Sampled response, splitting by day",
				slog.String("range", r.String()),
				slog.Float64("sample_rate", first.SampleRate()))
			return f.replanByDay(ctx, req, r, opts)
		case opts.MultiDay:
			return nil, &report.SamplingError{Range: r, SampleRate: first.SampleRate()}
		}
	}

	pages, err := f.remainingPages(ctx, sub, first)
	if err != nil {
		return nil, err
	}

	chunk := Chunk{Range: r, Golden: true}
	for _, page := range pages {
		sampled := page.Sampled()
		golden := page.Data.IsDataGolden
		chunk.Golden = chunk.Golden && golden
		chunk.Sampled = chunk.Sampled || sampled

		rows, resolved, err := normalize(req, page, golden && !sampled)
		if err != nil {
			return nil, err
		}
		chunk.Unresolved = chunk.Unresolved || !resolved
		chunk.Rows = append(chunk.Rows, rows...)
	}
	if chunk.Unresolved {
		f.logger.Warn("Segment names did not match the request, skipping cache",
			slog.String("range", r.String()))
		for i := range chunk.Rows {
			chunk.Rows[i].Cacheable = false
		}
	}
	report.SortRows(chunk.Rows)

	f.progress.Done(1)
	return []Chunk{chunk}, nil
}

func (f *Fetcher) replanByDay(ctx context.Context, req report.Request, r timeframe.DateRange, opts Options) ([]Chunk, error) {
	days := r.SplitByDay()
	f.progress.Replan(len(days))
	return f.fetchAll(ctx, req, days, opts)
}

// remainingPages returns first followed by every later page. Later pages are
// requested in parallel at explicit row offsets once the first page has
// established the total.
func (f *Fetcher) remainingPages(ctx context.Context, sub report.Request, first *upstream.Report) ([]*upstream.Report, error) {
	pageSize := f.pageSize
	if pageSize <= 0 {
		pageSize = len(first.Data.Rows)
	}
	if first.NextPageToken == "" || pageSize <= 0 || first.Data.RowCount <= pageSize {
		return []*upstream.Report{first}, nil
	}

	n := (first.Data.RowCount + pageSize - 1) / pageSize
	pages := make([]*upstream.Report, n)
	pages[0] = first
	f.progress.AddTotal(n - 1)

	g, gctx := errgroup.WithContext(ctx)
	for i := 1; i < n; i++ {
		g.Go(func() error {
			page, err := f.exec.Execute(gctx, sub.WithPageOffset(i*pageSize))
			if err != nil {
				return err
			}
			pages[i] = page
			f.progress.Done(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pages, nil
}

// normalize converts API rows into report rows: segment names become segment
// ids, dates become ISO days and sampled values are scaled back down. resolved
// is false when some segment name could not be mapped to an id.
func normalize(req report.Request, page *upstream.Report, cacheable bool) (rows []report.Row, resolved bool, err error) {
	rate := 1.0
	if page.Sampled() {
		rate = page.SampleRate()
	}

	resolved = true
	rows = make([]report.Row, 0, len(page.Data.Rows))
	for _, raw := range page.Data.Rows {
		dims := make([]string, len(raw.Dimensions))
		copy(dims, raw.Dimensions)

		if len(dims) > report.DimSegment {
			if id, ok := req.SegmentIDForName(dims[report.DimSegment]); ok {
				dims[report.DimSegment] = id
			} else {
				resolved = false
			}
		}
		if len(dims) > report.DimDate {
			dims[report.DimDate] = isoDate(dims[report.DimDate])
		}
		if len(dims) > report.DimMetric && !vitals.IsKnownMetric(dims[report.DimMetric]) {
			return nil, false, &report.UnexpectedMetricError{Metric: dims[report.DimMetric]}
		}

		var value float64
		if len(raw.Metrics) > 0 && len(raw.Metrics[0].Values) > 0 {
			v, err := strconv.ParseFloat(raw.Metrics[0].Values[0], 64)
			if err != nil {
				return nil, false, fmt.Errorf("invalid metric value %q: %w", raw.Metrics[0].Values[0], err)
			}
			value = v * rate
		}

		rows = append(rows, report.Row{Dimensions: dims, Value: value, Cacheable: cacheable})
	}
	return rows, resolved, nil
}

// isoDate turns YYYYMMDD into YYYY-MM-DD and leaves anything else alone.
func isoDate(s string) string {
	if len(s) != 8 || strings.ContainsFunc(s, func(r rune) bool { return r < '0' || r > '9' }) {
		return s
	}
	return s[:4] + "-" + s[4:6] + "-" + s[6:]
}
