// Package orchestrator builds a report from the local cache and the reporting
// API, and writes newly fetched golden rows back to the cache.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/karloscodes/cartridge/cache"

	"vitalsreport/internal/cachestore"
	"vitalsreport/internal/metrics"
	"vitalsreport/internal/pkg/async"
	"vitalsreport/internal/report"
	"vitalsreport/internal/splitter"
	"vitalsreport/internal/timeframe"
)

const (
	// DefaultHighVolumeRowsPerDay is the average daily row count above which
	// missing ranges are fetched one day at a time.
	DefaultHighVolumeRowsPerDay = 100000

	statsTTL     = 10 * time.Minute
	writeTimeout = 2 * time.Minute

	taskCache   = "cache"
	taskNetwork = "network"
)

// Fetcher fetches date ranges from the network.
type Fetcher interface {
	Fetch(ctx context.Context, req report.Request, ranges []timeframe.DateRange, opts splitter.Options) (*splitter.Result, error)
}

type Options struct {
	// Store may be nil, in which case every report comes from the network.
	Store                cachestore.Store
	Fetcher              Fetcher
	Progress             *report.Progress
	HighVolumeRowsPerDay float64
	Logger               *slog.Logger
	Metrics              *metrics.Metrics
}

type Orchestrator struct {
	store     cachestore.Store
	fetcher   Fetcher
	progress  *report.Progress
	threshold float64
	logger    *slog.Logger
	metrics   *metrics.Metrics
	pool      *async.Pool
	avgRows   *cache.Cache[string, float64]

	writes sync.WaitGroup
}

func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	threshold := opts.HighVolumeRowsPerDay
	if threshold <= 0 {
		threshold = DefaultHighVolumeRowsPerDay
	}

	o := &Orchestrator{
		store:     opts.Store,
		fetcher:   opts.Fetcher,
		progress:  opts.Progress,
		threshold: threshold,
		logger:    logger,
		metrics:   opts.Metrics,
		pool:      async.NewPool(2),
	}
	o.avgRows = cache.NewCache[string, float64](logger, statsTTL, func(view string) (float64, error) {
		if o.store == nil {
			return 0, nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return o.store.AverageDailyRows(ctx, view)
	})
	return o
}

// Progress returns the shared progress counter.
func (o *Orchestrator) Progress() *report.Progress {
	return o.progress
}

// Store returns the cache store, which may be nil.
func (o *Orchestrator) Store() cachestore.Store {
	return o.store
}

// Wait blocks until background cache writes have finished.
func (o *Orchestrator) Wait() {
	o.writes.Wait()
}

// Run builds the report described by req.
func (o *Orchestrator) Run(ctx context.Context, req report.Request) (*report.Result, error) {
	start := time.Now()
	log := o.logger.With(
		slog.String("report_id", uuid.NewString()),
		slog.String("view", req.ViewID()),
		slog.String("range", req.DateRange().String()),
		slog.String("sampling", string(req.Sampling())),
	)
	o.progress.Reset()

	res, err := o.run(ctx, req, log)
	if errors.Is(err, report.ErrSampling) {
		log.Info("Sampled data in a granular fetch, re-fetching the whole range with small sampling",
			slog.Any("cause", err))
		o.metrics.SamplingRetry()
		res, err = o.fetchUncached(ctx, req.WithSampling(report.SamplingForcedSmall))
	}
	if err != nil {
		if errors.Is(err, report.ErrAborted) {
			log.Info("Report aborted", slog.Any("error", err))
		} else {
			log.Error("Report failed", slog.Any("error", err))
		}
		return nil, err
	}

	o.progress.Complete()
	o.metrics.Report(string(res.Meta.Source), time.Since(start).Seconds())
	log.Info("Report complete",
		slog.String("source", string(res.Meta.Source)),
		slog.Bool("sampled", res.Meta.IsSampled),
		slog.Int("rows", len(res.Rows)),
		slog.Duration("elapsed", time.Since(start)))
	return res, nil
}

// fetchUncached fetches the whole range from the network without touching the cache.
func (o *Orchestrator) fetchUncached(ctx context.Context, req report.Request) (*report.Result, error) {
	dr := req.DateRange()
	fetched, err := o.fetcher.Fetch(ctx, req, []timeframe.DateRange{dr}, splitter.Options{
		MultiDay: !dr.IsSingleDay(),
	})
	if err != nil {
		return nil, err
	}
	return &report.Result{
		Rows: fetched.Rows,
		Meta: report.Meta{Source: report.SourceNetwork, IsSampled: fetched.Sampled},
	}, nil
}

func (o *Orchestrator) run(ctx context.Context, req report.Request, log *slog.Logger) (*report.Result, error) {
	if ctx.Err() != nil {
		return nil, report.Aborted(context.Cause(ctx))
	}
	if req.ForcedSmall() || o.store == nil {
		return o.fetchUncached(ctx, req)
	}

	dr := req.DateRange()
	view, shape, segments := req.ViewID(), req.ShapeHash(), req.SegmentIDs()

	keys, err := o.store.Keys(ctx, view, segments, shape, dr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, report.Aborted(context.Cause(ctx))
		}
		o.recoverCache(ctx, log, "read", err)
		keys = nil
	}

	usable := cachestore.UsableDays(keys, segments, dr)
	dailyBias := o.dailyBias(view, log)
	missing := missingRanges(dr, usable, dailyBias)
	opts := splitter.Options{DailyBias: dailyBias, MultiDay: !dr.IsSingleDay()}

	log.Debug("Cache lookup complete",
		slog.Int("usable_days", len(usable)),
		slog.Int("missing_ranges", len(missing)),
		slog.Bool("daily_bias", dailyBias))

	var tasks []async.Task
	if len(usable) > 0 {
		o.progress.AddTotal(1)
		tasks = append(tasks, async.Task{Name: taskCache, Execute: func(ctx context.Context) (any, error) {
			defer o.progress.Done(1)
			return o.store.Get(ctx, view, shape, cachestore.KeysForDays(segments, usable))
		}})
	}
	if len(missing) > 0 {
		tasks = append(tasks, async.Task{Name: taskNetwork, Execute: func(ctx context.Context) (any, error) {
			return o.fetcher.Fetch(ctx, req, missing, opts)
		}})
	}
	results := o.pool.Execute(ctx, tasks)
	if ctx.Err() != nil {
		return nil, report.Aborted(context.Cause(ctx))
	}

	var chunks []splitter.Chunk
	var networkRows []report.Row
	sampled := false
	if r, ok := results[taskNetwork]; ok {
		if r.Err != nil {
			return nil, r.Err
		}
		fetched := r.Data.(*splitter.Result)
		chunks, networkRows, sampled = fetched.Chunks, fetched.Rows, fetched.Sampled
	}

	var cacheRows []report.Row
	fromCache := false
	if r, ok := results[taskCache]; ok {
		if r.Err != nil {
			o.recoverCache(ctx, log, "read", r.Err)

			// The days we meant to serve from cache now come from the network.
			fallback, err := o.fetcher.Fetch(ctx, req, timeframe.Runs(usable), opts)
			if err != nil {
				return nil, err
			}
			chunks = append(chunks, fallback.Chunks...)
			networkRows = report.Merge(networkRows, fallback.Rows)
			sampled = sampled || fallback.Sampled
		} else {
			cacheRows = r.Data.([]report.Row)
			report.SortRows(cacheRows)
			fromCache = true
		}
	}

	source := report.SourceMixed
	switch {
	case !fromCache:
		source = report.SourceNetwork
	case len(missing) == 0:
		source = report.SourceCache
	}

	o.writeAsync(ctx, log, req, chunks)

	return &report.Result{
		Rows: report.Merge(cacheRows, networkRows),
		Meta: report.Meta{Source: source, IsSampled: sampled},
	}, nil
}

func (o *Orchestrator) dailyBias(view string, log *slog.Logger) bool {
	avg, err := o.avgRows.Get(view)
	if err != nil {
		log.Debug("Average daily rows unavailable", slog.Any("error", err))
		return false
	}
	return avg > o.threshold
}

// missingRanges returns the days of dr not usable from cache, grouped into
// contiguous runs, or one range per day under daily bias.
func missingRanges(dr timeframe.DateRange, usable []time.Time, dailyBias bool) []timeframe.DateRange {
	have := make(map[time.Time]bool, len(usable))
	for _, d := range usable {
		have[d] = true
	}
	var days []time.Time
	for _, d := range dr.Days() {
		if !have[d] {
			days = append(days, d)
		}
	}
	if dailyBias {
		ranges := make([]timeframe.DateRange, len(days))
		for i, d := range days {
			ranges[i] = timeframe.SingleDay(d)
		}
		return ranges
	}
	return timeframe.Runs(days)
}

// writeAsync persists the cacheable part of the fetched chunks after the
// caller has its result. Only golden, unsampled chunks are written.
func (o *Orchestrator) writeAsync(ctx context.Context, log *slog.Logger, req report.Request, chunks []splitter.Chunk) {
	segments := req.SegmentIDs()
	var entries []cachestore.Entry
	for _, c := range chunks {
		if !c.Cacheable() {
			continue
		}
		entries = append(entries, cachestore.GroupEntries(c.Rows, segments, c.Range.Days())...)
	}
	if len(entries) == 0 {
		return
	}

	view, shape := req.ViewID(), req.ShapeHash()
	o.writes.Add(1)
	go func() {
		defer o.writes.Done()
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
		defer cancel()

		if err := o.store.Put(wctx, view, shape, entries); err != nil {
			o.recoverCache(wctx, log, "write", err)
			return
		}
		o.metrics.CacheEntriesWritten(len(entries))
		o.avgRows.Clear()
		log.Debug("Cache entries written", slog.Int("entries", len(entries)))
	}()
}

// recoverCache clears the whole store after a failed read or write. Entries
// may come from an incompatible layout, so none of them are trusted.
func (o *Orchestrator) recoverCache(ctx context.Context, log *slog.Logger, op string, cause error) {
	o.metrics.CacheError(op)
	log.Warn("Cache failure, clearing the cache", slog.String("op", op), slog.Any("error", cause))
	if err := o.store.Clear(context.WithoutCancel(ctx)); err != nil {
		log.Error("Failed to clear cache", slog.Any("error", err))
	}
	o.avgRows.Clear()
}

// ClearCache empties the cache store.
func (o *Orchestrator) ClearCache(ctx context.Context) error {
	if o.store == nil {
		return nil
	}
	o.Wait()
	defer o.avgRows.Clear()
	return o.store.Clear(ctx)
}
