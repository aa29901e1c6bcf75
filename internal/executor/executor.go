// Package executor issues single reporting API page requests under a global
// concurrency ceiling and retries once when the access token has expired.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"vitalsreport/internal/auth"
	"vitalsreport/internal/metrics"
	"vitalsreport/internal/report"
	"vitalsreport/internal/upstream"
)

// DefaultPageSize is the number of rows requested per page.
const DefaultPageSize = 100000

type Options struct {
	Transport upstream.Transport
	Auth      auth.TokenSource

	// MaxConcurrent defaults to DefaultMaxConcurrent.
	MaxConcurrent int
	// RequestsPerSecond paces outgoing calls; zero disables pacing.
	RequestsPerSecond float64
	// PageSize defaults to DefaultPageSize.
	PageSize int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type Executor struct {
	transport upstream.Transport
	auth      auth.TokenSource
	gate      *Gate
	limiter   *rate.Limiter
	pageSize  int
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func New(opts Options) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	e := &Executor{
		transport: opts.Transport,
		auth:      opts.Auth,
		gate:      NewGate(opts.MaxConcurrent),
		pageSize:  pageSize,
		logger:    logger,
		metrics:   opts.Metrics,
	}
	if opts.RequestsPerSecond > 0 {
		burst := max(1, int(opts.RequestsPerSecond))
		e.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return e
}

// PageSize is the page size used on the wire.
func (e *Executor) PageSize() int {
	return e.pageSize
}

// Gate exposes the admission gate.
func (e *Executor) Gate() *Gate {
	return e.gate
}

// Execute issues one page request for req. Non-auth failures come back as
// *report.APIError; a cancelled ctx yields an error matching report.ErrAborted.
func (e *Executor) Execute(ctx context.Context, req report.Request) (*upstream.Report, error) {
	e.metrics.APIWaiting(1)
	err := e.gate.Acquire(ctx)
	e.metrics.APIWaiting(-1)
	if err != nil {
		e.metrics.APIRequest("aborted")
		return nil, report.Aborted(context.Cause(ctx))
	}
	e.metrics.APIInFlight(1)
	defer func() {
		e.metrics.APIInFlight(-1)
		e.gate.Release()
	}()

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			e.metrics.APIRequest("aborted")
			return nil, report.Aborted(context.Cause(ctx))
		}
	}

	wire := upstream.NewReportRequest(req, e.pageSize)
	log := e.logger.With(
		slog.String("view", req.ViewID()),
		slog.String("range", req.DateRange().String()),
		slog.String("page_token", req.PageToken()),
	)

	token, err := e.auth.Token(ctx)
	if err != nil {
		e.metrics.APIRequest("auth_error")
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	log.Debug("Issuing report request")
	rep, err := e.transport.Do(ctx, token, wire)
	if isUnauthorized(err) {
		if ctx.Err() != nil {
			e.metrics.APIRequest("aborted")
			return nil, report.Aborted(context.Cause(ctx))
		}
		log.Info("Access token rejected, refreshing and retrying once")
		e.metrics.APIRequest("auth_retry")

		token, err = e.auth.Refresh(ctx)
		if err != nil {
			e.metrics.APIRequest("auth_error")
			if ctx.Err() != nil {
				return nil, report.Aborted(context.Cause(ctx))
			}
			return nil, fmt.Errorf("failed to refresh access token: %w", err)
		}
		rep, err = e.transport.Do(ctx, token, wire)
	}

	if err != nil {
		err = e.classify(ctx, err)
		if errors.Is(err, report.ErrAborted) {
			e.metrics.APIRequest("aborted")
		} else {
			e.metrics.APIRequest("error")
			log.Warn("Report request failed", slog.Any("error", err))
		}
		return nil, err
	}

	e.metrics.APIRequest("ok")
	log.Debug("Report page received",
		slog.Int("row_count", rep.Data.RowCount),
		slog.Int("rows", len(rep.Data.Rows)),
		slog.Bool("golden", rep.Data.IsDataGolden),
		slog.Bool("sampled", rep.Sampled()),
	)
	return rep, nil
}

func (e *Executor) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return report.Aborted(context.Cause(ctx))
	}
	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) {
		return &report.APIError{
			Code:    statusErr.Code,
			Status:  statusErr.Status,
			Details: statusErr.Message,
		}
	}
	return fmt.Errorf("report request failed: %w", err)
}

func isUnauthorized(err error) bool {
	var statusErr *upstream.StatusError
	return errors.As(err, &statusErr) && statusErr.Code == http.StatusUnauthorized
}
