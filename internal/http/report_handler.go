package http

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"vitalsreport/internal/report"
	"vitalsreport/internal/timeframe"
	"vitalsreport/internal/vitals"
)

// StatusClientClosedRequest is returned when a report was aborted.
const StatusClientClosedRequest = 499

const defaultTopCountries = 10

// ReportService builds reports. It is implemented by the orchestrator.
type ReportService interface {
	Run(ctx context.Context, req report.Request) (*report.Result, error)
	Progress() *report.Progress
	ClearCache(ctx context.Context) error
}

// CreateReportRequest is the JSON body of POST /api/v1/reports. Missing dates
// default to the 28 days ending yesterday.
type CreateReportRequest struct {
	ViewID       string              `json:"viewId"`
	Segments     []report.Segment    `json:"segments"`
	StartDate    string              `json:"startDate"`
	EndDate      string              `json:"endDate"`
	Dimensions   []string            `json:"dimensions"`
	Metrics      []string            `json:"metrics"`
	Filters      []report.Filter     `json:"filters"`
	Sampling     report.SamplingMode `json:"sampling"`
	TopCountries int                 `json:"topCountries"`
}

type ReportResponse struct {
	Rows         []report.Row          `json:"rows"`
	Meta         report.Meta           `json:"meta"`
	Summary      []vitals.Summary      `json:"summary"`
	TopCountries []vitals.CountryCount `json:"topCountries"`
}

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error   string `json:"error"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`
}

const reportDepsKey = "report_deps"

type reportDeps struct {
	service ReportService
	parser  *timeframe.Parser
}

// WithReportService makes the report service available to the report and
// cache actions of a route.
func WithReportService(service ReportService, clock timeframe.Clock) fiber.Handler {
	deps := &reportDeps{service: service, parser: timeframe.NewParser(clock)}
	return func(c *fiber.Ctx) error {
		c.Locals(reportDepsKey, deps)
		return c.Next()
	}
}

func reportDepsFrom(ctx *cartridge.Context) (*reportDeps, error) {
	deps, ok := ctx.Locals(reportDepsKey).(*reportDeps)
	if !ok || deps.service == nil {
		ctx.Logger.Error("Report service missing from request context")
		return nil, ctx.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "Report service unavailable"})
	}
	return deps, nil
}

// ReportCreateAction builds a report synchronously.
func ReportCreateAction(ctx *cartridge.Context) error {
	deps, err := reportDepsFrom(ctx)
	if deps == nil {
		return err
	}

	var body CreateReportRequest
	if err := ctx.BodyParser(&body); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "Invalid request body"})
	}

	req, err := buildRequest(deps.parser, body)
	if err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	res, err := deps.service.Run(ctx.UserContext(), req)
	if err != nil {
		return writeReportError(ctx, err)
	}

	top := body.TopCountries
	if top <= 0 {
		top = defaultTopCountries
	}
	return ctx.JSON(ReportResponse{
		Rows:         res.Rows,
		Meta:         res.Meta,
		Summary:      vitals.Summarize(res.Rows),
		TopCountries: vitals.TopCountries(res.Rows, top),
	})
}

// ReportProgressAction returns the progress of the report being built.
func ReportProgressAction(ctx *cartridge.Context) error {
	deps, err := reportDepsFrom(ctx)
	if deps == nil {
		return err
	}
	return ctx.JSON(deps.service.Progress().Snapshot())
}

func buildRequest(parser *timeframe.Parser, body CreateReportRequest) (report.Request, error) {
	dr, err := parser.ParseDateRange(timeframe.ParserParams{
		StartDate: body.StartDate,
		EndDate:   body.EndDate,
	})
	if err != nil {
		return report.Request{}, err
	}
	return report.NewRequest(report.RequestParams{
		ViewID:     body.ViewID,
		Segments:   body.Segments,
		DateRange:  dr,
		Dimensions: body.Dimensions,
		Metrics:    body.Metrics,
		Filters:    body.Filters,
		Sampling:   body.Sampling,
	})
}

func writeReportError(ctx *cartridge.Context, err error) error {
	if errors.Is(err, report.ErrAborted) {
		return ctx.Status(StatusClientClosedRequest).JSON(ErrorResponse{Error: "Report aborted"})
	}

	var apiErr *report.APIError
	if errors.As(err, &apiErr) {
		ctx.Logger.Warn("Reporting API rejected the report", slog.Any("error", err))
		return ctx.Status(fiber.StatusBadGateway).JSON(ErrorResponse{
			Error:   "Reporting API error",
			Title:   apiErr.Title(),
			Message: apiErr.Message(),
		})
	}

	var userErr report.UserFacing
	if errors.As(err, &userErr) {
		return ctx.Status(fiber.StatusUnprocessableEntity).JSON(ErrorResponse{
			Error:   err.Error(),
			Title:   userErr.Title(),
			Message: userErr.Message(),
		})
	}

	ctx.Logger.Error("Failed to build report", slog.Any("error", err))
	return ctx.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "Failed to build report"})
}
