// Package app provides the public API for embedding the report service.
package app

import (
	"github.com/karloscodes/cartridge"

	"vitalsreport/internal"
	"vitalsreport/internal/config"
	"vitalsreport/internal/database"
	"vitalsreport/internal/report"
	"vitalsreport/internal/vitals"
)

// Re-export core types
type (
	Application = internal.Application
	Services    = internal.Services
	Config      = config.Config
	DBManager   = database.DBManager
)

// Re-export report types
type (
	Request       = report.Request
	RequestParams = report.RequestParams
	Segment       = report.Segment
	Filter        = report.Filter
	Result        = report.Result
	Row           = report.Row
	Summary       = vitals.Summary
)

// Sampling modes
const (
	SamplingAuto        = report.SamplingAuto
	SamplingForcedSmall = report.SamplingForcedSmall
)

// Errors callers may match with errors.Is
var (
	ErrAborted  = report.ErrAborted
	ErrRowLimit = report.ErrRowLimit
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	return config.GetConfig()
}

// NewApp creates a new application with default routes
func NewApp() (*Application, error) {
	return internal.NewApp()
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *Config) (*Application, error) {
	return internal.NewAppWithConfig(cfg)
}

// NewRequest validates params and returns a report request
func NewRequest(p RequestParams) (Request, error) {
	return report.NewRequest(p)
}

// Summarize groups result rows by segment and metric
func Summarize(res *Result) []Summary {
	return vitals.Summarize(res.Rows)
}

// MountRoutes mounts the report API of svc on an existing server
func MountRoutes(svc *Services, srv *cartridge.Server) {
	svc.MountRoutes(srv)
}
