package internal

import (
	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"vitalsreport/internal/http"
	"vitalsreport/internal/http/middleware"
	"vitalsreport/internal/timeframe"
)

// MountRoutes mounts the report API using cartridge's route API
func (s *Services) MountRoutes(srv *cartridge.Server) {
	logger := srv.GetLogger()

	// Report API config
	// Called by scripts and the CLI, so no Sec-Fetch-Site validation.
	// Reports are long running reads and must not hold the write lock.
	apiConfig := &cartridge.RouteConfig{
		EnableSecFetchSite: cartridge.Bool(false),
		WriteConcurrency:   false,
		CustomMiddleware: []fiber.Handler{
			middleware.APIKeyAuth(s.Config.APIKey, logger),
			http.WithReportService(s.Orchestrator, timeframe.SystemClock{}),
		},
	}

	// Health check endpoint
	srv.Get("/_health", http.HealthIndexAction)
	srv.Head("/_health", http.HealthIndexAction)

	metricsHandler := http.MetricsHandler(s.Metrics)
	srv.Get("/metrics", func(ctx *cartridge.Context) error {
		return metricsHandler(ctx.Ctx)
	})

	// === REPORT API ===
	srv.Post("/api/v1/reports", http.ReportCreateAction, apiConfig)
	srv.Get("/api/v1/reports/progress", http.ReportProgressAction, apiConfig)
	srv.Delete("/api/v1/cache", http.CacheClearAction, apiConfig)
}
