package internal

import (
	"reflect"
	"runtime"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"

	"vitalsreport/internal/config"
	"vitalsreport/internal/metrics"
	"vitalsreport/internal/orchestrator"
)

func testServices() *Services {
	return &Services{
		Config:       &config.Config{APIKey: "secret"},
		Metrics:      metrics.New(),
		Orchestrator: orchestrator.New(orchestrator.Options{}),
	}
}

func TestReportRoutesRegistered(t *testing.T) {
	srv := testsupport.NewTestServer(t, testsupport.TestServerOptions{
		RouteMountFunc: testServices().MountRoutes,
	})
	routes := srv.App.GetRoutes(true)

	want := map[string]bool{
		fiber.MethodGet + " /_health":                 false,
		fiber.MethodGet + " /metrics":                 false,
		fiber.MethodPost + " /api/v1/reports":         false,
		fiber.MethodGet + " /api/v1/reports/progress": false,
		fiber.MethodDelete + " /api/v1/cache":         false,
	}
	for _, route := range routes {
		key := route.Method + " " + route.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		require.Truef(t, found, "expected route %s to be registered", route)
	}
}

func TestReportRoutesRequireAPIKey(t *testing.T) {
	srv := testsupport.NewTestServer(t, testsupport.TestServerOptions{
		RouteMountFunc: testServices().MountRoutes,
	})
	routes := srv.App.GetRoutes(true)

	var reportRoute *fiber.Route
	for idx := range routes {
		route := routes[idx]
		if route.Method == fiber.MethodPost && route.Path == "/api/v1/reports" {
			reportRoute = &routes[idx]
			break
		}
	}
	require.NotNil(t, reportRoute, "expected reports route to be registered")

	hasAuth := false
	var handlerNames []string
	for _, handler := range reportRoute.Handlers {
		name := runtime.FuncForPC(reflect.ValueOf(handler).Pointer()).Name()
		handlerNames = append(handlerNames, name)
		if strings.Contains(name, "middleware.APIKeyAuth") {
			hasAuth = true
			break
		}
	}

	require.Truef(t, hasAuth, "expected API key middleware on reports route, handlers: %v", handlerNames)
}
