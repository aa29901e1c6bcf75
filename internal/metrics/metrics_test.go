package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalsreport/internal/metrics"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.APIRequest("ok")
		m.APIInFlight(1)
		m.Report("cache", 0.1)
		m.CacheError("read")
		m.CacheEntriesWritten(3)
	})
	assert.Nil(t, m.Registry())
}

func TestMetricsExposition(t *testing.T) {
	m := metrics.New()
	m.APIRequest("ok")
	m.APIRequest("ok")
	m.APIRequest("auth_retry")
	m.Report("mixed", 1.5)
	m.CacheError("write")
	m.CacheEntriesWritten(6)

	count, err := testutil.GatherAndCount(m.Registry(), "vitals_api_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per outcome")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `vitals_api_requests_total{outcome="ok"} 2`)
	assert.Contains(t, string(body), `vitals_reports_total{source="mixed"} 1`)
	assert.Contains(t, string(body), `vitals_cache_entries_written_total 6`)
	assert.Contains(t, string(body), `vitals_cache_errors_total{op="write"} 1`)
}
