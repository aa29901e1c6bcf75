// Package metrics exposes Prometheus instrumentation for report acquisition.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its registry so that tests can build as many as they like.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests        *prometheus.CounterVec
	apiInFlight        prometheus.Gauge
	apiWaiting         prometheus.Gauge
	reports            *prometheus.CounterVec
	reportDuration     prometheus.Histogram
	samplingRetries    prometheus.Counter
	cacheErrors        *prometheus.CounterVec
	cacheEntriesPut    prometheus.Counter
	cacheEntriesPruned prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		apiRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vitals_api_requests_total",
			Help: "Reporting API requests by outcome",
		}, []string{"outcome"}),
		apiInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "vitals_api_requests_in_flight",
			Help: "Reporting API requests currently holding an admission slot",
		}),
		apiWaiting: f.NewGauge(prometheus.GaugeOpts{
			Name: "vitals_api_requests_waiting",
			Help: "Reporting API requests waiting for an admission slot",
		}),
		reports: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vitals_reports_total",
			Help: "Completed reports by data source",
		}, []string{"source"}),
		reportDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vitals_report_duration_seconds",
			Help:    "Time to build a report",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		samplingRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "vitals_sampling_retries_total",
			Help: "Reports re-fetched with forced small sampling",
		}),
		cacheErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vitals_cache_errors_total",
			Help: "Local cache failures by operation",
		}, []string{"op"}),
		cacheEntriesPut: f.NewCounter(prometheus.CounterOpts{
			Name: "vitals_cache_entries_written_total",
			Help: "Per-segment daily cache entries written",
		}),
		cacheEntriesPruned: f.NewCounter(prometheus.CounterOpts{
			Name: "vitals_cache_entries_pruned_total",
			Help: "Cache entries removed by retention",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) APIRequest(outcome string) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) APIInFlight(delta float64) {
	if m == nil {
		return
	}
	m.apiInFlight.Add(delta)
}

func (m *Metrics) APIWaiting(delta float64) {
	if m == nil {
		return
	}
	m.apiWaiting.Add(delta)
}

func (m *Metrics) Report(source string, seconds float64) {
	if m == nil {
		return
	}
	m.reports.WithLabelValues(source).Inc()
	m.reportDuration.Observe(seconds)
}

func (m *Metrics) SamplingRetry() {
	if m == nil {
		return
	}
	m.samplingRetries.Inc()
}

func (m *Metrics) CacheError(op string) {
	if m == nil {
		return
	}
	m.cacheErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) CacheEntriesWritten(n int) {
	if m == nil {
		return
	}
	m.cacheEntriesPut.Add(float64(n))
}

func (m *Metrics) CacheEntriesPruned(n int64) {
	if m == nil {
		return
	}
	m.cacheEntriesPruned.Add(float64(n))
}
