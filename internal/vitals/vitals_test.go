package vitals_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalsreport/internal/report"
	"vitalsreport/internal/vitals"
)

func row(segment, metric, country string, value float64) report.Row {
	return report.Row{Dimensions: []string{segment, "2024-01-01", metric, country, "/", "id"}, Value: value}
}

func TestMetrics(t *testing.T) {
	assert.True(t, vitals.IsKnownMetric("LCP"))
	assert.True(t, vitals.IsKnownMetric("INP"))
	assert.False(t, vitals.IsKnownMetric("lcp"))
	assert.False(t, vitals.IsKnownMetric("Scroll Depth"))

	cls, ok := vitals.Lookup("CLS")
	require.True(t, ok)
	assert.Equal(t, vitals.RatingGood, cls.Rate(100))
	assert.Equal(t, vitals.RatingNeedsImprovement, cls.Rate(200))
	assert.Equal(t, vitals.RatingPoor, cls.Rate(251))

	assert.Equal(t, []string{"CLS", "FCP", "FID", "INP", "LCP", "TTFB"}, vitals.MetricNames())
	assert.Equal(t, "Good", vitals.RatingGood.Label())
}

func TestPercentile(t *testing.T) {
	assert.Zero(t, vitals.Percentile(nil, 75))
	assert.Equal(t, 3.0, vitals.Percentile([]float64{1, 2, 3, 4}, 75))
	assert.Equal(t, 5.0, vitals.Percentile([]float64{5}, 75))
	assert.Equal(t, 1.0, vitals.Percentile([]float64{1, 2}, 0))
}

func TestSummarize(t *testing.T) {
	rows := []report.Row{
		row("-15", "LCP", "US", 1000),
		row("-15", "LCP", "US", 3000),
		row("-15", "LCP", "US", 5000),
		row("-15", "LCP", "US", 2000),
		row("-14", "CLS", "US", 50),
		row("-14", "Unknown", "US", 1),
	}

	summaries := vitals.Summarize(rows)
	require.Len(t, summaries, 2)

	cls := summaries[0]
	assert.Equal(t, "-14", cls.Segment)
	assert.Equal(t, "CLS", cls.Metric)
	assert.Equal(t, 1, cls.Count)
	assert.InDelta(t, 0.05, cls.P75, 1e-9)
	assert.Equal(t, 1.0, cls.Good)

	lcp := summaries[1]
	assert.Equal(t, "-15", lcp.Segment)
	assert.Equal(t, 4, lcp.Count)
	assert.Equal(t, 3000.0, lcp.P75)
	assert.Equal(t, 0.5, lcp.Good)
	assert.Equal(t, 0.25, lcp.NeedsImprovement)
	assert.Equal(t, 0.25, lcp.Poor)
}

func TestTopCountries(t *testing.T) {
	rows := []report.Row{
		row("-15", "LCP", "DE", 1),
		row("-15", "LCP", "DE", 1),
		row("-15", "LCP", "US", 1),
		row("-15", "LCP", "US", 1),
		row("-15", "LCP", "US", 1),
		row("-15", "LCP", "(not set)", 1),
		row("-15", "LCP", "zz", 1),
	}

	top := vitals.TopCountries(rows, 3)
	require.Len(t, top, 3)
	assert.Equal(t, vitals.CountryCount{Code: "US", Name: "United States", Count: 3}, top[0])
	assert.Equal(t, vitals.CountryCount{Code: "DE", Name: "Germany", Count: 2}, top[1])
	assert.Equal(t, "(not set)", top[2].Code)
	assert.Equal(t, "Unknown", top[2].Name)

	all := vitals.TopCountries(rows, 0)
	require.Len(t, all, 4)
	assert.Equal(t, "ZZ", all[3].Name)
}
