package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vhttp "vitalsreport/internal/http"
	"vitalsreport/internal/report"
	"vitalsreport/internal/testsupport"
)

func TestPercentile(t *testing.T) {
	lat := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, time.Duration(5), percentile(lat, 50))
	assert.Equal(t, time.Duration(10), percentile(lat, 95))
	assert.Equal(t, time.Duration(10), percentile(lat, 100))
	assert.Zero(t, percentile(nil, 50))
}

func TestRunTest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/reports", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var body vhttp.CreateReportRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "12345", body.ViewID)

		json.NewEncoder(w).Encode(vhttp.ReportResponse{Meta: report.Meta{Source: report.SourceCache}})
	}))
	defer srv.Close()

	body, err := loadBody("", "12345")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	cfg := &PerfConfig{BaseURL: srv.URL, APIKey: "key", Concurrency: 2, Timeout: time.Second, Body: body}

	stats := &PerfStats{StatusCodes: map[int]int{}, Sources: map[report.Source]int{}}
	for r := range runTest(ctx, cfg, testsupport.GetLogger()) {
		stats.add(r)
	}

	require.Positive(t, stats.Total)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, stats.Total, stats.StatusCodes[http.StatusOK])
	assert.Equal(t, stats.Total, stats.Sources[report.SourceCache])

	var out bytes.Buffer
	stats.print(&out)
	assert.Contains(t, out.String(), "Source cache")
}

func TestLoadBodyRequiresView(t *testing.T) {
	_, err := loadBody("", "")
	assert.Error(t, err)
}
