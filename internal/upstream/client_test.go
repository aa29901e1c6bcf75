package upstream_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalsreport/internal/report"
	"vitalsreport/internal/timeframe"
	"vitalsreport/internal/upstream"
)

func testRequest(t *testing.T, sampling report.SamplingMode) report.Request {
	t.Helper()
	req, err := report.NewRequest(report.RequestParams{
		ViewID:   "42",
		Segments: []report.Segment{{ID: "-15", Name: "Desktop Traffic"}, {ID: "gaid::-14", Name: "Mobile Traffic"}},
		DateRange: timeframe.DateRange{
			Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
		},
		Dimensions: []string{"ga:segment", "ga:date", "ga:eventAction"},
		Metrics:    []string{"ga:eventValue"},
		Filters:    []report.Filter{{Dimension: "ga:eventCategory", Operator: "EXACT", Expression: []string{"Web Vitals"}}},
		Sampling:   sampling,
	})
	require.NoError(t, err)
	return req
}

func TestNewReportRequest(t *testing.T) {
	wire := upstream.NewReportRequest(testRequest(t, report.SamplingAuto).WithPageOffset(200), 100000)

	assert.Equal(t, "42", wire.ViewID)
	assert.Equal(t, []upstream.DateRange{{StartDate: "2024-01-01", EndDate: "2024-01-03"}}, wire.DateRanges)
	assert.Equal(t, []upstream.SegmentRef{{SegmentID: "gaid::-15"}, {SegmentID: "gaid::-14"}}, wire.Segments)
	assert.Equal(t, upstream.SamplingLevelLarge, wire.SamplingLevel)
	assert.Equal(t, "200", wire.PageToken)
	assert.Equal(t, 100000, wire.PageSize)
	require.Len(t, wire.OrderBys, 2)
	assert.Equal(t, "ga:eventValue", wire.OrderBys[0].FieldName)
	assert.Equal(t, "ga:date", wire.OrderBys[1].FieldName)
	require.Len(t, wire.DimensionFilterClauses, 1)
	assert.Equal(t, "ga:eventCategory", wire.DimensionFilterClauses[0].Filters[0].DimensionName)

	small := upstream.NewReportRequest(testRequest(t, report.SamplingForcedSmall), 10)
	assert.Equal(t, upstream.SamplingLevelSmall, small.SamplingLevel)
}

func TestReportSampling(t *testing.T) {
	unsampled := &upstream.Report{}
	assert.False(t, unsampled.Sampled())
	assert.Equal(t, 1.0, unsampled.SampleRate())

	sampled := &upstream.Report{Data: upstream.ReportData{
		SamplesReadCounts:  []string{"250"},
		SamplingSpaceSizes: []string{"1000"},
	}}
	assert.True(t, sampled.Sampled())
	assert.InDelta(t, 0.25, sampled.SampleRate(), 1e-9)
}

func TestClientDo(t *testing.T) {
	t.Run("decodes the first report", func(t *testing.T) {
		var got upstream.BatchGetRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v4/reports:batchGet", r.URL.Path)
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			json.NewEncoder(w).Encode(upstream.BatchGetResponse{Reports: []upstream.Report{{
				Data: upstream.ReportData{
					RowCount:     1,
					IsDataGolden: true,
					Rows: []upstream.ReportRow{{
						Dimensions: []string{"Desktop Traffic", "20240101", "LCP"},
						Metrics:    []upstream.DateRangeValues{{Values: []string{"1234"}}},
					}},
				},
			}}})
		}))
		defer srv.Close()

		client := upstream.NewClient(srv.URL+"/", 5*time.Second)
		rep, err := client.Do(context.Background(), "tok", upstream.NewReportRequest(testRequest(t, report.SamplingAuto), 10))
		require.NoError(t, err)

		require.Len(t, got.ReportRequests, 1)
		assert.Equal(t, "42", got.ReportRequests[0].ViewID)
		assert.True(t, rep.Data.IsDataGolden)
		assert.Equal(t, 1, rep.Data.RowCount)
		assert.Equal(t, "1234", rep.Data.Rows[0].Metrics[0].Values[0])
	})

	t.Run("maps error responses", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":{"code":403,"message":"User does not have sufficient permissions","status":"PERMISSION_DENIED"}}`))
		}))
		defer srv.Close()

		client := upstream.NewClient(srv.URL, 5*time.Second)
		_, err := client.Do(context.Background(), "tok", upstream.NewReportRequest(testRequest(t, report.SamplingAuto), 10))

		var statusErr *upstream.StatusError
		require.True(t, errors.As(err, &statusErr))
		assert.Equal(t, http.StatusForbidden, statusErr.Code)
		assert.Equal(t, "PERMISSION_DENIED", statusErr.Status)
		assert.Equal(t, "User does not have sufficient permissions", statusErr.Message)
	})

	t.Run("keeps plain text bodies", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream exploded", http.StatusBadGateway)
		}))
		defer srv.Close()

		client := upstream.NewClient(srv.URL, 5*time.Second)
		_, err := client.Do(context.Background(), "", upstream.NewReportRequest(testRequest(t, report.SamplingAuto), 10))

		var statusErr *upstream.StatusError
		require.True(t, errors.As(err, &statusErr))
		assert.Equal(t, "upstream exploded", statusErr.Message)
	})
}
