// Package upstream speaks the reporting API's batchGet wire format.
package upstream

import (
	"strconv"
	"strings"

	"vitalsreport/internal/report"
	"vitalsreport/internal/timeframe"
)

const (
	SamplingLevelLarge = "LARGE"
	SamplingLevelSmall = "SMALL"
)

type BatchGetRequest struct {
	ReportRequests []ReportRequest `json:"reportRequests"`
}

type ReportRequest struct {
	ViewID                 string                  `json:"viewId"`
	DateRanges             []DateRange             `json:"dateRanges"`
	Segments               []SegmentRef            `json:"segments,omitempty"`
	Dimensions             []Dimension             `json:"dimensions"`
	Metrics                []Metric                `json:"metrics"`
	DimensionFilterClauses []DimensionFilterClause `json:"dimensionFilterClauses,omitempty"`
	OrderBys               []OrderBy               `json:"orderBys,omitempty"`
	PageSize               int                     `json:"pageSize"`
	PageToken              string                  `json:"pageToken,omitempty"`
	SamplingLevel          string                  `json:"samplingLevel"`
	IncludeEmptyRows       bool                    `json:"includeEmptyRows"`
}

type DateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type SegmentRef struct {
	SegmentID string `json:"segmentId"`
}

type Dimension struct {
	Name string `json:"name"`
}

type Metric struct {
	Expression string `json:"expression"`
}

type DimensionFilterClause struct {
	Operator string            `json:"operator,omitempty"`
	Filters  []DimensionFilter `json:"filters"`
}

type DimensionFilter struct {
	DimensionName string   `json:"dimensionName"`
	Not           bool     `json:"not,omitempty"`
	Operator      string   `json:"operator"`
	Expressions   []string `json:"expressions"`
}

type OrderBy struct {
	FieldName string `json:"fieldName"`
	SortOrder string `json:"sortOrder,omitempty"`
}

type BatchGetResponse struct {
	Reports []Report `json:"reports"`
}

// Report is one page of results.
type Report struct {
	Data          ReportData `json:"data"`
	NextPageToken string     `json:"nextPageToken,omitempty"`
}

type ReportData struct {
	Rows               []ReportRow `json:"rows"`
	RowCount           int         `json:"rowCount"`
	IsDataGolden       bool        `json:"isDataGolden"`
	SamplesReadCounts  []string    `json:"samplesReadCounts,omitempty"`
	SamplingSpaceSizes []string    `json:"samplingSpaceSizes,omitempty"`
}

type ReportRow struct {
	Dimensions []string          `json:"dimensions"`
	Metrics    []DateRangeValues `json:"metrics"`
}

type DateRangeValues struct {
	Values []string `json:"values"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Sampled reports whether the page carries sampling metadata.
func (r *Report) Sampled() bool {
	return len(r.Data.SamplesReadCounts) > 0 && r.SampleRate() < 1
}

// SampleRate is the ratio of sampled sessions to the sampling space.
// Values of sampled rows were scaled up by 1/SampleRate.
func (r *Report) SampleRate() float64 {
	read := sum(r.Data.SamplesReadCounts)
	space := sum(r.Data.SamplingSpaceSizes)
	if read <= 0 || space <= 0 {
		return 1
	}
	return read / space
}

func sum(values []string) float64 {
	var total float64
	for _, v := range values {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		total += n
	}
	return total
}

// NewReportRequest encodes a logical request for the wire. Rows are ordered by
// the first metric ascending, then by date.
func NewReportRequest(req report.Request, pageSize int) ReportRequest {
	sampling := SamplingLevelLarge
	if req.ForcedSmall() {
		sampling = SamplingLevelSmall
	}

	dr := req.DateRange()
	wire := ReportRequest{
		ViewID: req.ViewID(),
		DateRanges: []DateRange{{
			StartDate: timeframe.FormatDay(dr.Start),
			EndDate:   timeframe.FormatDay(dr.End),
		}},
		PageSize:      pageSize,
		PageToken:     req.PageToken(),
		SamplingLevel: sampling,
	}

	for _, id := range req.SegmentIDs() {
		if !strings.HasPrefix(id, "gaid::") {
			id = "gaid::" + id
		}
		wire.Segments = append(wire.Segments, SegmentRef{SegmentID: id})
	}
	for _, d := range req.Dimensions() {
		wire.Dimensions = append(wire.Dimensions, Dimension{Name: d})
	}
	metrics := req.Metrics()
	for _, m := range metrics {
		wire.Metrics = append(wire.Metrics, Metric{Expression: m})
	}
	if filters := req.Filters(); len(filters) > 0 {
		clause := DimensionFilterClause{Operator: "AND"}
		for _, f := range filters {
			clause.Filters = append(clause.Filters, DimensionFilter{
				DimensionName: f.Dimension,
				Not:           f.Not,
				Operator:      f.Operator,
				Expressions:   f.Expression,
			})
		}
		wire.DimensionFilterClauses = []DimensionFilterClause{clause}
	}
	wire.OrderBys = []OrderBy{
		{FieldName: metrics[0], SortOrder: "ASCENDING"},
		{FieldName: "ga:date", SortOrder: "ASCENDING"},
	}
	return wire
}
