package report

import "slices"

// Dimension positions inside Row.Dimensions.
const (
	DimSegment = iota
	DimDate
	DimMetric
	DimCountry
	DimPage
	DimMetricID
	DimDebug
)

// Row is one aggregated data point.
type Row struct {
	Dimensions []string `json:"dimensions"`
	Value      float64  `json:"value"`

	// Cacheable marks rows from golden, unsampled responses. Only the cache
	// boundary looks at it.
	Cacheable bool `json:"-"`
}

func (r Row) dim(i int) string {
	if i < len(r.Dimensions) {
		return r.Dimensions[i]
	}
	return ""
}

func (r Row) Segment() string  { return r.dim(DimSegment) }
func (r Row) Date() string     { return r.dim(DimDate) }
func (r Row) Metric() string   { return r.dim(DimMetric) }
func (r Row) Country() string  { return r.dim(DimCountry) }
func (r Row) Page() string     { return r.dim(DimPage) }
func (r Row) MetricID() string { return r.dim(DimMetricID) }
func (r Row) Debug() string    { return r.dim(DimDebug) }

// Clone returns a deep copy of the row.
func (r Row) Clone() Row {
	r.Dimensions = slices.Clone(r.Dimensions)
	return r
}

// Source tells where a result's rows came from.
type Source string

const (
	SourceCache   Source = "cache"
	SourceNetwork Source = "network"
	SourceMixed   Source = "mixed"
)

// Meta describes a Result.
type Meta struct {
	Source    Source `json:"source"`
	IsSampled bool   `json:"isSampled"`
}

// Result is what the orchestrator hands back to callers.
type Result struct {
	Rows []Row `json:"rows"`
	Meta Meta  `json:"meta"`
}
