// Package report holds the value types shared by the report acquisition engine:
// requests, rows, results, progress and the error kinds callers can inspect.
package report

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"vitalsreport/internal/timeframe"
)

// SamplingMode controls how the upstream API may sample data.
type SamplingMode string

const (
	// SamplingAuto asks for the largest sample; the splitter works around sampling.
	SamplingAuto SamplingMode = "AUTO"
	// SamplingForcedSmall accepts sampled data and bypasses the cache.
	SamplingForcedSmall SamplingMode = "FORCED_SMALL"
)

const (
	MinSegments = 2
	MaxSegments = 4
)

// Segment is one audience subset compared in a report.
type Segment struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Filter is a dimension filter clause.
type Filter struct {
	Dimension  string   `json:"dimension" yaml:"dimension"`
	Operator   string   `json:"operator" yaml:"operator"`
	Expression []string `json:"expressions" yaml:"expressions"`
	Not        bool     `json:"not,omitempty" yaml:"not,omitempty"`
}

// RequestParams is the mutable input used to build a Request.
type RequestParams struct {
	ViewID     string
	Segments   []Segment
	DateRange  timeframe.DateRange
	Dimensions []string
	Metrics    []string
	Filters    []Filter
	Sampling   SamplingMode
}

// Request is an immutable description of one logical report query. Sub-range
// queries are derived with WithDateRange, which never aliases the original.
type Request struct {
	viewID     string
	segments   []Segment
	dateRange  timeframe.DateRange
	dimensions []string
	metrics    []string
	filters    []Filter
	sampling   SamplingMode
	pageToken  string
}

// NewRequest validates params and returns a Request.
func NewRequest(p RequestParams) (Request, error) {
	if p.ViewID == "" {
		return Request{}, fmt.Errorf("view id is required")
	}
	if len(p.Segments) < MinSegments || len(p.Segments) > MaxSegments {
		return Request{}, fmt.Errorf("between %d and %d segments are required, got %d", MinSegments, MaxSegments, len(p.Segments))
	}
	seen := make(map[string]bool, len(p.Segments))
	for _, s := range p.Segments {
		if s.ID == "" {
			return Request{}, fmt.Errorf("segment id is required")
		}
		if seen[s.ID] {
			return Request{}, fmt.Errorf("duplicate segment %q", s.ID)
		}
		seen[s.ID] = true
	}
	if err := p.DateRange.Validate(); err != nil {
		return Request{}, err
	}
	if len(p.Dimensions) == 0 || len(p.Metrics) == 0 {
		return Request{}, fmt.Errorf("at least one dimension and one metric are required")
	}

	sampling := p.Sampling
	switch sampling {
	case "":
		sampling = SamplingAuto
	case SamplingAuto, SamplingForcedSmall:
	default:
		return Request{}, fmt.Errorf("unknown sampling mode %q", sampling)
	}

	return Request{
		viewID:     p.ViewID,
		segments:   slices.Clone(p.Segments),
		dateRange:  p.DateRange,
		dimensions: slices.Clone(p.Dimensions),
		metrics:    slices.Clone(p.Metrics),
		filters:    cloneFilters(p.Filters),
		sampling:   sampling,
	}, nil
}

func (r Request) ViewID() string                 { return r.viewID }
func (r Request) DateRange() timeframe.DateRange { return r.dateRange }
func (r Request) Sampling() SamplingMode         { return r.sampling }
func (r Request) PageToken() string              { return r.pageToken }
func (r Request) Segments() []Segment            { return slices.Clone(r.segments) }
func (r Request) Dimensions() []string           { return slices.Clone(r.dimensions) }
func (r Request) Metrics() []string              { return slices.Clone(r.metrics) }
func (r Request) Filters() []Filter              { return cloneFilters(r.filters) }

// SegmentIDs returns the ids of the compared segments in request order.
func (r Request) SegmentIDs() []string {
	ids := make([]string, len(r.segments))
	for i, s := range r.segments {
		ids[i] = s.ID
	}
	return ids
}

// SegmentIDForName maps a segment name, as echoed back by the API, to its id.
func (r Request) SegmentIDForName(name string) (string, bool) {
	for _, s := range r.segments {
		if s.Name == name || s.ID == name {
			return s.ID, true
		}
	}
	return "", false
}

// ForcedSmall reports whether sampling was explicitly requested.
func (r Request) ForcedSmall() bool {
	return r.sampling == SamplingForcedSmall
}

// WithDateRange returns a copy of the request narrowed to dr.
func (r Request) WithDateRange(dr timeframe.DateRange) Request {
	c := r.clone()
	c.dateRange = dr
	c.pageToken = ""
	return c
}

// WithSampling returns a copy of the request with a different sampling mode.
func (r Request) WithSampling(mode SamplingMode) Request {
	c := r.clone()
	c.sampling = mode
	return c
}

// WithPageToken returns a copy of the request positioned at a page offset.
func (r Request) WithPageToken(token string) Request {
	c := r.clone()
	c.pageToken = token
	return c
}

// WithPageOffset is WithPageToken for an explicit row offset.
func (r Request) WithPageOffset(offset int) Request {
	return r.WithPageToken(strconv.Itoa(offset))
}

// ShapeHash identifies the dimension and filter layout. Requests with the same
// hash produce rows that can share cache entries.
func (r Request) ShapeHash() string {
	shape := struct {
		Dimensions []string `json:"d"`
		Filters    []Filter `json:"f"`
	}{r.dimensions, r.filters}
	if shape.Filters == nil {
		shape.Filters = []Filter{}
	}
	b, _ := json.Marshal(shape)
	return strconv.FormatUint(xxhash.Sum64(b), 16)
}

func (r Request) clone() Request {
	c := r
	c.segments = slices.Clone(r.segments)
	c.dimensions = slices.Clone(r.dimensions)
	c.metrics = slices.Clone(r.metrics)
	c.filters = cloneFilters(r.filters)
	return c
}

func cloneFilters(in []Filter) []Filter {
	if in == nil {
		return nil
	}
	out := make([]Filter, len(in))
	for i, f := range in {
		f.Expression = slices.Clone(f.Expression)
		out[i] = f
	}
	return out
}
