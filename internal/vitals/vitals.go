// Package vitals knows the Web Vitals metrics and turns report rows into the
// per-segment distributions shown next to the charts.
package vitals

import (
	"cmp"
	"math"
	"slices"

	"github.com/pariz/gountries"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"vitalsreport/internal/report"
)

// Metric describes one Web Vital and its rating thresholds. Values are in the
// units the event was sent with; CLS is sent multiplied by 1000.
type Metric struct {
	Name  string
	Unit  string
	Good  float64
	Poor  float64
	Scale float64
}

var metrics = map[string]Metric{
	"LCP":  {Name: "LCP", Unit: "ms", Good: 2500, Poor: 4000, Scale: 1},
	"FID":  {Name: "FID", Unit: "ms", Good: 100, Poor: 300, Scale: 1},
	"CLS":  {Name: "CLS", Unit: "", Good: 0.1, Poor: 0.25, Scale: 1000},
	"FCP":  {Name: "FCP", Unit: "ms", Good: 1800, Poor: 3000, Scale: 1},
	"TTFB": {Name: "TTFB", Unit: "ms", Good: 800, Poor: 1800, Scale: 1},
	"INP":  {Name: "INP", Unit: "ms", Good: 200, Poor: 500, Scale: 1},
}

// IsKnownMetric reports whether name is a Web Vitals metric.
func IsKnownMetric(name string) bool {
	_, ok := metrics[name]
	return ok
}

// Lookup returns the definition of a metric.
func Lookup(name string) (Metric, bool) {
	m, ok := metrics[name]
	return m, ok
}

// MetricNames lists the known metrics in a stable order.
func MetricNames() []string {
	names := make([]string, 0, len(metrics))
	for n := range metrics {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Rating buckets a value.
type Rating string

const (
	RatingGood             Rating = "good"
	RatingNeedsImprovement Rating = "needs-improvement"
	RatingPoor             Rating = "poor"
)

// Rate rates a raw event value.
func (m Metric) Rate(raw float64) Rating {
	v := m.Normalize(raw)
	switch {
	case v <= m.Good:
		return RatingGood
	case v <= m.Poor:
		return RatingNeedsImprovement
	default:
		return RatingPoor
	}
}

// Normalize converts a raw event value into the metric's unit.
func (m Metric) Normalize(raw float64) float64 {
	if m.Scale == 0 {
		return raw
	}
	return raw / m.Scale
}

// Summary is the distribution of one metric within one segment.
type Summary struct {
	Segment          string  `json:"segment"`
	Metric           string  `json:"metric"`
	Count            int     `json:"count"`
	P75              float64 `json:"p75"`
	Good             float64 `json:"good"`
	NeedsImprovement float64 `json:"needsImprovement"`
	Poor             float64 `json:"poor"`
}

// Summarize groups rows by segment and metric. Rows naming unknown metrics are skipped.
func Summarize(rows []report.Row) []Summary {
	type groupKey struct{ segment, metric string }
	values := make(map[groupKey][]float64)
	for _, r := range rows {
		if !IsKnownMetric(r.Metric()) {
			continue
		}
		k := groupKey{r.Segment(), r.Metric()}
		values[k] = append(values[k], r.Value)
	}

	out := make([]Summary, 0, len(values))
	for k, vs := range values {
		m := metrics[k.metric]
		slices.Sort(vs)
		s := Summary{
			Segment: k.segment,
			Metric:  k.metric,
			Count:   len(vs),
			P75:     m.Normalize(Percentile(vs, 75)),
		}
		var good, ni, poor int
		for _, v := range vs {
			switch m.Rate(v) {
			case RatingGood:
				good++
			case RatingNeedsImprovement:
				ni++
			default:
				poor++
			}
		}
		n := float64(len(vs))
		s.Good, s.NeedsImprovement, s.Poor = float64(good)/n, float64(ni)/n, float64(poor)/n
		out = append(out, s)
	}

	slices.SortFunc(out, func(a, b Summary) int {
		return cmp.Or(cmp.Compare(a.Segment, b.Segment), cmp.Compare(a.Metric, b.Metric))
	})
	return out
}

// Percentile returns the nearest-rank percentile of sorted values.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	rank = min(max(rank, 1), len(sorted))
	return sorted[rank-1]
}

// CountryCount is the number of measurements from one country.
type CountryCount struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

const unknownCountry = "(not set)"

// TopCountries returns the n countries with the most rows.
func TopCountries(rows []report.Row, n int) []CountryCount {
	counts := make(map[string]int)
	for _, r := range rows {
		counts[r.Country()]++
	}

	caser := cases.Upper(language.AmericanEnglish)
	query := gountries.New()

	out := make([]CountryCount, 0, len(counts))
	for code, c := range counts {
		cc := CountryCount{Code: code, Count: c}
		switch {
		case code == "" || code == unknownCountry:
			cc.Name = "Unknown"
		default:
			if country, err := query.FindCountryByAlpha(code); err == nil {
				cc.Name = country.Name.Common
			} else {
				cc.Name = caser.String(code)
			}
		}
		out = append(out, cc)
	}

	slices.SortFunc(out, func(a, b CountryCount) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), cmp.Compare(a.Code, b.Code))
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Label is the display name of a rating.
func (r Rating) Label() string {
	return cases.Title(language.AmericanEnglish).String(string(r))
}
