package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalsreport/internal/report"
	"vitalsreport/internal/testsupport"
)

const definitionYAML = `
viewId: "12345"
segments:
  - id: "-15"
    name: Desktop Traffic
  - id: "-14"
    name: Mobile Traffic
startDate: 2024-01-01
endDate: 2024-01-31
dimensions: [ga:segment, ga:date, ga:eventAction, ga:countryIsoCode]
metrics: [ga:eventValue]
filters:
  - dimension: ga:eventCategory
    operator: EXACT
    expressions: [Web Vitals]
`

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition(strings.NewReader(definitionYAML))
	require.NoError(t, err)

	assert.Equal(t, "12345", def.ViewID)
	assert.Equal(t, "2024-01-01", def.StartDate)
	require.Len(t, def.Filters, 1)
	assert.Equal(t, []string{"Web Vitals"}, def.Filters[0].Expression)

	req, err := def.Request(testsupport.TestClock())
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01..2024-01-31", req.DateRange().String())
	assert.Equal(t, []string{"-15", "-14"}, req.SegmentIDs())
	assert.Equal(t, report.SamplingAuto, req.Sampling())

	t.Run("unknown fields are rejected", func(t *testing.T) {
		_, err := ParseDefinition(strings.NewReader("viewId: x\nsegmnts: []\n"))
		assert.Error(t, err)
	})

	t.Run("invalid requests are rejected", func(t *testing.T) {
		def, err := ParseDefinition(strings.NewReader("viewId: x\nsegments: [{id: a}]\n"))
		require.NoError(t, err)
		_, err = def.Request(testsupport.TestClock())
		assert.Error(t, err)
	})
}

func TestLoadDefinition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.yaml")
	require.NoError(t, os.WriteFile(path, []byte(definitionYAML), 0o600))

	def, err := LoadDefinition(path)
	require.NoError(t, err)
	assert.Len(t, def.Segments, 2)

	_, err = LoadDefinition(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPrintSummary(t *testing.T) {
	def, err := ParseDefinition(strings.NewReader(definitionYAML))
	require.NoError(t, err)
	req, err := def.Request(testsupport.TestClock())
	require.NoError(t, err)

	res := &report.Result{
		Rows: []report.Row{
			{Dimensions: []string{"-15", "2024-01-01", "LCP", "US"}, Value: 1200},
			{Dimensions: []string{"-14", "2024-01-01", "CLS", "US"}, Value: 50},
		},
		Meta: report.Meta{Source: report.SourceCache},
	}

	var buf bytes.Buffer
	printSummary(&buf, req, res)
	out := buf.String()

	assert.Contains(t, out, "2 rows from 2024-01-01..2024-01-31 (source: cache, sampled: false)")
	assert.Contains(t, out, "Desktop Traffic")
	assert.Contains(t, out, "1,200 ms")
	assert.Contains(t, out, "0.050")
	assert.Contains(t, out, "Top countries:")
}

func TestFindCommand(t *testing.T) {
	assert.IsType(t, &ReportCommand{}, findCommand("report"))
	assert.IsType(t, &ClearCacheCommand{}, findCommand("clear-cache"))
	assert.Nil(t, findCommand("create-admin-user"))
}
