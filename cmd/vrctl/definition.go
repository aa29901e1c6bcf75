package main

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"vitalsreport/internal/report"
	"vitalsreport/internal/timeframe"
)

// Definition is a report described in a YAML file.
type Definition struct {
	ViewID     string              `yaml:"viewId"`
	Segments   []report.Segment    `yaml:"segments"`
	StartDate  string              `yaml:"startDate"`
	EndDate    string              `yaml:"endDate"`
	Dimensions []string            `yaml:"dimensions"`
	Metrics    []string            `yaml:"metrics"`
	Filters    []report.Filter     `yaml:"filters"`
	Sampling   report.SamplingMode `yaml:"sampling"`
}

// LoadDefinition reads a report definition from path, or stdin when path is "-".
func LoadDefinition(path string) (*Definition, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open report definition: %w", err)
		}
		defer f.Close()
		r = f
	}
	return ParseDefinition(r)
}

func ParseDefinition(r io.Reader) (*Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("failed to parse report definition: %w", err)
	}
	return &def, nil
}

// Request validates the definition. Missing dates default relative to clock.
func (d *Definition) Request(clock timeframe.Clock) (report.Request, error) {
	dr, err := timeframe.NewParser(clock).ParseDateRange(timeframe.ParserParams{
		StartDate: d.StartDate,
		EndDate:   d.EndDate,
	})
	if err != nil {
		return report.Request{}, err
	}
	return report.NewRequest(report.RequestParams{
		ViewID:     d.ViewID,
		Segments:   d.Segments,
		DateRange:  dr,
		Dimensions: d.Dimensions,
		Metrics:    d.Metrics,
		Filters:    d.Filters,
		Sampling:   d.Sampling,
	})
}
