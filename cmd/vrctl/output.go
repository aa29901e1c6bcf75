package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"vitalsreport/internal/report"
	"vitalsreport/internal/vitals"
)

var printer = message.NewPrinter(language.English)

// printSummary writes a per segment and metric table of the result.
func printSummary(w io.Writer, req report.Request, res *report.Result) {
	names := make(map[string]string)
	for _, s := range req.Segments() {
		names[s.ID] = s.Name
	}

	printer.Fprintf(w, "%d rows from %s (source: %s, sampled: %t)\n\n",
		len(res.Rows), req.DateRange(), res.Meta.Source, res.Meta.IsSampled)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEGMENT\tMETRIC\tCOUNT\tP75\tGOOD\tNEEDS IMPROVEMENT\tPOOR")
	for _, s := range vitals.Summarize(res.Rows) {
		name := names[s.Segment]
		if name == "" {
			name = s.Segment
		}
		metric, _ := vitals.Lookup(s.Metric)
		printer.Fprintf(tw, "%s\t%s\t%d\t%s\t%.1f%%\t%.1f%%\t%.1f%%\n",
			name, s.Metric, s.Count, formatValue(metric, s.P75),
			s.Good*100, s.NeedsImprovement*100, s.Poor*100)
	}
	tw.Flush()

	if top := vitals.TopCountries(res.Rows, 5); len(top) > 0 {
		fmt.Fprintln(w, "\nTop countries:")
		for _, c := range top {
			printer.Fprintf(w, "  %-24s %d\n", c.Name, c.Count)
		}
	}
}

func formatValue(m vitals.Metric, v float64) string {
	if m.Unit == "" {
		return printer.Sprintf("%.3f", v)
	}
	return printer.Sprintf("%.0f %s", v, m.Unit)
}

// watchProgress redraws a progress line on w until ctx is done.
func watchProgress(ctx context.Context, w io.Writer, p *report.Progress) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprint(w, "\r\033[K")
			return
		case <-ticker.C:
			snap := p.Snapshot()
			fmt.Fprintf(w, "\rBuilding report... %3d%% (%d/%d requests)", snap.Percent, snap.Current, snap.Total)
		}
	}
}
