// main.go - Load testing tool for the report API
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/time/rate"

	vhttp "vitalsreport/internal/http"
	"vitalsreport/internal/report"
)

// PerfConfig holds the configuration for the performance test
type PerfConfig struct {
	BaseURL       string
	APIKey        string
	Concurrency   int
	Duration      time.Duration
	ReportsPerSec float64
	Timeout       time.Duration
	Body          []byte
}

// Result captures the result of a single request
type Result struct {
	Duration   time.Duration
	StatusCode int
	Source     report.Source
	Err        error
}

// PerfStats holds statistics about the performance test
type PerfStats struct {
	Total       int
	Failed      int
	StatusCodes map[int]int
	Sources     map[report.Source]int
	Latencies   []time.Duration
	Elapsed     time.Duration
}

func main() {
	baseURL := flag.String("url", "http://localhost:3000", "Base URL of the report service")
	concurrency := flag.Int("c", 4, "Number of concurrent clients")
	duration := flag.Duration("d", 30*time.Second, "Duration of the test")
	reportsPerSec := flag.Float64("rate", 0, "Target reports per second across all clients (0 = unlimited)")
	timeout := flag.Duration("timeout", 5*time.Minute, "Request timeout")
	bodyFile := flag.String("body", "", "JSON report request body (defaults to a two segment Web Vitals report)")
	view := flag.String("view", "", "View id for the default body")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	body, err := loadBody(*bodyFile, *view)
	if err != nil {
		logger.Error("Failed to build request body", slog.Any("error", err))
		os.Exit(1)
	}

	cfg := &PerfConfig{
		BaseURL:       *baseURL,
		APIKey:        os.Getenv("VITALS_API_KEY"),
		Concurrency:   *concurrency,
		Duration:      *duration,
		ReportsPerSec: *reportsPerSec,
		Timeout:       *timeout,
		Body:          body,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	testCtx, testCancel := context.WithTimeout(ctx, cfg.Duration)
	defer testCancel()

	fmt.Printf("Starting load test with %d concurrent clients for %v\n", cfg.Concurrency, cfg.Duration)
	fmt.Printf("Target URL: %s/api/v1/reports\n", cfg.BaseURL)

	start := time.Now()
	stats := &PerfStats{
		StatusCodes: make(map[int]int),
		Sources:     make(map[report.Source]int),
	}
	for result := range runTest(testCtx, cfg, logger) {
		stats.add(result)
	}
	stats.Elapsed = time.Since(start)

	stats.print(os.Stdout)
}

// defaultBody requests the last 28 days of Web Vitals for desktop and mobile.
func defaultBody(view string) vhttp.CreateReportRequest {
	return vhttp.CreateReportRequest{
		ViewID: view,
		Segments: []report.Segment{
			{ID: "-15", Name: "Desktop Traffic"},
			{ID: "-14", Name: "Mobile Traffic"},
		},
		Dimensions: []string{"ga:segment", "ga:date", "ga:eventAction", "ga:countryIsoCode", "ga:pagePath", "ga:eventLabel"},
		Metrics:    []string{"ga:eventValue"},
		Filters: []report.Filter{
			{Dimension: "ga:eventCategory", Operator: "EXACT", Expression: []string{"Web Vitals"}},
		},
	}
}

func loadBody(path, view string) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}
	if view == "" {
		return nil, fmt.Errorf("either -body or -view is required")
	}
	return json.Marshal(defaultBody(view))
}

// runTest starts the workers and returns a channel for results
func runTest(ctx context.Context, cfg *PerfConfig, logger *slog.Logger) <-chan Result {
	results := make(chan Result, cfg.Concurrency*4)

	var limiter *rate.Limiter
	if cfg.ReportsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ReportsPerSec), 1)
		logger.Info("Rate limiting enabled", slog.Float64("reports_per_sec", cfg.ReportsPerSec))
	}

	var wg sync.WaitGroup
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: cfg.Timeout}
			for ctx.Err() == nil {
				if limiter != nil && limiter.Wait(ctx) != nil {
					return
				}
				res := sendRequest(ctx, client, cfg)
				if ctx.Err() != nil {
					return
				}
				results <- res
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

func sendRequest(ctx context.Context, client *http.Client, cfg *PerfConfig) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/api/v1/reports", bytes.NewReader(cfg.Body))
	if err != nil {
		return Result{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return Result{Duration: time.Since(start), Err: err}
	}
	defer resp.Body.Close()

	res := Result{StatusCode: resp.StatusCode}
	if resp.StatusCode == http.StatusOK {
		var out struct {
			Meta report.Meta `json:"meta"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			res.Err = err
		}
		res.Source = out.Meta.Source
	} else {
		io.Copy(io.Discard, resp.Body)
	}
	res.Duration = time.Since(start)
	return res
}

func (s *PerfStats) add(r Result) {
	s.Total++
	if r.Err != nil || r.StatusCode != http.StatusOK {
		s.Failed++
	}
	if r.StatusCode != 0 {
		s.StatusCodes[r.StatusCode]++
	}
	if r.Source != "" {
		s.Sources[r.Source]++
	}
	s.Latencies = append(s.Latencies, r.Duration)
}

// percentile returns the nearest-rank percentile of sorted latencies.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted))*p/100+0.5) - 1
	idx = min(max(idx, 0), len(sorted)-1)
	return sorted[idx]
}

func (s *PerfStats) print(w io.Writer) {
	lat := slices.Clone(s.Latencies)
	slices.Sort(lat)

	var total time.Duration
	for _, d := range lat {
		total += d
	}
	var avg time.Duration
	if len(lat) > 0 {
		avg = total / time.Duration(len(lat))
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\n=== Load Test Results ===")
	fmt.Fprintf(tw, "Reports\t%d\n", s.Total)
	fmt.Fprintf(tw, "Failed\t%d\n", s.Failed)
	fmt.Fprintf(tw, "Elapsed\t%v\n", s.Elapsed.Round(time.Millisecond))
	if s.Elapsed > 0 {
		fmt.Fprintf(tw, "Reports/sec\t%.2f\n", float64(s.Total)/s.Elapsed.Seconds())
	}
	fmt.Fprintf(tw, "Avg latency\t%v\n", avg.Round(time.Millisecond))
	fmt.Fprintf(tw, "p50 / p95 / max\t%v / %v / %v\n",
		percentile(lat, 50).Round(time.Millisecond),
		percentile(lat, 95).Round(time.Millisecond),
		percentile(lat, 100).Round(time.Millisecond))

	codes := make([]int, 0, len(s.StatusCodes))
	for c := range s.StatusCodes {
		codes = append(codes, c)
	}
	slices.Sort(codes)
	for _, c := range codes {
		fmt.Fprintf(tw, "HTTP %d\t%d\n", c, s.StatusCodes[c])
	}
	for _, src := range []report.Source{report.SourceCache, report.SourceMixed, report.SourceNetwork} {
		fmt.Fprintf(tw, "Source %s\t%d\n", src, s.Sources[src])
	}
	tw.Flush()
}
