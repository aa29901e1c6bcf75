package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://analyticsreporting.googleapis.com"
	batchGetPath   = "/v4/reports:batchGet"

	// maxErrorBody bounds how much of an error response is read.
	maxErrorBody = 64 << 10
)

// Transport issues one report page request.
type Transport interface {
	Do(ctx context.Context, token string, req ReportRequest) (*Report, error)
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code    int
	Status  string
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Message)
}

// Client is the HTTP Transport.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Do posts a single-report batchGet and returns its only report.
func (c *Client) Do(ctx context.Context, token string, req ReportRequest) (*Report, error) {
	body, err := json.Marshal(BatchGetRequest{ReportRequests: []ReportRequest{req}})
	if err != nil {
		return nil, fmt.Errorf("failed to encode report request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+batchGetPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build report request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("report request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeStatusError(resp)
	}

	var out BatchGetResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode report response: %w", err)
	}
	if len(out.Reports) == 0 {
		return nil, fmt.Errorf("report response contained no reports")
	}
	return &out.Reports[0], nil
}

func decodeStatusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	statusErr := &StatusError{
		Code:    resp.StatusCode,
		Status:  http.StatusText(resp.StatusCode),
		Message: strings.TrimSpace(string(raw)),
	}

	var parsed errorResponse
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error.Message != "" {
		statusErr.Message = parsed.Error.Message
		if parsed.Error.Status != "" {
			statusErr.Status = parsed.Error.Status
		}
	}
	return statusErr
}
