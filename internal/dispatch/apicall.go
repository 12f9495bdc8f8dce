package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

type apiCallInput struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
}

type apiCallOutput struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"body"`
	DurationMS int64  `json:"duration_ms"`
}

var apiCallMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

func parseAPICallInput(input json.RawMessage) (*apiCallInput, error) {
	var in apiCallInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if in.Method == "" {
		in.Method = http.MethodGet
	}
	if !apiCallMethods[in.Method] {
		return nil, fmt.Errorf("%w: method %q", ErrInvalidInput, in.Method)
	}

	u, err := url.Parse(in.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: url %q", ErrInvalidInput, in.URL)
	}

	return &in, nil
}

// runAPICall performs one outbound HTTP request. A completed request is a
// success regardless of status code; the status is part of the output. Only
// transport-level failures count as task failures and become retryable.
func (d *Dispatcher) runAPICall(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	in, err := parseAPICallInput(input)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if len(in.Body) > 0 {
		body = bytes.NewReader(in.Body)
	}

	req, err := http.NewRequestWithContext(ctx, in.Method, in.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if len(in.Body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range in.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, d.maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return json.Marshal(apiCallOutput{
		StatusCode: resp.StatusCode,
		Body:       string(respBody),
		DurationMS: time.Since(start).Milliseconds(),
	})
}
