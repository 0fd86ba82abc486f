package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Sender performs the confirmed request.
type Sender interface {
	Post(ctx context.Context, url, projectKey string, body []byte, clientTime time.Time) error
}

type HTTPClient struct {
	http *http.Client
}

func NewHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{http: &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}}
}

// NewHTTPClientWith wraps an existing client, for tests and hosts with their
// own transport settings.
func NewHTTPClientWith(c *http.Client) *HTTPClient {
	return &HTTPClient{http: c}
}

func (c *HTTPClient) Post(ctx context.Context, url, projectKey string, body []byte, clientTime time.Time) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Project-Key", projectKey)
	req.Header.Set("X-Client-Time", strconv.FormatInt(clientTime.UnixMilli(), 10))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	return nil
}
