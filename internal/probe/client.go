package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxResponseBodySize caps instrument responses. Readings are tiny; anything
// larger than this is not a measurement.
const maxResponseBodySize = 64 << 10 // 64KB

// connection pooling limits for sessions sampling many instruments
const (
	defaultMaxIdleConns        = 32
	defaultMaxIdleConnsPerHost = 4
	defaultMaxConnsPerHost     = 4
	defaultIdleConnTimeout     = 60 * time.Second
)

// Response holds the result of one instrument sample request.
type Response struct {
	// Body contains the HTTP response body, limited to 64KB.
	Body []byte

	// StatusCode is the HTTP status code. Zero if the request failed
	// before receiving a response.
	StatusCode int

	// Latency is the total time taken for the request.
	Latency time.Duration

	// Error contains any error that occurred during the request.
	Error error
}

// Client is an HTTP client wrapper for sampling networked instruments.
//
// Timeouts are applied per-request via context rather than globally, so
// probes with different timeout configurations can share one client.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a sampling [Client] with bounded connection pooling.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			// no default timeout - per-request timeouts via context
			Transport: &http.Transport{
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		},
	}
}

// Fetch performs one sample request and returns a structured [Response].
//
// If method is empty, GET is used. Fetch always returns a Response; errors
// are captured in the Error field rather than returned separately, which
// simplifies handling in the probe activity loop.
func (c *Client) Fetch(ctx context.Context, method, url string, headers map[string]string, timeout time.Duration) Response {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return Response{
			Latency: time.Since(start),
			Error:   fmt.Errorf("failed to create request: %w", err),
		}
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{
			Latency: time.Since(start),
			Error:   fmt.Errorf("request failed: %w", err),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return Response{
			StatusCode: resp.StatusCode,
			Latency:    time.Since(start),
			Error:      fmt.Errorf("failed to read response body: %w", err),
		}
	}

	return Response{
		Body:       body,
		StatusCode: resp.StatusCode,
		Latency:    time.Since(start),
	}
}

// Close closes all idle connections in the client's pool. Safe to call
// multiple times; the client remains usable afterwards.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
