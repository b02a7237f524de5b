package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

const maxResponseBodySize = 1 << 20 // 1MB

// connection pooling limits: many tasks are usually polled against the same API host
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second
)

// Request describes a single status check.
type Request struct {
	// Method is the HTTP method. Empty defaults to GET.
	Method string

	// URL is the status endpoint.
	URL string

	// Headers are sent with the request.
	Headers map[string]string

	// Body is sent as the request body when non-nil (e.g. for POST lookups).
	Body []byte

	// Timeout bounds the whole request, including reading the body.
	Timeout time.Duration
}

// Response holds the result of an HTTP request made by [Client].
type Response struct {
	// Body contains the HTTP response body, limited to 1MB.
	Body []byte

	// StatusCode is the HTTP status code.
	// Zero if the request failed before receiving a response.
	StatusCode int

	// Latency is the total time taken for the request.
	Latency time.Duration
}

// Client is an HTTP client wrapper for polling task status endpoints.
//
// Timeouts are applied per request through the context so that tasks with
// different timeouts can share one connection pool.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a new [Client] on top of a pooled go-cleanhttp transport.
//
// Connection pooling configuration:
//   - MaxIdleConns: 100 total idle connections
//   - MaxIdleConnsPerHost: 10 idle connections per host
//   - MaxConnsPerHost: 10 concurrent connections per host
//   - IdleConnTimeout: 60 seconds before closing idle connections
func NewClient() *Client {
	transport := cleanhttp.DefaultPooledTransport()
	transport.MaxIdleConns = defaultMaxIdleConns
	transport.MaxIdleConnsPerHost = defaultMaxIdleConnsPerHost
	transport.MaxConnsPerHost = defaultMaxConnsPerHost
	transport.IdleConnTimeout = defaultIdleConnTimeout

	return &Client{
		// no default timeout - we use per-request timeouts via context
		httpClient: &http.Client{Transport: transport},
	}
}

// Do performs the request and returns the response.
//
// A non-nil error means no usable response was obtained (bad request,
// transport failure, cancelled context, truncated body). Non-2xx status
// codes are not errors at this level; the caller decides what they mean.
func (c *Client) Do(ctx context.Context, r Request) (Response, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	start := time.Now()

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return Response{Latency: time.Since(start)}, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}
	if r.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{Latency: time.Since(start)}, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return Response{
			StatusCode: resp.StatusCode,
			Latency:    time.Since(start),
		}, fmt.Errorf("failed to read response body: %w", err)
	}

	return Response{
		Body:       data,
		StatusCode: resp.StatusCode,
		Latency:    time.Since(start),
	}, nil
}

// Close closes all idle connections in the client's connection pool.
//
// Safe to call multiple times and on a nil client. The client remains usable.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	c.httpClient.CloseIdleConnections()
}
