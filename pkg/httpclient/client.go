package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/mike-walpole/d2g/pkg/metrics"
	"github.com/mike-walpole/d2g/pkg/tracing"
)

const (
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum response body size (10MB)
	MaxResponseSize = 10 * 1024 * 1024

	// MaxRequestSize is the maximum request body size (5MB)
	MaxRequestSize = 5 * 1024 * 1024
)

// Client wraps the HTTP client with logging, metrics and size limits
type Client struct {
	client *http.Client
	logger ectologger.Logger
}

type Config struct {
	Timeout            time.Duration
	MaxIdleConns       int
	IdleConnTimeout    time.Duration
	DisableCompression bool
	DisableKeepAlives  bool
}

func DefaultConfig() Config {
	return Config{
		Timeout:         DefaultTimeout,
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	}
}

func NewClient(cfg Config, logger ectologger.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:       cfg.MaxIdleConns,
		IdleConnTimeout:    cfg.IdleConnTimeout,
		DisableCompression: cfg.DisableCompression,
		DisableKeepAlives:  cfg.DisableKeepAlives,
	}

	return NewClientWithHTTP(&http.Client{Transport: transport, Timeout: cfg.Timeout}, logger)
}

// NewClientWithHTTP wraps an existing http.Client, for example an oauth2 client
func NewClientWithHTTP(client *http.Client, logger ectologger.Logger) *Client {
	return &Client{client: client, logger: logger}
}

type Response struct {
	StatusCode    int
	Headers       map[string]string
	Body          []byte
	ContentType   string
	ContentLength int64
	Duration      time.Duration
}

// IsSuccess reports a 2xx status
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the body into v
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}

// Do executes an HTTP request and reads the body up to MaxResponseSize
func (c *Client) Do(ctx context.Context, req *http.Request) (*Response, error) {
	ctx, span := tracing.StartSpan(ctx, "HTTPClient.Do")
	defer span.End()

	start := time.Now()

	resp, err := c.client.Do(req.WithContext(ctx))
	if err != nil {
		metrics.RecordHTTPRequest(req.Method, "error", time.Since(start).Seconds())
		tracing.RecordError(span, err, "request failed")
		c.logger.WithContext(ctx).WithError(err).Errorf("HTTP request failed: %s %s", req.Method, req.URL.String())
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start)
	metrics.RecordHTTPRequest(req.Method, strconv.Itoa(resp.StatusCode), duration.Seconds())

	if resp.ContentLength > MaxResponseSize {
		return nil, fmt.Errorf("response too large: %d bytes (max %d)", resp.ContentLength, MaxResponseSize)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) > MaxResponseSize {
		return nil, fmt.Errorf("response body too large: %d bytes (max %d)", len(body), MaxResponseSize)
	}

	headers := make(map[string]string)
	for key, values := range resp.Header {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	c.logger.WithContext(ctx).Debugf("HTTP %s %s -> %d (%s)", req.Method, req.URL.String(), resp.StatusCode, duration)

	return &Response{
		StatusCode:    resp.StatusCode,
		Headers:       headers,
		Body:          body,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: int64(len(body)),
		Duration:      duration,
	}, nil
}

// DoJSON sends body encoded as JSON. A nil body sends no payload.
func (c *Client) DoJSON(ctx context.Context, method string, url string, headers map[string]string, body any) (*Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		if len(data) > MaxRequestSize {
			return nil, fmt.Errorf("request body too large: %d bytes (max %d)", len(data), MaxRequestSize)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return c.Do(ctx, req)
}

func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	return c.DoJSON(ctx, http.MethodGet, url, headers, nil)
}

func (c *Client) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}
