// Package backend implements the request/response client for the hosted
// backend: table-style queries over its REST surface, remote procedure calls,
// and named serverless function invocations. All business logic (order
// creation, payment verification, promotion validation, delivery-fee
// calculation) lives behind this boundary; this package only moves requests
// and converts failures into typed errors.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is the request/response surface consumed by the resilience layer.
// Implementations return the decoded response body on success and an error
// (an *APIError for non-2xx responses) on failure.
type Client interface {
	// Query performs a table-style select against the REST surface.
	Query(ctx context.Context, table string, opts QueryOptions) (json.RawMessage, error)
	// RPC invokes a named database function with JSON-encoded args.
	RPC(ctx context.Context, fn string, args any) (json.RawMessage, error)
	// Invoke calls a named serverless edge function.
	Invoke(ctx context.Context, fn string, payload any) (json.RawMessage, error)
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
}

// QueryOptions narrows a table query. Filters use the REST surface's
// column=op.value convention (e.g. "status": "eq.pending").
type QueryOptions struct {
	Select  string
	Filters map[string]string
	Limit   int
}

// Config defines HTTP client parameters. Pooling settings follow the same
// shape as any high-throughput outbound client.
type Config struct {
	BaseURL             string
	APIKey              string
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Timeout:             10 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}
}

// Limiter gates outbound requests per resource. Satisfied by
// resilience.RequestLimiter; nil disables limiting.
type Limiter interface {
	Allow(resource string) bool
}

// HTTPClient talks to the hosted backend over HTTP.
type HTTPClient struct {
	config     Config
	httpClient *http.Client
	limiter    Limiter
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithLimiter gates requests through a per-resource rate limiter.
func WithLimiter(l Limiter) Option {
	return func(c *HTTPClient) {
		c.limiter = l
	}
}

// WithTransport replaces the underlying HTTP transport. Used in tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *HTTPClient) {
		c.httpClient.Transport = rt
	}
}

func NewHTTPClient(config Config, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        config.MaxIdleConns,
				MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
				IdleConnTimeout:     config.IdleConnTimeout,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) Query(ctx context.Context, table string, opts QueryOptions) (json.RawMessage, error) {
	q := url.Values{}
	if opts.Select != "" {
		q.Set("select", opts.Select)
	}
	for col, filter := range opts.Filters {
		q.Set(col, filter)
	}
	if opts.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	endpoint := fmt.Sprintf("%s/rest/v1/%s", strings.TrimRight(c.config.BaseURL, "/"), table)
	if encoded := q.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	return c.do(ctx, http.MethodGet, endpoint, table, nil)
}

func (c *HTTPClient) RPC(ctx context.Context, fn string, args any) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/rpc/%s", strings.TrimRight(c.config.BaseURL, "/"), fn)
	return c.do(ctx, http.MethodPost, endpoint, "rpc:"+fn, args)
}

func (c *HTTPClient) Invoke(ctx context.Context, fn string, payload any) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/functions/v1/%s", strings.TrimRight(c.config.BaseURL, "/"), fn)
	return c.do(ctx, http.MethodPost, endpoint, "fn:"+fn, payload)
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	endpoint := strings.TrimRight(c.config.BaseURL, "/") + "/rest/v1/"
	_, err := c.do(ctx, http.MethodHead, endpoint, "ping", nil)
	return err
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint, resource string, body any) (json.RawMessage, error) {
	if c.limiter != nil && !c.limiter.Allow(resource) {
		return nil, &APIError{Status: http.StatusTooManyRequests, Message: "client-side rate limit exceeded"}
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.APIKey != "" {
		req.Header.Set("apikey", c.config.APIKey)
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", resource, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeAPIError(resp.StatusCode, data)
	}
	return data, nil
}

// decodeAPIError extracts the backend's {message, code} error body when
// present, falling back to the raw body text.
func decodeAPIError(status int, body []byte) *APIError {
	var parsed struct {
		Message string `json:"message"`
		Code    string `json:"code"`
		Error   string `json:"error"`
	}
	apiErr := &APIError{Status: status}
	if err := json.Unmarshal(body, &parsed); err == nil {
		apiErr.Code = parsed.Code
		apiErr.Message = parsed.Message
		if apiErr.Message == "" {
			apiErr.Message = parsed.Error
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
