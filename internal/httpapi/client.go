// Package httpapi is the outbound HTTP transport for the dashboard API. It
// reports failures as *retrier.FailureError so they classify cleanly.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"goflare.io/aegis/internal/config"
	"goflare.io/aegis/internal/retrier"
)

const maxBodyBytes = 10 << 20

// ErrNoBaseURL is returned by New without a base URL.
var ErrNoBaseURL = errors.New("httpapi: base url is required")

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// Request is one API call. Path is relative to the client's base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	Header http.Header
}

// Client calls the API with bearer authentication and tenant scoping.
type Client struct {
	http         *http.Client
	base         *url.URL
	token        string
	tenantID     string
	tenantHeader string
	timeout      time.Duration
	logger       *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New creates a Client from cfg.
func New(cfg config.HTTPConfig, logger *zap.Logger, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ErrNoBaseURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		http:         &http.Client{},
		base:         base,
		token:        cfg.Token,
		tenantID:     cfg.TenantID,
		tenantHeader: cfg.TenantHeader,
		timeout:      cfg.Timeout,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// PolicyFor returns the retry policy for method: def for safe methods and
// an at-most-once policy for anything that may mutate.
func PolicyFor(method string, def retrier.Policy) retrier.Policy {
	switch strings.ToUpper(method) {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions:
		return def
	default:
		once := retrier.Once()
		once.Clock = def.Clock
		once.Logger = def.Logger
		return once
	}
}

// Do sends req and decodes a JSON response into dest, which may be nil.
// Each call is bounded by the configured timeout.
func (c *Client) Do(ctx context.Context, req Request, dest any) error {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	target := c.resolve(req.Path, req.Query)

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.tenantID != "" && c.tenantHeader != "" {
		httpReq.Header.Set(c.tenantHeader, c.tenantID)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return c.transportError(ctx, method, target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return c.transportError(ctx, method, target, err)
	}

	c.logger.Debug("API call completed",
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode >= http.StatusBadRequest {
		return retrier.StatusError(resp.StatusCode, &APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(data),
		})
	}

	if dest == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, req.Path, err)
	}
	return nil
}

func (c *Client) resolve(path string, query url.Values) string {
	u := c.base.ResolveReference(&url.URL{Path: strings.TrimLeft(path, "/")})
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) transportError(ctx context.Context, method, target string, err error) error {
	err = fmt.Errorf("%s %s: %w", method, target, err)
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return retrier.TimeoutError(err)
	case errors.Is(ctx.Err(), context.Canceled):
		return err
	default:
		return retrier.NetworkError(err)
	}
}

// errorMessage pulls a human-readable message out of an error body.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
