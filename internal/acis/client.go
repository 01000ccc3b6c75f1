// Package acis is the client for the NOAA Applied Climate Information System
// web services. Every call is a form POST with a single "params" field that
// carries the JSON query, wrapped in retries and a circuit breaker.
package acis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"climate-platform/pkg/logging"
	"climate-platform/pkg/metrics"
)

const (
	endpointStnMeta = "StnMeta"
	endpointStnData = "StnData"
)

// Config holds client settings
type Config struct {
	BaseURL          string
	Timeout          time.Duration
	MaxRetries       int
	MinWait          time.Duration
	MaxWait          time.Duration
	BreakerFailures  uint32
	BreakerOpenDelay time.Duration
	UserAgent        string
}

// Client talks to data.rcc-acis.org
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	cfg     Config
	sleepFn func(ctx context.Context, d time.Duration) error
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithSleepFunc overrides the wait between retries, for tests
func WithSleepFunc(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleepFn = fn }
}

// NewClient creates an ACIS client
func NewClient(cfg Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector, opts ...Option) *Client {
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerOpenDelay <= 0 {
		cfg.BreakerOpenDelay = 30 * time.Second
	}
	if cfg.MinWait <= 0 {
		cfg.MinWait = 500 * time.Millisecond
	}
	if cfg.MaxWait < cfg.MinWait {
		cfg.MaxWait = cfg.MinWait
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		sleepFn: sleepContext,
		logger:  logger,
		metrics: metricsCollector,
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "acis",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     cfg.BreakerOpenDelay,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			var se *statusError
			if errors.As(err, &se) {
				return !se.retryable()
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "[ACIS_BREAKER] Circuit breaker state changed", logging.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// statusError carries a non-2xx HTTP status through the breaker
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream returned %d", e.code)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

// post sends params to endpoint and decodes the JSON reply into out
func (c *Client) post(ctx context.Context, endpoint string, params interface{}, out interface{}) error {
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode %s params: %w", endpoint, err)
	}
	form := url.Values{"params": {string(payload)}}.Encode()
	target := c.baseURL + "/" + endpoint

	start := time.Now()
	var lastErr error
	var lastStatus int

	maxAttempts := 1 + c.cfg.MaxRetries
	for attempt := 0; attempt < maxAttempts; attempt++ {
		body, err := c.breaker.Execute(func() ([]byte, error) {
			return c.do(ctx, target, form)
		})
		if err == nil {
			c.metrics.RecordUpstreamRequest(endpoint, "ok", time.Since(start))
			if err := json.Unmarshal(body, out); err != nil {
				c.metrics.RecordUpstreamError("decode")
				return &UpstreamError{Endpoint: endpoint, Message: "invalid JSON response", Err: err}
			}
			return nil
		}

		lastErr = err
		var se *statusError
		if errors.As(err, &se) {
			lastStatus = se.code
			if !se.retryable() {
				break
			}
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		if ctx.Err() != nil {
			break
		}

		if attempt < maxAttempts-1 {
			wait := c.backoff(attempt)
			c.logger.Warn(ctx, "[ACIS_RETRY] Request failed, retrying", logging.Fields{
				"endpoint": endpoint,
				"attempt":  attempt + 1,
				"wait_ms":  wait.Milliseconds(),
				"error":    err.Error(),
			})
			if sleepErr := c.sleepFn(ctx, wait); sleepErr != nil {
				lastErr = sleepErr
				break
			}
		}
	}

	c.metrics.RecordUpstreamRequest(endpoint, "error", time.Since(start))
	return c.mapError(endpoint, lastStatus, lastErr)
}

func (c *Client) do(ctx context.Context, target, form string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode, body: truncate(body, 256)}
	}
	return body, nil
}

// backoff returns exponential backoff with jitter clamped to [MinWait, MaxWait]
func (c *Client) backoff(attempt int) time.Duration {
	base := float64(c.cfg.MinWait) * math.Pow(2, float64(attempt))
	maxWait := float64(c.cfg.MaxWait)
	if base > maxWait {
		base = maxWait
	}
	minWait := float64(c.cfg.MinWait)
	if base <= minWait {
		return c.cfg.MinWait
	}
	return time.Duration(minWait + rand.Float64()*(base-minWait))
}

func (c *Client) mapError(endpoint string, status int, err error) *UpstreamError {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.metrics.RecordUpstreamError("breaker_open")
		return &UpstreamError{Endpoint: endpoint, Message: "circuit breaker is open; ACIS unavailable", Err: err, Transient: true}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.metrics.RecordUpstreamError("canceled")
		return &UpstreamError{Endpoint: endpoint, Message: "request canceled", Err: err}
	case status == http.StatusTooManyRequests:
		c.metrics.RecordUpstreamError("rate_limited")
		return &UpstreamError{Endpoint: endpoint, StatusCode: status, Message: "rate limit exceeded", Err: err, Transient: true}
	case status >= 500:
		c.metrics.RecordUpstreamError("server_error")
		return &UpstreamError{Endpoint: endpoint, StatusCode: status, Message: "upstream returned " + strconv.Itoa(status) + " after retries", Err: err, Transient: true}
	case status != 0:
		c.metrics.RecordUpstreamError("client_error")
		return &UpstreamError{Endpoint: endpoint, StatusCode: status, Message: "request rejected", Err: err}
	default:
		c.metrics.RecordUpstreamError("network")
		return &UpstreamError{Endpoint: endpoint, Message: "request failed", Err: err, Transient: true}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(b []byte, n int) string {
	b = bytes.TrimSpace(b)
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}

// UpstreamError reports a failed ACIS call or an error payload
type UpstreamError struct {
	Endpoint   string
	StatusCode int
	Message    string
	Err        error
	Transient  bool
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("acis %s: %s", e.Endpoint, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether retrying later may succeed
func (e *UpstreamError) IsTransient() bool {
	return e.Transient
}
