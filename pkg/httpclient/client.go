// Package httpclient provides a retrying HTTP client used for all outbound
// provider calls (LLM, embedding, vector backends).
//
// Retries are driven by the response status code: rate-limit responses are
// retried with the delay the backend advertises in its rate-limit headers
// (falling back to exponential backoff with jitter), transient server errors
// get a small number of quick retries, everything else is returned as-is.
package httpclient

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"
)

// Strategy classifies how a failed request should be retried.
type Strategy int

const (
	// NoRetry returns the response immediately.
	NoRetry Strategy = iota
	// QuickRetry retries at most twice with a short fixed delay (5xx).
	QuickRetry
	// BackoffRetry honors rate-limit headers, falling back to exponential
	// backoff with jitter (429, 503).
	BackoffRetry
)

// RateLimit carries whatever reset information a backend advertised.
type RateLimit struct {
	RetryAfter        time.Duration
	ResetAt           int64
	RequestsRemaining int
	TokensRemaining   int
}

// HeaderParser extracts rate-limit info from response headers.
type HeaderParser func(http.Header) RateLimit

// StrategyFunc maps a status code to a retry strategy.
type StrategyFunc func(statusCode int) Strategy

// Client wraps an *http.Client with retry behavior.
type Client struct {
	client       *http.Client
	maxRetries   int
	baseDelay    time.Duration
	headerParser HeaderParser
	strategyFor  StrategyFunc
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithMaxRetries caps the number of retry attempts.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithBaseDelay sets the backoff base delay.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.baseDelay = d
		}
	}
}

// WithHeaderParser installs a backend-specific rate-limit header parser.
func WithHeaderParser(p HeaderParser) Option {
	return func(c *Client) { c.headerParser = p }
}

// WithStrategyFunc overrides the status-code classification.
func WithStrategyFunc(f StrategyFunc) Option {
	return func(c *Client) {
		if f != nil {
			c.strategyFor = f
		}
	}
}

// New builds a Client. Defaults: 60s timeout, 3 retries, 1s base delay.
func New(opts ...Option) *Client {
	c := &Client{
		client:      &http.Client{Timeout: 60 * time.Second},
		maxRetries:  3,
		baseDelay:   time.Second,
		strategyFor: DefaultStrategy,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultStrategy classifies the common provider status codes.
func DefaultStrategy(statusCode int) Strategy {
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return BackoffRetry
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return QuickRetry
	default:
		return NoRetry
	}
}

// Do executes the request, retrying per the classification of each failure.
// The request must have GetBody set when it carries a body, so the body can
// be replayed on retries; http.NewRequestWithContext sets it for common body
// types.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastResp *http.Response
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to rewind request body: %w", err)
			}
			req.Body = body
		}

		resp, err := c.client.Do(req)
		if err != nil {
			// Transport failure: context cancellation, DNS, timeout. Not retried;
			// the caller owns recovery.
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		strategy := c.strategyFor(resp.StatusCode)
		if strategy == NoRetry {
			return resp, nil
		}

		var limit RateLimit
		if c.headerParser != nil {
			limit = c.headerParser(resp.Header)
		}
		delay := c.delayFor(strategy, attempt, limit)
		if delay <= 0 || attempt == c.maxRetries {
			if attempt == c.maxRetries && delay > 0 {
				lastErr = &RetryExhaustedError{
					StatusCode: resp.StatusCode,
					Attempts:   attempt + 1,
					RetryAfter: delay,
				}
			}
			lastResp = resp
			break
		}

		resp.Body.Close()
		slog.Debug("Retrying HTTP request",
			"status", resp.StatusCode, "delay", delay, "attempt", attempt+1, "max", c.maxRetries)
		time.Sleep(delay)
		lastResp = resp
	}

	return lastResp, lastErr
}

// delayFor computes the wait before the next attempt, 0 meaning give up.
func (c *Client) delayFor(strategy Strategy, attempt int, limit RateLimit) time.Duration {
	switch strategy {
	case BackoffRetry:
		if limit.RetryAfter > 0 {
			return limit.RetryAfter
		}
		if limit.ResetAt > 0 {
			if until := time.Until(time.Unix(limit.ResetAt, 0)); until > 0 {
				return until
			}
		}
		backoff := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
		return backoff + time.Duration(float64(backoff)*0.1)
	case QuickRetry:
		if attempt >= 2 {
			return 0
		}
		return time.Duration(attempt+1) * time.Second
	default:
		return 0
	}
}
