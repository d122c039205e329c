package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/hive-corporation/varonis-dsp/internal/adapter/metrics"
)

// maxErrorBody caps how much of a failed response body is kept in HTTPError.
const maxErrorBody = 4096

// HTTPError is returned for any response outside the 2xx range.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s: %s", e.StatusCode, e.Status, e.Body)
}

// ResilientClient wraps an HTTP client with circuit breaker, rate limiting
// and opt-in retry logic
type ResilientClient struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	config  Config
	logger  zerolog.Logger
}

// Config holds configuration for the resilient client
type Config struct {
	Timeout            time.Duration
	InsecureSkipVerify bool

	// Transport overrides the default round tripper (tests, proxies).
	Transport http.RoundTripper

	// Circuit breaker settings
	EnableCircuitBreaker bool
	MaxFailures          uint32
	CircuitTimeout       time.Duration

	// Client side rate limit; zero disables it.
	RequestsPerSecond float64
	Burst             int
}

// RetryPolicy describes which responses are re-issued and how often.
type RetryPolicy struct {
	Statuses   []int
	MaxRetries int
	Interval   time.Duration
}

// DefaultConfig returns default configuration values
func DefaultConfig() Config {
	return Config{
		Timeout:              60 * time.Second,
		EnableCircuitBreaker: true,
		MaxFailures:          5,
		CircuitTimeout:       30 * time.Second,
	}
}

// NewResilientClient creates a new resilient HTTP client
func NewResilientClient(config Config, logger zerolog.Logger) *ResilientClient {
	rt := config.Transport
	if rt == nil {
		rt = NewBaseTransport(config.InsecureSkipVerify)
	}
	client := &http.Client{
		Timeout:   config.Timeout,
		Transport: rt,
	}

	var breaker *gobreaker.CircuitBreaker
	if config.EnableCircuitBreaker {
		settings := gobreaker.Settings{
			Name:        "varonis-api",
			MaxRequests: 1,
			Interval:    0, // Don't reset counts automatically
			Timeout:     config.CircuitTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= config.MaxFailures
			},
			IsSuccessful: func(err error) bool {
				// Client errors are the caller's problem, not an outage.
				var httpErr *HTTPError
				if errors.As(err, &httpErr) {
					return httpErr.StatusCode < http.StatusInternalServerError
				}
				return err == nil
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
					Msg("circuit breaker state changed")
				if to == gobreaker.StateOpen {
					metrics.RecordError("circuit_open")
				}
			},
		}
		breaker = gobreaker.NewCircuitBreaker(settings)
	}

	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}

	return &ResilientClient{
		client:  client,
		breaker: breaker,
		limiter: limiter,
		config:  config,
		logger:  logger,
	}
}

// NewBaseTransport clones the default transport (proxy from environment)
// and optionally disables certificate verification.
func NewBaseTransport(insecure bool) *http.Transport {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-in
	}
	return base
}

// Do executes a single attempt through the rate limiter and circuit breaker.
// Responses outside 2xx are returned as *HTTPError with the body consumed.
func (c *ResilientClient) Do(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.attempt(req)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.attempt(req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.RecordError("circuit_open")
			return nil, fmt.Errorf("circuit breaker is open: %w", err)
		}
		return nil, err
	}

	return result.(*http.Response), nil
}

// DoWithRetry re-issues the request while the response status is listed in
// the policy, up to MaxRetries extra attempts. Other failures return at once.
func (c *ResilientClient) DoWithRetry(req *http.Request, policy RetryPolicy) (*http.Response, error) {
	if policy.MaxRetries <= 0 || len(policy.Statuses) == 0 {
		return c.Do(req)
	}

	ctx := req.Context()
	retryBackoff := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(policy.Interval), uint64(policy.MaxRetries)),
		ctx,
	)

	var resp *http.Response
	attempt := 0
	operation := func() error {
		attempt++
		r, err := cloneRequest(ctx, req)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err = c.Do(r)
		if err == nil {
			return nil
		}
		if shouldRetry(err, policy) {
			var httpErr *HTTPError
			errors.As(err, &httpErr)
			metrics.RecordRetry(httpErr.StatusCode)
			c.logger.Debug().Int("attempt", attempt).Int("status", httpErr.StatusCode).
				Str("url", req.URL.Path).Msg("retrying request")
			return err
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(operation, retryBackoff); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *ResilientClient) attempt(req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	timer := metrics.StartTimer(req.Method)
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.RecordError("connection")
		return nil, err
	}
	timer.Observe(resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		recordErrorFromStatus(resp.StatusCode)
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(body)}
	}
	return resp, nil
}

// shouldRetry reports whether err is an HTTP status the policy retries on
func shouldRetry(err error, policy RetryPolicy) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	return slices.Contains(policy.Statuses, httpErr.StatusCode)
}

func cloneRequest(ctx context.Context, req *http.Request) (*http.Request, error) {
	r := req.Clone(ctx)
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, fmt.Errorf("request body cannot be replayed")
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		r.Body = body
	}
	return r, nil
}

// recordErrorFromStatus records the appropriate error metric based on response status
func recordErrorFromStatus(code int) {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		metrics.RecordError("auth")
	case http.StatusTooManyRequests:
		metrics.RecordError("rate_limit")
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		metrics.RecordError("server_error")
	default:
		metrics.RecordError("http_error")
	}
}
