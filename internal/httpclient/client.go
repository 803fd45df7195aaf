package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/boostorg/boost-archives/internal/config"
	"github.com/boostorg/boost-archives/pkg/logger"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// RetryPolicy controls the transparent retries applied beneath every request.
type RetryPolicy struct {
	MaxRetries      int
	BackoffFactor   time.Duration
	MaxBackoff      time.Duration
	StatusForcelist []int
	Methods         []string
}

// DefaultRetryPolicy retries idempotent requests five times on throttling
// and gateway errors, backing off 1s, 2s, 4s, 8s, 16s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      5,
		BackoffFactor:   time.Second,
		MaxBackoff:      2 * time.Minute,
		StatusForcelist: []int{429, 500, 502, 503, 504},
		Methods:         []string{http.MethodHead, http.MethodGet, http.MethodOptions},
	}
}

// Backoff returns the delay before retry number n (1-based).
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 || p.BackoffFactor <= 0 {
		return 0
	}
	d := p.BackoffFactor * time.Duration(1<<uint(n-1))
	if p.MaxBackoff > 0 && (d > p.MaxBackoff || d <= 0) {
		d = p.MaxBackoff
	}
	return d
}

func (p RetryPolicy) retryableMethod(method string) bool {
	return slices.Contains(p.Methods, strings.ToUpper(method))
}

func (p RetryPolicy) retryableStatus(code int) bool {
	return slices.Contains(p.StatusForcelist, code)
}

// ErrIdleTimeout is returned by a response body that received no data for
// longer than Options.IdleTimeout.
var ErrIdleTimeout = errors.New("response body idle timeout")

// Options configures a Client.
type Options struct {
	Retry RetryPolicy
	// Timeout bounds the wait for response headers. Reading the body is not
	// capped as a whole; IdleTimeout applies between reads instead.
	Timeout           time.Duration
	IdleTimeout       time.Duration
	UserAgent         string
	RequestsPerSecond float64
	Burst             int
	// BreakerFailures is the number of consecutive failed attempts that opens
	// the circuit. Zero disables the breaker.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	// Transport overrides the underlying round tripper (tests).
	Transport http.RoundTripper
}

// OptionsFromConfig maps the http section of the application config.
func OptionsFromConfig(cfg config.HTTPConfig) Options {
	return Options{
		Retry: RetryPolicy{
			MaxRetries:      cfg.Retry.MaxRetries,
			BackoffFactor:   cfg.Retry.BackoffFactor,
			MaxBackoff:      cfg.Retry.MaxBackoff,
			StatusForcelist: cfg.Retry.StatusForcelist,
			Methods:         cfg.Retry.Methods,
		},
		Timeout:           cfg.Timeout,
		IdleTimeout:       cfg.IdleTimeout,
		UserAgent:         cfg.UserAgent,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		BreakerFailures:   cfg.Breaker.ConsecutiveFailures,
		BreakerTimeout:    cfg.Breaker.Timeout,
	}
}

// StatusError is returned when the final response carried a non-2xx status.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// errRetryableStatus marks an attempt whose status is in the forcelist.
type errRetryableStatus struct {
	resp *http.Response
}

func (e *errRetryableStatus) Error() string {
	return fmt.Sprintf("retryable status %d", e.resp.StatusCode)
}

// Client is an HTTP client with bounded retries, a request rate limit and a
// circuit breaker. It is safe for sequential and concurrent use.
type Client struct {
	http        *http.Client
	policy      RetryPolicy
	userAgent   string
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	// breakerWait is how long a request waits for an open breaker to let
	// traffic through again.
	breakerWait time.Duration
	idleTimeout time.Duration
	logger      *logger.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// New creates a client from opts.
func New(opts Options, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}

	transport := opts.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.ResponseHeaderTimeout = opts.Timeout
		transport = t
	}

	c := &Client{
		http:        &http.Client{Transport: transport},
		policy:      opts.Retry,
		userAgent:   opts.UserAgent,
		breakerWait: opts.BreakerTimeout,
		idleTimeout: opts.IdleTimeout,
		logger:      log,
		sleep:       sleepContext,
	}

	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	if opts.BreakerFailures > 0 {
		if c.breakerWait <= 0 {
			// gobreaker's own default open period
			c.breakerWait = 60 * time.Second
		}
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "http",
			Timeout: opts.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= opts.BreakerFailures
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				log.Warnf("Circuit breaker state changed from %v to %v", from, to)
			},
			IsSuccessful: func(err error) bool {
				var rs *errRetryableStatus
				if errors.As(err, &rs) {
					return rs.resp.StatusCode < 500
				}
				return err == nil
			},
		})
	}

	return c
}

// Get issues a GET request. A non-nil response always has a 2xx status and
// must be closed by the caller.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.Do(req)
}

// Do sends req, retrying transport errors and forcelisted statuses for the
// methods named in the retry policy. Requests with a body are never retried.
// While the circuit breaker is open the request waits for it to half-open
// rather than failing.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.idleTimeout <= 0 {
		return c.do(req)
	}

	ctx, cancel := context.WithCancel(req.Context())
	resp, err := c.do(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = newIdleTimeoutBody(resp.Body, c.idleTimeout, cancel)
	return resp, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	retryable := c.policy.retryableMethod(req.Method) && req.Body == nil
	attempt := 0
	breakerWaits := 0

	for {
		resp, err := c.attempt(req)
		if err == nil {
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return resp, nil
			}
			drain(resp)
			return nil, &StatusError{Method: req.Method, URL: req.URL.String(), StatusCode: resp.StatusCode}
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var rs *errRetryableStatus
		isStatus := errors.As(err, &rs)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// Waiting does not count as an attempt; the cap only guards
			// against a breaker that never half-opens.
			if breakerWaits > c.policy.MaxRetries {
				return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
			}
			breakerWaits++
			c.logger.WithFields(logger.Fields{
				"url":  req.URL.String(),
				"wait": c.breakerWait.String(),
			}).Warn("Circuit breaker open, waiting")
			if err := c.sleep(ctx, c.breakerWait); err != nil {
				return nil, err
			}
			continue
		}

		if !retryable || attempt >= c.policy.MaxRetries {
			if isStatus {
				drain(rs.resp)
				return nil, &StatusError{Method: req.Method, URL: req.URL.String(), StatusCode: rs.resp.StatusCode}
			}
			return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
		}

		attempt++
		wait := c.policy.Backoff(attempt)
		if isStatus {
			if ra := retryAfter(rs.resp); ra > wait {
				wait = ra
			}
			drain(rs.resp)
		}

		c.logger.WithFields(logger.Fields{
			"url":     req.URL.String(),
			"attempt": attempt,
			"max":     c.policy.MaxRetries,
			"wait":    wait.String(),
		}).Warnf("Request failed, retrying: %v", err)

		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// attempt performs one round trip behind the limiter and breaker.
func (c *Client) attempt(req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}

	roundTrip := func() (interface{}, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if c.policy.retryableStatus(resp.StatusCode) {
			return nil, &errRetryableStatus{resp: resp}
		}
		return resp, nil
	}

	if c.breaker == nil {
		v, err := roundTrip()
		if err != nil {
			return nil, err
		}
		return v.(*http.Response), nil
	}

	v, err := c.breaker.Execute(roundTrip)
	if err != nil {
		return nil, err
	}
	return v.(*http.Response), nil
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(resp *http.Response) time.Duration {
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusRequestEntityTooLarge:
	default:
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After")))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// idleTimeoutBody cancels the request when no read completes within timeout.
type idleTimeoutBody struct {
	io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
	expired atomic.Bool
	cancel  context.CancelFunc
}

func newIdleTimeoutBody(rc io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *idleTimeoutBody {
	b := &idleTimeoutBody{ReadCloser: rc, timeout: timeout, cancel: cancel}
	b.timer = time.AfterFunc(timeout, func() {
		b.expired.Store(true)
		cancel()
	})
	return b
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && b.expired.Load() {
		return n, fmt.Errorf("%w: no data for %s", ErrIdleTimeout, b.timeout)
	}
	b.timer.Reset(b.timeout)
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	b.timer.Stop()
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	_ = resp.Body.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
