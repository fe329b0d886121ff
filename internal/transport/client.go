package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"routeopt/internal/logging"
	"routeopt/internal/metrics"
)

// StatusError is returned for HTTP responses with status >= 400.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Options configures a Client. Zero values get defaults.
type Options struct {
	Name              string
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxAttempts       int
	InitialBackoff    time.Duration
	FailureThreshold  uint32
	OpenTimeout       time.Duration
	// Authorize decorates every outgoing request, e.g. with an API key header.
	Authorize  func(*http.Request)
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// Client is JSON-over-HTTP plumbing shared by every outbound integration:
// rate limiting, retry with exponential backoff, and a circuit breaker.
// It is safe for concurrent use.
type Client struct {
	name        string
	http        *http.Client
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	authorize   func(*http.Request)
	maxAttempts int
	backoff     time.Duration
	log         *logging.Logger
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 4
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 200 * time.Millisecond
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := int(opts.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	log := opts.Logger.WithComponent("transport." + opts.Name)
	threshold := opts.FailureThreshold
	settings := gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// client errors are the caller's fault, not the remote's
			var se *StatusError
			if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 && se.Code != http.StatusTooManyRequests {
				return true
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &Client{
		name:        opts.Name,
		http:        hc,
		limiter:     rate.NewLimiter(limit, burst),
		breaker:     gobreaker.NewCircuitBreaker(settings),
		authorize:   opts.Authorize,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.InitialBackoff,
		log:         log,
	}
}

// Name identifies the remote in logs and metrics.
func (c *Client) Name() string { return c.name }

// State reports the breaker state.
func (c *Client) State() gobreaker.State { return c.breaker.State() }

// DoJSON sends in (if non-nil) as a JSON body and decodes the response into out (if non-nil).
func (c *Client) DoJSON(ctx context.Context, method, url string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", c.name, err)
		}
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.doWithRetry(ctx, method, url, payload, out)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.ProviderCalls.WithLabelValues(c.name, "rejected").Inc()
		return fmt.Errorf("%s: %w", c.name, ErrCircuitOpen)
	case err != nil:
		metrics.ProviderCalls.WithLabelValues(c.name, "error").Inc()
		return err
	}
	metrics.ProviderCalls.WithLabelValues(c.name, "ok").Inc()
	return nil
}

// doWithRetry retries transient failures (network errors, 429 and 5xx responses)
// using exponential backoff while respecting context cancellation.
func (c *Client) doWithRetry(ctx context.Context, method, url string, payload []byte, out any) error {
	backoff := c.backoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limit wait: %w", c.name, err)
		}
		err := c.do(ctx, method, url, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) || attempt == c.maxAttempts {
			break
		}
		c.log.Debug("Retrying request", "attempt", attempt, "url", url, "error", err.Error())
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return fmt.Errorf("%s: %s %s: %w", c.name, method, url, lastErr)
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authorize != nil {
		c.authorize(req)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// BearerToken returns an Authorize func setting a bearer Authorization header.
func BearerToken(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

// APIKey returns an Authorize func setting the raw key as Authorization header.
func APIKey(key string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", key) }
}
