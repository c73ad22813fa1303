// Package classifier holds the downstream HTTP client the dispatcher calls
// once per batch.
package classifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"proxywars.dev/internal/metrics"
)

// request/response wire shapes for the downstream classify endpoint.
type classifyRequest struct {
	Sequences []string `json:"sequences"`
}

type classifyResponse struct {
	Results []string `json:"results"`
}

// Config configures the downstream client.
type Config struct {
	URL     string
	Timeout time.Duration

	CircuitBreakerRequests    uint32
	CircuitBreakerInterval    time.Duration
	CircuitBreakerTimeout     time.Duration
	CircuitBreakerMinRequests uint32
	CircuitBreakerFailRatio   float64
}

// Client is a process-wide pooled HTTP client wrapping the downstream
// classifier behind a circuit breaker. No per-call retries: the caller's
// batch is already a best-effort aggregation, and retrying risks
// head-of-line blocking other batches behind it.
type Client struct {
	url            string
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker

	mu       sync.Mutex
	openedAt time.Time // zero when the breaker is not open
}

// NewClient builds a client against cfg. The transport is constructed once
// at startup and reused for the process lifetime.
func NewClient(cfg Config) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
	}

	c := &Client{
		url: cfg.URL,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}

	c.circuitBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "downstream-classifier",
		MaxRequests: cfg.CircuitBreakerRequests,
		Interval:    cfg.CircuitBreakerInterval,
		Timeout:     cfg.CircuitBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.CircuitBreakerMinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.CircuitBreakerFailRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("downstream circuit breaker state changed", "from", from.String(), "to", to.String())

			var stateValue float64
			switch to {
			case gobreaker.StateClosed:
				stateValue = metrics.CircuitBreakerClosed
				c.mu.Lock()
				c.openedAt = time.Time{}
				c.mu.Unlock()
			case gobreaker.StateOpen:
				stateValue = metrics.CircuitBreakerOpen
				metrics.DownstreamCircuitBreakerTrips.Inc()
				c.mu.Lock()
				c.openedAt = time.Now()
				c.mu.Unlock()
			case gobreaker.StateHalfOpen:
				stateValue = metrics.CircuitBreakerHalfOpen
				c.mu.Lock()
				c.openedAt = time.Time{}
				c.mu.Unlock()
			}
			metrics.DownstreamCircuitBreakerState.Set(stateValue)
		},
	})

	return c
}

// OpenSince reports when the circuit breaker most recently tripped open,
// or the zero time if it is currently closed (or half-open). Used by the
// readiness check wired in cmd/proxy.
func (c *Client) OpenSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openedAt
}

// Classify sends sequences to the downstream classifier in one request and
// returns the decoded label vector, or an error encompassing transport
// failure, a non-2xx status, a malformed body, or the circuit breaker
// being open.
func (c *Client) Classify(ctx context.Context, sequences []string) ([]string, error) {
	result, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return c.doRequest(ctx, sequences)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.DownstreamRequests.WithLabelValues("breaker_open").Inc()
			return nil, fmt.Errorf("downstream circuit breaker open: %w", err)
		}
		return nil, err
	}
	return result.([]string), nil
}

func (c *Client) doRequest(ctx context.Context, sequences []string) ([]string, error) {
	body, err := json.Marshal(classifyRequest{Sequences: sequences})
	if err != nil {
		return nil, fmt.Errorf("failed to encode classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	metrics.DownstreamDuration.Observe(duration.Seconds())

	if err != nil {
		metrics.DownstreamRequests.WithLabelValues("transport_error").Inc()
		return nil, fmt.Errorf("downstream transport error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		metrics.DownstreamRequests.WithLabelValues("http_error").Inc()
		return nil, fmt.Errorf("failed to read downstream response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.DownstreamRequests.WithLabelValues("http_error").Inc()
		return nil, fmt.Errorf("downstream returned status %d", resp.StatusCode)
	}

	var decoded classifyResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		metrics.DownstreamRequests.WithLabelValues("http_error").Inc()
		return nil, fmt.Errorf("malformed downstream response: %w", err)
	}

	metrics.DownstreamRequests.WithLabelValues("success").Inc()
	return decoded.Results, nil
}
