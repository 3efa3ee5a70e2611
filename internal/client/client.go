// Package client talks to the hosted volatility-analytics API: session
// login, health probes, the ops refresh hook and the retried summary fetch.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apierrors "volaiops/internal/errors"
	"volaiops/internal/infrastructure"
	"volaiops/internal/retry"
)

// Config is everything the client needs to reach the API. It is always
// passed explicitly; nothing is read from the environment here.
type Config struct {
	BaseURL   string
	AuthToken string
}

// HTTPClientFactory builds the http.Client used for one attempt
type HTTPClientFactory func(timeout time.Duration) *http.Client

// Client is an API client bound to one base URL
type Client struct {
	base      *url.URL
	token     string
	logger    *slog.Logger
	sleeper   retry.Sleeper
	newHTTP   HTTPClientFactory
	metrics   *infrastructure.PipelineMetrics
	breaker   *gobreaker.CircuitBreaker
	loginTry  int
	userAgent string
}

// Option customises a Client
type Option func(*Client)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithSleeper replaces the real-time sleeper between fetch attempts
func WithSleeper(s retry.Sleeper) Option {
	return func(c *Client) { c.sleeper = s }
}

// WithHTTPClientFactory overrides how per-attempt HTTP clients are built
func WithHTTPClientFactory(f HTTPClientFactory) Option {
	return func(c *Client) { c.newHTTP = f }
}

// WithMetrics reports attempts into m
func WithMetrics(m *infrastructure.PipelineMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLoginAttempts bounds the login retry loop
func WithLoginAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.loginTry = n
		}
	}
}

// New validates cfg.BaseURL and returns a client for it
func New(cfg Config, opts ...Option) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	u, err := url.Parse(raw)
	if err != nil {
		return nil, apierrors.InvalidBaseURL(cfg.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, apierrors.InvalidBaseURL(cfg.BaseURL, fmt.Errorf("scheme must be http or https"))
	}
	if u.Host == "" {
		return nil, apierrors.InvalidBaseURL(cfg.BaseURL, fmt.Errorf("missing host"))
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""

	c := &Client{
		base:      u,
		token:     cfg.AuthToken,
		logger:    slog.Default(),
		sleeper:   retry.ClockSleeper,
		newHTTP:   freshHTTPClient,
		loginTry:  3,
		userAgent: "volaiops/" + infrastructure.ServiceVersion,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = infrastructure.WithComponent(c.logger, "api_client")
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "volai-health",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("health breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return c, nil
}

// BaseURL returns the normalised base URL
func (c *Client) BaseURL() string {
	return c.base.String()
}

// SetToken replaces the bearer token, typically after Login
func (c *Client) SetToken(token string) {
	c.token = token
}

// freshHTTPClient returns a traced client that never reuses connections, so
// a wedged keep-alive socket cannot poison the next attempt
func freshHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: otelhttp.NewTransport(&http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DisableKeepAlives:   true,
			TLSHandshakeTimeout: 10 * time.Second,
		}),
	}
}

func (c *Client) endpoint(path string) string {
	u := *c.base
	u.Path = c.base.Path + path
	return u.String()
}

// StatusError is a non-2xx response
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned HTTP %d", e.URL, e.Status)
	}
	return fmt.Sprintf("%s returned HTTP %d: %s", e.URL, e.Status, e.Body)
}

// doJSON sends one request and decodes a 2xx JSON body into out (when non-nil)
func (c *Client) doJSON(ctx context.Context, hc *http.Client, method, endpoint string, body any, headers map[string]string, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{URL: endpoint, Status: resp.StatusCode, Body: truncate(string(data), 200)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", endpoint, err)
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
