// SPDX-License-Identifier: MPL-2.0

// Package fetch is the thin authenticated HTTP layer shared by forge listing
// and archive downloads. It classifies every failure as a fault.KindNetwork
// error so callers never have to inspect transport errors themselves.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/invowk/upkeep/internal/fault"
)

const (
	// DefaultTimeout bounds every request made with the default transport,
	// including reading the body of an archive download.
	DefaultTimeout = 60 * time.Second

	// maxJSONResponseBytes is the upper bound on API response size (10 MB).
	maxJSONResponseBytes = 10 << 20

	defaultUserAgent = "upkeep/dev"
)

type (
	// RateLimitError is returned when a forge reports an exhausted API quota.
	RateLimitError struct {
		Limit     int
		Remaining int
		ResetAt   time.Time
	}

	// StatusError is returned for any non-2xx response.
	StatusError struct {
		URL        string
		StatusCode int
	}

	// Client performs GET requests with optional auth headers, a proxy, and a
	// timeout. The zero value is not usable; construct with NewClient.
	Client struct {
		httpClient *http.Client
		userAgent  string
		logger     *log.Logger
		proxyURL   *url.URL
		timeout    time.Duration
		custom     bool
	}

	// Option configures a Client during construction.
	Option func(*Client)
)

// Error formats the rate limit details as a human-readable message.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("API rate limit exceeded (%d remaining, resets at %s)",
		e.Remaining, e.ResetAt.UTC().Format("15:04 UTC"))
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// WithHTTPClient replaces the underlying http.Client. Timeout and proxy options
// are ignored when a custom client is supplied.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
		cl.custom = true
	}
}

// WithTimeout sets the overall per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.timeout = d
	}
}

// WithProxy routes every request through the given proxy URL. An empty string
// keeps the environment-derived proxy (HTTPS_PROXY and friends).
func WithProxy(rawURL string) Option {
	return func(cl *Client) {
		if rawURL == "" {
			return
		}
		if u, err := url.Parse(rawURL); err == nil {
			cl.proxyURL = u
		}
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(cl *Client) {
		cl.userAgent = ua
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *log.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// NewClient creates a Client with sensible defaults: a 60s timeout, the
// environment proxy, and a discarding logger.
func NewClient(opts ...Option) *Client {
	c := &Client{
		userAgent: defaultUserAgent,
		timeout:   DefaultTimeout,
		logger:    log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(c)
	}
	if !c.custom {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if c.proxyURL != nil {
			transport.Proxy = http.ProxyURL(c.proxyURL)
		}
		c.httpClient = &http.Client{Timeout: c.timeout, Transport: transport}
	}
	return c
}

// Get fetches reqURL and returns the (size-limited) response body. It is meant
// for JSON API responses.
func (c *Client) Get(ctx context.Context, reqURL string, headers map[string]string) ([]byte, error) {
	resp, err := c.do(ctx, reqURL, headers)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJSONResponseBytes))
	if err != nil {
		return nil, fault.Network("read response "+RedactURL(reqURL), err)
	}
	return body, nil
}

// Open fetches reqURL and returns the streaming response body. The caller must
// close it. Use this for archive downloads.
func (c *Client) Open(ctx context.Context, reqURL string, headers map[string]string) (io.ReadCloser, error) {
	resp, err := c.do(ctx, reqURL, headers)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// do executes a GET request, returning a response with a 2xx status or a
// classified network error. On error the body is already closed.
func (c *Client) do(ctx context.Context, reqURL string, headers map[string]string) (*http.Response, error) {
	op := "GET " + RedactURL(reqURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fault.Network(op, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fault.Network(op, err)
	}
	c.logger.Debug("http request", "url", RedactURL(reqURL), "status", resp.StatusCode, "elapsed", time.Since(start))

	if rlErr := checkRateLimit(resp); rlErr != nil {
		_ = resp.Body.Close()
		return nil, fault.Network(op, rlErr)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, fault.Network(op, &StatusError{URL: RedactURL(reqURL), StatusCode: resp.StatusCode})
	}

	return resp, nil
}

// checkRateLimit inspects the X-RateLimit-* response headers and returns a
// RateLimitError when the remaining quota is zero. GitHub and GitLab both
// send these headers; Bitbucket does not.
func checkRateLimit(resp *http.Response) error {
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	if remaining == "" {
		remaining = resp.Header.Get("RateLimit-Remaining")
	}
	if remaining == "" {
		return nil
	}

	rem, err := strconv.Atoi(remaining)
	if err != nil || rem > 0 {
		return nil //nolint:nilerr // Non-numeric header is non-fatal.
	}

	// Only a failing response is a rate limit hit; the last allowed call
	// reports zero remaining but still succeeds.
	if resp.StatusCode < 400 {
		return nil
	}

	limit, _ := strconv.Atoi(firstHeader(resp, "X-RateLimit-Limit", "RateLimit-Limit"))                     //nolint:errcheck // Best-effort header parsing.
	resetUnix, _ := strconv.ParseInt(firstHeader(resp, "X-RateLimit-Reset", "RateLimit-Reset"), 10, 64) //nolint:errcheck // Best-effort header parsing.

	return &RateLimitError{
		Limit:     limit,
		Remaining: 0,
		ResetAt:   time.Unix(resetUnix, 0),
	}
}

func firstHeader(resp *http.Response, names ...string) string {
	for _, n := range names {
		if v := resp.Header.Get(n); v != "" {
			return v
		}
	}
	return ""
}

// IsRateLimited reports whether err was caused by an exhausted API quota.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// RedactURL strips query parameters and fragments from a URL for safe inclusion
// in logs and error messages; forges accept tokens as query parameters.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String()
}
