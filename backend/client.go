// Package backend implements the HTTP client for the rentals backend API.
// It is the gateway's only outbound dependency: every tool call resolves to
// exactly one backend request.
package backend

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
)

// Caller is the narrow surface the dispatcher consumes. GET calls encode
// defined, non-nil params as a query string; POST calls serialize params as a
// JSON body.
type Caller interface {
	Call(ctx context.Context, path string, method string, params map[string]any) (json.RawMessage, error)
}

// Error reports a non-2xx backend response. Its message is status-derived and
// is what ends up in the tool result envelope for a failed call.
type Error struct {
	Status     int
	StatusText string
}

func (e *Error) Error() string {
	return fmt.Sprintf("Backend API error: %d %s", e.Status, e.StatusText)
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the slog logger used by the client. If not provided, the
// default logger is used.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithTimeout bounds each backend call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client wholesale.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// Client calls the rentals backend over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

var _ Caller = (*Client)(nil)

// New constructs a Client for the given base URL. A 30s request timeout is
// applied unless overridden; the backend imposes no bound of its own.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call performs one backend request and returns the parsed JSON payload.
// Failures are never retried; every error is reported upward exactly once.
func (c *Client) Call(ctx context.Context, path string, method string, params map[string]any) (json.RawMessage, error) {
	start := time.Now()

	u := c.baseURL + path
	var body io.Reader

	switch method {
	case http.MethodGet:
		if q := encodeQuery(params); q != "" {
			u += "?" + q
		}
	case http.MethodPost:
		payload, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(payload)
	default:
		return nil, fmt.Errorf("unsupported backend method %q", method)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build backend request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		c.log.ErrorContext(ctx, "backend.call.fail", slog.String("path", path), slog.String("err", err.Error()))
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read backend response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		c.log.WarnContext(ctx, "backend.call.status",
			slog.String("path", path),
			slog.Int("status", res.StatusCode),
			slog.Duration("dur", time.Since(start)))
		return nil, &Error{Status: res.StatusCode, StatusText: statusText(res)}
	}

	if !json.Valid(payload) {
		return nil, fmt.Errorf("backend returned invalid JSON for %s", path)
	}

	c.log.DebugContext(ctx, "backend.call.ok",
		slog.String("path", path),
		slog.Int("status", res.StatusCode),
		slog.Duration("dur", time.Since(start)))
	return json.RawMessage(payload), nil
}

// encodeQuery turns defined, non-nil params into a URL query string.
// Nil values are treated as absent, matching the dispatch defaulting rules.
func encodeQuery(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	q := url.Values{}
	for k, v := range params {
		if v == nil {
			continue
		}
		q.Set(k, fmt.Sprintf("%v", v))
	}
	return q.Encode()
}

// statusText prefers the server's own status line reason; Go's http.Response
// Status is "404 Not Found", so strip the leading code when present.
func statusText(res *http.Response) string {
	if s, ok := strings.CutPrefix(res.Status, fmt.Sprintf("%d ", res.StatusCode)); ok && s != "" {
		return s
	}
	return http.StatusText(res.StatusCode)
}
