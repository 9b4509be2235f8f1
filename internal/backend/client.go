// Package backend is the typed client of the POS REST API.
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

	"github.com/ariefcatur/rockband-pos/internal/logging"
	"github.com/ariefcatur/rockband-pos/internal/metrics"
	"github.com/google/uuid"
)

const DefaultTimeout = 10 * time.Second

type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Timeout bounds every request that reaches the client without an
	// earlier deadline.
	Timeout time.Duration
	Log     *slog.Logger
	Metrics *metrics.Metrics
}

func New(baseURL string, timeout time.Duration, log *slog.Logger, m *metrics.Metrics) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{},
		Timeout: timeout,
		Log:     log,
		Metrics: m,
	}
}

// do sends one JSON request. route is the path template used for
// metrics and error messages; path is the concrete path.
func (c *Client) do(ctx context.Context, method, route, path string, query url.Values, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s %s: encode body: %w", method, route, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, route, err)
	}
	rid := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", rid)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	res, err := c.HTTP.Do(req)
	if err != nil {
		c.Metrics.ObserveBackend(method+" "+route, 0, time.Since(start))
		c.Log.Warn("backend request failed", "method", method, "route", route, "rid", rid, "err", err)
		return fmt.Errorf("%s %s: %w", method, route, err)
	}
	defer res.Body.Close()
	c.Metrics.ObserveBackend(method+" "+route, res.StatusCode, time.Since(start))

	if res.StatusCode < 200 || res.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
		apiErr := &APIError{Route: method + " " + route, Status: res.StatusCode, Message: errorMessage(raw)}
		c.Log.Debug("backend answered with error", "route", apiErr.Route, "status", res.StatusCode, "rid", rid, "message", apiErr.Message)
		return apiErr
	}
	if out == nil {
		return nil
	}
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, route, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s %s: decode body: %w", method, route, err)
	}
	return nil
}

// errorMessage extracts {"error": "..."} or {"message": "..." | [...]}.
func errorMessage(raw []byte) string {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	for _, key := range []string{"error", "message"} {
		v, ok := body[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil && s != "" {
			return s
		}
		var list []string
		if err := json.Unmarshal(v, &list); err == nil && len(list) > 0 {
			return strings.Join(list, "; ")
		}
	}
	return ""
}

func (c *Client) get(ctx context.Context, route, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, route, path, query, nil, out)
}

func (c *Client) post(ctx context.Context, route, path string, in, out any) error {
	return c.do(ctx, http.MethodPost, route, path, nil, in, out)
}

func (c *Client) patch(ctx context.Context, route, path string, in, out any) error {
	return c.do(ctx, http.MethodPatch, route, path, nil, in, out)
}

func (c *Client) delete(ctx context.Context, route, path string) error {
	return c.do(ctx, http.MethodDelete, route, path, nil, nil, nil)
}

func seg(s string) string { return url.PathEscape(s) }
