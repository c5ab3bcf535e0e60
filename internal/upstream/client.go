// Package upstream talks to the WhatsApp automation backend that hosts the
// media referenced by received messages.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrNotConfigured is returned when no upstream base URL is set.
	ErrNotConfigured = errors.New("upstream not configured")

	// ErrPathNotAllowed is returned for media paths that resolve outside the
	// upstream host.
	ErrPathNotAllowed = errors.New("media path not allowed")
)

const DefaultTimeout = 30 * time.Second

// Client fetches media from the upstream backend.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
}

// New returns a client for baseURL. An empty baseURL yields a client whose
// calls fail with ErrNotConfigured.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
	if baseURL == "" {
		return c, nil
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("upstream url must be absolute http(s): %q", baseURL)
	}
	c.base = u
	return c, nil
}

// BaseURL returns the configured upstream base, or "".
func (c *Client) BaseURL() string {
	if c.base == nil {
		return ""
	}
	return c.base.String()
}

// ResolveMediaURL maps a media descriptor path onto the upstream. Relative
// paths (including WhatsApp directPaths such as /v/t62/...) resolve against
// the base URL; absolute URLs are allowed only on the upstream host.
func (c *Client) ResolveMediaURL(path string) (*url.URL, error) {
	if c.base == nil {
		return nil, ErrNotConfigured
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrPathNotAllowed)
	}

	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPathNotAllowed, err)
	}
	if ref.Scheme != "" && ref.Scheme != "http" && ref.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrPathNotAllowed, ref.Scheme)
	}
	if ref.Host != "" && !strings.EqualFold(ref.Host, c.base.Host) {
		return nil, fmt.Errorf("%w: host %q", ErrPathNotAllowed, ref.Host)
	}
	if ref.User != nil {
		return nil, fmt.Errorf("%w: credentials in path", ErrPathNotAllowed)
	}

	if ref.IsAbs() {
		return ref, nil
	}

	base := *c.base
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	ref.Path = strings.TrimPrefix(ref.Path, "/")
	resolved := base.ResolveReference(ref)
	if !strings.HasPrefix(resolved.Path, base.Path) {
		return nil, fmt.Errorf("%w: escapes upstream base", ErrPathNotAllowed)
	}
	return resolved, nil
}

// Media is an open media response. The caller must close Body.
type Media struct {
	StatusCode    int
	ContentType   string
	ContentLength int64
	Body          io.ReadCloser
}

// FetchMedia opens the media at path. Upstream error statuses are returned
// as-is in Media rather than as errors; only transport problems and
// disallowed paths are errors.
func (c *Client) FetchMedia(ctx context.Context, path string) (*Media, error) {
	target, err := c.ResolveMediaURL(path)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}

	c.logger.Debug("upstream media fetched", "url", target.Redacted(), "status", resp.StatusCode)

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/octet-stream"
	}
	return &Media{
		StatusCode:    resp.StatusCode,
		ContentType:   ct,
		ContentLength: resp.ContentLength,
		Body:          resp.Body,
	}, nil
}
