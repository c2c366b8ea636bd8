// Package source is the HTTP client for the Open Bus Stride API.
//
// Every collection is listed with GET {base}/{entity}/list and answers with a
// bare JSON array. The client never asks the server for a total count.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/stridesync/pkg/core"
)

// DefaultBaseURL is the public Stride API endpoint.
const DefaultBaseURL = "https://open-bus-stride-api.hasadna.org.il"

// ErrUnavailable is returned by Health when the source does not answer.
var ErrUnavailable = errors.New("source unavailable")

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("source returned http status %d for %s", e.Code, e.URL)
}

// Config holds source client settings.
type Config struct {
	BaseURL         string        `koanf:"base_url" validate:"required,url"`
	PageSize        int           `koanf:"page_size" validate:"gt=0"`
	RequestTimeout  time.Duration `koanf:"request_timeout" validate:"gt=0"`
	HealthTimeout   time.Duration `koanf:"health_timeout" validate:"gt=0"`
	InterBatchDelay time.Duration `koanf:"inter_batch_delay" validate:"gte=0"`
	UserAgent       string        `koanf:"user_agent"`
}

// Query is the set of list parameters for one page.
type Query struct {
	Date   core.Partition
	Limit  int
	Offset int
}

// Values renders the query string. get_count is always false.
func (q Query) Values() url.Values {
	v := url.Values{}
	if q.Date != "" {
		v.Set("date", q.Date.String())
	}
	v.Set("limit", strconv.Itoa(q.Limit))
	v.Set("offset", strconv.Itoa(q.Offset))
	v.Set("get_count", "false")
	return v
}

// Client lists Stride collections.
type Client struct {
	baseURL       string
	userAgent     string
	http          *http.Client
	healthTimeout time.Duration
	logger        *slog.Logger
}

// New creates a client. BaseURL falls back to DefaultBaseURL.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid source base url: %w", err)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	healthTimeout := cfg.HealthTimeout
	if healthTimeout <= 0 {
		healthTimeout = 10 * time.Second
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = "stridesync"
	}
	return &Client{
		baseURL:       strings.TrimRight(base, "/"),
		userAgent:     ua,
		http:          &http.Client{Timeout: timeout},
		healthTimeout: healthTimeout,
		logger:        logger,
	}, nil
}

// ListURL builds the list URL for an entity page.
func (c *Client) ListURL(entity core.Entity, q Query) string {
	return c.baseURL + "/" + string(entity) + "/list?" + q.Values().Encode()
}

// List fetches one raw page. The body is returned undecoded.
func (c *Client) List(ctx context.Context, entity core.Entity, q Query) ([]byte, error) {
	u := c.ListURL(entity, q)
	c.logger.Debug("requesting page",
		slog.String("entity", string(entity)),
		slog.Int("offset", q.Offset),
		slog.Int("limit", q.Limit))
	return c.get(ctx, u)
}

// Health issues a one-record stops request under the health timeout.
// Any failure is reported as ErrUnavailable wrapping the cause.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	if _, err := c.get(ctx, c.ListURL(core.EntityStops, Query{Limit: 1})); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Code: resp.StatusCode, URL: u}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}
