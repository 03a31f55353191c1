// Package remote queries pageview services for counts, retrying transient
// failures and falling back across endpoints in priority order.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/walinekit/sitestats/internal/clock"
	"github.com/walinekit/sitestats/internal/normalize"
	"github.com/walinekit/sitestats/internal/stats"
)

// Defaults for the retry loop.
const (
	DefaultMaxAttempts    = 3
	DefaultBaseDelay      = time.Second
	DefaultAttemptTimeout = 10 * time.Second
	DefaultSelector       = "time"
)

// maxBodySize bounds how much of a response is read.
const maxBodySize = 1 << 20

// activityKey is the field carrying the comment count.
const activityKey = "count"

// Endpoint describes one pageview service.
type Endpoint struct {
	// Name identifies the endpoint in logs and errors.
	Name string

	// BaseURL is the service root, e.g. https://comments.example.com.
	BaseURL string

	// Parser normalizes article responses. Nil means normalize.Auto.
	Parser normalize.Parser

	// Priority orders endpoints; lower is tried first.
	Priority int
}

// Client fetches counts from a prioritized list of endpoints.
type Client struct {
	endpoints      []Endpoint
	httpClient     *http.Client
	maxAttempts    int
	baseDelay      time.Duration
	attemptTimeout time.Duration
	selector       string
	lang           string
	limiter        *rate.Limiter
	clock          clock.Clock
	collector      stats.Collector
	logger         *zap.Logger
}

// New returns a Client for endpoints. Endpoints are sorted by priority; equal
// priorities keep their order.
func New(endpoints []Endpoint, opts ...Option) (*Client, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	c := &Client{
		httpClient:     defaultHTTPClient(),
		maxAttempts:    DefaultMaxAttempts,
		baseDelay:      DefaultBaseDelay,
		attemptTimeout: DefaultAttemptTimeout,
		selector:       DefaultSelector,
		clock:          clock.New(),
		collector:      stats.NewNoop(),
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt.apply(c)
	}

	c.endpoints = make([]Endpoint, len(endpoints))
	copy(c.endpoints, endpoints)
	for i := range c.endpoints {
		ep := &c.endpoints[i]
		u, err := url.Parse(ep.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("endpoint %q: invalid base URL %q", ep.Name, ep.BaseURL)
		}
		ep.BaseURL = strings.TrimRight(ep.BaseURL, "/")
		if ep.Name == "" {
			ep.Name = u.Host
		}
		if ep.Parser == nil {
			ep.Parser = normalize.Auto{Key: c.selector}
		}
	}
	sort.SliceStable(c.endpoints, func(i, j int) bool {
		return c.endpoints[i].Priority < c.endpoints[j].Priority
	})
	return c, nil
}

// defaultHTTPClient has no overall timeout; each attempt carries its own
// deadline.
func defaultHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: DefaultAttemptTimeout,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// Endpoints returns the endpoints in the order they are consulted.
func (c *Client) Endpoints() []Endpoint {
	out := make([]Endpoint, len(c.endpoints))
	copy(out, c.endpoints)
	return out
}

// FetchTotals asks for the pageview records of ids in a single batched
// request per endpoint.
func (c *Client) FetchTotals(ctx context.Context, ids []string) ([]normalize.Record, error) {
	params := url.Values{}
	params.Set("path", strings.Join(ids, ","))
	params.Set("type", c.selector)

	return c.fetch(ctx, query{
		kind:   "totals",
		path:   "/api/article",
		params: params,
		ids:    ids,
		parser: func(ep Endpoint) normalize.Parser { return ep.Parser },
	})
}

// FetchActivity asks for the site-wide comment count, used as a proxy for
// unique visitors.
func (c *Client) FetchActivity(ctx context.Context) ([]normalize.Record, error) {
	params := url.Values{}
	params.Set("type", "count")
	if c.lang != "" {
		params.Set("lang", c.lang)
	}

	return c.fetch(ctx, query{
		kind:   "activity",
		path:   "/api/comment",
		params: params,
		parser: func(Endpoint) normalize.Parser { return normalize.Auto{Key: activityKey} },
	})
}

type query struct {
	kind   string
	path   string
	params url.Values
	ids    []string
	parser func(Endpoint) normalize.Parser
}

// fetch walks the endpoints in order. A parse failure moves straight to the
// next endpoint; network failures are retried first.
func (c *Client) fetch(ctx context.Context, q query) ([]normalize.Record, error) {
	requestID := uuid.NewString()
	logger := c.logger.With(
		zap.String("kind", q.kind),
		zap.String("request_id", requestID),
	)

	var (
		lastErr    error
		unparsable bool
	)
	for _, ep := range c.endpoints {
		target := ep.BaseURL + q.path + "?" + q.params.Encode()

		records, err := c.fetchEndpoint(ctx, ep, target, requestID, q, logger)
		if err == nil {
			return records, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		var perr *ParseError
		if errors.As(err, &perr) {
			unparsable = true
			c.collector.IncCounter(stats.MetricParseErrors, 1)
			logger.Warn("unparseable response, trying next endpoint",
				zap.String("endpoint", ep.Name),
				zap.Error(err),
			)
			continue
		}

		lastErr = err
		logger.Warn("endpoint exhausted",
			zap.String("endpoint", ep.Name),
			zap.Error(err),
		)
	}

	if unparsable {
		return nil, nil
	}
	c.collector.IncCounter(stats.MetricSourcesExhausted, 1)
	return nil, fmt.Errorf("%w: %w", ErrAllSourcesExhausted, lastErr)
}

// fetchEndpoint makes up to maxAttempts attempts against one endpoint. The
// delay before attempt n is baseDelay*(n-1).
func (c *Client) fetchEndpoint(ctx context.Context, ep Endpoint, target, requestID string, q query, logger *zap.Logger) ([]normalize.Record, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.clock.Sleep(ctx, c.baseDelay*time.Duration(attempt-1)); err != nil {
				return nil, err
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		body, err := c.attempt(ctx, ep, target, requestID, attempt)
		if err != nil {
			lastErr = err
			c.collector.IncCounter(stats.MetricFetchFailures, 1)
			logger.Debug("attempt failed",
				zap.String("endpoint", ep.Name),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		records, err := q.parser(ep).Parse(body, q.ids)
		if err != nil {
			return nil, &ParseError{Endpoint: ep.Name, Err: err}
		}
		logger.Debug("fetched",
			zap.String("endpoint", ep.Name),
			zap.Int("attempt", attempt),
			zap.Int("records", len(records)),
		)
		return records, nil
	}
	return nil, lastErr
}

// attempt performs one request under its own deadline.
func (c *Client) attempt(ctx context.Context, ep Endpoint, target, requestID string, n int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	c.collector.IncCounter(stats.MetricFetchAttempts, 1)
	start := time.Now()
	defer func() {
		c.collector.ObserveHistogram(stats.MetricFetchSeconds, time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &NetworkError{Endpoint: ep.Name, Attempt: n, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Endpoint: ep.Name, Attempt: n, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return nil, &NetworkError{
			Endpoint:   ep.Name,
			Attempt:    n,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: %s", resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &NetworkError{Endpoint: ep.Name, Attempt: n, Err: fmt.Errorf("reading body: %w", err)}
	}
	return body, nil
}
