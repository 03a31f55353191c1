// Package sitestats computes site-wide visitor statistics for a static blog
// from Waline-compatible comment services.
//
// Example usage:
//
//	client, err := sitestats.New(
//	    sitestats.WithStore(memstore.New()),
//	    sitestats.WithServerURL("https://comments.example.com"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	res, err := client.Refresh(ctx, sitestats.Page{URL: pageURL, HTML: html})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Pageviews: %d\n", res.Total)
package sitestats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/walinekit/sitestats/internal/aggregate"
	"github.com/walinekit/sitestats/internal/cachestore"
	"github.com/walinekit/sitestats/internal/normalize"
	"github.com/walinekit/sitestats/internal/pathset"
	"github.com/walinekit/sitestats/internal/remote"
	"github.com/walinekit/sitestats/internal/stats"
	"github.com/walinekit/sitestats/internal/store"
)

// Sentinel errors for well-defined error conditions.
var (
	// ErrClosed indicates the client has been closed.
	ErrClosed = errors.New("sitestats: client closed")

	// ErrNoStore indicates no store was provided.
	ErrNoStore = errors.New("sitestats: no store provided")

	// ErrNoEndpoints indicates no remote endpoint was configured.
	ErrNoEndpoints = errors.New("sitestats: no endpoints configured")

	// ErrAllSourcesExhausted indicates every endpoint failed with network
	// errors after all retries.
	ErrAllSourcesExhausted = remote.ErrAllSourcesExhausted
)

// Endpoint describes one pageview service.
type Endpoint = remote.Endpoint

// Parser normalizes an endpoint's article response.
type Parser = normalize.Parser

// NewParser returns the named response parser: "auto", "array", "map" or
// "scalar".
func NewParser(name string) (Parser, error) {
	return normalize.NewParser(name, "")
}

// Page is the rendered page a refresh runs against.
type Page struct {
	// URL is the page's address; its path is always counted.
	URL string

	// HTML is the page markup scanned for article identifiers.
	HTML string
}

// Result is the outcome of a refresh.
type Result struct {
	// Total is the aggregated count.
	Total int64

	// FromCache reports whether Total came from a fresh cache entry.
	FromCache bool

	// Paths are the identifiers queried. Empty for cached results.
	Paths []string
}

// Client aggregates visitor statistics with a persisted TTL cache.
// A Client is safe for concurrent use by multiple goroutines.
type Client struct {
	store     store.Store
	cache     *cachestore.Cache
	remote    *remote.Client
	collector *pathset.Collector
	cacheKey  string
	group     singleflight.Group
	mergeMu   sync.Mutex
	stats     stats.Collector
	logger    *zap.Logger
	closed    atomic.Bool
}

// New creates a new Client with the given options. A store and at least one
// endpoint are required.
func New(opts ...Option) (*Client, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt.apply(&cfg)
	}

	if cfg.store == nil {
		return nil, ErrNoStore
	}
	if len(cfg.endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	remoteOpts := []remote.Option{
		remote.WithMaxAttempts(cfg.maxAttempts),
		remote.WithBaseDelay(cfg.retryDelay),
		remote.WithAttemptTimeout(cfg.attemptTimeout),
		remote.WithSelector(cfg.selector),
		remote.WithLang(cfg.lang),
		remote.WithHTTPClient(cfg.httpClient),
		remote.WithClock(cfg.clock),
		remote.WithStats(cfg.stats),
		remote.WithLogger(cfg.logger.Named("remote")),
	}
	if cfg.rateLimit > 0 {
		burst := cfg.rateBurst
		if burst < 1 {
			burst = 1
		}
		remoteOpts = append(remoteOpts, remote.WithRateLimit(rate.NewLimiter(rate.Limit(cfg.rateLimit), burst)))
	}
	rc, err := remote.New(cfg.endpoints, remoteOpts...)
	if err != nil {
		return nil, fmt.Errorf("configuring endpoints: %w", err)
	}

	pathOpts := []pathset.Option{pathset.WithSelector(cfg.markerSelector, cfg.markerAttribute)}
	if cfg.pathPrefixes != nil {
		pathOpts = append(pathOpts, pathset.WithPrefixes(cfg.pathPrefixes...))
	}

	c := &Client{
		store: cfg.store,
		cache: cachestore.New(cfg.store,
			cachestore.WithTTL(cfg.ttl),
			cachestore.WithClock(cfg.clock),
			cachestore.WithStats(cfg.stats),
			cachestore.WithLogger(cfg.logger.Named("cache")),
		),
		remote:    rc,
		collector: pathset.New(pathOpts...),
		cacheKey:  cfg.cacheKey,
		stats:     cfg.stats,
		logger:    cfg.logger,
	}

	c.logger.Debug("client initialized",
		zap.String("cacheKey", c.cacheKey),
		zap.Duration("ttl", c.cache.TTL()),
		zap.Int("endpoints", len(cfg.endpoints)),
	)

	return c, nil
}

// Refresh returns the site-wide pageview total. A fresh cached total is
// returned without any network traffic; otherwise the identifiers on page are
// queried, summed and written back to the cache. Concurrent calls share one
// refresh.
func (c *Client) Refresh(ctx context.Context, page Page) (Result, error) {
	if c.closed.Load() {
		return Result{}, ErrClosed
	}
	c.stats.IncCounter(stats.MetricRefreshes, 1)

	return c.shared(ctx, c.cacheKey+":pv", func(ctx context.Context) (Result, error) {
		return c.refreshTotals(ctx, page)
	})
}

// RefreshActivity returns the site-wide comment count, used as the unique
// visitor figure. It shares the cache entry with Refresh.
func (c *Client) RefreshActivity(ctx context.Context) (Result, error) {
	if c.closed.Load() {
		return Result{}, ErrClosed
	}
	c.stats.IncCounter(stats.MetricRefreshes, 1)

	return c.shared(ctx, c.cacheKey+":uv", c.refreshActivity)
}

// Breakdown returns the uncached pageview count of every identifier on page.
// A service that answers with a single total reports it under "*".
func (c *Client) Breakdown(ctx context.Context, page Page) (map[string]int64, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	paths := c.collector.Collect(page.URL, page.HTML)
	records, err := c.remote.FetchTotals(ctx, paths)
	if err != nil {
		return nil, fmt.Errorf("fetching totals: %w", err)
	}

	grouped := make(map[string][]normalize.Record, len(paths))
	for _, r := range records {
		grouped[r.ID] = append(grouped[r.ID], r)
	}
	counts := make(map[string]int64, len(grouped))
	for id, rs := range grouped {
		counts[id] = aggregate.Sum(rs)
	}
	return counts, nil
}

// ClearCache deletes the cached statistics.
func (c *Client) ClearCache(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.cache.Clear(ctx, c.cacheKey); err != nil {
		return err
	}
	c.logger.Info("cache cleared", zap.String("cacheKey", c.cacheKey))
	return nil
}

// Cached returns the counters held in a fresh cache entry without any
// network traffic. It does not count towards the cache metrics and leaves
// expired entries for the next refresh. Absent counters are nil.
func (c *Client) Cached(ctx context.Context) (pv, uv *int64) {
	if c.closed.Load() {
		return nil, nil
	}
	snap, ok := c.cache.Peek(ctx, c.cacheKey)
	if !ok {
		return nil, nil
	}
	if snap.UV != nil {
		n := int64(*snap.UV)
		uv = &n
	}
	return snap.PV, uv
}

// CacheKey returns the key the statistics are cached under.
func (c *Client) CacheKey() string {
	return c.cacheKey
}

// Close releases all resources associated with the client.
// After Close, the client should not be used.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	if err := c.store.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	return nil
}

func (c *Client) refreshTotals(ctx context.Context, page Page) (Result, error) {
	if snap, ok := c.cache.Get(ctx, c.cacheKey); ok && snap.PV != nil {
		c.logger.Debug("pageviews served from cache", zap.Int64("total", *snap.PV))
		return Result{Total: *snap.PV, FromCache: true}, nil
	}

	paths := c.collector.Collect(page.URL, page.HTML)
	c.stats.SetGauge(stats.MetricPathsCollected, int64(len(paths)))

	records, err := c.remote.FetchTotals(ctx, paths)
	if err != nil {
		c.logger.Warn("fetching pageviews", zap.Int("paths", len(paths)), zap.Error(err))
		return Result{Paths: paths}, fmt.Errorf("fetching totals: %w", err)
	}

	total := aggregate.Sum(records)
	c.stats.SetGauge(stats.MetricTotalPageviews, total)
	c.merge(ctx, func(s *cachestore.Snapshot) { s.PV = &total })

	c.logger.Debug("pageviews refreshed",
		zap.Int("paths", len(paths)),
		zap.Int("records", len(records)),
		zap.Int64("total", total),
	)
	return Result{Total: total, Paths: paths}, nil
}

func (c *Client) refreshActivity(ctx context.Context) (Result, error) {
	if snap, ok := c.cache.Get(ctx, c.cacheKey); ok && snap.UV != nil {
		return Result{Total: int64(*snap.UV), FromCache: true}, nil
	}

	records, err := c.remote.FetchActivity(ctx)
	if err != nil {
		c.logger.Warn("fetching activity", zap.Error(err))
		return Result{}, fmt.Errorf("fetching activity: %w", err)
	}

	total := aggregate.Sum(records)
	uv := cachestore.Count(total)
	c.merge(ctx, func(s *cachestore.Snapshot) { s.UV = &uv })

	return Result{Total: total}, nil
}

// shared runs fn once per key for all concurrent callers. fn ignores the
// cancellation of whichever caller started it; each caller returns as soon as
// its own ctx is done.
func (c *Client) shared(ctx context.Context, key string, fn func(context.Context) (Result, error)) (Result, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return fn(detached)
	})

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-ch:
		r, _ := res.Val.(Result)
		return r, res.Err
	}
}

// merge rewrites the cache entry, keeping whichever counter update leaves
// untouched from the current fresh entry.
func (c *Client) merge(ctx context.Context, update func(*cachestore.Snapshot)) {
	c.mergeMu.Lock()
	defer c.mergeMu.Unlock()

	snap, _ := c.cache.Get(ctx, c.cacheKey)
	update(&snap)
	c.cache.Set(ctx, c.cacheKey, snap)
}
