package sitestats

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/walinekit/sitestats/internal/cachestore"
	"github.com/walinekit/sitestats/internal/clock"
	"github.com/walinekit/sitestats/internal/codec/noopcodec"
	"github.com/walinekit/sitestats/internal/pathset"
	"github.com/walinekit/sitestats/internal/remote"
	"github.com/walinekit/sitestats/internal/stats"
	"github.com/walinekit/sitestats/internal/store"
	"github.com/walinekit/sitestats/internal/store/diskstore"
)

// DefaultCacheKey is the key the statistics are cached under.
const DefaultCacheKey = "waline_global_stats"

// Option configures a Client.
type Option interface {
	apply(*options)
}

// options holds the client configuration.
type options struct {
	store           store.Store
	endpoints       []Endpoint
	cacheKey        string
	ttl             time.Duration
	maxAttempts     int
	retryDelay      time.Duration
	attemptTimeout  time.Duration
	selector        string
	lang            string
	httpClient      *http.Client
	rateLimit       float64
	rateBurst       int
	pathPrefixes    []string
	markerSelector  string
	markerAttribute string
	clock           clock.Clock
	stats           stats.Collector
	logger          *zap.Logger
}

// defaultOptions returns the default configuration.
func defaultOptions() options {
	return options{
		cacheKey:        DefaultCacheKey,
		ttl:             cachestore.DefaultTTL,
		maxAttempts:     remote.DefaultMaxAttempts,
		retryDelay:      remote.DefaultBaseDelay,
		attemptTimeout:  remote.DefaultAttemptTimeout,
		selector:        remote.DefaultSelector,
		markerSelector:  pathset.DefaultSelector,
		markerAttribute: pathset.DefaultAttribute,
		clock:           clock.New(),
		stats:           stats.NewNoop(),
		logger:          zap.NewNop(),
	}
}

// optionFunc wraps a function to implement Option.
type optionFunc func(*options)

// Compile-time check that optionFunc implements Option.
var _ Option = optionFunc(nil)

func (f optionFunc) apply(o *options) { f(o) }

// WithStore sets the storage backend holding the cache entry.
func WithStore(s store.Store) Option {
	return optionFunc(func(o *options) {
		o.store = s
	})
}

// WithEndpoint adds a pageview service. Endpoints are consulted by ascending
// priority, in the order added for equal priorities.
func WithEndpoint(e Endpoint) Option {
	return optionFunc(func(o *options) {
		o.endpoints = append(o.endpoints, e)
	})
}

// WithServerURL adds a service at baseURL with the automatic parser.
func WithServerURL(baseURL string) Option {
	return WithEndpoint(Endpoint{Name: "default", BaseURL: baseURL})
}

// WithCacheKey sets the key the statistics are cached under.
// Default is "waline_global_stats".
func WithCacheKey(key string) Option {
	return optionFunc(func(o *options) {
		if key != "" {
			o.cacheKey = key
		}
	})
}

// WithTTL sets how long cached statistics stay valid.
// Default is 5 minutes.
func WithTTL(ttl time.Duration) Option {
	return optionFunc(func(o *options) {
		o.ttl = ttl
	})
}

// WithMaxAttempts sets the attempts made against each endpoint.
// Default is 3.
func WithMaxAttempts(n int) Option {
	return optionFunc(func(o *options) {
		o.maxAttempts = n
	})
}

// WithRetryDelay sets the delay unit between attempts; attempt n waits
// (n-1) times this. Default is 1 second.
func WithRetryDelay(d time.Duration) Option {
	return optionFunc(func(o *options) {
		o.retryDelay = d
	})
}

// WithAttemptTimeout bounds each request. Default is 10 seconds.
func WithAttemptTimeout(d time.Duration) Option {
	return optionFunc(func(o *options) {
		o.attemptTimeout = d
	})
}

// WithSelector sets the article counter requested from the service.
// Default is "time".
func WithSelector(s string) Option {
	return optionFunc(func(o *options) {
		o.selector = s
	})
}

// WithLang sets the lang parameter of activity queries.
func WithLang(lang string) Option {
	return optionFunc(func(o *options) {
		o.lang = lang
	})
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return optionFunc(func(o *options) {
		o.httpClient = hc
	})
}

// WithRateLimit limits outgoing requests to rps per second with the given
// burst. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return optionFunc(func(o *options) {
		o.rateLimit = rps
		o.rateBurst = burst
	})
}

// WithPathPrefixes sets the link fragments that mark article links.
// Default is "/posts/" and "/archives/".
func WithPathPrefixes(prefixes ...string) Option {
	return optionFunc(func(o *options) {
		o.pathPrefixes = prefixes
	})
}

// WithMarker sets the selector of counter elements and the attribute naming
// their identifier.
func WithMarker(selector, attribute string) Option {
	return optionFunc(func(o *options) {
		o.markerSelector = selector
		o.markerAttribute = attribute
	})
}

// WithClock sets the time source for TTL checks and retry delays.
func WithClock(c clock.Clock) Option {
	return optionFunc(func(o *options) {
		o.clock = c
	})
}

// WithStats sets the stats collector.
// If not set, a no-op collector is used.
func WithStats(c stats.Collector) Option {
	return optionFunc(func(o *options) {
		o.stats = c
	})
}

// WithLogger sets the logger.
// If not set, a no-op logger is used.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = l
	})
}

// WithDataDir stores the cache as plain JSON records under dir.
func WithDataDir(dir string) (Option, error) {
	st, err := diskstore.New(dir, noopcodec.New())
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	return optionFunc(func(o *options) {
		o.store = st
	}), nil
}
