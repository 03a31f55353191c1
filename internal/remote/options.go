package remote

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/walinekit/sitestats/internal/clock"
	"github.com/walinekit/sitestats/internal/stats"
)

// Option configures a Client.
type Option interface {
	apply(*Client)
}

type optionFunc func(*Client)

// Compile-time check that optionFunc implements Option.
var _ Option = optionFunc(nil)

func (f optionFunc) apply(c *Client) { f(c) }

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return optionFunc(func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	})
}

// WithMaxAttempts sets the number of attempts per endpoint, including the
// first. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return optionFunc(func(c *Client) {
		if n >= 1 {
			c.maxAttempts = n
		}
	})
}

// WithBaseDelay sets the retry delay unit.
func WithBaseDelay(d time.Duration) Option {
	return optionFunc(func(c *Client) {
		if d >= 0 {
			c.baseDelay = d
		}
	})
}

// WithAttemptTimeout bounds each individual request.
func WithAttemptTimeout(d time.Duration) Option {
	return optionFunc(func(c *Client) {
		if d > 0 {
			c.attemptTimeout = d
		}
	})
}

// WithSelector sets the article counter requested with type=.
func WithSelector(s string) Option {
	return optionFunc(func(c *Client) {
		if s != "" {
			c.selector = s
		}
	})
}

// WithLang sets the lang parameter of activity queries.
func WithLang(lang string) Option {
	return optionFunc(func(c *Client) {
		c.lang = lang
	})
}

// WithRateLimit throttles outgoing requests. Nil disables throttling.
func WithRateLimit(l *rate.Limiter) Option {
	return optionFunc(func(c *Client) {
		c.limiter = l
	})
}

// WithClock sets the clock used for retry delays.
func WithClock(clk clock.Clock) Option {
	return optionFunc(func(c *Client) {
		c.clock = clk
	})
}

// WithStats sets the stats collector.
func WithStats(s stats.Collector) Option {
	return optionFunc(func(c *Client) {
		c.collector = s
	})
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *Client) {
		c.logger = l
	})
}
