// Package pathset collects the article identifiers referenced by a page.
package pathset

import (
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Root is the identifier of the site root. It is part of every result.
const Root = "/"

// Default scan settings.
const (
	DefaultSelector  = ".waline-pageview-count"
	DefaultAttribute = "data-path"
)

// DefaultPrefixes are the link path fragments that mark article pages.
var DefaultPrefixes = []string{"/posts/", "/archives/"}

// Collector extracts identifiers from HTML. The zero value is not usable; use
// New.
type Collector struct {
	prefixes  []string
	selector  string
	attribute string
}

// Option configures a Collector.
type Option interface {
	apply(*Collector)
}

type optionFunc func(*Collector)

// Compile-time check that optionFunc implements Option.
var _ Option = optionFunc(nil)

func (f optionFunc) apply(c *Collector) { f(c) }

// WithPrefixes replaces the link fragments that identify article links.
func WithPrefixes(prefixes ...string) Option {
	return optionFunc(func(c *Collector) {
		c.prefixes = append([]string(nil), prefixes...)
	})
}

// WithSelector sets the CSS selector of counter elements and the attribute
// holding their identifier.
func WithSelector(selector, attribute string) Option {
	return optionFunc(func(c *Collector) {
		if selector != "" {
			c.selector = selector
		}
		if attribute != "" {
			c.attribute = attribute
		}
	})
}

// New returns a Collector with the default settings.
func New(opts ...Option) *Collector {
	c := &Collector{
		prefixes:  DefaultPrefixes,
		selector:  DefaultSelector,
		attribute: DefaultAttribute,
	}
	for _, opt := range opts {
		opt.apply(c)
	}
	return c
}

// Collect returns the sorted, deduplicated identifiers found in html. The
// page's own path and Root are always included. Malformed input only reduces
// what is found.
func (c *Collector) Collect(pageURL, html string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		base = &url.URL{Path: Root}
	}

	set := map[string]struct{}{Root: {}}
	if base.Path != "" {
		set[base.Path] = struct{}{}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		c.scanLinks(doc, base, set)
		c.scanCounters(doc, set)
	}

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Collector) scanLinks(doc *goquery.Document, base *url.URL, set map[string]struct{}) {
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !c.isArticle(href) {
			return
		}
		link, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		path := base.ResolveReference(link).Path
		if path == "" || path == Root {
			return
		}
		set[path] = struct{}{}
	})
}

func (c *Collector) scanCounters(doc *goquery.Document, set map[string]struct{}) {
	doc.Find(c.selector).Each(func(_ int, s *goquery.Selection) {
		id, ok := s.Attr(c.attribute)
		id = strings.TrimSpace(id)
		if !ok || id == "" || id == Root {
			return
		}
		set[id] = struct{}{}
	})
}

func (c *Collector) isArticle(href string) bool {
	for _, p := range c.prefixes {
		if strings.Contains(href, p) {
			return true
		}
	}
	return false
}
