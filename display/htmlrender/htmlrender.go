// Package htmlrender renders statistic widgets into an HTML document.
package htmlrender

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/walinekit/sitestats/display"
)

// Widget element ids.
const (
	PageviewsID = "waline-site-pv"
	ActivityID  = "waline-site-uv"
)

// loadingHTML is the spinner shown while a value is being fetched.
const loadingHTML = `<i class="fa-solid fa-spinner fa-spin"></i>`

// Document is a parsed page whose widget elements can be patched
// concurrently.
type Document struct {
	mu  sync.Mutex
	doc *goquery.Document
}

// Parse parses html into a Document.
func Parse(r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}
	return &Document{doc: doc}, nil
}

// ParseString parses an HTML string into a Document.
func ParseString(html string) (*Document, error) {
	return Parse(strings.NewReader(html))
}

// Present reports whether an element with the given id exists.
func (d *Document) Present(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.find(id).Length() > 0
}

// Element returns a Renderer for the element with the given id, or nil when
// the page has no such element.
func (d *Document) Element(id string) *Element {
	if !d.Present(id) {
		return nil
	}
	return &Element{doc: d, id: id}
}

// Text returns the text of the element with the given id.
func (d *Document) Text(id string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.find(id).Text()
}

// Attr returns an attribute of the element with the given id.
func (d *Document) Attr(id, name string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.find(id).Attr(name)
}

// Render writes the whole document as HTML.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	html, err := d.doc.Html()
	d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("rendering html: %w", err)
	}
	_, err = io.WriteString(w, html)
	return err
}

func (d *Document) find(id string) *goquery.Selection {
	return d.doc.Find("#" + id).First()
}

func (d *Document) patch(id string, fn func(*goquery.Selection)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.find(id))
}

// Element is a widget element inside a Document.
type Element struct {
	doc *Document
	id  string
}

// Compile-time check that Element implements display.Renderer.
var _ display.Renderer = (*Element)(nil)

func (e *Element) SetLoading() {
	e.doc.patch(e.id, func(s *goquery.Selection) {
		s.SetHtml(loadingHTML)
	})
}

func (e *Element) SetTotal(n int64) {
	e.doc.patch(e.id, func(s *goquery.Selection) {
		s.SetText(strconv.FormatInt(n, 10))
		s.RemoveAttr("title")
	})
}

func (e *Element) SetFailure(reason string) {
	e.doc.patch(e.id, func(s *goquery.Selection) {
		s.SetText(display.Failure)
		if reason != "" {
			s.SetAttr("title", reason)
		}
	})
}

// Widgets returns the updater options for whichever widgets doc contains.
func Widgets(doc *Document) []display.Option {
	var opts []display.Option
	if el := doc.Element(PageviewsID); el != nil {
		opts = append(opts, display.WithPageviews(el))
	}
	if el := doc.Element(ActivityID); el != nil {
		opts = append(opts, display.WithActivity(el))
	}
	return opts
}
