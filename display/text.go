package display

import (
	"fmt"
	"io"
	"sync"
)

// TextWriter serializes the output of several TextRenderers sharing one
// io.Writer.
type TextWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTextWriter returns a TextWriter writing to w.
func NewTextWriter(w io.Writer) *TextWriter {
	return &TextWriter{w: w}
}

// Renderer returns a widget writing "label: value" lines.
func (tw *TextWriter) Renderer(label string) *TextRenderer {
	return &TextRenderer{out: tw, label: label}
}

func (tw *TextWriter) printf(format string, args ...any) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	fmt.Fprintf(tw.w, format, args...)
}

// TextRenderer is a line-oriented Renderer.
type TextRenderer struct {
	out   *TextWriter
	label string
}

// Compile-time check that TextRenderer implements Renderer.
var _ Renderer = (*TextRenderer)(nil)

// SetLoading is a no-op; text output has no transient state.
func (r *TextRenderer) SetLoading() {}

func (r *TextRenderer) SetTotal(n int64) {
	r.out.printf("%s: %d\n", r.label, n)
}

func (r *TextRenderer) SetFailure(reason string) {
	if reason == "" {
		r.out.printf("%s: %s\n", r.label, Failure)
		return
	}
	r.out.printf("%s: %s (%s)\n", r.label, Failure, reason)
}
