// Package report summarizes the per-path distribution of pageviews.
package report

import (
	"fmt"
	"io"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// DefaultTop is how many paths WriteMarkdown lists.
const DefaultTop = 10

// Entry is one path and its pageview count.
type Entry struct {
	Path  string `json:"path"`
	Count int64  `json:"count"`
}

// Summary describes the distribution of counts across paths.
type Summary struct {
	Paths  int     `json:"paths"`
	Total  int64   `json:"total"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Median float64 `json:"median"`
	P90    float64 `json:"p90"`
	Min    int64   `json:"min"`
	Max    int64   `json:"max"`

	// Top lists entries by descending count, ties broken by path.
	Top []Entry `json:"top"`
}

// Summarize computes a Summary over counts, keeping at most top entries in
// Summary.Top. A non-positive top keeps all of them.
func Summarize(counts map[string]int64, top int) Summary {
	entries := make([]Entry, 0, len(counts))
	for path, n := range counts {
		entries = append(entries, Entry{Path: path, Count: n})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Path < entries[j].Path
	})

	s := Summary{Paths: len(entries)}
	if len(entries) == 0 {
		return s
	}

	values := make([]float64, len(entries))
	for i, e := range entries {
		values[i] = float64(e.Count)
		if s.Total > math.MaxInt64-e.Count {
			s.Total = math.MaxInt64
		} else {
			s.Total += e.Count
		}
	}
	s.Max = entries[0].Count
	s.Min = entries[len(entries)-1].Count

	s.Mean = stat.Mean(values, nil)
	if len(values) > 1 {
		s.StdDev = stat.StdDev(values, nil)
	}

	// stat.Quantile needs ascending input.
	sort.Float64s(values)
	s.Median = stat.Quantile(0.5, stat.Empirical, values, nil)
	s.P90 = stat.Quantile(0.9, stat.Empirical, values, nil)

	if top > 0 && top < len(entries) {
		entries = entries[:top]
	}
	s.Top = entries
	return s
}

// WriteMarkdown renders s as a Markdown section.
func WriteMarkdown(w io.Writer, s Summary) error {
	ew := &errWriter{w: w}
	ew.printf("## Pageviews\n\n")
	ew.printf("- **Paths:** %d\n", s.Paths)
	ew.printf("- **Total:** %d\n\n", s.Total)
	if s.Paths == 0 {
		return ew.err
	}

	ew.printf("| Metric | Value |\n")
	ew.printf("|--------|-------|\n")
	ew.printf("| Mean | %.2f |\n", s.Mean)
	ew.printf("| Std Dev | %.2f |\n", s.StdDev)
	ew.printf("| Median | %.0f |\n", s.Median)
	ew.printf("| P90 | %.0f |\n", s.P90)
	ew.printf("| Min | %d |\n", s.Min)
	ew.printf("| Max | %d |\n\n", s.Max)

	ew.printf("### Top paths\n\n")
	ew.printf("| Path | Views |\n")
	ew.printf("|------|-------|\n")
	for _, e := range s.Top {
		ew.printf("| %s | %d |\n", e.Path, e.Count)
	}
	return ew.err
}

type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
