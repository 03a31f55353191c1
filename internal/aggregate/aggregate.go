// Package aggregate reduces normalized records to a single non-negative
// total.
package aggregate

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/walinekit/sitestats/internal/normalize"
)

// Coerce converts a raw record value to a count. Numbers are truncated toward
// zero and numeric strings are parsed. Anything negative, non-finite or
// non-numeric counts as zero.
func Coerce(v any) int64 {
	var f float64
	switch t := v.(type) {
	case int:
		return clamp(int64(t))
	case int64:
		return clamp(t)
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return clamp(n)
		}
		parsed, err := t.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case float64:
		f = t
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return clamp(n)
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}

	switch {
	case math.IsNaN(f), math.IsInf(f, 0), f <= 0:
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	default:
		return int64(f)
	}
}

func clamp(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

// Sum adds the coerced value of every record, saturating at math.MaxInt64.
func Sum(records []normalize.Record) int64 {
	var total int64
	for _, r := range records {
		n := Coerce(r.Value)
		if total > math.MaxInt64-n {
			return math.MaxInt64
		}
		total += n
	}
	return total
}
