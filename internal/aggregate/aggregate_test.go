package aggregate

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/walinekit/sitestats/internal/normalize"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want int64
	}{
		{"int", 3, 3},
		{"json integer", json.Number("42"), 42},
		{"json float truncated", json.Number("4.9"), 4},
		{"float truncated", 7.99, 7},
		{"numeric string", "12", 12},
		{"padded string", " 12 ", 12},
		{"float string", "3.5", 3},
		{"negative", -5, 0},
		{"negative json", json.Number("-1.5"), 0},
		{"nan", math.NaN(), 0},
		{"inf", math.Inf(1), 0},
		{"negative inf", math.Inf(-1), 0},
		{"infinity string", "Infinity", 0},
		{"inf string", "+Inf", 0},
		{"json overflow", json.Number("1e400"), 0},
		{"huge float", 1e300, math.MaxInt64},
		{"nil", nil, 0},
		{"bool", true, 0},
		{"word", "many", 0},
		{"object", map[string]any{"time": 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Coerce(tt.in); got != tt.want {
				t.Errorf("Coerce(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestSum(t *testing.T) {
	records := []normalize.Record{
		{ID: "/a", Value: json.Number("3")},
		{ID: "/b", Value: json.Number("5")},
		{ID: "/c", Value: nil},
		{ID: "/d", Value: "oops"},
	}
	if got := Sum(records); got != 8 {
		t.Errorf("Sum() = %d, want 8", got)
	}

	reversed := make([]normalize.Record, len(records))
	for i, r := range records {
		reversed[len(records)-1-i] = r
	}
	if got := Sum(reversed); got != 8 {
		t.Errorf("Sum(reversed) = %d, want 8", got)
	}

	if got := Sum(nil); got != 0 {
		t.Errorf("Sum(nil) = %d, want 0", got)
	}
}

func TestSum_Saturates(t *testing.T) {
	records := []normalize.Record{
		{Value: int64(math.MaxInt64)},
		{Value: 1},
	}
	if got := Sum(records); got != math.MaxInt64 {
		t.Errorf("Sum() = %d, want MaxInt64", got)
	}
}

func TestSum_EquivalentShapes(t *testing.T) {
	ids := []string{"/a", "/b"}
	bodies := []string{
		`[{"time":3},{"time":5}]`,
		`{"data":{"/a":3,"/b":5}}`,
		`8`,
	}

	for _, body := range bodies {
		records, err := normalize.Auto{}.Parse([]byte(body), ids)
		if err != nil {
			t.Fatalf("Parse(%s) error = %v", body, err)
		}
		if got := Sum(records); got != 8 {
			t.Errorf("Sum(%s) = %d, want 8", body, got)
		}
	}
}

func TestSum_NonFiniteArrayItem(t *testing.T) {
	records, err := normalize.Auto{}.Parse([]byte(`[3,"Infinity"]`), []string{"/a", "/b"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := Sum(records); got != 3 {
		t.Errorf("Sum() = %d, want 3", got)
	}
}
