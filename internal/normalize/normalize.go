// Package normalize turns the response bodies of pageview services into a
// uniform list of records, whatever shape the service chose to answer in.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ScalarID is the identifier given to a record that represents a site-wide
// total rather than a single page.
const ScalarID = "*"

// DefaultKey is the field that carries the pageview count in article records.
const DefaultKey = "time"

// Record is one identifier's raw contribution. Value is whatever the service
// sent (json.Number, string, nil, ...); coercion to a count happens later.
type Record struct {
	ID    string
	Value any
}

// Shape names the response layout a parser recognised or rejected.
type Shape string

const (
	ShapeArray  Shape = "array"
	ShapeMap    Shape = "map"
	ShapeScalar Shape = "scalar"
	ShapeObject Shape = "object"
)

// ErrUnrecognized is wrapped by every ParseError.
var ErrUnrecognized = errors.New("normalize: unrecognized response shape")

// ParseError reports a body whose shape could not be normalized.
type ParseError struct {
	Shape Shape
	Err   error
}

func (e *ParseError) Error() string {
	if e.Shape == "" {
		return fmt.Sprintf("%v: %v", ErrUnrecognized, e.Err)
	}
	return fmt.Sprintf("%v (%s): %v", ErrUnrecognized, e.Shape, e.Err)
}

func (e *ParseError) Is(target error) bool { return target == ErrUnrecognized }

func (e *ParseError) Unwrap() error { return e.Err }

// Parser converts a response body into records. ids is the identifier list the
// request was made for, in request order.
type Parser interface {
	Parse(body []byte, ids []string) ([]Record, error)
}

// Auto detects the shape of the body. If Only is set, any other shape is
// rejected with a ParseError.
type Auto struct {
	// Key is the semantic field name to prefer inside record objects.
	Key string

	// Only restricts the accepted shape; empty accepts all.
	Only Shape
}

// Compile-time check that Auto implements Parser.
var _ Parser = Auto{}

// NewParser returns the parser registered under name: "auto", "array", "map"
// or "scalar". An empty key means DefaultKey.
func NewParser(name, key string) (Parser, error) {
	if key == "" {
		key = DefaultKey
	}
	switch name {
	case "", "auto":
		return Auto{Key: key}, nil
	case "array":
		return Auto{Key: key, Only: ShapeArray}, nil
	case "map":
		return Auto{Key: key, Only: ShapeMap}, nil
	case "scalar":
		return Auto{Key: key, Only: ShapeScalar}, nil
	default:
		return nil, fmt.Errorf("unknown parser: %s", name)
	}
}

// Parse implements Parser.
func (a Auto) Parse(body []byte, ids []string) ([]Record, error) {
	v, err := decode(body)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	v = unwrapEnvelope(v)

	shape, records, err := a.normalize(v, ids)
	if err != nil {
		return nil, err
	}
	if a.Only != "" && shape != a.Only {
		return nil, &ParseError{Shape: shape, Err: fmt.Errorf("expected %s", a.Only)}
	}
	return records, nil
}

func (a Auto) key() string {
	if a.Key == "" {
		return DefaultKey
	}
	return a.Key
}

func (a Auto) normalize(v any, ids []string) (Shape, []Record, error) {
	switch t := v.(type) {
	case []any:
		return ShapeArray, a.fromArray(t, ids), nil

	case map[string]any:
		if isMapping(t, ids) {
			return ShapeMap, a.fromMapping(t), nil
		}
		if msg, ok := serverError(t); ok {
			return ShapeObject, nil, &ParseError{Shape: ShapeObject, Err: fmt.Errorf("server error: %s", msg)}
		}
		value, ok := match(t, a.key())
		if !ok {
			return ShapeObject, nil, &ParseError{Shape: ShapeObject, Err: fmt.Errorf("object has no %q field", a.key())}
		}
		return ShapeScalar, []Record{{ID: scalarID(ids), Value: value}}, nil

	case json.Number:
		return ShapeScalar, []Record{{ID: ScalarID, Value: t}}, nil

	case string:
		if _, ok := Numeric(t); !ok {
			return ShapeScalar, nil, &ParseError{Shape: ShapeScalar, Err: fmt.Errorf("non-numeric string %q", t)}
		}
		return ShapeScalar, []Record{{ID: ScalarID, Value: t}}, nil

	case nil:
		return "", nil, &ParseError{Err: errors.New("null body")}

	default:
		return "", nil, &ParseError{Err: fmt.Errorf("unexpected %T", v)}
	}
}

// fromArray pairs element i with ids[i]. Elements that name their own path
// or url keep that identifier instead.
func (a Auto) fromArray(items []any, ids []string) []Record {
	records := make([]Record, 0, len(items))
	for i, item := range items {
		id := ""
		if i < len(ids) {
			id = ids[i]
		}
		var value any = item
		if obj, ok := item.(map[string]any); ok {
			if own := ownID(obj); own != "" {
				id = own
			}
			value, _ = Pick(obj, a.key())
		}
		records = append(records, Record{ID: id, Value: value})
	}
	return records
}

func (a Auto) fromMapping(m map[string]any) []Record {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	records := make([]Record, 0, len(m))
	for _, k := range keys {
		var value any = m[k]
		if obj, ok := value.(map[string]any); ok {
			value, _ = Pick(obj, a.key())
		}
		records = append(records, Record{ID: k, Value: value})
	}
	return records
}

// Pick chooses the numeric field of obj that best represents key: the exact
// field, then a case-insensitive match, then a field whose name contains key,
// and finally the largest numeric field. It reports false when obj holds no
// numeric field at all.
func Pick(obj map[string]any, key string) (any, bool) {
	if v, ok := match(obj, key); ok {
		return v, true
	}
	names := numericFields(obj)
	if len(names) == 0 {
		return nil, false
	}
	best := names[0]
	bestValue, _ := Numeric(obj[best])
	for _, name := range names[1:] {
		if f, _ := Numeric(obj[name]); f > bestValue {
			best, bestValue = name, f
		}
	}
	return obj[best], true
}

// match is Pick without the largest-field fallback.
func match(obj map[string]any, key string) (any, bool) {
	if v, ok := obj[key]; ok {
		if _, numeric := Numeric(v); numeric {
			return v, true
		}
	}

	lower := strings.ToLower(key)
	names := numericFields(obj)
	for _, name := range names {
		if strings.ToLower(name) == lower {
			return obj[name], true
		}
	}
	for _, name := range names {
		if lower != "" && strings.Contains(strings.ToLower(name), lower) {
			return obj[name], true
		}
	}
	return nil, false
}

func numericFields(obj map[string]any) []string {
	names := make([]string, 0, len(obj))
	for name, v := range obj {
		if _, numeric := Numeric(v); numeric {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Numeric reports the float value of v if it is a JSON number, a Go number,
// or a string holding a finite number.
func Numeric(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = t
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func decode(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decoding JSON: %w", err)
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

// unwrapEnvelope returns env["data"] when the body is a {"data": ...}
// envelope with a non-null payload.
func unwrapEnvelope(v any) any {
	env, ok := v.(map[string]any)
	if !ok {
		return v
	}
	if data, ok := env["data"]; ok && data != nil {
		return data
	}
	return v
}

// isMapping reports whether m is keyed by page identifiers rather than being a
// single record object.
func isMapping(m map[string]any, ids []string) bool {
	if len(m) == 0 {
		return true
	}
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	for k := range m {
		if _, ok := wanted[k]; ok || strings.HasPrefix(k, "/") {
			return true
		}
	}
	return false
}

// serverError reports the message of a {"errno": n, "errmsg": ...} reply
// that carries no payload. A zero errno is a success.
func serverError(obj map[string]any) (string, bool) {
	errno, hasErrno := obj["errno"]
	errmsg, hasMsg := obj["errmsg"]
	if !hasErrno && !hasMsg {
		return "", false
	}
	if f, ok := Numeric(errno); hasErrno && ok && f == 0 {
		return "", false
	}
	msg := fmt.Sprint(errmsg)
	if s, ok := errmsg.(string); ok {
		msg = s
	}
	if !hasMsg || msg == "" {
		msg = fmt.Sprintf("errno %v", errno)
	}
	return msg, true
}

func ownID(obj map[string]any) string {
	for _, field := range []string{"path", "url"} {
		if s, ok := obj[field].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func scalarID(ids []string) string {
	if len(ids) == 1 {
		return ids[0]
	}
	return ScalarID
}
