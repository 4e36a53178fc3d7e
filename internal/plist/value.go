// Package plist implements the Property-List Store: typed read/write of the
// hierarchical key/value documents used for every persisted artifact in this
// module (manifests, installinfo, pending-update tracking, sidecar metadata).
//
// Values are schemaless at this layer — a Value is a tagged variant over the
// handful of concrete types Apple property lists support. Callers that need a
// particular shape use the typed accessors below; a coercion that fails
// surfaces as a single Malformed error kind rather than a nil or a panic.
package plist

import (
	"time"

	"github.com/fleetline/mdmclient/internal/agenterr"
)

// Value wraps one decoded property-list node: a string, integer, boolean,
// instant, byte blob, ordered array, or string-keyed dictionary.
type Value struct {
	raw any
}

// NewValue wraps an arbitrary Go value produced by the codec layer.
func NewValue(raw any) *Value {
	return &Value{raw: raw}
}

// Raw returns the underlying decoded value, for callers that hand it
// straight to the codec (e.g. re-encoding a subtree unchanged).
func (v *Value) Raw() any {
	if v == nil {
		return nil
	}
	return v.raw
}

func (v *Value) malformed(op, want string) error {
	return agenterr.New(agenterr.Malformed, op, "", typeMismatch(want, v.Raw()))
}

type typeMismatchErr struct {
	want string
	got  any
}

func (e typeMismatchErr) Error() string {
	return "expected " + e.want + ", got " + typeName(e.got)
}

func typeMismatch(want string, got any) error {
	return typeMismatchErr{want: want, got: got}
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "nil"
	case string:
		return "string"
	case bool:
		return "bool"
	case int64, int, uint64:
		return "integer"
	case float64:
		return "real"
	case time.Time:
		return "date"
	case []byte:
		return "data"
	case []any:
		return "array"
	case map[string]any:
		return "dict"
	default:
		return "unknown"
	}
}

// String coerces the value to a string.
func (v *Value) String() (string, error) {
	if v == nil {
		return "", v.malformed("Value.String", "string")
	}
	s, ok := v.raw.(string)
	if !ok {
		return "", v.malformed("Value.String", "string")
	}
	return s, nil
}

// StringOr returns the string value or a fallback if absent/wrong type.
func (v *Value) StringOr(fallback string) string {
	s, err := v.String()
	if err != nil {
		return fallback
	}
	return s
}

// Bool coerces the value to a boolean.
func (v *Value) Bool() (bool, error) {
	if v == nil {
		return false, v.malformed("Value.Bool", "bool")
	}
	b, ok := v.raw.(bool)
	if !ok {
		return false, v.malformed("Value.Bool", "bool")
	}
	return b, nil
}

// BoolOr returns the bool value or a fallback if absent/wrong type.
func (v *Value) BoolOr(fallback bool) bool {
	b, err := v.Bool()
	if err != nil {
		return fallback
	}
	return b
}

// Int coerces the value to an integer, accepting any of the numeric shapes
// the plist codec may decode into (int64, uint64, int, float64-whole).
func (v *Value) Int() (int64, error) {
	if v == nil {
		return 0, v.malformed("Value.Int", "integer")
	}
	switch n := v.raw.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, v.malformed("Value.Int", "integer")
	}
}

// IntOr returns the integer value or a fallback if absent/wrong type.
func (v *Value) IntOr(fallback int64) int64 {
	n, err := v.Int()
	if err != nil {
		return fallback
	}
	return n
}

// Time coerces the value to an instant.
func (v *Value) Time() (time.Time, error) {
	if v == nil {
		return time.Time{}, v.malformed("Value.Time", "date")
	}
	t, ok := v.raw.(time.Time)
	if !ok {
		return time.Time{}, v.malformed("Value.Time", "date")
	}
	return t, nil
}

// Data coerces the value to a raw byte blob.
func (v *Value) Data() ([]byte, error) {
	if v == nil {
		return nil, v.malformed("Value.Data", "data")
	}
	b, ok := v.raw.([]byte)
	if !ok {
		return nil, v.malformed("Value.Data", "data")
	}
	return b, nil
}

// Array coerces the value to an ordered list of Values.
func (v *Value) Array() ([]*Value, error) {
	if v == nil {
		return nil, v.malformed("Value.Array", "array")
	}
	items, ok := v.raw.([]any)
	if !ok {
		return nil, v.malformed("Value.Array", "array")
	}
	out := make([]*Value, len(items))
	for i, item := range items {
		out[i] = NewValue(item)
	}
	return out, nil
}

// StringArray is a convenience wrapper over Array for the common case of a
// manifest's ordered list-of-names fields. Non-string entries are skipped.
func (v *Value) StringArray() []string {
	items, err := v.Array()
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, err := item.String(); err == nil {
			out = append(out, s)
		}
	}
	return out
}

// Dict coerces the value to a string-keyed mapping.
func (v *Value) Dict() (Dict, error) {
	if v == nil {
		return nil, v.malformed("Value.Dict", "dict")
	}
	m, ok := v.raw.(map[string]any)
	if !ok {
		return nil, v.malformed("Value.Dict", "dict")
	}
	out := make(Dict, len(m))
	for k, val := range m {
		out[k] = NewValue(val)
	}
	return out, nil
}

// Dict is a string-keyed mapping of Values, the decoded form of a plist
// dictionary node.
type Dict map[string]*Value

// Get returns the value for key, or nil if absent.
func (d Dict) Get(key string) *Value {
	return d[key]
}

// Document is the top-level parsed form of a property-list file: always a
// dictionary at the root, per every on-disk artifact this module reads or
// writes (§6 on-disk layout).
type Document struct {
	Dict
}

func newDocument(raw any) (Document, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Document{}, agenterr.New(agenterr.Malformed, "plist.Decode", "", typeMismatch("dict", raw))
	}
	d := make(Dict, len(m))
	for k, v := range m {
		d[k] = NewValue(v)
	}
	return Document{Dict: d}, nil
}

// ToRaw converts a Dict (or a document's root) back to the plain Go value
// tree the codec layer expects for encoding.
func ToRaw(d Dict) map[string]any {
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = v.Raw()
	}
	return out
}
