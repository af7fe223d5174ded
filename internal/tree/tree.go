// Package tree models decoded upstream payloads as a weakly typed tree
// (maps, slices and scalars) and provides path lookups over it. Only the
// gateways and the normalizer see these values.
package tree

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Node is a decoded JSON/XML value: map[string]any, []any, string,
// float64, json.Number, bool or nil.
type Node = any

// Get follows a dotted path ("Comprobante.Cabecera.numero"). Numeric
// segments index into slices. Missing steps yield nil.
func Get(n Node, path string) Node {
	if path == "" || path == "." {
		return n
	}
	cur := n
	for _, seg := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]any:
			cur = v[seg]
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(v) {
				return nil
			}
			cur = v[i]
		default:
			return nil
		}
		if cur == nil {
			return nil
		}
	}
	return cur
}

// First returns the first non-null value among the candidate paths.
func First(n Node, paths []string) (Node, bool) {
	for _, p := range paths {
		if v := Get(n, p); !IsNull(v) {
			return v, true
		}
	}
	return nil, false
}

// IsNull reports whether v carries no value. Empty strings count as null.
func IsNull(v Node) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	default:
		return false
	}
}

// List wraps a single value into a one-element slice, the way SOAP and
// JSON providers collapse one-item arrays into objects.
func List(v Node) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	default:
		return []any{t}
	}
}

// Map returns v as an object, or nil.
func Map(v Node) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// String renders a scalar as text. Objects and arrays yield "".
func String(v Node) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any, []any:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// FirstString is First followed by String.
func FirstString(n Node, paths []string) string {
	v, _ := First(n, paths)
	return String(v)
}

// Decimal coerces a scalar into a decimal. Absent or unparsable values are
// returned as invalid (null), never as zero. A comma decimal separator is
// accepted when the value has no dot.
func Decimal(v Node) decimal.NullDecimal {
	switch t := v.(type) {
	case float64:
		return decimal.NewNullDecimal(decimal.NewFromFloat(t))
	case int:
		return decimal.NewNullDecimal(decimal.NewFromInt(int64(t)))
	case int64:
		return decimal.NewNullDecimal(decimal.NewFromInt(t))
	case json.Number:
		return parseDecimal(t.String())
	case string:
		return parseDecimal(t)
	default:
		return decimal.NullDecimal{}
	}
}

// FirstDecimal is First followed by Decimal.
func FirstDecimal(n Node, paths []string) decimal.NullDecimal {
	v, _ := First(n, paths)
	return Decimal(v)
}

func parseDecimal(s string) decimal.NullDecimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}
	}
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", ".")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// Keys returns the sorted top-level keys of an object, or nil.
func Keys(v Node) []string {
	m := Map(v)
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Lookup finds a key in an object ignoring case, preferring an exact match.
func Lookup(m map[string]any, key string) (Node, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
