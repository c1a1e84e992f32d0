package drawingboard

import (
	"reflect"
	"sort"
	"strings"
)

// Dotted property path helpers.
//
// Property paths address leaves of the nested document, e.g.
// "dimensions.width". Locks and transactions both operate on paths, so
// overlap semantics live here: a path covers itself and every descendant.

// PathsOverlap reports whether two dotted paths address overlapping regions
// of the document: either path equals the other or is a dotted prefix of it.
// A lock on "dimensions" covers "dimensions.width", and a write to
// "dimensions" collides with a lock on "dimensions.width".
func PathsOverlap(a, b string) bool {
	if a == b {
		return true
	}
	return strings.HasPrefix(a, b+".") || strings.HasPrefix(b, a+".")
}

// GetPath returns the value at a dotted path, and whether it exists.
func GetPath(m map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	cur := m
	for i, seg := range segments {
		v, ok := cur[seg]
		if !ok {
			return nil, false
		}
		if i == len(segments)-1 {
			return v, true
		}
		next, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return nil, false
}

// SetPath writes a value at a dotted path, creating intermediate maps as
// needed. An intermediate non-map value is replaced by a map.
func SetPath(m map[string]any, path string, value any) {
	segments := strings.Split(path, ".")
	cur := m
	for _, seg := range segments[:len(segments)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[seg] = next
		}
		cur = next
	}
	cur[segments[len(segments)-1]] = value
}

// PathValue is one flattened leaf of an update.
type PathValue struct {
	Path  string
	Value any
}

// FlattenValue expands an update value into its leaf paths. Nested
// string-keyed maps are walked recursively; everything else (including
// arrays) is a single leaf. Leaves are returned in sorted path order so
// change records within a transaction are deterministically ordered.
func FlattenValue(path string, value any) []PathValue {
	nested, ok := value.(map[string]any)
	if !ok || len(nested) == 0 {
		return []PathValue{{Path: path, Value: value}}
	}

	keys := make([]string, 0, len(nested))
	for k := range nested {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var leaves []PathValue
	for _, k := range keys {
		leaves = append(leaves, FlattenValue(path+"."+k, nested[k])...)
	}
	return leaves
}

// FlattenUpdates expands a full update map into sorted leaf paths.
func FlattenUpdates(updates map[string]any) []PathValue {
	paths := make([]string, 0, len(updates))
	for p := range updates {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var leaves []PathValue
	for _, p := range paths {
		leaves = append(leaves, FlattenValue(p, updates[p])...)
	}
	return leaves
}

// valuesEqual compares two leaf values after JSON-style normalization.
// Numeric values decoded from Redis are float64; proposals may carry ints.
func valuesEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(normalize(a), normalize(b))
}

// toFloat extracts a float64 from any Go numeric type.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// normalize rewrites slices and maps into their JSON-decoded shapes so that
// DeepEqual comparisons are stable across encode/decode cycles.
func normalize(v any) any {
	switch t := v.(type) {
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	default:
		if f, ok := toFloat(v); ok {
			return f
		}
		return v
	}
}
