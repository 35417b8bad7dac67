package ledb

import (
	"fmt"
	"math"
	"strings"
)

// PrimaryField is the document body field holding the primary key.
const PrimaryField = "$"

// Documents are canonical trees built from a fixed node palette:
// nil, bool, int64, float64, string, []byte, []any and map[string]any.
// normalizeValue converts arbitrary decoded or user-supplied Go values
// into that palette.
func normalizeValue(v any) (any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case bool, int64, float64, string:
		return v, nil
	case []byte:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint:
		return normalizeUint(uint64(v))
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return normalizeUint(v)
	case float32:
		return float64(v), nil
	case []any:
		out := make([]any, len(v))
		for i, elm := range v {
			nv, err := normalizeValue(elm)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, elm := range v {
			nv, err := normalizeValue(elm)
			if err != nil {
				return nil, err
			}
			out[key] = nv
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(v))
		for key, elm := range v {
			ks, ok := key.(string)
			if !ok {
				return nil, queryErrf(nil, "document object key is %T, not a string", key)
			}
			nv, err := normalizeValue(elm)
			if err != nil {
				return nil, err
			}
			out[ks] = nv
		}
		return out, nil
	}
	return nil, queryErrf(nil, "unsupported document value of type %T", v)
}

func normalizeUint(v uint64) (any, error) {
	if v > math.MaxInt64 {
		return nil, queryErrf(nil, "integer %d overflows the signed 64-bit document range", v)
	}
	return int64(v), nil
}

// copyValue deep-copies a canonical tree.
func copyValue(v any) any {
	switch v := v.(type) {
	case []any:
		out := make([]any, len(v))
		for i, elm := range v {
			out[i] = copyValue(elm)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, elm := range v {
			out[key] = copyValue(elm)
		}
		return out
	case []byte:
		return append([]byte(nil), v...)
	}
	return v
}

// splitPath splits a dotted field path into segments.
func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// extractValues walks a dotted path through the document tree and returns
// the multiset of values encountered. Arrays fan out over their elements at
// every position, including the terminal one, so a path addressing an array
// of scalars yields each scalar.
func extractValues(doc any, path string) []any {
	var out []any
	extractAt(doc, splitPath(path), &out)
	return out
}

func extractAt(node any, segs []string, out *[]any) {
	switch node := node.(type) {
	case []any:
		for _, elm := range node {
			extractAt(elm, segs, out)
		}
		return
	case map[string]any:
		if len(segs) == 0 {
			*out = append(*out, node)
			return
		}
		if child, ok := node[segs[0]]; ok {
			extractAt(child, segs[1:], out)
		}
		return
	}
	if len(segs) == 0 {
		*out = append(*out, node)
	}
}

// extractKeys extracts the set of typed keys a document contributes at a
// path for the given declared key type. Values of other runtime types yield
// no key. The result is a set: a document contributes each distinct key
// once, keyed by encoded form.
func extractKeys(doc any, path string, typ KeyType) ([]KeyData, error) {
	values := extractValues(doc, path)
	if len(values) == 0 {
		return nil, nil
	}
	var keys []KeyData
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		kd, ok := keyDataFromNode(v)
		if !ok || kd.Type() != typ {
			continue
		}
		enc, err := kd.Encode(nil)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[string(enc)]; dup {
			continue
		}
		seen[string(enc)] = struct{}{}
		keys = append(keys, kd)
	}
	return keys, nil
}

// primaryOf reads the primary field from a document body.
func primaryOf(doc any) (uint64, bool) {
	obj, ok := doc.(map[string]any)
	if !ok {
		return 0, false
	}
	switch id := obj[PrimaryField].(type) {
	case int64:
		if id > 0 {
			return uint64(id), true
		}
	}
	return 0, false
}

// withPrimary sets the primary field on a document body in place when the
// body is an object.
func withPrimary(doc any, id uint64) any {
	if obj, ok := doc.(map[string]any); ok {
		obj[PrimaryField] = int64(id)
	}
	return doc
}

func describeValue(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "string"
	case []byte:
		return "binary"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
