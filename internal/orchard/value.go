package orchard

import (
	"encoding/json"
	"fmt"
)

// Kind is the declared shape of a data key. It decides how Update merges.
type Kind int

const (
	KindUnknown Kind = iota
	KindList
	KindMap
	KindString
	KindNumber
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Scalar reports whether values of this kind are replaced rather than merged.
func (k Kind) Scalar() bool {
	return k == KindString || k == KindNumber || k == KindBool
}

// KindOf classifies a canonical value. nil is KindUnknown.
func KindOf(v any) Kind {
	switch v.(type) {
	case []any:
		return KindList
	case map[string]any:
		return KindMap
	case string:
		return KindString
	case float64:
		return KindNumber
	case bool:
		return KindBool
	default:
		return KindUnknown
	}
}

// canonical converts v to the JSON data model (map[string]any, []any, string,
// float64, bool, nil). Structs and typed slices are accepted.
func canonical(v any) (any, error) {
	switch t := v.(type) {
	case nil, string, bool, float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("orchard: value is not JSON-representable: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// clone deep-copies containers. Strings are shared.
func clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = clone(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = clone(vv)
		}
		return out
	default:
		return t
	}
}

// mergeMaps copies src into dst key by key, recursing where both sides hold maps.
func mergeMaps(dst, src map[string]any) {
	for k, sv := range src {
		if sm, ok := sv.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				mergeMaps(dm, sm)
				continue
			}
		}
		dst[k] = sv
	}
}

// Decode converts a stored value into out (a pointer), e.g. a list of maps into a
// slice of structs.
func Decode(v any, out any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// AsInt reads a stored number. Non-numbers read as 0.
func AsInt(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case json.Number:
		n, _ := t.Int64()
		return int(n)
	default:
		return 0
	}
}

// AsBool reads a stored boolean. Non-booleans read as false.
func AsBool(v any) bool {
	b, _ := v.(bool)
	return b
}

// AsString reads a stored string. Non-strings read as "".
func AsString(v any) string {
	s, _ := v.(string)
	return s
}

// AsList reads a stored list. Non-lists read as nil.
func AsList(v any) []any {
	l, _ := v.([]any)
	return l
}

// AsMap reads a stored map. Non-maps read as nil.
func AsMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
