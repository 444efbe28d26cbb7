package graph

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind classifies a normalized property value. The storage layers and the
// validation engine speak this vocabulary instead of raw reflect kinds.
type Kind int

const (
	KindInvalid Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindTime
	KindStringList
)

// String returns the name used in validation messages.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "integer"
	case KindFloat:
		return "float"
	case KindBool:
		return "boolean"
	case KindTime:
		return "datetime"
	case KindStringList:
		return "string list"
	default:
		return "invalid"
	}
}

// KindOf classifies a normalized value. Values that have not been through
// NormalizeValue (for example a bare int) report KindInvalid.
func KindOf(v any) Kind {
	switch v.(type) {
	case string:
		return KindString
	case int64:
		return KindInt
	case float64:
		return KindFloat
	case bool:
		return KindBool
	case time.Time:
		return KindTime
	case []string:
		return KindStringList
	default:
		return KindInvalid
	}
}

// NormalizeValue coerces a property value to its canonical representation:
// string, int64, float64, bool, time.Time, or []string. Nested
// map[string]any values are normalized recursively; flattening them into
// dotted names is the caller's concern (see FlattenProps). A float64 that
// arrived via JSON decoding stays a float64 even when it is whole; the
// validation engine tolerates whole floats where an integer is declared.
func NormalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string, bool, int64, float64, time.Time:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > 1<<63-1 {
			return nil, &Error{Code: EInvalid, Msg: fmt.Sprintf("integer property overflows int64: %d", x)}
		}
		return int64(x), nil
	case float32:
		return float64(x), nil
	case []string:
		out := make([]string, len(x))
		copy(out, x)
		return out, nil
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				return nil, &Error{Code: EInvalid, Msg: fmt.Sprintf("list properties must hold strings, found %T", item)}
			}
			out = append(out, s)
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			nv, err := NormalizeValue(item)
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	default:
		return nil, &Error{Code: EInvalid, Msg: fmt.Sprintf("unsupported property value type %T", v)}
	}
}

// FlattenProps normalizes a property bag and flattens nested maps into
// dotted names, so {"address": {"city": "Oslo"}} stores as
// "address.city" = "Oslo". Dots are therefore reserved in declared property
// names. Key order does not matter; collisions between a literal dotted name
// and a flattened one are rejected.
func FlattenProps(props map[string]any) (map[string]any, error) {
	flat := make(map[string]any, len(props))
	// Deterministic iteration keeps collision errors stable.
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := flattenInto(flat, k, props[k]); err != nil {
			return nil, err
		}
	}
	return flat, nil
}

func flattenInto(flat map[string]any, key string, v any) error {
	nv, err := NormalizeValue(v)
	if err != nil {
		return &Error{Msg: fmt.Sprintf("property %q", key), Err: err}
	}
	nested, ok := nv.(map[string]any)
	if !ok {
		if _, dup := flat[key]; dup {
			return &Error{Code: EInvalid, Msg: fmt.Sprintf("property name collision at %q", key)}
		}
		flat[key] = nv
		return nil
	}
	for nk, nestedVal := range nested {
		if err := flattenInto(flat, key+"."+nk, nestedVal); err != nil {
			return err
		}
	}
	return nil
}

// UnflattenProps rebuilds nested maps from dotted names, inverting
// FlattenProps. Values are not copied.
func UnflattenProps(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		parts := strings.Split(k, ".")
		m := out
		for i := 0; i < len(parts)-1; i++ {
			next, ok := m[parts[i]].(map[string]any)
			if !ok {
				next = make(map[string]any)
				m[parts[i]] = next
			}
			m = next
		}
		m[parts[len(parts)-1]] = v
	}
	return out
}
