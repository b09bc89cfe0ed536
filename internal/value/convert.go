package value

import (
	"bytes"
	"fmt"
	"math"
	"sort"

	json "github.com/goccy/go-json"
)

// FromAny converts native Go data (including the output of json.Unmarshal
// into an any) into a Value.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Nil, nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		if t > math.MaxInt64 {
			return Nil, fmt.Errorf("value: uint64 %d overflows int", t)
		}
		return Int(int64(t)), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Nil, fmt.Errorf("value: bad number %q: %w", t.String(), err)
		}
		return Float(f), nil
	case string:
		return String(t), nil
	case Handle:
		return HandleOf(t), nil
	case []float64:
		return Floats(t...), nil
	case []any:
		l := make([]Value, len(t))
		for i, e := range t {
			v, err := FromAny(e)
			if err != nil {
				return Nil, fmt.Errorf("value: index %d: %w", i, err)
			}
			l[i] = v
		}
		return List(l...), nil
	case []Value:
		return List(t...), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			v, err := FromAny(e)
			if err != nil {
				return Nil, fmt.Errorf("value: key %q: %w", k, err)
			}
			m[k] = v
		}
		return Map(m), nil
	case map[string]Value:
		return Map(t), nil
	}
	return Nil, fmt.Errorf("value: unsupported Go type %T", x)
}

// MustFromAny is FromAny for literals known to be convertible.
func MustFromAny(x any) Value {
	v, err := FromAny(x)
	if err != nil {
		panic(err)
	}
	return v
}

// ToAny converts v into plain Go data suitable for JSON encoding or for
// expression evaluation. Handles become their string form.
func (v Value) ToAny() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.i != 0
	case KindString:
		return v.s
	case KindHandle:
		return v.h.String()
	case KindList:
		out := make([]any, len(v.l))
		for i, e := range v.l {
			out[i] = e.ToAny()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.ToAny()
		}
		return out
	}
	return nil
}

// MarshalJSON implements json.Marshaler. Non-finite floats are encoded as
// null since JSON has no representation for them.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.jsonSafe())
}

func (v Value) jsonSafe() any {
	switch v.kind {
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil
		}
		return v.f
	case KindList:
		out := make([]any, len(v.l))
		for i, e := range v.l {
			out[i] = e.jsonSafe()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.jsonSafe()
		}
		return out
	}
	return v.ToAny()
}

// UnmarshalJSON implements json.Unmarshaler. Integral JSON numbers decode as
// ints, everything else numeric as floats.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseJSON(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseJSON decodes a JSON document into a Value. Numbers written without a
// fraction or exponent decode as ints.
func ParseJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Nil, fmt.Errorf("value: decode json: %w", err)
	}
	return FromAny(raw)
}

// SortedKeys returns the keys of a map value in ascending order.
func (v Value) SortedKeys() []string {
	if v.kind != KindMap {
		return nil
	}
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
