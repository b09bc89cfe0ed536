// Package value implements the closed Value sum type exchanged between the
// behavior tree runtime, the blackboard, and the planner protocol.
//
// A Value is one of nil, int, float, bool, string, list, map, or handle.
// Accessors are explicit and fallible: asking a string for its float returns
// a *TypeError rather than a zero value.
package value

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindList
	KindMap
	KindHandle
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindHandle:
		return "handle"
	default:
		return "unknown kind (" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is an immutable tagged union. The zero Value is nil.
//
// Lists and maps share their backing storage between copies; callers that
// mutate the slice or map returned by List/Map must copy first.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	l    []Value
	m    map[string]Value
	h    Handle
}

// TypeError reports a fallible accessor being used on the wrong variant.
type TypeError struct {
	Want Kind
	Got  Kind
	// Field is optional context, e.g. the map field being read.
	Field string
}

func (e *TypeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("value: field %q: expected %s, got %s", e.Field, e.Want, e.Got)
	}
	return fmt.Sprintf("value: expected %s, got %s", e.Want, e.Got)
}

// Nil is the nil Value.
var Nil = Value{}

func Int(i int64) Value      { return Value{kind: KindInt, i: i} }
func Float(f float64) Value  { return Value{kind: KindFloat, f: f} }
func Bool(b bool) Value      { return Value{kind: KindBool, i: boolToInt(b)} }
func String(s string) Value  { return Value{kind: KindString, s: s} }
func List(vs ...Value) Value { return Value{kind: KindList, l: vs} }

// Map wraps m without copying it.
func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMap, m: m}
}

// HandleOf wraps an arena handle.
func HandleOf(h Handle) Value { return Value{kind: KindHandle, h: h} }

// Floats builds a list of floats.
func Floats(fs ...float64) Value {
	l := make([]Value, len(fs))
	for i, f := range fs {
		l[i] = Float(f)
	}
	return Value{kind: KindList, l: l}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNil reports whether v is the nil variant.
func (v Value) IsNil() bool { return v.kind == KindNil }

// AsInt returns the integer, accepting floats with an integral value.
func (v Value) AsInt() (int64, error) {
	switch v.kind {
	case KindInt:
		return v.i, nil
	case KindFloat:
		if v.f == math.Trunc(v.f) && !math.IsInf(v.f, 0) {
			return int64(v.f), nil
		}
	}
	return 0, &TypeError{Want: KindInt, Got: v.kind}
}

// AsFloat returns the number as a float64, promoting ints.
func (v Value) AsFloat() (float64, error) {
	switch v.kind {
	case KindFloat:
		return v.f, nil
	case KindInt:
		return float64(v.i), nil
	}
	return 0, &TypeError{Want: KindFloat, Got: v.kind}
}

func (v Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, &TypeError{Want: KindBool, Got: v.kind}
	}
	return v.i != 0, nil
}

func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", &TypeError{Want: KindString, Got: v.kind}
	}
	return v.s, nil
}

func (v Value) AsList() ([]Value, error) {
	if v.kind != KindList {
		return nil, &TypeError{Want: KindList, Got: v.kind}
	}
	return v.l, nil
}

func (v Value) AsMap() (map[string]Value, error) {
	if v.kind != KindMap {
		return nil, &TypeError{Want: KindMap, Got: v.kind}
	}
	return v.m, nil
}

func (v Value) AsHandle() (Handle, error) {
	if v.kind != KindHandle {
		return Handle{}, &TypeError{Want: KindHandle, Got: v.kind}
	}
	return v.h, nil
}

// AsFloats converts a number or a list of numbers to a float slice. A scalar
// yields a slice of length one.
func (v Value) AsFloats() ([]float64, error) {
	switch v.kind {
	case KindInt, KindFloat:
		f, _ := v.AsFloat()
		return []float64{f}, nil
	case KindList:
		out := make([]float64, len(v.l))
		for i, e := range v.l {
			f, err := e.AsFloat()
			if err != nil {
				return nil, fmt.Errorf("value: list element %d: %w", i, err)
			}
			out[i] = f
		}
		return out, nil
	}
	return nil, &TypeError{Want: KindList, Got: v.kind}
}

// Field returns a map field. ok is false when v is not a map or the field is
// absent.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindMap {
		return Nil, false
	}
	f, ok := v.m[name]
	return f, ok
}

// Len returns the number of elements of a list or map, and 0 otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.l)
	case KindMap:
		return len(v.m)
	}
	return 0
}

// With returns a copy of the map v with name set to f. A non-map v is
// treated as an empty map.
func (v Value) With(name string, f Value) Value {
	m := make(map[string]Value, v.Len()+1)
	if v.kind == KindMap {
		for k, e := range v.m {
			m[k] = e
		}
	}
	m[name] = f
	return Value{kind: KindMap, m: m}
}

// Merge overlays the fields of over onto base. Nested maps are merged
// recursively; everything else in over replaces base.
func Merge(base, over Value) Value {
	if over.kind != KindMap {
		return over
	}
	if base.kind != KindMap {
		return over
	}
	m := make(map[string]Value, len(base.m)+len(over.m))
	for k, e := range base.m {
		m[k] = e
	}
	for k, e := range over.m {
		if prev, ok := m[k]; ok && prev.kind == KindMap && e.kind == KindMap {
			m[k] = Merge(prev, e)
			continue
		}
		m[k] = e
	}
	return Value{kind: KindMap, m: m}
}

// Equal reports deep equality. Ints and floats never compare equal to each
// other; NaN floats compare equal to NaN so that Equal is reflexive.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNil:
		return true
	case KindInt, KindBool:
		return a.i == b.i
	case KindFloat:
		return a.f == b.f || (math.IsNaN(a.f) && math.IsNaN(b.f))
	case KindString:
		return a.s == b.s
	case KindHandle:
		return a.h == b.h
	case KindList:
		if len(a.l) != len(b.l) {
			return false
		}
		for i := range a.l {
			if !Equal(a.l[i], b.l[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.m) != len(b.m) {
			return false
		}
		for k, av := range a.m {
			bv, ok := b.m[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders v for logs and diagnostics. Map keys are sorted.
func (v Value) String() string {
	var b strings.Builder
	v.write(&b)
	return b.String()
}

func (v Value) write(b *strings.Builder) {
	switch v.kind {
	case KindNil:
		b.WriteString("nil")
	case KindInt:
		b.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		b.WriteString(strconv.FormatFloat(v.f, 'g', -1, 64))
	case KindBool:
		b.WriteString(strconv.FormatBool(v.i != 0))
	case KindString:
		b.WriteString(strconv.Quote(v.s))
	case KindHandle:
		b.WriteString(v.h.String())
	case KindList:
		b.WriteByte('[')
		for i, e := range v.l {
			if i > 0 {
				b.WriteByte(' ')
			}
			e.write(b)
		}
		b.WriteByte(']')
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(k)
			b.WriteByte(':')
			v.m[k].write(b)
		}
		b.WriteByte('}')
	}
}
