package blackboard

import (
	"errors"
	"math"
	"strconv"
)

// ErrNaNKey is returned when a float key is NaN. NaN is not equal to itself,
// so it cannot address an entry.
var ErrNaNKey = errors.New("blackboard: NaN is not a valid key")

// KeyKind identifies the form of a Key.
type KeyKind uint8

const (
	KeySymbol KeyKind = iota + 1
	KeyString
	KeyInt
	KeyFloat
)

// Key addresses a blackboard entry. Keys of different kinds never collide:
// Sym("x") and Str("x") are distinct entries. Key is comparable and is used
// directly as a map key.
type Key struct {
	kind KeyKind
	s    string
	i    int64
	f    float64
}

// Sym returns a symbol key. Tree options and tick inputs use symbols.
func Sym(name string) Key { return Key{kind: KeySymbol, s: name} }

// Str returns a string key.
func Str(s string) Key { return Key{kind: KeyString, s: s} }

// Int returns an integer key.
func Int(i int64) Key { return Key{kind: KeyInt, i: i} }

// Float returns a float key, rejecting NaN. Negative zero is normalised to
// zero so that the two address the same entry.
func Float(f float64) (Key, error) {
	if math.IsNaN(f) {
		return Key{}, ErrNaNKey
	}
	if f == 0 {
		f = 0
	}
	return Key{kind: KeyFloat, f: f}, nil
}

// Kind returns the key form. The zero Key has kind 0 and is invalid.
func (k Key) Kind() KeyKind { return k.kind }

// Valid reports whether k was built by one of the constructors.
func (k Key) Valid() bool { return k.kind != 0 }

// Name returns the text of a symbol or string key, and "" otherwise.
func (k Key) Name() string {
	if k.kind == KeySymbol || k.kind == KeyString {
		return k.s
	}
	return ""
}

// String renders the key: symbols bare, strings quoted, numbers as numbers.
func (k Key) String() string {
	switch k.kind {
	case KeySymbol:
		return k.s
	case KeyString:
		return strconv.Quote(k.s)
	case KeyInt:
		return strconv.FormatInt(k.i, 10)
	case KeyFloat:
		return strconv.FormatFloat(k.f, 'g', -1, 64)
	}
	return "<invalid key>"
}

// less orders keys by kind, then by payload.
func (k Key) less(o Key) bool {
	if k.kind != o.kind {
		return k.kind < o.kind
	}
	switch k.kind {
	case KeyInt:
		return k.i < o.i
	case KeyFloat:
		return k.f < o.f
	}
	return k.s < o.s
}
