package planner

import (
	"fmt"

	"github.com/unswei/muesli-bt-sub004/internal/value"
)

// Params reads typed options from a backend block. The first error is
// sticky: later reads return their defaults and Err reports it.
type Params struct {
	block   value.Value
	backend string
	err     error
}

// NewParams wraps a backend block (a map, or nil for all defaults).
func NewParams(backend string, block value.Value) *Params {
	return &Params{block: block, backend: backend}
}

// Err returns the first decoding error as a *ConfigError.
func (p *Params) Err() error { return p.err }

func (p *Params) lookup(name string) (value.Value, bool) {
	if p.err != nil {
		return value.Nil, false
	}
	v, ok := p.block.Field(name)
	if !ok || v.IsNil() {
		return value.Nil, false
	}
	return v, true
}

func (p *Params) fail(name string, err error) {
	if p.err == nil {
		p.err = &ConfigError{Field: p.backend + "." + name, Reason: err.Error()}
	}
}

func (p *Params) Float(name string, def float64) float64 {
	v, ok := p.lookup(name)
	if !ok {
		return def
	}
	f, err := v.AsFloat()
	if err != nil {
		p.fail(name, err)
		return def
	}
	return f
}

func (p *Params) Int(name string, def int) int {
	v, ok := p.lookup(name)
	if !ok {
		return def
	}
	i, err := v.AsInt()
	if err != nil {
		p.fail(name, err)
		return def
	}
	return int(i)
}

func (p *Params) String(name, def string) string {
	v, ok := p.lookup(name)
	if !ok {
		return def
	}
	s, err := v.AsString()
	if err != nil {
		p.fail(name, err)
		return def
	}
	return s
}

// Floats reads a number or list of numbers. A list of length one is
// broadcast to n entries; otherwise the length must equal n.
func (p *Params) Floats(name string, n int, def float64) []float64 {
	out := make([]float64, n)
	v, ok := p.lookup(name)
	if !ok {
		for i := range out {
			out[i] = def
		}
		return out
	}
	fs, err := v.AsFloats()
	if err != nil {
		p.fail(name, err)
		return out
	}
	switch len(fs) {
	case 1:
		for i := range out {
			out[i] = fs[0]
		}
	case n:
		copy(out, fs)
	default:
		p.fail(name, fmt.Errorf("want 1 or %d values, got %d", n, len(fs)))
	}
	return out
}

// Positive checks a numeric option after reading it.
func (p *Params) Positive(name string, x float64) {
	if p.err == nil && !(x > 0) {
		p.fail(name, fmt.Errorf("must be positive, got %v", x))
	}
}

// NonNegative checks a numeric option after reading it.
func (p *Params) NonNegative(name string, x float64) {
	if p.err == nil && !(x >= 0) {
		p.fail(name, fmt.Errorf("must be non-negative, got %v", x))
	}
}

// Sequence reads a warm-start control sequence of horizon steps of dim m.
// It accepts a list of per-step lists or a flat list of numbers. Shorter
// sequences are padded by repeating their last step; longer ones are
// truncated. Absent options yield zeros.
func (p *Params) Sequence(name string, horizon, m int) [][]float64 {
	seq := make([][]float64, horizon)
	for t := range seq {
		seq[t] = make([]float64, m)
	}
	v, ok := p.lookup(name)
	if !ok {
		return seq
	}
	list, err := v.AsList()
	if err != nil {
		p.fail(name, err)
		return seq
	}
	var steps [][]float64
	if len(list) > 0 && list[0].Kind() == value.KindList {
		for i, e := range list {
			u, err := e.AsFloats()
			if err != nil || len(u) != m {
				p.fail(name, fmt.Errorf("step %d: want %d values", i, m))
				return seq
			}
			steps = append(steps, u)
		}
	} else {
		flat, err := v.AsFloats()
		if err != nil || len(flat)%m != 0 {
			p.fail(name, fmt.Errorf("flat sequence length must be a multiple of %d", m))
			return seq
		}
		for i := 0; i < len(flat); i += m {
			steps = append(steps, flat[i:i+m])
		}
	}
	if len(steps) == 0 {
		return seq
	}
	for t := range seq {
		src := steps[len(steps)-1]
		if t < len(steps) {
			src = steps[t]
		}
		copy(seq[t], src)
	}
	return seq
}

// SequenceValue renders a control sequence as a list of per-step lists.
func SequenceValue(seq [][]float64) value.Value {
	out := make([]value.Value, len(seq))
	for i, u := range seq {
		out[i] = value.Floats(u...)
	}
	return value.List(out...)
}
