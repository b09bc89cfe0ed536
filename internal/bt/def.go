package bt

import (
	"fmt"

	"github.com/unswei/muesli-bt-sub004/internal/value"
)

// Kind is a node variant.
type Kind uint8

const (
	KindSeq Kind = iota + 1
	KindSel
	KindReactiveSeq
	KindInvert
	KindRepeat
	KindRetry
	KindCond
	KindAct
	KindAsyncAct
	KindPlanAction
)

var kindNames = map[Kind]string{
	KindSeq:         "seq",
	KindSel:         "sel",
	KindReactiveSeq: "reactive_seq",
	KindInvert:      "invert",
	KindRepeat:      "repeat",
	KindRetry:       "retry",
	KindCond:        "cond",
	KindAct:         "act",
	KindAsyncAct:    "async_act",
	KindPlanAction:  "plan_action",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind maps a kind name as used in YAML back to its Kind.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

func (k Kind) composite() bool { return k == KindSeq || k == KindSel || k == KindReactiveSeq }
func (k Kind) decorator() bool { return k == KindInvert || k == KindRepeat || k == KindRetry }

// Def is an uncompiled tree description. Build one with the constructors
// below or LoadYAML, then Compile it.
type Def struct {
	Kind     Kind
	Name     string
	Children []Def
	// N is the Repeat count or the Retry budget.
	N int
	// Fn names a registered host function for Cond, Act and AsyncAct.
	Fn string
	// Expr is an expr-lang predicate for Cond, evaluated over the blackboard.
	Expr    string
	Args    []value.Value
	Options map[string]value.Value

	err error
}

func Seq(children ...Def) Def         { return Def{Kind: KindSeq, Children: children} }
func Sel(children ...Def) Def         { return Def{Kind: KindSel, Children: children} }
func ReactiveSeq(children ...Def) Def { return Def{Kind: KindReactiveSeq, Children: children} }
func Invert(child Def) Def            { return Def{Kind: KindInvert, Children: []Def{child}} }

// Repeat succeeds after n successes of child.
func Repeat(n int, child Def) Def { return Def{Kind: KindRepeat, N: n, Children: []Def{child}} }

// Retry re-executes child up to n times after failures.
func Retry(n int, child Def) Def { return Def{Kind: KindRetry, N: n, Children: []Def{child}} }

func Cond(fn string, args ...any) Def     { return leaf(KindCond, fn, args) }
func Act(fn string, args ...any) Def      { return leaf(KindAct, fn, args) }
func AsyncAct(fn string, args ...any) Def { return leaf(KindAsyncAct, fn, args) }

// Expr is a Cond leaf evaluating an expr-lang expression. Blackboard
// entries with symbol or string keys are visible as variables.
func Expr(expression string) Def { return Def{Kind: KindCond, Expr: expression} }

// PlanAction is a planning leaf. See the package documentation for options.
func PlanAction(opts map[string]any) Def {
	d := Def{Kind: KindPlanAction}
	for k, v := range opts {
		d = d.With(k, v)
	}
	return d
}

func leaf(k Kind, fn string, args []any) Def {
	d := Def{Kind: k, Fn: fn}
	for i, a := range args {
		v, err := value.FromAny(a)
		if err != nil && d.err == nil {
			d.err = fmt.Errorf("argument %d: %w", i, err)
		}
		d.Args = append(d.Args, v)
	}
	return d
}

// Named returns a copy of d with a node name. Names must be unique within a
// tree; they key planner seeds, logs and metrics.
func (d Def) Named(name string) Def {
	d.Name = name
	return d
}

// With returns a copy of d with option key set.
func (d Def) With(key string, v any) Def {
	val, err := value.FromAny(v)
	if err != nil && d.err == nil {
		d.err = fmt.Errorf("option %s: %w", key, err)
	}
	opts := make(map[string]value.Value, len(d.Options)+1)
	for k, e := range d.Options {
		opts[k] = e
	}
	opts[key] = val
	d.Options = opts
	return d
}
