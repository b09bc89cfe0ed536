package bt

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/expr-lang/expr/vm"

	"github.com/unswei/muesli-bt-sub004/internal/blackboard"
	"github.com/unswei/muesli-bt-sub004/internal/planner"
	"github.com/unswei/muesli-bt-sub004/internal/value"
)

// Graph is a compiled tree. It is immutable and may be shared by any number
// of instances.
type Graph struct {
	root  *node
	nodes []*node
}

// NodeInfo describes one compiled node.
type NodeInfo struct {
	ID     int
	Parent int
	Name   string
	Kind   Kind
	Path   string
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Nodes lists the nodes in pre-order; a node's ID is its index. The root
// has Parent -1.
func (g *Graph) Nodes() []NodeInfo {
	out := make([]NodeInfo, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = NodeInfo{ID: n.id, Parent: n.parent, Name: n.name, Kind: n.kind, Path: n.path}
	}
	return out
}

// Lookup returns the id of the node with the given name.
func (g *Graph) Lookup(name string) (int, bool) {
	for _, n := range g.nodes {
		if n.name == name {
			return n.id, true
		}
	}
	return 0, false
}

type node struct {
	id       int
	parent   int
	kind     Kind
	name     string
	path     string
	children []*node
	n        int
	args     []value.Value

	cond    CondFunc
	act     ActFunc
	async   AsyncFunc
	program *vm.Program
	source  string
	plan    *planSpec

	resultKey   blackboard.Key
	resetOnHalt *bool
}

// label names the node in logs and trace records.
func (n *node) label() string {
	if n.name != "" {
		return n.name
	}
	return fmt.Sprintf("%s#%d", n.kind, n.id)
}

// Compile validates def against reg and builds a Graph. Every problem is
// reported as a *CompileError naming the offending node.
func Compile(def Def, reg *Registry) (*Graph, error) {
	if reg == nil {
		reg = NewRegistry()
	}
	c := &compiler{reg: reg, names: make(map[string]string)}
	g := &Graph{}
	root, err := c.compile(g, def, -1, def.Kind.String())
	if err != nil {
		return nil, err
	}
	g.root = root
	return g, nil
}

type compiler struct {
	reg   *Registry
	names map[string]string
}

func (c *compiler) fail(path string, d Def, format string, args ...any) error {
	return &CompileError{Path: path, Node: d.Name, Reason: fmt.Sprintf(format, args...)}
}

func (c *compiler) compile(g *Graph, d Def, parent int, path string) (*node, error) {
	if d.err != nil {
		return nil, c.fail(path, d, "%v", d.err)
	}
	if _, ok := kindNames[d.Kind]; !ok {
		return nil, c.fail(path, d, "unknown node kind %d", d.Kind)
	}
	if d.Name != "" {
		if prev, dup := c.names[d.Name]; dup {
			return nil, c.fail(path, d, "duplicate node name, first used at %s", prev)
		}
		c.names[d.Name] = path
	}

	n := &node{
		id:     len(g.nodes),
		parent: parent,
		kind:   d.Kind,
		name:   d.Name,
		path:   path,
		n:      d.N,
		args:   d.Args,
	}
	g.nodes = append(g.nodes, n)

	if err := c.configure(n, d, path); err != nil {
		return nil, err
	}

	for i, child := range d.Children {
		cp := fmt.Sprintf("%s/children[%d]", path, i)
		if d.Kind.decorator() {
			cp = path + "/child"
		}
		cn, err := c.compile(g, child, n.id, cp+":"+child.Kind.String())
		if err != nil {
			return nil, err
		}
		n.children = append(n.children, cn)
	}
	return n, nil
}

func (c *compiler) configure(n *node, d Def, path string) error {
	switch {
	case d.Kind.composite():
		if len(d.Children) == 0 {
			return c.fail(path, d, "%s needs at least one child", d.Kind)
		}
		return c.noOptions(path, d)
	case d.Kind.decorator():
		if len(d.Children) != 1 {
			return c.fail(path, d, "%s needs exactly one child, got %d", d.Kind, len(d.Children))
		}
		if d.Kind == KindRepeat && d.N < 1 {
			return c.fail(path, d, "repeat count must be at least 1, got %d", d.N)
		}
		if d.Kind == KindRetry && d.N < 0 {
			return c.fail(path, d, "retry count must be non-negative, got %d", d.N)
		}
		for k, v := range d.Options {
			if k != "reset_on_halt" {
				return c.fail(path, d, "unknown option %q", k)
			}
			b, err := v.AsBool()
			if err != nil {
				return c.fail(path, d, "reset_on_halt: %v", err)
			}
			n.resetOnHalt = &b
		}
		return nil
	}

	if len(d.Children) != 0 {
		return c.fail(path, d, "leaf %s cannot have children", d.Kind)
	}
	switch d.Kind {
	case KindCond:
		switch {
		case d.Fn != "" && d.Expr != "":
			return c.fail(path, d, "cond takes a function or an expression, not both")
		case d.Expr != "":
			p, err := programs.compile(d.Expr)
			if err != nil {
				return c.fail(path, d, "expression: %v", err)
			}
			n.program, n.source = p, d.Expr
		default:
			fn, ok := c.reg.cond(d.Fn)
			if !ok {
				return c.fail(path, d, "unknown condition %q", d.Fn)
			}
			n.cond = fn
		}
		return c.noOptions(path, d)
	case KindAct:
		fn, ok := c.reg.act(d.Fn)
		if !ok {
			return c.fail(path, d, "unknown action %q", d.Fn)
		}
		n.act = fn
		return c.noOptions(path, d)
	case KindAsyncAct:
		fn, ok := c.reg.async(d.Fn)
		if !ok {
			return c.fail(path, d, "unknown async action %q", d.Fn)
		}
		n.async = fn
		for k, v := range d.Options {
			if k != "result_key" {
				return c.fail(path, d, "unknown option %q", k)
			}
			s, err := v.AsString()
			if err != nil || s == "" {
				return c.fail(path, d, "result_key must be a non-empty string")
			}
			n.resultKey = blackboard.Sym(s)
		}
		return nil
	case KindPlanAction:
		spec, err := compilePlan(d.Options)
		if err != nil {
			return c.fail(path, d, "%v", err)
		}
		n.plan = spec
		return nil
	}
	return c.fail(path, d, "unsupported kind %s", d.Kind)
}

func (c *compiler) noOptions(path string, d Def) error {
	if len(d.Options) == 0 {
		return nil
	}
	keys := make([]string, 0, len(d.Options))
	for k := range d.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return c.fail(path, d, "%s takes no options, got %s", d.Kind, strings.Join(keys, ", "))
}

// planSpec is the compiled form of a PlanAction's options.
type planSpec struct {
	// base holds the static request fields, schema_version included.
	base      value.Value
	planner   string
	stateKey  blackboard.Key
	// actionKey receives {action_schema, u}, as in the result's action.
	actionKey blackboard.Key
	metaKey   blackboard.Key
	seedKey   string
	inputs    []planInput
	fallback  value.Value
	warmStart bool
}

type planInput struct {
	field []string
	key   blackboard.Key
}

// planStatic are copied into the request as given.
var planStatic = map[string]bool{
	"planner":       true,
	"model_service": true,
	"budget_ms":     true,
	"seed":          true,
	"work_max":      true,
	"state":         true,
	planner.MCTS:    true,
	planner.MPPI:    true,
	planner.ILQR:    true,
}

func compilePlan(opts map[string]value.Value) (*planSpec, error) {
	s := &planSpec{}
	req := map[string]value.Value{"schema_version": value.String(planner.RequestSchema)}
	str := func(k string) (string, error) {
		v, ok := opts[k]
		if !ok {
			return "", nil
		}
		out, err := v.AsString()
		if err != nil {
			return "", fmt.Errorf("%s: %w", k, err)
		}
		return out, nil
	}

	for k, v := range opts {
		switch {
		case planStatic[k]:
			req[k] = v
		case k == "state_key", k == "action_key", k == "meta_key", k == "seed_key", k == "inputs", k == "fallback_u", k == "warm_start":
		default:
			return nil, fmt.Errorf("unknown option %q", k)
		}
	}

	var err error
	if s.planner, err = str("planner"); err != nil {
		return nil, err
	}
	known := false
	for _, p := range planner.KnownPlanners {
		known = known || p == s.planner
	}
	if !known {
		return nil, fmt.Errorf("planner must be one of %s, got %q", strings.Join(planner.KnownPlanners, ", "), s.planner)
	}
	if m, err := str("model_service"); err != nil || m == "" {
		return nil, fmt.Errorf("model_service is required")
	}
	budget, ok := opts["budget_ms"]
	if !ok {
		return nil, fmt.Errorf("budget_ms is required")
	}
	if b, err := budget.AsFloat(); err != nil || !(b > 0) || math.IsInf(b, 0) {
		return nil, fmt.Errorf("budget_ms must be a positive number, got %s", budget)
	}
	for _, name := range planner.KnownPlanners {
		if blk, ok := opts[name]; ok && blk.Kind() != value.KindMap {
			return nil, fmt.Errorf("%s block must be a map, got %s", name, blk.Kind())
		}
	}

	action, err := str("action_key")
	if err != nil || action == "" {
		return nil, fmt.Errorf("action_key is required")
	}
	s.actionKey = blackboard.Sym(action)

	stateKey, err := str("state_key")
	if err != nil {
		return nil, err
	}
	_, static := opts["state"]
	switch {
	case stateKey != "" && static:
		return nil, fmt.Errorf("state and state_key are mutually exclusive")
	case stateKey == "" && !static:
		return nil, fmt.Errorf("state_key or state is required")
	case stateKey != "":
		s.stateKey = blackboard.Sym(stateKey)
	}

	if meta, err := str("meta_key"); err != nil {
		return nil, err
	} else if meta != "" {
		s.metaKey = blackboard.Sym(meta)
	}
	if s.seedKey, err = str("seed_key"); err != nil {
		return nil, err
	}

	if in, ok := opts["inputs"]; ok {
		m, err := in.AsMap()
		if err != nil {
			return nil, fmt.Errorf("inputs: %w", err)
		}
		fields := make([]string, 0, len(m))
		for f := range m {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			key, err := m[f].AsString()
			if err != nil || key == "" {
				return nil, fmt.Errorf("inputs.%s must name a blackboard key", f)
			}
			path := strings.Split(f, ".")
			if path[0] == "schema_version" || path[0] == "planner" {
				return nil, fmt.Errorf("inputs cannot override %s", path[0])
			}
			s.inputs = append(s.inputs, planInput{field: path, key: blackboard.Sym(key)})
		}
	}

	if fb, ok := opts["fallback_u"]; ok {
		u, err := fb.AsFloats()
		if err != nil {
			return nil, fmt.Errorf("fallback_u: %w", err)
		}
		s.fallback = value.Floats(u...)
	}
	if ws, ok := opts["warm_start"]; ok {
		if s.warmStart, err = ws.AsBool(); err != nil {
			return nil, fmt.Errorf("warm_start: %w", err)
		}
	}

	s.base = value.Map(req)
	return s, nil
}
