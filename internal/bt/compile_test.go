package bt

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileErrors(t *testing.T) {
	t.Parallel()
	reg := NewRegistry().RegisterAct("ok", succeed).RegisterCond("c", func(*Leaf) (bool, error) { return true, nil })
	plan := func(drop string, extra map[string]any) Def {
		opts := map[string]any{
			"planner": "mcts", "model_service": "toy-1d", "budget_ms": 5,
			"state_key": "x", "action_key": "u",
		}
		delete(opts, drop)
		for k, v := range extra {
			opts[k] = v
		}
		return PlanAction(opts)
	}

	for _, tc := range []struct {
		name   string
		def    Def
		path   string
		reason string
	}{
		{"unknown action", Seq(Act("ok"), Act("nope")), "seq/children[1]:act", `unknown action "nope"`},
		{"unknown cond", Cond("nope"), "cond", `unknown condition "nope"`},
		{"unknown async", AsyncAct("ok"), "async_act", `unknown async action "ok"`},
		{"empty seq", Seq(), "seq", "at least one child"},
		{"empty sel", Sel(), "sel", "at least one child"},
		{"decorator arity", Def{Kind: KindInvert}, "invert", "exactly one child"},
		{"repeat zero", Repeat(0, Act("ok")), "repeat", "at least 1"},
		{"retry negative", Retry(-1, Act("ok")), "retry", "non-negative"},
		{"leaf children", Def{Kind: KindAct, Fn: "ok", Children: []Def{Act("ok")}}, "act", "cannot have children"},
		{"fn and expr", Def{Kind: KindCond, Fn: "c", Expr: "true"}, "cond", "not both"},
		{"bad expr", Expr("a >"), "cond", "expression"},
		{"composite option", Seq(Act("ok")).With("x", 1), "seq", "takes no options, got x"},
		{"decorator option", Invert(Act("ok")).With("x", 1), "invert", `unknown option "x"`},
		{"bad arg", Act("ok", struct{}{}), "act", "argument 0"},
		{"duplicate name", Seq(Act("ok").Named("a"), Invert(Act("ok").Named("a"))), "seq/children[1]:invert/child:act", "duplicate node name"},
		{"unknown kind", Def{Kind: 99}, "kind(99)", "unknown node kind"},
		{"plan no action key", plan("action_key", nil), "plan_action", "action_key is required"},
		{"plan no state", plan("state_key", nil), "plan_action", "state_key or state is required"},
		{"plan state twice", plan("", map[string]any{"state": 0.0}), "plan_action", "mutually exclusive"},
		{"plan bad planner", plan("", map[string]any{"planner": "rrt"}), "plan_action", "planner must be one of"},
		{"plan no model", plan("model_service", nil), "plan_action", "model_service is required"},
		{"plan no budget", plan("budget_ms", nil), "plan_action", "budget_ms is required"},
		{"plan zero budget", plan("", map[string]any{"budget_ms": 0}), "plan_action", "positive number"},
		{"plan block type", plan("", map[string]any{"mcts": 1}), "plan_action", "mcts block must be a map"},
		{"plan unknown option", plan("", map[string]any{"bogus": 1}), "plan_action", `unknown option "bogus"`},
		{"plan input override", plan("", map[string]any{"inputs": map[string]any{"planner": "p"}}), "plan_action", "cannot override planner"},
		{"plan fallback type", plan("", map[string]any{"fallback_u": "x"}), "plan_action", "fallback_u"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Compile(tc.def, reg)
			var cerr *CompileError
			require.True(t, errors.As(err, &cerr), "got %v", err)
			require.Equal(t, tc.path, cerr.Path)
			require.Contains(t, cerr.Reason, tc.reason)
		})
	}
}

func TestCompileGraph(t *testing.T) {
	t.Parallel()
	reg := NewRegistry().RegisterAct("ok", succeed)
	g, err := Compile(Sel(Seq(Expr("ready"), Act("ok").Named("go")).Named("main"), Repeat(2, Act("ok"))), reg)
	require.NoError(t, err)
	require.Equal(t, 6, g.Len())

	nodes := g.Nodes()
	require.Equal(t, NodeInfo{ID: 0, Parent: -1, Kind: KindSel, Path: "sel"}, nodes[0])
	require.Equal(t, "main", nodes[1].Name)
	require.Equal(t, "sel/children[0]:seq/children[1]:act", nodes[3].Path)
	require.Equal(t, 4, nodes[5].Parent)
	require.Equal(t, "sel/children[1]:repeat/child:act", nodes[5].Path)

	id, ok := g.Lookup("go")
	require.True(t, ok)
	require.Equal(t, 3, id)
	_, ok = g.Lookup("missing")
	require.False(t, ok)
}

func TestGraphSharedAcrossInstances(t *testing.T) {
	t.Parallel()
	run := newScript(Running)
	g, err := Compile(Seq(Act("ok"), Act("run")), NewRegistry().RegisterAct("ok", succeed).RegisterAct("run", run.act))
	require.NoError(t, err)
	a, err := NewInstance(g, Options{})
	require.NoError(t, err)
	b, err := NewInstance(g, Options{})
	require.NoError(t, err)

	require.Equal(t, Running, a.Tick(context.TODO()))
	require.Equal(t, uint64(1), a.Stats().TickCount)
	require.Zero(t, b.Stats().TickCount)
	require.NotSame(t, a.Blackboard(), b.Blackboard())
}

func TestExprCacheSharesPrograms(t *testing.T) {
	t.Parallel()
	p1, err := programs.compile("shared_cache_key > 1")
	require.NoError(t, err)
	p2, err := programs.compile("shared_cache_key > 1")
	require.NoError(t, err)
	require.Same(t, p1, p2)

	c := newProgramCache(2)
	for _, src := range []string{"a > 1", "b > 1", "c > 1"} {
		_, err := c.compile(src)
		require.NoError(t, err)
	}
	require.Equal(t, ExprCacheStats{Size: 2, Limit: 2, Misses: 3}, c.stats())
	_, err = c.compile("c > 1")
	require.NoError(t, err)
	require.Equal(t, int64(1), c.stats().Hits)
	c.resize(1)
	require.Equal(t, 1, c.stats().Size)
	require.Equal(t, 1, c.stats().Limit)
}

func TestSetExprCacheSizeBoundsSharedCache(t *testing.T) {
	// mutates the shared cache, so not parallel
	defer SetExprCacheSize(DefaultExprCacheSize)
	SetExprCacheSize(3)
	for _, src := range []string{"w > 1", "x > 1", "y > 1", "z > 1"} {
		_, err := programs.compile(src)
		require.NoError(t, err)
	}
	s := ReadExprCacheStats()
	require.Equal(t, 3, s.Limit)
	require.LessOrEqual(t, s.Size, 3)

	SetExprCacheSize(0)
	require.Equal(t, 1, ReadExprCacheStats().Limit)
}
