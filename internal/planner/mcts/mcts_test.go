package mcts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unswei/muesli-bt-sub004/internal/planner"
	"github.com/unswei/muesli-bt-sub004/internal/value"
)

func problem(state []float64, params map[string]any, budget time.Duration, work int, seed uint64) *planner.Problem {
	return &planner.Problem{
		Model:    planner.NewToy1D(),
		State:    state,
		Params:   value.MustFromAny(params),
		Deadline: planner.NewDeadline(time.Now(), budget, nil),
		WorkMax:  work,
		Seed:     seed,
		Rand:     planner.NewStream(seed),
	}
}

func TestWidenBound(t *testing.T) {
	t.Parallel()
	require.Equal(t, 2, widenBound(2, 0.5, 1))
	require.Equal(t, 4, widenBound(2, 0.5, 4))
	require.Equal(t, 1, widenBound(1, 0.5, 1))
	require.Equal(t, 0, widenBound(0.5, 0.5, 1))
	require.Equal(t, 3, widenBound(3, 0, 1000))
}

func TestProgressiveWideningHoldsEverywhere(t *testing.T) {
	t.Parallel()
	p := problem([]float64{1}, map[string]any{"pw_k": 1.5, "pw_alpha": 0.4, "max_depth": int64(6)}, time.Minute, 0, 3)
	cfg, err := parseConfig(p)
	require.NoError(t, err)
	s := &search{
		cfg:    cfg,
		model:  p.Model,
		bounds: p.Model.ActionBounds(),
		rng:    p.Rand,
		root:   &node{state: p.State},
	}
	for i := 0; i < 500; i++ {
		s.simulate(s.root, 0)
	}
	require.Equal(t, 500, s.root.visits)

	var walk func(n *node)
	walk = func(n *node) {
		require.LessOrEqual(t, len(n.edges), widenBound(cfg.pwK, cfg.pwAlpha, max(n.visits, 1)))
		for _, e := range n.edges {
			walk(e.next)
		}
	}
	walk(s.root)

	children := 0
	var count func(n *node)
	count = func(n *node) {
		for _, e := range n.edges {
			children++
			count(e.next)
		}
	}
	count(s.root)
	require.Equal(t, s.widenAdded, children)
}

func TestPlanIsDeterministic(t *testing.T) {
	t.Parallel()
	params := map[string]any{"action_sampler": "gaussian", "sampler_sigma": 0.4}
	a, err := New().Plan(context.Background(), problem([]float64{0.5}, params, time.Minute, 300, 11))
	require.NoError(t, err)
	b, err := New().Plan(context.Background(), problem([]float64{0.5}, params, time.Minute, 300, 11))
	require.NoError(t, err)

	require.Equal(t, planner.StatusOK, a.Status)
	require.Equal(t, 300, a.WorkDone)
	require.Equal(t, a.U, b.U)
	require.True(t, value.Equal(a.Trace, b.Trace))
	require.Greater(t, a.Confidence, 0.0)
	require.LessOrEqual(t, a.Confidence, 1.0)

	c, err := New().Plan(context.Background(), problem([]float64{0.5}, params, time.Minute, 300, 12))
	require.NoError(t, err)
	require.False(t, value.Equal(a.Trace, c.Trace))
}

func TestPlanTrace(t *testing.T) {
	t.Parallel()
	out, err := New().Plan(context.Background(), problem([]float64{1}, map[string]any{"top_k": int64(2)}, time.Minute, 50, 1))
	require.NoError(t, err)
	visits, _ := out.Trace.Field("root_visits")
	require.Equal(t, value.Int(50), visits)
	top, _ := out.Trace.Field("top_k")
	require.Equal(t, 2, top.Len())
	require.GreaterOrEqual(t, out.U[0], -1.0)
	require.LessOrEqual(t, out.U[0], 1.0)
}

func TestPlanExpiredBudget(t *testing.T) {
	t.Parallel()
	p := problem([]float64{1}, nil, 0, 0, 1)
	out, err := New().Plan(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, planner.StatusTimeout, out.Status)
	require.Nil(t, out.U)
	require.Zero(t, out.WorkDone)
}

func TestPlanCancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := New().Plan(ctx, problem([]float64{1}, nil, time.Minute, 0, 1))
	require.NoError(t, err)
	require.Equal(t, planner.StatusTimeout, out.Status)
}

func TestConfigErrors(t *testing.T) {
	t.Parallel()
	for name, params := range map[string]map[string]any{
		"gamma":    {"gamma": 1.5},
		"alpha":    {"pw_alpha": 1.0},
		"sampler":  {"action_sampler": "sobol"},
		"rollout":  {"rollout_policy": "greedy"},
		"pw_k":     {"pw_k": 0.0},
		"pw_k < 1": {"pw_k": 0.5},
		"negative": {"c_ucb": -1.0},
	} {
		_, err := New().Plan(context.Background(), problem([]float64{0}, params, time.Minute, 10, 1))
		require.True(t, planner.IsConfigError(err), name)
	}
}
