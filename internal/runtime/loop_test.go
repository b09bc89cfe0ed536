package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/unswei/muesli-bt-sub004/internal/bt"
	"github.com/unswei/muesli-bt-sub004/internal/planner"
	"github.com/unswei/muesli-bt-sub004/internal/testutil"
	"github.com/unswei/muesli-bt-sub004/internal/value"
)

func instance(t *testing.T, act bt.ActFunc) *bt.Instance {
	t.Helper()
	g, err := bt.Compile(bt.Act("act"), bt.NewRegistry().RegisterAct("act", act))
	require.NoError(t, err)
	in, err := bt.NewInstance(g, bt.Options{})
	require.NoError(t, err)
	return in
}

func running(*bt.Leaf) (bt.Status, error) { return bt.Running, nil }

// scriptedEnv records actions and fails Act when actErr is set.
type scriptedEnv struct {
	mu      sync.Mutex
	actions []value.Value
	actErr  error
	steps   int
}

func (e *scriptedEnv) Observe(context.Context) (map[string]value.Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return map[string]value.Value{"steps": value.Int(int64(e.steps))}, nil
}

func (e *scriptedEnv) Act(_ context.Context, v value.Value) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.actErr != nil {
		return e.actErr
	}
	e.actions = append(e.actions, v)
	return nil
}

func (e *scriptedEnv) Step(context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.steps++
	return false, nil
}

func TestLoopMaxTicksAndReports(t *testing.T) {
	t.Parallel()
	in := instance(t, func(l *bt.Leaf) (bt.Status, error) {
		n, err := l.Get("steps").AsInt()
		if err != nil {
			return bt.Failure, err
		}
		l.Put("u", value.Floats(float64(n)))
		return bt.Running, nil
	})
	env := &scriptedEnv{}
	var reports []TickReport
	loop := &Loop{Name: "t", Instance: in, Env: env, ActionKey: "u", Period: testutil.TickPeriod, MaxTicks: 4,
		OnTick: func(r TickReport) { reports = append(reports, r) }}

	res, err := loop.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Result{Ticks: 4, Last: bt.Running}, res)
	require.Len(t, reports, 4)
	require.True(t, reports[3].Done)
	require.Equal(t, uint64(3), reports[3].Tick)
	require.Equal(t, []value.Value{value.Floats(0), value.Floats(1), value.Floats(2), value.Floats(3)}, env.actions)
}

func TestLoopStopOnResult(t *testing.T) {
	t.Parallel()
	in := instance(t, func(*bt.Leaf) (bt.Status, error) { return bt.Success, nil })
	loop := &Loop{Instance: in, Env: &scriptedEnv{}, Period: testutil.TickPeriod, StopOnResult: true}
	res, err := loop.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Result{Ticks: 1, Last: bt.Success}, res)
}

func TestLoopActError(t *testing.T) {
	t.Parallel()
	in := instance(t, func(l *bt.Leaf) (bt.Status, error) {
		l.Put("u", value.Floats(1))
		return bt.Running, nil
	})
	loop := &Loop{Instance: in, Env: &scriptedEnv{actErr: errors.New("motor fault")}, ActionKey: "u", Period: testutil.TickPeriod}
	_, err := loop.Run(context.Background())
	require.ErrorContains(t, err, "act: motor fault")
}

func TestLoopContextCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	loop := &Loop{Instance: instance(t, running), Env: &scriptedEnv{}, Period: testutil.TickPeriod,
		OnTick: func(r TickReport) {
			if r.Tick == 2 {
				cancel()
			}
		}}
	res, err := loop.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.GreaterOrEqual(t, res.Ticks, uint64(3))
}

func TestLoopNeedsInstanceAndEnv(t *testing.T) {
	t.Parallel()
	_, err := (&Loop{}).Run(context.Background())
	require.Error(t, err)
}

func TestRunAllStopsTogether(t *testing.T) {
	t.Parallel()
	short := &Loop{Name: "short", Instance: instance(t, running), Env: &scriptedEnv{}, Period: testutil.TickPeriod, MaxTicks: 3}
	long := &Loop{Name: "long", Instance: instance(t, running), Env: &scriptedEnv{}, Period: testutil.TickPeriod}
	results, err := RunAll(context.Background(), short, long)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, uint64(3), results[0].Ticks)
}

func TestToy1D(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := NewToy1D(0.05, 0)
	obs, err := env.Observe(ctx)
	require.NoError(t, err)
	require.Equal(t, value.Floats(0.05), obs["x"])

	require.NoError(t, env.Act(ctx, value.Floats(-5)))
	done, err := env.Step(ctx)
	require.NoError(t, err)
	x, steps := env.State()
	require.InDelta(t, -0.05, x, 1e-12, "action is clipped to UMax")
	require.Equal(t, 1, steps)
	require.False(t, done)

	require.NoError(t, env.Act(ctx, value.Floats(0.45)))
	done, err = env.Step(ctx)
	require.NoError(t, err)
	require.True(t, done)

	require.Error(t, env.Act(ctx, value.Floats(1, 2)))
	require.Error(t, env.Act(ctx, value.String("left")))

	// planner action maps are unwrapped and their schema checked
	require.NoError(t, env.Act(ctx, planner.ActionValue("toy1d.velocity.v1", value.Floats(0.2))))
	require.NoError(t, env.Act(ctx, planner.ActionValue("", value.Floats(0.2))))
	require.ErrorContains(t, env.Act(ctx, planner.ActionValue("pendulum.torque.v1", value.Floats(0.2))), "schema")

	capped := NewToy1D(1, 2)
	_, _ = capped.Step(ctx)
	done, _ = capped.Step(ctx)
	require.True(t, done)
}
