package bt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unswei/muesli-bt-sub004/internal/blackboard"
	"github.com/unswei/muesli-bt-sub004/internal/scheduler"
	"github.com/unswei/muesli-bt-sub004/internal/testutil"
	"github.com/unswei/muesli-bt-sub004/internal/value"
)

func newScheduler(t *testing.T) *scheduler.Scheduler {
	t.Helper()
	s := scheduler.New(scheduler.Config{Workers: 2})
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

// blocking returns work that signals started and waits for cancellation.
func blocking(started chan<- struct{}) AsyncFunc {
	return func(*Leaf) (scheduler.Work, error) {
		return func(ctx context.Context, _ scheduler.Checkpoint) (value.Value, error) {
			started <- struct{}{}
			<-ctx.Done()
			return value.Nil, ctx.Err()
		}, nil
	}
}

func waitStarted(t *testing.T, started <-chan struct{}) {
	t.Helper()
	select {
	case <-started:
	case <-time.After(testutil.AsyncTimeout):
		t.Fatal("task never started")
	}
}

func untilDone(t *testing.T, in *Instance) Status {
	t.Helper()
	var st Status
	testutil.Eventually(t, func() bool {
		st = in.Tick(context.Background())
		return st != Running
	}, "async action never finished")
	return st
}

func TestAsyncActWritesResult(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	reg := NewRegistry().RegisterAsync("compute", func(l *Leaf) (scheduler.Work, error) {
		n, err := l.Get("n").AsInt()
		if err != nil {
			return nil, err
		}
		return func(context.Context, scheduler.Checkpoint) (value.Value, error) {
			return value.Int(n * 2), nil
		}, nil
	})
	in := newInstance(t, AsyncAct("compute").With("result_key", "out"), reg, Options{Scheduler: s})

	require.Equal(t, Running, in.Tick(context.Background(), In("n", value.Int(21))))
	require.Equal(t, Success, untilDone(t, in))
	out, err := in.Blackboard().Get(blackboard.Sym("out"), value.Nil).AsInt()
	require.NoError(t, err)
	require.Equal(t, int64(42), out)

	stats := s.Stats()
	require.Equal(t, uint64(1), stats.Submitted)
	require.Equal(t, uint64(1), stats.Completed)

	// the next visit submits again
	require.Equal(t, Running, in.Tick(context.Background()))
	require.Equal(t, uint64(2), s.Stats().Submitted)
}

func TestAsyncActFailure(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	reg := NewRegistry().
		RegisterAsync("boom", func(*Leaf) (scheduler.Work, error) {
			return func(context.Context, scheduler.Checkpoint) (value.Value, error) {
				return value.Nil, errBoom
			}, nil
		}).
		RegisterAsync("nil", func(*Leaf) (scheduler.Work, error) { return nil, nil })

	in := newInstance(t, AsyncAct("boom"), reg, Options{Scheduler: s})
	require.Equal(t, Running, in.Tick(context.Background()))
	require.Equal(t, Failure, untilDone(t, in))
	trace := in.LastTrace()
	require.Len(t, trace, 1)
	require.Equal(t, TraceTaskFailed, trace[0].Kind)
	require.Contains(t, trace[0].Message, "boom")

	in = newInstance(t, AsyncAct("nil"), reg, Options{Scheduler: s})
	require.Equal(t, Failure, in.Tick(context.Background()))
	require.Equal(t, []TraceKind{TraceMisuse}, traceKinds(in))
}

func TestReactiveSeqCancelsAsyncChild(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	started := make(chan struct{}, 4)
	reg := NewRegistry().RegisterAsync("slow", blocking(started))
	in := newInstance(t, ReactiveSeq(Expr("enabled"), AsyncAct("slow").Named("slow")), reg, Options{Scheduler: s})
	ctx := context.Background()

	require.Equal(t, Running, in.Tick(ctx, enabled(true)))
	waitStarted(t, started)
	require.Equal(t, Running, in.Tick(ctx, enabled(true)))
	require.Equal(t, uint64(1), s.Stats().Submitted)

	require.Equal(t, Failure, in.Tick(ctx, enabled(false)))
	require.Equal(t, []TraceKind{TraceCancel, TraceHalt}, traceKinds(in))
	require.Equal(t, "slow", in.LastTrace()[0].Node)
	testutil.Eventually(t, func() bool { return s.Stats().Cancelled == 1 }, "task was not cancelled")

	// re-entering the branch starts a fresh task
	require.Equal(t, Running, in.Tick(ctx, enabled(true)))
	require.Equal(t, uint64(2), s.Stats().Submitted)
}

func TestCloseCancelsTasks(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	started := make(chan struct{}, 1)
	in := newInstance(t, AsyncAct("slow"), NewRegistry().RegisterAsync("slow", blocking(started)), Options{Scheduler: s})

	require.Equal(t, Running, in.Tick(context.Background()))
	waitStarted(t, started)
	require.NoError(t, in.Close())
	testutil.Eventually(t, func() bool { return s.Stats().Cancelled == 1 }, "task was not cancelled")

	require.Equal(t, Failure, in.Tick(context.Background()))
	require.ErrorIs(t, in.LastRejection(), ErrClosed)
	require.Equal(t, uint64(1), in.Stats().RejectedTicks)
}

func TestAsyncSubmitAfterSchedulerClose(t *testing.T) {
	t.Parallel()
	s := scheduler.New(scheduler.Config{Workers: 1})
	require.NoError(t, s.Close(context.Background()))
	in := newInstance(t, AsyncAct("slow"), NewRegistry().RegisterAsync("slow", blocking(make(chan struct{}, 1))), Options{Scheduler: s})
	require.Equal(t, Failure, in.Tick(context.Background()))
	require.Equal(t, []TraceKind{TraceTaskFailed}, traceKinds(in))
}

func TestAsyncOwnersAreDistinct(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	reg := NewRegistry().RegisterAsync("slow", blocking(make(chan struct{}, 4)))
	def := Seq(AsyncAct("slow").Named("a"), AsyncAct("slow").Named("b"))
	in1 := newInstance(t, def, reg, Options{Scheduler: s})
	in2 := newInstance(t, def, reg, Options{Scheduler: s})
	a, b := in1.graph.nodes[1], in1.graph.nodes[2]
	require.NotEqual(t, in1.owner(a), in1.owner(b))
	require.NotEqual(t, in1.owner(a), in2.owner(a))
}

func TestNewInstanceNeedsScheduler(t *testing.T) {
	t.Parallel()
	g, err := Compile(AsyncAct("slow"), NewRegistry().RegisterAsync("slow", blocking(nil)))
	require.NoError(t, err)
	_, err = NewInstance(g, Options{})
	require.ErrorContains(t, err, "needs a scheduler")
}
