package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unswei/muesli-bt-sub004/internal/testutil"
	"github.com/unswei/muesli-bt-sub004/internal/value"
)

func newScheduler(t *testing.T, workers int) *Scheduler {
	t.Helper()
	s := New(Config{Workers: workers})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testutil.AsyncTimeout)
		defer cancel()
		require.NoError(t, s.Close(ctx))
	})
	return s
}

func waitTerminal(t *testing.T, s *Scheduler, id TaskID) Status {
	t.Helper()
	st, err := testutil.WaitForState(context.Background(), func() Status {
		st, _ := s.Peek(id)
		return st
	}, Status.Terminal, testutil.AsyncTimeout, testutil.PollingInterval)
	require.NoError(t, err)
	return st
}

func constant(v value.Value) Work {
	return func(context.Context, Checkpoint) (value.Value, error) { return v, nil }
}

func TestSubmitPollRelease(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 2)

	id, err := s.Submit(1, constant(value.Int(42)))
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, waitTerminal(t, s, id))

	info, err := s.Poll(id)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, info.Status)
	require.False(t, info.Consumed)
	require.True(t, value.Equal(value.Int(42), info.Result))
	require.False(t, info.StartTime.Before(info.SubmitTime))
	require.False(t, info.CompletionTime.Before(info.StartTime))

	again, err := s.Poll(id)
	require.NoError(t, err)
	require.True(t, again.Consumed)
	require.True(t, again.Result.IsNil())

	require.True(t, s.Release(id))
	require.False(t, s.Release(id))
	_, err = s.Poll(id)
	require.ErrorIs(t, err, ErrUnknownTask)
}

func TestTaskIDsStrictlyIncrease(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 1)
	var last TaskID
	for i := 0; i < 50; i++ {
		id, err := s.Submit(Owner(i%3), constant(value.Nil))
		require.NoError(t, err)
		require.Greater(t, id, last)
		last = id
	}
}

func TestFailedAndPanickingWork(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 2)
	boom := errors.New("boom")

	failed, err := s.Submit(1, func(context.Context, Checkpoint) (value.Value, error) {
		return value.Nil, boom
	})
	require.NoError(t, err)
	panicked, err := s.Submit(2, func(context.Context, Checkpoint) (value.Value, error) {
		panic("kaboom")
	})
	require.NoError(t, err)

	require.Equal(t, StatusFailed, waitTerminal(t, s, failed))
	require.Equal(t, StatusFailed, waitTerminal(t, s, panicked))

	info, err := s.Poll(failed)
	require.NoError(t, err)
	require.ErrorIs(t, info.Err, boom)

	info, err = s.Poll(panicked)
	require.NoError(t, err)
	require.ErrorContains(t, info.Err, "kaboom")

	st := s.Stats()
	require.Equal(t, uint64(2), st.Failed)
}

func TestCancelRunningDiscardsResult(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 1)
	started := make(chan struct{})
	release := make(chan struct{})

	// ignores cancellation entirely
	id, err := s.Submit(7, func(context.Context, Checkpoint) (value.Value, error) {
		close(started)
		<-release
		return value.String("late"), nil
	})
	require.NoError(t, err)
	<-started

	require.True(t, s.Cancel(id))
	require.False(t, s.Cancel(id))
	close(release)

	testutil.Eventually(t, func() bool {
		st := s.Stats()
		return st.Cancelled == 1
	}, "task accounted as cancelled")

	info, err := s.Poll(id)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, info.Status)
	require.True(t, info.Result.IsNil())
	require.Zero(t, s.Stats().Completed)
}

func TestCancelCooperative(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 1)
	started := make(chan struct{})
	var sawCheckpoint atomic.Bool

	id, err := s.Submit(1, func(ctx context.Context, cp Checkpoint) (value.Value, error) {
		close(started)
		<-ctx.Done()
		sawCheckpoint.Store(cp.Cancelled())
		return value.Nil, ctx.Err()
	})
	require.NoError(t, err)
	<-started
	require.True(t, s.Cancel(id))
	testutil.Eventually(t, func() bool { return s.Stats().Cancelled == 1 }, "cancel observed")
	require.True(t, sawCheckpoint.Load())
	require.Zero(t, s.Stats().Failed)
}

func TestCancelQueuedNeverRuns(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 1)
	block := make(chan struct{})
	var ran atomic.Bool

	first, err := s.Submit(1, func(context.Context, Checkpoint) (value.Value, error) {
		<-block
		return value.Nil, nil
	})
	require.NoError(t, err)
	second, err := s.Submit(1, func(context.Context, Checkpoint) (value.Value, error) {
		ran.Store(true)
		return value.Nil, nil
	})
	require.NoError(t, err)

	require.True(t, s.Cancel(second))
	st, err := s.Peek(second)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, st)

	close(block)
	require.Equal(t, StatusCompleted, waitTerminal(t, s, first))
	testutil.Eventually(t, func() bool { return s.Stats().Cancelled == 1 }, "queued cancel accounted")
	require.False(t, ran.Load())
	require.False(t, s.Cancel(first))
}

func TestOwnerLaneIsFIFO(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 4)
	var (
		mu    sync.Mutex
		order []int
		ids   []TaskID
	)
	for i := 0; i < 20; i++ {
		i := i
		id, err := s.Submit(9, func(context.Context, Checkpoint) (value.Value, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return value.Int(int64(i)), nil
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		waitTerminal(t, s, id)
	}
	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		require.Equal(t, i, v)
	}
}

func TestOwnersRunConcurrently(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	both := make(chan struct{})
	go func() {
		wg.Wait()
		close(both)
	}()
	rendezvous := func(ctx context.Context, _ Checkpoint) (value.Value, error) {
		wg.Done()
		select {
		case <-both:
			return value.Bool(true), nil
		case <-ctx.Done():
			return value.Nil, ctx.Err()
		}
	}
	a, err := s.Submit(1, rendezvous)
	require.NoError(t, err)
	b, err := s.Submit(2, rendezvous)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, waitTerminal(t, s, a))
	require.Equal(t, StatusCompleted, waitTerminal(t, s, b))
}

func TestStatsInvariantUnderLoad(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 3)
	stop := make(chan struct{})
	violations := make(chan Stats, 1)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			st := s.Stats()
			if st.Submitted < st.Started || st.Started < st.Completed+st.Failed+st.Cancelled {
				select {
				case violations <- st:
				default:
				}
				return
			}
		}
	}()

	var ids []TaskID
	for i := 0; i < 200; i++ {
		work := constant(value.Int(int64(i)))
		if i%5 == 0 {
			work = func(context.Context, Checkpoint) (value.Value, error) {
				return value.Nil, errors.New("odd one out")
			}
		}
		id, err := s.Submit(Owner(i%7), work)
		require.NoError(t, err)
		if i%11 == 0 {
			s.Cancel(id)
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		waitTerminal(t, s, id)
	}
	testutil.Eventually(t, func() bool {
		st := s.Stats()
		return st.Completed+st.Failed+st.Cancelled == st.Submitted
	}, "all tasks accounted")
	close(stop)

	select {
	case st := <-violations:
		t.Fatalf("counter invariant violated: %+v", st)
	default:
	}
	st := s.Stats()
	require.Equal(t, uint64(200), st.Submitted)
	require.Equal(t, 3, st.Workers)
}

func TestSubmitAfterClose(t *testing.T) {
	t.Parallel()
	s := New(Config{Workers: 1})
	require.NoError(t, s.Close(context.Background()))
	_, err := s.Submit(1, constant(value.Nil))
	require.ErrorIs(t, err, ErrClosed)
}

func TestCloseCancelsInFlight(t *testing.T) {
	t.Parallel()
	s := New(Config{Workers: 1})
	started := make(chan struct{})
	id, err := s.Submit(1, func(ctx context.Context, _ Checkpoint) (value.Value, error) {
		close(started)
		<-ctx.Done()
		return value.Nil, ctx.Err()
	})
	require.NoError(t, err)
	<-started
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))
	st, err := s.Peek(id)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, st)
}

func TestStatusString(t *testing.T) {
	t.Parallel()
	require.Equal(t, "queued", StatusQueued.String())
	require.Equal(t, "cancelled", StatusCancelled.String())
	require.Contains(t, Status(99).String(), "99")
	require.False(t, StatusRunning.Terminal())
	require.True(t, StatusFailed.Terminal())
}
