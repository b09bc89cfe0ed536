// Package scheduler runs leaf actions that outlive a single tick on a fixed
// pool of worker goroutines.
//
// The tick goroutine never blocks on the scheduler: Submit, Poll, Cancel and
// Release only take a short internal lock. Tasks are grouped into lanes by
// owner (one lane per behavior tree node); a lane runs at most one task at a
// time, in submission order. Lanes of different owners run concurrently and
// with no ordering between them.
//
// Cancellation is cooperative. A running task's context is cancelled and its
// Checkpoint reports Cancelled; a task that never looks still runs to the end,
// but its result is discarded and it reports StatusCancelled.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unswei/muesli-bt-sub004/internal/value"
)

// DefaultWorkers is the pool size used when Config.Workers is not positive.
const DefaultWorkers = 4

var (
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("scheduler: closed")
	// ErrUnknownTask is returned for ids that were never issued or have been
	// released.
	ErrUnknownTask = errors.New("scheduler: unknown task")
)

// Status is the lifecycle state of a task.
type Status uint8

const (
	StatusQueued Status = iota + 1
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("unknown status (%d)", uint8(s))
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// TaskID identifies a task. Ids are strictly increasing and never reused.
type TaskID uint64

// Owner identifies the lane a task belongs to.
type Owner uint64

// Checkpoint lets running work observe cancellation.
type Checkpoint interface {
	Cancelled() bool
}

// Work is the unit executed on a worker. It must not touch the blackboard;
// whatever it returns is handed back to the owning node through Poll.
type Work func(ctx context.Context, cp Checkpoint) (value.Value, error)

// Config configures a Scheduler.
type Config struct {
	// Workers is the fixed pool size.
	Workers int
	Logger  *slog.Logger
}

// TaskInfo is a point-in-time view of a task.
type TaskInfo struct {
	ID     TaskID
	Owner  Owner
	Status Status
	// Result is set on the first Poll that observes StatusCompleted.
	Result value.Value
	Err    error
	// Consumed is true when an earlier Poll already took the result.
	Consumed       bool
	SubmitTime     time.Time
	StartTime      time.Time
	CompletionTime time.Time
}

// Stats is a snapshot of scheduler counters. Within any snapshot,
// Submitted >= Started >= Completed+Failed+Cancelled.
type Stats struct {
	Submitted        uint64
	Started          uint64
	Completed        uint64
	Failed           uint64
	Cancelled        uint64
	QueueDelayLastNs int64
	RunTimeLastNs    int64
	Workers          int
}

type task struct {
	id       TaskID
	owner    Owner
	work     Work
	status   Status
	result   value.Value
	err      error
	consumed bool

	submit, start, done time.Time

	cancelRequested atomic.Bool
	cancel          context.CancelFunc
}

func (t *task) Cancelled() bool { return t.cancelRequested.Load() }

type lane struct {
	owner   Owner
	pending []*task
	busy    bool
	queued  bool
}

// Scheduler is a fixed-size worker pool with per-owner FIFO lanes.
type Scheduler struct {
	logger  *slog.Logger
	workers int

	mu     sync.Mutex
	cond   *sync.Cond
	ready  []*lane
	lanes  map[Owner]*lane
	tasks  map[TaskID]*task
	nextID TaskID
	stats  Stats
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// New starts a scheduler with cfg.Workers goroutines.
func New(cfg Config) *Scheduler {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		logger:  logger,
		workers: workers,
		lanes:   make(map[Owner]*lane),
		tasks:   make(map[TaskID]*task),
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
	}
	s.cond = sync.NewCond(&s.mu)
	s.stats.Workers = workers
	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.worker(i)
	}
	return s
}

// Workers returns the pool size.
func (s *Scheduler) Workers() int { return s.workers }

// Submit enqueues work on owner's lane and returns its id without waiting.
func (s *Scheduler) Submit(owner Owner, work Work) (TaskID, error) {
	if work == nil {
		return 0, errors.New("scheduler: nil work")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	s.nextID++
	t := &task{
		id:     s.nextID,
		owner:  owner,
		work:   work,
		status: StatusQueued,
		submit: s.now(),
	}
	s.tasks[t.id] = t
	ln := s.lanes[owner]
	if ln == nil {
		ln = &lane{owner: owner}
		s.lanes[owner] = ln
	}
	ln.pending = append(ln.pending, t)
	s.stats.Submitted++
	s.schedule(ln)
	return t.id, nil
}

// schedule puts an idle lane with pending work on the ready queue.
// Must be called with s.mu held.
func (s *Scheduler) schedule(ln *lane) {
	if ln.busy || ln.queued {
		return
	}
	if len(ln.pending) == 0 {
		delete(s.lanes, ln.owner)
		return
	}
	ln.queued = true
	s.ready = append(s.ready, ln)
	s.cond.Signal()
}

// Poll returns the current state of a task. The first Poll to observe a
// completed task carries its result and marks it consumed; later polls
// report Consumed without the result.
func (s *Scheduler) Poll(id TaskID) (TaskInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[id]
	if t == nil {
		return TaskInfo{}, ErrUnknownTask
	}
	info := TaskInfo{
		ID:             t.id,
		Owner:          t.owner,
		Status:         t.status,
		Err:            t.err,
		SubmitTime:     t.submit,
		StartTime:      t.start,
		CompletionTime: t.done,
	}
	if t.status == StatusCompleted {
		if t.consumed {
			info.Consumed = true
		} else {
			info.Result = t.result
			t.consumed = true
		}
	}
	return info, nil
}

// Peek returns the status of a task without consuming anything.
func (s *Scheduler) Peek(id TaskID) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[id]
	if t == nil {
		return 0, ErrUnknownTask
	}
	return t.status, nil
}

// Cancel requests cooperative cancellation. It returns false if the task is
// unknown or already terminal.
func (s *Scheduler) Cancel(id TaskID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[id]
	if t == nil || t.status.Terminal() {
		return false
	}
	t.cancelRequested.Store(true)
	running := t.status == StatusRunning
	t.status = StatusCancelled
	if running && t.cancel != nil {
		t.cancel()
	}
	return true
}

// Release frees the slot of a terminal task. It returns false if the task is
// unknown or still queued or running.
func (s *Scheduler) Release(id TaskID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[id]
	if t == nil || !t.status.Terminal() {
		return false
	}
	delete(s.tasks, id)
	return true
}

// Stats returns a consistent snapshot of the counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close stops accepting work, cancels everything not yet finished and waits
// for the workers to exit or ctx to end.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		for _, t := range s.tasks {
			if !t.status.Terminal() {
				t.cancelRequested.Store(true)
				t.status = StatusCancelled
			}
		}
		s.cancel()
		s.cond.Broadcast()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) worker(n int) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		for len(s.ready) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		ln := s.ready[0]
		s.ready[0] = nil
		s.ready = s.ready[1:]
		ln.queued = false
		t := ln.pending[0]
		ln.pending[0] = nil
		ln.pending = ln.pending[1:]
		ln.busy = true

		t.start = s.now()
		s.stats.Started++
		s.stats.QueueDelayLastNs = t.start.Sub(t.submit).Nanoseconds()

		if t.cancelRequested.Load() {
			// cancelled while queued: account for it without running
			t.done = t.start
			s.stats.Cancelled++
			ln.busy = false
			s.schedule(ln)
			s.mu.Unlock()
			continue
		}
		t.status = StatusRunning
		ctx, cancel := context.WithCancel(s.ctx)
		t.cancel = cancel
		s.mu.Unlock()

		result, err := s.run(ctx, t)
		cancel()

		s.mu.Lock()
		t.done = s.now()
		s.stats.RunTimeLastNs = t.done.Sub(t.start).Nanoseconds()
		switch {
		case t.cancelRequested.Load():
			t.status = StatusCancelled
			s.stats.Cancelled++
		case err != nil:
			t.status = StatusFailed
			t.err = err
			s.stats.Failed++
			s.logger.Debug("[Scheduler] task failed", "task", t.id, "owner", t.owner, "worker", n, "error", err)
		default:
			t.status = StatusCompleted
			t.result = result
			s.stats.Completed++
		}
		ln.busy = false
		s.schedule(ln)
		s.mu.Unlock()
	}
}

// run executes the work, converting a panic into a task failure.
func (s *Scheduler) run(ctx context.Context, t *task) (result value.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: panic in task %d: %v", t.id, r)
		}
	}()
	return t.work(ctx, t)
}
