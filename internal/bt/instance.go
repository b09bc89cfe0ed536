package bt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unswei/muesli-bt-sub004/internal/blackboard"
	"github.com/unswei/muesli-bt-sub004/internal/goroutineid"
	"github.com/unswei/muesli-bt-sub004/internal/planner"
	"github.com/unswei/muesli-bt-sub004/internal/scheduler"
	"github.com/unswei/muesli-bt-sub004/internal/value"
)

// Scheduler is the part of *scheduler.Scheduler used by AsyncAct leaves.
type Scheduler interface {
	Submit(owner scheduler.Owner, work scheduler.Work) (scheduler.TaskID, error)
	Poll(id scheduler.TaskID) (scheduler.TaskInfo, error)
	Cancel(id scheduler.TaskID) bool
	Release(id scheduler.TaskID) bool
}

// Planner is the part of *planner.Dispatcher used by PlanAction leaves.
type Planner interface {
	Plan(ctx context.Context, request value.Value, call planner.CallInfo) *planner.Result
}

// HaltPolicy controls what a halted node forgets.
type HaltPolicy struct {
	// ResetCounters clears Repeat and Retry counters when their subtree is
	// halted. Nodes override it with the reset_on_halt option.
	ResetCounters bool
}

// DefaultHaltPolicy is used when Options.HaltPolicy is nil.
var DefaultHaltPolicy = HaltPolicy{ResetCounters: true}

// Options configures an Instance.
type Options struct {
	// Scheduler is required if the graph has AsyncAct leaves.
	Scheduler Scheduler
	// Planner is required if the graph has PlanAction leaves.
	Planner Planner
	// Blackboard defaults to a fresh one. It must not be shared with another
	// instance.
	Blackboard *blackboard.Blackboard
	// TickBudget is the overrun threshold; 0 disables overrun accounting.
	TickBudget time.Duration
	HaltPolicy *HaltPolicy
	Logger     *slog.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Input is one blackboard write applied at the start of a tick.
type Input struct {
	Key   blackboard.Key
	Value value.Value
}

// In is an Input under a symbol key.
func In(name string, v value.Value) Input { return Input{Key: blackboard.Sym(name), Value: v} }

var instanceSeq atomic.Uint64

// Instance is the mutable runtime of one Graph: per-node state, stats and a
// blackboard. Ticks must not overlap; an overlapping Tick is rejected with
// Failure rather than corrupting state. Stats and LastTrace may be read from
// any goroutine.
type Instance struct {
	graph  *Graph
	seq    uint64
	bb     *blackboard.Blackboard
	sched  Scheduler
	plan   Planner
	halt   HaltPolicy
	logger *slog.Logger
	now    func() time.Time
	budget time.Duration

	// tick-goroutine state
	states []nodeState
	ctx    context.Context
	tick   uint64
	trace  []TraceRecord

	counters      []nodeCounters
	tickCount     atomic.Uint64
	overruns      atomic.Uint64
	rejected      atomic.Uint64
	tickLastNs    atomic.Int64
	tickMaxNs     atomic.Int64
	tickTotalNs   atomic.Int64
	lastTrace     atomic.Pointer[[]TraceRecord]
	lastRejection atomic.Pointer[error]
	closed        atomic.Bool
}

type nodeState struct {
	status  Status
	cursor  int
	counter int
	task    scheduler.TaskID
	hasTask bool
	// nominal is the shifted control sequence of the last plan, for warm starts.
	nominal value.Value
}

type nodeCounters struct {
	status  atomic.Uint32
	lastNs  atomic.Int64
	maxNs   atomic.Int64
	success atomic.Uint64
	failure atomic.Uint64
	running atomic.Uint64
}

// NewInstance binds a fresh runtime to g.
func NewInstance(g *Graph, opts Options) (*Instance, error) {
	if g == nil || g.root == nil {
		return nil, errors.New("bt: nil graph")
	}
	for _, n := range g.nodes {
		if n.kind == KindAsyncAct && opts.Scheduler == nil {
			return nil, fmt.Errorf("bt: node %s needs a scheduler", n.label())
		}
		if n.kind == KindPlanAction && opts.Planner == nil {
			return nil, fmt.Errorf("bt: node %s needs a planner", n.label())
		}
	}
	in := &Instance{
		graph:    g,
		seq:      instanceSeq.Add(1),
		bb:       opts.Blackboard,
		sched:    opts.Scheduler,
		plan:     opts.Planner,
		halt:     DefaultHaltPolicy,
		logger:   opts.Logger,
		now:      opts.Now,
		budget:   opts.TickBudget,
		states:   make([]nodeState, len(g.nodes)),
		counters: make([]nodeCounters, len(g.nodes)),
	}
	if opts.HaltPolicy != nil {
		in.halt = *opts.HaltPolicy
	}
	if in.bb == nil {
		in.bb = blackboard.New()
	}
	if in.logger == nil {
		in.logger = slog.Default()
	}
	if in.now == nil {
		in.now = time.Now
	}
	return in, nil
}

// Graph returns the compiled graph.
func (in *Instance) Graph() *Graph { return in.graph }

// Blackboard returns the instance's blackboard. Only touch it between ticks,
// from the goroutine that ticks.
func (in *Instance) Blackboard() *blackboard.Blackboard { return in.bb }

// ID is unique among instances in the process.
func (in *Instance) ID() uint64 { return in.seq }

// Tick writes inputs to the blackboard and evaluates the tree once. It
// always returns Running, Success or Failure.
func (in *Instance) Tick(ctx context.Context, inputs ...Input) Status {
	gid := goroutineid.Get()
	if !in.bb.Bind(gid) {
		in.reject(ErrConcurrentTick)
		return Failure
	}
	defer in.bb.Unbind(gid)
	if in.closed.Load() {
		in.reject(ErrClosed)
		return Failure
	}

	if ctx == nil {
		ctx = context.Background()
	}
	start := in.now()
	in.ctx = ctx
	in.tick = in.tickCount.Load()
	in.trace = nil
	for _, i := range inputs {
		in.bb.Put(i.Key, i.Value)
	}

	st := in.eval(in.graph.root)

	elapsed := in.now().Sub(start)
	ns := elapsed.Nanoseconds()
	in.tickLastNs.Store(ns)
	if ns > in.tickMaxNs.Load() {
		in.tickMaxNs.Store(ns)
	}
	in.tickTotalNs.Add(ns)
	if in.budget > 0 && elapsed > in.budget {
		in.overruns.Add(1)
		msg := fmt.Sprintf("tick took %s, budget %s", elapsed, in.budget)
		in.addTrace(in.graph.root, TraceOverrun, msg)
		in.logger.Warn("[BT] tick overrun", "instance", in.seq, "tick", in.tick, "elapsed", elapsed, "budget", in.budget)
	}
	trace := in.trace
	in.lastTrace.Store(&trace)
	in.ctx = nil
	in.tickCount.Add(1)
	return st
}

func (in *Instance) reject(err error) {
	in.rejected.Add(1)
	in.lastRejection.Store(&err)
	in.logger.Warn("[BT] tick rejected", "instance", in.seq, "error", err)
}

// LastRejection returns the error of the most recent rejected Tick, if any.
func (in *Instance) LastRejection() error {
	if p := in.lastRejection.Load(); p != nil {
		return *p
	}
	return nil
}

// Reset halts the tree, cancelling in-flight tasks, and returns every node
// to idle. The blackboard and stats are kept.
func (in *Instance) Reset() error {
	gid := goroutineid.Get()
	if !in.bb.Bind(gid) {
		return ErrConcurrentTick
	}
	defer in.bb.Unbind(gid)
	in.trace = nil
	in.haltNode(in.graph.root)
	for i := range in.states {
		in.states[i] = nodeState{}
		in.counters[i].status.Store(uint32(Idle))
	}
	return nil
}

// Close resets the instance and rejects further ticks.
func (in *Instance) Close() error {
	if err := in.Reset(); err != nil {
		return err
	}
	in.closed.Store(true)
	return nil
}
