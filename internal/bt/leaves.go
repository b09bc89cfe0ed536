package bt

import (
	"errors"
	"fmt"

	"github.com/unswei/muesli-bt-sub004/internal/planner"
	"github.com/unswei/muesli-bt-sub004/internal/scheduler"
	"github.com/unswei/muesli-bt-sub004/internal/value"
)

func (in *Instance) leaf(n *node) *Leaf {
	return &Leaf{Ctx: in.ctx, BB: in.bb, Node: n.label(), ID: n.id, Args: n.args, Tick: in.tick}
}

// protect runs a host callback, turning a panic into an error.
func protect[T any](fn func() (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// misuse records a host callback error. The node fails; the tick goes on.
func (in *Instance) misuse(n *node, err error) Status {
	merr := &MisuseError{Node: n.label(), Kind: n.kind, Err: err}
	in.addTrace(n, TraceMisuse, merr.Error())
	in.logger.Debug("[BT] leaf error", "instance", in.seq, "node", n.label(), "error", err)
	return Failure
}

func (in *Instance) evalCond(n *node) Status {
	var ok bool
	var err error
	if n.program != nil {
		ok, err = protect(func() (bool, error) { return runPredicate(n.program, in.bb.Named()) })
	} else {
		ok, err = protect(func() (bool, error) { return n.cond(in.leaf(n)) })
	}
	if err != nil {
		return in.misuse(n, err)
	}
	if ok {
		return Success
	}
	return Failure
}

func (in *Instance) evalAct(n *node) Status {
	st, err := protect(func() (Status, error) { return n.act(in.leaf(n)) })
	if err != nil {
		return in.misuse(n, err)
	}
	switch st {
	case Success, Failure, Running:
		return st
	}
	return in.misuse(n, fmt.Errorf("action returned %s", st))
}

// owner gives each async node of each instance its own scheduler lane.
func (in *Instance) owner(n *node) scheduler.Owner {
	return scheduler.Owner(in.seq<<32 | uint64(n.id))
}

// evalAsync submits on the first visit and polls on later ones. Results are
// only applied here, on the tick goroutine.
func (in *Instance) evalAsync(n *node) Status {
	s := &in.states[n.id]
	if !s.hasTask {
		work, err := protect(func() (scheduler.Work, error) { return n.async(in.leaf(n)) })
		if err == nil && work == nil {
			err = errors.New("nil work")
		}
		if err != nil {
			return in.misuse(n, err)
		}
		id, err := in.sched.Submit(in.owner(n), work)
		if err != nil {
			in.addTrace(n, TraceTaskFailed, err.Error())
			return Failure
		}
		s.task, s.hasTask = id, true
		return Running
	}

	info, err := in.sched.Poll(s.task)
	if err != nil {
		s.hasTask = false
		in.addTrace(n, TraceTaskFailed, err.Error())
		return Failure
	}
	switch info.Status {
	case scheduler.StatusQueued, scheduler.StatusRunning:
		return Running
	case scheduler.StatusCompleted:
		in.releaseTask(s)
		if n.resultKey.Valid() && !info.Consumed {
			in.bb.Put(n.resultKey, info.Result)
		}
		return Success
	case scheduler.StatusFailed:
		in.releaseTask(s)
		msg := "task failed"
		if info.Err != nil {
			msg = info.Err.Error()
		}
		in.addTrace(n, TraceTaskFailed, msg)
		return Failure
	}
	in.releaseTask(s)
	in.addTrace(n, TraceCancel, "task cancelled")
	return Failure
}

func (in *Instance) releaseTask(s *nodeState) {
	in.sched.Release(s.task)
	s.task, s.hasTask = 0, false
}

func (in *Instance) cancelTask(n *node, s *nodeState) {
	id := s.task
	cancelled := in.sched.Cancel(id)
	in.releaseTask(s)
	if cancelled {
		in.addTrace(n, TraceCancel, fmt.Sprintf("task %d", id))
	}
}

// evalPlan assembles a request from the static options and the blackboard,
// calls the planner and writes the action back. It succeeds only when the
// planner reports ok.
func (in *Instance) evalPlan(n *node) Status {
	spec := n.plan
	s := &in.states[n.id]

	req := spec.base
	if spec.stateKey.Valid() {
		v, ok := in.bb.Lookup(spec.stateKey)
		if !ok {
			return in.misuse(n, fmt.Errorf("state key %s not set", spec.stateKey))
		}
		v, err := in.bb.Deref(v)
		if err != nil {
			return in.misuse(n, fmt.Errorf("state key %s: %w", spec.stateKey, err))
		}
		req = req.With("state", v)
	}
	for _, input := range spec.inputs {
		if v, ok := in.bb.Lookup(input.key); ok {
			req = value.Merge(req, nested(input.field, v))
		}
	}
	if spec.warmStart && !s.nominal.IsNil() {
		req = value.Merge(req, nested([]string{spec.planner, "u_init"}, s.nominal))
	}

	res, err := protect(func() (*planner.Result, error) {
		return in.plan.Plan(in.ctx, req, planner.CallInfo{
			NodeName:  n.label(),
			SeedKey:   spec.seedKey,
			TickIndex: in.tick,
		}), nil
	})
	if err == nil && res == nil {
		err = errors.New("planner returned no result")
	}
	if err != nil {
		return in.misuse(n, err)
	}

	switch {
	case res.HasAction():
		in.bb.Put(spec.actionKey, planner.ActionValue(res.ActionSchema, value.Floats(res.U...)))
	case !spec.fallback.IsNil():
		in.bb.Put(spec.actionKey, planner.ActionValue(res.ActionSchema, spec.fallback))
	}
	if spec.metaKey.Valid() {
		in.bb.Put(spec.metaKey, res.ToValue())
	}
	if spec.warmStart {
		s.nominal = shiftNominal(res.Trace)
	}
	if res.Status != planner.StatusOK {
		msg := string(res.Status)
		if res.Error != "" {
			msg += ": " + res.Error
		}
		in.addTrace(n, TracePlanner, msg)
		return Failure
	}
	return Success
}

// nested wraps v in maps along path: nested([a b], v) is {a: {b: v}}.
func nested(path []string, v value.Value) value.Value {
	for i := len(path) - 1; i >= 0; i-- {
		v = value.Map(map[string]value.Value{path[i]: v})
	}
	return v
}

// shiftNominal advances a planner's nominal control sequence by one step,
// repeating the last control, for use as the next call's u_init.
func shiftNominal(trace value.Value) value.Value {
	seq, ok := trace.Field("u_nominal")
	if !ok {
		return value.Nil
	}
	steps, err := seq.AsList()
	if err != nil || len(steps) == 0 {
		return value.Nil
	}
	out := make([]value.Value, 0, len(steps))
	out = append(out, steps[1:]...)
	out = append(out, steps[len(steps)-1])
	return value.List(out...)
}
