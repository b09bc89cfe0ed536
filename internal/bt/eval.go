package bt

// eval ticks n and records its status and timing.
func (in *Instance) eval(n *node) Status {
	start := in.now()
	var st Status
	switch n.kind {
	case KindSeq:
		st = in.evalSeq(n)
	case KindSel:
		st = in.evalSel(n)
	case KindReactiveSeq:
		st = in.evalReactiveSeq(n)
	case KindInvert:
		st = in.evalInvert(n)
	case KindRepeat:
		st = in.evalRepeat(n)
	case KindRetry:
		st = in.evalRetry(n)
	case KindCond:
		st = in.evalCond(n)
	case KindAct:
		st = in.evalAct(n)
	case KindAsyncAct:
		st = in.evalAsync(n)
	case KindPlanAction:
		st = in.evalPlan(n)
	default:
		st = Failure
	}
	in.states[n.id].status = st
	in.record(n, st, in.now().Sub(start))
	return st
}

// Seq and Sel remember the running child and resume there, so children
// before it are not re-evaluated until the composite finishes.

func (in *Instance) evalSeq(n *node) Status {
	s := &in.states[n.id]
	for i := s.cursor; i < len(n.children); i++ {
		switch in.eval(n.children[i]) {
		case Running:
			s.cursor = i
			return Running
		case Failure:
			s.cursor = 0
			return Failure
		}
	}
	s.cursor = 0
	return Success
}

func (in *Instance) evalSel(n *node) Status {
	s := &in.states[n.id]
	for i := s.cursor; i < len(n.children); i++ {
		switch in.eval(n.children[i]) {
		case Running:
			s.cursor = i
			return Running
		case Success:
			s.cursor = 0
			return Success
		}
	}
	s.cursor = 0
	return Failure
}

// evalReactiveSeq re-checks every child from the first on each tick. When a
// child fails or runs, whatever was running to its right is halted.
func (in *Instance) evalReactiveSeq(n *node) Status {
	for i, c := range n.children {
		switch in.eval(c) {
		case Running:
			in.haltFrom(n, i+1)
			return Running
		case Failure:
			in.haltFrom(n, i+1)
			return Failure
		}
	}
	return Success
}

func (in *Instance) evalInvert(n *node) Status {
	switch in.eval(n.children[0]) {
	case Success:
		return Failure
	case Failure:
		return Success
	}
	return Running
}

// evalRepeat needs n consecutive child successes. Synchronous successes are
// counted within one tick; the count survives Running.
func (in *Instance) evalRepeat(n *node) Status {
	s := &in.states[n.id]
	for s.counter < n.n {
		switch in.eval(n.children[0]) {
		case Running:
			return Running
		case Failure:
			s.counter = 0
			return Failure
		}
		s.counter++
	}
	s.counter = 0
	return Success
}

// evalRetry allows up to n failures before giving up.
func (in *Instance) evalRetry(n *node) Status {
	s := &in.states[n.id]
	for {
		switch in.eval(n.children[0]) {
		case Running:
			return Running
		case Success:
			s.counter = 0
			return Success
		}
		if s.counter >= n.n {
			s.counter = 0
			return Failure
		}
		s.counter++
	}
}

func (in *Instance) haltFrom(n *node, from int) {
	for _, c := range n.children[from:] {
		in.haltNode(c)
	}
}

// haltNode stops a running subtree: tasks are cancelled, cursors rewound
// and, subject to the halt policy, counters cleared. Idle nodes are left
// alone.
func (in *Instance) haltNode(n *node) {
	s := &in.states[n.id]
	if s.status != Running && !s.hasTask {
		return
	}
	for _, c := range n.children {
		in.haltNode(c)
	}
	if s.hasTask {
		in.cancelTask(n, s)
	}
	if (n.kind == KindRepeat || n.kind == KindRetry) && in.resetOnHalt(n) {
		s.counter = 0
	}
	s.cursor = 0
	s.status = Idle
	in.counters[n.id].status.Store(uint32(Idle))
	in.addTrace(n, TraceHalt, "")
}

func (in *Instance) resetOnHalt(n *node) bool {
	if n.resetOnHalt != nil {
		return *n.resetOnHalt
	}
	return in.halt.ResetCounters
}
