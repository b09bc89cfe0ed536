package bt

import "time"

// NodeStats is a snapshot of one node's counters.
type NodeStats struct {
	ID           int
	Name         string
	Kind         Kind
	Status       Status
	LastNs       int64
	MaxNs        int64
	SuccessCount uint64
	FailureCount uint64
	RunningCount uint64
}

// Stats is a snapshot of an instance's counters. Fields are read one at a
// time, so a snapshot taken during a tick may mix that tick's updates.
type Stats struct {
	TickCount        uint64
	TickOverrunCount uint64
	TickLastNs       int64
	TickMaxNs        int64
	TickTotalNs      int64
	TickBudgetMs     float64
	// RejectedTicks counts overlapping or post-Close ticks.
	RejectedTicks uint64
	Nodes         []NodeStats
}

// Stats returns the current counters. Safe to call from any goroutine.
func (in *Instance) Stats() Stats {
	s := Stats{
		TickCount:        in.tickCount.Load(),
		TickOverrunCount: in.overruns.Load(),
		TickLastNs:       in.tickLastNs.Load(),
		TickMaxNs:        in.tickMaxNs.Load(),
		TickTotalNs:      in.tickTotalNs.Load(),
		TickBudgetMs:     float64(in.budget) / float64(time.Millisecond),
		RejectedTicks:    in.rejected.Load(),
		Nodes:            make([]NodeStats, len(in.graph.nodes)),
	}
	for i, n := range in.graph.nodes {
		c := &in.counters[i]
		s.Nodes[i] = NodeStats{
			ID:           n.id,
			Name:         n.label(),
			Kind:         n.kind,
			Status:       Status(c.status.Load()),
			LastNs:       c.lastNs.Load(),
			MaxNs:        c.maxNs.Load(),
			SuccessCount: c.success.Load(),
			FailureCount: c.failure.Load(),
			RunningCount: c.running.Load(),
		}
	}
	return s
}

// NodeStats returns the counters of the named node.
func (in *Instance) NodeStats(name string) (NodeStats, bool) {
	id, ok := in.graph.Lookup(name)
	if !ok {
		return NodeStats{}, false
	}
	return in.Stats().Nodes[id], true
}

func (in *Instance) record(n *node, st Status, d time.Duration) {
	c := &in.counters[n.id]
	ns := d.Nanoseconds()
	c.lastNs.Store(ns)
	if ns > c.maxNs.Load() {
		c.maxNs.Store(ns)
	}
	c.status.Store(uint32(st))
	switch st {
	case Success:
		c.success.Add(1)
	case Failure:
		c.failure.Add(1)
	case Running:
		c.running.Add(1)
	}
}
