package planner

import "time"

// Deadline is the wall-clock budget of one planning call, started at
// dispatch time.
type Deadline struct {
	start time.Time
	at    time.Time
	now   func() time.Time
}

// NewDeadline starts a budget at start.
func NewDeadline(start time.Time, budget time.Duration, now func() time.Time) Deadline {
	if now == nil {
		now = time.Now
	}
	return Deadline{start: start, at: start.Add(budget), now: now}
}

// BudgetFromMs converts a millisecond budget.
func BudgetFromMs(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

// Expired reports whether the budget is used up.
func (d Deadline) Expired() bool { return !d.now().Before(d.at) }

// Elapsed returns the time since dispatch.
func (d Deadline) Elapsed() time.Duration { return d.now().Sub(d.start) }
