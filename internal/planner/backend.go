package planner

import (
	"context"
	"log/slog"

	"github.com/unswei/muesli-bt-sub004/internal/value"
)

// Problem is everything a backend needs for one call.
type Problem struct {
	Model    Model
	State    []float64
	Params   value.Value
	Deadline Deadline
	// WorkMax is the request cap, or 0 for the backend default.
	WorkMax int
	Seed    uint64
	Rand    *Stream
	Logger  *slog.Logger
}

// Expired reports whether the budget is spent or ctx is done. Backends call
// it once per iteration, sample, or optimizer step.
func (p *Problem) Expired(ctx context.Context) bool {
	return p.Deadline.Expired() || ctx.Err() != nil
}

// Linearizer returns the model's analytic derivatives, if it has them.
func (p *Problem) Linearizer() (Linearizer, bool) {
	l, ok := p.Model.(Linearizer)
	return l, ok
}

// Outcome is a backend's answer before the dispatcher wraps it.
type Outcome struct {
	// Status is StatusOK or StatusTimeout; the dispatcher downgrades a
	// missing action to StatusNoAction.
	Status     Status
	U          []float64
	Confidence float64
	WorkDone   int
	Trace      value.Value
}

// Backend is one planning algorithm. Plan must check p.Expired at bounded
// granularity and return its best result so far once it does. A
// *ConfigError return becomes status=error.
type Backend interface {
	Name() string
	Plan(ctx context.Context, p *Problem) (*Outcome, error)
}

// TopK is the default length of trace top_k lists.
const TopK = 5
