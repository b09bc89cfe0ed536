package planner

import (
	"context"
	"time"

	"github.com/unswei/muesli-bt-sub004/internal/value"
)

// Record is the planner.v1 log line emitted once per Plan call.
type Record struct {
	Schema       string      `json:"schema_version"`
	Time         time.Time   `json:"ts"`
	RunID        string      `json:"run_id"`
	TickIndex    uint64      `json:"tick_index"`
	NodeName     string      `json:"node_name"`
	Planner      string      `json:"planner"`
	ModelService string      `json:"model_service"`
	Status       Status      `json:"status"`
	Seed         uint64      `json:"seed"`
	BudgetMs     float64     `json:"budget_ms"`
	TimeUsedMs   float64     `json:"time_used_ms"`
	WorkDone     int         `json:"work_done"`
	Confidence   float64     `json:"confidence"`
	ActionSchema string      `json:"action_schema,omitempty"`
	U            []float64   `json:"u,omitempty"`
	Error        string      `json:"error,omitempty"`
	Trace        value.Value `json:"trace"`
}

// LogSink receives planner records. Write is append-only; implementations
// must be safe for concurrent use.
type LogSink interface {
	Write(ctx context.Context, rec *Record) error
}

// LogSinkFunc adapts a function to LogSink.
type LogSinkFunc func(ctx context.Context, rec *Record) error

func (f LogSinkFunc) Write(ctx context.Context, rec *Record) error { return f(ctx, rec) }
