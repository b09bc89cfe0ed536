// Package planner implements the planner.request.v1 / planner.result.v1
// protocol, deterministic seed derivation, the wall-clock budget, the model
// registry, and the Dispatcher that routes requests to MCTS, MPPI or iLQR
// backends.
package planner

import (
	"errors"
	"fmt"
	"math"

	"github.com/unswei/muesli-bt-sub004/internal/value"
)

// Schema identifiers.
const (
	RequestSchema = "planner.request.v1"
	ResultSchema  = "planner.result.v1"
	RecordSchema  = "planner.v1"
)

// Planner names accepted by the dispatcher.
const (
	MCTS = "mcts"
	MPPI = "mppi"
	ILQR = "ilqr"
)

// KnownPlanners is the closed set of backend names, in canonical order.
var KnownPlanners = []string{MCTS, MPPI, ILQR}

// Status is the outcome of one planning call.
type Status string

const (
	StatusOK       Status = "ok"
	StatusTimeout  Status = "timeout"
	StatusError    Status = "error"
	StatusNoAction Status = "noaction"
)

// ConfigError is a request or backend configuration failure. It surfaces as
// status=error in the result and never as a crash.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "planner config: " + e.Reason
	}
	return fmt.Sprintf("planner config: %s: %s", e.Field, e.Reason)
}

func configErrorf(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is, or wraps, a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Request is a validated planner.request.v1.
type Request struct {
	Planner      string
	ModelService string
	State        []float64
	BudgetMs     float64
	Seed         uint64
	HasSeed      bool
	// WorkMax caps iterations, samples, or optimizer steps; 0 means the
	// backend default.
	WorkMax int
	// Params is the backend block, the map stored under the planner's name.
	Params value.Value
}

// ParseRequest validates the shared fields of a request map.
func ParseRequest(v value.Value) (*Request, error) {
	if v.Kind() != value.KindMap {
		return nil, configErrorf("", "request must be a map, got %s", v.Kind())
	}
	schema, ok := v.Field("schema_version")
	if !ok {
		return nil, configErrorf("schema_version", "missing")
	}
	if s, err := schema.AsString(); err != nil || s != RequestSchema {
		return nil, configErrorf("schema_version", "want %q, got %s", RequestSchema, schema)
	}

	req := &Request{}

	name, err := requiredString(v, "planner")
	if err != nil {
		return nil, err
	}
	if !isKnownPlanner(name) {
		return nil, configErrorf("planner", "unknown planner %q", name)
	}
	req.Planner = name

	if req.ModelService, err = requiredString(v, "model_service"); err != nil {
		return nil, err
	}

	state, ok := v.Field("state")
	if !ok || state.IsNil() {
		return nil, configErrorf("state", "missing")
	}
	if req.State, err = state.AsFloats(); err != nil {
		return nil, configErrorf("state", "%v", err)
	}
	for i, x := range req.State {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, configErrorf("state", "element %d is not finite", i)
		}
	}

	budget, ok := v.Field("budget_ms")
	if !ok {
		return nil, configErrorf("budget_ms", "missing")
	}
	if req.BudgetMs, err = budget.AsFloat(); err != nil {
		return nil, configErrorf("budget_ms", "%v", err)
	}
	if !(req.BudgetMs > 0) || math.IsInf(req.BudgetMs, 0) {
		return nil, configErrorf("budget_ms", "must be positive, got %v", req.BudgetMs)
	}

	if seed, ok := v.Field("seed"); ok && !seed.IsNil() {
		s, err := seed.AsInt()
		if err != nil || s < 0 {
			return nil, configErrorf("seed", "must be a non-negative integer, got %s", seed)
		}
		req.Seed, req.HasSeed = uint64(s), true
	}

	if wm, ok := v.Field("work_max"); ok && !wm.IsNil() {
		n, err := wm.AsInt()
		if err != nil || n <= 0 {
			return nil, configErrorf("work_max", "must be a positive integer, got %s", wm)
		}
		req.WorkMax = int(n)
	}

	req.Params, _ = v.Field(name)
	if !req.Params.IsNil() && req.Params.Kind() != value.KindMap {
		return nil, configErrorf(name, "backend block must be a map, got %s", req.Params.Kind())
	}
	return req, nil
}

func requiredString(v value.Value, field string) (string, error) {
	f, ok := v.Field(field)
	if !ok {
		return "", configErrorf(field, "missing")
	}
	s, err := f.AsString()
	if err != nil {
		return "", configErrorf(field, "%v", err)
	}
	if s == "" {
		return "", configErrorf(field, "empty")
	}
	return s, nil
}

func isKnownPlanner(name string) bool {
	for _, p := range KnownPlanners {
		if p == name {
			return true
		}
	}
	return false
}

// Result is a planner.result.v1.
type Result struct {
	Planner      string
	Status       Status
	ActionSchema string
	// U is the chosen control; nil when there is no action.
	U          []float64
	Confidence float64
	BudgetMs   float64
	TimeUsedMs float64
	WorkDone   int
	Seed       uint64
	Trace      value.Value
	Error      string
}

// ActionValue renders an action map {action_schema, u}.
func ActionValue(schema string, u value.Value) value.Value {
	return value.Map(map[string]value.Value{
		"action_schema": value.String(schema),
		"u":             u,
	})
}

// HasAction reports whether the result carries a control.
func (r *Result) HasAction() bool { return r != nil && r.U != nil }

// ToValue renders the result as a planner.result.v1 map.
func (r *Result) ToValue() value.Value {
	m := map[string]value.Value{
		"schema_version": value.String(ResultSchema),
		"planner":        value.String(r.Planner),
		"status":         value.String(string(r.Status)),
		"confidence":     value.Float(r.Confidence),
		"stats": value.Map(map[string]value.Value{
			"budget_ms":    value.Float(r.BudgetMs),
			"time_used_ms": value.Float(r.TimeUsedMs),
			"work_done":    value.Int(int64(r.WorkDone)),
			"seed":         value.Int(int64(r.Seed)),
		}),
	}
	if r.U != nil {
		m["action"] = ActionValue(r.ActionSchema, value.Floats(r.U...))
	}
	if !r.Trace.IsNil() {
		m["trace"] = r.Trace
	}
	if r.Error != "" {
		m["error"] = value.String(r.Error)
	}
	return value.Map(m)
}

// MarshalJSON encodes the planner.result.v1 map.
func (r *Result) MarshalJSON() ([]byte, error) {
	return r.ToValue().MarshalJSON()
}

func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x), x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
