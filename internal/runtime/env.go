package runtime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/unswei/muesli-bt-sub004/internal/planner"
	"github.com/unswei/muesli-bt-sub004/internal/value"
)

// Env is the world a Loop controls. Its methods are only called between
// ticks, from the loop goroutine.
type Env interface {
	// Observe returns the current observation. Each entry becomes a
	// blackboard input of the next tick.
	Observe(ctx context.Context) (map[string]value.Value, error)
	// Act applies the action the tree left on the blackboard.
	Act(ctx context.Context, action value.Value) error
	// Step advances the world by one period and reports whether the episode
	// is over.
	Step(ctx context.Context) (done bool, err error)
}

// Toy1D is a single integrator x' = x + dt*u with |u| <= UMax, matching the
// toy-1d planner model. The episode ends when |x| <= Tolerance or after
// MaxSteps steps.
type Toy1D struct {
	mu        sync.Mutex
	X         float64
	Dt        float64
	UMax      float64
	Tolerance float64
	MaxSteps  int
	steps     int
	u         float64
}

var toy1dActionSchema = planner.NewToy1D().ActionSchema()

// NewToy1D starts at x0 with the toy-1d model's constants.
func NewToy1D(x0 float64, maxSteps int) *Toy1D {
	return &Toy1D{X: x0, Dt: 0.1, UMax: 1, Tolerance: 0.01, MaxSteps: maxSteps}
}

func (e *Toy1D) Observe(context.Context) (map[string]value.Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return map[string]value.Value{
		"x":    value.Floats(e.X),
		"step": value.Int(int64(e.steps)),
	}, nil
}

// Act takes either a planner action map {action_schema, u} or a bare u.
func (e *Toy1D) Act(_ context.Context, action value.Value) error {
	if action.Kind() == value.KindMap {
		if schema, ok := action.Field("action_schema"); ok {
			if s, _ := schema.AsString(); s != "" && s != toy1dActionSchema {
				return fmt.Errorf("toy1d: action: schema %q, want %q", s, toy1dActionSchema)
			}
		}
		action, _ = action.Field("u")
	}
	u, err := action.AsFloats()
	if err != nil {
		return fmt.Errorf("toy1d: action: %w", err)
	}
	if len(u) != 1 {
		return fmt.Errorf("toy1d: action: want 1 value, got %d", len(u))
	}
	if math.IsNaN(u[0]) {
		return errors.New("toy1d: action is NaN")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.u = math.Max(-e.UMax, math.Min(e.UMax, u[0]))
	return nil
}

func (e *Toy1D) Step(context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.X += e.Dt * e.u
	e.u = 0
	e.steps++
	return math.Abs(e.X) <= e.Tolerance || (e.MaxSteps > 0 && e.steps >= e.MaxSteps), nil
}

// State returns the position and the number of steps taken.
func (e *Toy1D) State() (x float64, steps int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.X, e.steps
}
