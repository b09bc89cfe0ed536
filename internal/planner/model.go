package planner

import (
	"fmt"
	"sort"
	"sync"
)

// Bounds limits each control dimension. Lo[i] may be -Inf and Hi[i] +Inf.
type Bounds struct {
	Lo, Hi []float64
}

// Clip clamps u in place and returns it.
func (b Bounds) Clip(u []float64) []float64 {
	for i := range u {
		if i < len(b.Lo) && i < len(b.Hi) {
			u[i] = Clamp(u[i], b.Lo[i], b.Hi[i])
		}
	}
	return u
}

// Model is a discrete-time dynamics and cost model served under a name.
//
// Step must be a pure function of its arguments; backends call it from
// several goroutines at once.
type Model interface {
	Name() string
	StateDim() int
	ActionDim() int
	// ActionSchema names the meaning of u, copied into results.
	ActionSchema() string
	ActionBounds() Bounds
	// Step returns the successor state and the running cost of applying u in x.
	Step(x, u []float64) (next []float64, cost float64)
	TerminalCost(x []float64) float64
}

// Derivatives is a first-order dynamics and second-order cost expansion at
// (x, u). Matrices are row-major: Fx is n×n, Fu is n×m, Lxx n×n, Luu m×m,
// Lux m×n.
type Derivatives struct {
	Fx, Fu        []float64
	Lx, Lu        []float64
	Lxx, Luu, Lux []float64
}

// Linearizer is implemented by models that supply analytic derivatives.
type Linearizer interface {
	Linearize(x, u []float64) Derivatives
	// TerminalDerivatives returns the gradient and row-major Hessian of the
	// terminal cost.
	TerminalDerivatives(x []float64) (vx, vxx []float64)
}

// Terminator is implemented by models with absorbing terminal states.
type Terminator interface {
	Terminal(x []float64) bool
}

// ModelRegistry maps model_service names to models. It is safe for
// concurrent use.
type ModelRegistry struct {
	mu     sync.RWMutex
	models map[string]Model
}

// NewModelRegistry returns a registry holding the built-in models.
func NewModelRegistry() *ModelRegistry {
	r := &ModelRegistry{models: make(map[string]Model)}
	for _, m := range []Model{NewToy1D(), NewDoubleIntegrator(), NewPendulum()} {
		r.models[m.Name()] = m
	}
	return r
}

// Register adds or replaces a model.
func (r *ModelRegistry) Register(m Model) error {
	if m == nil || m.Name() == "" {
		return fmt.Errorf("planner: model must have a name")
	}
	if m.StateDim() <= 0 || m.ActionDim() <= 0 {
		return fmt.Errorf("planner: model %q: dimensions must be positive", m.Name())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.Name()] = m
	return nil
}

// Lookup returns the model registered under name.
func (r *ModelRegistry) Lookup(name string) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

// Names lists registered models in sorted order.
func (r *ModelRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for n := range r.models {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Rollout applies the control sequence from x0 and returns the total cost,
// terminal cost included, and the visited states (len(us)+1 of them).
func Rollout(m Model, x0 []float64, us [][]float64) (float64, [][]float64) {
	xs := make([][]float64, len(us)+1)
	xs[0] = x0
	total := 0.0
	x := x0
	for t, u := range us {
		next, c := m.Step(x, u)
		total += c
		x = next
		xs[t+1] = x
	}
	return total + m.TerminalCost(x), xs
}
