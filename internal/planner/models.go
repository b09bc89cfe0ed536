package planner

import "math"

// Toy1D is a single integrator x' = x + u·dt driven towards the origin with
// quadratic cost. Its derivatives are analytic.
type Toy1D struct {
	Dt, Q, R, Qf float64
	UMax         float64
}

func NewToy1D() *Toy1D { return &Toy1D{Dt: 0.1, Q: 1, R: 0.1, Qf: 1, UMax: 1} }

func (m *Toy1D) Name() string         { return "toy-1d" }
func (m *Toy1D) StateDim() int        { return 1 }
func (m *Toy1D) ActionDim() int       { return 1 }
func (m *Toy1D) ActionSchema() string { return "toy1d.velocity.v1" }
func (m *Toy1D) ActionBounds() Bounds {
	return Bounds{Lo: []float64{-m.UMax}, Hi: []float64{m.UMax}}
}

func (m *Toy1D) Step(x, u []float64) ([]float64, float64) {
	cost := m.Q*x[0]*x[0] + m.R*u[0]*u[0]
	return []float64{x[0] + u[0]*m.Dt}, cost
}

func (m *Toy1D) TerminalCost(x []float64) float64 { return m.Qf * x[0] * x[0] }

func (m *Toy1D) Linearize(x, u []float64) Derivatives {
	return Derivatives{
		Fx:  []float64{1},
		Fu:  []float64{m.Dt},
		Lx:  []float64{2 * m.Q * x[0]},
		Lu:  []float64{2 * m.R * u[0]},
		Lxx: []float64{2 * m.Q},
		Luu: []float64{2 * m.R},
		Lux: []float64{0},
	}
}

func (m *Toy1D) TerminalDerivatives(x []float64) ([]float64, []float64) {
	return []float64{2 * m.Qf * x[0]}, []float64{2 * m.Qf}
}

// DoubleIntegrator is a point mass with state (position, velocity) and
// acceleration control. Its derivatives are analytic.
type DoubleIntegrator struct {
	Dt         float64
	Qp, Qv, R  float64
	Qfp, Qfv   float64
	AccelLimit float64
}

func NewDoubleIntegrator() *DoubleIntegrator {
	return &DoubleIntegrator{Dt: 0.1, Qp: 1, Qv: 0.1, R: 0.01, Qfp: 10, Qfv: 1, AccelLimit: 2}
}

func (m *DoubleIntegrator) Name() string         { return "double-integrator" }
func (m *DoubleIntegrator) StateDim() int        { return 2 }
func (m *DoubleIntegrator) ActionDim() int       { return 1 }
func (m *DoubleIntegrator) ActionSchema() string { return "double-integrator.accel.v1" }
func (m *DoubleIntegrator) ActionBounds() Bounds {
	return Bounds{Lo: []float64{-m.AccelLimit}, Hi: []float64{m.AccelLimit}}
}

func (m *DoubleIntegrator) Step(x, u []float64) ([]float64, float64) {
	p, v := x[0], x[1]
	cost := m.Qp*p*p + m.Qv*v*v + m.R*u[0]*u[0]
	return []float64{p + v*m.Dt, v + u[0]*m.Dt}, cost
}

func (m *DoubleIntegrator) TerminalCost(x []float64) float64 {
	return m.Qfp*x[0]*x[0] + m.Qfv*x[1]*x[1]
}

func (m *DoubleIntegrator) Linearize(x, u []float64) Derivatives {
	return Derivatives{
		Fx:  []float64{1, m.Dt, 0, 1},
		Fu:  []float64{0, m.Dt},
		Lx:  []float64{2 * m.Qp * x[0], 2 * m.Qv * x[1]},
		Lu:  []float64{2 * m.R * u[0]},
		Lxx: []float64{2 * m.Qp, 0, 0, 2 * m.Qv},
		Luu: []float64{2 * m.R},
		Lux: []float64{0, 0},
	}
}

func (m *DoubleIntegrator) TerminalDerivatives(x []float64) ([]float64, []float64) {
	return []float64{2 * m.Qfp * x[0], 2 * m.Qfv * x[1]},
		[]float64{2 * m.Qfp, 0, 0, 2 * m.Qfv}
}

// Pendulum is a damped torque-limited pendulum with state (angle, angular
// velocity), angle 0 hanging down, rewarded for swinging up to pi. It has no
// analytic derivatives; iLQR falls back to finite differences.
type Pendulum struct {
	Dt, G, L, Mass, Damping float64
	TorqueLimit             float64
}

func NewPendulum() *Pendulum {
	return &Pendulum{Dt: 0.05, G: 9.81, L: 1, Mass: 1, Damping: 0.1, TorqueLimit: 2}
}

func (m *Pendulum) Name() string         { return "pendulum" }
func (m *Pendulum) StateDim() int        { return 2 }
func (m *Pendulum) ActionDim() int       { return 1 }
func (m *Pendulum) ActionSchema() string { return "pendulum.torque.v1" }
func (m *Pendulum) ActionBounds() Bounds {
	return Bounds{Lo: []float64{-m.TorqueLimit}, Hi: []float64{m.TorqueLimit}}
}

func (m *Pendulum) Step(x, u []float64) ([]float64, float64) {
	th, w := x[0], x[1]
	acc := -m.G/m.L*math.Sin(th) - m.Damping*w + u[0]/(m.Mass*m.L*m.L)
	w2 := w + acc*m.Dt
	th2 := th + w2*m.Dt
	e := wrapAngle(th - math.Pi)
	cost := e*e + 0.1*w*w + 0.01*u[0]*u[0]
	return []float64{th2, w2}, cost
}

func (m *Pendulum) TerminalCost(x []float64) float64 {
	e := wrapAngle(x[0] - math.Pi)
	return 10*e*e + x[1]*x[1]
}

// wrapAngle maps a to [-pi, pi).
func wrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
