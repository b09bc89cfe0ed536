// Package ilqr is an iterative Linear Quadratic Regulator: a deterministic
// trajectory optimiser with Levenberg-Marquardt regularisation and a
// backtracking line search.
package ilqr

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/unswei/muesli-bt-sub004/internal/planner"
	"github.com/unswei/muesli-bt-sub004/internal/value"
)

// Derivative sources.
const (
	DerivativesAuto     = "auto"
	DerivativesAnalytic = "analytic"
	DerivativesFD       = "fd"
)

// minAlpha is the smallest line-search step tried.
const minAlpha = 1.0 / 1024

// Backend plans with iLQR. The zero value is ready to use.
type Backend struct{}

func New() *Backend { return &Backend{} }

func (*Backend) Name() string { return planner.ILQR }

type config struct {
	horizon     int
	maxIters    int
	tolCost     float64
	tolGrad     float64
	regInit     float64
	regFactor   float64
	regMin      float64
	regMax      float64
	derivatives string
	fdEps       float64
	init        [][]float64
}

func parseConfig(p *planner.Problem) (*config, error) {
	r := planner.NewParams(planner.ILQR, p.Params)
	c := &config{
		horizon:     r.Int("horizon", 20),
		maxIters:    r.Int("max_iters", 50),
		tolCost:     r.Float("tol_cost", 1e-6),
		tolGrad:     r.Float("tol_grad", 1e-4),
		regInit:     r.Float("reg_init", 1.0),
		regFactor:   r.Float("reg_factor", 10),
		regMin:      r.Float("reg_min", 1e-6),
		regMax:      r.Float("reg_max", 1e10),
		derivatives: r.String("derivatives", DerivativesAuto),
		fdEps:       r.Float("fd_eps", 1e-5),
	}
	r.Positive("horizon", float64(c.horizon))
	r.Positive("max_iters", float64(c.maxIters))
	r.NonNegative("tol_cost", c.tolCost)
	r.NonNegative("tol_grad", c.tolGrad)
	r.NonNegative("reg_init", c.regInit)
	r.Positive("fd_eps", c.fdEps)
	r.Positive("reg_max", c.regMax)
	if err := r.Err(); err != nil {
		return nil, err
	}
	if !(c.regFactor > 1) {
		return nil, &planner.ConfigError{Field: "ilqr.reg_factor", Reason: "must be greater than 1"}
	}
	if c.regMin > c.regMax {
		return nil, &planner.ConfigError{Field: "ilqr.reg_min", Reason: "exceeds reg_max"}
	}
	switch c.derivatives {
	case DerivativesAuto, DerivativesAnalytic, DerivativesFD:
	default:
		return nil, &planner.ConfigError{Field: "ilqr.derivatives", Reason: "want auto, analytic or fd, got " + c.derivatives}
	}
	c.init = r.Sequence("u_init", c.horizon, p.Model.ActionDim())
	if err := r.Err(); err != nil {
		return nil, err
	}
	if p.WorkMax > 0 && p.WorkMax < c.maxIters {
		c.maxIters = p.WorkMax
	}
	return c, nil
}

// solver holds one optimisation run.
type solver struct {
	cfg    *config
	model  planner.Model
	deriv  linearizer
	bounds planner.Bounds
	n, m   int
	x0     []float64

	xs   [][]float64
	us   [][]float64
	cost float64

	// feedforward and feedback gains from the last backward pass
	k    []*mat.VecDense
	gain []*mat.Dense
}

func (b *Backend) Plan(ctx context.Context, prob *planner.Problem) (*planner.Outcome, error) {
	cfg, err := parseConfig(prob)
	if err != nil {
		return nil, err
	}
	deriv, err := pickLinearizer(prob, cfg)
	if err != nil {
		return nil, err
	}
	s := &solver{
		cfg:    cfg,
		model:  prob.Model,
		deriv:  deriv,
		bounds: prob.Model.ActionBounds(),
		n:      prob.Model.StateDim(),
		m:      prob.Model.ActionDim(),
		x0:     prob.State,
		us:     cfg.init,
	}
	for _, u := range s.us {
		s.bounds.Clip(u)
	}
	s.cost, s.xs = planner.Rollout(s.model, s.x0, s.us)
	costInit := s.cost

	mu := cfg.regInit
	iters := 0
	converged := false
	timedOut := false
	for iters < cfg.maxIters {
		if prob.Expired(ctx) {
			timedOut = true
			break
		}
		iters++

		if !s.backward(mu) {
			mu = math.Max(cfg.regMin, mu*cfg.regFactor)
			if mu > cfg.regMax {
				break
			}
			continue
		}
		if s.gradNorm() < cfg.tolGrad {
			converged = true
			break
		}

		improved, expired := s.lineSearch(ctx, prob)
		if expired {
			timedOut = true
			break
		}
		if improved < 0 {
			mu = math.Max(cfg.regMin, mu*cfg.regFactor)
			if mu > cfg.regMax {
				break
			}
			continue
		}
		mu = math.Max(cfg.regMin, mu/cfg.regFactor)
		if improved < cfg.tolCost {
			converged = true
			break
		}
	}

	status := planner.StatusOK
	if timedOut {
		status = planner.StatusTimeout
	}
	out := &planner.Outcome{
		Status:     status,
		U:          append([]float64(nil), s.us[0]...),
		Confidence: confidence(costInit, s.cost, converged),
		WorkDone:   iters,
		Trace: value.Map(map[string]value.Value{
			"iters":      value.Int(int64(iters)),
			"cost_init":  value.Float(costInit),
			"cost_final": value.Float(s.cost),
			"reg_final":  value.Float(mu),
			"converged":  value.Bool(converged),
			"u_nominal":  planner.SequenceValue(s.us),
		}),
	}
	return out, nil
}

// confidence grows with relative cost reduction; converged runs score in
// the upper half.
func confidence(initial, final float64, converged bool) float64 {
	r := 0.0
	if initial > 0 && !math.IsInf(initial, 0) {
		r = (initial - final) / initial
	}
	r = planner.Clamp(r, 0, 1)
	if converged {
		return 0.5 + 0.5*r
	}
	return 0.5 * r
}

// backward computes gains along the current trajectory with regulariser mu.
// It fails when Quu is not positive definite.
func (s *solver) backward(mu float64) bool {
	T, n, m := len(s.us), s.n, s.m
	vxData, vxxData := s.deriv.terminal(s.xs[T])
	vx := mat.NewVecDense(n, vxData)
	vxx := mat.NewDense(n, n, vxxData)

	k := make([]*mat.VecDense, T)
	gain := make([]*mat.Dense, T)
	for t := T - 1; t >= 0; t-- {
		d := s.deriv.linearize(s.xs[t], s.us[t])
		fx := mat.NewDense(n, n, d.Fx)
		fu := mat.NewDense(n, m, d.Fu)

		// Qx = lx + fxᵀ Vx, Qu = lu + fuᵀ Vx
		qx := mat.NewVecDense(n, nil)
		qx.MulVec(fx.T(), vx)
		qx.AddVec(qx, mat.NewVecDense(n, d.Lx))
		qu := mat.NewVecDense(m, nil)
		qu.MulVec(fu.T(), vx)
		qu.AddVec(qu, mat.NewVecDense(m, d.Lu))

		// Qxx = lxx + fxᵀ Vxx fx, Quu = luu + fuᵀ Vxx fu, Qux = lux + fuᵀ Vxx fx
		var vxxFx, vxxFu mat.Dense
		vxxFx.Mul(vxx, fx)
		vxxFu.Mul(vxx, fu)
		qxx := mat.NewDense(n, n, nil)
		qxx.Mul(fx.T(), &vxxFx)
		qxx.Add(qxx, mat.NewDense(n, n, d.Lxx))
		quu := mat.NewDense(m, m, nil)
		quu.Mul(fu.T(), &vxxFu)
		quu.Add(quu, mat.NewDense(m, m, d.Luu))
		qux := mat.NewDense(m, n, nil)
		qux.Mul(fu.T(), &vxxFx)
		qux.Add(qux, mat.NewDense(m, n, d.Lux))

		reg := mat.NewSymDense(m, nil)
		for i := 0; i < m; i++ {
			for j := i; j < m; j++ {
				v := 0.5 * (quu.At(i, j) + quu.At(j, i))
				if i == j {
					v += mu
				}
				reg.SetSym(i, j, v)
			}
		}
		var chol mat.Cholesky
		if !chol.Factorize(reg) {
			return false
		}

		kt := mat.NewVecDense(m, nil)
		if err := chol.SolveVecTo(kt, qu); err != nil {
			return false
		}
		kt.ScaleVec(-1, kt)
		Kt := mat.NewDense(m, n, nil)
		if err := chol.SolveTo(Kt, qux); err != nil {
			return false
		}
		Kt.Scale(-1, Kt)
		k[t], gain[t] = kt, Kt

		// Vx = Qx + Kᵀ Quu k + Kᵀ Qu + Quxᵀ k
		var tmpM mat.VecDense
		tmpM.MulVec(quu, kt)
		nvx := mat.NewVecDense(n, nil)
		var tmpN mat.VecDense
		tmpN.MulVec(Kt.T(), &tmpM)
		nvx.AddVec(qx, &tmpN)
		tmpN.MulVec(Kt.T(), qu)
		nvx.AddVec(nvx, &tmpN)
		tmpN.MulVec(qux.T(), kt)
		nvx.AddVec(nvx, &tmpN)

		// Vxx = Qxx + Kᵀ Quu K + Kᵀ Qux + Quxᵀ K
		var quuK, term mat.Dense
		quuK.Mul(quu, Kt)
		nvxx := mat.NewDense(n, n, nil)
		term.Mul(Kt.T(), &quuK)
		nvxx.Add(qxx, &term)
		term.Reset()
		term.Mul(Kt.T(), qux)
		nvxx.Add(nvxx, &term)
		term.Reset()
		term.Mul(qux.T(), Kt)
		nvxx.Add(nvxx, &term)
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				v := 0.5 * (nvxx.At(i, j) + nvxx.At(j, i))
				nvxx.Set(i, j, v)
				nvxx.Set(j, i, v)
			}
		}
		vx, vxx = nvx, nvxx
	}
	s.k, s.gain = k, gain
	return true
}

// gradNorm is the mean over steps of the largest feedforward step relative
// to the control magnitude.
func (s *solver) gradNorm() float64 {
	total := 0.0
	for t, kt := range s.k {
		worst := 0.0
		for j := 0; j < s.m; j++ {
			worst = math.Max(worst, math.Abs(kt.AtVec(j))/(math.Abs(s.us[t][j])+1))
		}
		total += worst
	}
	return total / float64(len(s.k))
}

// lineSearch tries alpha = 1, 1/2, ... and accepts the first strictly
// cheaper trajectory. It returns the cost reduction, or -1 if none was
// found.
func (s *solver) lineSearch(ctx context.Context, prob *planner.Problem) (float64, bool) {
	for alpha := 1.0; alpha >= minAlpha; alpha /= 2 {
		if prob.Expired(ctx) {
			return -1, true
		}
		us, xs, cost := s.forward(alpha)
		if cost < s.cost {
			delta := s.cost - cost
			s.us, s.xs, s.cost = us, xs, cost
			return delta, false
		}
	}
	return -1, false
}

func (s *solver) forward(alpha float64) ([][]float64, [][]float64, float64) {
	T := len(s.us)
	us := make([][]float64, T)
	xs := make([][]float64, T+1)
	xs[0] = s.x0
	x := s.x0
	total := 0.0
	dx := mat.NewVecDense(s.n, nil)
	var du mat.VecDense
	for t := 0; t < T; t++ {
		for i := 0; i < s.n; i++ {
			dx.SetVec(i, x[i]-s.xs[t][i])
		}
		du.MulVec(s.gain[t], dx)
		u := make([]float64, s.m)
		for j := range u {
			u[j] = s.us[t][j] + alpha*s.k[t].AtVec(j) + du.AtVec(j)
		}
		us[t] = s.bounds.Clip(u)
		next, c := s.model.Step(x, us[t])
		total += c
		x = next
		xs[t+1] = x
	}
	total += s.model.TerminalCost(x)
	if math.IsNaN(total) {
		total = math.Inf(1)
	}
	return us, xs, total
}
