package ilqr

import (
	"math"

	"github.com/unswei/muesli-bt-sub004/internal/planner"
)

type linearizer interface {
	linearize(x, u []float64) planner.Derivatives
	terminal(x []float64) (vx, vxx []float64)
}

func pickLinearizer(p *planner.Problem, cfg *config) (linearizer, error) {
	analytic, ok := p.Linearizer()
	switch cfg.derivatives {
	case DerivativesAnalytic:
		if !ok {
			return nil, &planner.ConfigError{
				Field:  "ilqr.derivatives",
				Reason: "model " + p.Model.Name() + " does not provide analytic derivatives",
			}
		}
		return analyticDerivatives{analytic}, nil
	case DerivativesAuto:
		if ok {
			return analyticDerivatives{analytic}, nil
		}
	}
	return &finiteDifferences{model: p.Model, eps: cfg.fdEps, hessEps: math.Sqrt(cfg.fdEps)}, nil
}

type analyticDerivatives struct {
	planner.Linearizer
}

func (a analyticDerivatives) linearize(x, u []float64) planner.Derivatives {
	return a.Linearize(x, u)
}

func (a analyticDerivatives) terminal(x []float64) ([]float64, []float64) {
	return a.TerminalDerivatives(x)
}

// finiteDifferences differentiates Step and TerminalCost numerically:
// central differences with eps for first derivatives and hessEps for the
// cost Hessian, where a smaller step would lose everything to cancellation.
type finiteDifferences struct {
	model   planner.Model
	eps     float64
	hessEps float64
}

func (f *finiteDifferences) linearize(x, u []float64) planner.Derivatives {
	n, m := len(x), len(u)
	z := make([]float64, n+m)
	copy(z, x)
	copy(z[n:], u)
	split := func(z []float64) ([]float64, []float64) { return z[:n], z[n:] }

	// dynamics Jacobian, column by column
	fx := make([]float64, n*n)
	fu := make([]float64, n*m)
	zp := make([]float64, n+m)
	zm := make([]float64, n+m)
	for j := 0; j < n+m; j++ {
		copy(zp, z)
		copy(zm, z)
		zp[j] += f.eps
		zm[j] -= f.eps
		np, _ := f.model.Step(split(zp))
		nm, _ := f.model.Step(split(zm))
		for i := 0; i < n; i++ {
			d := (np[i] - nm[i]) / (2 * f.eps)
			if j < n {
				fx[i*n+j] = d
			} else {
				fu[i*m+j-n] = d
			}
		}
	}

	cost := func(z []float64) float64 {
		_, c := f.model.Step(split(z))
		return c
	}
	g := gradient(cost, z, f.eps)
	h := hessian(cost, z, f.hessEps)

	d := planner.Derivatives{
		Fx:  fx,
		Fu:  fu,
		Lx:  g[:n],
		Lu:  g[n:],
		Lxx: make([]float64, n*n),
		Luu: make([]float64, m*m),
		Lux: make([]float64, m*n),
	}
	w := n + m
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			d.Lxx[i*n+j] = h[i*w+j]
		}
	}
	for i := 0; i < m; i++ {
		for j := 0; j < m; j++ {
			d.Luu[i*m+j] = h[(n+i)*w+n+j]
		}
		for j := 0; j < n; j++ {
			d.Lux[i*n+j] = h[(n+i)*w+j]
		}
	}
	return d
}

func (f *finiteDifferences) terminal(x []float64) ([]float64, []float64) {
	z := append([]float64(nil), x...)
	return gradient(f.model.TerminalCost, z, f.eps), hessian(f.model.TerminalCost, z, f.hessEps)
}

func gradient(fn func([]float64) float64, z []float64, eps float64) []float64 {
	g := make([]float64, len(z))
	p := make([]float64, len(z))
	for i := range z {
		copy(p, z)
		p[i] = z[i] + eps
		hi := fn(p)
		p[i] = z[i] - eps
		lo := fn(p)
		g[i] = (hi - lo) / (2 * eps)
	}
	return g
}

// hessian returns the symmetric row-major Hessian of fn at z.
func hessian(fn func([]float64) float64, z []float64, eps float64) []float64 {
	w := len(z)
	h := make([]float64, w*w)
	p := make([]float64, w)
	at := func(i, j int, di, dj float64) float64 {
		copy(p, z)
		p[i] += di
		p[j] += dj
		return fn(p)
	}
	f0 := fn(z)
	for i := 0; i < w; i++ {
		h[i*w+i] = (at(i, i, eps, 0) - 2*f0 + at(i, i, -eps, 0)) / (eps * eps)
		for j := i + 1; j < w; j++ {
			v := (at(i, j, eps, eps) - at(i, j, eps, -eps) - at(i, j, -eps, eps) + at(i, j, -eps, -eps)) / (4 * eps * eps)
			h[i*w+j] = v
			h[j*w+i] = v
		}
	}
	return h
}
