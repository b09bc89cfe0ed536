// Package mppi is a Model Predictive Path Integral planner: it perturbs a
// nominal control sequence, rolls the samples out in parallel and moves the
// nominal towards the softmax-weighted average.
package mppi

import (
	"context"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/unswei/muesli-bt-sub004/internal/planner"
	"github.com/unswei/muesli-bt-sub004/internal/value"
)

// Defaults.
const (
	DefaultHorizon  = 20
	DefaultSamples  = 64
	DefaultLambda   = 1.0
	DefaultSigma    = 0.5
	defaultMaxProcs = 8
)

// Backend plans with MPPI. Rollouts run on up to Workers goroutines.
type Backend struct {
	// Workers bounds rollout parallelism; requests may lower it. 0 uses
	// GOMAXPROCS capped at 8.
	Workers int
}

func New(workers int) *Backend { return &Backend{Workers: workers} }

func (*Backend) Name() string { return planner.MPPI }

type config struct {
	horizon int
	samples int
	lambda  float64
	sigma   []float64
	workers int
	topK    int
	nominal [][]float64
}

func (b *Backend) parseConfig(p *planner.Problem) (*config, error) {
	m := p.Model.ActionDim()
	r := planner.NewParams(planner.MPPI, p.Params)
	c := &config{
		horizon: r.Int("horizon", DefaultHorizon),
		samples: r.Int("n_samples", DefaultSamples),
		lambda:  r.Float("lambda", DefaultLambda),
		sigma:   r.Floats("sigma", m, DefaultSigma),
		workers: r.Int("workers", b.maxWorkers()),
		topK:    r.Int("top_k", planner.TopK),
	}
	r.Positive("horizon", float64(c.horizon))
	r.Positive("n_samples", float64(c.samples))
	r.Positive("lambda", c.lambda)
	r.Positive("workers", float64(c.workers))
	for _, s := range c.sigma {
		r.NonNegative("sigma", s)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	key := "u_init"
	if v, ok := p.Params.Field("u_nominal"); ok && !v.IsNil() {
		key = "u_nominal"
	}
	c.nominal = r.Sequence(key, c.horizon, m)
	if err := r.Err(); err != nil {
		return nil, err
	}
	if c.workers > b.maxWorkers() {
		c.workers = b.maxWorkers()
	}
	if p.WorkMax > 0 && p.WorkMax < c.samples {
		c.samples = p.WorkMax
	}
	return c, nil
}

func (b *Backend) maxWorkers() int {
	if b.Workers > 0 {
		return b.Workers
	}
	return min(runtime.GOMAXPROCS(0), defaultMaxProcs)
}

func (b *Backend) Plan(ctx context.Context, prob *planner.Problem) (*planner.Outcome, error) {
	cfg, err := b.parseConfig(prob)
	if err != nil {
		return nil, err
	}
	bounds := prob.Model.ActionBounds()
	for _, u := range cfg.nominal {
		bounds.Clip(u)
	}

	// Noise is drawn on this goroutine, in sample order and only for samples
	// that get dispatched, so the sampled sequences do not depend on how
	// rollouts are scheduled and the deadline is checked before each draw.
	var rolls []*rollout
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers)
	for k := 0; k < cfg.samples; k++ {
		if prob.Expired(gctx) {
			break
		}
		r := &rollout{seq: cfg.draw(prob.Rand, bounds)}
		rolls = append(rolls, r)
		g.Go(func() error {
			if prob.Expired(gctx) {
				return nil
			}
			cost, _ := planner.Rollout(prob.Model, prob.State, r.seq)
			if math.IsNaN(cost) {
				cost = math.Inf(1)
			}
			r.cost = cost
			r.done = true
			return nil
		})
	}
	_ = g.Wait()

	evaluated := 0
	minCost := math.Inf(1)
	for _, r := range rolls {
		if r.done {
			evaluated++
			minCost = math.Min(minCost, r.cost)
		}
	}

	status := planner.StatusOK
	if evaluated < cfg.samples {
		status = planner.StatusTimeout
	}
	out := &planner.Outcome{Status: status, WorkDone: evaluated}
	if evaluated == 0 || math.IsInf(minCost, 1) {
		out.Trace = traceValue(cfg, evaluated, minCost, 0, nil, nil)
		return out, nil
	}

	sum := 0.0
	for _, r := range rolls {
		if r.done && !math.IsInf(r.cost, 1) {
			r.weight = math.Exp(-(r.cost - minCost) / cfg.lambda)
			sum += r.weight
		}
	}
	sumSq := 0.0
	for _, r := range rolls {
		r.weight /= sum
		sumSq += r.weight * r.weight
	}
	ess := 1 / sumSq

	nominal := make([][]float64, cfg.horizon)
	for t := range nominal {
		u := make([]float64, len(cfg.sigma))
		for _, r := range rolls {
			if r.weight == 0 {
				continue
			}
			for j := range u {
				u[j] += r.weight * r.seq[t][j]
			}
		}
		nominal[t] = bounds.Clip(u)
	}

	out.U = append([]float64(nil), nominal[0]...)
	out.Confidence = ess / float64(evaluated)
	out.Trace = traceValue(cfg, evaluated, minCost, ess, rolls, nominal)
	return out, nil
}

type rollout struct {
	seq    [][]float64
	cost   float64
	weight float64
	done   bool
}

// draw perturbs the nominal sequence with one sample of clipped noise.
func (c *config) draw(rng *planner.Stream, bounds planner.Bounds) [][]float64 {
	seq := make([][]float64, c.horizon)
	for t := range seq {
		u := make([]float64, len(c.sigma))
		for j := range u {
			u[j] = rng.Normal(c.nominal[t][j], c.sigma[j])
		}
		seq[t] = bounds.Clip(u)
	}
	return seq
}

func traceValue(cfg *config, evaluated int, minCost, ess float64, rolls []*rollout, nominal [][]float64) value.Value {
	order := make([]int, 0, len(rolls))
	for k, r := range rolls {
		if r.weight > 0 {
			order = append(order, k)
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return rolls[order[i]].weight > rolls[order[j]].weight })
	if len(order) > cfg.topK {
		order = order[:cfg.topK]
	}
	top := make([]value.Value, len(order))
	for i, k := range order {
		top[i] = value.Map(map[string]value.Value{
			"index":  value.Int(int64(k)),
			"weight": value.Float(rolls[k].weight),
			"cost":   value.Float(rolls[k].cost),
		})
	}
	m := map[string]value.Value{
		"n_samples": value.Int(int64(evaluated)),
		"horizon":   value.Int(int64(cfg.horizon)),
		"cost_min":  value.Float(minCost),
		"ess":       value.Float(ess),
		"top_k":     value.List(top...),
	}
	if nominal != nil {
		m["u_nominal"] = planner.SequenceValue(nominal)
	}
	return value.Map(m)
}
