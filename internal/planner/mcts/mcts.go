// Package mcts is a Monte Carlo Tree Search planner over continuous actions,
// using progressive widening to bound the branching factor.
package mcts

import (
	"context"
	"math"
	"sort"

	"github.com/unswei/muesli-bt-sub004/internal/planner"
	"github.com/unswei/muesli-bt-sub004/internal/value"
)

// DefaultSimulations is the simulation cap when the request sets no work_max.
const DefaultSimulations = 1000

// Backend plans with MCTS. The zero value is ready to use.
type Backend struct{}

func New() *Backend { return &Backend{} }

func (*Backend) Name() string { return planner.MCTS }

type config struct {
	cUCB         float64
	pwK          float64
	pwAlpha      float64
	gamma        float64
	maxDepth     int
	simulations  int
	sampler      string
	samplerMu    []float64
	samplerSigma []float64
	rollout      string
	topK         int
}

func parseConfig(p *planner.Problem) (*config, error) {
	m := p.Model.ActionDim()
	r := planner.NewParams(planner.MCTS, p.Params)
	c := &config{
		cUCB:         r.Float("c_ucb", 1.4),
		pwK:          r.Float("pw_k", 2.0),
		pwAlpha:      r.Float("pw_alpha", 0.5),
		gamma:        r.Float("gamma", 0.95),
		maxDepth:     r.Int("max_depth", 10),
		sampler:      r.String("action_sampler", "uniform"),
		samplerMu:    r.Floats("sampler_mu", m, 0),
		samplerSigma: r.Floats("sampler_sigma", m, 0.5),
		rollout:      r.String("rollout_policy", "random"),
		topK:         r.Int("top_k", planner.TopK),
	}
	r.NonNegative("c_ucb", c.cUCB)
	r.Positive("pw_k", c.pwK)
	r.NonNegative("pw_alpha", c.pwAlpha)
	r.Positive("gamma", c.gamma)
	r.Positive("max_depth", float64(c.maxDepth))
	for _, s := range c.samplerSigma {
		r.NonNegative("sampler_sigma", s)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	if c.gamma > 1 {
		return nil, &planner.ConfigError{Field: "mcts.gamma", Reason: "must be at most 1"}
	}
	if c.pwK < 1 {
		return nil, &planner.ConfigError{Field: "mcts.pw_k", Reason: "must be at least 1"}
	}
	if c.pwAlpha >= 1 {
		return nil, &planner.ConfigError{Field: "mcts.pw_alpha", Reason: "must be below 1"}
	}
	switch c.sampler {
	case "uniform", "gaussian":
	default:
		return nil, &planner.ConfigError{Field: "mcts.action_sampler", Reason: "want uniform or gaussian, got " + c.sampler}
	}
	switch c.rollout {
	case "random", "zero":
	default:
		return nil, &planner.ConfigError{Field: "mcts.rollout_policy", Reason: "want random or zero, got " + c.rollout}
	}
	c.simulations = DefaultSimulations
	if p.WorkMax > 0 {
		c.simulations = p.WorkMax
	}
	return c, nil
}

type node struct {
	state  []float64
	visits int
	edges  []*edge
}

type edge struct {
	u      []float64
	cost   float64
	next   *node
	visits int
	total  float64
}

func (e *edge) q() float64 {
	if e.visits == 0 {
		return 0
	}
	return e.total / float64(e.visits)
}

// widenBound is the most children a node with the given visit count may
// hold. With k >= 1 and visits >= 1 it is at least 1.
func widenBound(k, alpha float64, visits int) int {
	return int(math.Floor(k * math.Pow(float64(visits), alpha)))
}

type search struct {
	cfg        *config
	model      planner.Model
	term       planner.Terminator
	bounds     planner.Bounds
	rng        *planner.Stream
	root       *node
	widenAdded int
}

func (b *Backend) Plan(ctx context.Context, prob *planner.Problem) (*planner.Outcome, error) {
	cfg, err := parseConfig(prob)
	if err != nil {
		return nil, err
	}
	s := &search{
		cfg:    cfg,
		model:  prob.Model,
		bounds: prob.Model.ActionBounds(),
		rng:    prob.Rand,
		root:   &node{state: prob.State},
	}
	s.term, _ = prob.Model.(planner.Terminator)

	status := planner.StatusOK
	sims := 0
	for sims < cfg.simulations {
		if prob.Expired(ctx) {
			status = planner.StatusTimeout
			break
		}
		s.simulate(s.root, 0)
		sims++
	}

	out := &planner.Outcome{Status: status, WorkDone: sims}
	best := s.best()
	if best != nil {
		out.U = append([]float64(nil), best.u...)
		out.Confidence = float64(best.visits) / float64(s.root.visits)
	}
	out.Trace = s.trace()
	return out, nil
}

// simulate runs one selection/expansion/rollout pass from n at depth and
// returns the discounted return (negated cost) seen from n.
func (s *search) simulate(n *node, depth int) float64 {
	if depth >= s.cfg.maxDepth || s.terminal(n.state) {
		return -s.model.TerminalCost(n.state)
	}
	n.visits++

	if len(n.edges) < widenBound(s.cfg.pwK, s.cfg.pwAlpha, n.visits) {
		u := s.sample()
		next, cost := s.model.Step(n.state, u)
		e := &edge{u: u, cost: cost, next: &node{state: next}}
		n.edges = append(n.edges, e)
		s.widenAdded++
		ret := -cost + s.cfg.gamma*s.rollout(next, depth+1)
		e.visits++
		e.total += ret
		return ret
	}

	e := s.selectUCB(n)
	ret := -e.cost + s.cfg.gamma*s.simulate(e.next, depth+1)
	e.visits++
	e.total += ret
	return ret
}

func (s *search) terminal(x []float64) bool {
	return s.term != nil && s.term.Terminal(x)
}

// selectUCB picks the child maximising normalised Q plus the exploration
// bonus. Q is rescaled to [0, 1] across siblings since returns are
// unbounded costs.
func (s *search) selectUCB(n *node) *edge {
	qmin, qmax := math.Inf(1), math.Inf(-1)
	for _, e := range n.edges {
		q := e.q()
		qmin = math.Min(qmin, q)
		qmax = math.Max(qmax, q)
	}
	span := qmax - qmin
	logN := math.Log(float64(n.visits))

	var best *edge
	bestScore := math.Inf(-1)
	for _, e := range n.edges {
		if e.visits == 0 {
			return e
		}
		q := 0.5
		if span > 0 {
			q = (e.q() - qmin) / span
		}
		score := q + s.cfg.cUCB*math.Sqrt(logN/float64(e.visits))
		if score > bestScore {
			best, bestScore = e, score
		}
	}
	return best
}

func (s *search) rollout(x []float64, depth int) float64 {
	ret, disc := 0.0, 1.0
	m := s.model.ActionDim()
	for d := depth; d < s.cfg.maxDepth && !s.terminal(x); d++ {
		u := make([]float64, m)
		if s.cfg.rollout == "random" {
			u = s.uniform()
		}
		next, cost := s.model.Step(x, u)
		ret += disc * -cost
		disc *= s.cfg.gamma
		x = next
	}
	return ret + disc*-s.model.TerminalCost(x)
}

func (s *search) sample() []float64 {
	if s.cfg.sampler == "gaussian" {
		u := make([]float64, s.model.ActionDim())
		for i := range u {
			u[i] = s.rng.Normal(s.cfg.samplerMu[i], s.cfg.samplerSigma[i])
		}
		return s.bounds.Clip(u)
	}
	return s.uniform()
}

// uniform draws within the action bounds. Unbounded dimensions use [-1, 1].
func (s *search) uniform() []float64 {
	u := make([]float64, s.model.ActionDim())
	for i := range u {
		lo, hi := -1.0, 1.0
		if i < len(s.bounds.Lo) && !math.IsInf(s.bounds.Lo[i], 0) {
			lo = s.bounds.Lo[i]
		}
		if i < len(s.bounds.Hi) && !math.IsInf(s.bounds.Hi[i], 0) {
			hi = s.bounds.Hi[i]
		}
		u[i] = s.rng.Uniform(lo, hi)
	}
	return u
}

// ranked returns the root children by visits, then Q, descending.
func (s *search) ranked() []*edge {
	edges := append([]*edge(nil), s.root.edges...)
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].visits != edges[j].visits {
			return edges[i].visits > edges[j].visits
		}
		return edges[i].q() > edges[j].q()
	})
	return edges
}

func (s *search) best() *edge {
	r := s.ranked()
	if len(r) == 0 {
		return nil
	}
	return r[0]
}

func (s *search) trace() value.Value {
	r := s.ranked()
	if len(r) > s.cfg.topK {
		r = r[:s.cfg.topK]
	}
	top := make([]value.Value, len(r))
	for i, e := range r {
		top[i] = value.Map(map[string]value.Value{
			"u":      value.Floats(e.u...),
			"visits": value.Int(int64(e.visits)),
			"q":      value.Float(e.q()),
		})
	}
	return value.Map(map[string]value.Value{
		"root_visits":   value.Int(int64(s.root.visits)),
		"root_children": value.Int(int64(len(s.root.edges))),
		"widen_added":   value.Int(int64(s.widenAdded)),
		"top_k":         value.List(top...),
	})
}
