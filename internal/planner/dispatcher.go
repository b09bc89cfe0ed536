package planner

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/unswei/muesli-bt-sub004/internal/value"
)

const tracerName = "github.com/unswei/muesli-bt-sub004/internal/planner"

// Span attribute keys.
var (
	AttrPlanner  = attribute.Key("planner.name")
	AttrModel    = attribute.Key("planner.model_service")
	AttrStatus   = attribute.Key("planner.status")
	AttrSeed     = attribute.Key("planner.seed")
	AttrWorkDone = attribute.Key("planner.work_done")
	AttrNode     = attribute.Key("bt.node_name")
	AttrTick     = attribute.Key("bt.tick_index")
)

// CallInfo identifies the caller of one Plan call.
type CallInfo struct {
	NodeName string
	// SeedKey overrides NodeName in seed derivation when set.
	SeedKey   string
	TickIndex uint64
}

// Config configures a Dispatcher.
type Config struct {
	BaseSeed uint64
	RunID    string
	Models   *ModelRegistry
	Sink     LogSink
	Tracer   trace.Tracer
	Logger   *slog.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Dispatcher validates requests, derives seeds, starts the budget clock,
// routes to a backend and assembles the result. It is safe for concurrent
// use.
type Dispatcher struct {
	cfg      Config
	logger   *slog.Logger
	tracer   trace.Tracer
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewDispatcher returns a dispatcher serving the given backends.
func NewDispatcher(cfg Config, backends ...Backend) *Dispatcher {
	if cfg.Models == nil {
		cfg.Models = NewModelRegistry()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	d := &Dispatcher{
		cfg:      cfg,
		logger:   cfg.Logger,
		tracer:   cfg.Tracer,
		backends: make(map[string]Backend),
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer(tracerName)
	}
	for _, b := range backends {
		d.Register(b)
	}
	return d
}

// Register installs a backend under its name, replacing any previous one.
func (d *Dispatcher) Register(b Backend) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.backends[b.Name()] = b
}

// Models returns the model registry.
func (d *Dispatcher) Models() *ModelRegistry { return d.cfg.Models }

// RunID returns the run identifier stamped on records.
func (d *Dispatcher) RunID() string { return d.cfg.RunID }

func (d *Dispatcher) backend(name string) (Backend, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.backends[name]
	return b, ok
}

// Plan runs one planning call. It never returns nil and never panics;
// every failure is reported through Result.Status.
func (d *Dispatcher) Plan(ctx context.Context, request value.Value, call CallInfo) *Result {
	start := d.cfg.Now()
	ctx, span := d.tracer.Start(ctx, "planner.plan", trace.WithAttributes(
		AttrNode.String(call.NodeName),
		AttrTick.Int64(int64(call.TickIndex)),
	))
	defer span.End()

	res := &Result{Status: StatusError}
	req, model, err := d.prepare(request)
	if req != nil {
		res.Planner = req.Planner
		res.BudgetMs = req.BudgetMs
	} else if name, ok := request.Field("planner"); ok {
		res.Planner, _ = name.AsString()
	}
	if b, ok := request.Field("budget_ms"); ok && res.BudgetMs == 0 {
		res.BudgetMs, _ = b.AsFloat()
	}

	if req != nil {
		res.Seed = req.Seed
		if !req.HasSeed {
			key := call.SeedKey
			if key == "" {
				key = call.NodeName
			}
			res.Seed = DeriveSeed(d.cfg.BaseSeed, key, call.TickIndex)
		}
	}

	deadline := NewDeadline(start, BudgetFromMs(res.BudgetMs), d.cfg.Now)
	if err == nil {
		res.ActionSchema = model.ActionSchema()
		err = d.run(ctx, req, model, res, deadline)
	}
	if err != nil {
		res.Status = StatusError
		res.U = nil
		res.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	res.Confidence = clamp01(res.Confidence)
	res.TimeUsedMs = float64(deadline.Elapsed()) / float64(time.Millisecond)

	span.SetAttributes(
		AttrPlanner.String(res.Planner),
		AttrStatus.String(string(res.Status)),
		AttrSeed.Int64(int64(res.Seed)),
		AttrWorkDone.Int(res.WorkDone),
	)
	if req != nil {
		span.SetAttributes(AttrModel.String(req.ModelService))
	}

	d.emit(ctx, req, res, call, start)
	return res
}

func (d *Dispatcher) prepare(request value.Value) (*Request, Model, error) {
	req, err := ParseRequest(request)
	if err != nil {
		return nil, nil, err
	}
	model, ok := d.cfg.Models.Lookup(req.ModelService)
	if !ok {
		return req, nil, configErrorf("model_service", "unknown model %q", req.ModelService)
	}
	if len(req.State) != model.StateDim() {
		return req, nil, configErrorf("state", "model %q wants dimension %d, got %d",
			req.ModelService, model.StateDim(), len(req.State))
	}
	return req, model, nil
}

func (d *Dispatcher) run(ctx context.Context, req *Request, model Model, res *Result, deadline Deadline) (err error) {
	b, ok := d.backend(req.Planner)
	if !ok {
		return configErrorf("planner", "backend %q is not registered", req.Planner)
	}
	p := &Problem{
		Model:    model,
		State:    append([]float64(nil), req.State...),
		Params:   req.Params,
		Deadline: deadline,
		WorkMax:  req.WorkMax,
		Seed:     res.Seed,
		Rand:     NewStream(res.Seed),
		Logger:   d.logger,
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("planner: %s backend panicked: %v", req.Planner, r)
		}
	}()
	out, err := b.Plan(ctx, p)
	if err != nil {
		return err
	}
	if out == nil {
		return fmt.Errorf("planner: %s backend returned no outcome", req.Planner)
	}

	res.Status = out.Status
	res.Confidence = out.Confidence
	res.WorkDone = out.WorkDone
	res.Trace = out.Trace
	if out.U != nil && finite(out.U) {
		res.U = model.ActionBounds().Clip(append([]float64(nil), out.U...))
	}
	if res.U == nil {
		res.Status = StatusNoAction
		res.Confidence = 0
	}
	return nil
}

func finite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func (d *Dispatcher) emit(ctx context.Context, req *Request, res *Result, call CallInfo, start time.Time) {
	if d.cfg.Sink == nil {
		return
	}
	rec := &Record{
		Schema:       RecordSchema,
		Time:         start,
		RunID:        d.cfg.RunID,
		TickIndex:    call.TickIndex,
		NodeName:     call.NodeName,
		Planner:      res.Planner,
		Status:       res.Status,
		Seed:         res.Seed,
		BudgetMs:     res.BudgetMs,
		TimeUsedMs:   res.TimeUsedMs,
		WorkDone:     res.WorkDone,
		Confidence:   res.Confidence,
		ActionSchema: res.ActionSchema,
		U:            res.U,
		Error:        res.Error,
		Trace:        res.Trace,
	}
	if req != nil {
		rec.ModelService = req.ModelService
	}
	if err := d.cfg.Sink.Write(ctx, rec); err != nil {
		d.logger.Warn("[Planner] log sink write failed", "error", err, "node", call.NodeName)
	}
}
