package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	gobt "github.com/joeycumines/go-behaviortree"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/unswei/muesli-bt-sub004/internal/blackboard"
	"github.com/unswei/muesli-bt-sub004/internal/bt"
	"github.com/unswei/muesli-bt-sub004/internal/value"
)

// errFinished ends a ticker without being reported as a failure.
var errFinished = errors.New("loop finished")

// DefaultPeriod is used when Loop.Period is not positive.
const DefaultPeriod = 100 * time.Millisecond

// TickReport describes one completed loop iteration.
type TickReport struct {
	Tick   uint64
	Status bt.Status
	Action value.Value
	Done   bool
}

// Loop drives one instance against an Env on a go-behaviortree ticker:
// observe, tick, act, step.
type Loop struct {
	Name     string
	Instance *bt.Instance
	Env      Env
	// ActionKey is the blackboard symbol read after each tick and passed to
	// Env.Act. Nothing is applied while it is unset.
	ActionKey string
	Period    time.Duration
	// MaxTicks stops the loop after that many ticks; 0 means no limit.
	MaxTicks int
	// StopOnResult stops the loop once the root returns Success or Failure.
	StopOnResult bool
	OnTick       func(TickReport)
	Logger       *slog.Logger
	Tracer       trace.Tracer

	mu     sync.Mutex
	ticks  uint64
	last   bt.Status
	err    error
	ticker gobt.Ticker
}

// Result summarises a finished loop.
type Result struct {
	Ticks uint64
	Last  bt.Status
}

// Run ticks until the env reports done, a stop condition holds, ctx ends or
// a step fails.
func (l *Loop) Run(ctx context.Context) (Result, error) {
	ticker, err := l.start(ctx)
	if err != nil {
		return Result{}, err
	}
	<-ticker.Done()
	return l.finish(ticker.Err())
}

func (l *Loop) start(ctx context.Context) (gobt.Ticker, error) {
	if l.Instance == nil || l.Env == nil {
		return nil, errors.New("runtime: loop needs an instance and an env")
	}
	if l.Logger == nil {
		l.Logger = slog.Default()
	}
	if l.Tracer == nil {
		l.Tracer = noop.NewTracerProvider().Tracer("")
	}
	period := l.Period
	if period <= 0 {
		period = DefaultPeriod
	}
	node := gobt.New(func([]gobt.Node) (gobt.Status, error) { return l.tick(ctx) })
	ticker := gobt.NewTicker(ctx, period, node)
	l.mu.Lock()
	l.ticker = ticker
	l.mu.Unlock()
	return ticker, nil
}

func (l *Loop) finish(err error) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	res := Result{Ticks: l.ticks, Last: l.last}
	if l.err != nil {
		return res, l.err
	}
	if err == nil || errors.Is(err, errFinished) {
		return res, nil
	}
	return res, err
}

func (l *Loop) tick(ctx context.Context) (gobt.Status, error) {
	ctx, span := l.Tracer.Start(ctx, "bt.tick", trace.WithAttributes(
		attribute.String("bt.tree", l.Name),
		attribute.Int64("bt.tick_index", int64(l.Ticks())),
	))
	defer span.End()

	st, done, err := l.step(ctx)
	span.SetAttributes(attribute.String("bt.status", st.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		l.Logger.Error("[Runtime] loop stopped", "loop", l.Name, "error", err)
		return gobt.Failure, err
	}
	if done {
		return gobt.Success, errFinished
	}
	return gobt.Running, nil
}

func (l *Loop) step(ctx context.Context) (bt.Status, bool, error) {
	obs, err := l.Env.Observe(ctx)
	if err != nil {
		return bt.Failure, false, fmt.Errorf("observe: %w", err)
	}
	keys := make([]string, 0, len(obs))
	for k := range obs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	inputs := make([]bt.Input, len(keys))
	for i, k := range keys {
		inputs[i] = bt.In(k, obs[k])
	}

	st := l.Instance.Tick(ctx, inputs...)

	action := value.Nil
	if l.ActionKey != "" {
		action = l.Instance.Blackboard().Get(blackboard.Sym(l.ActionKey), value.Nil)
	}
	if !action.IsNil() {
		if err := l.Env.Act(ctx, action); err != nil {
			return st, false, fmt.Errorf("act: %w", err)
		}
	}
	envDone, err := l.Env.Step(ctx)
	if err != nil {
		return st, false, fmt.Errorf("step: %w", err)
	}

	l.mu.Lock()
	tick := l.ticks
	l.ticks++
	l.last = st
	done := envDone ||
		(l.MaxTicks > 0 && l.ticks >= uint64(l.MaxTicks)) ||
		(l.StopOnResult && st != bt.Running)
	l.mu.Unlock()

	l.Logger.Debug("[Runtime] tick", "loop", l.Name, "tick", tick, "status", st, "action", action.String())
	if l.OnTick != nil {
		l.OnTick(TickReport{Tick: tick, Status: st, Action: action, Done: done})
	}
	return st, done, nil
}

// Ticks returns the number of completed iterations.
func (l *Loop) Ticks() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ticks
}

// RunAll runs loops together under one go-behaviortree manager. The manager
// stops every loop as soon as one of them finishes or fails.
func RunAll(ctx context.Context, loops ...*Loop) ([]Result, error) {
	manager := gobt.NewManager()
	for _, l := range loops {
		ticker, err := l.start(ctx)
		if err != nil {
			manager.Stop()
			return nil, err
		}
		if err := manager.Add(ticker); err != nil {
			ticker.Stop()
			manager.Stop()
			return nil, fmt.Errorf("runtime: add loop %s: %w", l.Name, err)
		}
	}
	<-manager.Done()

	results := make([]Result, len(loops))
	var errs []error
	for i, l := range loops {
		l.mu.Lock()
		ticker := l.ticker
		l.mu.Unlock()
		<-ticker.Done()
		res, err := l.finish(ticker.Err())
		results[i] = res
		if err != nil {
			errs = append(errs, fmt.Errorf("loop %s: %w", l.Name, err))
		}
	}
	return results, errors.Join(errs...)
}
