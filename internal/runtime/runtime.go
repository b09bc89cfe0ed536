// Package runtime wires a process together: it owns the scheduler, the
// planner dispatcher with its record sinks, tracing and metrics, creates
// instances bound to them, and drives instances against an Env.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/unswei/muesli-bt-sub004/internal/bt"
	"github.com/unswei/muesli-bt-sub004/internal/config"
	"github.com/unswei/muesli-bt-sub004/internal/metrics"
	"github.com/unswei/muesli-bt-sub004/internal/planner"
	"github.com/unswei/muesli-bt-sub004/internal/planner/ilqr"
	"github.com/unswei/muesli-bt-sub004/internal/planner/mcts"
	"github.com/unswei/muesli-bt-sub004/internal/planner/mppi"
	"github.com/unswei/muesli-bt-sub004/internal/planner/sink"
	"github.com/unswei/muesli-bt-sub004/internal/scheduler"
	"github.com/unswei/muesli-bt-sub004/internal/tracing"
)

const instrumentation = "github.com/unswei/muesli-bt-sub004/internal/runtime"

// Options carries what Settings cannot.
type Options struct {
	Logger  *slog.Logger
	Version string
	// TraceWriter receives exported spans when tracing to stdout is enabled.
	// Defaults to os.Stdout.
	TraceWriter io.Writer
	Models      *planner.ModelRegistry
	// Sinks receive planner records in addition to the configured ones.
	Sinks []planner.LogSink
	// dialNATS overrides sink.DialNATS in tests.
	dialNATS func(sink.NATSConfig) (*sink.NATS, error)
}

// Runtime is the shared context of every instance in a process.
type Runtime struct {
	RunID      string
	Settings   config.Settings
	Logger     *slog.Logger
	Scheduler  *scheduler.Scheduler
	Dispatcher *planner.Dispatcher
	Metrics    *metrics.Collector

	tracing *tracing.Provider
	tracer  trace.Tracer
	closers []io.Closer
}

// New builds a runtime from resolved settings. On error everything opened
// so far is closed again.
func New(settings *config.Settings, opts Options) (rt *Runtime, err error) {
	if settings == nil {
		settings = &config.Settings{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runID := settings.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	rt = &Runtime{
		RunID:    runID,
		Settings: *settings,
		Logger:   logger,
		Metrics:  metrics.New(),
	}
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
			rt = nil
		}
	}()

	rt.tracing, err = tracing.New(tracing.Options{
		ServiceName: "muesli-bt",
		Version:     opts.Version,
		RunID:       runID,
		Stdout:      settings.OTelStdout,
		Writer:      opts.TraceWriter,
	})
	if err != nil {
		return rt, err
	}
	rt.tracer = rt.tracing.Tracer(instrumentation)

	sinks := sink.Multi{rt.Metrics}
	sinks = append(sinks, opts.Sinks...)
	if settings.PlannerLogJSONL != "" {
		j, err := sink.OpenJSONL(settings.PlannerLogJSONL, settings.LogMaxSizeMB, settings.LogMaxFiles)
		if err != nil {
			return rt, err
		}
		rt.closers = append(rt.closers, j)
		sinks = append(sinks, j)
	}
	if settings.NATSURL != "" {
		dial := opts.dialNATS
		if dial == nil {
			dial = sink.DialNATS
		}
		n, err := dial(sink.NATSConfig{URL: settings.NATSURL, Subject: settings.NATSSubject, Name: "muesli-bt " + runID})
		if err != nil {
			return rt, fmt.Errorf("planner nats sink: %w", err)
		}
		rt.closers = append(rt.closers, n)
		sinks = append(sinks, n)
	}

	if settings.ExprCacheSize > 0 {
		bt.SetExprCacheSize(settings.ExprCacheSize)
	}

	rt.Scheduler = scheduler.New(scheduler.Config{Workers: settings.SchedulerWorkers, Logger: logger})
	rt.Metrics.AddScheduler("default", rt.Scheduler)

	rt.Dispatcher = planner.NewDispatcher(planner.Config{
		BaseSeed: settings.BaseSeed,
		RunID:    runID,
		Models:   opts.Models,
		Sink:     sinks,
		Tracer:   rt.tracing.Tracer("github.com/unswei/muesli-bt-sub004/internal/planner"),
		Logger:   logger,
	}, mcts.New(), mppi.New(settings.MPPIWorkers), ilqr.New())

	logger.Info("[Runtime] started",
		"run_id", runID,
		"base_seed", settings.BaseSeed,
		"workers", rt.Scheduler.Workers(),
		"jsonl", settings.PlannerLogJSONL,
		"nats", settings.NATSURL != "",
		"otel_stdout", settings.OTelStdout)
	return rt, nil
}

// NewInstance binds g to the runtime's scheduler and planner, applying the
// tick budget and halt policy from the settings. The instance's stats are
// exported under name.
func (rt *Runtime) NewInstance(name string, g *bt.Graph) (*bt.Instance, error) {
	in, err := bt.NewInstance(g, bt.Options{
		Scheduler:  rt.Scheduler,
		Planner:    rt.Dispatcher,
		Logger:     rt.Logger.With("tree", name),
		TickBudget: time.Duration(rt.Settings.TickBudgetMs * float64(time.Millisecond)),
		HaltPolicy: &bt.HaltPolicy{ResetCounters: rt.Settings.ResetCountersOnHalt},
	})
	if err != nil {
		return nil, err
	}
	rt.Metrics.AddTree(name, in)
	return in, nil
}

// Loop returns a loop driving in against env with the configured period.
func (rt *Runtime) Loop(name string, in *bt.Instance, env Env, actionKey string) *Loop {
	return &Loop{
		Name:      name,
		Instance:  in,
		Env:       env,
		ActionKey: actionKey,
		Period:    rt.Settings.TickPeriod,
		Logger:    rt.Logger,
		Tracer:    rt.tracer,
	}
}

// Close stops the scheduler, closes the record sinks and flushes spans.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.Scheduler != nil {
		if err := rt.Scheduler.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	if rt.tracing != nil {
		if err := rt.tracing.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracing: %w", err))
		}
	}
	return errors.Join(errs...)
}
