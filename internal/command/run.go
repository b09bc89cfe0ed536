package command

import (
	"context"
	_ "embed"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/unswei/muesli-bt-sub004/internal/bt"
	"github.com/unswei/muesli-bt-sub004/internal/config"
	"github.com/unswei/muesli-bt-sub004/internal/logging"
	"github.com/unswei/muesli-bt-sub004/internal/planner"
	"github.com/unswei/muesli-bt-sub004/internal/planner/sink"
	"github.com/unswei/muesli-bt-sub004/internal/runtime"
	"github.com/unswei/muesli-bt-sub004/internal/value"
)

//go:embed trees/toy1d.yaml
var toy1dTree []byte

// RunCommand ticks a tree against the toy-1d environment until it settles,
// runs out of ticks or is interrupted.
type RunCommand struct {
	*BaseCommand
	config  *config.Config
	version string

	log          logFlags
	tree         string
	x0           float64
	maxTicks     int
	period       time.Duration
	actionKey    string
	stopOnResult bool
	metricsAddr  string
	trace        bool
}

func NewRunCommand(cfg *config.Config, version string) *RunCommand {
	return &RunCommand{
		BaseCommand: NewBaseCommand(
			"run",
			"Tick a behaviour tree against the toy-1d environment",
			"run [options]",
		),
		config:  cfg,
		version: version,
	}
}

func (c *RunCommand) SetupFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.tree, "tree", "", "YAML tree definition (default: built-in toy-1d MPPI tree)")
	fs.Float64Var(&c.x0, "x0", 0.8, "Initial position")
	fs.IntVar(&c.maxTicks, "max-ticks", 200, "Stop after this many ticks (0: no limit)")
	fs.DurationVar(&c.period, "period", 0, "Tick period (overrides config [tick] period)")
	fs.StringVar(&c.actionKey, "action-key", "u", "Blackboard key holding the action to apply")
	fs.BoolVar(&c.stopOnResult, "stop-on-result", false, "Stop once the root returns success or failure")
	fs.StringVar(&c.metricsAddr, "metrics", "", "Serve Prometheus metrics on this address while running")
	fs.BoolVar(&c.trace, "trace", false, "Export planner and tick spans to stderr")
	fs.StringVar(&c.log.file, "log-file", "", "Log file path (overrides config log.file)")
	fs.StringVar(&c.log.level, "log-level", "", "Log level (overrides config log.level)")
}

func (c *RunCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if err := noArgs(args, stderr); err != nil {
		return err
	}
	settings, err := config.DefaultSchema().Settings(c.config)
	if err != nil {
		return err
	}
	if c.period > 0 {
		settings.TickPeriod = c.period
	}
	if c.trace {
		settings.OTelStdout = true
	}

	logger, closer, err := logging.Setup(resolveLogConfig(c.log, settings), stderr)
	if err != nil {
		return err
	}
	defer closer.Close()

	def, err := c.loadTree()
	if err != nil {
		return err
	}
	g, err := bt.Compile(def, toy1dHostFunctions(c.actionKey))
	if err != nil {
		return err
	}

	calls := sink.NewMemory()
	rt, err := runtime.New(settings, runtime.Options{
		Logger:      logger,
		Version:     c.version,
		TraceWriter: stderr,
		Sinks:       []planner.LogSink{calls},
	})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.Close(ctx); err != nil {
			logger.Warn("[Run] shutdown", "error", err)
		}
	}()

	in, err := rt.NewInstance("main", g)
	if err != nil {
		return err
	}
	defer in.Close()

	if c.metricsAddr != "" {
		stop, err := c.serveMetrics(rt, stderr)
		if err != nil {
			return err
		}
		defer stop()
	}

	env := runtime.NewToy1D(c.x0, 0)
	loop := rt.Loop("main", in, env, c.actionKey)
	loop.MaxTicks = c.maxTicks
	loop.StopOnResult = c.stopOnResult

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	res, runErr := loop.Run(ctx)

	x, _ := env.State()
	stats := in.Stats()
	timeouts := 0
	for _, rec := range calls.Records() {
		if rec.Status == planner.StatusTimeout {
			timeouts++
		}
	}
	_, _ = fmt.Fprintf(stdout, "run_id: %s\n", rt.RunID)
	_, _ = fmt.Fprintf(stdout, "ticks: %d\n", res.Ticks)
	_, _ = fmt.Fprintf(stdout, "status: %s\n", res.Last)
	_, _ = fmt.Fprintf(stdout, "x: %.4f\n", x)
	_, _ = fmt.Fprintf(stdout, "tick_overruns: %d\n", stats.TickOverrunCount)
	_, _ = fmt.Fprintf(stdout, "planner_calls: %d (timeouts: %d)\n", calls.Len(), timeouts)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func (c *RunCommand) loadTree() (bt.Def, error) {
	if c.tree == "" {
		return bt.ParseYAML(toy1dTree)
	}
	f, err := os.Open(c.tree)
	if err != nil {
		return bt.Def{}, err
	}
	defer f.Close()
	return bt.LoadYAML(f)
}

func (c *RunCommand) serveMetrics(rt *runtime.Runtime, stderr io.Writer) (func(), error) {
	ln, err := net.Listen("tcp", c.metricsAddr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.Metrics.Handler())
	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.Logger.Error("[Run] metrics server failed", "error", err)
		}
	}()
	_, _ = fmt.Fprintf(stderr, "Metrics listening on http://%s/metrics\n", ln.Addr())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}

// toy1dHostFunctions are the leaves available to trees run by this command.
func toy1dHostFunctions(actionKey string) *bt.Registry {
	return bt.NewRegistry().
		RegisterCond("at_goal", func(l *bt.Leaf) (bool, error) {
			tol := 0.01
			if len(l.Args) > 0 {
				f, err := l.Args[0].AsFloat()
				if err != nil {
					return false, err
				}
				tol = f
			}
			x, err := l.Get("x").AsFloats()
			if err != nil {
				return false, err
			}
			return len(x) == 1 && math.Abs(x[0]) <= tol, nil
		}).
		RegisterAct("hold", func(l *bt.Leaf) (bt.Status, error) {
			l.Put(actionKey, value.Floats(0))
			return bt.Success, nil
		})
}
