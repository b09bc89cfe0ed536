package command

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/unswei/muesli-bt-sub004/internal/config"
	"github.com/unswei/muesli-bt-sub004/internal/logging"
	"github.com/unswei/muesli-bt-sub004/internal/planner"
	"github.com/unswei/muesli-bt-sub004/internal/runtime"
	"github.com/unswei/muesli-bt-sub004/internal/value"
)

// PlanCommand answers a single planner.request.v1 read as JSON.
type PlanCommand struct {
	*BaseCommand
	config  *config.Config
	version string
	stdin   io.Reader
	// closeTimeout bounds the runtime shutdown after the call.
	closeTimeout time.Duration

	log    logFlags
	node   string
	tick   uint64
	indent bool
}

func NewPlanCommand(cfg *config.Config, version string) *PlanCommand {
	return &PlanCommand{
		BaseCommand: NewBaseCommand(
			"plan",
			"Run one planner request and print the planner.result.v1",
			"plan [options] [request.json|-]",
		),
		config:       cfg,
		version:      version,
		stdin:        os.Stdin,
		closeTimeout: 5 * time.Second,
	}
}

func (c *PlanCommand) SetupFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.node, "node", "cli", "Node name used for seed derivation and records")
	fs.Uint64Var(&c.tick, "tick", 0, "Tick index used for seed derivation and records")
	fs.BoolVar(&c.indent, "indent", false, "Indent the JSON output")
	fs.StringVar(&c.log.file, "log-file", "", "Log file path (overrides config log.file)")
	fs.StringVar(&c.log.level, "log-level", "", "Log level (overrides config log.level)")
}

func (c *PlanCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) > 1 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %v\n", args[1:])
		return fmt.Errorf("unexpected arguments")
	}
	data, err := c.readRequest(args)
	if err != nil {
		return err
	}
	request, err := value.ParseJSON(data)
	if err != nil {
		return fmt.Errorf("parse request: %w", err)
	}

	settings, err := config.DefaultSchema().Settings(c.config)
	if err != nil {
		return err
	}
	logger, closer, err := logging.Setup(resolveLogConfig(c.log, settings), stderr)
	if err != nil {
		return err
	}
	defer closer.Close()

	rt, err := runtime.New(settings, runtime.Options{Logger: logger, Version: c.version, TraceWriter: stderr})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.closeTimeout)
		defer cancel()
		_ = rt.Close(ctx)
	}()

	// budget_ms alone bounds the call
	res := rt.Dispatcher.Plan(context.Background(), request, planner.CallInfo{NodeName: c.node, TickIndex: c.tick})
	var out []byte
	if c.indent {
		out, err = json.MarshalIndent(res, "", "  ")
	} else {
		out, err = json.Marshal(res)
	}
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, _ = fmt.Fprintln(stdout, string(out))
	if res.Status == planner.StatusError {
		return errors.New("planner: " + res.Error)
	}
	return nil
}

func (c *PlanCommand) readRequest(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(c.stdin)
		if err != nil {
			return nil, fmt.Errorf("read request: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	return data, nil
}
