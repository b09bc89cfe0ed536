package command

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/unswei/muesli-bt-sub004/internal/config"
)

// HelpCommand displays help information for commands.
type HelpCommand struct {
	*BaseCommand
	registry *Registry
}

func NewHelpCommand(registry *Registry) *HelpCommand {
	return &HelpCommand{
		BaseCommand: NewBaseCommand(
			"help",
			"Display help information for commands",
			"help [command]",
		),
		registry: registry,
	}
}

func (c *HelpCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stdout, "muesli - behaviour trees with budgeted planners")
		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Usage: muesli <command> [options] [args...]")
		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Available commands:")
		w := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
		for _, name := range c.registry.List() {
			if cmd, err := c.registry.Get(name); err == nil {
				_, _ = fmt.Fprintf(w, "  %s\t%s\n", name, cmd.Description())
			}
		}
		_ = w.Flush()
		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Use 'muesli help <command>' for more information about a specific command (includes flags).")
		return nil
	}

	cmd, err := c.registry.Get(args[0])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		return err
	}
	_, _ = fmt.Fprintf(stdout, "Command: %s\n", cmd.Name())
	_, _ = fmt.Fprintf(stdout, "Description: %s\n", cmd.Description())
	_, _ = fmt.Fprintf(stdout, "Usage: muesli %s\n", cmd.Usage())

	// flags are listed by running SetupFlags against a scratch FlagSet
	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	buf := &bytes.Buffer{}
	fs.SetOutput(buf)
	cmd.SetupFlags(fs)
	fs.PrintDefaults()
	if buf.Len() > 0 {
		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Flags:")
		_, _ = fmt.Fprint(stdout, buf.String())
	}
	return nil
}

// VersionCommand displays version information.
type VersionCommand struct {
	*BaseCommand
	version string
}

func NewVersionCommand(version string) *VersionCommand {
	return &VersionCommand{
		BaseCommand: NewBaseCommand(
			"version",
			"Display version information",
			"version",
		),
		version: version,
	}
}

func (c *VersionCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if err := noArgs(args, stderr); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout, "muesli-bt version %s\n", c.version)
	return nil
}

// ConfigCommand reads and writes configuration options.
type ConfigCommand struct {
	*BaseCommand
	config     *config.Config
	configPath string
	section    string
	showAll    bool
}

// NewConfigCommand creates a config command. If configPath is empty, set
// values are kept in memory only.
func NewConfigCommand(cfg *config.Config, configPath string) *ConfigCommand {
	return &ConfigCommand{
		BaseCommand: NewBaseCommand(
			"config",
			"Manage configuration settings",
			"config [options] [key] [value] | validate | schema",
		),
		config:     cfg,
		configPath: configPath,
	}
}

func (c *ConfigCommand) SetupFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.section, "section", "", "Section of the option (tick, scheduler, planner, mppi); empty for global")
	fs.BoolVar(&c.showAll, "all", false, "Show every option with its effective value")
}

func (c *ConfigCommand) Execute(args []string, stdout, stderr io.Writer) error {
	schema := config.DefaultSchema()
	if len(args) == 0 {
		if c.showAll {
			c.printEffective(schema, stdout)
			return nil
		}
		_, _ = fmt.Fprintln(stdout, "Configuration management:")
		_, _ = fmt.Fprintln(stdout, "  config [--section s] <key>          - Get configuration value")
		_, _ = fmt.Fprintln(stdout, "  config [--section s] <key> <value>  - Set configuration value")
		_, _ = fmt.Fprintln(stdout, "  config --all                        - Show effective configuration")
		_, _ = fmt.Fprintln(stdout, "  config validate                     - Validate configuration")
		_, _ = fmt.Fprintln(stdout, "  config schema                       - Show configuration schema")
		return nil
	}

	switch args[0] {
	case "validate":
		return c.executeValidate(stdout)
	case "schema":
		_, _ = fmt.Fprint(stdout, schema.FormatHelp())
		return nil
	}

	key := args[0]
	switch len(args) {
	case 1:
		if !schema.IsKnown(c.section, key) {
			if _, ok := c.config.GetSectionOption(c.section, key); !ok {
				_, _ = fmt.Fprintf(stdout, "Configuration key '%s' not found\n", qualified(c.section, key))
				return nil
			}
		}
		_, _ = fmt.Fprintf(stdout, "%s: %s\n", qualified(c.section, key), schema.ResolveIn(c.config, c.section, key))
		return nil
	case 2:
		val := args[1]
		if !schema.IsKnown(c.section, key) {
			_, _ = fmt.Fprintf(stderr, "Unknown option: %s\n", qualified(c.section, key))
			return fmt.Errorf("unknown option %s", qualified(c.section, key))
		}
		if c.section == "" {
			c.config.SetGlobalOption(key, val)
		} else {
			c.config.SetSectionOption(c.section, key, val)
		}
		if issues := config.ValidateConfig(c.config, schema); len(issues) > 0 {
			_, _ = fmt.Fprintf(stderr, "Warning: %s\n", issues[0])
		}
		if c.configPath != "" {
			if err := config.SetKeyInFile(c.configPath, c.section, key, val); err != nil {
				return fmt.Errorf("failed to persist config: %w", err)
			}
		}
		_, _ = fmt.Fprintf(stdout, "Set configuration: %s = %s\n", qualified(c.section, key), val)
		return nil
	}

	_, _ = fmt.Fprintln(stderr, "Invalid number of arguments")
	return fmt.Errorf("invalid arguments")
}

func (c *ConfigCommand) printEffective(schema *config.ConfigSchema, stdout io.Writer) {
	w := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
	for _, o := range schema.Options() {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", qualified(o.Section, o.Key), schema.ResolveIn(c.config, o.Section, o.Key))
	}
	_ = w.Flush()
}

// executeValidate validates the current config against the schema.
func (c *ConfigCommand) executeValidate(stdout io.Writer) error {
	issues := config.ValidateConfig(c.config, config.DefaultSchema())
	if _, err := config.DefaultSchema().Settings(c.config); err != nil {
		issues = append(issues, err.Error())
	}
	if len(issues) == 0 {
		_, _ = fmt.Fprintln(stdout, "Configuration is valid.")
		return nil
	}
	_, _ = fmt.Fprintf(stdout, "Configuration has %d issue(s):\n", len(issues))
	for _, issue := range issues {
		_, _ = fmt.Fprintf(stdout, "  - %s\n", issue)
	}
	return fmt.Errorf("invalid configuration")
}

func qualified(section, key string) string {
	if section == "" {
		return key
	}
	return "[" + section + "] " + key
}
