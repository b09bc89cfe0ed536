package config

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is a parsed configuration file.
type Config struct {
	// Global holds options outside any [section].
	Global map[string]string
	// Sections holds options by section name.
	Sections map[string]map[string]string
	// Warnings collects schema violations found while loading.
	Warnings []string
}

// NewConfig creates a new empty configuration.
func NewConfig() *Config {
	return &Config{
		Global:   make(map[string]string),
		Sections: make(map[string]map[string]string),
	}
}

// Load loads configuration from the default config file path.
func Load() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, fmt.Errorf("failed to get config path: %w", err)
	}
	return LoadFromPath(configPath)
}

// LoadFromPath loads configuration from path. A missing file yields an
// empty configuration. Symlinks are rejected.
func LoadFromPath(path string) (*Config, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewConfig(), nil
		}
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("symlink not allowed in config path: %s", path)
	}

	file, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return LoadFromReader(file)
}

// LoadFromReader parses the dnsmasq-style format: one "option value" per
// line, "#" comments, and "[section]" headers.
func LoadFromReader(r io.Reader) (*Config, error) {
	config := NewConfig()
	scanner := bufio.NewScanner(r)

	var section string
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSpace(strings.Trim(line, "[]"))
			if section == "" {
				return nil, fmt.Errorf("line %d: empty section name", lineNo)
			}
			if config.Sections[section] == nil {
				config.Sections[section] = make(map[string]string)
			}
			continue
		}

		name, value, _ := strings.Cut(line, " ")
		value = strings.TrimSpace(value)
		if section == "" {
			config.Global[name] = value
		} else {
			config.Sections[section][name] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}

	for _, issue := range ValidateConfig(config, DefaultSchema()) {
		config.addWarning("%s", issue)
	}
	return config, nil
}

func (c *Config) addWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.Warnings = append(c.Warnings, msg)
	slog.Warn("[Config] " + msg)
}

// parseBool accepts true/false, 1/0, yes/no and on/off, case-insensitively.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value: %s", s)
	}
}

// GetGlobalOption returns a global configuration option.
func (c *Config) GetGlobalOption(name string) (string, bool) {
	value, exists := c.Global[name]
	return value, exists
}

// GetSectionOption returns an option from section, falling back to the
// global option of the same name.
func (c *Config) GetSectionOption(section, name string) (string, bool) {
	if opts, ok := c.Sections[section]; ok {
		if value, ok := opts[name]; ok {
			return value, true
		}
	}
	return c.GetGlobalOption(name)
}

// SetGlobalOption sets a global configuration option.
func (c *Config) SetGlobalOption(name, value string) {
	c.Global[name] = value
}

// SetSectionOption sets an option in section.
func (c *Config) SetSectionOption(section, name, value string) {
	if c.Sections[section] == nil {
		c.Sections[section] = make(map[string]string)
	}
	c.Sections[section][name] = value
}

// HasWarnings returns true if there are any warnings.
func (c *Config) HasWarnings() bool {
	return len(c.Warnings) > 0
}

// Settings is the resolved, typed view of a Config, with environment
// overrides and schema defaults applied.
type Settings struct {
	LogFile      string
	LogLevel     string
	LogMaxSizeMB int
	LogMaxFiles  int

	BaseSeed uint64
	RunID    string

	TickBudgetMs        float64
	TickPeriod          time.Duration
	ResetCountersOnHalt bool
	ExprCacheSize       int

	SchedulerWorkers int

	PlannerLogJSONL string
	NATSURL         string
	NATSSubject     string
	OTelStdout      bool

	MPPIWorkers int
}

// Settings builds Settings from c (which may be nil) using schema s.
// Invalid values are reported as errors rather than silently defaulted.
func (s *ConfigSchema) Settings(c *Config) (*Settings, error) {
	if c == nil {
		c = NewConfig()
	}
	var errs []string
	str := func(section, key string) string { return s.ResolveIn(c, section, key) }
	integer := func(section, key string) int {
		v := str(section, key)
		if v == "" {
			return 0
		}
		i, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: expected int, got %q", qualified(section, key), v))
		}
		return i
	}
	boolean := func(section, key string) bool {
		v := str(section, key)
		if v == "" {
			return false
		}
		b, err := parseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", qualified(section, key), err))
		}
		return b
	}

	out := &Settings{
		LogFile:             str("", "log.file"),
		LogLevel:            str("", "log.level"),
		LogMaxSizeMB:        integer("", "log.max-size-mb"),
		LogMaxFiles:         integer("", "log.max-files"),
		RunID:               str("", "run.id"),
		ResetCountersOnHalt: boolean(SectionTick, "reset-counters-on-halt"),
		ExprCacheSize:       integer(SectionBT, "expr-cache-size"),
		SchedulerWorkers:    integer(SectionScheduler, "workers"),
		PlannerLogJSONL:     str(SectionPlanner, "log-jsonl"),
		NATSURL:             str(SectionPlanner, "nats-url"),
		NATSSubject:         str(SectionPlanner, "nats-subject"),
		OTelStdout:          boolean(SectionPlanner, "otel-stdout"),
		MPPIWorkers:         integer(SectionMPPI, "workers"),
	}
	if v := str("", "run.base-seed"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 63)
		if err != nil {
			errs = append(errs, fmt.Sprintf("run.base-seed: %v", err))
		}
		out.BaseSeed = seed
	}
	if v := str(SectionTick, "budget-ms"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			errs = append(errs, fmt.Sprintf("[tick] budget-ms: expected non-negative number, got %q", v))
		}
		out.TickBudgetMs = f
	}
	if v := str(SectionTick, "period"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Sprintf("[tick] period: expected positive duration, got %q", v))
		}
		out.TickPeriod = d
	}
	if out.ExprCacheSize < 0 {
		errs = append(errs, fmt.Sprintf("[bt] expr-cache-size: expected non-negative int, got %d", out.ExprCacheSize))
	}
	if len(errs) > 0 {
		return out, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return out, nil
}

func qualified(section, key string) string {
	if section == "" {
		return key
	}
	return "[" + section + "] " + key
}
