package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigParsing(t *testing.T) {
	configContent := `# Global options
log.level debug
run.base-seed 42

[tick]
budget-ms 5
period 20ms

[scheduler]
workers 2`

	config, err := LoadFromReader(strings.NewReader(configContent))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if config.HasWarnings() {
		t.Fatalf("unexpected warnings: %v", config.Warnings)
	}

	if value, ok := config.GetGlobalOption("log.level"); !ok || value != "debug" {
		t.Errorf("Expected log.level=debug, got %s (exists: %v)", value, ok)
	}
	if value, ok := config.GetSectionOption("tick", "period"); !ok || value != "20ms" {
		t.Errorf("Expected tick.period=20ms, got %s (exists: %v)", value, ok)
	}
	// fallback to global
	if value, ok := config.GetSectionOption("tick", "log.level"); !ok || value != "debug" {
		t.Errorf("Expected tick log.level fallback, got %s (exists: %v)", value, ok)
	}
	if value, ok := config.GetSectionOption("nonexistent", "option"); ok {
		t.Errorf("Expected nonexistent option to not exist, but got %s", value)
	}
}

func TestUnknownOptionsWarn(t *testing.T) {
	config, err := LoadFromReader(strings.NewReader("bogus 1\n[scheduler]\nworkers many\nspeed 3\n"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if len(config.Warnings) != 3 {
		t.Fatalf("expected 3 warnings, got %d: %v", len(config.Warnings), config.Warnings)
	}
	joined := strings.Join(config.Warnings, "\n")
	for _, want := range []string{`unknown global option: "bogus"`, `unknown option in [scheduler]: "speed"`, `expected int, got "many"`} {
		if !strings.Contains(joined, want) {
			t.Errorf("warnings missing %q:\n%s", want, joined)
		}
	}
}

func TestEmptySectionNameRejected(t *testing.T) {
	if _, err := LoadFromReader(strings.NewReader("[ ]\n")); err == nil {
		t.Fatal("expected error for empty section name")
	}
}

func TestSettingsDefaults(t *testing.T) {
	t.Setenv("MUESLI_LOG_LEVEL", "")
	os.Unsetenv("MUESLI_LOG_LEVEL")
	s, err := DefaultSchema().Settings(nil)
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if s.LogLevel != "info" || s.TickPeriod != 100*time.Millisecond || !s.ResetCountersOnHalt {
		t.Errorf("unexpected defaults: %+v", s)
	}
	if s.SchedulerWorkers != 4 || s.NATSSubject != "muesli.planner.v1" || s.OTelStdout || s.ExprCacheSize != 1000 {
		t.Errorf("unexpected defaults: %+v", s)
	}
}

func TestSettingsFromFileAndEnv(t *testing.T) {
	t.Setenv("MUESLI_BASE_SEED", "7")
	config, err := LoadFromReader(strings.NewReader("run.base-seed 3\n[tick]\nbudget-ms 2.5\nreset-counters-on-halt no\n[planner]\notel-stdout yes\n[mppi]\nworkers 3\n[bt]\nexpr-cache-size 64\n"))
	if err != nil {
		t.Fatal(err)
	}
	s, err := DefaultSchema().Settings(config)
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if s.BaseSeed != 7 {
		t.Errorf("env should override file seed, got %d", s.BaseSeed)
	}
	if s.TickBudgetMs != 2.5 || s.ResetCountersOnHalt || !s.OTelStdout || s.MPPIWorkers != 3 || s.ExprCacheSize != 64 {
		t.Errorf("unexpected settings: %+v", s)
	}
}

func TestSettingsInvalid(t *testing.T) {
	config := NewConfig()
	config.SetSectionOption(SectionTick, "period", "-1s")
	config.SetSectionOption(SectionScheduler, "workers", "x")
	config.SetSectionOption(SectionBT, "expr-cache-size", "-5")
	_, err := DefaultSchema().Settings(config)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"period", "workers", "expr-cache-size"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should name %s: %v", want, err)
		}
	}
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()

	missing, err := LoadFromPath(filepath.Join(dir, "missing"))
	if err != nil || len(missing.Global) != 0 {
		t.Fatalf("missing file should give empty config, got %v, %v", missing, err)
	}

	path := filepath.Join(dir, "config")
	if err := os.WriteFile(path, []byte("run.id demo\n"), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadFromPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := c.GetGlobalOption("run.id"); v != "demo" {
		t.Errorf("run.id = %q", v)
	}

	link := filepath.Join(dir, "link")
	if err := os.Symlink(path, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if _, err := LoadFromPath(link); err == nil {
		t.Error("expected symlink to be rejected")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("MUESLI_CONFIG", "/tmp/custom-muesli")
	p, err := GetConfigPath()
	if err != nil || p != "/tmp/custom-muesli" {
		t.Fatalf("GetConfigPath = %q, %v", p, err)
	}
}
