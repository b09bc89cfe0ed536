package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSetKeyInFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "config")

	steps := []struct {
		section, key, value string
		want                string
	}{
		{"", "log.level", "debug", "log.level debug\n"},
		{"tick", "period", "50ms", "log.level debug\n\n[tick]\nperiod 50ms\n"},
		{"", "run.id", "abc", "log.level debug\nrun.id abc\n\n[tick]\nperiod 50ms\n"},
		{"tick", "period", "10ms", "log.level debug\nrun.id abc\n\n[tick]\nperiod 10ms\n"},
		{"tick", "budget-ms", "3", "log.level debug\nrun.id abc\n\n[tick]\nperiod 10ms\nbudget-ms 3\n"},
	}
	for _, step := range steps {
		if err := SetKeyInFile(path, step.section, step.key, step.value); err != nil {
			t.Fatalf("SetKeyInFile(%q, %q): %v", step.section, step.key, err)
		}
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != step.want {
			t.Fatalf("after setting [%s] %s:\ngot:\n%s\nwant:\n%s", step.section, step.key, got, step.want)
		}
	}

	c, err := LoadFromPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.HasWarnings() {
		t.Errorf("written file should validate: %v", c.Warnings)
	}
}
