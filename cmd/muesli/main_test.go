package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRun(t *testing.T) {
	t.Setenv("MUESLI_CONFIG", filepath.Join(t.TempDir(), "config"))

	for _, tc := range []struct {
		name string
		args []string
		want string
	}{
		{"no command shows help", nil, "Available commands"},
		{"help flag", []string{"--help"}, "Available commands"},
		{"short help flag", []string{"-h"}, "Available commands"},
		{"version command", []string{"version"}, "muesli-bt version " + version},
		{"config schema", []string{"config", "schema"}, "[planner] Options:"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if err := run(tc.args, &stdout, &stderr); err != nil {
				t.Fatalf("run(%v): %v (stderr %q)", tc.args, err, stderr.String())
			}
			if !strings.Contains(stdout.String(), tc.want) {
				t.Fatalf("expected %q in output, got %q", tc.want, stdout.String())
			}
		})
	}
}

func TestRunUnknownCommand(t *testing.T) {
	t.Setenv("MUESLI_CONFIG", filepath.Join(t.TempDir(), "config"))
	var stdout, stderr bytes.Buffer
	if err := run([]string{"fly"}, &stdout, &stderr); err == nil {
		t.Fatal("expected an error for an unknown command")
	}
	if !strings.Contains(stderr.String(), "Unknown command: fly") {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
}

func TestRunReportsConfigWarnings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, []byte("no-such-option 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MUESLI_CONFIG", path)
	var stdout, stderr bytes.Buffer
	if err := run([]string{"version"}, &stdout, &stderr); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stderr.String(), "Warning:") {
		t.Fatalf("expected a config warning, got %q", stderr.String())
	}
}
