package command

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/unswei/muesli-bt-sub004/internal/config"
)

const mppiRequest = `{
  "schema_version": "planner.request.v1",
  "planner": "mppi",
  "model_service": "toy-1d",
  "state": [0.5],
  "budget_ms": 200,
  "work_max": 32,
  "seed": 7,
  "mppi": {"horizon": 5, "n_samples": 32}
}`

func runPlan(t *testing.T, cfg *config.Config, stdin string, args ...string) (map[string]any, string, error) {
	t.Helper()
	return runPlanCommand(t, NewPlanCommand(cfg, "test"), stdin, args...)
}

func runPlanCommand(t *testing.T, cmd *PlanCommand, stdin string, args ...string) (map[string]any, string, error) {
	t.Helper()
	cmd.stdin = strings.NewReader(stdin)
	registry := NewRegistry()
	registry.Register(cmd)
	var stdout, stderr bytes.Buffer
	err := registry.Dispatch(append([]string{"plan"}, args...), &stdout, &stderr)
	if stdout.Len() == 0 {
		return nil, stderr.String(), err
	}
	var out map[string]any
	if jerr := json.Unmarshal(stdout.Bytes(), &out); jerr != nil {
		t.Fatalf("result is not JSON: %v (%q)", jerr, stdout.String())
	}
	return out, stderr.String(), err
}

func TestPlanCommandFromStdin(t *testing.T) {
	t.Parallel()
	out, _, err := runPlan(t, config.NewConfig(), mppiRequest)
	if err != nil {
		t.Fatal(err)
	}
	if out["schema_version"] != "planner.result.v1" || out["status"] != "ok" || out["planner"] != "mppi" {
		t.Fatalf("unexpected result %v", out)
	}
	stats := out["stats"].(map[string]any)
	if stats["seed"] != float64(7) {
		t.Fatalf("explicit seed should be used, got %v", stats["seed"])
	}
	action := out["action"].(map[string]any)
	if u := action["u"].([]any); len(u) != 1 {
		t.Fatalf("expected a 1-d action, got %v", u)
	}
}

func TestPlanCommandBudgetNotCutByShutdownTimeout(t *testing.T) {
	t.Parallel()
	cmd := NewPlanCommand(config.NewConfig(), "test")
	cmd.closeTimeout = time.Nanosecond
	req := strings.Replace(mppiRequest, `"budget_ms": 200`, `"budget_ms": 60000`, 1)
	out, _, err := runPlanCommand(t, cmd, req)
	if err != nil {
		t.Fatal(err)
	}
	if out["status"] != "ok" {
		t.Fatalf("expected the request to finish within its own budget, got %v", out["status"])
	}
}

func TestPlanCommandFromFileIsDeterministic(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "request.json")
	req := strings.Replace(mppiRequest, `"seed": 7,`, "", 1)
	if err := os.WriteFile(path, []byte(req), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := config.NewConfig()
	cfg.SetGlobalOption("run.base-seed", "42")

	a, _, err := runPlan(t, cfg, "", "-node", "planner", "-tick", "3", path)
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := runPlan(t, cfg, "", "-node", "planner", "-tick", "3", path)
	if err != nil {
		t.Fatal(err)
	}
	sa, sb := a["stats"].(map[string]any), b["stats"].(map[string]any)
	if sa["seed"] != sb["seed"] {
		t.Fatalf("derived seeds differ: %v vs %v", sa["seed"], sb["seed"])
	}
	ua, ub := a["action"].(map[string]any)["u"], b["action"].(map[string]any)["u"]
	if ua.([]any)[0] != ub.([]any)[0] {
		t.Fatalf("same seed should give the same action: %v vs %v", ua, ub)
	}

	c, _, err := runPlan(t, cfg, "", "-node", "planner", "-tick", "4", path)
	if err != nil {
		t.Fatal(err)
	}
	if c["stats"].(map[string]any)["seed"] == sa["seed"] {
		t.Fatal("another tick should derive another seed")
	}
}

func TestPlanCommandErrors(t *testing.T) {
	t.Parallel()
	out, _, err := runPlan(t, config.NewConfig(), strings.Replace(mppiRequest, `"toy-1d"`, `"warp-drive"`, 1))
	if err == nil {
		t.Fatal("expected an error for an unknown model")
	}
	if out["status"] != "error" || out["error"] == nil {
		t.Fatalf("an error result should still be printed, got %v", out)
	}

	if _, _, err := runPlan(t, config.NewConfig(), "{not json"); err == nil || !strings.Contains(err.Error(), "parse request") {
		t.Fatalf("expected a parse error, got %v", err)
	}
	if _, _, err := runPlan(t, config.NewConfig(), "", filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected an error for a missing request file")
	}
	if _, _, err := runPlan(t, config.NewConfig(), "", "a.json", "b.json"); err == nil {
		t.Fatal("expected an error for extra arguments")
	}
}

func TestPlanCommandWritesJSONL(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "records.jsonl")
	cfg := config.NewConfig()
	cfg.SetSectionOption("planner", "log-jsonl", path)
	if _, _, err := runPlan(t, cfg, mppiRequest, "-indent"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "\n"); n != 1 {
		t.Fatalf("expected one record, got %d: %q", n, data)
	}
	var rec map[string]any
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatal(err)
	}
	if rec["schema_version"] != "planner.v1" || rec["node_name"] != "cli" {
		t.Fatalf("unexpected record %v", rec)
	}
}
