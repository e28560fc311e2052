package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// smallConfig keeps the horizon short so that every subcommand finishes
// quickly.
const smallConfig = `
params:
  weeks_per_year: 12
  max_delay: 4
saa:
  sampler: montecarlo
  batches: 2
  demand_paths: 1
  disruption_patterns: 2
  evaluation_size: 3
logging:
  level: error
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func execute(t *testing.T, a *app, args ...string) (string, string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	root := a.rootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func TestEvaluateQuietScenarioFromFile(t *testing.T) {
	cfgPath := writeFile(t, "designer.yaml", smallConfig)
	scenarios := writeFile(t, "scenarios.json", `{"scenarios": [{"flat_demand": 100}, {"flat_demand": 100}]}`)

	stdout, stderr, err := execute(t, &app{}, "evaluate", "-c", cfgPath, "-o", "json", "--scenarios", scenarios)
	if err != nil {
		t.Fatalf("evaluate: %v\nstderr: %s", err, stderr)
	}
	var v evaluationView
	if err := json.Unmarshal([]byte(stdout), &v); err != nil {
		t.Fatalf("decode output: %v\n%s", err, stdout)
	}
	if v.Scenarios != 2 || v.Infeasible != 0 || v.FixedCost != 0 {
		t.Fatalf("evaluation = %+v", v)
	}
	if v.Cost == nil || math.Abs(v.Cost.Mean-3000) > 1e-6 || v.Cost.High-v.Cost.Low > 1e-6 {
		t.Fatalf("cost = %+v, want 3000 with zero width", v.Cost)
	}
}

func TestEvaluateReadsYAMLPolicy(t *testing.T) {
	cfgPath := writeFile(t, "designer.yaml", smallConfig)
	policy := writeFile(t, "policy.yaml", "supplier: 0\nplant: 0\ndc: 0\nwip_stock: 12\nfg_stock: 0\n")

	stdout, stderr, err := execute(t, &app{}, "evaluate", "-c", cfgPath, "--policy", policy, "--size", "2")
	if err != nil {
		t.Fatalf("evaluate: %v\nstderr: %s", err, stderr)
	}
	for _, want := range []string{"Policy:", "wip=12.00", "Scenarios: 2", "Expected cost:"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("output missing %q:\n%s", want, stdout)
		}
	}
}

func TestDeterministicPrintsWeeklyPlan(t *testing.T) {
	cfgPath := writeFile(t, "designer.yaml", smallConfig)

	stdout, stderr, err := execute(t, &app{}, "deterministic", "-c", cfgPath)
	if err != nil {
		t.Fatalf("deterministic: %v\nstderr: %s", err, stderr)
	}
	for _, want := range []string{"unified model's solution has total cost", "FACILITY", "WEEK", "LOST"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("output missing %q:\n%s", want, stdout)
		}
	}
}

func TestFullReportsBounds(t *testing.T) {
	cfgPath := writeFile(t, "designer.yaml", smallConfig)

	stdout, stderr, err := execute(t, &app{}, "full", "-c", cfgPath, "-o", "json", "--workers", "2")
	if err != nil {
		t.Fatalf("full: %v\nstderr: %s", err, stderr)
	}
	var v reportView
	if err := json.Unmarshal([]byte(stdout), &v); err != nil {
		t.Fatalf("decode output: %v\n%s", err, stdout)
	}
	if v.Lower == nil || v.Upper == nil || v.BestBatch == nil {
		t.Fatalf("report missing bounds: %+v", v)
	}
	if v.Lower.Low > v.Lower.Mean || v.Upper.High < v.Upper.Mean {
		t.Fatalf("bounds not ordered: lower %+v upper %+v", v.Lower, v.Upper)
	}
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	cfgPath := writeFile(t, "designer.yaml", smallConfig+"solver:\n  workers: 2\n  risk_measure: robust\n")
	scenarios := writeFile(t, "scenarios.yaml", "scenarios:\n  - flat_demand: 100\n")

	a := &app{}
	if _, stderr, err := execute(t, a, "evaluate", "-c", cfgPath, "--workers", "3", "--seed", "9", "--scenarios", scenarios); err != nil {
		t.Fatalf("evaluate: %v\nstderr: %s", err, stderr)
	}
	if a.cfg.Solver.Workers != 3 || a.cfg.SAA.Seed != 9 {
		t.Fatalf("solver = %+v, seed = %d: flags must win", a.cfg.Solver, a.cfg.SAA.Seed)
	}
	if a.cfg.Solver.RiskMeasure != "robust" {
		t.Fatalf("risk = %q, want value from file", a.cfg.Solver.RiskMeasure)
	}
}

func TestInvalidInputsFail(t *testing.T) {
	cfgPath := writeFile(t, "designer.yaml", smallConfig)
	cases := [][]string{
		{"evaluate", "-c", cfgPath, "--risk", "cvar"},
		{"evaluate", "-c", cfgPath, "-o", "xml"},
		{"evaluate", "-c", cfgPath, "--scenarios", filepath.Join(t.TempDir(), "missing.json")},
		{"full", "-c", cfgPath, "--confidence", "1.5"},
		{"evaluate", "-c", writeFile(t, "bad.yaml", "solver:\n  threads: 2\n")},
	}
	for _, args := range cases {
		if _, _, err := execute(t, &app{}, args...); err == nil {
			t.Fatalf("designer %v: expected error", args)
		}
	}
}
