package core

import (
	"errors"
	"testing"

	"github.com/signalsfoundry/resilience-designer/internal/solver"
	"github.com/signalsfoundry/resilience-designer/model"
)

func TestEvaluatePolicyAddsFixedCost(t *testing.T) {
	p := testParams()
	scenarios := []model.Scenario{
		scenarioWith(t, testWeeks, [model.NumFacilities]model.Outage{}),
		scenarioWith(t, testWeeks, [model.NumFacilities]model.Outage{model.Supplier: {Start: 10, Duration: 6}}),
	}
	pp := policyWith(t, p, [model.NumFacilities]int{model.DC: 2}, 0, 40)
	ev, err := EvaluatePolicy(testContext(t), p, pp, scenarios, WithWorkers(2))
	if err != nil {
		t.Fatalf("EvaluatePolicy: %v", err)
	}
	if !ev.Feasible() || ev.Anomalies != 0 {
		t.Fatalf("evaluation = %+v", ev)
	}
	if !near(ev.FixedCost, pp.FixedCost(p), 1e-12) {
		t.Fatalf("FixedCost = %v, want %v", ev.FixedCost, pp.FixedCost(p))
	}
	samples := ev.Samples()
	if len(samples) != 2 {
		t.Fatalf("samples = %v", samples)
	}
	for i, sc := range ev.Scenarios {
		if sc.Index != i || sc.Status != solver.StatusOptimal {
			t.Fatalf("scenario %d = %+v", i, sc)
		}
		if !near(sc.Total, sc.Recourse+ev.FixedCost, 1e-12) {
			t.Fatalf("scenario %d total %v != recourse %v + fixed %v", i, sc.Total, sc.Recourse, ev.FixedCost)
		}
	}
	if samples[1] < samples[0] {
		t.Fatalf("disrupted scenario cheaper than the quiet one: %v", samples)
	}
}

func TestEvaluatePolicyCountsInfeasibleScenarios(t *testing.T) {
	p := testParams()
	scenarios := []model.Scenario{
		scenarioWith(t, testWeeks, [model.NumFacilities]model.Outage{}),
		scenarioWith(t, testWeeks, [model.NumFacilities]model.Outage{
			model.Supplier: {Start: 2, Duration: 8},
			model.Plant:    {Start: 2, Duration: 8},
		}),
	}
	pp := policyWith(t, p, [model.NumFacilities]int{model.Supplier: 1}, 0, 0)
	ev, err := EvaluatePolicy(testContext(t), p, pp, scenarios)
	if err != nil {
		t.Fatalf("EvaluatePolicy: %v", err)
	}
	if ev.Feasible() || ev.Infeasible != 1 {
		t.Fatalf("Infeasible = %d, want 1", ev.Infeasible)
	}
	if got := len(ev.Samples()); got != 1 {
		t.Fatalf("samples = %d, want 1", got)
	}
}

func TestEvaluatePolicyRejectsBadInput(t *testing.T) {
	p := testParams()
	if _, err := EvaluatePolicy(testContext(t), p, model.NoBackupPolicy(p), nil); !errors.Is(err, ErrNoScenarios) {
		t.Fatalf("err = %v, want ErrNoScenarios", err)
	}
	bad := model.NoBackupPolicy(p)
	bad.WIPStock = -5
	sc := scenarioWith(t, testWeeks, [model.NumFacilities]model.Outage{})
	if _, err := EvaluatePolicy(testContext(t), p, bad, []model.Scenario{sc}); !errors.Is(err, model.ErrInvalidPolicy) {
		t.Fatalf("err = %v, want ErrInvalidPolicy", err)
	}
}
