package core

import (
	"testing"

	"github.com/signalsfoundry/resilience-designer/model"
)

func TestUnifiedModelGoldenNoDisruption(t *testing.T) {
	p := model.DefaultParams()
	sc := scenarioWith(t, p.WeeksPerYear, [model.NumFacilities]model.Outage{})
	u, err := NewUnifiedModel(p, sc)
	if err != nil {
		t.Fatalf("NewUnifiedModel: %v", err)
	}
	t.Cleanup(u.Release)

	sol, err := u.Solve(testContext(t))
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if !sol.Converged {
		t.Fatalf("status = %s", sol.Status)
	}
	if !near(sol.TotalCost, 3000, 1e-6) {
		t.Fatalf("TotalCost = %v, want 3000", sol.TotalCost)
	}
	if got := sol.Policy.Options(); got != [model.NumFacilities]int{} {
		t.Fatalf("options = %v, want none", got)
	}
	if sol.TotalLostSales() > 1e-6 {
		t.Fatalf("lost sales %v without disruption", sol.TotalLostSales())
	}
}

func TestUnifiedModelMatchesSingleScenarioDecomposition(t *testing.T) {
	p := testParams()
	sc := scenarioWith(t, testWeeks, [model.NumFacilities]model.Outage{
		model.Plant: {Start: 3, Duration: 6},
		model.DC:    {Start: 10, Duration: 6},
	})
	u, err := NewUnifiedModel(p, sc)
	if err != nil {
		t.Fatalf("NewUnifiedModel: %v", err)
	}
	t.Cleanup(u.Release)
	joint, err := u.Solve(testContext(t))
	if err != nil {
		t.Fatalf("unified Solve: %v", err)
	}

	e := newTestEngine(t, p, []model.Scenario{sc})
	split, err := e.Solve(testContext(t))
	if err != nil {
		t.Fatalf("engine Solve: %v", err)
	}
	if !joint.Converged || !split.Converged {
		t.Fatalf("converged: unified %v, engine %v", joint.Converged, split.Converged)
	}
	if !near(joint.TotalCost, split.TotalCost, 1e-5) {
		t.Fatalf("unified cost %v, decomposed cost %v", joint.TotalCost, split.TotalCost)
	}
	if !near(joint.FacBackupCost, joint.Policy.FixedCost(p), 1e-9) {
		t.Fatalf("FacBackupCost = %v, policy fixed cost = %v", joint.FacBackupCost, joint.Policy.FixedCost(p))
	}
}

func TestUnifiedModelRejectsMismatchedHorizon(t *testing.T) {
	p := testParams()
	sc := scenarioWith(t, testWeeks-2, [model.NumFacilities]model.Outage{})
	if _, err := NewUnifiedModel(p, sc); err == nil {
		t.Fatalf("expected horizon error")
	}
}
