package core

import (
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/resilience-designer/internal/solver"
	"github.com/signalsfoundry/resilience-designer/model"
	"github.com/signalsfoundry/resilience-designer/timectrl"
)

func newTestEngine(t *testing.T, p model.Params, scenarios []model.Scenario, opts ...EngineOption) *Engine {
	t.Helper()
	e, err := NewEngine(p, scenarios, opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(e.Release)
	return e
}

func TestEngineWithoutDisruptionBuysNothing(t *testing.T) {
	p := testParams()
	quiet := scenarioWith(t, testWeeks, [model.NumFacilities]model.Outage{})
	e := newTestEngine(t, p, []model.Scenario{quiet, quiet})

	sol, err := e.Solve(testContext(t))
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if e.State() != StateConverged || !sol.Converged {
		t.Fatalf("state = %s, converged = %v", e.State(), sol.Converged)
	}
	if got := sol.Policy.Options(); got != [model.NumFacilities]int{} {
		t.Fatalf("options = %v, want none", got)
	}
	if !near(sol.TotalCost, 3000, 1e-6) {
		t.Fatalf("TotalCost = %v, want 3000", sol.TotalCost)
	}
	st := e.Stats()
	if st.Incumbents == 0 || st.OptimalityCuts == 0 {
		t.Fatalf("stats = %+v, want cuts and an incumbent", st)
	}
	if _, ok := e.Incumbent(); !ok {
		t.Fatalf("no incumbent snapshot")
	}
}

func TestEngineMatchesPolicyEvaluation(t *testing.T) {
	p := testParams()
	scenarios := []model.Scenario{
		scenarioWith(t, testWeeks, [model.NumFacilities]model.Outage{model.DC: {Start: 4, Duration: 10}}),
		scenarioWith(t, testWeeks, [model.NumFacilities]model.Outage{model.Plant: {Start: 6, Duration: 8}}),
	}
	e := newTestEngine(t, p, scenarios)
	sol, err := e.Solve(testContext(t))
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if !sol.Converged {
		t.Fatalf("not converged: %s", sol.Status)
	}

	ctx := testContext(t)
	chosen, err := EvaluatePolicy(ctx, p, sol.Policy, scenarios)
	if err != nil {
		t.Fatalf("EvaluatePolicy(chosen): %v", err)
	}
	if !chosen.Feasible() {
		t.Fatalf("chosen policy infeasible on its own batch")
	}
	if got := mean(chosen.Samples()); !near(sol.TotalCost, got, 1e-5) {
		t.Fatalf("TotalCost = %v, evaluated cost = %v", sol.TotalCost, got)
	}

	none, err := EvaluatePolicy(ctx, p, model.NoBackupPolicy(p), scenarios)
	if err != nil {
		t.Fatalf("EvaluatePolicy(none): %v", err)
	}
	if sol.TotalCost > mean(none.Samples())+1e-6 {
		t.Fatalf("TotalCost %v worse than buying nothing (%v)", sol.TotalCost, mean(none.Samples()))
	}
}

func TestEngineFeasibilityCutsNeverRepeatAProposal(t *testing.T) {
	p := testParams()
	sc := scenarioWith(t, testWeeks, [model.NumFacilities]model.Outage{
		model.Supplier: {Start: 2, Duration: 8},
		model.Plant:    {Start: 2, Duration: 8},
	})
	e := newTestEngine(t, p, []model.Scenario{sc})
	if err := e.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	// Pin a supplier contract whose output cannot be processed.
	pin := solver.NewExpr().Add(e.policy.selector[model.Supplier][1], 1)
	if _, err := e.lp.AddConstraint(*pin, solver.Equal, 1, "pin_supplier"); err != nil {
		t.Fatalf("AddConstraint: %v", err)
	}

	sol, err := e.Solve(testContext(t))
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if sol.Converged || e.State() == StateConverged {
		t.Fatalf("converged on an infeasible design: %+v", sol.Policy)
	}
	if e.Stats().FeasibilityCuts == 0 {
		t.Fatalf("no feasibility cut generated")
	}
	rejected := map[string]bool{}
	for _, prop := range e.Proposals() {
		if rejected[prop.Key] {
			t.Fatalf("policy %s proposed again after a feasibility cut", prop.Key)
		}
		if prop.Outcome == OutcomeInfeasible {
			rejected[prop.Key] = true
		}
	}
}

func TestEngineCallbackCutsUnderestimates(t *testing.T) {
	p := testParams()
	quiet := scenarioWith(t, testWeeks, [model.NumFacilities]model.Outage{})
	e := newTestEngine(t, p, []model.Scenario{quiet, quiet, quiet})
	if err := e.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}

	point := pointCandidate{}
	for _, f := range model.Facilities {
		point[e.policy.selector[f][0]] = 1
		point[e.policy.delay[f]] = float64(p.WeeksPerYear)
	}
	sink := &recordingSink{}
	if err := e.onCandidate(testContext(t), point, sink); err != nil {
		t.Fatalf("onCandidate: %v", err)
	}
	if len(sink.exprs) != 3 {
		t.Fatalf("cuts = %d, want one per scenario", len(sink.exprs))
	}
	for i := range sink.exprs {
		if !sink.violated(i, point) {
			t.Fatalf("cut %d does not reject the candidate", i)
		}
	}

	// With every surrogate at the true cost the candidate is accepted.
	for _, th := range e.theta {
		point[th] = 3000
	}
	sink = &recordingSink{}
	if err := e.onCandidate(testContext(t), point, sink); err != nil {
		t.Fatalf("onCandidate: %v", err)
	}
	if len(sink.exprs) != 0 {
		t.Fatalf("cuts = %d for a tight candidate", len(sink.exprs))
	}
	props := e.Proposals()
	if props[0].Outcome != OutcomeOptimality || props[1].Outcome != OutcomeAccepted {
		t.Fatalf("outcomes = %s, %s", props[0].Outcome, props[1].Outcome)
	}
}

func TestEngineParallelSweepMatchesSequential(t *testing.T) {
	p := testParams()
	scenarios := []model.Scenario{
		scenarioWith(t, testWeeks, [model.NumFacilities]model.Outage{}),
		scenarioWith(t, testWeeks, [model.NumFacilities]model.Outage{model.DC: {Start: 3, Duration: 9}}),
		scenarioWith(t, testWeeks, [model.NumFacilities]model.Outage{model.Supplier: {Start: 8, Duration: 6}}),
	}
	seq := newTestEngine(t, p, scenarios)
	par := newTestEngine(t, p, scenarios, WithWorkers(3))

	a, err := seq.Solve(testContext(t))
	if err != nil {
		t.Fatalf("sequential: %v", err)
	}
	b, err := par.Solve(testContext(t))
	if err != nil {
		t.Fatalf("parallel: %v", err)
	}
	if !near(a.TotalCost, b.TotalCost, 1e-6) {
		t.Fatalf("sequential cost %v, parallel cost %v", a.TotalCost, b.TotalCost)
	}
}

// steppingClock moves an hour forward on every reading.
type steppingClock struct{ now time.Time }

func (c *steppingClock) Now() time.Time {
	c.now = c.now.Add(time.Hour)
	return c.now
}

func (c *steppingClock) After(time.Duration) <-chan time.Time { return nil }

func TestEngineTimeLimitStopsSearch(t *testing.T) {
	p := testParams()
	quiet := scenarioWith(t, testWeeks, [model.NumFacilities]model.Outage{})
	var clock timectrl.Clock = &steppingClock{}
	e := newTestEngine(t, p, []model.Scenario{quiet}, WithTimeLimit(time.Minute, clock))

	sol, err := e.Solve(testContext(t))
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if sol.Converged || e.State() == StateConverged {
		t.Fatalf("converged despite an exhausted time limit: %+v", sol)
	}
	if e.Stats().Incumbents != 0 {
		t.Fatalf("stats = %+v, want no incumbent", e.Stats())
	}
}

func TestEngineLifecycle(t *testing.T) {
	p := testParams()
	if _, err := NewEngine(p, nil); !errors.Is(err, ErrNoScenarios) {
		t.Fatalf("NewEngine(nil) err = %v", err)
	}
	short := scenarioWith(t, 5, [model.NumFacilities]model.Outage{})
	if _, err := NewEngine(p, []model.Scenario{short}); !errors.Is(err, model.ErrMalformedScenario) {
		t.Fatalf("NewEngine(short) err = %v", err)
	}

	e := newTestEngine(t, p, []model.Scenario{scenarioWith(t, testWeeks, [model.NumFacilities]model.Outage{})})
	if e.State() != StateCreated {
		t.Fatalf("initial state = %s", e.State())
	}
	if err := e.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if e.State() != StateConstraintsBuilt {
		t.Fatalf("state after Build = %s", e.State())
	}
	if err := e.Build(); !errors.Is(err, ErrEngineState) {
		t.Fatalf("second Build err = %v", err)
	}
	e.Release()
	if _, err := e.Solve(testContext(t)); !errors.Is(err, ErrEngineReleased) {
		t.Fatalf("Solve after Release err = %v", err)
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func TestUnderestimatesToleranceScalesWithCost(t *testing.T) {
	cases := []struct {
		cost, estimate float64
		want           bool
	}{
		{0, -5e-8, false},
		{0, -2e-7, true},
		{0.5, 0.5 - 2e-7, true},
		{10, 10 - 5e-7, false},
		{10, 10 - 2e-6, true},
		{1e6, 1e6 - 0.05, false},
		{1e6, 1e6 - 0.2, true},
		{-1e6, -1e6 - 0.05, false},
		{3000, 3100, false},
	}
	for _, tc := range cases {
		if got := underestimates(tc.cost, tc.estimate); got != tc.want {
			t.Fatalf("underestimates(%v, %v) = %v, want %v", tc.cost, tc.estimate, got, tc.want)
		}
	}
}
