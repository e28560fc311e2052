package core

import (
	"errors"
	"testing"

	"github.com/signalsfoundry/resilience-designer/internal/solver"
	"github.com/signalsfoundry/resilience-designer/model"
)

func TestSubproblemWithoutDisruptionUsesNoBackup(t *testing.T) {
	p := testParams()
	sc := scenarioWith(t, testWeeks, [model.NumFacilities]model.Outage{})
	pp := policyWith(t, p, [model.NumFacilities]int{model.Supplier: 6, model.Plant: 6, model.DC: 6}, 0, 0)
	sp := solveSubproblem(t, p, sc, pp)

	if sp.Status() != solver.StatusOptimal {
		t.Fatalf("status = %s, want optimal", sp.Status())
	}
	sol := sp.RecordSolution()
	for w := 0; w < testWeeks; w++ {
		for _, f := range model.Facilities {
			if v := sol.Backup(f)[w]; v > 1e-9 {
				t.Fatalf("backup %s used in week %d: %v", f, w, v)
			}
		}
		if sol.BackupWIPTransfer[w] > 1e-9 || sol.BackupFGTransfer[w] > 1e-9 {
			t.Fatalf("buffer transfer in undisrupted week %d", w)
		}
	}
	// Only the regular WIP pipeline is held: 0.25 * 80 * 150.
	if !near(sp.ObjValue(), 3000, 1e-7) {
		t.Fatalf("ObjValue() = %v, want 3000", sp.ObjValue())
	}
	if !sol.Converged || sol.TotalCost != sp.ObjValue() {
		t.Fatalf("recorded solution = %+v", sol)
	}
}

func TestSubproblemSupplierOutageLosesSalesOnlyDuringOutage(t *testing.T) {
	p := testParams()
	sc := scenarioWith(t, testWeeks, [model.NumFacilities]model.Outage{model.Supplier: {Start: 10, Duration: 6}})
	sp := solveSubproblem(t, p, sc, model.NoBackupPolicy(p))

	if sp.Status() != solver.StatusOptimal {
		t.Fatalf("status = %s, want optimal", sp.Status())
	}
	sol := sp.RecordSolution()
	for w, lost := range sol.LostSales {
		if lost > 1e-6 && (w < 10 || w >= 16) {
			t.Fatalf("lost sales %v in week %d outside the outage", lost, w)
		}
	}
	// Ten weeks at 50 units of surplus cover five of the six outage weeks.
	if got := sol.TotalLostSales(); !near(got, 100, 1e-6) {
		t.Fatalf("TotalLostSales() = %v, want 100", got)
	}
	if sol.IFRShortfall > 1e-6 {
		t.Fatalf("IFRShortfall = %v, want 0", sol.IFRShortfall)
	}
}

func TestSubproblemDemandCoverageAndFlowBalance(t *testing.T) {
	p := testParams()
	sc := scenarioWith(t, testWeeks, [model.NumFacilities]model.Outage{
		model.Supplier: {Start: 3, Duration: 6},
		model.Plant:    {Start: 12, Duration: 4},
		model.DC:       {Start: 14, Duration: 4},
	})
	const wip, fg = 50, 80
	pp := policyWith(t, p, [model.NumFacilities]int{model.Supplier: 1, model.Plant: 5, model.DC: 2}, wip, fg)
	sp := solveSubproblem(t, p, sc, pp)
	if sp.Status() != solver.StatusOptimal {
		t.Fatalf("status = %s, want optimal", sp.Status())
	}
	sol := sp.RecordSolution()

	const tol = 1e-6
	check := func(what string, w int, got, want float64) {
		t.Helper()
		if !near(got, want, tol) {
			t.Fatalf("%s week %d: %v, want %v", what, w, got, want)
		}
	}
	for w := 0; w < testWeeks; w++ {
		if sol.FGToCustomer[w]+sol.LostSales[w] < float64(sc.DemandAt(w))-tol {
			t.Fatalf("week %d demand %d uncovered: delivered %v lost %v", w, sc.DemandAt(w), sol.FGToCustomer[w], sol.LostSales[w])
		}
		check("wip", w, sol.WIP[w], sol.SupplierProd[w]+sol.BackupWIPTransfer[w]+sol.BackupSupplier[w])
		check("plant", w, sol.PlantProd[w], sol.WIP[w])
		check("fg to dc", w, sol.FGToDC[w], sol.PlantProd[w]+sol.BackupPlant[w])
		check("customer", w, sol.FGToCustomer[w], sol.DCTransfer[w]+sol.BackupFGTransfer[w]+sol.BackupDC[w])

		prevFG, prevWIPBuf, prevFGBuf := 0.0, float64(wip), float64(fg)
		if w > 0 {
			prevFG, prevWIPBuf, prevFGBuf = sol.FGStock[w-1], sol.BackupWIPStock[w-1], sol.BackupFGStock[w-1]
		}
		check("fg stock", w, sol.FGStock[w], prevFG+sol.FGToDC[w]-sol.DCTransfer[w])
		check("wip buffer", w, sol.BackupWIPStock[w], prevWIPBuf-sol.BackupWIPTransfer[w])
		check("fg buffer", w, sol.BackupFGStock[w], prevFGBuf-sol.BackupFGTransfer[w])
	}
	if sol.FGStock[0] > p.BaseDCStockLevel+tol {
		t.Fatalf("initial fg stock %v above %v", sol.FGStock[0], p.BaseDCStockLevel)
	}
	// Supplier option 1 ramps up after four weeks: weeks 7 and 8 of the
	// outage starting at week 3.
	for w := 0; w < testWeeks; w++ {
		want := 0.0
		if w == 7 || w == 8 {
			want = 75
		}
		check("backup supplier", w, sol.BackupSupplier[w], want)
	}
}

func TestSubproblemInfeasibleCertificate(t *testing.T) {
	p := testParams()
	// Supplier backup output has nowhere to go while the plant is down.
	sc := scenarioWith(t, testWeeks, [model.NumFacilities]model.Outage{
		model.Supplier: {Start: 2, Duration: 8},
		model.Plant:    {Start: 2, Duration: 8},
	})
	bad := policyWith(t, p, [model.NumFacilities]int{model.Supplier: 1}, 0, 0)
	sp := solveSubproblem(t, p, sc, bad)
	if sp.Status() != solver.StatusInfeasible {
		t.Fatalf("status = %s, want infeasible", sp.Status())
	}
	if _, err := sp.Dual(0); !errors.Is(err, solver.ErrNotOptimal) {
		t.Fatalf("Dual err = %v, want ErrNotOptimal", err)
	}
	ray, err := sp.Farkas()
	if err != nil || len(ray) == 0 {
		t.Fatalf("Farkas() = %v, %v", ray, err)
	}

	form, err := FeasibilityForm(sp)
	if err != nil {
		t.Fatalf("FeasibilityForm: %v", err)
	}
	if got := form.Eval(bad); got <= 1e-6 {
		t.Fatalf("cut does not separate the infeasible policy: %v", got)
	}
	if got := form.Eval(model.NoBackupPolicy(p)); got > 1e-6 {
		t.Fatalf("cut removes a feasible policy: %v", got)
	}
	if sol := sp.RecordSolution(); sol.Converged || sol.Status != solver.StatusInfeasible.String() {
		t.Fatalf("infeasible solve recorded as %+v", sol)
	}
}

func TestOptimalityFormBoundsOtherPolicies(t *testing.T) {
	p := testParams()
	sc := scenarioWith(t, testWeeks, [model.NumFacilities]model.Outage{model.DC: {Start: 5, Duration: 8}})
	base := model.NoBackupPolicy(p)
	sp := solveSubproblem(t, p, sc, base)
	if sp.Status() != solver.StatusOptimal {
		t.Fatalf("status = %s, want optimal", sp.Status())
	}
	form, err := OptimalityForm(sp)
	if err != nil {
		t.Fatalf("OptimalityForm: %v", err)
	}
	if got := form.Eval(base); !near(got, sp.ObjValue(), 1e-6) {
		t.Fatalf("cut at solved policy = %v, want %v", got, sp.ObjValue())
	}

	for _, opts := range [][model.NumFacilities]int{
		{model.DC: 1},
		{model.DC: 6},
		{model.Plant: 3, model.DC: 4},
	} {
		other := policyWith(t, p, opts, 0, 40)
		ref := solveSubproblem(t, p, sc, other)
		if ref.Status() != solver.StatusOptimal {
			t.Fatalf("%v: status = %s", opts, ref.Status())
		}
		if got := form.Eval(other); got > ref.ObjValue()+1e-6*ref.ObjValue() {
			t.Fatalf("%v: cut %v exceeds recourse cost %v", opts, got, ref.ObjValue())
		}
	}
}

func TestSubproblemUpdateRHSMatchesFreshSolve(t *testing.T) {
	p := testParams()
	sc := scenarioWith(t, testWeeks, [model.NumFacilities]model.Outage{
		model.Plant: {Start: 4, Duration: 7},
		model.DC:    {Start: 6, Duration: 3},
	})
	first := policyWith(t, p, [model.NumFacilities]int{model.Plant: 2}, 0, 0)
	second := policyWith(t, p, [model.NumFacilities]int{model.Plant: 6, model.DC: 3}, 20, 60)

	sp := solveSubproblem(t, p, sc, first)
	if err := sp.UpdateRHS(second); err != nil {
		t.Fatalf("UpdateRHS: %v", err)
	}
	if _, err := sp.Solve(testContext(t)); err != nil {
		t.Fatalf("re-solve: %v", err)
	}
	fresh := solveSubproblem(t, p, sc, second)
	if sp.Status() != fresh.Status() {
		t.Fatalf("status %s after update, %s fresh", sp.Status(), fresh.Status())
	}
	if !near(sp.ObjValue(), fresh.ObjValue(), 1e-7) {
		t.Fatalf("ObjValue after update = %v, fresh = %v", sp.ObjValue(), fresh.ObjValue())
	}
	if len(sp.PolicyConstraints()) == 0 || len(sp.PolicyConstraints()) >= len(sp.Constraints()) {
		t.Fatalf("policy rows %d of %d", len(sp.PolicyConstraints()), len(sp.Constraints()))
	}
}

// roundedNegativePolicy is the no-backup policy with the supplier's ramp
// profile a rounding error above its capacity, so capacity - delayed[k] is
// -1e-12 during the ramp.
func roundedNegativePolicy(p model.Params) model.PolicyParameters {
	pp := model.NoBackupPolicy(p)
	delayed := pp.Facilities[model.Supplier].Delayed
	for k := range delayed {
		delayed[k] = pp.Facilities[model.Supplier].Capacity + 1e-12
	}
	return pp
}

// checkClampedRows asserts that every policy row whose expression is
// negative under pp carries a right-hand side of exactly zero.
func checkClampedRows(t *testing.T, sp *Subproblem, pp model.PolicyParameters) {
	t.Helper()
	clamped := 0
	for _, id := range sp.PolicyConstraints() {
		expr, _ := sp.RHS(id)
		if expr.Eval(pp) >= 0 {
			continue
		}
		clamped++
		if got, err := sp.lp.RHS(id); err != nil || got != 0 {
			t.Fatalf("%s: rhs = %v (%v), want exactly 0", sp.ConstraintName(id), got, err)
		}
	}
	if clamped == 0 {
		t.Fatalf("no policy row evaluated negative")
	}
}

func TestSubproblemClampsNegativeRHS(t *testing.T) {
	p := testParams()
	sc := scenarioWith(t, testWeeks, [model.NumFacilities]model.Outage{model.Supplier: {Start: 10, Duration: 6}})
	bad := roundedNegativePolicy(p)

	sp := solveSubproblem(t, p, sc, model.NoBackupPolicy(p))
	if err := sp.UpdateRHS(bad); err != nil {
		t.Fatalf("UpdateRHS: %v", err)
	}
	checkClampedRows(t, sp, bad)
	status, err := sp.Solve(testContext(t))
	if err != nil || status != solver.StatusOptimal {
		t.Fatalf("re-solve = %s, %v, want optimal", status, err)
	}

	fresh := solveSubproblem(t, p, sc, bad)
	checkClampedRows(t, fresh, bad)
	if fresh.Status() != solver.StatusOptimal {
		t.Fatalf("fresh status = %s, want optimal", fresh.Status())
	}
	if !near(sp.ObjValue(), fresh.ObjValue(), 1e-7) {
		t.Fatalf("ObjValue after update = %v, fresh = %v", sp.ObjValue(), fresh.ObjValue())
	}
}

func TestSubproblemStructuralErrors(t *testing.T) {
	p := testParams()
	long := scenarioWith(t, testWeeks+1, [model.NumFacilities]model.Outage{})
	if _, err := NewSubproblem(p, long, model.NoBackupPolicy(p), 0); !errors.Is(err, model.ErrMalformedScenario) {
		t.Fatalf("horizon mismatch err = %v, want ErrMalformedScenario", err)
	}
	bad := model.NoBackupPolicy(p)
	bad.Facilities[model.DC].Capacity = 12
	sc := scenarioWith(t, testWeeks, [model.NumFacilities]model.Outage{})
	if _, err := NewSubproblem(p, sc, bad, 0); !errors.Is(err, model.ErrInvalidPolicy) {
		t.Fatalf("bad policy err = %v, want ErrInvalidPolicy", err)
	}

	sp, err := NewSubproblem(p, sc, model.NoBackupPolicy(p), 3)
	if err != nil {
		t.Fatalf("NewSubproblem: %v", err)
	}
	if _, err := sp.Farkas(); !errors.Is(err, solver.ErrNotInfeasible) {
		t.Fatalf("Farkas before solve err = %v", err)
	}
	sp.Release()
	if _, err := sp.Solve(testContext(t)); !errors.Is(err, ErrSubproblemReleased) {
		t.Fatalf("Solve after release err = %v", err)
	}
	if err := sp.UpdateRHS(model.NoBackupPolicy(p)); !errors.Is(err, ErrSubproblemReleased) {
		t.Fatalf("UpdateRHS after release err = %v", err)
	}
}
