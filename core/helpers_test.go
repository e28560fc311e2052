package core

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/resilience-designer/internal/solver"
	"github.com/signalsfoundry/resilience-designer/model"
)

const testWeeks = 20

func testParams() model.Params {
	p := model.DefaultParams()
	p.WeeksPerYear = testWeeks
	return p
}

func flat(weeks, v int) []int {
	d := make([]int, weeks)
	for i := range d {
		d[i] = v
	}
	return d
}

func scenarioWith(t *testing.T, weeks int, outages [model.NumFacilities]model.Outage) model.Scenario {
	t.Helper()
	sc, err := model.NewScenario(flat(weeks, 100), outages)
	if err != nil {
		t.Fatalf("NewScenario: %v", err)
	}
	return sc
}

func policyWith(t *testing.T, p model.Params, options [model.NumFacilities]int, wip, fg float64) model.PolicyParameters {
	t.Helper()
	pp, err := model.NewPolicy(p, options, wip, fg)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	return pp
}

func near(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)
	return ctx
}

func solveSubproblem(t *testing.T, p model.Params, sc model.Scenario, pp model.PolicyParameters) *Subproblem {
	t.Helper()
	sp, err := NewSubproblem(p, sc, pp, 0)
	if err != nil {
		t.Fatalf("NewSubproblem: %v", err)
	}
	t.Cleanup(sp.Release)
	if _, err := sp.Solve(testContext(t)); err != nil {
		t.Fatalf("Solve: %v", err)
	}
	return sp
}

// recordingSink collects the cuts a callback emits.
type recordingSink struct {
	exprs []solver.Expr
	rels  []solver.Relation
	rhs   []float64
}

func (s *recordingSink) AddLazy(expr solver.Expr, rel solver.Relation, rhs float64) {
	s.exprs = append(s.exprs, expr)
	s.rels = append(s.rels, rel)
	s.rhs = append(s.rhs, rhs)
}

// violated reports whether cut i fails at the point given by values.
func (s *recordingSink) violated(i int, values map[solver.Var]float64) bool {
	lhs := s.exprs[i].Constant
	for _, t := range s.exprs[i].Terms {
		lhs += t.Coef * values[t.Var]
	}
	const tol = 1e-6
	switch s.rels[i] {
	case solver.LessEq:
		return lhs > s.rhs[i]+tol
	case solver.GreaterEq:
		return lhs < s.rhs[i]-tol
	default:
		return math.Abs(lhs-s.rhs[i]) > tol
	}
}

// pointCandidate is a fixed candidate point.
type pointCandidate map[solver.Var]float64

func (c pointCandidate) Value(v solver.Var) float64 { return c[v] }
func (c pointCandidate) ObjValue() float64          { return 0 }
