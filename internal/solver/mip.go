package solver

import (
	"context"
	"fmt"
	"math"
)

// Candidate is an integer feasible point offered to a lazy constraint
// callback. It is only valid for the duration of the callback.
type Candidate interface {
	Value(v Var) float64
	ObjValue() float64
}

// CutSink collects the lazy constraints a callback wants to add. Any cut
// added rejects the candidate.
type CutSink interface {
	AddLazy(expr Expr, rel Relation, rhs float64)
}

// CutCallback inspects integer feasible candidates during branch and bound.
type CutCallback interface {
	Invoke(ctx context.Context, cand Candidate, sink CutSink) error
}

// CutCallbackFunc adapts a function to CutCallback.
type CutCallbackFunc func(ctx context.Context, cand Candidate, sink CutSink) error

func (f CutCallbackFunc) Invoke(ctx context.Context, cand Candidate, sink CutSink) error {
	return f(ctx, cand, sink)
}

type candidate struct {
	x   []float64
	obj float64
}

func (c candidate) Value(v Var) float64 {
	if int(v) < 0 || int(v) >= len(c.x) {
		return 0
	}
	return c.x[v]
}

func (c candidate) ObjValue() float64 { return c.obj }

type pendingCut struct {
	expr Expr
	rel  Relation
	rhs  float64
}

type cutBuffer struct {
	cuts []pendingCut
}

func (b *cutBuffer) AddLazy(expr Expr, rel Relation, rhs float64) {
	b.cuts = append(b.cuts, pendingCut{
		expr: Expr{Terms: append([]Term(nil), expr.Terms...), Constant: expr.Constant},
		rel:  rel,
		rhs:  rhs,
	})
}

type fixing struct {
	v   int
	val float64
}

type node struct {
	fixings []fixing
	bound   float64
}

// Solve optimises the model. Models with binary variables are solved by
// branch and bound; the others by the simplex method alone.
func (m *Model) Solve(ctx context.Context) (Status, error) {
	if m.released {
		return StatusUnknown, ErrReleased
	}
	if m.binaries > 0 {
		return m.solveMIP(ctx)
	}
	lb, ub := m.bounds()
	sol, err := m.solveRelaxation(ctx, lb, ub)
	if err != nil {
		m.sol = solution{status: StatusUnknown}
		return StatusUnknown, err
	}
	m.sol = solution{status: statusOf(sol.result), x: sol.x, obj: sol.obj, bound: sol.obj, duals: sol.duals, farkas: sol.farkas}
	return m.sol.status, nil
}

func statusOf(r lpResult) Status {
	switch r {
	case lpOptimal:
		return StatusOptimal
	case lpInfeasible:
		return StatusInfeasible
	case lpUnbounded:
		return StatusUnbounded
	default:
		return StatusUnknown
	}
}

func (m *Model) bounds() ([]float64, []float64) {
	lb := make([]float64, len(m.vars))
	ub := make([]float64, len(m.vars))
	for j, v := range m.vars {
		lb[j], ub[j] = v.lb, v.ub
	}
	return lb, ub
}

func (m *Model) pruneTol(best float64) float64 {
	return 1e-9 + 1e-6*math.Abs(best)
}

// branchVar returns the most fractional binary column of x, or -1.
func (m *Model) branchVar(x []float64) int {
	best, bestFrac := -1, m.cfg.intTol
	for j, v := range m.vars {
		if v.kind != Binary {
			continue
		}
		frac := math.Abs(x[j] - math.Round(x[j]))
		if frac > bestFrac {
			best, bestFrac = j, frac
		}
	}
	return best
}

func (m *Model) solveMIP(ctx context.Context) (Status, error) {
	baseLB, baseUB := m.bounds()
	stack := []node{{bound: -Inf}}
	best := Inf
	var incumbent []float64
	incomplete := false

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			m.sol = solution{status: StatusUnknown}
			return StatusUnknown, err
		}
		if m.stats.Nodes >= m.cfg.nodeLimit || m.cfg.budget.Expired() {
			incomplete = true
			break
		}
		nd := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if nd.bound >= best-m.pruneTol(best) {
			continue
		}
		m.stats.Nodes++

		lb := append([]float64(nil), baseLB...)
		ub := append([]float64(nil), baseUB...)
		for _, f := range nd.fixings {
			lb[f.v], ub[f.v] = f.val, f.val
		}

		for round := 0; ; round++ {
			sol, err := m.solveRelaxation(ctx, lb, ub)
			if err != nil {
				m.sol = solution{status: StatusUnknown}
				return StatusUnknown, err
			}
			if sol.result == lpUnbounded && len(nd.fixings) == 0 {
				m.sol = solution{status: StatusUnbounded}
				return StatusUnbounded, nil
			}
			if sol.result != lpOptimal {
				if sol.result == lpUnknown {
					incomplete = true
				}
				break
			}
			if sol.obj >= best-m.pruneTol(best) {
				break
			}
			if j := m.branchVar(sol.x); j >= 0 {
				up := node{fixings: withFixing(nd.fixings, j, 1), bound: sol.obj}
				down := node{fixings: withFixing(nd.fixings, j, 0), bound: sol.obj}
				if sol.x[j] >= 0.5 {
					stack = append(stack, down, up)
				} else {
					stack = append(stack, up, down)
				}
				break
			}
			if m.callback != nil {
				if round >= m.cfg.cutRounds {
					incomplete = true
					break
				}
				sink := &cutBuffer{}
				m.stats.CallbackCalls++
				if err := m.callback.Invoke(ctx, candidate{x: sol.x, obj: sol.obj}, sink); err != nil {
					m.sol = solution{status: StatusUnknown}
					return StatusUnknown, fmt.Errorf("lazy constraint callback: %w", err)
				}
				if len(sink.cuts) > 0 {
					for _, c := range sink.cuts {
						if _, err := m.addRow(c.expr, c.rel, c.rhs, fmt.Sprintf("lazy_%d", len(m.rows)), true); err != nil {
							return StatusUnknown, err
						}
						m.stats.LazyCuts++
					}
					continue
				}
			}
			best = sol.obj
			incumbent = sol.x
			break
		}
	}

	bound := best
	for _, nd := range stack {
		if nd.bound < bound {
			bound = nd.bound
		}
	}

	switch {
	case incumbent != nil && !incomplete && len(stack) == 0:
		m.sol = solution{status: StatusOptimal, x: incumbent, obj: best, bound: best}
	case incumbent != nil:
		m.sol = solution{status: StatusFeasible, x: incumbent, obj: best, bound: bound}
	case incomplete:
		m.sol = solution{status: StatusUnknown, bound: bound}
	default:
		m.sol = solution{status: StatusInfeasible}
	}
	return m.sol.status, nil
}

func withFixing(base []fixing, v int, val float64) []fixing {
	out := make([]fixing, len(base), len(base)+1)
	copy(out, base)
	return append(out, fixing{v: v, val: val})
}
