// Package solver is a small in-process linear and mixed-binary programming
// backend. Models are built incrementally, solved with a bounded revised
// simplex method, and expose the dual values and infeasibility rays that
// decomposition algorithms need. Mixed-binary models are solved by
// depth-first branch and bound with support for lazily generated cuts.
package solver

import (
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/resilience-designer/timectrl"
)

// Inf is the bound used for variables without a finite limit.
var Inf = math.Inf(1)

var (
	ErrNotOptimal        = errors.New("solver: no optimal solution available")
	ErrNotInfeasible     = errors.New("solver: no infeasibility certificate available")
	ErrReleased          = errors.New("solver: model has been released")
	ErrUnknownConstraint = errors.New("solver: unknown constraint")
	ErrUnknownVar        = errors.New("solver: unknown variable")
	ErrIterationLimit    = errors.New("solver: simplex iteration limit reached")
)

// Var identifies a column of a Model.
type Var int

// ConstraintID identifies a row of a Model. IDs are dense and stable for the
// lifetime of the model.
type ConstraintID int

// VarKind selects the domain of a variable.
type VarKind int

const (
	Continuous VarKind = iota
	Binary
)

// Relation is the sense of a linear constraint.
type Relation int

const (
	LessEq Relation = iota
	GreaterEq
	Equal
)

func (r Relation) String() string {
	switch r {
	case LessEq:
		return "<="
	case GreaterEq:
		return ">="
	case Equal:
		return "="
	default:
		return fmt.Sprintf("Relation(%d)", int(r))
	}
}

// Status is the outcome of a solve.
type Status int

const (
	StatusUnknown Status = iota
	StatusOptimal
	// StatusFeasible reports that a search limit was hit while an integer
	// feasible incumbent was available.
	StatusFeasible
	StatusInfeasible
	StatusUnbounded
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusFeasible:
		return "feasible"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	default:
		return "unknown"
	}
}

// Term is a coefficient applied to a variable.
type Term struct {
	Var  Var
	Coef float64
}

// Expr is an affine expression over model variables.
type Expr struct {
	Terms    []Term
	Constant float64
}

// NewExpr returns an expression holding the given terms.
func NewExpr(terms ...Term) *Expr {
	return &Expr{Terms: append([]Term(nil), terms...)}
}

// Add appends coef*v to the expression and returns it for chaining.
func (e *Expr) Add(v Var, coef float64) *Expr {
	e.Terms = append(e.Terms, Term{Var: v, Coef: coef})
	return e
}

// AddConstant shifts the expression by c.
func (e *Expr) AddConstant(c float64) *Expr {
	e.Constant += c
	return e
}

// Stats counts the work performed by a model across all of its solves.
type Stats struct {
	Iterations    int
	Nodes         int
	LazyCuts      int
	CallbackCalls int
}

type variable struct {
	name    string
	lb, ub  float64
	kind    VarKind
	cost    float64
	entries []entry
}

type entry struct {
	row  int
	coef float64
}

type constraint struct {
	name     string
	rel      Relation
	rhs      float64
	constant float64
	lazy     bool
}

type solution struct {
	status Status
	x      []float64
	obj    float64
	bound  float64
	duals  []float64
	farkas []float64
}

// Model is a linear or mixed-binary minimisation problem together with the
// state of its most recent solve. A Model is not safe for concurrent use.
type Model struct {
	name     string
	cfg      config
	vars     []variable
	rows     []constraint
	objConst float64
	binaries int
	callback CutCallback

	warm     warmStart
	sol      solution
	stats    Stats
	released bool
}

// NewModel returns an empty minimisation model.
func NewModel(name string, opts ...Option) *Model {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Model{name: name, cfg: cfg}
}

// Name returns the label the model was created with.
func (m *Model) Name() string { return m.name }

// SetBudget replaces the search budget given by WithBudget, so that a model
// built ahead of time can start its clock when the solve begins.
func (m *Model) SetBudget(b *timectrl.Budget) { m.cfg.budget = b }

// AddVar adds a column with bounds [lb, ub]. Binary variables are clamped to
// [0, 1] regardless of the bounds given.
func (m *Model) AddVar(lb, ub float64, kind VarKind, name string) Var {
	if kind == Binary {
		lb = math.Max(lb, 0)
		ub = math.Min(ub, 1)
		m.binaries++
	}
	m.vars = append(m.vars, variable{name: name, lb: lb, ub: ub, kind: kind})
	m.warm.valid = false
	return Var(len(m.vars) - 1)
}

// NumVars returns the number of columns.
func (m *Model) NumVars() int { return len(m.vars) }

// NumConstraints returns the number of rows, lazy cuts included.
func (m *Model) NumConstraints() int { return len(m.rows) }

// VarName returns the label of v.
func (m *Model) VarName(v Var) string {
	if int(v) < 0 || int(v) >= len(m.vars) {
		return ""
	}
	return m.vars[v].name
}

// ConstraintName returns the label of id.
func (m *Model) ConstraintName(id ConstraintID) string {
	if int(id) < 0 || int(id) >= len(m.rows) {
		return ""
	}
	return m.rows[id].name
}

// AddConstraint adds the row expr rel rhs. The constant part of expr is
// moved to the right-hand side; RHS and SetRHS keep working in terms of the
// rhs passed here.
func (m *Model) AddConstraint(expr Expr, rel Relation, rhs float64, name string) (ConstraintID, error) {
	return m.addRow(expr, rel, rhs, name, false)
}

func (m *Model) addRow(expr Expr, rel Relation, rhs float64, name string, lazy bool) (ConstraintID, error) {
	if m.released {
		return 0, ErrReleased
	}
	row := len(m.rows)
	merged := make(map[Var]float64, len(expr.Terms))
	order := make([]Var, 0, len(expr.Terms))
	for _, t := range expr.Terms {
		if int(t.Var) < 0 || int(t.Var) >= len(m.vars) {
			return 0, fmt.Errorf("%w: %d in constraint %q", ErrUnknownVar, t.Var, name)
		}
		if _, seen := merged[t.Var]; !seen {
			order = append(order, t.Var)
		}
		merged[t.Var] += t.Coef
	}
	for _, v := range order {
		if c := merged[v]; c != 0 {
			m.vars[v].entries = append(m.vars[v].entries, entry{row: row, coef: c})
		}
	}
	m.rows = append(m.rows, constraint{
		name:     name,
		rel:      rel,
		rhs:      rhs - expr.Constant,
		constant: expr.Constant,
		lazy:     lazy,
	})
	return ConstraintID(row), nil
}

// SetObjective replaces the objective with expr (minimised).
func (m *Model) SetObjective(expr Expr) error {
	if m.released {
		return ErrReleased
	}
	for i := range m.vars {
		m.vars[i].cost = 0
	}
	for _, t := range expr.Terms {
		if int(t.Var) < 0 || int(t.Var) >= len(m.vars) {
			return fmt.Errorf("%w: %d in objective", ErrUnknownVar, t.Var)
		}
		m.vars[t.Var].cost += t.Coef
	}
	m.objConst = expr.Constant
	m.warm.valid = false
	return nil
}

// RHS returns the right-hand side of id as it was given to AddConstraint or
// SetRHS.
func (m *Model) RHS(id ConstraintID) (float64, error) {
	if int(id) < 0 || int(id) >= len(m.rows) {
		return 0, fmt.Errorf("%w: %d", ErrUnknownConstraint, id)
	}
	r := m.rows[id]
	return r.rhs + r.constant, nil
}

// SetRHS changes the right-hand side of id. The basis of the previous solve
// is kept so the next Solve can restart from it.
func (m *Model) SetRHS(id ConstraintID, rhs float64) error {
	if m.released {
		return ErrReleased
	}
	if int(id) < 0 || int(id) >= len(m.rows) {
		return fmt.Errorf("%w: %d", ErrUnknownConstraint, id)
	}
	m.rows[id].rhs = rhs - m.rows[id].constant
	return nil
}

// OnLazyConstraint installs cb. It is invoked for every integer feasible
// candidate found during a mixed-binary solve.
func (m *Model) OnLazyConstraint(cb CutCallback) {
	m.callback = cb
}

// Status returns the outcome of the last solve.
func (m *Model) Status() Status { return m.sol.status }

// Value returns the value of v in the last solution, or 0 when none exists.
func (m *Model) Value(v Var) float64 {
	if int(v) < 0 || int(v) >= len(m.sol.x) {
		return 0
	}
	return m.sol.x[v]
}

// Values returns the values of vars in the last solution.
func (m *Model) Values(vars []Var) []float64 {
	out := make([]float64, len(vars))
	for i, v := range vars {
		out[i] = m.Value(v)
	}
	return out
}

// ObjValue returns the objective of the last solution, constant included.
func (m *Model) ObjValue() float64 { return m.sol.obj }

// BestBound returns the proven lower bound of the last solve. For an optimal
// solve it equals ObjValue.
func (m *Model) BestBound() float64 { return m.sol.bound }

// Dual returns the dual value of id after an optimal linear solve. Duals
// follow the minimisation convention: non-positive on binding <= rows and
// non-negative on binding >= rows.
func (m *Model) Dual(id ConstraintID) (float64, error) {
	if m.sol.status != StatusOptimal || m.sol.duals == nil {
		return 0, ErrNotOptimal
	}
	if int(id) < 0 || int(id) >= len(m.sol.duals) {
		return 0, fmt.Errorf("%w: %d", ErrUnknownConstraint, id)
	}
	return m.sol.duals[id], nil
}

// Farkas returns an infeasibility certificate y, indexed by constraint, after
// an infeasible linear solve. When every variable lies in [0, +inf) the
// certificate satisfies y'A <= 0 column-wise, y has the sign of a dual for
// each row sense, and y'b > 0.
func (m *Model) Farkas() ([]float64, error) {
	if m.sol.status != StatusInfeasible || m.sol.farkas == nil {
		return nil, ErrNotInfeasible
	}
	return append([]float64(nil), m.sol.farkas...), nil
}

// Stats reports accumulated solver work.
func (m *Model) Stats() Stats { return m.stats }

// Release drops the model's storage. Any later mutation or solve fails with
// ErrReleased.
func (m *Model) Release() {
	m.released = true
	m.vars = nil
	m.rows = nil
	m.warm = warmStart{}
	m.sol = solution{}
	m.callback = nil
}

// Released reports whether Release has been called.
func (m *Model) Released() bool { return m.released }
