package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/resilience-designer/internal/logging"
	"github.com/signalsfoundry/resilience-designer/internal/solver"
	"github.com/signalsfoundry/resilience-designer/model"
)

var (
	ErrSubproblemReleased = errors.New("subproblem released")
	ErrHorizonMismatch    = errors.New("scenario horizon does not match parameters")
)

// Multiplier is one non-zero entry of an infeasibility certificate.
type Multiplier struct {
	ID   solver.ConstraintID
	Coef float64
}

// Subproblem is the recourse LP of one scenario: the weekly production,
// transfer and stock plan that minimises holding, lost-sales and fill-rate
// shortfall costs under a fixed policy. The LP is built on the first Solve
// and afterwards only its policy-dependent right-hand sides change.
type Subproblem struct {
	builder recourseBuilder
	index   int
	policy  model.PolicyParameters

	lp         *solver.Model
	solverOpts []solver.Option
	vars       recourseVars
	objOffset  float64

	rhs        map[solver.ConstraintID]RHSExpr
	order      []solver.ConstraintID
	policyRows []solver.ConstraintID
	buildErr   error

	status   solver.Status
	released bool

	log     logging.Logger
	metrics MetricsRecorder
}

// SubproblemOption customises a Subproblem.
type SubproblemOption func(*Subproblem)

// WithSubproblemLogger sets the logger used for solve diagnostics.
func WithSubproblemLogger(l logging.Logger) SubproblemOption {
	return func(s *Subproblem) {
		if l != nil {
			s.log = l
		}
	}
}

// WithSubproblemMetrics reports solve outcomes to r.
func WithSubproblemMetrics(r MetricsRecorder) SubproblemOption {
	return func(s *Subproblem) {
		if r != nil {
			s.metrics = r
		}
	}
}

// WithSubproblemSolverOptions passes options to the underlying LP.
func WithSubproblemSolverOptions(opts ...solver.Option) SubproblemOption {
	return func(s *Subproblem) { s.solverOpts = append(s.solverOpts, opts...) }
}

func checkScenario(params model.Params, scenario model.Scenario) error {
	if scenario.Horizon() != params.WeeksPerYear {
		return fmt.Errorf("%w: %w: %d weeks, want %d", model.ErrMalformedScenario, ErrHorizonMismatch, scenario.Horizon(), params.WeeksPerYear)
	}
	return nil
}

// NewSubproblem validates its inputs and prepares a subproblem for scenario
// under policy. Structural problems are reported here; nothing is solved.
func NewSubproblem(params model.Params, scenario model.Scenario, policy model.PolicyParameters, index int, opts ...SubproblemOption) (*Subproblem, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := checkScenario(params, scenario); err != nil {
		return nil, err
	}
	if err := policy.Validate(params); err != nil {
		return nil, err
	}
	s := &Subproblem{
		builder: recourseBuilder{params: params, scenario: scenario},
		index:   index,
		policy:  policy.Clone(),
		rhs:     make(map[solver.ConstraintID]RHSExpr),
		log:     logging.Noop(),
		metrics: noopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logging.Scenario(index))
	return s, nil
}

// Index returns the position of the scenario within its batch.
func (s *Subproblem) Index() int { return s.index }

// Scenario returns the scenario the subproblem evaluates.
func (s *Subproblem) Scenario() model.Scenario { return s.builder.scenario }

// Policy returns the policy the right-hand sides currently reflect.
func (s *Subproblem) Policy() model.PolicyParameters { return s.policy.Clone() }

// Status returns the outcome of the last Solve.
func (s *Subproblem) Status() solver.Status { return s.status }

func (s *Subproblem) addRow(expr *solver.Expr, rel solver.Relation, rhs RHSExpr, name string) {
	if s.buildErr != nil {
		return
	}
	dependent := DependsOnPolicy(rhs)
	value := rhs.Eval(s.policy)
	if dependent {
		value = math.Max(0, value)
	}
	id, err := s.lp.AddConstraint(*expr, rel, value, name)
	if err != nil {
		s.buildErr = err
		return
	}
	s.rhs[id] = rhs
	s.order = append(s.order, id)
	if dependent {
		s.policyRows = append(s.policyRows, id)
	}
}

func (s *Subproblem) build() error {
	s.lp = solver.NewModel(fmt.Sprintf("recourse-%d", s.index), s.solverOpts...)
	s.vars = s.builder.addVariables(s.lp)
	s.objOffset = s.builder.offset()

	obj := solver.NewExpr()
	s.builder.objective(&s.vars, 1, obj)
	if err := s.lp.SetObjective(*obj); err != nil {
		return err
	}
	s.builder.constraints(&s.vars, s.addRow)
	return s.buildErr
}

// Solve builds the LP on first use and solves it. Infeasibility is reported
// through the status; errors are reserved for cancellation, release and
// construction failures.
func (s *Subproblem) Solve(ctx context.Context) (solver.Status, error) {
	if s.released {
		return solver.StatusUnknown, ErrSubproblemReleased
	}
	if s.lp == nil {
		if err := s.build(); err != nil {
			return solver.StatusUnknown, fmt.Errorf("build recourse model %d: %w", s.index, err)
		}
	}
	start := time.Now()
	status, err := s.lp.Solve(ctx)
	s.status = status
	s.metrics.ObserveSubproblemSolve(status.String(), time.Since(start))
	if err != nil {
		return status, err
	}
	if status == solver.StatusUnbounded || status == solver.StatusUnknown {
		s.log.Warn(ctx, "recourse solve ended without a certificate", logging.String("status", status.String()))
	}
	return status, nil
}

// UpdateRHS rewrites the policy-dependent right-hand sides for pp. Negative
// values arising from cancellation are clamped to zero.
func (s *Subproblem) UpdateRHS(pp model.PolicyParameters) error {
	if s.released {
		return ErrSubproblemReleased
	}
	s.policy = pp.Clone()
	if s.lp == nil {
		return nil
	}
	for _, id := range s.policyRows {
		if err := s.lp.SetRHS(id, math.Max(0, s.rhs[id].Eval(s.policy))); err != nil {
			return err
		}
	}
	return nil
}

// Constraints lists the constraint IDs in creation order.
func (s *Subproblem) Constraints() []solver.ConstraintID {
	return append([]solver.ConstraintID(nil), s.order...)
}

// PolicyConstraints lists the constraints whose right-hand side depends on
// the policy.
func (s *Subproblem) PolicyConstraints() []solver.ConstraintID {
	return append([]solver.ConstraintID(nil), s.policyRows...)
}

// RHS returns the right-hand-side expression of id.
func (s *Subproblem) RHS(id solver.ConstraintID) (RHSExpr, bool) {
	e, ok := s.rhs[id]
	return e, ok
}

// ConstraintName returns the label of id.
func (s *Subproblem) ConstraintName(id solver.ConstraintID) string {
	if s.lp == nil {
		return ""
	}
	return s.lp.ConstraintName(id)
}

// Dual returns the dual value of id after an optimal solve.
func (s *Subproblem) Dual(id solver.ConstraintID) (float64, error) {
	if s.lp == nil || s.status != solver.StatusOptimal {
		return 0, solver.ErrNotOptimal
	}
	return s.lp.Dual(id)
}

// Farkas returns the non-zero multipliers of the infeasibility certificate
// after an infeasible solve.
func (s *Subproblem) Farkas() ([]Multiplier, error) {
	if s.lp == nil || s.status != solver.StatusInfeasible {
		return nil, solver.ErrNotInfeasible
	}
	ray, err := s.lp.Farkas()
	if err != nil {
		return nil, err
	}
	out := make([]Multiplier, 0, len(ray))
	for i, c := range ray {
		if c != 0 {
			out = append(out, Multiplier{ID: solver.ConstraintID(i), Coef: c})
		}
	}
	return out, nil
}

// ObjValue returns the recourse cost of the last optimal solve.
func (s *Subproblem) ObjValue() float64 {
	if s.lp == nil {
		return 0
	}
	return s.lp.ObjValue()
}

// ObjectiveOffset is the policy-independent constant of the objective.
func (s *Subproblem) ObjectiveOffset() float64 { return s.objOffset }

// RecordSolution snapshots every weekly series of the last solve. Series are
// zero and Converged is false when the last solve was not optimal.
func (s *Subproblem) RecordSolution() model.Solution {
	p := s.builder.params
	var sol model.Solution
	if s.lp != nil && s.status == solver.StatusOptimal {
		sol = s.builder.record(&s.vars, s.lp)
		sol.TotalCost = s.lp.ObjValue()
		sol.Converged = true
	} else {
		sol.Operations = model.NewOperations(p.WeeksPerYear)
	}
	sol.Policy = s.policy.Clone()
	sol.FacBackupCost = s.policy.FixedCost(p)
	sol.Status = s.status.String()
	return sol
}

// Release ends the LP session. The subproblem cannot be solved afterwards.
func (s *Subproblem) Release() {
	if s.lp != nil {
		s.lp.Release()
	}
	s.released = true
}

// Released reports whether Release has been called.
func (s *Subproblem) Released() bool { return s.released }
