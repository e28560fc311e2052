package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/resilience-designer/internal/logging"
	"github.com/signalsfoundry/resilience-designer/internal/solver"
	"github.com/signalsfoundry/resilience-designer/model"
	"github.com/signalsfoundry/resilience-designer/timectrl"
)

var (
	ErrNoScenarios    = errors.New("no scenarios")
	ErrEngineReleased = errors.New("engine released")
	ErrEngineState    = errors.New("engine is not in a state that allows this operation")
)

// FUZZ is the slack within which a surrogate is taken to bound its
// scenario's cost already. It is absolute for costs up to 1 in magnitude
// and relative above.
const FUZZ = 1e-7

// EngineState tracks the lifecycle of a master problem.
type EngineState int

const (
	StateCreated EngineState = iota
	StateVariablesBuilt
	StateObjectiveBuilt
	StateConstraintsBuilt
	StateSolving
	StateConverged
	StateInfeasible
	StateError
)

func (s EngineState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateVariablesBuilt:
		return "variables_built"
	case StateObjectiveBuilt:
		return "objective_built"
	case StateConstraintsBuilt:
		return "constraints_built"
	case StateSolving:
		return "solving"
	case StateConverged:
		return "converged"
	case StateInfeasible:
		return "infeasible"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EngineStats counts the work done by the cut loop.
type EngineStats struct {
	Callbacks       int
	OptimalityCuts  int
	FeasibilityCuts int
	Incumbents      int
	Anomalies       int
}

// Proposal is one candidate policy offered to the cut loop and how it was
// handled.
type Proposal struct {
	Key      string
	Policy   model.PolicyParameters
	Outcome  string
	Scenario int
}

// Proposal outcomes.
const (
	OutcomeAccepted   = "accepted"
	OutcomeOptimality = "optimality_cuts"
	OutcomeInfeasible = "feasibility_cut"
)

// Engine is the multicut L-shaped master problem over a batch of scenarios.
// It chooses one backup option per facility and the buffer levels, and
// approximates each scenario's recourse cost with a surrogate refined by
// cuts from the scenario's Subproblem.
type Engine struct {
	params    model.Params
	scenarios []model.Scenario
	risk      RiskMeasure
	workers   int

	masterOpts []solver.Option
	subOpts    []solver.Option
	timeLimit  time.Duration
	clock      timectrl.Clock
	log        logging.Logger
	metrics    MetricsRecorder

	lp     *solver.Model
	policy *policyBlock
	theta  []solver.Var
	aux    []solver.Var
	subs   []*Subproblem

	state     EngineState
	stats     EngineStats
	proposals []Proposal
	incumbent *model.Solution
	released  bool
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithRiskMeasure selects the risk term of the master objective.
func WithRiskMeasure(r RiskMeasure) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.risk = r
		}
	}
}

// WithWorkers solves the subproblems of one callback on n goroutines.
func WithWorkers(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLogger sets the engine logger. Subproblems inherit it.
func WithLogger(l logging.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetricsRecorder reports solves and cuts to r.
func WithMetricsRecorder(r MetricsRecorder) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.metrics = r
		}
	}
}

// WithMasterSolverOptions configures the master MIP.
func WithMasterSolverOptions(opts ...solver.Option) EngineOption {
	return func(e *Engine) { e.masterOpts = append(e.masterOpts, opts...) }
}

// WithRecourseSolverOptions configures every subproblem LP.
func WithRecourseSolverOptions(opts ...solver.Option) EngineOption {
	return func(e *Engine) { e.subOpts = append(e.subOpts, opts...) }
}

// WithTimeLimit stops the master search limit after Solve starts, measured
// on clock (nil means the system clock). The best incumbent found so far is
// then reported as feasible but not optimal.
func WithTimeLimit(limit time.Duration, clock timectrl.Clock) EngineOption {
	return func(e *Engine) {
		e.timeLimit = limit
		e.clock = clock
	}
}

// NewEngine validates the batch and creates one Subproblem per scenario.
// No model is built until Build or Solve.
func NewEngine(params model.Params, scenarios []model.Scenario, opts ...EngineOption) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(scenarios) == 0 {
		return nil, ErrNoScenarios
	}
	e := &Engine{
		params:    params,
		scenarios: append([]model.Scenario(nil), scenarios...),
		risk:      Neutral{},
		workers:   1,
		log:       logging.Noop(),
		metrics:   noopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	start := model.NoBackupPolicy(params)
	e.subs = make([]*Subproblem, len(scenarios))
	for i, sc := range scenarios {
		sp, err := NewSubproblem(params, sc, start, i,
			WithSubproblemLogger(e.log),
			WithSubproblemMetrics(e.metrics),
			WithSubproblemSolverOptions(e.subOpts...))
		if err != nil {
			return nil, fmt.Errorf("scenario %d: %w", i, err)
		}
		e.subs[i] = sp
	}
	return e, nil
}

// State returns the lifecycle state.
func (e *Engine) State() EngineState { return e.state }

// Stats returns the cut loop counters.
func (e *Engine) Stats() EngineStats { return e.stats }

// RiskMeasure returns the selected risk term.
func (e *Engine) RiskMeasure() RiskMeasure { return e.risk }

// Proposals lists every candidate the cut loop has seen, in order.
func (e *Engine) Proposals() []Proposal {
	out := make([]Proposal, len(e.proposals))
	copy(out, e.proposals)
	return out
}

// NumScenarios returns the batch size.
func (e *Engine) NumScenarios() int { return len(e.scenarios) }

// Build creates the master model up to StateConstraintsBuilt. It is called
// by Solve when needed.
func (e *Engine) Build() error {
	if e.released {
		return ErrEngineReleased
	}
	if e.state != StateCreated {
		return fmt.Errorf("%w: build from %s", ErrEngineState, e.state)
	}
	e.buildVariables()
	if err := e.buildObjective(); err != nil {
		e.state = StateError
		return err
	}
	if err := e.buildConstraints(); err != nil {
		e.state = StateError
		return err
	}
	e.lp.OnLazyConstraint(solver.CutCallbackFunc(e.onCandidate))
	return nil
}

func (e *Engine) buildVariables() {
	e.lp = solver.NewModel("master", e.masterOpts...)
	e.policy = newPolicyBlock(e.lp, e.params)
	// Recourse costs are never negative, so zero is a valid first bound.
	e.theta = make([]solver.Var, len(e.scenarios))
	for i := range e.theta {
		e.theta[i] = e.lp.AddVar(0, solver.Inf, solver.Continuous, fmt.Sprintf("theta[%d]", i))
	}
	e.aux = e.risk.Variables(e.lp, e.theta)
	e.state = StateVariablesBuilt
}

func (e *Engine) buildObjective() error {
	obj := solver.NewExpr()
	e.policy.fixedCost(obj)
	n := float64(len(e.theta))
	for _, t := range e.theta {
		obj.Add(t, 1/n)
	}
	e.risk.PenaltyTerm(e.aux, e.theta, obj)
	if err := e.lp.SetObjective(*obj); err != nil {
		return err
	}
	e.state = StateObjectiveBuilt
	return nil
}

func (e *Engine) buildConstraints() error {
	if err := e.policy.link(e.lp); err != nil {
		return err
	}
	if err := e.risk.AuxiliaryConstraints(e.lp, e.aux, e.theta); err != nil {
		return err
	}
	e.state = StateConstraintsBuilt
	return nil
}

// Solve runs the branch-and-cut search and reports the chosen policy. The
// returned Solution carries the operational plan of the first scenario under
// that policy and the master's best bound as its total cost. A search that
// ends without an incumbent yields a zero Solution with Converged false.
func (e *Engine) Solve(ctx context.Context) (model.Solution, error) {
	if e.released {
		return model.Solution{}, ErrEngineReleased
	}
	if e.state == StateCreated {
		if err := e.Build(); err != nil {
			return model.Solution{}, err
		}
	}
	if e.state != StateConstraintsBuilt {
		return model.Solution{}, fmt.Errorf("%w: solve from %s", ErrEngineState, e.state)
	}

	e.state = StateSolving
	start := time.Now()
	if e.timeLimit > 0 {
		e.lp.SetBudget(timectrl.NewBudget(e.clock, e.timeLimit))
	}
	e.log.Info(ctx, "master solve started",
		logging.Int("scenarios", len(e.scenarios)),
		logging.String("risk", e.risk.Name()),
		logging.Int("workers", e.workers))

	status, err := e.lp.Solve(ctx)
	if err != nil {
		e.state = StateError
		e.metrics.ObserveMasterSolve(e.state.String(), time.Since(start))
		return model.Solution{Status: status.String()}, fmt.Errorf("master solve: %w", err)
	}

	sol, err := e.finalize(ctx, status)
	e.metrics.ObserveMasterSolve(e.state.String(), time.Since(start))
	st := e.lp.Stats()
	e.log.Info(ctx, "master solve finished",
		logging.String("status", status.String()),
		logging.String("state", e.state.String()),
		logging.Float("total_cost", sol.TotalCost),
		logging.Int("nodes", st.Nodes),
		logging.Int("optimality_cuts", e.stats.OptimalityCuts),
		logging.Int("feasibility_cuts", e.stats.FeasibilityCuts),
		logging.Duration("elapsed", time.Since(start)))
	return sol, err
}

func (e *Engine) finalize(ctx context.Context, status solver.Status) (model.Solution, error) {
	switch status {
	case solver.StatusOptimal, solver.StatusFeasible:
	case solver.StatusInfeasible:
		e.state = StateInfeasible
		return e.unconverged(status), nil
	default:
		e.state = StateError
		return e.unconverged(status), nil
	}

	pp := e.policy.extract(e.lp.Value)
	sp := e.subs[0]
	if sp.Released() {
		return model.Solution{}, ErrSubproblemReleased
	}
	if err := sp.UpdateRHS(pp); err != nil {
		e.state = StateError
		return model.Solution{}, err
	}
	if _, err := sp.Solve(ctx); err != nil {
		e.state = StateError
		return model.Solution{}, err
	}
	sol := sp.RecordSolution()
	sol.Policy = pp
	sol.FacBackupCost = pp.FixedCost(e.params)
	sol.TotalCost = e.lp.BestBound()
	sol.Status = status.String()
	sol.Converged = status == solver.StatusOptimal
	e.state = StateConverged
	return sol, nil
}

func (e *Engine) unconverged(status solver.Status) model.Solution {
	return model.Solution{
		Operations: model.NewOperations(e.params.WeeksPerYear),
		Status:     status.String(),
	}
}

// Incumbent returns the operational snapshot taken when the cut loop last
// accepted a candidate.
func (e *Engine) Incumbent() (model.Solution, bool) {
	if e.incumbent == nil {
		return model.Solution{}, false
	}
	return *e.incumbent, true
}

// ReleaseSubproblems ends every subproblem session. The engine keeps its
// master model and reported results.
func (e *Engine) ReleaseSubproblems() {
	for _, sp := range e.subs {
		sp.Release()
	}
}

// Release frees the master and every subproblem.
func (e *Engine) Release() {
	e.ReleaseSubproblems()
	if e.lp != nil {
		e.lp.Release()
	}
	e.released = true
}

// sweepResult is the outcome of one subproblem within a callback.
type sweepResult struct {
	status solver.Status
	solved bool
}

// sweep re-solves every subproblem under pp. With one worker it stops at the
// first infeasible scenario; with more it solves all of them and leaves the
// first-infeasible choice to the caller, which gives the same answer.
func (e *Engine) sweep(ctx context.Context, pp model.PolicyParameters) ([]sweepResult, error) {
	results := make([]sweepResult, len(e.subs))
	solveOne := func(ctx context.Context, i int) error {
		sp := e.subs[i]
		if err := sp.UpdateRHS(pp); err != nil {
			return fmt.Errorf("scenario %d: %w", i, err)
		}
		status, err := sp.Solve(ctx)
		if err != nil {
			return fmt.Errorf("scenario %d: %w", i, err)
		}
		results[i] = sweepResult{status: status, solved: true}
		return nil
	}

	if e.workers <= 1 {
		for i := range e.subs {
			if err := solveOne(ctx, i); err != nil {
				return nil, err
			}
			if results[i].status == solver.StatusInfeasible {
				break
			}
		}
		return results, nil
	}

	if err := parallel(ctx, e.workers, len(e.subs), solveOne); err != nil {
		return nil, err
	}
	return results, nil
}
