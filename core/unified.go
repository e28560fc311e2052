package core

import (
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/resilience-designer/internal/logging"
	"github.com/signalsfoundry/resilience-designer/internal/solver"
	"github.com/signalsfoundry/resilience-designer/model"
	"github.com/signalsfoundry/resilience-designer/timectrl"
)

// UnifiedModel is the deterministic design problem of a single scenario:
// backup options, buffers and the weekly plan are chosen in one MIP. Policy
// references in the recourse rows become master columns, so every facility
// is covered by its own outage window.
type UnifiedModel struct {
	params   model.Params
	scenario model.Scenario
	cfg      *Engine

	lp     *solver.Model
	policy *policyBlock
	vars   recourseVars
	build  error
}

// NewUnifiedModel validates the scenario and builds the MIP. It honours
// WithLogger, WithMetricsRecorder, WithMasterSolverOptions and WithTimeLimit.
func NewUnifiedModel(params model.Params, scenario model.Scenario, opts ...EngineOption) (*UnifiedModel, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := checkScenario(params, scenario); err != nil {
		return nil, err
	}
	cfg := &Engine{log: logging.Noop(), metrics: noopRecorder{}}
	for _, opt := range opts {
		opt(cfg)
	}
	u := &UnifiedModel{params: params, scenario: scenario, cfg: cfg}
	if err := u.construct(); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *UnifiedModel) construct() error {
	b := recourseBuilder{params: u.params, scenario: u.scenario}
	u.lp = solver.NewModel("unified", u.cfg.masterOpts...)
	u.policy = newPolicyBlock(u.lp, u.params)
	u.vars = b.addVariables(u.lp)

	obj := solver.NewExpr()
	u.policy.fixedCost(obj)
	b.objective(&u.vars, 1, obj)
	if err := u.lp.SetObjective(*obj); err != nil {
		return err
	}
	if err := u.policy.link(u.lp); err != nil {
		return err
	}
	b.constraints(&u.vars, u.addRow)
	return u.build
}

// addRow moves the policy part of rhs to the left-hand side.
func (u *UnifiedModel) addRow(expr *solver.Expr, rel solver.Relation, rhs RHSExpr, name string) {
	if u.build != nil {
		return
	}
	form := NewPolicyForm()
	rhs.Accumulate(1, form)
	linear, constant, err := u.policy.linear(form)
	if err != nil {
		u.build = err
		return
	}
	for _, t := range linear.Terms {
		expr.Add(t.Var, -t.Coef)
	}
	if _, err := u.lp.AddConstraint(*expr, rel, constant, name); err != nil {
		u.build = err
	}
}

// Solve optimises the design jointly with the plan.
func (u *UnifiedModel) Solve(ctx context.Context) (model.Solution, error) {
	start := time.Now()
	if u.cfg.timeLimit > 0 {
		u.lp.SetBudget(timectrl.NewBudget(u.cfg.clock, u.cfg.timeLimit))
	}
	status, err := u.lp.Solve(ctx)
	u.cfg.metrics.ObserveMasterSolve(status.String(), time.Since(start))
	if err != nil {
		return model.Solution{Status: status.String()}, fmt.Errorf("unified solve: %w", err)
	}
	if status != solver.StatusOptimal && status != solver.StatusFeasible {
		u.cfg.log.Warn(ctx, "unified model has no solution", logging.String("status", status.String()))
		return model.Solution{
			Operations: model.NewOperations(u.params.WeeksPerYear),
			Status:     status.String(),
		}, nil
	}
	b := recourseBuilder{params: u.params, scenario: u.scenario}
	sol := b.record(&u.vars, u.lp)
	sol.Policy = u.policy.extract(u.lp.Value)
	sol.FacBackupCost = sol.Policy.FixedCost(u.params)
	sol.TotalCost = u.lp.ObjValue()
	sol.Status = status.String()
	sol.Converged = status == solver.StatusOptimal
	u.cfg.log.Info(ctx, "unified model solved",
		logging.String("status", status.String()),
		logging.Float("total_cost", sol.TotalCost),
		logging.String("policy", sol.Policy.String()),
		logging.Duration("elapsed", time.Since(start)))
	return sol, nil
}

// Release frees the model.
func (u *UnifiedModel) Release() { u.lp.Release() }
