package core

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/resilience-designer/internal/logging"
	"github.com/signalsfoundry/resilience-designer/internal/solver"
	"github.com/signalsfoundry/resilience-designer/model"
)

// ScenarioCost is the realised cost of a policy on one scenario.
type ScenarioCost struct {
	Index    int
	Status   solver.Status
	Recourse float64
	Total    float64
}

// Evaluation is the outcome of running a fixed policy over a batch.
type Evaluation struct {
	Policy     model.PolicyParameters
	FixedCost  float64
	Scenarios  []ScenarioCost
	Infeasible int
	Anomalies  int
}

// Samples returns the total costs of the scenarios that solved to
// optimality, in scenario order.
func (ev Evaluation) Samples() []float64 {
	out := make([]float64, 0, len(ev.Scenarios))
	for _, sc := range ev.Scenarios {
		if sc.Status == solver.StatusOptimal {
			out = append(out, sc.Total)
		}
	}
	return out
}

// Feasible reports whether every scenario admitted a recourse plan.
func (ev Evaluation) Feasible() bool { return ev.Infeasible == 0 }

// EvaluatePolicy solves one stand-alone Subproblem per scenario with pp
// fixed. Each subproblem is released as soon as its cost is read. It honours
// WithWorkers, WithLogger, WithMetricsRecorder and WithRecourseSolverOptions.
func EvaluatePolicy(ctx context.Context, params model.Params, pp model.PolicyParameters, scenarios []model.Scenario, opts ...EngineOption) (Evaluation, error) {
	if len(scenarios) == 0 {
		return Evaluation{}, ErrNoScenarios
	}
	cfg := &Engine{workers: 1, log: logging.Noop(), metrics: noopRecorder{}}
	for _, opt := range opts {
		opt(cfg)
	}
	if err := pp.Validate(params); err != nil {
		return Evaluation{}, err
	}

	ev := Evaluation{
		Policy:    pp.Clone(),
		FixedCost: pp.FixedCost(params),
		Scenarios: make([]ScenarioCost, len(scenarios)),
	}
	subs := make([]*Subproblem, len(scenarios))
	for i, sc := range scenarios {
		sp, err := NewSubproblem(params, sc, pp, i,
			WithSubproblemLogger(cfg.log),
			WithSubproblemMetrics(cfg.metrics),
			WithSubproblemSolverOptions(cfg.subOpts...))
		if err != nil {
			return Evaluation{}, fmt.Errorf("scenario %d: %w", i, err)
		}
		subs[i] = sp
	}

	err := parallel(ctx, cfg.workers, len(subs), func(ctx context.Context, i int) error {
		sp := subs[i]
		defer sp.Release()
		status, err := sp.Solve(ctx)
		if err != nil {
			return fmt.Errorf("scenario %d: %w", i, err)
		}
		cost := ScenarioCost{Index: i, Status: status}
		if status == solver.StatusOptimal {
			cost.Recourse = sp.ObjValue()
			cost.Total = cost.Recourse + ev.FixedCost
		}
		ev.Scenarios[i] = cost
		return nil
	})
	if err != nil {
		for _, sp := range subs {
			sp.Release()
		}
		return Evaluation{}, err
	}

	for _, sc := range ev.Scenarios {
		switch sc.Status {
		case solver.StatusOptimal:
		case solver.StatusInfeasible:
			ev.Infeasible++
		default:
			ev.Anomalies++
		}
	}
	if ev.Infeasible > 0 || ev.Anomalies > 0 {
		cfg.log.Warn(ctx, "policy evaluation incomplete",
			logging.String("policy", pp.String()),
			logging.Int("infeasible", ev.Infeasible),
			logging.Int("anomalies", ev.Anomalies))
	}
	return ev, nil
}
