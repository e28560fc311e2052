package core

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/resilience-designer/internal/logging"
	"github.com/signalsfoundry/resilience-designer/internal/solver"
)

// OptimalityForm folds the duals of an optimal subproblem into the affine
// function of the policy that lower-bounds its recourse cost.
func OptimalityForm(sp *Subproblem) (*PolicyForm, error) {
	form := NewPolicyForm()
	form.Constant = sp.ObjectiveOffset()
	for _, id := range sp.Constraints() {
		dual, err := sp.Dual(id)
		if err != nil {
			return nil, err
		}
		if dual == 0 {
			continue
		}
		rhs, _ := sp.RHS(id)
		rhs.Accumulate(dual, form)
	}
	return form, nil
}

// FeasibilityForm folds the Farkas certificate of an infeasible subproblem
// into an affine function of the policy that is positive at every policy
// sharing the subproblem's infeasibility.
func FeasibilityForm(sp *Subproblem) (*PolicyForm, error) {
	ray, err := sp.Farkas()
	if err != nil {
		return nil, err
	}
	form := NewPolicyForm()
	for _, m := range ray {
		rhs, ok := sp.RHS(m.ID)
		if !ok {
			return nil, fmt.Errorf("%w: %d", solver.ErrUnknownConstraint, m.ID)
		}
		rhs.Accumulate(m.Coef, form)
	}
	return form, nil
}

// onCandidate is the lazy constraint callback of the master. It evaluates
// the candidate policy on every scenario and rejects it with a feasibility
// cut or optimality cuts when the surrogates understate the recourse costs.
func (e *Engine) onCandidate(ctx context.Context, cand solver.Candidate, sink solver.CutSink) error {
	start := time.Now()
	e.stats.Callbacks++
	pp := e.policy.extract(cand.Value)
	proposal := Proposal{Key: pp.Key(), Policy: pp, Scenario: -1}

	results, err := e.sweep(ctx, pp)
	if err != nil {
		return err
	}

	cuts := 0
	defer func() {
		e.proposals = append(e.proposals, proposal)
		e.metrics.ObserveCallback(time.Since(start), cuts)
	}()

	for i, r := range results {
		if !r.solved || r.status != solver.StatusInfeasible {
			continue
		}
		form, err := FeasibilityForm(e.subs[i])
		if err != nil {
			return fmt.Errorf("feasibility cut for scenario %d: %w", i, err)
		}
		expr, constant, err := e.policy.linear(form)
		if err != nil {
			return err
		}
		sink.AddLazy(*expr, solver.LessEq, -constant)
		cuts++
		e.stats.FeasibilityCuts++
		e.metrics.ObserveCut(CutFeasibility)
		proposal.Outcome, proposal.Scenario = OutcomeInfeasible, i
		e.log.Debug(ctx, "candidate rejected by feasibility cut",
			logging.Scenario(i),
			logging.String("policy", pp.String()))
		return nil
	}

	for i, r := range results {
		if r.status != solver.StatusOptimal {
			e.stats.Anomalies++
			e.log.Warn(ctx, "skipping subproblem with unexpected status",
				logging.Scenario(i),
				logging.String("status", r.status.String()))
			continue
		}
		sp := e.subs[i]
		cost := sp.ObjValue()
		estimate := cand.Value(e.theta[i])
		if !underestimates(cost, estimate) {
			continue
		}
		form, err := OptimalityForm(sp)
		if err != nil {
			return fmt.Errorf("optimality cut for scenario %d: %w", i, err)
		}
		expr, constant, err := e.policy.linear(form)
		if err != nil {
			return err
		}
		// theta_i >= constant + expr
		cut := solver.NewExpr().Add(e.theta[i], 1)
		for _, t := range expr.Terms {
			cut.Add(t.Var, -t.Coef)
		}
		sink.AddLazy(*cut, solver.GreaterEq, constant)
		cuts++
		e.stats.OptimalityCuts++
		e.metrics.ObserveCut(CutOptimality)
	}

	if cuts > 0 {
		proposal.Outcome = OutcomeOptimality
		return nil
	}
	proposal.Outcome = OutcomeAccepted
	e.stats.Incumbents++
	snapshot := e.subs[0].RecordSolution()
	e.incumbent = &snapshot
	e.log.Debug(ctx, "candidate accepted",
		logging.String("policy", pp.String()),
		logging.Float("objective", cand.ObjValue()))
	return nil
}

// parallel runs fn for 0..n-1 on at most workers goroutines and returns the
// first error.
func parallel(ctx context.Context, workers, n int, fn func(ctx context.Context, i int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		g.Go(func() error { return fn(ctx, i) })
	}
	return g.Wait()
}

// underestimates reports whether a surrogate estimate falls short of the
// scenario cost by more than FUZZ. The slack grows with |cost| once it
// exceeds 1: simplex residuals on costs in the hundreds of thousands are
// far above 1e-7, and an absolute test would emit cuts that do not move the
// bound.
func underestimates(cost, estimate float64) bool {
	return cost-estimate > FUZZ*math.Max(1, math.Abs(cost))
}
