package core

import (
	"fmt"
	"strings"

	"github.com/signalsfoundry/resilience-designer/internal/solver"
	"github.com/signalsfoundry/resilience-designer/model"
)

// Risk measure names accepted by ParseRiskMeasure.
const (
	RiskNeutral           = "neutral"
	RiskRobust            = "robust"
	RiskVariabilityIndex  = "variabilityIdx"
	RiskProbFinancialRisk = "probFinancialRisk"
	RiskDownside          = "downsideRisk"
)

// RiskMeasure adds a penalty on the spread of scenario costs to the master
// objective. theta holds the per-scenario cost surrogates.
type RiskMeasure interface {
	Name() string
	// Variables adds the auxiliary columns the measure needs.
	Variables(lp *solver.Model, theta []solver.Var) []solver.Var
	// PenaltyTerm adds the objective contribution into obj.
	PenaltyTerm(aux, theta []solver.Var, obj *solver.Expr)
	// AuxiliaryConstraints links the auxiliary columns to theta.
	AuxiliaryConstraints(lp *solver.Model, aux, theta []solver.Var) error
}

// ParseRiskMeasure returns the measure called name, configured from p.
func ParseRiskMeasure(name string, p model.Params) (RiskMeasure, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", strings.ToLower(RiskNeutral):
		return Neutral{}, nil
	case strings.ToLower(RiskRobust):
		return Robust{Factor: p.RiskAversionFactor}, nil
	case strings.ToLower(RiskVariabilityIndex):
		return VariabilityIndex{Penalty: p.VariabilityPenalty}, nil
	case strings.ToLower(RiskProbFinancialRisk):
		return ProbFinancialRisk{Penalty: p.FinancialRiskPenalty, Target: p.CostTarget, BigM: p.RiskBigM}, nil
	case strings.ToLower(RiskDownside):
		return DownsideRisk{Penalty: p.DownsideRiskPenalty, Target: p.CostTarget}, nil
	}
	return nil, fmt.Errorf("unknown risk measure %q", name)
}

// Neutral minimises expected cost only.
type Neutral struct{}

func (Neutral) Name() string                                                         { return RiskNeutral }
func (Neutral) Variables(*solver.Model, []solver.Var) []solver.Var                   { return nil }
func (Neutral) PenaltyTerm([]solver.Var, []solver.Var, *solver.Expr)                 {}
func (Neutral) AuxiliaryConstraints(*solver.Model, []solver.Var, []solver.Var) error { return nil }

// Robust penalises Factor times the mean absolute difference over all
// ordered pairs of scenario costs, (1/n²) Σ_i Σ_j |θ_i − θ_j|. This is an L1
// dispersion proxy, not the variance: it grows linearly with the spread of
// the costs and keeps the master a mixed-binary linear program.
type Robust struct {
	Factor float64
}

func (Robust) Name() string { return RiskRobust }

func (Robust) Variables(lp *solver.Model, theta []solver.Var) []solver.Var {
	n := len(theta)
	aux := make([]solver.Var, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			aux = append(aux, lp.AddVar(0, solver.Inf, solver.Continuous, fmt.Sprintf("pair_gap[%d,%d]", i, j)))
		}
	}
	return aux
}

// PenaltyTerm charges Factor/n² over ordered pairs, so each unordered pair
// counts twice.
func (r Robust) PenaltyTerm(aux, theta []solver.Var, obj *solver.Expr) {
	n := float64(len(theta))
	for _, d := range aux {
		obj.Add(d, 2*r.Factor/(n*n))
	}
}

func (Robust) AuxiliaryConstraints(lp *solver.Model, aux, theta []solver.Var) error {
	idx := 0
	for i := range theta {
		for j := i + 1; j < len(theta); j++ {
			d := aux[idx]
			idx++
			up := solver.NewExpr().Add(d, 1).Add(theta[i], -1).Add(theta[j], 1)
			down := solver.NewExpr().Add(d, 1).Add(theta[i], 1).Add(theta[j], -1)
			if _, err := lp.AddConstraint(*up, solver.GreaterEq, 0, fmt.Sprintf("pair_gap_up[%d,%d]", i, j)); err != nil {
				return err
			}
			if _, err := lp.AddConstraint(*down, solver.GreaterEq, 0, fmt.Sprintf("pair_gap_down[%d,%d]", i, j)); err != nil {
				return err
			}
		}
	}
	return nil
}

// VariabilityIndex penalises each scenario's excess over the sample mean.
type VariabilityIndex struct {
	Penalty float64
}

func (VariabilityIndex) Name() string { return RiskVariabilityIndex }

func (VariabilityIndex) Variables(lp *solver.Model, theta []solver.Var) []solver.Var {
	return excessColumns(lp, "above_mean", len(theta))
}

func (r VariabilityIndex) PenaltyTerm(aux, theta []solver.Var, obj *solver.Expr) {
	perScenario(aux, r.Penalty, obj)
}

func (VariabilityIndex) AuxiliaryConstraints(lp *solver.Model, aux, theta []solver.Var) error {
	n := float64(len(theta))
	for i, t := range theta {
		// aux_i >= theta_i - mean(theta)
		expr := solver.NewExpr().Add(aux[i], 1).Add(t, -1)
		for _, other := range theta {
			expr.Add(other, 1/n)
		}
		if _, err := lp.AddConstraint(*expr, solver.GreaterEq, 0, fmt.Sprintf("above_mean[%d]", i)); err != nil {
			return err
		}
	}
	return nil
}

// ProbFinancialRisk penalises the probability that a scenario's cost
// exceeds Target. Each indicator is tied to its scenario by a big-M pair.
type ProbFinancialRisk struct {
	Penalty float64
	Target  float64
	BigM    float64
}

func (ProbFinancialRisk) Name() string { return RiskProbFinancialRisk }

func (ProbFinancialRisk) Variables(lp *solver.Model, theta []solver.Var) []solver.Var {
	aux := make([]solver.Var, len(theta))
	for i := range aux {
		aux[i] = lp.AddVar(0, 1, solver.Binary, fmt.Sprintf("over_target[%d]", i))
	}
	return aux
}

func (r ProbFinancialRisk) PenaltyTerm(aux, theta []solver.Var, obj *solver.Expr) {
	perScenario(aux, r.Penalty, obj)
}

func (r ProbFinancialRisk) AuxiliaryConstraints(lp *solver.Model, aux, theta []solver.Var) error {
	for i, t := range theta {
		over := solver.NewExpr().Add(t, 1).Add(aux[i], -r.BigM)
		if _, err := lp.AddConstraint(*over, solver.LessEq, r.Target, fmt.Sprintf("over_target_on[%d]", i)); err != nil {
			return err
		}
		under := solver.NewExpr().Add(t, 1).Add(aux[i], -r.BigM)
		if _, err := lp.AddConstraint(*under, solver.GreaterEq, r.Target-r.BigM, fmt.Sprintf("over_target_off[%d]", i)); err != nil {
			return err
		}
	}
	return nil
}

// DownsideRisk penalises each scenario's excess over Target.
type DownsideRisk struct {
	Penalty float64
	Target  float64
}

func (DownsideRisk) Name() string { return RiskDownside }

func (DownsideRisk) Variables(lp *solver.Model, theta []solver.Var) []solver.Var {
	return excessColumns(lp, "above_target", len(theta))
}

func (r DownsideRisk) PenaltyTerm(aux, theta []solver.Var, obj *solver.Expr) {
	perScenario(aux, r.Penalty, obj)
}

func (r DownsideRisk) AuxiliaryConstraints(lp *solver.Model, aux, theta []solver.Var) error {
	for i, t := range theta {
		expr := solver.NewExpr().Add(aux[i], 1).Add(t, -1)
		if _, err := lp.AddConstraint(*expr, solver.GreaterEq, -r.Target, fmt.Sprintf("above_target[%d]", i)); err != nil {
			return err
		}
	}
	return nil
}

func excessColumns(lp *solver.Model, prefix string, n int) []solver.Var {
	aux := make([]solver.Var, n)
	for i := range aux {
		aux[i] = lp.AddVar(0, solver.Inf, solver.Continuous, fmt.Sprintf("%s[%d]", prefix, i))
	}
	return aux
}

func perScenario(aux []solver.Var, penalty float64, obj *solver.Expr) {
	n := float64(len(aux))
	for _, a := range aux {
		obj.Add(a, penalty/n)
	}
}
