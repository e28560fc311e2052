package core

import (
	"fmt"
	"math"
	"sort"

	"github.com/signalsfoundry/resilience-designer/internal/solver"
	"github.com/signalsfoundry/resilience-designer/model"
)

// policyBlock holds the first-stage columns of a design model: one-hot
// option selectors, the capacity and response time they imply, the ramp
// profile and the two buffer levels.
type policyBlock struct {
	params   model.Params
	selector [model.NumFacilities][model.NumBackupOptions]solver.Var
	optCap   [model.NumFacilities][model.NumBackupOptions]solver.Var
	optDelay [model.NumFacilities][model.NumBackupOptions]solver.Var
	capacity [model.NumFacilities]solver.Var
	delay    [model.NumFacilities]solver.Var
	delayed  [model.NumFacilities][]solver.Var
	wip, fg  solver.Var
}

func newPolicyBlock(lp *solver.Model, p model.Params) *policyBlock {
	b := &policyBlock{params: p}
	horizon := float64(p.WeeksPerYear)
	for _, f := range model.Facilities {
		base := p.NominalCapacity(f)
		for o := 0; o < model.NumBackupOptions; o++ {
			b.selector[f][o] = lp.AddVar(0, 1, solver.Binary, fmt.Sprintf("select_%s[%d]", f, o))
			b.optCap[f][o] = lp.AddVar(0, base, solver.Continuous, fmt.Sprintf("option_capacity_%s[%d]", f, o))
			b.optDelay[f][o] = lp.AddVar(0, horizon, solver.Continuous, fmt.Sprintf("option_delay_%s[%d]", f, o))
		}
		b.capacity[f] = lp.AddVar(0, base, solver.Continuous, fmt.Sprintf("capacity_%s", f))
		b.delay[f] = lp.AddVar(0, horizon, solver.Continuous, fmt.Sprintf("delay_%s", f))
		b.delayed[f] = make([]solver.Var, p.MaxDelay)
		for k := range b.delayed[f] {
			b.delayed[f][k] = lp.AddVar(0, base, solver.Continuous, fmt.Sprintf("delayed_%s[%d]", f, k))
		}
	}
	b.wip = lp.AddVar(0, solver.Inf, solver.Continuous, "wip_policy")
	b.fg = lp.AddVar(0, solver.Inf, solver.Continuous, "fg_policy")
	return b
}

// fixedCost adds the contract and buffer cost of the block into obj.
func (b *policyBlock) fixedCost(obj *solver.Expr) {
	p := b.params
	horizon := float64(p.WeeksPerYear)
	for _, f := range model.Facilities {
		for _, opt := range p.BackupMenu(f) {
			obj.Add(b.selector[f][opt.Index], opt.ActivationCost)
		}
	}
	obj.Add(b.wip, p.WIPCost/horizon).Add(b.fg, p.FGCost/horizon)
}

// link ties capacity, response time and ramp profile to the selected option.
// The ramp rows replace indicator constraints by their linear equivalent,
// which is exact because the selectors are one-hot.
func (b *policyBlock) link(lp *solver.Model) error {
	p := b.params
	for _, f := range model.Facilities {
		menu := p.BackupMenu(f)
		oneHot := solver.NewExpr()
		capSum := solver.NewExpr().Add(b.capacity[f], -1)
		delaySum := solver.NewExpr().Add(b.delay[f], -1)
		for _, opt := range menu {
			o := opt.Index
			oneHot.Add(b.selector[f][o], 1)
			capSum.Add(b.optCap[f][o], 1)
			delaySum.Add(b.optDelay[f][o], 1)
			rows := []struct {
				expr *solver.Expr
				name string
			}{
				{solver.NewExpr().Add(b.optCap[f][o], 1).Add(b.selector[f][o], -opt.Capacity(p, f)), fmt.Sprintf("option_capacity_%s[%d]", f, o)},
				{solver.NewExpr().Add(b.optDelay[f][o], 1).Add(b.selector[f][o], -float64(opt.ResponseWeeks)), fmt.Sprintf("option_delay_%s[%d]", f, o)},
			}
			for _, r := range rows {
				if _, err := lp.AddConstraint(*r.expr, solver.Equal, 0, r.name); err != nil {
					return err
				}
			}
		}
		if _, err := lp.AddConstraint(*oneHot, solver.Equal, 1, fmt.Sprintf("one_hot_%s", f)); err != nil {
			return err
		}
		if _, err := lp.AddConstraint(*capSum, solver.Equal, 0, fmt.Sprintf("capacity_%s", f)); err != nil {
			return err
		}
		if _, err := lp.AddConstraint(*delaySum, solver.Equal, 0, fmt.Sprintf("delay_%s", f)); err != nil {
			return err
		}
		for k := 0; k < p.MaxDelay; k++ {
			ramp := solver.NewExpr().Add(b.delayed[f][k], -1)
			for _, opt := range menu {
				ramp.Add(b.selector[f][opt.Index], opt.RampProfile(p, f)[k])
			}
			if _, err := lp.AddConstraint(*ramp, solver.Equal, 0, fmt.Sprintf("ramp_%s[%d]", f, k)); err != nil {
				return err
			}
		}
	}
	return nil
}

// column returns the model column standing for field.
func (b *policyBlock) column(field model.PolicyField) (solver.Var, error) {
	switch field.Kind {
	case model.FieldCapacity:
		return b.capacity[field.Facility], nil
	case model.FieldDelayed:
		d := b.delayed[field.Facility]
		if field.Week >= 0 && field.Week < len(d) {
			return d[field.Week], nil
		}
	case model.FieldWIPStock:
		return b.wip, nil
	case model.FieldFGStock:
		return b.fg, nil
	}
	return 0, fmt.Errorf("no column for policy field %s", field)
}

// linear maps form onto the block's columns. The constant is returned
// separately so callers can move it to the right-hand side.
func (b *policyBlock) linear(form *PolicyForm) (*solver.Expr, float64, error) {
	expr := solver.NewExpr()
	for _, field := range sortedFields(form) {
		col, err := b.column(field)
		if err != nil {
			return nil, 0, err
		}
		expr.Add(col, form.Coefs[field])
	}
	return expr, form.Constant, nil
}

// extract rebuilds the policy a point of the model represents.
func (b *policyBlock) extract(value func(solver.Var) float64) model.PolicyParameters {
	var pp model.PolicyParameters
	for _, f := range model.Facilities {
		best, bestVal := 0, math.Inf(-1)
		for o := 0; o < model.NumBackupOptions; o++ {
			if v := value(b.selector[f][o]); v > bestVal {
				best, bestVal = o, v
			}
		}
		delayed := make([]float64, len(b.delayed[f]))
		for k, v := range b.delayed[f] {
			delayed[k] = math.Max(0, value(v))
		}
		pp.Facilities[f] = model.FacilityPolicy{
			Option:   best,
			Capacity: math.Max(0, value(b.capacity[f])),
			Delayed:  delayed,
		}
	}
	pp.WIPStock = math.Max(0, value(b.wip))
	pp.FGStock = math.Max(0, value(b.fg))
	return pp
}

func sortedFields(form *PolicyForm) []model.PolicyField {
	fields := make([]model.PolicyField, 0, len(form.Coefs))
	for f, c := range form.Coefs {
		if c != 0 {
			fields = append(fields, f)
		}
	}
	sort.Slice(fields, func(i, j int) bool {
		a, b := fields[i], fields[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Facility != b.Facility {
			return a.Facility < b.Facility
		}
		return a.Week < b.Week
	})
	return fields
}
