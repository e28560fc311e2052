package core

import (
	"fmt"
	"strings"

	"github.com/signalsfoundry/resilience-designer/model"
)

// RHSExpr is the right-hand side of a subproblem constraint expressed in
// terms of the policy. Every variant is affine in the policy fields, so a
// dual-weighted sum of expressions folds into a PolicyForm that the master
// can map onto its own variables.
type RHSExpr interface {
	// Eval computes the numeric right-hand side under pp.
	Eval(pp model.PolicyParameters) float64
	// Accumulate adds coef times the expression into form.
	Accumulate(coef float64, form *PolicyForm)
	String() string
}

// Const is a right-hand side that does not depend on the policy.
type Const float64

func (c Const) Eval(model.PolicyParameters) float64 { return float64(c) }

func (c Const) Accumulate(coef float64, form *PolicyForm) { form.Constant += coef * float64(c) }

func (c Const) String() string { return fmt.Sprintf("%g", float64(c)) }

// Ref is a right-hand side equal to one policy field.
type Ref model.PolicyField

func (r Ref) Eval(pp model.PolicyParameters) float64 { return pp.Value(model.PolicyField(r)) }

func (r Ref) Accumulate(coef float64, form *PolicyForm) { form.Add(model.PolicyField(r), coef) }

func (r Ref) String() string { return model.PolicyField(r).String() }

// Sum adds its terms.
type Sum []RHSExpr

func (s Sum) Eval(pp model.PolicyParameters) float64 {
	var total float64
	for _, e := range s {
		total += e.Eval(pp)
	}
	return total
}

func (s Sum) Accumulate(coef float64, form *PolicyForm) {
	for _, e := range s {
		e.Accumulate(coef, form)
	}
}

func (s Sum) String() string {
	parts := make([]string, len(s))
	for i, e := range s {
		parts[i] = e.String()
	}
	return "(" + strings.Join(parts, " + ") + ")"
}

// Scaled multiplies an expression by a constant.
type Scaled struct {
	Coef float64
	Expr RHSExpr
}

func (s Scaled) Eval(pp model.PolicyParameters) float64 { return s.Coef * s.Expr.Eval(pp) }

func (s Scaled) Accumulate(coef float64, form *PolicyForm) { s.Expr.Accumulate(coef*s.Coef, form) }

func (s Scaled) String() string { return fmt.Sprintf("%g*%s", s.Coef, s.Expr) }

// DependsOnPolicy reports whether e references any policy field.
func DependsOnPolicy(e RHSExpr) bool {
	switch v := e.(type) {
	case Const:
		return false
	case Ref:
		return true
	case Sum:
		for _, t := range v {
			if DependsOnPolicy(t) {
				return true
			}
		}
		return false
	case Scaled:
		return v.Coef != 0 && DependsOnPolicy(v.Expr)
	default:
		return true
	}
}

// PolicyForm is an affine function of the policy fields.
type PolicyForm struct {
	Constant float64
	Coefs    map[model.PolicyField]float64
}

// NewPolicyForm returns the zero form.
func NewPolicyForm() *PolicyForm {
	return &PolicyForm{Coefs: make(map[model.PolicyField]float64)}
}

// Add adds coef times field.
func (f *PolicyForm) Add(field model.PolicyField, coef float64) {
	if coef == 0 {
		return
	}
	f.Coefs[field] += coef
}

// Eval computes the form under pp.
func (f *PolicyForm) Eval(pp model.PolicyParameters) float64 {
	total := f.Constant
	for field, c := range f.Coefs {
		total += c * pp.Value(field)
	}
	return total
}
