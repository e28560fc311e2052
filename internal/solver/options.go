package solver

import (
	"github.com/signalsfoundry/resilience-designer/timectrl"
)

const (
	defaultFeasTol       = 1e-7
	defaultOptTol        = 1e-9
	defaultPivotTol      = 1e-9
	defaultIntTol        = 1e-6
	defaultRefactorEvery = 100
	defaultNodeLimit     = 100000
	defaultCutRounds     = 1000
)

type config struct {
	feasTol       float64
	optTol        float64
	pivotTol      float64
	intTol        float64
	refactorEvery int
	iterLimit     int
	nodeLimit     int
	cutRounds     int
	budget        *timectrl.Budget
}

func defaultConfig() config {
	return config{
		feasTol:       defaultFeasTol,
		optTol:        defaultOptTol,
		pivotTol:      defaultPivotTol,
		intTol:        defaultIntTol,
		refactorEvery: defaultRefactorEvery,
		nodeLimit:     defaultNodeLimit,
		cutRounds:     defaultCutRounds,
	}
}

// Option configures a Model.
type Option func(*config)

// WithFeasibilityTolerance sets the primal feasibility tolerance.
func WithFeasibilityTolerance(tol float64) Option {
	return func(c *config) {
		if tol > 0 {
			c.feasTol = tol
		}
	}
}

// WithIterationLimit bounds the simplex pivots of a single linear solve. A
// non-positive limit selects a size-based default.
func WithIterationLimit(n int) Option {
	return func(c *config) { c.iterLimit = n }
}

// WithNodeLimit bounds the number of branch-and-bound nodes explored.
func WithNodeLimit(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.nodeLimit = n
		}
	}
}

// WithCutRoundLimit bounds how many times a single node may be re-solved
// after lazy cuts are added.
func WithCutRoundLimit(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.cutRounds = n
		}
	}
}

// WithRefactorInterval sets how many pivots are applied to the basis inverse
// before it is recomputed from scratch.
func WithRefactorInterval(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.refactorEvery = n
		}
	}
}

// WithBudget stops branch and bound once b expires. The best incumbent is
// then reported with StatusFeasible.
func WithBudget(b *timectrl.Budget) Option {
	return func(c *config) { c.budget = b }
}
