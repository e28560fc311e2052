// Package saa wraps the decomposition engine in a Sampled Average
// Approximation loop: many small stochastic programs give a statistical
// lower bound on the optimal expected cost, and out-of-sample evaluation of
// their policies gives an upper bound and the selected policy.
package saa

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	ErrEmptySample   = errors.New("saa: empty cost sample")
	ErrBadConfidence = errors.New("saa: confidence must lie in (0, 1)")
)

// smallSample is the size below which the critical value comes from a
// Student-t distribution.
const smallSample = 30

// CostBound is a two-sided confidence interval on a mean cost.
type CostBound struct {
	Confidence float64
	N          int
	Mean       float64
	Variance   float64
	Low, High  float64
}

// NewCostBound estimates the mean of samples with a Bessel-corrected
// variance. A single sample yields a zero-width interval.
func NewCostBound(confidence float64, samples []float64) (CostBound, error) {
	if len(samples) == 0 {
		return CostBound{}, ErrEmptySample
	}
	if !(confidence > 0 && confidence < 1) {
		return CostBound{}, fmt.Errorf("%w: got %v", ErrBadConfidence, confidence)
	}
	b := CostBound{Confidence: confidence, N: len(samples)}
	if b.N == 1 {
		b.Mean = samples[0]
		b.Low, b.High = b.Mean, b.Mean
		return b, nil
	}
	b.Mean, b.Variance = stat.MeanVariance(samples, nil)
	if b.Variance < 0 {
		b.Variance = 0
	}
	margin := criticalValue(confidence, b.N) * math.Sqrt(b.Variance/float64(b.N))
	b.Low, b.High = b.Mean-margin, b.Mean+margin
	return b, nil
}

func criticalValue(confidence float64, n int) float64 {
	p := 1 - (1-confidence)/2
	if n > 1 && n < smallSample {
		return distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 1)}.Quantile(p)
	}
	return distuv.UnitNormal.Quantile(p)
}

// Width is High - Low.
func (b CostBound) Width() float64 { return b.High - b.Low }

func (b CostBound) String() string {
	return fmt.Sprintf("%.2f [%.2f, %.2f] (n=%d, %.0f%%)", b.Mean, b.Low, b.High, b.N, 100*b.Confidence)
}
