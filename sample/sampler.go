// Package sample draws demand and disruption scenarios for the designer.
//
// Every sampler returns nbDemand*nbDisruption scenarios over the horizon
// of its Params. Weekly demand is Normal(MeanDemand, DemandStdDev),
// truncated to an integer and floored at zero; each facility gets one
// outage whose start is uniform over the horizon and whose duration is
// uniform over what remains of it. Samplers are seeded and deterministic.
package sample

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/signalsfoundry/resilience-designer/model"
)

// ErrBadCount is returned when a sampler is asked for no scenarios.
var ErrBadCount = errors.New("sample: scenario counts must be positive")

// Sampler produces a batch of scenarios.
type Sampler interface {
	Generate(nbDemand, nbDisruption int) ([]model.Scenario, error)
}

// Kind names accepted by New.
const (
	KindSingle         = "single"
	KindMonteCarlo     = "montecarlo"
	KindLatinHypercube = "lhs"
	KindImprovedLHS    = "ihs"
)

// New returns the sampler called kind.
func New(kind string, params model.Params, seed uint64) (Sampler, error) {
	switch kind {
	case KindSingle:
		return Single{Params: params}, nil
	case KindMonteCarlo, "":
		return NewMonteCarlo(params, seed), nil
	case KindLatinHypercube:
		return NewLatinHypercube(params, seed), nil
	case KindImprovedLHS:
		return NewImprovedHypercube(params, seed), nil
	}
	return nil, fmt.Errorf("sample: unknown sampler %q", kind)
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func checkCounts(nbDemand, nbDisruption int) error {
	if nbDemand <= 0 || nbDisruption <= 0 {
		return fmt.Errorf("%w: got %d x %d", ErrBadCount, nbDemand, nbDisruption)
	}
	return nil
}

// marginals maps unit-interval coordinates onto demand and outages.
type marginals struct {
	params model.Params
	demand distuv.Normal
}

func newMarginals(p model.Params) marginals {
	return marginals{params: p, demand: distuv.Normal{Mu: p.MeanDemand, Sigma: p.DemandStdDev}}
}

// unit keeps u inside the open interval where quantiles are finite.
func unit(u float64) float64 {
	const eps = 1e-12
	return math.Min(math.Max(u, eps), 1-eps)
}

func (m marginals) weekDemand(u float64) int {
	if m.demand.Sigma == 0 {
		return int(math.Max(0, m.demand.Mu))
	}
	return int(math.Max(0, m.demand.Quantile(unit(u))))
}

// uniformInt maps u onto {lo, ..., hi}.
func uniformInt(u float64, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	k := lo + int(math.Floor(u*float64(hi-lo+1)))
	return min(k, hi)
}

// outage maps two coordinates onto a window inside the horizon: the start
// is uniform over [0, W) and the duration uniform over [0, W-start), so an
// outage never runs to the last week.
func (m marginals) outage(uStart, uLength float64) model.Outage {
	w := m.params.WeeksPerYear
	start := uniformInt(uStart, 0, w-1)
	return model.Outage{Start: start, Duration: uniformInt(uLength, 0, w-start-1)}
}

// dims is the number of coordinates one scenario consumes.
func (m marginals) dims() int { return m.params.WeeksPerYear + 2*model.NumFacilities }

// scenario builds a scenario from a point of the unit hypercube.
func (m marginals) scenario(point []float64) (model.Scenario, error) {
	w := m.params.WeeksPerYear
	demand := make([]int, w)
	for k := range demand {
		demand[k] = m.weekDemand(point[k])
	}
	var outages [model.NumFacilities]model.Outage
	for i, f := range model.Facilities {
		outages[f] = m.outage(point[w+2*i], point[w+2*i+1])
	}
	return model.NewScenario(demand, outages)
}
