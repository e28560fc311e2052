package sample

import (
	"math/rand/v2"

	"github.com/signalsfoundry/resilience-designer/model"
)

// referenceDemand is the weekly demand of the game's reference year.
var referenceDemand = []int{
	114, 87, 97, 91, 100, 108, 88, 96, 115, 98, 105, 102, 104, 89, 106, 110, 101, 110, 90, 97, 95, 87, 97, 94, 95, 103,
	110, 115, 90, 86, 92, 113, 107, 98, 92, 92, 86, 105, 105, 98, 108, 100, 92, 93, 113, 92, 120, 98, 88, 111, 91, 108,
}

// Single always returns the reference scenario, whatever the counts. A
// horizon other than 52 weeks repeats or truncates the reference demand.
type Single struct {
	Params model.Params
}

func (s Single) Generate(_, _ int) ([]model.Scenario, error) {
	w := s.Params.WeeksPerYear
	demand := make([]int, w)
	for k := range demand {
		demand[k] = referenceDemand[k%len(referenceDemand)]
	}
	outages := [model.NumFacilities]model.Outage{
		model.DC:       clip(model.Outage{Start: 19, Duration: 12}, w),
		model.Plant:    clip(model.Outage{Start: 4, Duration: 14}, w),
		model.Supplier: clip(model.Outage{Start: 3, Duration: 7}, w),
	}
	sc, err := model.NewScenario(demand, outages)
	if err != nil {
		return nil, err
	}
	return []model.Scenario{sc}, nil
}

func clip(o model.Outage, horizon int) model.Outage {
	if o.Start > horizon {
		return model.Outage{Start: horizon}
	}
	o.Duration = min(o.Duration, horizon-o.Start)
	return o
}

// MonteCarlo crosses nbDemand independent demand paths with nbDisruption
// independent outage patterns.
type MonteCarlo struct {
	m   marginals
	rng *rand.Rand
}

// NewMonteCarlo returns a Monte Carlo sampler. It is not safe for
// concurrent use.
func NewMonteCarlo(params model.Params, seed uint64) *MonteCarlo {
	return &MonteCarlo{m: newMarginals(params), rng: newRand(seed)}
}

func (s *MonteCarlo) Generate(nbDemand, nbDisruption int) ([]model.Scenario, error) {
	if err := checkCounts(nbDemand, nbDisruption); err != nil {
		return nil, err
	}
	w := s.m.params.WeeksPerYear

	demands := make([][]int, nbDemand)
	for i := range demands {
		demands[i] = make([]int, w)
		for k := range demands[i] {
			demands[i][k] = s.m.weekDemand(s.rng.Float64())
		}
	}
	// Starts fall in [0, W) and durations in [0, W-start).
	patterns := make([][model.NumFacilities]model.Outage, nbDisruption)
	for j := range patterns {
		for _, f := range model.Facilities {
			start := s.rng.IntN(w)
			patterns[j][f] = model.Outage{Start: start, Duration: s.rng.IntN(w - start)}
		}
	}

	out := make([]model.Scenario, 0, nbDemand*nbDisruption)
	for _, d := range demands {
		for _, o := range patterns {
			sc, err := model.NewScenario(d, o)
			if err != nil {
				return nil, err
			}
			out = append(out, sc)
		}
	}
	return out, nil
}
