package model

import "fmt"

// Outage is a single contiguous disruption window, in weeks.
type Outage struct {
	Start    int `yaml:"start" json:"start"`
	Duration int `yaml:"duration" json:"duration"`
}

// End returns the first week after the outage.
func (o Outage) End() int { return o.Start + o.Duration }

// Covers reports whether week falls inside the outage.
func (o Outage) Covers(week int) bool {
	return o.Duration > 0 && week >= o.Start && week < o.End()
}

// Scenario is one realisation of weekly demand and facility outages. It is
// immutable once constructed.
type Scenario struct {
	demand  []int
	outages [NumFacilities]Outage
}

// NewScenario validates and copies its inputs. The horizon is len(demand).
func NewScenario(demand []int, outages [NumFacilities]Outage) (Scenario, error) {
	horizon := len(demand)
	if horizon == 0 {
		return Scenario{}, fmt.Errorf("%w: empty demand series", ErrMalformedScenario)
	}
	for w, d := range demand {
		if d < 0 {
			return Scenario{}, fmt.Errorf("%w: negative demand %d in week %d", ErrMalformedScenario, d, w)
		}
	}
	for _, f := range Facilities {
		o := outages[f]
		switch {
		case o.Duration < 0:
			return Scenario{}, fmt.Errorf("%w: %s outage has negative duration %d", ErrMalformedScenario, f, o.Duration)
		case o.Start < 0 || o.Start > horizon:
			return Scenario{}, fmt.Errorf("%w: %s outage starts at week %d outside [0, %d]", ErrMalformedScenario, f, o.Start, horizon)
		case o.End() > horizon:
			return Scenario{}, fmt.Errorf("%w: %s outage ends at week %d past horizon %d", ErrMalformedScenario, f, o.End(), horizon)
		}
	}
	return Scenario{demand: append([]int(nil), demand...), outages: outages}, nil
}

// MustScenario is NewScenario for inputs known to be valid.
func MustScenario(demand []int, outages [NumFacilities]Outage) Scenario {
	s, err := NewScenario(demand, outages)
	if err != nil {
		panic(err)
	}
	return s
}

// Horizon returns the number of weeks covered.
func (s Scenario) Horizon() int { return len(s.demand) }

// Demand returns a copy of the weekly demand series.
func (s Scenario) Demand() []int { return append([]int(nil), s.demand...) }

// DemandAt returns the demand of week w.
func (s Scenario) DemandAt(w int) int { return s.demand[w] }

// TotalDemand sums demand over the horizon.
func (s Scenario) TotalDemand() int {
	total := 0
	for _, d := range s.demand {
		total += d
	}
	return total
}

// Outage returns the disruption window of f.
func (s Scenario) Outage(f Facility) Outage { return s.outages[f] }

// Outages returns all disruption windows in facility order.
func (s Scenario) Outages() [NumFacilities]Outage { return s.outages }

// IsDisrupted reports whether f is down in week w.
func (s Scenario) IsDisrupted(f Facility, w int) bool { return s.outages[f].Covers(w) }

// WithDemand returns a scenario that keeps the outages of s but uses demand.
func (s Scenario) WithDemand(demand []int) (Scenario, error) {
	return NewScenario(demand, s.outages)
}

func (s Scenario) String() string {
	return fmt.Sprintf("scenario(weeks=%d demand=%d supplier=%v plant=%v dc=%v)",
		len(s.demand), s.TotalDemand(), s.outages[Supplier], s.outages[Plant], s.outages[DC])
}
