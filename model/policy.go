package model

import (
	"fmt"
	"math"
	"strings"
)

// FieldKind names a quantity of a policy that subproblem right-hand sides
// depend on.
type FieldKind int

const (
	FieldCapacity FieldKind = iota
	FieldDelayed
	FieldWIPStock
	FieldFGStock
)

// PolicyField references one numeric component of a PolicyParameters.
// Week is only meaningful for FieldDelayed.
type PolicyField struct {
	Kind     FieldKind
	Facility Facility
	Week     int
}

func CapacityField(f Facility) PolicyField        { return PolicyField{Kind: FieldCapacity, Facility: f} }
func DelayedField(f Facility, week int) PolicyField { return PolicyField{Kind: FieldDelayed, Facility: f, Week: week} }
func WIPStockField() PolicyField                   { return PolicyField{Kind: FieldWIPStock} }
func FGStockField() PolicyField                    { return PolicyField{Kind: FieldFGStock} }

func (f PolicyField) String() string {
	switch f.Kind {
	case FieldCapacity:
		return f.Facility.String() + ".capacity"
	case FieldDelayed:
		return fmt.Sprintf("%s.delayed[%d]", f.Facility, f.Week)
	case FieldWIPStock:
		return "wip_stock"
	case FieldFGStock:
		return "fg_stock"
	default:
		return fmt.Sprintf("field(%d)", int(f.Kind))
	}
}

// FacilityPolicy is the backup contract chosen for one facility.
type FacilityPolicy struct {
	Option   int       `json:"option" yaml:"option"`
	Capacity float64   `json:"capacity" yaml:"capacity"`
	Delayed  []float64 `json:"delayed" yaml:"delayed"`
}

// PolicyParameters is a first-stage decision: one backup option per facility
// plus strategic WIP and finished-goods buffers.
type PolicyParameters struct {
	Facilities [NumFacilities]FacilityPolicy `json:"facilities" yaml:"facilities"`
	WIPStock   float64                       `json:"wip_stock" yaml:"wip_stock"`
	FGStock    float64                       `json:"fg_stock" yaml:"fg_stock"`
}

// NewPolicy builds the consistent capacity profile of the selected options.
func NewPolicy(p Params, options [NumFacilities]int, wip, fg float64) (PolicyParameters, error) {
	var pp PolicyParameters
	for _, f := range Facilities {
		opt, err := p.BackupOption(f, options[f])
		if err != nil {
			return PolicyParameters{}, err
		}
		pp.Facilities[f] = FacilityPolicy{
			Option:   opt.Index,
			Capacity: opt.Capacity(p, f),
			Delayed:  opt.RampProfile(p, f),
		}
	}
	if wip < 0 || fg < 0 {
		return PolicyParameters{}, fmt.Errorf("%w: negative buffer stock (wip=%v fg=%v)", ErrInvalidPolicy, wip, fg)
	}
	pp.WIPStock, pp.FGStock = wip, fg
	return pp, nil
}

// NoBackupPolicy selects option 0 everywhere and holds no buffers.
func NoBackupPolicy(p Params) PolicyParameters {
	pp, _ := NewPolicy(p, [NumFacilities]int{}, 0, 0)
	return pp
}

// Validate checks that every facility's capacity and ramp profile match its
// selected option.
func (pp PolicyParameters) Validate(p Params) error {
	const tol = 1e-6
	for _, f := range Facilities {
		fp := pp.Facilities[f]
		opt, err := p.BackupOption(f, fp.Option)
		if err != nil {
			return err
		}
		if math.Abs(fp.Capacity-opt.Capacity(p, f)) > tol {
			return fmt.Errorf("%w: %s capacity %v does not match option %d", ErrInvalidPolicy, f, fp.Capacity, fp.Option)
		}
		if len(fp.Delayed) != p.MaxDelay {
			return fmt.Errorf("%w: %s ramp profile has %d weeks, want %d", ErrInvalidPolicy, f, len(fp.Delayed), p.MaxDelay)
		}
		for k, v := range opt.RampProfile(p, f) {
			if math.Abs(fp.Delayed[k]-v) > tol {
				return fmt.Errorf("%w: %s ramp week %d is %v, want %v", ErrInvalidPolicy, f, k, fp.Delayed[k], v)
			}
		}
	}
	if pp.WIPStock < -tol || pp.FGStock < -tol {
		return fmt.Errorf("%w: negative buffer stock", ErrInvalidPolicy)
	}
	return nil
}

// Value evaluates field on pp. Out-of-range ramp weeks evaluate to zero.
func (pp PolicyParameters) Value(field PolicyField) float64 {
	switch field.Kind {
	case FieldCapacity:
		return pp.Facilities[field.Facility].Capacity
	case FieldDelayed:
		d := pp.Facilities[field.Facility].Delayed
		if field.Week < 0 || field.Week >= len(d) {
			return 0
		}
		return d[field.Week]
	case FieldWIPStock:
		return pp.WIPStock
	case FieldFGStock:
		return pp.FGStock
	}
	return 0
}

// ActivationCost sums the contract costs of the selected options.
func (pp PolicyParameters) ActivationCost(p Params) float64 {
	var total float64
	for _, f := range Facilities {
		if opt, err := p.BackupOption(f, pp.Facilities[f].Option); err == nil {
			total += opt.ActivationCost
		}
	}
	return total
}

// FixedCost is the first-stage cost of pp: contracts plus buffer holding.
func (pp PolicyParameters) FixedCost(p Params) float64 {
	weeks := float64(p.WeeksPerYear)
	return pp.ActivationCost(p) + pp.WIPStock*p.WIPCost/weeks + pp.FGStock*p.FGCost/weeks
}

// Options returns the selected option index of each facility.
func (pp PolicyParameters) Options() [NumFacilities]int {
	var out [NumFacilities]int
	for _, f := range Facilities {
		out[f] = pp.Facilities[f].Option
	}
	return out
}

// Key is a comparable identity for pp, stable up to 1e-4 on buffer levels.
func (pp PolicyParameters) Key() string {
	return fmt.Sprintf("s%d-p%d-d%d-w%.4f-f%.4f",
		pp.Facilities[Supplier].Option, pp.Facilities[Plant].Option, pp.Facilities[DC].Option,
		pp.WIPStock, pp.FGStock)
}

// Clone returns a deep copy of pp.
func (pp PolicyParameters) Clone() PolicyParameters {
	out := pp
	for _, f := range Facilities {
		out.Facilities[f].Delayed = append([]float64(nil), pp.Facilities[f].Delayed...)
	}
	return out
}

func (pp PolicyParameters) String() string {
	var b strings.Builder
	for _, f := range Facilities {
		fp := pp.Facilities[f]
		fmt.Fprintf(&b, "%s=option %d (cap %.1f) ", f, fp.Option, fp.Capacity)
	}
	fmt.Fprintf(&b, "wip=%.2f fg=%.2f", pp.WIPStock, pp.FGStock)
	return b.String()
}
