package model

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParams     = errors.New("invalid parameters")
	ErrMalformedScenario = errors.New("malformed scenario")
	ErrInvalidPolicy     = errors.New("invalid policy")
)

// Params holds the economic constants and planning horizon of the supply
// chain. The zero value is not usable; start from DefaultParams.
type Params struct {
	RawMaterialCost  float64 `yaml:"raw_material_cost" json:"raw_material_cost" validate:"gte=0"`
	WIPCost          float64 `yaml:"wip_cost" json:"wip_cost" validate:"gte=0"`
	FGCost           float64 `yaml:"fg_cost" json:"fg_cost" validate:"gte=0"`
	FGPrice          float64 `yaml:"fg_price" json:"fg_price" validate:"gtefield=FGCost"`
	IRR              float64 `yaml:"irr" json:"irr" validate:"gte=0"`
	DesiredIFR       float64 `yaml:"desired_ifr" json:"desired_ifr" validate:"gte=0,lte=1"`
	SupplierCapacity float64 `yaml:"supplier_capacity" json:"supplier_capacity" validate:"gte=0"`
	PlantCapacity    float64 `yaml:"plant_capacity" json:"plant_capacity" validate:"gte=0"`
	BaseDCStockLevel float64 `yaml:"base_dc_stock_level" json:"base_dc_stock_level" validate:"gte=0"`
	MeanDemand       float64 `yaml:"mean_demand" json:"mean_demand" validate:"gte=0"`
	DemandStdDev     float64 `yaml:"demand_std_dev" json:"demand_std_dev" validate:"gte=0"`
	WeeksPerYear     int     `yaml:"weeks_per_year" json:"weeks_per_year" validate:"gt=0"`
	MaxDelay         int     `yaml:"max_delay" json:"max_delay" validate:"gt=0,ltefield=WeeksPerYear"`

	// Risk measure constants.
	RiskAversionFactor   float64 `yaml:"risk_aversion_factor" json:"risk_aversion_factor" validate:"gte=0"`
	VariabilityPenalty   float64 `yaml:"variability_penalty" json:"variability_penalty" validate:"gte=0"`
	FinancialRiskPenalty float64 `yaml:"financial_risk_penalty" json:"financial_risk_penalty" validate:"gte=0"`
	DownsideRiskPenalty  float64 `yaml:"downside_risk_penalty" json:"downside_risk_penalty" validate:"gte=0"`
	CostTarget           float64 `yaml:"cost_target" json:"cost_target" validate:"gte=0"`
	RiskBigM             float64 `yaml:"risk_big_m" json:"risk_big_m" validate:"gt=0"`
}

// DefaultParams returns the constants of the reference supply chain.
func DefaultParams() Params {
	return Params{
		RawMaterialCost:      50,
		WIPCost:              80,
		FGCost:               100,
		FGPrice:              225,
		IRR:                  0.25,
		DesiredIFR:           0.99,
		SupplierCapacity:     150,
		PlantCapacity:        150,
		BaseDCStockLevel:     124,
		MeanDemand:           100,
		DemandStdDev:         10,
		WeeksPerYear:         52,
		MaxDelay:             6,
		RiskAversionFactor:   0.5,
		VariabilityPenalty:   0.5,
		FinancialRiskPenalty: 1000,
		DownsideRiskPenalty:  1,
		CostTarget:           5000,
		RiskBigM:             1e6,
	}
}

// Validate reports the first structural problem with p.
func (p Params) Validate() error {
	switch {
	case p.WeeksPerYear <= 0:
		return fmt.Errorf("%w: weeks per year must be positive, got %d", ErrInvalidParams, p.WeeksPerYear)
	case p.MaxDelay <= 0 || p.MaxDelay > p.WeeksPerYear:
		return fmt.Errorf("%w: max delay %d outside (0, %d]", ErrInvalidParams, p.MaxDelay, p.WeeksPerYear)
	case p.DesiredIFR < 0 || p.DesiredIFR > 1:
		return fmt.Errorf("%w: desired fill rate %v outside [0, 1]", ErrInvalidParams, p.DesiredIFR)
	case p.SupplierCapacity < 0 || p.PlantCapacity < 0 || p.BaseDCStockLevel < 0 || p.MeanDemand < 0:
		return fmt.Errorf("%w: capacities must be non-negative", ErrInvalidParams)
	case p.IRR < 0 || p.WIPCost < 0 || p.FGCost < 0:
		return fmt.Errorf("%w: holding costs must be non-negative", ErrInvalidParams)
	case p.FGPrice < p.FGCost:
		return fmt.Errorf("%w: finished-goods price %v below cost %v", ErrInvalidParams, p.FGPrice, p.FGCost)
	case p.RiskBigM <= 0:
		return fmt.Errorf("%w: risk big-M must be positive", ErrInvalidParams)
	}
	return nil
}

// NominalCapacity is the weekly volume a facility's backup is sized against.
func (p Params) NominalCapacity(f Facility) float64 {
	switch f {
	case Supplier:
		return p.SupplierCapacity
	case Plant:
		return p.PlantCapacity
	default:
		return p.MeanDemand
	}
}

// LostSalesUnitCost is the margin lost on each unit of unmet demand.
func (p Params) LostSalesUnitCost() float64 { return p.FGPrice - p.FGCost }
