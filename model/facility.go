package model

import (
	"fmt"
	"strings"
)

// Facility is one of the three disruptable echelons of the supply chain.
type Facility int

const (
	Supplier Facility = iota
	Plant
	DC
)

// NumFacilities is the number of disruptable echelons.
const NumFacilities = 3

// NumBackupOptions is the size of every facility's backup menu.
const NumBackupOptions = 7

// Facilities lists the echelons in model order.
var Facilities = [NumFacilities]Facility{Supplier, Plant, DC}

func (f Facility) String() string {
	switch f {
	case Supplier:
		return "supplier"
	case Plant:
		return "plant"
	case DC:
		return "dc"
	default:
		return fmt.Sprintf("facility(%d)", int(f))
	}
}

// ParseFacility maps a name to a Facility.
func ParseFacility(s string) (Facility, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "supplier":
		return Supplier, nil
	case "plant":
		return Plant, nil
	case "dc", "distribution_center", "distribution-center":
		return DC, nil
	}
	return 0, fmt.Errorf("unknown facility %q", s)
}

// BackupOption is a purchasable backup contract: a fraction of nominal
// capacity that becomes available ResponseWeeks after an outage begins.
type BackupOption struct {
	Index            int
	CapacityFraction float64
	ResponseWeeks    int
	ActivationCost   float64
}

type optionRow struct {
	fraction float64
	response int
	cost     float64
}

// Option 0 of every menu is "no backup"; its response time is the horizon.
var backupMenus = [NumFacilities][NumBackupOptions]optionRow{
	Supplier: {{0, 0, 0}, {.5, 4, 400}, {.5, 2, 1000}, {.5, 1, 2400}, {1, 6, 1000}, {1, 2, 3500}, {1, 1, 10000}},
	Plant:    {{0, 0, 0}, {.5, 4, 800}, {.5, 2, 1800}, {.5, 1, 4000}, {1, 6, 1000}, {1, 2, 5000}, {1, 1, 12000}},
	DC:       {{0, 0, 0}, {.5, 4, 1000}, {.5, 2, 2500}, {.5, 1, 6000}, {1, 6, 1500}, {1, 2, 6000}, {1, 1, 15000}},
}

// BackupMenu returns the options available to f.
func (p Params) BackupMenu(f Facility) []BackupOption {
	out := make([]BackupOption, NumBackupOptions)
	for i, row := range backupMenus[f] {
		response := row.response
		if i == 0 {
			response = p.WeeksPerYear
		}
		out[i] = BackupOption{
			Index:            i,
			CapacityFraction: row.fraction,
			ResponseWeeks:    response,
			ActivationCost:   row.cost,
		}
	}
	return out
}

// BackupOption returns option idx of f's menu.
func (p Params) BackupOption(f Facility, idx int) (BackupOption, error) {
	if idx < 0 || idx >= NumBackupOptions {
		return BackupOption{}, fmt.Errorf("%w: %s option %d outside [0, %d)", ErrInvalidPolicy, f, idx, NumBackupOptions)
	}
	return p.BackupMenu(f)[idx], nil
}

// Capacity is the weekly backup volume the option provides once ramped up.
func (o BackupOption) Capacity(p Params, f Facility) float64 {
	return o.CapacityFraction * p.NominalCapacity(f)
}

// RampProfile returns, for each of the first maxDelay weeks of an outage,
// the part of the option's capacity that is not yet available.
func (o BackupOption) RampProfile(p Params, f Facility) []float64 {
	capacity := o.Capacity(p, f)
	out := make([]float64, p.MaxDelay)
	for k := range out {
		if k < o.ResponseWeeks {
			out[k] = capacity
		}
	}
	return out
}
