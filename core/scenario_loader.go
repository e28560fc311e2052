// core/scenario_loader.go
package core

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/resilience-designer/model"
)

// internal file shapes – keep them unexported so we’re free to evolve them.
type scenarioFile struct {
	Scenarios []scenarioEntry `json:"scenarios" yaml:"scenarios"`
}

type scenarioEntry struct {
	Demand []int `json:"demand" yaml:"demand"`
	// Flat fills the whole horizon with one weekly demand when Demand is
	// empty.
	Flat    *int                   `json:"flat_demand,omitempty" yaml:"flat_demand,omitempty"`
	Outages map[string]outageEntry `json:"outages" yaml:"outages"`
}

type outageEntry struct {
	Start    int `json:"start" yaml:"start"`
	Duration int `json:"duration" yaml:"duration"`
}

type policyFile struct {
	Supplier int     `json:"supplier" yaml:"supplier"`
	Plant    int     `json:"plant" yaml:"plant"`
	DC       int     `json:"dc" yaml:"dc"`
	WIP      float64 `json:"wip_stock" yaml:"wip_stock"`
	FG       float64 `json:"fg_stock" yaml:"fg_stock"`
}

// decodeFile reads r as JSON or YAML depending on format ("json", "yaml" or
// "yml"). An empty format means JSON.
func decodeFile(r io.Reader, format string, into any) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		return dec.Decode(into)
	case "yaml", "yml":
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		return dec.Decode(into)
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

// LoadScenarios reads a scenario list from r and validates every entry
// against params. It fails on decode and structural errors only.
func LoadScenarios(r io.Reader, format string, params model.Params) ([]model.Scenario, error) {
	var payload scenarioFile
	if err := decodeFile(r, format, &payload); err != nil {
		return nil, fmt.Errorf("LoadScenarios: decode failed: %w", err)
	}
	if len(payload.Scenarios) == 0 {
		return nil, fmt.Errorf("LoadScenarios: %w", ErrNoScenarios)
	}

	out := make([]model.Scenario, 0, len(payload.Scenarios))
	for i, entry := range payload.Scenarios {
		demand := entry.Demand
		if len(demand) == 0 && entry.Flat != nil {
			demand = make([]int, params.WeeksPerYear)
			for w := range demand {
				demand[w] = *entry.Flat
			}
		}

		var outages [model.NumFacilities]model.Outage
		for name, o := range entry.Outages {
			f, err := model.ParseFacility(name)
			if err != nil {
				return nil, fmt.Errorf("LoadScenarios: scenario %d: %w: %w", i, model.ErrMalformedScenario, err)
			}
			outages[f] = model.Outage{Start: o.Start, Duration: o.Duration}
		}

		sc, err := model.NewScenario(demand, outages)
		if err != nil {
			return nil, fmt.Errorf("LoadScenarios: scenario %d: %w", i, err)
		}
		if err := checkScenario(params, sc); err != nil {
			return nil, fmt.Errorf("LoadScenarios: scenario %d: %w", i, err)
		}
		out = append(out, sc)
	}
	return out, nil
}

// LoadPolicy reads a policy given by its option indices and buffer levels.
func LoadPolicy(r io.Reader, format string, params model.Params) (model.PolicyParameters, error) {
	var payload policyFile
	if err := decodeFile(r, format, &payload); err != nil {
		return model.PolicyParameters{}, fmt.Errorf("LoadPolicy: decode failed: %w", err)
	}
	options := [model.NumFacilities]int{
		model.Supplier: payload.Supplier,
		model.Plant:    payload.Plant,
		model.DC:       payload.DC,
	}
	pp, err := model.NewPolicy(params, options, payload.WIP, payload.FG)
	if err != nil {
		return model.PolicyParameters{}, fmt.Errorf("LoadPolicy: %w", err)
	}
	return pp, nil
}
