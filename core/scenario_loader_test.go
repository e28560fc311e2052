// core/scenario_loader_test.go
package core

import (
	"errors"
	"strings"
	"testing"

	"github.com/signalsfoundry/resilience-designer/model"
)

func TestLoadScenarios_JSON(t *testing.T) {
	p := testParams()
	jsonData := `
{
  "scenarios": [
    { "flat_demand": 100 },
    {
      "flat_demand": 90,
      "outages": {
        "supplier": { "start": 3, "duration": 4 },
        "dc":       { "start": 10, "duration": 5 }
      }
    }
  ]
}`
	got, err := LoadScenarios(strings.NewReader(jsonData), "json", p)
	if err != nil {
		t.Fatalf("LoadScenarios: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Horizon() != testWeeks || got[0].TotalDemand() != 100*testWeeks {
		t.Fatalf("scenario 0 = %v", got[0])
	}
	if o := got[1].Outage(model.Supplier); o.Start != 3 || o.Duration != 4 {
		t.Fatalf("supplier outage = %+v", o)
	}
	if !got[1].IsDisrupted(model.DC, 14) || got[1].IsDisrupted(model.DC, 15) {
		t.Fatalf("dc outage window wrong: %+v", got[1].Outage(model.DC))
	}
	if got[1].Outage(model.Plant).Duration != 0 {
		t.Fatalf("plant should be undisrupted")
	}
}

func TestLoadScenarios_YAML(t *testing.T) {
	p := testParams()
	p.WeeksPerYear = 4
	p.MaxDelay = 2
	yamlData := `
scenarios:
  - demand: [10, 20, 30, 40]
    outages:
      plant: {start: 1, duration: 2}
`
	got, err := LoadScenarios(strings.NewReader(yamlData), "yaml", p)
	if err != nil {
		t.Fatalf("LoadScenarios: %v", err)
	}
	if d := got[0].Demand(); len(d) != 4 || d[3] != 40 {
		t.Fatalf("demand = %v", d)
	}
	if !got[0].IsDisrupted(model.Plant, 2) {
		t.Fatalf("plant not disrupted in week 2")
	}
}

func TestLoadScenarios_Errors(t *testing.T) {
	p := testParams()
	cases := []struct {
		name   string
		format string
		data   string
		want   error
	}{
		{"unknown facility", "json", `{"scenarios":[{"flat_demand":1,"outages":{"warehouse":{"start":0,"duration":1}}}]}`, model.ErrMalformedScenario},
		{"horizon mismatch", "json", `{"scenarios":[{"demand":[1,2,3]}]}`, model.ErrMalformedScenario},
		{"outage past horizon", "json", `{"scenarios":[{"flat_demand":1,"outages":{"dc":{"start":18,"duration":5}}}]}`, model.ErrMalformedScenario},
		{"empty list", "json", `{"scenarios":[]}`, ErrNoScenarios},
		{"unknown field", "yaml", "scenarios:\n  - flat_demand: 1\n    colour: red\n", nil},
		{"bad format", "toml", `scenarios = []`, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadScenarios(strings.NewReader(tc.data), tc.format, p)
			if err == nil {
				t.Fatalf("expected error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if !strings.HasPrefix(err.Error(), "LoadScenarios:") {
				t.Fatalf("err = %q lacks prefix", err)
			}
		})
	}
}

func TestLoadPolicy(t *testing.T) {
	p := testParams()
	pp, err := LoadPolicy(strings.NewReader(`{"supplier": 2, "plant": 0, "dc": 5, "wip_stock": 12.5, "fg_stock": 30}`), "json", p)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if got := pp.Options(); got != [model.NumFacilities]int{model.Supplier: 2, model.DC: 5} {
		t.Fatalf("options = %v", got)
	}
	if pp.WIPStock != 12.5 || pp.FGStock != 30 {
		t.Fatalf("buffers = %v, %v", pp.WIPStock, pp.FGStock)
	}
	if err := pp.Validate(p); err != nil {
		t.Fatalf("loaded policy invalid: %v", err)
	}

	_, err = LoadPolicy(strings.NewReader("supplier: 9\n"), "yml", p)
	if !errors.Is(err, model.ErrInvalidPolicy) {
		t.Fatalf("err = %v, want ErrInvalidPolicy", err)
	}
}
