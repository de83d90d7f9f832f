package scenario

import (
	"fmt"
	"sort"

	"github.com/san-kum/stockflow/internal/dynamo"
	"github.com/san-kum/stockflow/internal/forms"
	"github.com/san-kum/stockflow/internal/network"
	"github.com/san-kum/stockflow/internal/rampup"
	"github.com/san-kum/stockflow/internal/solver"
)

type Registry struct {
	scenarios map[string]func() *Scenario
}

func NewRegistry() *Registry {
	r := &Registry{scenarios: make(map[string]func() *Scenario)}
	r.scenarios["ed-continuity"] = EDContinuity
	r.scenarios["housing-health"] = HousingHealth
	return r
}

// Register adds or replaces a scenario factory.
func (r *Registry) Register(name string, fn func() *Scenario) {
	r.scenarios[name] = fn
}

// Get returns a fresh copy of the named scenario.
func (r *Registry) Get(name string) (*Scenario, error) {
	fn, ok := r.scenarios[name]
	if !ok {
		return nil, fmt.Errorf("unknown scenario: %s", name)
	}
	return fn(), nil
}

func (r *Registry) List() []string {
	names := make([]string, 0, len(r.scenarios))
	for name := range r.scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func stock(id, unit string, class network.Class, max float64) network.Stock {
	return network.Stock{ID: id, Unit: unit, Class: class, Bounds: dynamo.Bounds{Min: 0, Max: max}}
}

func linear(id, src, dst string, alpha float64) network.Mechanism {
	return network.Mechanism{ID: id, Source: src, Target: dst, Form: forms.Threshold, Effect: network.Effect{Point: alpha}}
}

// EDContinuity is the two-stock calibration case: observed ED visits pin
// healthcare continuity through a dampened mechanism.
func EDContinuity() *Scenario {
	return &Scenario{
		Name:        "ed-continuity",
		Description: "ED visits observed at 122400/yr drive healthcare continuity through a dampened mechanism",
		Bank: network.Bank{
			Version: "2024.1",
			Stocks: []network.Stock{
				stock("ED_visits", "visits/yr", network.Fixed, 1e6),
				stock("Healthcare_Continuity", "index", network.Free, 500),
			},
			Mechanisms: []network.Mechanism{{
				ID:        "ed_continuity",
				Source:    "ED_visits",
				Target:    "Healthcare_Continuity",
				Form:      forms.MultiplicativeDampening,
				Params:    forms.Params{Max: 500},
				Effect:    network.Effect{Point: 0.03, Lower: 0.02, Upper: 0.04},
				Latency:   network.Latency{Type: "behavioral"},
				Direction: network.Forward,
			}},
		},
		Known: network.Known{"ED_visits": 122400},
		Seeds: []solver.Seed{{Name: "benchmark", Values: map[string]float64{"Healthcare_Continuity": 100}}},
		Intervention: rampup.Intervention{
			Name:    "diversion",
			Targets: []rampup.Target{{Stock: "ED_visits", Value: 100000}},
			Ramp:    rampup.Ramp{Kind: rampup.Linear, FullYears: 3},
		},
	}
}

// HousingHealth is a nine-stock demo linking housing affordability to
// health system use. It carries a reinforcing stability/stress loop, a
// balancing ED/primary-care loop, two crisis endpoints and context
// moderators.
func HousingHealth() *Scenario {
	homeless := stock("Homelessness", "people", network.Free, 10000)
	homeless.CrisisEndpoint = true
	ed := stock("ED_visits", "visits/yr", network.Free, 100000)
	ed.CrisisEndpoint = true

	return &Scenario{
		Name:           "housing-health",
		Description:    "affordable housing, evictions and rent feeding stress, homelessness and ED use",
		AllowSelfLoops: true,
		Context:        []string{"urban"},
		Bank: network.Bank{
			Version: "2024.1",
			Stocks: []network.Stock{
				stock("Affordable_Units", "units", network.Fixed, 50000),
				stock("Median_Rent", "USD/month", network.Fixed, 5000),
				stock("Eviction_Filings", "filings/yr", network.Fixed, 20000),
				stock("Community_Clinics", "clinics", network.Fixed, 200),
				stock("Housing_Stability", "index", network.Free, 100),
				homeless,
				stock("Chronic_Stress", "index", network.Free, 100),
				ed,
				stock("Primary_Care_Use", "index", network.Free, 100),
			},
			Mechanisms: []network.Mechanism{
				{
					ID: "units_stability", Source: "Affordable_Units", Target: "Housing_Stability",
					Form:    forms.Sigmoid,
					Params:  forms.Params{Saturation: 40, Steepness: 0.0005, Midpoint: 10000},
					Effect:  network.Effect{Point: 1, StdErr: 0.1},
					Latency: network.Latency{Type: "infrastructure"},
				},
				{
					ID: "rent_stability", Source: "Median_Rent", Target: "Housing_Stability",
					Form:       forms.Logarithmic,
					Effect:     network.Effect{Point: -1, Lower: -1.3, Upper: -0.7},
					Moderators: []network.Moderator{{Flag: "rent_control", Mode: network.Additive, Value: 0.5}},
					Latency:    network.Latency{Type: "policy"},
				},
				{
					ID: "evictions_homelessness", Source: "Eviction_Filings", Target: "Homelessness",
					Form:    forms.Threshold,
					Params:  forms.Params{Threshold: 500},
					Effect:  network.Effect{Point: 0.2, StdErr: 0.03},
					Latency: network.Latency{Type: "policy"},
				},
				{
					ID: "clinics_primary_care", Source: "Community_Clinics", Target: "Primary_Care_Use",
					Form:    forms.MultiplicativeDampening,
					Params:  forms.Params{Max: 100},
					Effect:  network.Effect{Point: 1, StdErr: 0.1},
					Latency: network.Latency{Type: "organizing"},
				},
				withModerator(linear("stability_homelessness", "Housing_Stability", "Homelessness", -5),
					network.Moderator{Flag: "urban", Value: 1.5}),
				linear("homelessness_stress", "Homelessness", "Chronic_Stress", 0.01),
				linear("stability_stress", "Housing_Stability", "Chronic_Stress", -0.1),
				linear("stress_stability", "Chronic_Stress", "Housing_Stability", -0.1),
				{
					ID: "stress_ed", Source: "Chronic_Stress", Target: "ED_visits",
					Form:    forms.SaturatingLinear,
					Params:  forms.Params{Cap: 100000},
					Effect:  network.Effect{Point: 400, StdErr: 60},
					Latency: network.Latency{Type: "behavioral"},
				},
				linear("primary_care_ed", "Primary_Care_Use", "ED_visits", -30),
				linear("ed_referrals", "ED_visits", "Primary_Care_Use", 0.0001),
				linear("stability_turnover", "Housing_Stability", "Housing_Stability", -0.5),
				linear("homelessness_exits", "Homelessness", "Homelessness", -0.2),
				linear("stress_recovery", "Chronic_Stress", "Chronic_Stress", -0.3),
				linear("ed_decline", "ED_visits", "ED_visits", -0.5),
				linear("primary_care_attrition", "Primary_Care_Use", "Primary_Care_Use", -0.2),
			},
		},
		Known: network.Known{
			"Affordable_Units":  12000,
			"Median_Rent":       1800,
			"Eviction_Filings":  3000,
			"Community_Clinics": 24,
		},
		Seeds: []solver.Seed{{
			Name: "survey",
			Values: map[string]float64{
				"Housing_Stability": 40,
				"Homelessness":      1000,
				"Chronic_Stress":    20,
				"ED_visits":         13000,
				"Primary_Care_Use":  55,
			},
		}},
		Intervention: rampup.Intervention{
			Name:         "right-to-counsel",
			Targets:      []rampup.Target{{Stock: "Eviction_Filings", Value: 1500}},
			Ramp:         rampup.Ramp{Kind: rampup.Linear, FullYears: 3},
			Persistence:  rampup.Persistence{Kind: rampup.Sustained, FundedYears: 5},
			DiscountRate: 0.03,
		},
	}
}

func withModerator(m network.Mechanism, mods ...network.Moderator) network.Mechanism {
	m.Moderators = append(m.Moderators, mods...)
	return m
}
