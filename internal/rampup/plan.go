package rampup

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/stockflow/internal/dynamo"
	"github.com/san-kum/stockflow/internal/network"
)

type Target struct {
	Stock string  `yaml:"stock" json:"stock"`
	Value float64 `yaml:"value" json:"value"`
}

// Intervention is a requested change to one or more stocks. Horizon is in
// years; zero means the engine default. DiscountRate is carried to the
// trajectory for downstream consumers and never applied here.
type Intervention struct {
	Name         string      `yaml:"name" json:"name"`
	Targets      []Target    `yaml:"targets" json:"targets"`
	Ramp         Ramp        `yaml:"ramp" json:"ramp"`
	Persistence  Persistence `yaml:"persistence" json:"persistence"`
	Horizon      int         `yaml:"horizon,omitempty" json:"horizon,omitempty"`
	DiscountRate float64     `yaml:"discount_rate,omitempty" json:"discount_rate,omitempty"`
}

func LoadIntervention(path string) (*Intervention, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var iv Intervention
	if err := yaml.Unmarshal(data, &iv); err != nil {
		return nil, fmt.Errorf("parse intervention: %w", err)
	}
	return &iv, nil
}

func (iv Intervention) Validate(net *network.Network) error {
	if len(iv.Targets) == 0 {
		return fmt.Errorf("%w: intervention %q has no targets", dynamo.ErrInvalidConfig, iv.Name)
	}
	seen := map[string]bool{}
	for _, t := range iv.Targets {
		i, ok := net.Index(t.Stock)
		if !ok {
			return &network.IntegrityError{Code: "unknown_stock", Stock: t.Stock, Message: "intervention targets a stock not in network"}
		}
		if seen[t.Stock] {
			return fmt.Errorf("%w: stock %s targeted twice", dynamo.ErrInvalidConfig, t.Stock)
		}
		seen[t.Stock] = true
		if b := net.Stock(i).Bounds; !b.Contains(t.Value) {
			return fmt.Errorf("%w: target %g for %s outside [%g, %g]", dynamo.ErrInvalidConfig, t.Value, t.Stock, b.Min, b.Max)
		}
	}
	if err := iv.Ramp.Validate(); err != nil {
		return err
	}
	if err := iv.Persistence.Validate(); err != nil {
		return err
	}
	if iv.Horizon < 0 || iv.DiscountRate < 0 {
		return fmt.Errorf("%w: horizon and discount_rate must be non-negative", dynamo.ErrInvalidConfig)
	}
	return nil
}

// Plan is an intervention resolved against a network and baseline: a
// capacity schedule per targeted stock and a latency profile per
// mechanism.
type Plan struct {
	Intervention Intervention
	targets      []int
	capacity     [][]float64
	latency      []LatencyProfile
}

// NewPlan schedules capacity for years 0..years. Mechanism latency comes
// from the network, so a network carrying perturbed latency yields a
// perturbed plan.
func NewPlan(net *network.Network, baseline dynamo.State, iv Intervention, years int) (*Plan, error) {
	if err := iv.Validate(net); err != nil {
		return nil, err
	}
	if len(baseline) != net.Len() {
		return nil, fmt.Errorf("%w: baseline has %d stocks, network %d", dynamo.ErrInvalidState, len(baseline), net.Len())
	}

	p := &Plan{Intervention: iv}
	for _, t := range iv.Targets {
		i, _ := net.Index(t.Stock)
		p.targets = append(p.targets, i)
		p.capacity = append(p.capacity, Schedule(iv.Ramp, iv.Persistence, baseline[i], t.Value, years))
	}
	for _, m := range net.Mechanisms() {
		lp, err := ProfileFor(m.Latency)
		if err != nil {
			return nil, fmt.Errorf("mechanism %s: %w", m.ID, err)
		}
		p.latency = append(p.latency, lp)
	}
	return p, nil
}

// Targets returns the indices of the intervened stocks.
func (p *Plan) Targets() []int { return p.targets }

// Years is the last scheduled year.
func (p *Plan) Years() int {
	if len(p.capacity) == 0 {
		return 0
	}
	return len(p.capacity[0]) - 1
}

// Capacity returns the scheduled capacity of the k-th target in year.
// Years past the schedule hold its last value.
func (p *Plan) Capacity(k, year int) float64 {
	c := p.capacity[k]
	if year >= len(c) {
		year = len(c) - 1
	}
	if year < 0 {
		year = 0
	}
	return c[year]
}

// Apply overrides the intervened stocks of s with their capacity in year
// and returns the new state.
func (p *Plan) Apply(s dynamo.State, year int) dynamo.State {
	out := s.Clone()
	for k, i := range p.targets {
		out[i] = p.Capacity(k, year)
	}
	return out
}

// Latency returns the multiplier of mechanism m in elapsed year.
func (p *Plan) Latency(m, year int) float64 {
	return p.latency[m].At(year)
}

func (p *Plan) Profile(m int) LatencyProfile { return p.latency[m] }
