// Package scenario ties a mechanism bank to per-geography inputs and runs
// the solve, simulate and quantify pipeline over it.
package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/stockflow/internal/dynamo"
	"github.com/san-kum/stockflow/internal/network"
	"github.com/san-kum/stockflow/internal/rampup"
	"github.com/san-kum/stockflow/internal/solver"
)

// Scenario is a bank plus everything needed to solve and perturb it in one
// setting. Select names the seed to adopt when several equilibria are
// reachable; without it an ambiguous baseline stops the run.
type Scenario struct {
	Name           string              `yaml:"name" json:"name"`
	Description    string              `yaml:"description,omitempty" json:"description,omitempty"`
	AllowSelfLoops bool                `yaml:"allow_self_loops,omitempty" json:"allow_self_loops,omitempty"`
	Context        []string            `yaml:"context,omitempty" json:"context,omitempty"`
	Bank           network.Bank        `yaml:"bank" json:"bank"`
	Known          network.Known       `yaml:"known" json:"known"`
	Seeds          []solver.Seed       `yaml:"seeds" json:"seeds"`
	Select         string              `yaml:"select,omitempty" json:"select,omitempty"`
	Intervention   rampup.Intervention `yaml:"intervention" json:"intervention"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("%w: scenario %s has no name", dynamo.ErrInvalidConfig, path)
	}
	return &sc, nil
}

func (sc *Scenario) Save(path string) error {
	data, err := yaml.Marshal(sc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Build validates the bank and resolves it against the scenario context,
// falling back to opts.Context when the scenario declares none. The
// known-stock set and intervention are checked against the result so that
// integrity problems block the run before any solving.
func Build(sc *Scenario, opts network.Options) (*network.Network, error) {
	if len(sc.Context) > 0 {
		opts.Context = sc.Context
	}
	opts.AllowSelfLoops = opts.AllowSelfLoops || sc.AllowSelfLoops

	net, err := sc.Bank.Network(opts)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	if err := sc.Known.Check(net); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	if len(sc.Intervention.Targets) > 0 {
		if err := sc.Intervention.Validate(net); err != nil {
			return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
		}
	}
	return net, nil
}
