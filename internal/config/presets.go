package config

import (
	"sort"

	"github.com/san-kum/stockflow/internal/sim"
	"github.com/san-kum/stockflow/internal/uncertainty"
)

// Presets adjust the defaults for common run shapes.
var Presets = map[string]func(*Config){
	"mvp": func(c *Config) {
		c.Uncertainty.Replays = uncertainty.DefaultReplays
	},
	"target": func(c *Config) {
		c.Uncertainty.Replays = uncertainty.TargetReplays
	},
	"quick": func(c *Config) {
		c.Uncertainty.Replays = 20
		c.Stepper.Horizon = sim.DefaultHorizon
	},
	"long": func(c *Config) {
		c.Stepper.Horizon = sim.MaxHorizon
	},
}

// GetPreset returns the defaults with the named preset applied, or nil.
func GetPreset(name string) *Config {
	apply, ok := Presets[name]
	if !ok {
		return nil
	}
	cfg := DefaultConfig()
	apply(cfg)
	return cfg
}

// Apply layers a preset over an existing configuration.
func (c *Config) Apply(preset string) bool {
	apply, ok := Presets[preset]
	if ok {
		apply(c)
	}
	return ok
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
