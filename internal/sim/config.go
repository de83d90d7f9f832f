package sim

import (
	"fmt"

	"github.com/san-kum/stockflow/internal/dynamo"
)

const (
	DefaultHorizon            = 5
	MaxHorizon                = 20
	DefaultEpsilon            = 0.01
	DefaultCrisisRelTolerance = 0.005
	DefaultMinYears           = 3
	DefaultOscillationCycles  = 3
	DefaultAverageWindow      = 5
	DefaultGrowthFactor       = 1.5
)

type Config struct {
	Horizon            int     `yaml:"horizon" json:"horizon"`
	HardCap            int     `yaml:"hard_cap" json:"hard_cap"`
	Epsilon            float64 `yaml:"epsilon" json:"epsilon"`
	CrisisRelTolerance float64 `yaml:"crisis_rel_tolerance" json:"crisis_rel_tolerance"`
	MinYears           int     `yaml:"min_years" json:"min_years"`
	OscillationCycles  int     `yaml:"oscillation_cycles" json:"oscillation_cycles"`
	AverageWindow      int     `yaml:"average_window" json:"average_window"`
	GrowthFactor       float64 `yaml:"growth_factor" json:"growth_factor"`
}

func DefaultConfig() Config {
	return Config{
		Horizon:            DefaultHorizon,
		HardCap:            MaxHorizon,
		Epsilon:            DefaultEpsilon,
		CrisisRelTolerance: DefaultCrisisRelTolerance,
		MinYears:           DefaultMinYears,
		OscillationCycles:  DefaultOscillationCycles,
		AverageWindow:      DefaultAverageWindow,
		GrowthFactor:       DefaultGrowthFactor,
	}
}

func (c Config) Validate() error {
	switch {
	case c.HardCap < 1 || c.HardCap > MaxHorizon:
		return fmt.Errorf("%w: hard_cap must be in [1, %d], got %d", dynamo.ErrInvalidConfig, MaxHorizon, c.HardCap)
	case c.Horizon < 1 || c.Horizon > c.HardCap:
		return fmt.Errorf("%w: horizon must be in [1, hard_cap], got %d", dynamo.ErrInvalidConfig, c.Horizon)
	case c.Epsilon <= 0:
		return fmt.Errorf("%w: epsilon must be positive", dynamo.ErrInvalidConfig)
	case c.CrisisRelTolerance <= 0:
		return fmt.Errorf("%w: crisis_rel_tolerance must be positive", dynamo.ErrInvalidConfig)
	case c.MinYears < 0:
		return fmt.Errorf("%w: min_years must be non-negative", dynamo.ErrInvalidConfig)
	case c.OscillationCycles < 1:
		return fmt.Errorf("%w: oscillation_cycles must be at least 1", dynamo.ErrInvalidConfig)
	case c.AverageWindow < 1:
		return fmt.Errorf("%w: average_window must be at least 1", dynamo.ErrInvalidConfig)
	case c.GrowthFactor <= 1:
		return fmt.Errorf("%w: growth_factor must exceed 1", dynamo.ErrInvalidConfig)
	}
	return nil
}
