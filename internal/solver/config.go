package solver

import (
	"fmt"

	"github.com/san-kum/stockflow/internal/dynamo"
)

const (
	DefaultTolerance          = 0.01
	DefaultDamping            = 0.3
	DefaultMinDamping         = 0.01
	DefaultMaxDamping         = 0.9
	DefaultMaxIterations      = 1000
	DefaultWarnMismatch       = 0.10
	DefaultFailMismatch       = 0.15
	DefaultMaterialDifference = 0.05

	// Relative per-iteration change above which damping is halved.
	dampingTrigger = 0.10
)

type Config struct {
	Tolerance          float64 `yaml:"tolerance" json:"tolerance"`
	Damping            float64 `yaml:"damping" json:"damping"`
	MinDamping         float64 `yaml:"min_damping" json:"min_damping"`
	MaxDamping         float64 `yaml:"max_damping" json:"max_damping"`
	MaxIterations      int     `yaml:"max_iterations" json:"max_iterations"`
	WarnMismatch       float64 `yaml:"warn_mismatch" json:"warn_mismatch"`
	FailMismatch       float64 `yaml:"fail_mismatch" json:"fail_mismatch"`
	MaterialDifference float64 `yaml:"material_difference" json:"material_difference"`
	ProbeBounds        bool    `yaml:"probe_bounds" json:"probe_bounds"`
}

func DefaultConfig() Config {
	return Config{
		Tolerance:          DefaultTolerance,
		Damping:            DefaultDamping,
		MinDamping:         DefaultMinDamping,
		MaxDamping:         DefaultMaxDamping,
		MaxIterations:      DefaultMaxIterations,
		WarnMismatch:       DefaultWarnMismatch,
		FailMismatch:       DefaultFailMismatch,
		MaterialDifference: DefaultMaterialDifference,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Tolerance <= 0:
		return fmt.Errorf("%w: tolerance must be positive, got %g", dynamo.ErrInvalidConfig, c.Tolerance)
	case c.Damping <= 0 || c.Damping >= 1:
		return fmt.Errorf("%w: damping must be in (0, 1), got %g", dynamo.ErrInvalidConfig, c.Damping)
	case c.MinDamping <= 0 || c.MinDamping > c.Damping:
		return fmt.Errorf("%w: min_damping must be in (0, damping], got %g", dynamo.ErrInvalidConfig, c.MinDamping)
	case c.MaxDamping < c.Damping || c.MaxDamping >= 1:
		return fmt.Errorf("%w: max_damping must be in [damping, 1), got %g", dynamo.ErrInvalidConfig, c.MaxDamping)
	case c.MaxIterations < 1:
		return fmt.Errorf("%w: max_iterations must be at least 1", dynamo.ErrInvalidConfig)
	case c.WarnMismatch <= 0:
		return fmt.Errorf("%w: warn_mismatch must be positive", dynamo.ErrInvalidConfig)
	case c.FailMismatch < c.WarnMismatch:
		return fmt.Errorf("%w: fail_mismatch %g below warn_mismatch %g", dynamo.ErrInvalidConfig, c.FailMismatch, c.WarnMismatch)
	case c.MaterialDifference <= 0:
		return fmt.Errorf("%w: material_difference must be positive", dynamo.ErrInvalidConfig)
	}
	return nil
}

// Widened reports whether the mismatch thresholds are looser than the
// defaults.
func (c Config) Widened() bool {
	return c.WarnMismatch > DefaultWarnMismatch || c.FailMismatch > DefaultFailMismatch
}
