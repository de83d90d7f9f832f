package uncertainty

import (
	"fmt"

	"github.com/san-kum/stockflow/internal/dynamo"
)

const (
	DefaultReplays       = 100
	TargetReplays        = 1000
	DefaultLevel         = 0.95
	DefaultLatencyJitter = 0.1
	DefaultSeed          = 1
)

// Config controls replay count and sampling. Workers of zero means
// GOMAXPROCS. LatencyJitter is the half-width of the uniform perturbation
// added to every latency-profile year.
type Config struct {
	Replays       int     `yaml:"replays" json:"replays"`
	Workers       int     `yaml:"workers" json:"workers"`
	Level         float64 `yaml:"level" json:"level"`
	LatencyJitter float64 `yaml:"latency_jitter" json:"latency_jitter"`
	Seed          uint64  `yaml:"seed" json:"seed"`
}

func DefaultConfig() Config {
	return Config{
		Replays:       DefaultReplays,
		Level:         DefaultLevel,
		LatencyJitter: DefaultLatencyJitter,
		Seed:          DefaultSeed,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Replays < 1:
		return fmt.Errorf("%w: replays must be at least 1", dynamo.ErrInvalidConfig)
	case c.Workers < 0:
		return fmt.Errorf("%w: workers must be non-negative", dynamo.ErrInvalidConfig)
	case c.Level <= 0 || c.Level >= 1:
		return fmt.Errorf("%w: level must be in (0, 1), got %g", dynamo.ErrInvalidConfig, c.Level)
	case c.LatencyJitter < 0 || c.LatencyJitter > 1:
		return fmt.Errorf("%w: latency_jitter must be in [0, 1]", dynamo.ErrInvalidConfig)
	}
	return nil
}
