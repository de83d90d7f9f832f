// Package rampup turns an intervention into year-by-year capacity
// schedules and per-mechanism latency multipliers.
package rampup

import (
	"fmt"
	"math"

	"github.com/san-kum/stockflow/internal/dynamo"
)

type RampKind string

const (
	Linear      RampKind = "linear"
	Exponential RampKind = "exponential"
	Step        RampKind = "step"
	Sigmoid     RampKind = "sigmoid"
)

// Ramp selects how capacity approaches its target. FullYears is t_full
// for linear ramps, Rate is λ for exponential ramps, Steepness and
// Midpoint shape the sigmoid.
type Ramp struct {
	Kind      RampKind `yaml:"kind" json:"kind"`
	FullYears float64  `yaml:"full_years,omitempty" json:"full_years,omitempty"`
	Rate      float64  `yaml:"rate,omitempty" json:"rate,omitempty"`
	Steepness float64  `yaml:"steepness,omitempty" json:"steepness,omitempty"`
	Midpoint  float64  `yaml:"midpoint,omitempty" json:"midpoint,omitempty"`
}

func (r Ramp) Validate() error {
	switch r.Kind {
	case Step:
	case Linear:
		if r.FullYears <= 0 {
			return fmt.Errorf("%w: linear ramp needs full_years > 0", dynamo.ErrInvalidConfig)
		}
	case Exponential:
		if r.Rate <= 0 {
			return fmt.Errorf("%w: exponential ramp needs rate > 0", dynamo.ErrInvalidConfig)
		}
	case Sigmoid:
		if r.Steepness <= 0 {
			return fmt.Errorf("%w: sigmoid ramp needs steepness > 0", dynamo.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown ramp %q", dynamo.ErrInvalidConfig, r.Kind)
	}
	return nil
}

// Capacity is the ramped capacity in year t, moving from baseline to
// target. Year 0 is the baseline except for step ramps.
func Capacity(r Ramp, baseline, target float64, year int) float64 {
	if year < 0 {
		return baseline
	}
	delta := target - baseline
	t := float64(year)
	switch r.Kind {
	case Step:
		return target
	case Linear:
		return baseline + delta*math.Min(t, r.FullYears)/r.FullYears
	case Exponential:
		return baseline + delta*(1-math.Exp(-r.Rate*t))
	case Sigmoid:
		// Shifted and rescaled so year 0 sits exactly at baseline.
		s0 := logistic(-r.Steepness * r.Midpoint)
		st := logistic(r.Steepness * (t - r.Midpoint))
		return baseline + delta*(st-s0)/(1-s0)
	}
	panic(fmt.Sprintf("rampup: unhandled ramp %q", r.Kind))
}

type PersistenceKind string

const (
	Permanent PersistenceKind = "permanent"
	Sustained PersistenceKind = "sustained"
	LockIn    PersistenceKind = "lock_in"
)

const (
	DefaultSustainedRate = 0.3
	DefaultLockInRate    = 0.1
)

// Persistence decides what capacity does once the funded period of
// FundedYears ends. Zero FundedYears means funding never ends.
type Persistence struct {
	Kind        PersistenceKind `yaml:"kind" json:"kind"`
	Rate        float64         `yaml:"rate,omitempty" json:"rate,omitempty"`
	FundedYears int             `yaml:"funded_years,omitempty" json:"funded_years,omitempty"`
}

func (p Persistence) Validate() error {
	switch p.Kind {
	case "", Permanent, Sustained, LockIn:
	default:
		return fmt.Errorf("%w: unknown persistence %q", dynamo.ErrInvalidConfig, p.Kind)
	}
	if p.Rate < 0 || p.FundedYears < 0 {
		return fmt.Errorf("%w: persistence rate and funded_years must be non-negative", dynamo.ErrInvalidConfig)
	}
	return nil
}

// DecayRate is the yearly decay toward baseline after funding ends.
func (p Persistence) DecayRate() float64 {
	switch p.Kind {
	case Sustained:
		if p.Rate > 0 {
			return p.Rate
		}
		return DefaultSustainedRate
	case LockIn:
		if p.Rate > 0 {
			return p.Rate
		}
		return DefaultLockInRate
	}
	return 0
}

// Schedule returns capacity for years 0..years inclusive.
func Schedule(r Ramp, p Persistence, baseline, target float64, years int) []float64 {
	out := make([]float64, years+1)
	rate := p.DecayRate()
	for y := range out {
		if p.FundedYears == 0 || y <= p.FundedYears || rate == 0 {
			out[y] = Capacity(r, baseline, target, y)
			continue
		}
		held := Capacity(r, baseline, target, p.FundedYears)
		out[y] = baseline + (held-baseline)*math.Exp(-rate*float64(y-p.FundedYears))
	}
	return out
}

func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
