package dynamo

import (
	"fmt"
	"math"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func (s State) Add(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] + other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

func (s State) Scale(factor float64) State {
	result := make(State, len(s))
	for i := range s {
		result[i] = s[i] * factor
	}
	return result
}

func (s State) Sub(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] - other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

// MaxAbsDiff returns the largest |s[i]-other[i]| and its index.
func (s State) MaxAbsDiff(other State) (float64, int) {
	best, at := 0.0, -1
	for i := range s {
		if i >= len(other) {
			break
		}
		if d := math.Abs(s[i] - other[i]); d > best || at < 0 {
			best, at = d, i
		}
	}
	return best, at
}

// Bounds is a closed interval [Min, Max].
type Bounds struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

func (b Bounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

func (b Bounds) Validate() error {
	if math.IsNaN(b.Min) || math.IsNaN(b.Max) {
		return fmt.Errorf("bounds contain NaN")
	}
	if b.Min > b.Max {
		return fmt.Errorf("min %g greater than max %g", b.Min, b.Max)
	}
	return nil
}

// Clamp projects v onto [min, max]. It is idempotent and leaves in-bound
// values untouched.
func Clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// ClampState clamps every entry of s against bounds and returns a new
// State together with the indices that had to be moved.
func ClampState(s State, bounds []Bounds) (State, []int) {
	out := make(State, len(s))
	var clamped []int
	for i, v := range s {
		out[i] = Clamp(v, bounds[i].Min, bounds[i].Max)
		if out[i] != v {
			clamped = append(clamped, i)
		}
	}
	return out, clamped
}

// Average returns the element-wise mean of states.
func Average(states []State) State {
	if len(states) == 0 {
		return nil
	}
	avg := make(State, len(states[0]))
	for _, s := range states {
		for i := range avg {
			avg[i] += s[i]
		}
	}
	n := float64(len(states))
	for i := range avg {
		avg[i] /= n
	}
	return avg
}
