package rampup

import (
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/stockflow/internal/dynamo"
	"github.com/san-kum/stockflow/internal/network"
)

// LatencyProfile gives the fraction of a mechanism's effect that has
// materialized in elapsed years 1, 2, ... Past the listed years the
// remaining gap to 1 halves every year.
type LatencyProfile struct {
	Type  string    `json:"type"`
	Years []float64 `json:"years"`
}

var defaultProfiles = map[string][]float64{
	"infrastructure": {0.6, 0.9, 1.0},
	"organizing":     {0.1, 0.4, 0.7},
	"policy":         {0.3, 0.6, 0.85},
	"behavioral":     {0.2, 0.5, 0.8},
	"immediate":      {1.0},
}

// DefaultType applies to mechanisms that declare no latency.
const DefaultType = "immediate"

func ProfileTypes() []string {
	out := make([]string, 0, len(defaultProfiles))
	for t := range defaultProfiles {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func DefaultProfile(kind string) (LatencyProfile, error) {
	if kind == "" {
		kind = DefaultType
	}
	years, ok := defaultProfiles[kind]
	if !ok {
		return LatencyProfile{}, fmt.Errorf("%w: unknown latency type %q", dynamo.ErrInvalidConfig, kind)
	}
	return LatencyProfile{Type: kind, Years: append([]float64(nil), years...)}, nil
}

// ProfileFor resolves a mechanism's declared latency. Explicit years win
// over the type default.
func ProfileFor(l network.Latency) (LatencyProfile, error) {
	if len(l.Years) == 0 {
		return DefaultProfile(l.Type)
	}
	p := LatencyProfile{Type: l.Type, Years: append([]float64(nil), l.Years...)}
	if err := p.Validate(); err != nil {
		return LatencyProfile{}, err
	}
	return p, nil
}

func (p LatencyProfile) Validate() error {
	prev := 0.0
	for i, v := range p.Years {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: latency year %d = %g outside [0, 1]", dynamo.ErrInvalidConfig, i+1, v)
		}
		if v < prev {
			return fmt.Errorf("%w: latency must not decrease (year %d)", dynamo.ErrInvalidConfig, i+1)
		}
		prev = v
	}
	return nil
}

// At returns the multiplier for elapsed year t. Year 0 and earlier have
// nothing materialized.
func (p LatencyProfile) At(year int) float64 {
	if year <= 0 || len(p.Years) == 0 {
		return 0
	}
	if year <= len(p.Years) {
		return p.Years[year-1]
	}
	last := p.Years[len(p.Years)-1]
	return 1 - (1-last)*math.Pow(0.5, float64(year-len(p.Years)))
}
