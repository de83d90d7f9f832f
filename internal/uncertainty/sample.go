package uncertainty

import (
	"math"
	"math/rand/v2"

	"github.com/san-kum/stockflow/internal/network"
	"github.com/san-kum/stockflow/internal/rampup"
)

// maxRedraws bounds rejection sampling for the sign-truncated normal.
const maxRedraws = 64

// sampleEffects draws one effect size per mechanism around its resolved
// α. A draw never flips the mechanism's sign; after maxRedraws rejected
// draws the effect collapses to zero.
func sampleEffects(net *network.Network, rng *rand.Rand) []float64 {
	edges := net.Edges()
	out := make([]float64, len(edges))
	for i, e := range edges {
		alpha := e.Params.Alpha
		sigma := relativeSigma(net.Mechanism(i).Effect, alpha)
		if sigma == 0 {
			out[i] = alpha
			continue
		}
		out[i] = truncatedNormal(rng, alpha, sigma)
	}
	return out
}

// relativeSigma carries the declared standard error over to a moderated α
// at the same relative size.
func relativeSigma(eff network.Effect, alpha float64) float64 {
	sigma := eff.Sigma()
	if sigma == 0 || eff.Point == 0 {
		return sigma
	}
	return sigma * math.Abs(alpha/eff.Point)
}

func truncatedNormal(rng *rand.Rand, mu, sigma float64) float64 {
	for range maxRedraws {
		v := mu + sigma*rng.NormFloat64()
		if mu == 0 || math.Signbit(v) == math.Signbit(mu) {
			return v
		}
	}
	return 0
}

// sampleLatency perturbs every year of every mechanism's profile by a
// uniform draw in [-jitter, jitter], clamped to [0, 1] and kept
// nondecreasing. A zero jitter keeps the declared profiles.
func sampleLatency(net *network.Network, jitter float64, rng *rand.Rand) ([][]float64, error) {
	mechs := net.Mechanisms()
	out := make([][]float64, len(mechs))
	if jitter == 0 {
		return out, nil
	}
	for i, m := range mechs {
		p, err := rampup.ProfileFor(m.Latency)
		if err != nil {
			return nil, err
		}
		years := make([]float64, len(p.Years))
		floor := 0.0
		for y, v := range p.Years {
			v += jitter * (2*rng.Float64() - 1)
			v = math.Max(floor, math.Min(1, math.Max(0, v)))
			years[y] = v
			floor = v
		}
		out[i] = years
	}
	return out, nil
}
