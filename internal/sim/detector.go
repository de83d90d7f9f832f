package sim

import "math"

type Verdict int

const (
	Continue Verdict = iota
	Settled
	Oscillating
)

func (v Verdict) String() string {
	switch v {
	case Settled:
		return "settled"
	case Oscillating:
		return "oscillating"
	}
	return "continue"
}

// Detector watches successive yearly states for convergence and period-2
// oscillation. It keeps one oscillation streak per stock.
type Detector struct {
	cfg    Config
	crisis []int
	streak []int
	prev   []float64
	prev2  []float64
	seen   int
}

// NewDetector tracks n stocks; crisis lists the crisis-endpoint stocks
// held to the relative tolerance.
func NewDetector(cfg Config, n int, crisis []int) *Detector {
	return &Detector{
		cfg:    cfg,
		crisis: crisis,
		streak: make([]int, n),
	}
}

// Observe feeds the state of elapsed year. It returns Oscillating with
// the offending stocks once any stock has alternated for
// OscillationCycles consecutive years.
func (d *Detector) Observe(year int, s []float64) (Verdict, []int) {
	defer func() {
		d.prev2 = d.prev
		d.prev = append([]float64(nil), s...)
		d.seen++
	}()
	if d.seen == 0 {
		return Continue, nil
	}

	eps := d.cfg.Epsilon
	var oscillating []int
	if d.prev2 != nil {
		for i, v := range s {
			if math.Abs(v-d.prev2[i]) < eps && math.Abs(v-d.prev[i]) > eps {
				d.streak[i]++
			} else {
				d.streak[i] = 0
			}
			if d.streak[i] >= d.cfg.OscillationCycles {
				oscillating = append(oscillating, i)
			}
		}
	}

	if year >= d.cfg.MinYears && d.settled(s) {
		return Settled, nil
	}
	if len(oscillating) > 0 {
		return Oscillating, oscillating
	}
	return Continue, nil
}

func (d *Detector) settled(s []float64) bool {
	for i, v := range s {
		if math.Abs(v-d.prev[i]) >= d.cfg.Epsilon {
			return false
		}
	}
	for _, i := range d.crisis {
		if relChange(d.prev[i], s[i]) >= d.cfg.CrisisRelTolerance {
			return false
		}
	}
	return true
}

func relChange(from, to float64) float64 {
	diff := math.Abs(to - from)
	if diff == 0 {
		return 0
	}
	if from == 0 {
		return math.Inf(1)
	}
	return diff / math.Abs(from)
}
