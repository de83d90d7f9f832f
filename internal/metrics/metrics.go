// Package metrics summarizes a simulated run into named scalars. Every
// metric is a sim.Observer fed the recorded years; year 0 is the
// baseline and is skipped.
package metrics

import (
	"math"
	"sort"

	"github.com/san-kum/stockflow/internal/dynamo"
	"github.com/san-kum/stockflow/internal/network"
)

type Metric interface {
	OnYear(year int, s dynamo.State, phase dynamo.Phase)
	Name() string
	Value() float64
	Reset()
}

// Displacement is the mean, over years, of the largest relative deviation
// of any stock from its baseline.
type Displacement struct {
	baseline dynamo.State
	total    float64
	samples  int
}

func NewDisplacement(baseline dynamo.State) *Displacement {
	return &Displacement{baseline: baseline.Clone()}
}

func (d *Displacement) Name() string { return "displacement" }

func (d *Displacement) OnYear(year int, s dynamo.State, _ dynamo.Phase) {
	if year == 0 {
		return
	}
	worst := 0.0
	for i, v := range s {
		b := d.baseline[i]
		worst = max(worst, math.Abs(v-b)/max(math.Abs(b), 1))
	}
	d.total += worst
	d.samples++
}

func (d *Displacement) Value() float64 {
	if d.samples == 0 {
		return 0
	}
	return d.total / float64(d.samples)
}

func (d *Displacement) Reset() {
	d.total = 0
	d.samples = 0
}

// BoundPressure is the fraction of years in which some free stock sits on
// one of its bounds.
type BoundPressure struct {
	bounds     []dynamo.Bounds
	free       []int
	violations int
	samples    int
}

func NewBoundPressure(net *network.Network) *BoundPressure {
	return &BoundPressure{bounds: net.Bounds(), free: net.Free()}
}

func (p *BoundPressure) Name() string { return "bound_pressure" }

func (p *BoundPressure) OnYear(year int, s dynamo.State, _ dynamo.Phase) {
	if year == 0 {
		return
	}
	p.samples++
	for _, i := range p.free {
		b := p.bounds[i]
		if s[i] <= b.Min || s[i] >= b.Max {
			p.violations++
			return
		}
	}
}

func (p *BoundPressure) Value() float64 {
	if p.samples == 0 {
		return 0
	}
	return float64(p.violations) / float64(p.samples)
}

func (p *BoundPressure) Reset() {
	p.violations = 0
	p.samples = 0
}

// Cumulative sums one stock's deviation from baseline over the recorded
// years. The sum is undiscounted.
type Cumulative struct {
	stock    string
	index    int
	baseline float64
	total    float64
}

func NewCumulative(stock string, index int, baseline float64) *Cumulative {
	return &Cumulative{stock: stock, index: index, baseline: baseline}
}

func (c *Cumulative) Name() string { return "cumulative:" + c.stock }

func (c *Cumulative) OnYear(year int, s dynamo.State, _ dynamo.Phase) {
	if year == 0 {
		return
	}
	c.total += s[c.index] - c.baseline
}

func (c *Cumulative) Value() float64 { return c.total }
func (c *Cumulative) Reset()         { c.total = 0 }

// Set fans recorded years out to several metrics.
type Set []Metric

// Standard returns displacement, bound pressure and one cumulative metric
// per free stock.
func Standard(net *network.Network, baseline dynamo.State) Set {
	set := Set{NewDisplacement(baseline), NewBoundPressure(net)}
	for _, i := range net.Free() {
		set = append(set, NewCumulative(net.Stock(i).ID, i, baseline[i]))
	}
	return set
}

func (s Set) OnYear(year int, st dynamo.State, phase dynamo.Phase) {
	for _, m := range s {
		m.OnYear(year, st, phase)
	}
}

func (s Set) Values() map[string]float64 {
	out := make(map[string]float64, len(s))
	for _, m := range s {
		out[m.Name()] = m.Value()
	}
	return out
}

func (s Set) Reset() {
	for _, m := range s {
		m.Reset()
	}
}

// Names returns metric names in a stable order.
func Names(values map[string]float64) []string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
