package solver

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/stockflow/internal/dynamo"
	"github.com/san-kum/stockflow/internal/forms"
	"github.com/san-kum/stockflow/internal/network"
)

// system is the free-stock view of a network at a given state.
type system struct {
	net  *network.Network
	free []int
	row  map[int]int
}

func newSystem(net *network.Network) *system {
	free := net.Free()
	row := make(map[int]int, len(free))
	for r, i := range free {
		row[i] = r
	}
	return &system{net: net, free: free, row: row}
}

// residual returns the net flow of every free stock. A stock sitting on a
// bound whose net flow points outward is at rest and contributes zero.
func (sys *system) residual(s dynamo.State) ([]float64, error) {
	net, err := sys.net.NetFlow(s)
	if err != nil {
		return nil, err
	}
	f := make([]float64, len(sys.free))
	for r, i := range sys.free {
		b := sys.net.Stock(i).Bounds
		v := net[i]
		if (s[i] >= b.Max && v > 0) || (s[i] <= b.Min && v < 0) {
			v = 0
		}
		f[r] = v
	}
	return f, nil
}

// jacobian returns ∂netflow/∂S restricted to free stocks, row-major.
func (sys *system) jacobian(s dynamo.State) ([]float64, error) {
	m := len(sys.free)
	j := make([]float64, m*m)
	for _, e := range sys.net.Edges() {
		r, ok := sys.row[e.Target]
		if !ok {
			continue
		}
		src, tgt := s[e.Source], s[e.Target]
		if c, ok := sys.row[e.Source]; ok {
			ds, err := forms.DSource(e.Form, src, tgt, e.Params)
			if err != nil {
				return nil, err
			}
			j[r*m+c] += ds
		}
		dt, err := forms.DTarget(e.Form, src, tgt, e.Params)
		if err != nil {
			return nil, err
		}
		j[r*m+r] += dt
	}
	return j, nil
}

// scales returns max(1, |J_ii|) per free stock, used to precondition the
// relaxation step.
func (sys *system) scales(s dynamo.State) ([]float64, error) {
	j, err := sys.jacobian(s)
	if err != nil {
		return nil, err
	}
	m := len(sys.free)
	out := make([]float64, m)
	for r := range out {
		out[r] = math.Max(1, math.Abs(j[r*m+r]))
	}
	return out, nil
}

// linearSeed takes one linearized step from s0: it solves
// J·S = J·S0 - f(S0) over the free stocks. The step is rejected when J is
// singular or when it does not reduce the scaled residual.
func (sys *system) linearSeed(s0 dynamo.State) (dynamo.State, bool, error) {
	m := len(sys.free)
	if m == 0 {
		return s0, false, nil
	}
	jac, err := sys.jacobian(s0)
	if err != nil {
		return nil, false, err
	}
	f, err := sys.residual(s0)
	if err != nil {
		return nil, false, err
	}

	J := mat.NewDense(m, m, jac)
	x0 := mat.NewVecDense(m, nil)
	for r, i := range sys.free {
		x0.SetVec(r, s0[i])
	}
	var b mat.VecDense
	b.MulVec(J, x0)
	for r := range f {
		b.SetVec(r, b.AtVec(r)-f[r])
	}

	var x mat.VecDense
	if err := x.SolveVec(J, &b); err != nil {
		return s0, false, nil
	}

	next := s0.Clone()
	for r, i := range sys.free {
		v := x.AtVec(r)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return s0, false, nil
		}
		bd := sys.net.Stock(i).Bounds
		next[i] = dynamo.Clamp(v, bd.Min, bd.Max)
	}

	before, err := sys.scaledResidual(s0)
	if err != nil {
		return nil, false, err
	}
	after, err := sys.scaledResidual(next)
	if err != nil {
		return nil, false, err
	}
	if after > before {
		return s0, false, nil
	}
	return next, true, nil
}

// scaledResidual is max_i |f_i| / scale_i, an estimate of the distance to
// the fixed point in stock units.
func (sys *system) scaledResidual(s dynamo.State) (float64, error) {
	f, err := sys.residual(s)
	if err != nil {
		return 0, err
	}
	sc, err := sys.scales(s)
	if err != nil {
		return 0, err
	}
	worst := 0.0
	for r := range f {
		worst = math.Max(worst, math.Abs(f[r])/sc[r])
	}
	return worst, nil
}
