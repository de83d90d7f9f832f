package solver

import (
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/stockflow/internal/dynamo"
	"github.com/san-kum/stockflow/internal/network"
)

type Level string

const (
	LevelOK      Level = "ok"
	LevelWarning Level = "warning"
	LevelFail    Level = "fail"

	// LevelUnchecked marks a fixed stock no mechanism feeds. The network
	// says nothing about its level, so there is nothing to compare.
	LevelUnchecked Level = "unchecked"
)

// Check compares one fixed stock's observed value with the value the
// network would settle it at given the solved free stocks.
type Check struct {
	Stock     string  `json:"stock"`
	Observed  float64 `json:"observed"`
	Predicted float64 `json:"predicted"`
	RelError  float64 `json:"rel_error"`
	Level     Level   `json:"level"`
	Bracketed bool    `json:"bracketed"`
}

type Report struct {
	Checks        []Check `json:"checks"`
	WarnThreshold float64 `json:"warn_threshold"`
	FailThreshold float64 `json:"fail_threshold"`
	Widened       bool    `json:"widened"`
}

func (r Report) Warnings() []Check  { return r.filter(LevelWarning) }
func (r Report) Failures() []Check  { return r.filter(LevelFail) }
func (r Report) Unchecked() []Check { return r.filter(LevelUnchecked) }

func (r Report) filter(l Level) []Check {
	var out []Check
	for _, c := range r.Checks {
		if c.Level == l {
			out = append(out, c)
		}
	}
	return out
}

func (r Report) Err() error {
	var errs []error
	for _, c := range r.Failures() {
		errs = append(errs, &MismatchError{
			Stock:     c.Stock,
			Observed:  c.Observed,
			Predicted: c.Predicted,
			RelError:  c.RelError,
			Threshold: r.FailThreshold,
		})
	}
	return errors.Join(errs...)
}

func (r Report) Diagnostics() []dynamo.Diagnostic {
	var out []dynamo.Diagnostic
	for _, c := range r.Checks {
		if c.Level == LevelOK || c.Level == LevelUnchecked {
			continue
		}
		out = append(out, dynamo.Diagnostic{
			Kind:    dynamo.DiagEquilibriumMismatch,
			Stocks:  []string{c.Stock},
			Message: fmt.Sprintf("%s: observed %g, network predicts %g (%.1f%% %s)", c.Stock, c.Observed, c.Predicted, 100*c.RelError, c.Level),
		})
	}
	return out
}

// MismatchError is a fixed stock whose prediction is beyond the fail
// threshold.
type MismatchError struct {
	Stock     string
	Observed  float64
	Predicted float64
	RelError  float64
	Threshold float64
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: %s observed %g, predicted %g (%.1f%% > %.1f%%)",
		dynamo.ErrEquilibriumMismatch, e.Stock, e.Observed, e.Predicted, 100*e.RelError, 100*e.Threshold)
}

func (e *MismatchError) Unwrap() error {
	return dynamo.ErrEquilibriumMismatch
}

const (
	scanPoints    = 64
	bisectionIter = 80
)

// Validate predicts every fixed stock from the network at values and
// grades the relative error against the configured thresholds. Stocks
// without incoming mechanisms are listed as unchecked.
func (s *Solver) Validate(net *network.Network, values dynamo.State) (Report, error) {
	r := Report{
		WarnThreshold: s.cfg.WarnMismatch,
		FailThreshold: s.cfg.FailMismatch,
		Widened:       s.cfg.Widened(),
	}
	for _, i := range net.Fixed() {
		st := net.Stock(i)
		observed := values[i]
		if len(net.Incoming(i)) == 0 {
			r.Checks = append(r.Checks, Check{Stock: st.ID, Observed: observed, Predicted: observed, Level: LevelUnchecked})
			continue
		}
		predicted, bracketed, err := predict(net, i, values)
		if err != nil {
			return r, err
		}
		c := Check{
			Stock:     st.ID,
			Observed:  observed,
			Predicted: predicted,
			RelError:  relError(predicted, observed),
			Bracketed: bracketed,
			Level:     LevelOK,
		}
		switch {
		case c.RelError > s.cfg.FailMismatch:
			c.Level = LevelFail
		case c.RelError > s.cfg.WarnMismatch:
			c.Level = LevelWarning
		}
		r.Checks = append(r.Checks, c)
	}
	return r, nil
}

// predict finds where the stock's own net flow would vanish with every
// other stock held at values. The zero closest to the observed value
// wins. Without a zero the stock drifts to the bound its net flow points
// at.
func predict(net *network.Network, stock int, values dynamo.State) (float64, bool, error) {
	observed := values[stock]
	work := values.Clone()
	g := func(x float64) (float64, error) {
		work[stock] = x
		return net.StockNetFlow(stock, work)
	}

	at, err := g(observed)
	if err != nil {
		return 0, false, err
	}
	if at == 0 {
		return observed, true, nil
	}

	b := net.Stock(stock).Bounds
	step := (b.Max - b.Min) / scanPoints
	best, found := 0.0, false
	prevX := b.Min
	prev, err := g(prevX)
	if err != nil {
		return 0, false, err
	}
	for k := 1; k <= scanPoints; k++ {
		x := b.Min + float64(k)*step
		if k == scanPoints {
			x = b.Max
		}
		v, err := g(x)
		if err != nil {
			return 0, false, err
		}
		if prev == 0 || prev*v < 0 {
			root := prevX
			if prev != 0 {
				root, err = bisect(g, prevX, x, prev)
				if err != nil {
					return 0, false, err
				}
			}
			if !found || math.Abs(root-observed) < math.Abs(best-observed) {
				best, found = root, true
			}
		}
		prevX, prev = x, v
	}
	if prev == 0 && (!found || math.Abs(b.Max-observed) < math.Abs(best-observed)) {
		best, found = b.Max, true
	}
	if found {
		return best, true, nil
	}
	if at > 0 {
		return b.Max, false, nil
	}
	return b.Min, false, nil
}

func bisect(g func(float64) (float64, error), lo, hi, flo float64) (float64, error) {
	for i := 0; i < bisectionIter; i++ {
		mid := 0.5 * (lo + hi)
		fm, err := g(mid)
		if err != nil {
			return 0, err
		}
		if fm == 0 {
			return mid, nil
		}
		if (fm < 0) == (flo < 0) {
			lo, flo = mid, fm
		} else {
			hi = mid
		}
	}
	return 0.5 * (lo + hi), nil
}

func relError(predicted, observed float64) float64 {
	denom := math.Abs(observed)
	if denom == 0 {
		return math.Abs(predicted)
	}
	return math.Abs(predicted-observed) / denom
}
