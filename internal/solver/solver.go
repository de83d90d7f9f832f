package solver

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/san-kum/stockflow/internal/dynamo"
	"github.com/san-kum/stockflow/internal/network"
)

// Solver computes equilibrium baselines. It holds no per-run state and is
// safe for concurrent use.
type Solver struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Solver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "solver"))
	if cfg.Widened() {
		logger.Warn("mismatch thresholds widened beyond defaults",
			"warn", cfg.WarnMismatch, "fail", cfg.FailMismatch,
			"default_warn", DefaultWarnMismatch, "default_fail", DefaultFailMismatch)
	}
	return &Solver{cfg: cfg, logger: logger}, nil
}

func (s *Solver) Config() Config { return s.cfg }

// Solve relaxes the free stocks of net from every seed with the fixed
// stocks pinned to known. When seeds reach materially different fixed
// points the solution is Ambiguous and carries every candidate; nothing
// is picked on the caller's behalf.
//
// Numerical outcomes (non-convergence, ambiguity) are reported through
// Solution.Status. The error is reserved for bad inputs, domain errors
// and mismatches beyond the fail threshold; in the last case the solution
// is returned as well.
func (s *Solver) Solve(net *network.Network, known network.Known, seeds []Seed) (*Solution, error) {
	if err := known.Check(net); err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("%w: at least one initial guess is required", dynamo.ErrInvalidConfig)
	}
	all := append([]Seed(nil), seeds...)
	if s.cfg.ProbeBounds {
		all = append(all, probes(net)...)
	}

	sys := newSystem(net)
	sol := &Solution{Stocks: net.IDs(), Units: net.Units()}
	for _, seed := range all {
		s0, diags, err := s.initial(net, known, seed)
		if err != nil {
			return nil, err
		}
		sol.Diagnostics = append(sol.Diagnostics, diags...)

		c, err := s.relax(sys, s0, seed.Name)
		if err != nil {
			return nil, fmt.Errorf("seed %s: %w", seed.Name, err)
		}
		c.Report, err = s.Validate(net, c.Values)
		if err != nil {
			return nil, fmt.Errorf("seed %s: validate: %w", seed.Name, err)
		}
		s.logger.Debug("seed relaxed", "seed", seed.Name, "status", c.Status, "iterations", c.Iterations, "residual", c.Residual)
		sol.Candidates = append(sol.Candidates, c)
	}

	reps := s.distinct(sol.Candidates, sys.free)
	switch {
	case len(reps) > 1:
		sol.Status = Ambiguous
		sol.Diagnostics = append(sol.Diagnostics, s.ambiguity(net, sol.Candidates, reps, sys.free))
		s.logger.Warn("multiple equilibria reachable", "candidates", len(reps))
		return sol, nil

	case len(reps) == 1:
		s.adopt(sol, sol.Candidates[reps[0]])
		for _, c := range sol.Report.Warnings() {
			s.logger.Warn("equilibrium mismatch", "stock", c.Stock, "observed", c.Observed, "predicted", c.Predicted, "rel_error", c.RelError)
		}
		return sol, sol.Report.Err()
	}

	best := 0
	for i, c := range sol.Candidates {
		if c.Residual < sol.Candidates[best].Residual {
			best = i
		}
	}
	s.adopt(sol, sol.Candidates[best])
	sol.Diagnostics = append(sol.Diagnostics, dynamo.Diagnostic{
		Kind:    dynamo.DiagNonConvergence,
		Stocks:  stuckStocks(sys, sol.Values),
		Message: sol.Cause,
	})
	s.logger.Warn("equilibrium did not converge", "seed", sol.Seed, "cause", sol.Cause)
	return sol, nil
}

func (s *Solver) adopt(sol *Solution, c Candidate) {
	sol.Status = c.Status
	sol.Values = c.Values.Clone()
	sol.Seed = c.Seed
	sol.Iterations = c.Iterations
	sol.Residual = c.Residual
	sol.Cause = c.Cause
	sol.Report = c.Report
	sol.Diagnostics = append(sol.Diagnostics, c.Report.Diagnostics()...)
}

func (s *Solver) initial(net *network.Network, known network.Known, seed Seed) (dynamo.State, []dynamo.Diagnostic, error) {
	for id := range seed.Values {
		if i, ok := net.Index(id); !ok || net.Stock(i).Class != network.Free {
			return nil, nil, fmt.Errorf("%w: seed %q guesses %s, which is not a free stock", dynamo.ErrInvalidConfig, seed.Name, id)
		}
	}

	state := make(dynamo.State, net.Len())
	var diags []dynamo.Diagnostic
	for i, st := range net.Stocks() {
		if st.Class == network.Fixed {
			state[i] = known[st.ID]
			continue
		}
		v, ok := seed.Values[st.ID]
		if !ok {
			return nil, nil, fmt.Errorf("%w: seed %q has no initial guess for free stock %s", dynamo.ErrInvalidConfig, seed.Name, st.ID)
		}
		state[i] = dynamo.Clamp(v, st.Bounds.Min, st.Bounds.Max)
		if state[i] != v {
			diags = append(diags, dynamo.Diagnostic{
				Kind:    dynamo.DiagClamped,
				Stocks:  []string{st.ID},
				Message: fmt.Sprintf("seed %s: guess %g for %s clamped to %g", seed.Name, v, st.ID, state[i]),
			})
		}
	}
	return state, diags, nil
}

// relax runs the damped nonlinear iteration
//
//	S_i <- clamp(S_i + d * f_i(S) / max(1, |∂f_i/∂S_i|))
//
// from the linearized seed of s0.
func (s *Solver) relax(sys *system, s0 dynamo.State, seed string) (Candidate, error) {
	state := s0
	if seeded, ok, err := sys.linearSeed(s0); err != nil {
		return Candidate{}, err
	} else if ok {
		state = seeded
	}

	d := s.cfg.Damping
	best, bestRes := state.Clone(), math.Inf(1)
	prevRes := math.Inf(1)

	for it := 1; it <= s.cfg.MaxIterations; it++ {
		f, err := sys.residual(state)
		if err != nil {
			return Candidate{}, err
		}
		sc, err := sys.scales(state)
		if err != nil {
			return Candidate{}, err
		}

		next := state.Clone()
		res, change, rel := 0.0, 0.0, 0.0
		for r, i := range sys.free {
			res = math.Max(res, math.Abs(f[r])/sc[r])
			b := sys.net.Stock(i).Bounds
			next[i] = dynamo.Clamp(state[i]+d*f[r]/sc[r], b.Min, b.Max)
			delta := math.Abs(next[i] - state[i])
			change = math.Max(change, delta)
			rel = math.Max(rel, delta/math.Max(math.Abs(state[i]), 1))
		}
		if !next.IsValid() {
			return Candidate{}, &dynamo.SimulationError{Step: it, State: state, Wrapped: dynamo.ErrInvalidState}
		}
		if res < bestRes {
			best, bestRes = state.Clone(), res
		}
		if res < s.cfg.Tolerance && change < s.cfg.Tolerance {
			return Candidate{Seed: seed, Status: Converged, Values: next, Iterations: it, Residual: res}, nil
		}

		switch {
		case rel > dampingTrigger:
			if d > s.cfg.MinDamping {
				d = math.Max(s.cfg.MinDamping, d/2)
				s.logger.Debug("damping reduced", "seed", seed, "iteration", it, "damping", d, "rel_change", rel)
			}
		case res < prevRes:
			d = math.Min(s.cfg.MaxDamping, d*1.1)
		}
		prevRes = res
		state = next
	}

	return Candidate{
		Seed:       seed,
		Status:     NonConvergent,
		Values:     best,
		Iterations: s.cfg.MaxIterations,
		Residual:   bestRes,
		Cause:      fmt.Sprintf("iteration cap %d reached with scaled residual %.3g", s.cfg.MaxIterations, bestRes),
	}, nil
}

// distinct returns the index of the first converged candidate of every
// group of materially equal fixed points, in seed order.
func (s *Solver) distinct(cands []Candidate, free []int) []int {
	var reps []int
	for i, c := range cands {
		if c.Status != Converged {
			continue
		}
		same := false
		for _, r := range reps {
			if len(s.differing(cands[r].Values, c.Values, free)) == 0 {
				same = true
				break
			}
		}
		if !same {
			reps = append(reps, i)
		}
	}
	return reps
}

func (s *Solver) differing(a, b dynamo.State, free []int) []int {
	var out []int
	for _, i := range free {
		gap := math.Abs(a[i] - b[i])
		if gap <= s.cfg.Tolerance {
			continue
		}
		if gap/math.Max(math.Abs(a[i]), math.Abs(b[i])) > s.cfg.MaterialDifference {
			out = append(out, i)
		}
	}
	return out
}

func (s *Solver) ambiguity(net *network.Network, cands []Candidate, reps []int, free []int) dynamo.Diagnostic {
	seen := map[int]bool{}
	names := make([]string, len(reps))
	for k, r := range reps {
		names[k] = cands[r].Seed
		for _, i := range s.differing(cands[reps[0]].Values, cands[r].Values, free) {
			seen[i] = true
		}
	}
	idx := make([]int, 0, len(seen))
	for i := range seen {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	stocks := make([]string, len(idx))
	for k, i := range idx {
		stocks[k] = net.Stock(i).ID
	}
	return dynamo.Diagnostic{
		Kind:    dynamo.DiagMultipleEquilibria,
		Stocks:  stocks,
		Message: fmt.Sprintf("seeds %s reach materially different equilibria; select one", strings.Join(names, ", ")),
	}
}

// probes places every free stock at the same quantile of its bounds.
func probes(net *network.Network) []Seed {
	var out []Seed
	for _, q := range []float64{0.25, 0.75} {
		seed := Seed{Name: fmt.Sprintf("probe:%.0f%%", 100*q), Values: map[string]float64{}}
		for _, i := range net.Free() {
			st := net.Stock(i)
			seed.Values[st.ID] = st.Bounds.Min + q*(st.Bounds.Max-st.Bounds.Min)
		}
		out = append(out, seed)
	}
	return out
}

func stuckStocks(sys *system, s dynamo.State) []string {
	f, err := sys.residual(s)
	if err != nil {
		return nil
	}
	sc, err := sys.scales(s)
	if err != nil {
		return nil
	}
	var out []string
	for r, i := range sys.free {
		if math.Abs(f[r])/sc[r] >= DefaultTolerance {
			out = append(out, sys.net.Stock(i).ID)
		}
	}
	return out
}
