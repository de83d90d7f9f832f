package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/san-kum/stockflow/internal/dynamo"
	"github.com/san-kum/stockflow/internal/network"
	"github.com/san-kum/stockflow/internal/rampup"
)

// Observer is notified after every recorded year.
type Observer interface {
	OnYear(year int, s dynamo.State, phase dynamo.Phase)
}

type ObserverFunc func(year int, s dynamo.State, phase dynamo.Phase)

func (f ObserverFunc) OnYear(year int, s dynamo.State, phase dynamo.Phase) { f(year, s, phase) }

// Stepper advances a network year by year from an equilibrium baseline.
// Each mechanism contributes the latency-scaled change of its flow
// relative to the baseline, so an unperturbed network stays put.
type Stepper struct {
	net       *network.Network
	cfg       Config
	logger    *slog.Logger
	observers []Observer
}

func New(net *network.Network, cfg Config, logger *slog.Logger) (*Stepper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Stepper{
		net:    net,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "stepper")),
	}, nil
}

func (s *Stepper) AddObserver(o Observer) { s.observers = append(s.observers, o) }

// run is the mutable state of one Run call.
type run struct {
	traj   *dynamo.Trajectory
	phase  dynamo.Phase
	warned map[int]bool
}

// Run steps until the trajectory converges, the horizon expires or a
// pathology halts it. Numerical outcomes are reported on the trajectory;
// the error is reserved for domain errors, invalid state and
// cancellation, in which case the partial trajectory is returned too.
func (s *Stepper) Run(ctx context.Context, baseline dynamo.State, plan *rampup.Plan) (*dynamo.Trajectory, error) {
	if len(baseline) != s.net.Len() {
		return nil, fmt.Errorf("%w: baseline has %d stocks, network %d", dynamo.ErrInvalidState, len(baseline), s.net.Len())
	}
	if !baseline.IsValid() {
		return nil, &dynamo.SimulationError{Step: 0, State: baseline, Wrapped: dynamo.ErrInvalidState}
	}
	horizon := s.cfg.Horizon
	if h := plan.Intervention.Horizon; h > 0 {
		horizon = h
	}
	if horizon > s.cfg.HardCap {
		return nil, fmt.Errorf("%w: horizon %d exceeds hard cap %d", dynamo.ErrInvalidConfig, horizon, s.cfg.HardCap)
	}

	baseFlows, err := s.net.Flows(baseline)
	if err != nil {
		return nil, &dynamo.SimulationError{Step: 0, State: baseline, Wrapped: err}
	}

	r := &run{
		traj: &dynamo.Trajectory{
			Stocks:       s.net.IDs(),
			Units:        s.net.Units(),
			DiscountRate: plan.Intervention.DiscountRate,
		},
		phase:  dynamo.PhaseInitializing,
		warned: map[int]bool{},
	}
	bounds := s.net.Bounds()
	var crisis []int
	for i, st := range s.net.Stocks() {
		if st.CrisisEndpoint {
			crisis = append(crisis, i)
		}
	}
	det := NewDetector(s.cfg, s.net.Len(), crisis)

	start, clamped := dynamo.ClampState(plan.Apply(baseline, 0), bounds)
	s.noteClamped(r, 0, clamped)
	s.record(r, 0, start)
	det.Observe(0, start)
	r.phase = dynamo.PhaseStepping

	prev := start
	for year := 1; ; year++ {
		select {
		case <-ctx.Done():
			r.traj.Phase = r.phase
			r.traj.Final = prev.Clone()
			return r.traj, ctx.Err()
		default:
		}

		raw, err := s.advance(prev, baseFlows, plan, year)
		if err != nil {
			return s.fail(r, prev, year, err)
		}

		if i, over := s.overshoot(raw); over {
			s.halt(r, prev, year, i, raw[i])
			return r.traj, nil
		}

		next, clamped := dynamo.ClampState(raw, bounds)
		next = plan.Apply(next, year)
		if !next.IsValid() {
			return s.fail(r, prev, year, dynamo.ErrInvalidState)
		}
		s.noteClamped(r, year, clamped)
		s.record(r, year, next)
		s.logger.Debug("year stepped", "year", year, "state", next)

		verdict, osc := det.Observe(year, next)
		switch {
		case verdict == Settled:
			s.finish(r, dynamo.PhaseConverged, dynamo.CauseNone, next)
			r.traj.Converged = true
			r.traj.ConvergenceYear = year
			return r.traj, nil

		case verdict == Oscillating:
			s.oscillation(r, year, osc)
			return r.traj, nil

		case year >= horizon && horizon < s.cfg.HardCap:
			s.finish(r, dynamo.PhaseHorizonExpired, dynamo.CauseNone, next)
			return r.traj, nil

		case year >= s.cfg.HardCap:
			s.finish(r, dynamo.PhaseNonConvergent, dynamo.CauseSlowDrift, next)
			r.traj.Diagnostics = append(r.traj.Diagnostics, dynamo.Diagnostic{
				Kind:    dynamo.DiagNonConvergence,
				Year:    year,
				Stocks:  s.moving(prev, next),
				Message: fmt.Sprintf("still drifting after the %d-year hard cap", s.cfg.HardCap),
			})
			s.logger.Warn("trajectory did not converge", "cause", dynamo.CauseSlowDrift, "year", year)
			return r.traj, nil
		}
		prev = next
	}
}

// advance returns the unclamped state for year.
func (s *Stepper) advance(prev dynamo.State, baseFlows []float64, plan *rampup.Plan, year int) (dynamo.State, error) {
	flows, err := s.net.Flows(prev)
	if err != nil {
		return nil, err
	}
	raw := prev.Clone()
	for m, e := range s.net.Edges() {
		raw[e.Target] += plan.Latency(m, year) * (flows[m] - baseFlows[m])
	}
	return raw, nil
}

// overshoot finds the first stock beyond GrowthFactor times its maximum.
func (s *Stepper) overshoot(raw dynamo.State) (int, bool) {
	for i, v := range raw {
		b := s.net.Stock(i).Bounds
		limit := b.Max * s.cfg.GrowthFactor
		if b.Max <= 0 {
			limit = b.Max + (s.cfg.GrowthFactor-1)*(b.Max-b.Min)
		}
		if v > limit {
			return i, true
		}
	}
	return -1, false
}

func (s *Stepper) halt(r *run, prev dynamo.State, year, stock int, value float64) {
	st := s.net.Stock(stock)
	mechs := s.net.UnsaturatedInflows(stock)
	s.finish(r, dynamo.PhaseNonConvergent, dynamo.CauseUnboundedGrowth, prev)
	r.traj.Diagnostics = append(r.traj.Diagnostics, dynamo.Diagnostic{
		Kind:       dynamo.DiagUnboundedGrowth,
		Year:       year,
		Stocks:     []string{st.ID},
		Mechanisms: mechs,
		Message:    fmt.Sprintf("%s reached %g, beyond %gx its maximum %g; inflows without a saturating form: %v", st.ID, value, s.cfg.GrowthFactor, st.Bounds.Max, mechs),
	})
	s.logger.Warn("unbounded growth", "year", year, "stock", st.ID, "value", value, "mechanisms", mechs)
}

func (s *Stepper) oscillation(r *run, year int, stocks []int) {
	n := len(r.traj.Values)
	from := n - s.cfg.AverageWindow
	if from < 0 {
		from = 0
	}
	s.finish(r, dynamo.PhaseNonConvergent, dynamo.CauseOscillation, dynamo.Average(r.traj.Values[from:]))

	ids := make([]string, len(stocks))
	in := map[string]bool{}
	for k, i := range stocks {
		ids[k] = s.net.Stock(i).ID
		in[ids[k]] = true
	}
	r.traj.Diagnostics = append(r.traj.Diagnostics, dynamo.Diagnostic{
		Kind:       dynamo.DiagOscillation,
		Year:       year,
		Stocks:     ids,
		Mechanisms: s.loopMechanisms(in),
		Message:    fmt.Sprintf("%v alternate with period 2 for %d years; reporting the mean of the last %d years", ids, s.cfg.OscillationCycles, n-from),
	})
	s.logger.Warn("oscillation detected", "year", year, "stocks", ids)
}

// loopMechanisms lists the mechanisms of every feedback loop that passes
// through one of the given stocks.
func (s *Stepper) loopMechanisms(stocks map[string]bool) []string {
	loops, _ := s.net.Loops()
	set := map[string]bool{}
	for _, l := range loops {
		hit := false
		for _, id := range l.Stocks {
			if stocks[id] {
				hit = true
				break
			}
		}
		if hit {
			for _, m := range l.Mechanisms {
				set[m] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func (s *Stepper) moving(prev, next dynamo.State) []string {
	var out []string
	for i := range next {
		if math.Abs(next[i]-prev[i]) >= s.cfg.Epsilon {
			out = append(out, s.net.Stock(i).ID)
		}
	}
	return out
}

func (s *Stepper) noteClamped(r *run, year int, idx []int) {
	for _, i := range idx {
		if r.warned[i] {
			continue
		}
		r.warned[i] = true
		id := s.net.Stock(i).ID
		r.traj.Diagnostics = append(r.traj.Diagnostics, dynamo.Diagnostic{
			Kind:    dynamo.DiagClamped,
			Year:    year,
			Stocks:  []string{id},
			Message: fmt.Sprintf("%s clamped to its bounds", id),
		})
	}
}

func (s *Stepper) record(r *run, year int, state dynamo.State) {
	r.traj.Values = append(r.traj.Values, state)
	for _, o := range s.observers {
		o.OnYear(year, state, r.phase)
	}
}

func (s *Stepper) finish(r *run, phase dynamo.Phase, cause dynamo.Cause, final dynamo.State) {
	r.phase = phase
	r.traj.Phase = phase
	r.traj.Cause = cause
	r.traj.Final = final.Clone()
}

func (s *Stepper) fail(r *run, prev dynamo.State, year int, err error) (*dynamo.Trajectory, error) {
	s.finish(r, dynamo.PhaseNonConvergent, dynamo.CauseNone, prev)
	return r.traj, &dynamo.SimulationError{Step: year, State: prev, Wrapped: err}
}
