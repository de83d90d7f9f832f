package scenario

import (
	"context"
	"log/slog"

	"github.com/san-kum/stockflow/internal/analysis"
	"github.com/san-kum/stockflow/internal/config"
	"github.com/san-kum/stockflow/internal/dynamo"
	"github.com/san-kum/stockflow/internal/metrics"
	"github.com/san-kum/stockflow/internal/network"
	"github.com/san-kum/stockflow/internal/rampup"
	"github.com/san-kum/stockflow/internal/sim"
	"github.com/san-kum/stockflow/internal/solver"
	"github.com/san-kum/stockflow/internal/uncertainty"
)

// growthYear is the later year compared by the band-width check.
const growthYear = 5

// Baseline is a resolved network together with its equilibrium.
type Baseline struct {
	Net      *network.Network
	Solution *solver.Solution
}

// Outcome collects everything one run produced. Growth, Failures and
// Phases are set by Quantify only.
type Outcome struct {
	Scenario   string
	Baseline   *Baseline
	Trajectory *dynamo.Trajectory
	Metrics    map[string]float64
	Growth     *analysis.Growth
	Failures   []uncertainty.Failure
	Phases     map[dynamo.Phase]int
}

type Runner struct {
	cfg       *config.Config
	logger    *slog.Logger
	solver    *solver.Solver
	observers []sim.Observer
}

func NewRunner(cfg *config.Config, logger *slog.Logger) (*Runner, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	sv, err := solver.New(cfg.Solver, logger)
	if err != nil {
		return nil, err
	}
	return &Runner{cfg: cfg, logger: logger, solver: sv}, nil
}

// AddObserver registers an observer on every deterministic simulation.
func (r *Runner) AddObserver(o sim.Observer) { r.observers = append(r.observers, o) }

func (r *Runner) Config() *config.Config { return r.cfg }

func (r *Runner) Network(sc *Scenario) (*network.Network, error) {
	return Build(sc, network.Options{
		AllowSelfLoops: r.cfg.Network.AllowSelfLoops,
		Context:        r.cfg.Network.Context,
		MaxLoops:       r.cfg.Network.MaxLoops,
	})
}

// Solve finds the scenario's equilibrium. An ambiguous result is resolved
// only through the scenario's Select seed; otherwise it is returned with
// ErrMultipleEquilibria. Mismatch failures and non-convergence also come
// back with the baseline attached.
func (r *Runner) Solve(sc *Scenario) (*Baseline, error) {
	net, err := r.Network(sc)
	if err != nil {
		return nil, err
	}
	sol, err := r.solver.Solve(net, sc.Known, sc.Seeds)
	if sol == nil {
		return nil, err
	}
	b := &Baseline{Net: net, Solution: sol}
	if err != nil {
		return b, err
	}

	if sol.Status == solver.Ambiguous && sc.Select != "" {
		sel, err := sol.Select(sc.Select)
		if sel == nil {
			return b, err
		}
		b.Solution = sel
		if err != nil {
			return b, err
		}
		r.logger.Info("equilibrium selected", "scenario", sc.Name, "seed", sc.Select)
	}
	return b, b.Solution.Err()
}

// Simulate solves the baseline and steps the scenario's intervention
// through it.
func (r *Runner) Simulate(ctx context.Context, sc *Scenario) (*Outcome, error) {
	b, err := r.Solve(sc)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Scenario: sc.Name, Baseline: b}
	set := metrics.Standard(b.Net, b.Solution.Values)
	out.Trajectory, err = r.step(ctx, b, sc.Intervention, set)
	if err != nil {
		return out, err
	}
	out.Metrics = set.Values()
	r.logger.Info("simulation finished",
		"scenario", sc.Name,
		"phase", out.Trajectory.Phase,
		"years", out.Trajectory.Years()-1,
		"cause", out.Trajectory.Cause,
	)
	return out, nil
}

func (r *Runner) step(ctx context.Context, b *Baseline, iv rampup.Intervention, extra ...sim.Observer) (*dynamo.Trajectory, error) {
	plan, err := rampup.NewPlan(b.Net, b.Solution.Values, iv, r.cfg.Stepper.HardCap)
	if err != nil {
		return nil, err
	}
	st, err := sim.New(b.Net, r.cfg.Stepper, r.logger)
	if err != nil {
		return nil, err
	}
	for _, o := range r.observers {
		st.AddObserver(o)
	}
	for _, o := range extra {
		st.AddObserver(o)
	}
	return st.Run(ctx, b.Solution.Values, plan)
}

// Quantify runs Simulate and then the replay engine, attaching percentile
// bands to the deterministic trajectory. Replays start from the adopted
// equilibrium and are anchored on the deterministic year 0.
func (r *Runner) Quantify(ctx context.Context, sc *Scenario) (*Outcome, error) {
	out, err := r.Simulate(ctx, sc)
	if err != nil {
		return out, err
	}
	eng, err := uncertainty.New(r.cfg.Uncertainty, r.logger)
	if err != nil {
		return out, err
	}

	scfg := r.cfg.Solver
	scfg.ProbeBounds = false
	res, err := eng.Run(ctx, uncertainty.Job{
		Net:          out.Baseline.Net,
		Known:        sc.Known,
		Seed:         baselineSeed(out.Baseline),
		Anchor:       out.Trajectory.Values[0],
		Intervention: sc.Intervention,
		Solver:       scfg,
		Stepper:      r.cfg.Stepper,
	})
	if res != nil {
		out.Failures = res.Failures
		out.Phases = res.Phases
	}
	if err != nil {
		return out, err
	}
	out.Trajectory.Bands = res.Bands

	if to := min(growthYear, res.Bands.Years()-1); to > 1 {
		g, err := analysis.WidthGrowth(res.Bands, out.Baseline.Net, 1, to)
		if err != nil {
			return out, err
		}
		out.Growth = &g
		if g.Eligible > 0 && g.Share < 0.9 {
			r.logger.Warn("uncertainty bands not widening", "scenario", sc.Name, "share", g.Share, "from", 1, "to", to)
		}
	}
	return out, nil
}

func baselineSeed(b *Baseline) solver.Seed {
	seed := solver.Seed{Name: "baseline", Values: map[string]float64{}}
	for _, i := range b.Net.Free() {
		seed.Values[b.Net.Stock(i).ID] = b.Solution.Values[i]
	}
	return seed
}
