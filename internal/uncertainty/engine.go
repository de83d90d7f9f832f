// Package uncertainty replays the solve-and-step pipeline under sampled
// effect sizes and latency profiles and aggregates the replays into
// percentile bands.
package uncertainty

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/stockflow/internal/dynamo"
	"github.com/san-kum/stockflow/internal/network"
	"github.com/san-kum/stockflow/internal/rampup"
	"github.com/san-kum/stockflow/internal/sim"
	"github.com/san-kum/stockflow/internal/solver"
)

// Job is everything a replay needs. Net must already be resolved against
// the scenario context; Seed is the initial guess whose equilibrium the
// deterministic run adopted. When Anchor is set, every replay is shifted so
// that its year 0 coincides with Anchor and the bands describe the spread
// of the intervention's effect rather than of the sampled equilibria.
type Job struct {
	Net          *network.Network
	Known        network.Known
	Seed         solver.Seed
	Anchor       dynamo.State
	Intervention rampup.Intervention
	Solver       solver.Config
	Stepper      sim.Config
}

// Failure records a replay that produced no trajectory.
type Failure struct {
	Replay int    `json:"replay"`
	Err    string `json:"error"`
}

type Result struct {
	Bands        *dynamo.Bands
	Trajectories []*dynamo.Trajectory
	Phases       map[dynamo.Phase]int
	Failures     []Failure
}

type Engine struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, logger: logger.With(slog.String("component", "uncertainty"))}, nil
}

func (e *Engine) Config() Config { return e.cfg }

// Run executes the replays in batches across workers. Replay i draws from
// a generator seeded with (Seed, i), so results do not depend on the
// worker count. A failing replay is recorded and never cancels its
// siblings; only cancellation of ctx aborts the run.
func (e *Engine) Run(ctx context.Context, job Job) (*Result, error) {
	if job.Net == nil {
		return nil, fmt.Errorf("%w: job has no network", dynamo.ErrInvalidConfig)
	}
	sv, err := solver.New(job.Solver, e.logger)
	if err != nil {
		return nil, err
	}
	if err := job.Stepper.Validate(); err != nil {
		return nil, err
	}
	if job.Anchor != nil && len(job.Anchor) != job.Net.Len() {
		return nil, fmt.Errorf("%w: anchor has %d stocks, network %d", dynamo.ErrInvalidState, len(job.Anchor), job.Net.Len())
	}

	n := e.cfg.Replays
	trajs := make([]*dynamo.Trajectory, n)
	errs := make([]error, n)

	workers := e.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, b := range dynamo.Batches(n, 4*workers) {
		g.Go(func() error {
			for i := b.Start; i < b.End; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				trajs[i], errs[i] = e.replay(gctx, sv, job, i)
				if errors.Is(errs[i], context.Canceled) || errors.Is(errs[i], context.DeadlineExceeded) {
					return errs[i]
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Trajectories: trajs, Phases: map[dynamo.Phase]int{}}
	var ok []*dynamo.Trajectory
	for i, t := range trajs {
		if errs[i] != nil {
			res.Failures = append(res.Failures, Failure{Replay: i, Err: errs[i].Error()})
			e.logger.Warn("replay failed", "replay", i, "err", errs[i])
			continue
		}
		res.Phases[t.Phase]++
		ok = append(ok, t)
	}
	if len(ok) == 0 {
		return res, fmt.Errorf("uncertainty: all %d replays failed: %s", n, res.Failures[0].Err)
	}
	res.Bands = aggregate(ok, e.cfg.Level)
	res.Bands.Replays = n
	res.Bands.Failed = len(res.Failures)
	e.logger.Info("replays aggregated", "replays", n, "failed", len(res.Failures), "years", res.Bands.Years())
	return res, nil
}

func (e *Engine) replay(ctx context.Context, sv *solver.Solver, job Job, idx int) (*dynamo.Trajectory, error) {
	rng := rand.New(rand.NewPCG(e.cfg.Seed, uint64(idx)))

	net, err := job.Net.WithEffects(sampleEffects(job.Net, rng))
	if err != nil {
		return nil, err
	}
	lat, err := sampleLatency(job.Net, e.cfg.LatencyJitter, rng)
	if err != nil {
		return nil, err
	}
	if net, err = net.WithLatency(lat); err != nil {
		return nil, err
	}

	sol, err := sv.Solve(net, job.Known, []solver.Seed{job.Seed})
	if err != nil {
		return nil, err
	}
	if err := sol.Err(); err != nil {
		return nil, err
	}

	plan, err := rampup.NewPlan(net, sol.Values, job.Intervention, job.Stepper.HardCap)
	if err != nil {
		return nil, err
	}
	st, err := sim.New(net, job.Stepper, e.logger)
	if err != nil {
		return nil, err
	}
	traj, err := st.Run(ctx, sol.Values, plan)
	if err != nil || job.Anchor == nil {
		return traj, err
	}
	reanchor(traj, job.Anchor, net.Bounds())
	return traj, nil
}

// reanchor rewrites every year as anchor + (own year - own year 0),
// clamped to bounds.
func reanchor(t *dynamo.Trajectory, anchor dynamo.State, bounds []dynamo.Bounds) {
	if len(t.Values) == 0 {
		return
	}
	origin := t.Values[0].Clone()
	for y, s := range t.Values {
		shifted, _ := dynamo.ClampState(anchor.Add(s.Sub(origin)), bounds)
		t.Values[y] = shifted
	}
	if t.Final != nil {
		t.Final, _ = dynamo.ClampState(anchor.Add(t.Final.Sub(origin)), bounds)
	}
}

// aggregate computes per-stock, per-year median and two-sided percentile
// bands. Trajectories that stopped early are held at their last value.
func aggregate(trajs []*dynamo.Trajectory, level float64) *dynamo.Bands {
	years := 0
	for _, t := range trajs {
		years = max(years, len(t.Values))
	}
	stocks := len(trajs[0].Stocks)
	b := &dynamo.Bands{
		Level:  level,
		Median: make([][]float64, stocks),
		Lower:  make([][]float64, stocks),
		Upper:  make([][]float64, stocks),
	}
	lo, hi := (1-level)/2, 1-(1-level)/2

	dynamo.ParallelFor(stocks, 1, func(start, end int) {
		xs := make([]float64, len(trajs))
		for s := start; s < end; s++ {
			b.Median[s] = make([]float64, years)
			b.Lower[s] = make([]float64, years)
			b.Upper[s] = make([]float64, years)
			for y := 0; y < years; y++ {
				for r, t := range trajs {
					xs[r] = at(t, y)[s]
				}
				sort.Float64s(xs)
				b.Median[s][y] = stat.Quantile(0.5, stat.Empirical, xs, nil)
				b.Lower[s][y] = stat.Quantile(lo, stat.Empirical, xs, nil)
				b.Upper[s][y] = stat.Quantile(hi, stat.Empirical, xs, nil)
			}
		}
	})
	return b
}

func at(t *dynamo.Trajectory, year int) dynamo.State {
	if year < len(t.Values) {
		return t.Values[year]
	}
	return t.Values[len(t.Values)-1]
}
