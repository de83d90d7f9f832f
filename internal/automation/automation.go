// Package automation scripts runs: batches of scenario runs read from
// YAML, and sweeps of an intervention target across a range.
package automation

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/stockflow/internal/config"
	"github.com/san-kum/stockflow/internal/dynamo"
	"github.com/san-kum/stockflow/internal/rampup"
	"github.com/san-kum/stockflow/internal/scenario"
)

type Kind string

const (
	KindSolve    Kind = "solve"
	KindSimulate Kind = "simulate"
	KindQuantify Kind = "quantify"
)

// Batch is a scripted sequence of runs.
type Batch struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Steps       []Step `yaml:"steps"`
}

// Step names a built-in scenario or a scenario file and the run to do.
// Zero overrides keep the base configuration.
type Step struct {
	Scenario string `yaml:"scenario"`
	File     string `yaml:"file"`
	Kind     Kind   `yaml:"kind"`
	Select   string `yaml:"select"`
	Horizon  int    `yaml:"horizon"`
	Replays  int    `yaml:"replays"`
}

// StepResult is what one step produced. Outcome is nil for solve steps.
type StepResult struct {
	Index    int
	Scenario string
	Kind     Kind
	Baseline *scenario.Baseline
	Outcome  *scenario.Outcome
}

// Trajectory returns the step's trajectory, the baseline as a one-year
// trajectory for solve steps.
func (r StepResult) Trajectory() *dynamo.Trajectory {
	if r.Outcome != nil {
		return r.Outcome.Trajectory
	}
	if r.Baseline != nil {
		return r.Baseline.Solution.Trajectory()
	}
	return nil
}

func LoadBatch(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var b Batch
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse batch %s: %w", path, err)
	}
	for i, s := range b.Steps {
		if (s.Scenario == "") == (s.File == "") {
			return nil, fmt.Errorf("%w: step %d needs exactly one of scenario or file", dynamo.ErrInvalidConfig, i+1)
		}
		switch s.Kind {
		case "":
			b.Steps[i].Kind = KindSimulate
		case KindSolve, KindSimulate, KindQuantify:
		default:
			return nil, fmt.Errorf("%w: step %d: unknown kind %q", dynamo.ErrInvalidConfig, i+1, s.Kind)
		}
	}
	return &b, nil
}

// RunBatch executes every step in order, handing each result to fn as it
// completes. It stops at the first failing step.
func RunBatch(ctx context.Context, base *config.Config, logger *slog.Logger, reg *scenario.Registry, b *Batch, fn func(StepResult) error) error {
	for i, step := range b.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		logger.Info("batch step", "batch", b.Name, "step", i+1, "of", len(b.Steps), "kind", step.Kind)

		res, err := runStep(ctx, base, logger, reg, step)
		if err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		res.Index = i
		if fn != nil {
			if err := fn(res); err != nil {
				return fmt.Errorf("step %d: %w", i+1, err)
			}
		}
	}
	return nil
}

func runStep(ctx context.Context, base *config.Config, logger *slog.Logger, reg *scenario.Registry, step Step) (StepResult, error) {
	var sc *scenario.Scenario
	var err error
	if step.File != "" {
		sc, err = scenario.Load(step.File)
	} else {
		sc, err = reg.Get(step.Scenario)
	}
	if err != nil {
		return StepResult{}, err
	}
	if step.Select != "" {
		sc.Select = step.Select
	}

	cfg := *base
	if step.Horizon > 0 {
		cfg.Stepper.Horizon = step.Horizon
	}
	if step.Replays > 0 {
		cfg.Uncertainty.Replays = step.Replays
	}
	runner, err := scenario.NewRunner(&cfg, logger)
	if err != nil {
		return StepResult{}, err
	}

	res := StepResult{Scenario: sc.Name, Kind: step.Kind}
	switch step.Kind {
	case KindSolve:
		res.Baseline, err = runner.Solve(sc)
	case KindQuantify:
		res.Outcome, err = runner.Quantify(ctx, sc)
	default:
		res.Outcome, err = runner.Simulate(ctx, sc)
	}
	if res.Outcome != nil {
		res.Baseline = res.Outcome.Baseline
	}
	return res, err
}

// Sweep varies one intervention target over [Min, Max] in Steps evenly
// spaced values.
type Sweep struct {
	Stock string
	Min   float64
	Max   float64
	Steps int
}

type SweepPoint struct {
	Target          float64
	Phase           dynamo.Phase
	Converged       bool
	ConvergenceYear int
	Final           dynamo.State
	Metrics         map[string]float64
}

// RunSweep simulates sc once per target value. The scenario itself is not
// modified.
func RunSweep(ctx context.Context, runner *scenario.Runner, sc *scenario.Scenario, sw Sweep) ([]SweepPoint, error) {
	if sw.Steps < 2 {
		return nil, fmt.Errorf("%w: sweep needs at least 2 steps", dynamo.ErrInvalidConfig)
	}
	if sw.Max <= sw.Min {
		return nil, fmt.Errorf("%w: sweep range [%g, %g] is empty", dynamo.ErrInvalidConfig, sw.Min, sw.Max)
	}

	points := make([]SweepPoint, 0, sw.Steps)
	step := (sw.Max - sw.Min) / float64(sw.Steps-1)
	for i := 0; i < sw.Steps; i++ {
		target := sw.Min + float64(i)*step
		run := *sc
		run.Intervention = withTarget(sc.Intervention, sw.Stock, target)

		out, err := runner.Simulate(ctx, &run)
		if err != nil {
			return points, fmt.Errorf("sweep %s=%g: %w", sw.Stock, target, err)
		}
		traj := out.Trajectory
		points = append(points, SweepPoint{
			Target:          target,
			Phase:           traj.Phase,
			Converged:       traj.Converged,
			ConvergenceYear: traj.ConvergenceYear,
			Final:           traj.Final,
			Metrics:         out.Metrics,
		})
	}
	return points, nil
}

// withTarget returns a copy of iv whose target for stock is value.
func withTarget(iv rampup.Intervention, stock string, value float64) rampup.Intervention {
	targets := make([]rampup.Target, 0, len(iv.Targets)+1)
	found := false
	for _, t := range iv.Targets {
		if t.Stock == stock {
			t.Value = value
			found = true
		}
		targets = append(targets, t)
	}
	if !found {
		targets = append(targets, rampup.Target{Stock: stock, Value: value})
	}
	iv.Targets = targets
	return iv
}
