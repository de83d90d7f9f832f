package uncertainty

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"reflect"
	"testing"

	"github.com/san-kum/stockflow/internal/dynamo"
	"github.com/san-kum/stockflow/internal/forms"
	"github.com/san-kum/stockflow/internal/network"
	"github.com/san-kum/stockflow/internal/rampup"
	"github.com/san-kum/stockflow/internal/sim"
	"github.com/san-kum/stockflow/internal/solver"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func linear(id, src, dst string, alpha, stderr float64) network.Mechanism {
	return network.Mechanism{
		ID: id, Source: src, Target: dst,
		Form:   forms.Threshold,
		Effect: network.Effect{Point: alpha, StdErr: stderr},
	}
}

// chainJob is X -> Y -> Z with self-decay on Y and Z. Only the X -> Y
// effect is uncertain.
func chainJob(t *testing.T) Job {
	t.Helper()
	net, err := network.New(
		[]network.Stock{
			{ID: "X", Class: network.Fixed, Bounds: dynamo.Bounds{Min: 0, Max: 100}},
			{ID: "Y", Class: network.Free, Bounds: dynamo.Bounds{Min: 0, Max: 1000}},
			{ID: "Z", Class: network.Free, Bounds: dynamo.Bounds{Min: 0, Max: 1000}},
		},
		[]network.Mechanism{
			linear("xy", "X", "Y", 0.5, 0.05),
			linear("yy", "Y", "Y", -0.1, 0),
			linear("yz", "Y", "Z", 0.2, 0),
			linear("zz", "Z", "Z", -0.1, 0),
		},
		network.Options{AllowSelfLoops: true},
	)
	if err != nil {
		t.Fatalf("network: %v", err)
	}
	return Job{
		Net:   net,
		Known: network.Known{"X": 10},
		Seed:  solver.Seed{Name: "guess", Values: map[string]float64{"Y": 40, "Z": 80}},
		Intervention: rampup.Intervention{
			Name:    "triple X",
			Targets: []rampup.Target{{Stock: "X", Value: 30}},
			Ramp:    rampup.Ramp{Kind: rampup.Step},
		},
		Solver:  solver.DefaultConfig(),
		Stepper: sim.DefaultConfig(),
	}
}

func TestRun_WidthGrows(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LatencyJitter = 0
	eng, err := New(cfg, quiet)
	if err != nil {
		t.Fatal(err)
	}
	job := chainJob(t)

	res, err := eng.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Failures) != 0 {
		t.Fatalf("unexpected failures: %v", res.Failures)
	}
	b := res.Bands
	if b.Years() != sim.DefaultHorizon+1 {
		t.Fatalf("expected %d years, got %d", sim.DefaultHorizon+1, b.Years())
	}
	if b.Replays != cfg.Replays || b.Failed != 0 {
		t.Errorf("replays %d failed %d", b.Replays, b.Failed)
	}

	for _, id := range []string{"Y", "Z"} {
		i, _ := job.Net.Index(id)
		w1, w5 := b.Width(i, 1), b.Width(i, 5)
		if w5 <= w1 {
			t.Errorf("%s: width at year 5 (%g) should exceed year 1 (%g)", id, w5, w1)
		}
		for y := 0; y < b.Years(); y++ {
			if !(b.Lower[i][y] <= b.Median[i][y] && b.Median[i][y] <= b.Upper[i][y]) {
				t.Errorf("%s year %d: bands out of order %g %g %g", id, y, b.Lower[i][y], b.Median[i][y], b.Upper[i][y])
			}
		}
	}

	// The fixed stock follows the plan in every replay.
	x, _ := job.Net.Index("X")
	if b.Width(x, 3) != 0 || b.Median[x][3] != 30 {
		t.Errorf("X band at year 3: median %g width %g", b.Median[x][3], b.Width(x, 3))
	}
	if res.Phases[dynamo.PhaseHorizonExpired] != cfg.Replays {
		t.Errorf("phases: %v", res.Phases)
	}
}

func TestRun_IndependentOfWorkers(t *testing.T) {
	job := chainJob(t)
	run := func(workers int) *dynamo.Bands {
		cfg := DefaultConfig()
		cfg.Replays = 40
		cfg.Workers = workers
		eng, err := New(cfg, quiet)
		if err != nil {
			t.Fatal(err)
		}
		res, err := eng.Run(context.Background(), job)
		if err != nil {
			t.Fatalf("workers=%d: %v", workers, err)
		}
		return res.Bands
	}

	one, many := run(1), run(3)
	if !reflect.DeepEqual(one, many) {
		t.Error("bands depend on the worker count")
	}
	if again := run(3); !reflect.DeepEqual(many, again) {
		t.Error("bands differ between identical runs")
	}
}

func TestRun_Anchored(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Replays = 40
	eng, err := New(cfg, quiet)
	if err != nil {
		t.Fatal(err)
	}
	job := chainJob(t)
	job.Anchor = dynamo.State{30, 50, 100}

	res, err := eng.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	b := res.Bands
	for i, want := range job.Anchor {
		if b.Median[i][0] != want || b.Width(i, 0) != 0 {
			t.Errorf("stock %d year 0: median %g width %g, want %g and 0", i, b.Median[i][0], b.Width(i, 0), want)
		}
	}
	for _, id := range []string{"Y", "Z"} {
		i, _ := job.Net.Index(id)
		if w1, w5 := b.Width(i, 1), b.Width(i, 5); w5 <= w1 {
			t.Errorf("%s: width at year 5 (%g) should exceed year 1 (%g)", id, w5, w1)
		}
	}
	for _, tr := range res.Trajectories {
		if tr == nil {
			continue
		}
		if !reflect.DeepEqual(tr.Values[0], job.Anchor) {
			t.Fatalf("replay starts at %v, want %v", tr.Values[0], job.Anchor)
		}
	}
}

func TestRun_AnchorLength(t *testing.T) {
	eng, err := New(DefaultConfig(), quiet)
	if err != nil {
		t.Fatal(err)
	}
	job := chainJob(t)
	job.Anchor = dynamo.State{1, 2}
	if _, err := eng.Run(context.Background(), job); !errors.Is(err, dynamo.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestRun_AllReplaysFail(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Replays = 5
	eng, err := New(cfg, quiet)
	if err != nil {
		t.Fatal(err)
	}
	job := chainJob(t)
	job.Known = network.Known{}

	res, err := eng.Run(context.Background(), job)
	if err == nil {
		t.Fatal("expected error when every replay fails")
	}
	if res == nil || len(res.Failures) != 5 || res.Bands != nil {
		t.Fatalf("expected 5 recorded failures and no bands, got %+v", res)
	}
}

func TestRun_Cancelled(t *testing.T) {
	eng, err := New(DefaultConfig(), quiet)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := eng.Run(ctx, chainJob(t)); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestTruncatedNormal_KeepsSign(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 0))
	for i := 0; i < 1000; i++ {
		if v := truncatedNormal(rng, 0.1, 1); v < 0 {
			t.Fatalf("draw %d flipped sign: %g", i, v)
		}
		if v := truncatedNormal(rng, -0.1, 1); v > 0 {
			t.Fatalf("draw %d flipped sign: %g", i, v)
		}
	}
}

func TestRelativeSigma(t *testing.T) {
	tests := []struct {
		name  string
		eff   network.Effect
		alpha float64
		want  float64
	}{
		{"std err", network.Effect{Point: 0.5, StdErr: 0.1}, 0.5, 0.1},
		{"moderated", network.Effect{Point: 0.5, StdErr: 0.1}, 1.0, 0.2},
		{"no uncertainty", network.Effect{Point: 0.5}, 0.5, 0},
		{"zero point", network.Effect{StdErr: 0.1}, 0.3, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := relativeSigma(tt.eff, tt.alpha); got != tt.want {
				t.Errorf("got %g, want %g", got, tt.want)
			}
		})
	}
}

func TestSampleLatency(t *testing.T) {
	job := chainJob(t)
	rng := rand.New(rand.NewPCG(3, 0))

	none, err := sampleLatency(job.Net, 0, rng)
	if err != nil {
		t.Fatal(err)
	}
	for i, y := range none {
		if y != nil {
			t.Errorf("mechanism %d: zero jitter should keep the declared profile", i)
		}
	}

	for k := 0; k < 200; k++ {
		got, err := sampleLatency(job.Net, 0.5, rng)
		if err != nil {
			t.Fatal(err)
		}
		for _, years := range got {
			prev := 0.0
			for _, v := range years {
				if v < 0 || v > 1 || v < prev {
					t.Fatalf("invalid perturbed profile %v", years)
				}
				prev = v
			}
		}
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"target replays", func(c *Config) { c.Replays = TargetReplays }, true},
		{"no replays", func(c *Config) { c.Replays = 0 }, false},
		{"negative workers", func(c *Config) { c.Workers = -1 }, false},
		{"level one", func(c *Config) { c.Level = 1 }, false},
		{"negative jitter", func(c *Config) { c.LatencyJitter = -0.1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, dynamo.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
