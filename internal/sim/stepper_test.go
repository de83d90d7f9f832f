package sim_test

import (
	"context"
	"io"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/stockflow/internal/dynamo"
	"github.com/san-kum/stockflow/internal/forms"
	"github.com/san-kum/stockflow/internal/network"
	"github.com/san-kum/stockflow/internal/rampup"
	"github.com/san-kum/stockflow/internal/sim"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func stock(id string, class network.Class, min, max float64) network.Stock {
	return network.Stock{ID: id, Bounds: dynamo.Bounds{Min: min, Max: max}, Class: class}
}

func linear(id, src, dst string, alpha float64) network.Mechanism {
	return network.Mechanism{ID: id, Source: src, Target: dst, Form: forms.Threshold, Effect: network.Effect{Point: alpha}}
}

func mustNetwork(stocks []network.Stock, mechs []network.Mechanism) *network.Network {
	n, err := network.New(stocks, mechs, network.Options{AllowSelfLoops: true})
	Expect(err).NotTo(HaveOccurred())
	return n
}

func mustPlan(net *network.Network, baseline dynamo.State, iv rampup.Intervention) *rampup.Plan {
	p, err := rampup.NewPlan(net, baseline, iv, sim.MaxHorizon)
	Expect(err).NotTo(HaveOccurred())
	return p
}

func step(stock string, value float64) rampup.Intervention {
	return rampup.Intervention{
		Name:    "step " + stock,
		Targets: []rampup.Target{{Stock: stock, Value: value}},
		Ramp:    rampup.Ramp{Kind: rampup.Step},
	}
}

func run(net *network.Network, baseline dynamo.State, iv rampup.Intervention) *dynamo.Trajectory {
	st, err := sim.New(net, sim.DefaultConfig(), quiet)
	Expect(err).NotTo(HaveOccurred())
	traj, err := st.Run(context.Background(), baseline, mustPlan(net, baseline, iv))
	Expect(err).NotTo(HaveOccurred())
	return traj
}

func series(t *dynamo.Trajectory, id string) []float64 {
	i := t.Index(id)
	Expect(i).To(BeNumerically(">=", 0))
	return t.Series(i)
}

var _ = Describe("Stepper", func() {
	Describe("a balancing network with a saturating form", func() {
		var net *network.Network
		baseline := dynamo.State{2, 20}

		BeforeEach(func() {
			net = mustNetwork(
				[]network.Stock{stock("X", network.Fixed, 0, 100), stock("Y", network.Free, 0, 200)},
				[]network.Mechanism{{
					ID: "xy", Source: "X", Target: "Y",
					Form:    forms.MultiplicativeDampening,
					Params:  forms.Params{Max: 100},
					Effect:  network.Effect{Point: 10},
					Latency: network.Latency{Type: "infrastructure"},
				}},
			)
		})

		It("converges within the default horizon", func() {
			traj := run(net, baseline, step("X", 10))

			Expect(traj.Phase).To(Equal(dynamo.PhaseConverged))
			Expect(traj.Converged).To(BeTrue())
			Expect(traj.ConvergenceYear).To(Equal(4))
			Expect(traj.Cause).To(Equal(dynamo.CauseNone))

			y := series(traj, "Y")
			Expect(y).To(HaveLen(5))
			Expect(y[0]).To(Equal(20.0))
			Expect(y[1]).To(BeNumerically("~", 58.4, 1e-9))
			Expect(y[2]).To(BeNumerically("~", 81.44, 1e-9))
			Expect(y[3]).To(BeNumerically("~", 84, 1e-9))
			Expect(traj.Final[1]).To(BeNumerically("~", 84, 1e-9))
		})

		It("stays exactly at baseline without a change", func() {
			traj := run(net, baseline, step("X", 2))

			Expect(traj.Phase).To(Equal(dynamo.PhaseConverged))
			Expect(traj.ConvergenceYear).To(Equal(sim.DefaultMinYears))
			for _, s := range traj.Values {
				Expect(s).To(Equal(baseline))
			}
		})

		It("notifies observers once per recorded year", func() {
			st, err := sim.New(net, sim.DefaultConfig(), quiet)
			Expect(err).NotTo(HaveOccurred())
			var years []int
			st.AddObserver(sim.ObserverFunc(func(year int, _ dynamo.State, _ dynamo.Phase) {
				years = append(years, year)
			}))

			traj, err := st.Run(context.Background(), baseline, mustPlan(net, baseline, step("X", 10)))
			Expect(err).NotTo(HaveOccurred())
			Expect(years).To(Equal([]int{0, 1, 2, 3, 4}))
			Expect(traj.Years()).To(Equal(len(years)))
		})

		It("carries the discount rate without discounting", func() {
			iv := step("X", 10)
			iv.DiscountRate = 0.03
			traj := run(net, baseline, iv)

			Expect(traj.DiscountRate).To(Equal(0.03))
			Expect(series(traj, "Y")[3]).To(BeNumerically("~", 84, 1e-9))
		})

		It("returns the partial trajectory when cancelled", func() {
			st, err := sim.New(net, sim.DefaultConfig(), quiet)
			Expect(err).NotTo(HaveOccurred())
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			traj, err := st.Run(ctx, baseline, mustPlan(net, baseline, step("X", 10)))
			Expect(err).To(MatchError(context.Canceled))
			Expect(traj.Values).To(HaveLen(1))
		})

		It("rejects a horizon past the hard cap", func() {
			st, err := sim.New(net, sim.DefaultConfig(), quiet)
			Expect(err).NotTo(HaveOccurred())
			iv := step("X", 10)
			iv.Horizon = 25

			_, err = st.Run(context.Background(), baseline, mustPlan(net, baseline, iv))
			Expect(err).To(MatchError(dynamo.ErrInvalidConfig))
		})
	})

	Describe("two stocks with equal and opposite linear flows", func() {
		It("is flagged as oscillating instead of silently averaged", func() {
			net := mustNetwork(
				[]network.Stock{
					stock("A", network.Free, 0, 10),
					stock("B", network.Free, 0, 10),
					stock("C", network.Fixed, 0, 10),
				},
				[]network.Mechanism{
					linear("ca", "C", "A", 1),
					linear("cb", "C", "B", 1),
					linear("ab", "A", "B", -2),
					linear("ba", "B", "A", -2),
				},
			)
			iv := step("C", 1)
			iv.Horizon = sim.MaxHorizon

			traj := run(net, dynamo.State{0, 0, 0}, iv)

			Expect(traj.Phase).To(Equal(dynamo.PhaseNonConvergent))
			Expect(traj.Cause).To(Equal(dynamo.CauseOscillation))
			Expect(traj.Converged).To(BeFalse())
			Expect(series(traj, "A")).To(Equal([]float64{0, 1, 0, 1, 0}))

			// Mean of the last five years, not the final snapshot.
			Expect(traj.Final[0]).To(BeNumerically("~", 0.4, 1e-12))
			Expect(traj.Final[1]).To(BeNumerically("~", 0.4, 1e-12))

			Expect(traj.Diagnostics).To(ContainElement(SatisfyAll(
				HaveField("Kind", dynamo.DiagOscillation),
				HaveField("Stocks", ConsistOf("A", "B")),
				HaveField("Mechanisms", Equal([]string{"ab", "ba"})),
			)))
		})
	})

	Describe("an unsaturated inflow", func() {
		It("halts as soon as a stock passes 1.5x its maximum", func() {
			net := mustNetwork(
				[]network.Stock{stock("X", network.Fixed, 0, 100), stock("Y", network.Free, 0, 10)},
				[]network.Mechanism{linear("xy", "X", "Y", 1)},
			)
			traj := run(net, dynamo.State{0, 0}, step("X", 10))

			Expect(traj.Phase).To(Equal(dynamo.PhaseNonConvergent))
			Expect(traj.Cause).To(Equal(dynamo.CauseUnboundedGrowth))
			Expect(traj.Values).To(HaveLen(2))
			Expect(traj.Final).To(Equal(dynamo.State{10, 10}))
			Expect(traj.Diagnostics).To(ContainElement(SatisfyAll(
				HaveField("Kind", dynamo.DiagUnboundedGrowth),
				HaveField("Year", 2),
				HaveField("Stocks", Equal([]string{"Y"})),
				HaveField("Mechanisms", Equal([]string{"xy"})),
			)))
		})
	})

	Describe("a slowly drifting network", func() {
		var net *network.Network
		ramp := rampup.Intervention{
			Targets: []rampup.Target{{Stock: "X", Value: 30}},
			Ramp:    rampup.Ramp{Kind: rampup.Linear, FullYears: 30},
		}

		BeforeEach(func() {
			net = mustNetwork(
				[]network.Stock{stock("X", network.Fixed, 0, 100), stock("Y", network.Free, 0, 1000)},
				[]network.Mechanism{linear("xy", "X", "Y", 0.01)},
			)
		})

		It("expires at the user horizon", func() {
			traj := run(net, dynamo.State{0, 0}, ramp)

			Expect(traj.Phase).To(Equal(dynamo.PhaseHorizonExpired))
			Expect(traj.Cause).To(Equal(dynamo.CauseNone))
			Expect(traj.Values).To(HaveLen(sim.DefaultHorizon + 1))
		})

		It("is non-convergent when it reaches the hard cap", func() {
			iv := ramp
			iv.Horizon = sim.MaxHorizon
			traj := run(net, dynamo.State{0, 0}, iv)

			Expect(traj.Phase).To(Equal(dynamo.PhaseNonConvergent))
			Expect(traj.Cause).To(Equal(dynamo.CauseSlowDrift))
			Expect(traj.Values).To(HaveLen(sim.MaxHorizon + 1))
			Expect(traj.Final).To(Equal(traj.Last()))
			Expect(traj.Diagnostics).To(ContainElement(SatisfyAll(
				HaveField("Kind", dynamo.DiagNonConvergence),
				HaveField("Stocks", ContainElements("X", "Y")),
			)))
		})
	})

	Describe("crisis endpoints", func() {
		build := func(crisis bool) *network.Network {
			z := stock("Z", network.Free, 0, 10)
			z.CrisisEndpoint = crisis
			return mustNetwork(
				[]network.Stock{stock("X", network.Fixed, 0, 1), z},
				[]network.Mechanism{linear("xz", "X", "Z", 1)},
			)
		}

		It("hold convergence to a relative tolerance", func() {
			traj := run(build(true), dynamo.State{0, 0.1}, step("X", 0.004))
			Expect(traj.Phase).To(Equal(dynamo.PhaseHorizonExpired))
		})

		It("are otherwise judged by the absolute tolerance", func() {
			traj := run(build(false), dynamo.State{0, 0.1}, step("X", 0.004))
			Expect(traj.Phase).To(Equal(dynamo.PhaseConverged))
			Expect(traj.ConvergenceYear).To(Equal(3))
		})
	})

	It("surfaces domain errors as simulation errors", func() {
		net := mustNetwork(
			[]network.Stock{stock("S", network.Fixed, -10, 10), stock("T", network.Free, 0, 10)},
			[]network.Mechanism{{ID: "log", Source: "S", Target: "T", Form: forms.Logarithmic, Effect: network.Effect{Point: 1}}},
		)
		st, err := sim.New(net, sim.DefaultConfig(), quiet)
		Expect(err).NotTo(HaveOccurred())

		baseline := dynamo.State{-1, 0}
		_, err = st.Run(context.Background(), baseline, mustPlan(net, baseline, step("S", 1)))
		Expect(err).To(MatchError(dynamo.ErrDomain))

		var simErr *dynamo.SimulationError
		Expect(err).To(BeAssignableToTypeOf(simErr))
	})
})

var _ = Describe("Detector", func() {
	cfg := sim.DefaultConfig()

	It("waits for the minimum number of years", func() {
		d := sim.NewDetector(cfg, 1, nil)
		for year := 0; year < cfg.MinYears; year++ {
			v, _ := d.Observe(year, []float64{1})
			Expect(v).To(Equal(sim.Continue))
		}
		v, _ := d.Observe(cfg.MinYears, []float64{1})
		Expect(v).To(Equal(sim.Settled))
	})

	It("needs the configured number of alternations", func() {
		d := sim.NewDetector(cfg, 2, nil)
		values := [][]float64{{0, 5}, {1, 5}, {0, 5}, {1, 5}}
		for year, s := range values {
			v, _ := d.Observe(year, s)
			Expect(v).To(Equal(sim.Continue), "year %d", year)
		}
		v, stocks := d.Observe(4, []float64{0, 5})
		Expect(v).To(Equal(sim.Oscillating))
		Expect(stocks).To(Equal([]int{0}))
	})

	It("resets a streak when the alternation breaks", func() {
		d := sim.NewDetector(cfg, 1, nil)
		for year, x := range []float64{0, 1, 0, 1, 2, 1, 2} {
			v, _ := d.Observe(year, []float64{x})
			Expect(v).To(Equal(sim.Continue), "year %d", year)
		}
	})
})

var _ = DescribeTable("Config.Validate",
	func(mutate func(*sim.Config), ok bool) {
		cfg := sim.DefaultConfig()
		mutate(&cfg)
		if ok {
			Expect(cfg.Validate()).To(Succeed())
		} else {
			Expect(cfg.Validate()).To(MatchError(dynamo.ErrInvalidConfig))
		}
	},
	Entry("defaults", func(*sim.Config) {}, true),
	Entry("horizon at hard cap", func(c *sim.Config) { c.Horizon = 20 }, true),
	Entry("zero horizon", func(c *sim.Config) { c.Horizon = 0 }, false),
	Entry("horizon past hard cap", func(c *sim.Config) { c.HardCap = 10; c.Horizon = 12 }, false),
	Entry("hard cap above 20", func(c *sim.Config) { c.HardCap = 30 }, false),
	Entry("zero epsilon", func(c *sim.Config) { c.Epsilon = 0 }, false),
	Entry("growth factor of one", func(c *sim.Config) { c.GrowthFactor = 1 }, false),
)
