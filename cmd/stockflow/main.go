package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/san-kum/stockflow/internal/automation"
	"github.com/san-kum/stockflow/internal/config"
	"github.com/san-kum/stockflow/internal/dynamo"
	"github.com/san-kum/stockflow/internal/export"
	"github.com/san-kum/stockflow/internal/logging"
	"github.com/san-kum/stockflow/internal/metrics"
	"github.com/san-kum/stockflow/internal/scenario"
	"github.com/san-kum/stockflow/internal/storage"
	"github.com/san-kum/stockflow/internal/viz"
)

var (
	dataDir    string
	configFile string
	preset     string
	logLevel   string
	logFormat  string
	theme      string
	// Scenario file, used instead of a built-in scenario name
	scenarioFile string
	noSave       bool
	// Overrides applied over config and preset
	horizon  int
	replays  int
	workers  int
	seed     uint64
	selected string
	// Plot and export
	stocks     []string
	width      int
	height     int
	outPath    string
	listFilter string
	// Sweep range
	sweepStock string
	sweepMin   float64
	sweepMax   float64
	sweepSteps int
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "stockflow",
		Short:         "stock-flow equilibrium and intervention simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "", "run directory (overrides config storage.dir)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml)")
	rootCmd.PersistentFlags().StringVar(&preset, "preset", "", "use preset configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&theme, "theme", viz.CurrentTheme.Name, "color theme ("+strings.Join(viz.ThemeNames(), ", ")+")")

	solveCmd := &cobra.Command{
		Use:   "solve [scenario]",
		Short: "solve the baseline equilibrium",
		Args:  cobra.MaximumNArgs(1),
		RunE:  solveScenario,
	}
	addScenarioFlags(solveCmd)

	simulateCmd := &cobra.Command{
		Use:   "simulate [scenario]",
		Short: "step an intervention through the baseline",
		Args:  cobra.MaximumNArgs(1),
		RunE:  simulateScenario,
	}
	addScenarioFlags(simulateCmd)
	simulateCmd.Flags().IntVar(&horizon, "horizon", 0, "simulation horizon in years")

	quantifyCmd := &cobra.Command{
		Use:   "quantify [scenario]",
		Short: "simulate with uncertainty bands",
		Args:  cobra.MaximumNArgs(1),
		RunE:  quantifyScenario,
	}
	addScenarioFlags(quantifyCmd)
	quantifyCmd.Flags().IntVar(&horizon, "horizon", 0, "simulation horizon in years")
	quantifyCmd.Flags().IntVar(&replays, "replays", 0, "number of replays")
	quantifyCmd.Flags().IntVar(&workers, "workers", 0, "replay workers (0 = GOMAXPROCS)")
	quantifyCmd.Flags().Uint64Var(&seed, "seed", 0, "random seed")

	loopsCmd := &cobra.Command{
		Use:   "loops [scenario]",
		Short: "list feedback loops and their polarity",
		Args:  cobra.MaximumNArgs(1),
		RunE:  listLoops,
	}
	loopsCmd.Flags().StringVar(&scenarioFile, "file", "", "scenario file (yaml)")

	scenariosCmd := &cobra.Command{
		Use:   "scenarios",
		Short: "list built-in scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := scenario.NewRegistry()
			for _, name := range reg.List() {
				sc, _ := reg.Get(name)
				fmt.Printf("  %-16s %s\n", name, sc.Description)
			}
			return nil
		},
	}

	dumpCmd := &cobra.Command{
		Use:   "dump [scenario] [path]",
		Short: "write a built-in scenario to a yaml file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := scenario.NewRegistry().Get(args[0])
			if err != nil {
				return err
			}
			return sc.Save(args[1])
		},
	}

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range config.ListPresets() {
				cfg := config.GetPreset(p)
				fmt.Printf("  %-8s horizon %d, replays %d\n", p, cfg.Stepper.Horizon, cfg.Uncertainty.Replays)
			}
			return nil
		},
	}

	initConfigCmd := &cobra.Command{
		Use:   "init-config [path]",
		Short: "write the effective configuration to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return config.Save(args[0], cfg)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}
	listCmd.Flags().StringVar(&listFilter, "scenario", "", "only runs of this scenario")

	showCmd := &cobra.Command{
		Use:   "show [run_id]",
		Short: "show a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  showRun,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot run results",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringSliceVar(&stocks, "stock", nil, "stocks to plot (default: first six)")
	plotCmd.Flags().IntVar(&width, "width", 60, "plot width")
	plotCmd.Flags().IntVar(&height, "height", 10, "plot height")

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export run data to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}
	exportJSONCmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default: stdout)")

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [run_id]",
		Short: "export run data to CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  exportCSV,
	}
	exportCSVCmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default: <run_id>.csv)")

	deleteCmd := &cobra.Command{
		Use:   "delete [run_id]",
		Short: "delete a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  deleteRun,
	}

	browseCmd := &cobra.Command{
		Use:   "browse",
		Short: "browse stored runs interactively",
		RunE:  browseRuns,
	}

	exportSVGCmd := &cobra.Command{
		Use:   "export-svg [run_id]",
		Short: "export one stock of a run to SVG",
		Args:  cobra.ExactArgs(1),
		RunE:  exportSVG,
	}
	exportSVGCmd.Flags().StringSliceVar(&stocks, "stock", nil, "stock to draw (required)")
	exportSVGCmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default: <run_id>_<stock>.svg)")
	exportSVGCmd.Flags().IntVar(&width, "width", 640, "image width")
	exportSVGCmd.Flags().IntVar(&height, "height", 320, "image height")

	batchCmd := &cobra.Command{
		Use:   "batch [file]",
		Short: "run a scripted batch of scenario runs",
		Args:  cobra.ExactArgs(1),
		RunE:  runBatch,
	}
	batchCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the runs")

	sweepCmd := &cobra.Command{
		Use:   "sweep [scenario]",
		Short: "simulate across a range of intervention targets",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSweep,
	}
	sweepCmd.Flags().StringVar(&scenarioFile, "file", "", "scenario file (yaml)")
	sweepCmd.Flags().StringVar(&selected, "select", "", "seed to adopt when several equilibria are found")
	sweepCmd.Flags().StringVar(&sweepStock, "stock", "", "targeted stock (default: first intervention target)")
	sweepCmd.Flags().Float64Var(&sweepMin, "min", 0, "lowest target value")
	sweepCmd.Flags().Float64Var(&sweepMax, "max", 0, "highest target value")
	sweepCmd.Flags().IntVar(&sweepSteps, "steps", 5, "number of target values")

	rootCmd.AddCommand(solveCmd, simulateCmd, quantifyCmd, loopsCmd, scenariosCmd, dumpCmd, presetsCmd,
		initConfigCmd, listCmd, showCmd, plotCmd, exportJSONCmd, exportCSVCmd, exportSVGCmd, deleteCmd,
		browseCmd, batchCmd, sweepCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func addScenarioFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&scenarioFile, "file", "", "scenario file (yaml)")
	cmd.Flags().StringVar(&selected, "select", "", "seed to adopt when several equilibria are found")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")
}

// loadConfig layers defaults, config file, preset and flags, in that order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	if preset != "" && !cfg.Apply(preset) {
		return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
	}

	flags := cmd.Flags()
	if flags.Changed("horizon") {
		cfg.Stepper.Horizon = horizon
	}
	if flags.Changed("replays") {
		cfg.Uncertainty.Replays = replays
	}
	if flags.Changed("workers") {
		cfg.Uncertainty.Workers = workers
	}
	if flags.Changed("seed") {
		cfg.Uncertainty.Seed = seed
	}
	if dataDir != "" {
		cfg.Storage.Dir = dataDir
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if !viz.SetTheme(theme) {
		return nil, fmt.Errorf("unknown theme: %s (available: %v)", theme, viz.ThemeNames())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
}

func loadScenario(args []string) (*scenario.Scenario, error) {
	var sc *scenario.Scenario
	var err error
	switch {
	case scenarioFile != "":
		sc, err = scenario.Load(scenarioFile)
	case len(args) == 1:
		sc, err = scenario.NewRegistry().Get(args[0])
	default:
		return nil, errors.New("name a built-in scenario or pass --file")
	}
	if err != nil {
		return nil, err
	}
	if selected != "" {
		sc.Select = selected
	}
	return sc, nil
}

func setup(cmd *cobra.Command, args []string) (*scenario.Runner, *scenario.Scenario, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	sc, err := loadScenario(args)
	if err != nil {
		return nil, nil, err
	}
	runner, err := scenario.NewRunner(cfg, newLogger(cfg))
	if err != nil {
		return nil, nil, err
	}
	return runner, sc, nil
}

func solveScenario(cmd *cobra.Command, args []string) error {
	runner, sc, err := setup(cmd, args)
	if err != nil {
		return err
	}
	styles := viz.DefaultStyles()

	b, err := runner.Solve(sc)
	if b != nil {
		fmt.Print(viz.RenderSolution(styles, b.Solution))
	}
	if err != nil {
		return err
	}
	if noSave {
		return nil
	}
	return saveRun(runner.Config(), storage.RunMetadata{Scenario: sc.Name, Kind: storage.KindSolve}, b.Solution.Trajectory())
}

func simulateScenario(cmd *cobra.Command, args []string) error {
	runner, sc, err := setup(cmd, args)
	if err != nil {
		return err
	}
	styles := viz.DefaultStyles()

	out, err := runner.Simulate(cmd.Context(), sc)
	if out != nil {
		fmt.Print(viz.RenderSolution(styles, out.Baseline.Solution))
		if out.Trajectory != nil {
			fmt.Print(viz.RenderTrajectory(styles, out.Trajectory))
		}
		fmt.Print(viz.RenderMetrics(styles, out.Metrics))
	}
	if err != nil {
		return err
	}
	if noSave {
		return nil
	}
	return saveRun(runner.Config(), storage.RunMetadata{
		Scenario:     sc.Name,
		Kind:         storage.KindSimulate,
		Intervention: sc.Intervention.Name,
		Metrics:      out.Metrics,
	}, out.Trajectory)
}

func quantifyScenario(cmd *cobra.Command, args []string) error {
	runner, sc, err := setup(cmd, args)
	if err != nil {
		return err
	}
	styles := viz.DefaultStyles()

	out, err := runner.Quantify(cmd.Context(), sc)
	if out != nil && out.Trajectory != nil {
		fmt.Print(viz.RenderTrajectory(styles, out.Trajectory))
	}
	if out != nil && len(out.Failures) > 0 {
		fmt.Printf("%d replays failed, first: %v\n", len(out.Failures), out.Failures[0].Err)
	}
	if err != nil {
		return err
	}
	fmt.Print(viz.RenderMetrics(styles, out.Metrics))
	if out.Growth != nil {
		fmt.Print(viz.RenderGrowth(styles, *out.Growth))
	}
	if noSave {
		return nil
	}
	return saveRun(runner.Config(), storage.RunMetadata{
		Scenario:     sc.Name,
		Kind:         storage.KindQuantify,
		Intervention: sc.Intervention.Name,
		Seed:         runner.Config().Uncertainty.Seed,
		Metrics:      out.Metrics,
	}, out.Trajectory)
}

func listLoops(cmd *cobra.Command, args []string) error {
	runner, sc, err := setup(cmd, args)
	if err != nil {
		return err
	}
	net, err := runner.Network(sc)
	if err != nil {
		return err
	}
	loops, truncated := net.Loops()
	fmt.Print(viz.RenderLoops(viz.DefaultStyles(), loops, truncated))
	return nil
}

// saveRun stores a trajectory and indexes it in the catalog.
func saveRun(cfg *config.Config, meta storage.RunMetadata, traj *dynamo.Trajectory) error {
	st := storage.New(cfg.Storage.Dir)
	if err := st.Init(); err != nil {
		return err
	}
	runID, err := st.Save(meta, traj)
	if err != nil {
		return err
	}
	saved, err := st.Load(runID)
	if err != nil {
		return err
	}

	cat, err := storage.OpenCatalog(cfg.CatalogPath())
	if err != nil {
		return err
	}
	defer cat.Close()
	if err := cat.Record(*saved); err != nil {
		return err
	}
	fmt.Printf("saved run: %s\n", runID)
	return nil
}

func openStore(cmd *cobra.Command) (*config.Config, *storage.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	return cfg, storage.New(cfg.Storage.Dir), nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	cfg, _, err := openStore(cmd)
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.CatalogPath()); os.IsNotExist(err) {
		fmt.Println("no runs found")
		return nil
	}
	cat, err := storage.OpenCatalog(cfg.CatalogPath())
	if err != nil {
		return err
	}
	defer cat.Close()

	runs, err := cat.List(listFilter)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSCENARIO\tKIND\tTIME\tPHASE\tYEARS\tREPLAYS")
	for _, run := range runs {
		rep := "-"
		if run.Replays > 0 {
			rep = fmt.Sprintf("%d/%d", run.Replays-run.Failed, run.Replays)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			run.ID,
			run.Scenario,
			run.Kind,
			run.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			run.Phase,
			run.Years,
			rep,
		)
	}
	return w.Flush()
}

func showRun(cmd *cobra.Command, args []string) error {
	_, st, err := openStore(cmd)
	if err != nil {
		return err
	}
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	traj, err := st.LoadTrajectory(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("scenario: %s (%s)\n", meta.Scenario, meta.Kind)
	if meta.Intervention != "" {
		fmt.Printf("intervention: %s\n", meta.Intervention)
	}
	fmt.Printf("time: %s\n\n", meta.Timestamp.Local().Format("2006-01-02 15:04:05"))
	styles := viz.DefaultStyles()
	fmt.Print(viz.RenderTrajectory(styles, traj))
	fmt.Print(viz.RenderMetrics(styles, meta.Metrics))
	return nil
}

func plotRun(cmd *cobra.Command, args []string) error {
	_, st, err := openStore(cmd)
	if err != nil {
		return err
	}
	traj, err := st.LoadTrajectory(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("run: %s\n", args[0])
	fmt.Printf("years: %d\n\n", traj.Years())
	graph, err := viz.PlotTrajectory(traj, stocks, viz.PlotOptions{Width: width, Height: height})
	if err != nil {
		return err
	}
	fmt.Print(graph)
	return nil
}

func exportJSON(cmd *cobra.Command, args []string) error {
	_, st, err := openStore(cmd)
	if err != nil {
		return err
	}
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	traj, err := st.LoadTrajectory(args[0])
	if err != nil {
		return err
	}
	if outPath == "" {
		return storage.ExportJSONStdout(*meta, traj)
	}
	if err := storage.ExportJSON(outPath, *meta, traj); err != nil {
		return err
	}
	fmt.Printf("exported to %s\n", outPath)
	return nil
}

func exportCSV(cmd *cobra.Command, args []string) error {
	_, st, err := openStore(cmd)
	if err != nil {
		return err
	}
	traj, err := st.LoadTrajectory(args[0])
	if err != nil {
		return err
	}
	path := outPath
	if path == "" {
		path = args[0] + ".csv"
	}
	if err := storage.ExportCSV(path, traj); err != nil {
		return err
	}
	fmt.Printf("exported to %s\n", path)
	return nil
}

func deleteRun(cmd *cobra.Command, args []string) error {
	cfg, st, err := openStore(cmd)
	if err != nil {
		return err
	}
	if err := st.Delete(args[0]); err != nil {
		return err
	}
	if _, err := os.Stat(cfg.CatalogPath()); err == nil {
		cat, err := storage.OpenCatalog(cfg.CatalogPath())
		if err != nil {
			return err
		}
		defer cat.Close()
		if err := cat.Delete(args[0]); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}
	fmt.Printf("deleted run: %s\n", filepath.Base(args[0]))
	return nil
}

func browseRuns(cmd *cobra.Command, args []string) error {
	_, st, err := openStore(cmd)
	if err != nil {
		return err
	}
	runs, err := st.List()
	if err != nil {
		return err
	}
	return viz.RunBrowser(runs, st)
}

func exportSVG(cmd *cobra.Command, args []string) error {
	if len(stocks) != 1 {
		return errors.New("pass exactly one --stock")
	}
	_, st, err := openStore(cmd)
	if err != nil {
		return err
	}
	traj, err := st.LoadTrajectory(args[0])
	if err != nil {
		return err
	}
	path := outPath
	if path == "" {
		path = fmt.Sprintf("%s_%s.svg", args[0], stocks[0])
	}
	opts := export.DefaultSVGOptions()
	opts.Width, opts.Height = width, height
	if err := export.WriteStockSVG(path, traj, stocks[0], opts); err != nil {
		return err
	}
	fmt.Printf("exported to %s\n", path)
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	b, err := automation.LoadBatch(args[0])
	if err != nil {
		return err
	}
	styles := viz.DefaultStyles()

	return automation.RunBatch(cmd.Context(), cfg, newLogger(cfg), scenario.NewRegistry(), b, func(r automation.StepResult) error {
		traj := r.Trajectory()
		fmt.Printf("step %d/%d: %s (%s) %s\n", r.Index+1, len(b.Steps), r.Scenario, r.Kind, traj.Phase)
		if noSave {
			return nil
		}
		meta := storage.RunMetadata{Scenario: r.Scenario, Kind: storage.Kind(r.Kind)}
		if r.Outcome != nil {
			meta.Metrics = r.Outcome.Metrics
			fmt.Print(viz.RenderMetrics(styles, r.Outcome.Metrics))
		}
		if r.Kind == automation.KindQuantify {
			meta.Seed = cfg.Uncertainty.Seed
		}
		return saveRun(cfg, meta, traj)
	})
}

func runSweep(cmd *cobra.Command, args []string) error {
	runner, sc, err := setup(cmd, args)
	if err != nil {
		return err
	}
	stock := sweepStock
	if stock == "" {
		if len(sc.Intervention.Targets) == 0 {
			return errors.New("scenario has no intervention target; pass --stock")
		}
		stock = sc.Intervention.Targets[0].Stock
	}

	points, err := automation.RunSweep(cmd.Context(), runner, sc, automation.Sweep{
		Stock: stock,
		Min:   sweepMin,
		Max:   sweepMax,
		Steps: sweepSteps,
	})
	if err != nil {
		return err
	}

	var names []string
	if len(points) > 0 {
		names = metrics.Names(points[0].Metrics)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\tPHASE\tYEAR", strings.ToUpper(stock))
	for _, n := range names {
		fmt.Fprintf(w, "\t%s", strings.ToUpper(n))
	}
	fmt.Fprintln(w)
	for _, p := range points {
		year := "-"
		if p.Converged {
			year = fmt.Sprint(p.ConvergenceYear)
		}
		fmt.Fprintf(w, "%.4g\t%s\t%s", p.Target, p.Phase, year)
		for _, n := range names {
			fmt.Fprintf(w, "\t%.4g", p.Metrics[n])
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}
