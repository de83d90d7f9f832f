package viz

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/san-kum/stockflow/internal/analysis"
	"github.com/san-kum/stockflow/internal/dynamo"
	"github.com/san-kum/stockflow/internal/network"
	"github.com/san-kum/stockflow/internal/solver"
	"github.com/san-kum/stockflow/internal/storage"
)

func trajectory() *dynamo.Trajectory {
	return &dynamo.Trajectory{
		Stocks: []string{"ED_visits", "Healthcare_Continuity"},
		Units:  []string{"visits/yr", "index"},
		Values: []dynamo.State{
			{122400, 100},
			{155000, 212.5},
			{188000, 274.25},
		},
		Phase:           dynamo.PhaseConverged,
		Converged:       true,
		ConvergenceYear: 2,
		Final:           dynamo.State{188000, 274.25},
	}
}

func TestRenderSolution(t *testing.T) {
	sol := &solver.Solution{
		Status: solver.Converged,
		Stocks: []string{"A", "B"},
		Units:  []string{"people", ""},
		Values: dynamo.State{10, 42.5},
		Seed:   "benchmark",
		Report: solver.Report{
			Checks: []solver.Check{
				{Stock: "A", Observed: 10, Predicted: 11.2, RelError: 0.12, Level: solver.LevelWarning},
				{Stock: "C", Observed: 7, Predicted: 7, Level: solver.LevelUnchecked},
			},
			WarnThreshold: 0.10,
			FailThreshold: 0.15,
		},
	}
	out := RenderSolution(NewStyles(ThemeMinimal), sol)
	for _, want := range []string{"converged", "benchmark", "42.5", "people", "warning", "12.0%", "unchecked"} {
		if !strings.Contains(out, want) {
			t.Errorf("solution report missing %q:\n%s", want, out)
		}
	}
}

func TestRenderSolution_Ambiguous(t *testing.T) {
	sol := &solver.Solution{
		Status: solver.Ambiguous,
		Stocks: []string{"A"},
		Candidates: []solver.Candidate{
			{Seed: "low", Status: solver.Converged, Values: dynamo.State{1}},
			{Seed: "high", Status: solver.Converged, Values: dynamo.State{99}},
		},
	}
	out := RenderSolution(DefaultStyles(), sol)
	for _, want := range []string{"candidates", "low", "high", "99"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q:\n%s", want, out)
		}
	}
}

func TestRenderTrajectory(t *testing.T) {
	traj := trajectory()
	traj.Bands = &dynamo.Bands{
		Level:   0.95,
		Median:  [][]float64{{1, 2, 3}, {4, 5, 6}},
		Lower:   [][]float64{{1, 1, 2}, {4, 4, 5}},
		Upper:   [][]float64{{1, 3, 4}, {4, 6, 7}},
		Replays: 10,
		Failed:  1,
	}
	out := RenderTrajectory(DefaultStyles(), traj)
	for _, want := range []string{"converged at year 2", "y2", "188000", "95% bands", "9/10", "5 [4, 6]"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q:\n%s", want, out)
		}
	}
}

func TestRenderDiagnostics(t *testing.T) {
	s := DefaultStyles()
	if out := RenderDiagnostics(s, nil); !strings.Contains(out, "no diagnostics") {
		t.Errorf("unexpected: %q", out)
	}
	out := RenderDiagnostics(s, []dynamo.Diagnostic{{
		Kind:       dynamo.DiagOscillation,
		Year:       4,
		Stocks:     []string{"A", "B"},
		Mechanisms: []string{"ab", "ba"},
		Message:    "sign of change flipped",
	}})
	for _, want := range []string{"oscillation", "A, B", "ab, ba"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q:\n%s", want, out)
		}
	}
}

func TestRenderLoops(t *testing.T) {
	loops := []network.Loop{
		{Stocks: []string{"A", "B"}, Mechanisms: []string{"ab", "ba"}, Polarity: network.Reinforcing},
		{Stocks: []string{"B", "C"}, Mechanisms: []string{"bc", "cb"}, Polarity: network.Balancing},
	}
	out := RenderLoops(DefaultStyles(), loops, true)
	for _, want := range []string{"1 reinforcing, 1 balancing", "A → B → A", "truncated"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q:\n%s", want, out)
		}
	}
	if out := RenderLoops(DefaultStyles(), nil, false); !strings.Contains(out, "no feedback loops") {
		t.Errorf("unexpected: %q", out)
	}
}

func TestRenderGrowth(t *testing.T) {
	g := analysis.Growth{
		From: 1, To: 5, Eligible: 2, Share: 0.5,
		Stocks: []analysis.StockGrowth{
			{Stock: "Y", Driven: true, Widths: []float64{0, 1, 2}, Exponent: 0.5, Grows: true},
			{Stock: "Z", Driven: true, Widths: []float64{0, 2, 1}, Exponent: -1},
			{Stock: "X"},
		},
	}
	out := RenderGrowth(DefaultStyles(), g)
	if !strings.Contains(out, "50%") || !strings.Contains(out, "0.50") {
		t.Errorf("unexpected growth report:\n%s", out)
	}
	if strings.Contains(out, "X ") {
		t.Errorf("undriven stock listed:\n%s", out)
	}
}

func TestRenderMetrics(t *testing.T) {
	if RenderMetrics(DefaultStyles(), nil) != "" {
		t.Error("no metrics should render nothing")
	}
	out := RenderMetrics(DefaultStyles(), map[string]float64{"displacement": 0.125, "cumulative:Y": -40})
	if !strings.Contains(out, "cumulative:Y") || !strings.Contains(out, "0.125") {
		t.Errorf("unexpected metrics:\n%s", out)
	}
	if strings.Index(out, "cumulative:Y") > strings.Index(out, "displacement") {
		t.Error("metrics should be sorted by name")
	}
}

func TestPlotTrajectory(t *testing.T) {
	traj := trajectory()
	out, err := PlotTrajectory(traj, []string{"Healthcare_Continuity"}, DefaultPlotOptions())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Healthcare_Continuity (index)") {
		t.Errorf("missing caption:\n%s", out)
	}
	if _, err := PlotTrajectory(traj, []string{"nope"}, DefaultPlotOptions()); err == nil {
		t.Error("expected error for unknown stock")
	}
	if _, err := PlotTrajectory(&dynamo.Trajectory{}, nil, DefaultPlotOptions()); err == nil {
		t.Error("expected error for empty trajectory")
	}

	single := trajectory()
	single.Values = single.Values[:1]
	if out, err := PlotTrajectory(single, nil, DefaultPlotOptions()); err != nil || out == "" {
		t.Errorf("single year plot: %v", err)
	}
}

func TestPlotBands(t *testing.T) {
	traj := trajectory()
	if _, err := PlotBands(traj, "ED_visits", DefaultPlotOptions()); err == nil {
		t.Error("expected error without bands")
	}
	traj.Bands = &dynamo.Bands{
		Level:  0.9,
		Median: [][]float64{{1, 2, 3}, {4, 5, 6}},
		Lower:  [][]float64{{1, 1, 2}, {4, 4, 5}},
		Upper:  [][]float64{{1, 3, 4}, {4, 6, 7}},
	}
	out, err := PlotBands(traj, "ED_visits", DefaultPlotOptions())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "90% band") || !strings.Contains(out, "median") {
		t.Errorf("missing caption or legend:\n%s", out)
	}
	if _, err := PlotBands(traj, "nope", DefaultPlotOptions()); err == nil {
		t.Error("expected error for unknown stock")
	}
}

func TestThemes(t *testing.T) {
	defer SetTheme(CurrentTheme.Name)
	if SetTheme("nope") {
		t.Error("unknown theme accepted")
	}
	if !SetTheme("ocean") || CurrentTheme.Name != "ocean" {
		t.Errorf("current theme %q", CurrentTheme.Name)
	}
	if got := nextTheme(ThemeOcean); got.Name != Themes[0].Name {
		t.Errorf("expected wrap to %s, got %s", Themes[0].Name, got.Name)
	}
	if len(ThemeNames()) != len(Themes) {
		t.Error("theme names mismatch")
	}
}

type fakeLoader struct {
	traj *dynamo.Trajectory
	err  error
}

func (f fakeLoader) LoadTrajectory(string) (*dynamo.Trajectory, error) { return f.traj, f.err }

func key(s string) tea.KeyMsg {
	switch s {
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestBrowser(t *testing.T) {
	runs := []storage.RunMetadata{
		{ID: "ed_continuity_aaaa1111", Scenario: "ed_continuity", Kind: storage.KindSimulate},
		{ID: "housing_health_bbbb2222", Scenario: "housing_health", Kind: storage.KindQuantify, Intervention: "right_to_counsel"},
	}
	b := NewBrowser(runs, fakeLoader{traj: trajectory()}, DefaultStyles())

	if !strings.Contains(b.View(), "ed_continuity_aaaa1111") {
		t.Fatal("list view should show runs")
	}

	b.Update(key("down"))
	b.Update(key("down"))
	if r, _ := b.Selected(); r.ID != runs[1].ID {
		t.Errorf("cursor should stop at last run, got %s", r.ID)
	}

	b.Update(key("enter"))
	view := b.View()
	if !strings.Contains(view, "right_to_counsel") || !strings.Contains(view, "Healthcare_Continuity") {
		t.Errorf("run view:\n%s", view)
	}
	b.Update(key("j"))
	if b.stock != 1 {
		t.Errorf("expected stock 1, got %d", b.stock)
	}

	b.Update(key("esc"))
	if b.state != stateList {
		t.Error("esc should return to list")
	}

	theme := b.styles.Theme.Name
	b.Update(key("t"))
	if b.styles.Theme.Name == theme {
		t.Error("t should cycle theme")
	}

	if _, cmd := b.Update(key("q")); cmd == nil {
		t.Error("q should quit")
	}
}

func TestBrowser_LoadError(t *testing.T) {
	runs := []storage.RunMetadata{{ID: "broken"}}
	b := NewBrowser(runs, fakeLoader{err: errors.New("missing trajectory.csv")}, DefaultStyles())
	b.Update(key("enter"))
	if !strings.Contains(b.View(), "missing trajectory.csv") {
		t.Errorf("expected load error in view:\n%s", b.View())
	}
}

func TestBrowser_Empty(t *testing.T) {
	b := NewBrowser(nil, fakeLoader{}, DefaultStyles())
	b.Update(key("enter"))
	if b.state != stateList || !strings.Contains(b.View(), "no runs found") {
		t.Error("empty browser should stay on list")
	}
	if _, ok := b.Selected(); ok {
		t.Error("no selection expected")
	}
}
