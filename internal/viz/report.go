package viz

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/san-kum/stockflow/internal/analysis"
	"github.com/san-kum/stockflow/internal/dynamo"
	"github.com/san-kum/stockflow/internal/metrics"
	"github.com/san-kum/stockflow/internal/network"
	"github.com/san-kum/stockflow/internal/solver"
)

const sparkWidth = 12

func (s Styles) table(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(s.Border).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return s.Header
			}
			return s.Value
		})
}

// RenderSolution shows the equilibrium values, the consistency checks on
// the fixed stocks and, for ambiguous results, every candidate.
func RenderSolution(s Styles, sol *solver.Solution) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", s.Title.Render("equilibrium"), s.Status(sol.Status).Render(string(sol.Status)))
	fmt.Fprintf(&b, "%s %s  %s %d  %s %s\n",
		s.Label.Render("seed"), sol.Seed,
		s.Label.Render("iterations"), sol.Iterations,
		s.Label.Render("residual"), formatValue(sol.Residual))
	if sol.Cause != "" {
		fmt.Fprintf(&b, "%s %s\n", s.Label.Render("cause"), sol.Cause)
	}

	if sol.Values != nil {
		t := s.table("stock", "value", "unit")
		for i, id := range sol.Stocks {
			t.Row(id, formatValue(sol.Values[i]), unitAt(sol.Units, i))
		}
		b.WriteString(t.Render())
		b.WriteString("\n")
	}

	if len(sol.Report.Checks) > 0 {
		b.WriteString(renderChecks(s, sol.Report))
	}

	if sol.Status == solver.Ambiguous {
		t := s.table(append([]string{"seed", "status"}, sol.Stocks...)...)
		for _, c := range sol.Candidates {
			row := []string{c.Seed, string(c.Status)}
			for i := range sol.Stocks {
				row = append(row, valueAt(c.Values, i))
			}
			t.Row(row...)
		}
		b.WriteString(s.Title.Render("candidates"))
		b.WriteString("\n")
		b.WriteString(t.Render())
		b.WriteString("\n")
	}

	if len(sol.Diagnostics) > 0 {
		b.WriteString(RenderDiagnostics(s, sol.Diagnostics))
	}
	return b.String()
}

func renderChecks(s Styles, r solver.Report) string {
	var b strings.Builder
	title := fmt.Sprintf("consistency (warn %.0f%%, fail %.0f%%)", r.WarnThreshold*100, r.FailThreshold*100)
	if r.Widened {
		title += " " + s.Warn.Render("widened")
	}
	b.WriteString(s.Title.Render(title))
	b.WriteString("\n")

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(s.Border).
		Headers("stock", "observed", "predicted", "error", "level")
	levels := make([]solver.Level, len(r.Checks))
	for i, c := range r.Checks {
		levels[i] = c.Level
		if c.Level == solver.LevelUnchecked {
			t.Row(c.Stock, formatValue(c.Observed), "-", "-", string(c.Level))
			continue
		}
		t.Row(c.Stock, formatValue(c.Observed), formatValue(c.Predicted),
			fmt.Sprintf("%.1f%%", c.RelError*100), string(c.Level))
	}
	t.StyleFunc(func(row, col int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return s.Header
		case col == 4:
			return s.Level(levels[row]).Padding(0, 1)
		}
		return s.Value
	})
	b.WriteString(t.Render())
	b.WriteString("\n")
	return b.String()
}

// RenderTrajectory lists each stock's yearly values, one row per stock.
func RenderTrajectory(s Styles, traj *dynamo.Trajectory) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", s.Title.Render("trajectory"), s.Phase(traj.Phase).Render(string(traj.Phase)))
	if traj.Converged {
		fmt.Fprintf(&b, "  %s %d", s.Label.Render("converged at year"), traj.ConvergenceYear)
	}
	if traj.Cause != dynamo.CauseNone {
		fmt.Fprintf(&b, "  %s %s", s.Label.Render("cause"), traj.Cause)
	}
	if traj.DiscountRate > 0 {
		fmt.Fprintf(&b, "  %s %.1f%%", s.Label.Render("discount"), traj.DiscountRate*100)
	}
	b.WriteString("\n")

	headers := []string{"stock"}
	for y := 0; y < traj.Years(); y++ {
		headers = append(headers, "y"+strconv.Itoa(y))
	}
	headers = append(headers, "trend")

	t := s.table(headers...)
	for i, id := range traj.Stocks {
		series := traj.Series(i)
		row := []string{id}
		for _, v := range series {
			row = append(row, formatValue(v))
		}
		row = append(row, s.Sparkline(series, sparkWidth))
		t.Row(row...)
	}
	b.WriteString(t.Render())
	b.WriteString("\n")

	if traj.Bands != nil {
		b.WriteString(RenderBands(s, traj))
	}
	if len(traj.Diagnostics) > 0 {
		b.WriteString(RenderDiagnostics(s, traj.Diagnostics))
	}
	return b.String()
}

// RenderBands shows median and interval per stock and year.
func RenderBands(s Styles, traj *dynamo.Trajectory) string {
	bands := traj.Bands
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %d/%d\n",
		s.Title.Render(fmt.Sprintf("%.0f%% bands", bands.Level*100)),
		s.Label.Render("replays"), bands.Replays-bands.Failed, bands.Replays)

	headers := []string{"stock"}
	for y := 0; y < bands.Years(); y++ {
		headers = append(headers, "y"+strconv.Itoa(y))
	}
	t := s.table(headers...)
	for i, id := range traj.Stocks {
		row := []string{id}
		for y := range bands.Median[i] {
			row = append(row, fmt.Sprintf("%s [%s, %s]",
				formatValue(bands.Median[i][y]), formatValue(bands.Lower[i][y]), formatValue(bands.Upper[i][y])))
		}
		t.Row(row...)
	}
	b.WriteString(t.Render())
	b.WriteString("\n")
	return b.String()
}

func RenderDiagnostics(s Styles, diags []dynamo.Diagnostic) string {
	if len(diags) == 0 {
		return s.Muted.Render("no diagnostics") + "\n"
	}
	var b strings.Builder
	b.WriteString(s.Title.Render("diagnostics"))
	b.WriteString("\n")
	for _, d := range diags {
		fmt.Fprintf(&b, "  %s %s\n", s.Warn.Render(string(d.Kind)), d.Message)
		if len(d.Stocks) > 0 {
			fmt.Fprintf(&b, "    %s %s\n", s.Label.Render("stocks"), strings.Join(d.Stocks, ", "))
		}
		if len(d.Mechanisms) > 0 {
			fmt.Fprintf(&b, "    %s %s\n", s.Label.Render("mechanisms"), strings.Join(d.Mechanisms, ", "))
		}
	}
	return b.String()
}

// RenderLoops lists feedback loops with their polarity.
func RenderLoops(s Styles, loops []network.Loop, truncated bool) string {
	if len(loops) == 0 {
		return s.Muted.Render("no feedback loops") + "\n"
	}
	var b strings.Builder
	var reinforcing, balancing int
	for _, l := range loops {
		if l.Polarity == network.Reinforcing {
			reinforcing++
		} else {
			balancing++
		}
	}
	fmt.Fprintf(&b, "%s %d reinforcing, %d balancing\n", s.Title.Render("feedback loops"), reinforcing, balancing)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(s.Border).
		Headers("polarity", "cycle", "mechanisms")
	for _, l := range loops {
		cycle := strings.Join(append(append([]string{}, l.Stocks...), l.Stocks[0]), " → ")
		t.Row(string(l.Polarity), cycle, strings.Join(l.Mechanisms, ", "))
	}
	t.StyleFunc(func(row, col int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return s.Header
		case col == 0 && loops[row].Polarity == network.Reinforcing:
			return s.Warn.Padding(0, 1)
		case col == 0:
			return s.OK.Padding(0, 1)
		}
		return s.Value
	})
	b.WriteString(t.Render())
	b.WriteString("\n")
	if truncated {
		b.WriteString(s.Warn.Render("loop enumeration truncated"))
		b.WriteString("\n")
	}
	return b.String()
}

// RenderGrowth summarizes how the bands widen over the horizon.
func RenderGrowth(s Styles, g analysis.Growth) string {
	var b strings.Builder
	style := s.OK
	if g.Share < 0.9 {
		style = s.Warn
	}
	fmt.Fprintf(&b, "%s %s of %d driven stocks widen from year %d to %d\n",
		s.Title.Render("band growth"), style.Render(fmt.Sprintf("%.0f%%", g.Share*100)), g.Eligible, g.From, g.To)

	t := s.table("stock", "exponent", "widths")
	for _, sg := range g.Stocks {
		if !sg.Driven {
			continue
		}
		exp := "-"
		if !math.IsNaN(sg.Exponent) {
			exp = fmt.Sprintf("%.2f", sg.Exponent)
		}
		t.Row(sg.Stock, exp, s.Sparkline(sg.Widths, sparkWidth))
	}
	b.WriteString(t.Render())
	b.WriteString("\n")
	return b.String()
}

// RenderMetrics lists run metrics by name.
func RenderMetrics(s Styles, values map[string]float64) string {
	if len(values) == 0 {
		return ""
	}
	t := s.table("metric", "value")
	for _, name := range metrics.Names(values) {
		t.Row(name, formatValue(values[name]))
	}
	return s.Title.Render("metrics") + "\n" + t.Render() + "\n"
}

func formatValue(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 0):
		return "inf"
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}

func valueAt(s dynamo.State, i int) string {
	if i >= len(s) {
		return "-"
	}
	return formatValue(s[i])
}

func unitAt(units []string, i int) string {
	if i >= len(units) {
		return ""
	}
	return units[i]
}
