package viz

import (
	"fmt"
	"strings"

	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/stockflow/internal/dynamo"
)

// MaxPlots caps how many stocks PlotTrajectory draws when none are named.
const MaxPlots = 6

type PlotOptions struct {
	Width  int
	Height int
}

func DefaultPlotOptions() PlotOptions {
	return PlotOptions{Width: 60, Height: 10}
}

// PlotStock draws one stock over the recorded years. With bands present
// the median is drawn between the lower and upper bounds.
func PlotStock(traj *dynamo.Trajectory, idx int, opts PlotOptions) string {
	caption := traj.Stocks[idx]
	if idx < len(traj.Units) && traj.Units[idx] != "" {
		caption += " (" + traj.Units[idx] + ")"
	}
	base := []asciigraph.Option{
		asciigraph.Height(opts.Height),
		asciigraph.Width(opts.Width),
		asciigraph.Precision(2),
	}

	if b := traj.Bands; b != nil && idx < len(b.Median) {
		return asciigraph.PlotMany(
			[][]float64{widen(b.Lower[idx]), widen(b.Median[idx]), widen(b.Upper[idx])},
			append(base,
				asciigraph.Caption(fmt.Sprintf("%s, %.0f%% band", caption, b.Level*100)),
				asciigraph.SeriesColors(asciigraph.DarkGray, asciigraph.Cyan, asciigraph.DarkGray),
				asciigraph.SeriesLegends("lower", "median", "upper"),
			)...,
		)
	}
	return asciigraph.Plot(widen(traj.Series(idx)), append(base, asciigraph.Caption(caption))...)
}

// PlotTrajectory draws the named stocks, or the first MaxPlots when none
// are named.
func PlotTrajectory(traj *dynamo.Trajectory, stocks []string, opts PlotOptions) (string, error) {
	if traj.Years() == 0 {
		return "", fmt.Errorf("viz: no data to plot")
	}
	var idx []int
	if len(stocks) == 0 {
		for i := 0; i < len(traj.Stocks) && i < MaxPlots; i++ {
			idx = append(idx, i)
		}
	}
	for _, id := range stocks {
		i := traj.Index(id)
		if i < 0 {
			return "", fmt.Errorf("viz: unknown stock %q", id)
		}
		idx = append(idx, i)
	}

	plots := make([]string, 0, len(idx))
	for _, i := range idx {
		plots = append(plots, PlotStock(traj, i, opts))
	}
	return strings.Join(plots, "\n\n") + "\n", nil
}

// PlotBands draws one stock's band, failing when the trajectory carries
// none.
func PlotBands(traj *dynamo.Trajectory, stock string, opts PlotOptions) (string, error) {
	if traj.Bands == nil {
		return "", fmt.Errorf("viz: trajectory has no uncertainty bands")
	}
	i := traj.Index(stock)
	if i < 0 {
		return "", fmt.Errorf("viz: unknown stock %q", stock)
	}
	return PlotStock(traj, i, opts), nil
}

// widen repeats a lone sample so a single-year series still draws a line.
func widen(series []float64) []float64 {
	if len(series) == 1 {
		return []float64{series[0], series[0]}
	}
	return series
}
