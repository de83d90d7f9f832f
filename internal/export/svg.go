// Package export renders stored trajectories as standalone SVG charts.
package export

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/san-kum/stockflow/internal/dynamo"
)

type SVGOptions struct {
	Width  int
	Height int
	Stroke string
	Band   string
}

func DefaultSVGOptions() SVGOptions {
	return SVGOptions{Width: 640, Height: 320, Stroke: "#00cccc", Band: "#00cccc33"}
}

type point struct{ X, Y float64 }

// StockSVG draws one stock's yearly values. When the trajectory carries
// bands, the band is filled behind the median.
func StockSVG(traj *dynamo.Trajectory, stock string, opts SVGOptions) (string, error) {
	idx := traj.Index(stock)
	if idx < 0 {
		return "", fmt.Errorf("export: unknown stock %q", stock)
	}
	if traj.Years() < 2 {
		return "", fmt.Errorf("export: need at least 2 years, have %d", traj.Years())
	}

	line := traj.Series(idx)
	var lower, upper []float64
	if b := traj.Bands; b != nil && idx < len(b.Median) {
		line, lower, upper = b.Median[idx], b.Lower[idx], b.Upper[idx]
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range [][]float64{line, lower, upper} {
		for _, v := range s {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	rangeY := hi - lo
	if rangeY == 0 {
		rangeY = 1
	}
	lo -= rangeY * 0.1
	hi += rangeY * 0.1
	rangeY = hi - lo
	rangeX := float64(len(line) - 1)

	project := func(year int, v float64) point {
		return point{
			X: float64(year) / rangeX * float64(opts.Width),
			Y: float64(opts.Height) - (v-lo)/rangeY*float64(opts.Height),
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<title>%s</title>
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
`, opts.Width, opts.Height, opts.Width, opts.Height, escape(stock))

	if lower != nil {
		pts := make([]point, 0, 2*len(lower))
		for y, v := range upper {
			pts = append(pts, project(y, v))
		}
		for y := len(lower) - 1; y >= 0; y-- {
			pts = append(pts, project(y, lower[y]))
		}
		sb.WriteString(`<polygon fill="` + opts.Band + `" stroke="none" points="`)
		for i, p := range pts {
			if i > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%.1f,%.1f", p.X, p.Y)
		}
		sb.WriteString("\"/>\n")
	}

	fmt.Fprintf(&sb, `<path fill="none" stroke="%s" stroke-width="1.5" d="`, opts.Stroke)
	for y, v := range line {
		p := project(y, v)
		if y == 0 {
			fmt.Fprintf(&sb, "M%.1f,%.1f", p.X, p.Y)
		} else {
			fmt.Fprintf(&sb, " L%.1f,%.1f", p.X, p.Y)
		}
	}
	sb.WriteString("\"/>\n</svg>\n")
	return sb.String(), nil
}

// WriteStockSVG writes StockSVG output to path.
func WriteStockSVG(path string, traj *dynamo.Trajectory, stock string, opts SVGOptions) error {
	svg, err := StockSVG(traj, stock, opts)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(f, svg); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func escape(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}
