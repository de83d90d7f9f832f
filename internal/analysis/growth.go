package analysis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/stockflow/internal/dynamo"
	"github.com/san-kum/stockflow/internal/network"
)

// StockGrowth describes how one stock's band evolves. Exponent is the
// slope k of log(width) = c + k·log(t) over years t ≥ 1 with a positive
// width; it is NaN when fewer than two such years exist.
type StockGrowth struct {
	Stock    string    `json:"stock"`
	Driven   bool      `json:"driven"`
	Widths   []float64 `json:"widths"`
	Exponent float64   `json:"exponent"`
	Grows    bool      `json:"grows"`
}

type Growth struct {
	From, To int
	Stocks   []StockGrowth
	// Eligible counts stocks with at least one incoming mechanism.
	Eligible int
	// Share is the fraction of eligible stocks whose width at To exceeds
	// the width at From.
	Share float64
}

func WidthGrowth(b *dynamo.Bands, net *network.Network, from, to int) (Growth, error) {
	if b == nil {
		return Growth{}, fmt.Errorf("analysis: no bands")
	}
	if len(b.Median) != net.Len() {
		return Growth{}, fmt.Errorf("analysis: bands cover %d stocks, network %d", len(b.Median), net.Len())
	}
	if from < 0 || to <= from || to >= b.Years() {
		return Growth{}, fmt.Errorf("analysis: years %d..%d outside 0..%d", from, to, b.Years()-1)
	}

	g := Growth{From: from, To: to}
	growing := 0
	for i := 0; i < net.Len(); i++ {
		sg := StockGrowth{
			Stock:  net.Stock(i).ID,
			Driven: len(net.Incoming(i)) > 0,
			Widths: make([]float64, b.Years()),
		}
		for y := range sg.Widths {
			sg.Widths[y] = b.Width(i, y)
		}
		sg.Grows = sg.Widths[to] > sg.Widths[from]
		sg.Exponent = exponent(sg.Widths)
		if sg.Driven {
			g.Eligible++
			if sg.Grows {
				growing++
			}
		}
		g.Stocks = append(g.Stocks, sg)
	}
	if g.Eligible > 0 {
		g.Share = float64(growing) / float64(g.Eligible)
	}
	return g, nil
}

func exponent(widths []float64) float64 {
	var xs, ys []float64
	for t := 1; t < len(widths); t++ {
		if widths[t] > 0 {
			xs = append(xs, math.Log(float64(t)))
			ys = append(ys, math.Log(widths[t]))
		}
	}
	if len(xs) < 2 {
		return math.NaN()
	}
	_, k := stat.LinearRegression(xs, ys, nil, false)
	return k
}
