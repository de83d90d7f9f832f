package analysis

import (
	"math"
	"testing"

	"github.com/san-kum/stockflow/internal/dynamo"
	"github.com/san-kum/stockflow/internal/forms"
	"github.com/san-kum/stockflow/internal/network"
)

func twoStock(t *testing.T) *network.Network {
	t.Helper()
	net, err := network.New(
		[]network.Stock{
			{ID: "X", Class: network.Fixed, Bounds: dynamo.Bounds{Min: 0, Max: 100}},
			{ID: "Y", Class: network.Free, Bounds: dynamo.Bounds{Min: 0, Max: 100}},
		},
		[]network.Mechanism{{ID: "xy", Source: "X", Target: "Y", Form: forms.Threshold, Effect: network.Effect{Point: 1}}},
		network.Options{},
	)
	if err != nil {
		t.Fatal(err)
	}
	return net
}

// bands builds symmetric bands whose half-width per year is given.
func bands(half ...[]float64) *dynamo.Bands {
	b := &dynamo.Bands{Level: 0.95}
	for _, h := range half {
		med := make([]float64, len(h))
		lo := make([]float64, len(h))
		up := make([]float64, len(h))
		for y, w := range h {
			med[y] = 10
			lo[y] = 10 - w
			up[y] = 10 + w
		}
		b.Median = append(b.Median, med)
		b.Lower = append(b.Lower, lo)
		b.Upper = append(b.Upper, up)
	}
	return b
}

func TestWidthGrowth_SqrtT(t *testing.T) {
	sqrt := make([]float64, 6)
	for y := range sqrt {
		sqrt[y] = math.Sqrt(float64(y))
	}
	g, err := WidthGrowth(bands(make([]float64, 6), sqrt), twoStock(t), 1, 5)
	if err != nil {
		t.Fatal(err)
	}

	if g.Eligible != 1 {
		t.Errorf("expected 1 driven stock, got %d", g.Eligible)
	}
	if g.Share != 1 {
		t.Errorf("expected share 1, got %g", g.Share)
	}
	y := g.Stocks[1]
	if !y.Grows || !y.Driven {
		t.Errorf("Y should be driven and growing: %+v", y)
	}
	if math.Abs(y.Exponent-0.5) > 1e-9 {
		t.Errorf("expected exponent 0.5, got %g", y.Exponent)
	}
	if y.Widths[4] != 4 {
		t.Errorf("expected width 4 at year 4, got %g", y.Widths[4])
	}

	x := g.Stocks[0]
	if x.Driven || x.Grows || !math.IsNaN(x.Exponent) {
		t.Errorf("fixed stock without inflows: %+v", x)
	}
}

func TestWidthGrowth_Shrinking(t *testing.T) {
	g, err := WidthGrowth(bands([]float64{0, 0, 0}, []float64{0, 2, 1}), twoStock(t), 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if g.Share != 0 || g.Stocks[1].Grows {
		t.Errorf("shrinking band reported as growing: %+v", g)
	}
}

func TestWidthGrowth_Errors(t *testing.T) {
	net := twoStock(t)
	b := bands([]float64{0, 0, 0}, []float64{0, 1, 2})
	tests := []struct {
		name     string
		b        *dynamo.Bands
		from, to int
	}{
		{"nil bands", nil, 1, 2},
		{"stock mismatch", bands([]float64{0, 1}), 0, 1},
		{"to past end", b, 1, 3},
		{"reversed", b, 2, 1},
		{"negative", b, -1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := WidthGrowth(tt.b, net, tt.from, tt.to); err == nil {
				t.Error("expected error")
			}
		})
	}
}
