package metrics

import (
	"math"
	"reflect"
	"testing"

	"github.com/san-kum/stockflow/internal/dynamo"
	"github.com/san-kum/stockflow/internal/forms"
	"github.com/san-kum/stockflow/internal/network"
)

func chain(t *testing.T) *network.Network {
	t.Helper()
	net, err := network.New(
		[]network.Stock{
			{ID: "X", Class: network.Fixed, Bounds: dynamo.Bounds{Min: 0, Max: 100}},
			{ID: "Y", Class: network.Free, Bounds: dynamo.Bounds{Min: 0, Max: 50}},
		},
		[]network.Mechanism{{ID: "xy", Source: "X", Target: "Y", Form: forms.Threshold, Effect: network.Effect{Point: 1}}},
		network.Options{},
	)
	if err != nil {
		t.Fatal(err)
	}
	return net
}

func TestDisplacement(t *testing.T) {
	d := NewDisplacement(dynamo.State{10, 0.5})
	d.OnYear(0, dynamo.State{99, 99}, dynamo.PhaseStepping)
	d.OnYear(1, dynamo.State{20, 0.5}, dynamo.PhaseStepping)
	d.OnYear(2, dynamo.State{10, 1.5}, dynamo.PhaseStepping)

	// year 1: |20-10|/10 = 1; year 2: |1.5-0.5|/max(0.5,1) = 1
	if got := d.Value(); math.Abs(got-1) > 1e-12 {
		t.Errorf("expected 1, got %g", got)
	}
	d.Reset()
	if d.Value() != 0 {
		t.Error("reset should clear")
	}
}

func TestBoundPressure(t *testing.T) {
	p := NewBoundPressure(chain(t))
	p.OnYear(0, dynamo.State{0, 0}, dynamo.PhaseStepping)
	p.OnYear(1, dynamo.State{100, 50}, dynamo.PhaseStepping)
	p.OnYear(2, dynamo.State{0, 25}, dynamo.PhaseStepping)

	// fixed X on its bound does not count
	if got := p.Value(); got != 0.5 {
		t.Errorf("expected 0.5, got %g", got)
	}
}

func TestStandard(t *testing.T) {
	set := Standard(chain(t), dynamo.State{10, 20})
	for y, s := range []dynamo.State{{10, 20}, {30, 25}, {30, 28}} {
		set.OnYear(y, s, dynamo.PhaseStepping)
	}
	got := set.Values()
	if got["cumulative:Y"] != 13 {
		t.Errorf("cumulative:Y = %g, want 13", got["cumulative:Y"])
	}
	if _, ok := got["cumulative:X"]; ok {
		t.Error("fixed stocks get no cumulative metric")
	}
	want := []string{"bound_pressure", "cumulative:Y", "displacement"}
	if names := Names(got); !reflect.DeepEqual(names, want) {
		t.Errorf("names %v, want %v", names, want)
	}

	set.Reset()
	if v := set.Values(); v["cumulative:Y"] != 0 || v["displacement"] != 0 {
		t.Errorf("reset values %v", v)
	}
}
