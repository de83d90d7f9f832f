package rampup

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/san-kum/stockflow/internal/dynamo"
	"github.com/san-kum/stockflow/internal/forms"
	"github.com/san-kum/stockflow/internal/network"
)

func TestLinearRampExample(t *testing.T) {
	got := Schedule(Ramp{Kind: Linear, FullYears: 3}, Persistence{Kind: Permanent}, 50, 200, 6)
	want := []float64{50, 100, 150, 200, 200, 200, 200}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("year %d: %v, want %v", i, got[i], want[i])
		}
	}
}

func TestCapacity(t *testing.T) {
	tests := []struct {
		name string
		ramp Ramp
		year int
		want float64
	}{
		{"step year 0", Ramp{Kind: Step}, 0, 200},
		{"step later", Ramp{Kind: Step}, 4, 200},
		{"exponential year 0", Ramp{Kind: Exponential, Rate: 0.5}, 0, 50},
		{"exponential year 2", Ramp{Kind: Exponential, Rate: 0.5}, 2, 50 + 150*(1-math.Exp(-1))},
		{"sigmoid year 0", Ramp{Kind: Sigmoid, Steepness: 1.5, Midpoint: 2}, 0, 50},
		{"linear negative year", Ramp{Kind: Linear, FullYears: 3}, -1, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Capacity(tt.ramp, 50, 200, tt.year); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Capacity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCapacity_MonotoneTowardTarget(t *testing.T) {
	ramps := []Ramp{
		{Kind: Linear, FullYears: 4},
		{Kind: Exponential, Rate: 0.7},
		{Kind: Sigmoid, Steepness: 1.2, Midpoint: 3},
	}
	for _, r := range ramps {
		prev := Capacity(r, 100, 20, 0)
		for y := 1; y <= 20; y++ {
			c := Capacity(r, 100, 20, y)
			if c > prev+1e-12 || c < 20-1e-9 {
				t.Errorf("%s year %d: %v after %v", r.Kind, y, c, prev)
			}
			prev = c
		}
		if math.Abs(prev-20) > 0.5 {
			t.Errorf("%s did not approach target: %v", r.Kind, prev)
		}
	}
}

func TestSchedule_Persistence(t *testing.T) {
	step := Ramp{Kind: Step}

	permanent := Schedule(step, Persistence{Kind: Permanent, FundedYears: 2}, 0, 100, 6)
	for y, v := range permanent {
		if v != 100 {
			t.Errorf("permanent year %d = %v", y, v)
		}
	}

	lockIn := Schedule(step, Persistence{Kind: LockIn, FundedYears: 2}, 0, 100, 6)
	sustained := Schedule(step, Persistence{Kind: Sustained, FundedYears: 2}, 0, 100, 6)
	if lockIn[2] != 100 || sustained[2] != 100 {
		t.Errorf("capacity must hold through funded years: %v %v", lockIn, sustained)
	}
	if want := 100 * math.Exp(-0.1); math.Abs(lockIn[3]-want) > 1e-9 {
		t.Errorf("lock-in year 3 = %v, want %v", lockIn[3], want)
	}
	for y := 3; y <= 6; y++ {
		if !(sustained[y] < lockIn[y]) {
			t.Errorf("year %d: sustained %v should decay faster than lock-in %v", y, sustained[y], lockIn[y])
		}
		if lockIn[y] >= lockIn[y-1] {
			t.Errorf("lock-in not decaying at year %d", y)
		}
	}

	custom := Schedule(step, Persistence{Kind: Sustained, Rate: 1, FundedYears: 1}, 10, 20, 3)
	if want := 10 + 10*math.Exp(-1); math.Abs(custom[2]-want) > 1e-9 {
		t.Errorf("custom rate year 2 = %v, want %v", custom[2], want)
	}
}

func TestDefaultProfile(t *testing.T) {
	infra, err := DefaultProfile("infrastructure")
	if err != nil {
		t.Fatalf("DefaultProfile: %v", err)
	}
	want := []float64{0, 0.6, 0.9, 1.0, 1.0}
	for y, w := range want {
		if got := infra.At(y); math.Abs(got-w) > 1e-12 {
			t.Errorf("infrastructure year %d = %v, want %v", y, got, w)
		}
	}

	org, _ := DefaultProfile("organizing")
	if org.At(1) != 0.1 || org.At(2) != 0.4 || org.At(3) != 0.7 {
		t.Errorf("organizing = %v", org.Years)
	}
	if got := org.At(4); math.Abs(got-0.85) > 1e-12 {
		t.Errorf("organizing tail year 4 = %v, want 0.85", got)
	}

	imm, _ := DefaultProfile("")
	if imm.Type != DefaultType || imm.At(1) != 1 {
		t.Errorf("empty type = %+v", imm)
	}

	if _, err := DefaultProfile("geological"); !errors.Is(err, dynamo.ErrInvalidConfig) {
		t.Errorf("unknown type: %v", err)
	}
}

func TestProfilesAsymptoticToOne(t *testing.T) {
	for _, kind := range ProfileTypes() {
		p, _ := DefaultProfile(kind)
		prev := 0.0
		for y := 1; y <= 30; y++ {
			v := p.At(y)
			if v < prev || v > 1 {
				t.Errorf("%s year %d = %v (prev %v)", kind, y, v, prev)
			}
			prev = v
		}
		if prev < 0.999 {
			t.Errorf("%s only reaches %v by year 30", kind, prev)
		}
	}
}

func TestProfileFor(t *testing.T) {
	p, err := ProfileFor(network.Latency{Type: "policy", Years: []float64{0.5, 1}})
	if err != nil {
		t.Fatalf("ProfileFor: %v", err)
	}
	if p.At(1) != 0.5 {
		t.Errorf("explicit years ignored: %v", p.Years)
	}
	if _, err := ProfileFor(network.Latency{Years: []float64{0.5, 0.3}}); err == nil {
		t.Error("decreasing profile accepted")
	}
	if _, err := ProfileFor(network.Latency{Years: []float64{1.2}}); err == nil {
		t.Error("profile above 1 accepted")
	}
}

func testNetwork(t *testing.T) *network.Network {
	t.Helper()
	n, err := network.New(
		[]network.Stock{
			{ID: "beds", Bounds: dynamo.Bounds{Min: 0, Max: 500}, Class: network.Fixed},
			{ID: "access", Bounds: dynamo.Bounds{Min: 0, Max: 1000}, Class: network.Free},
		},
		[]network.Mechanism{{
			ID: "beds_access", Source: "beds", Target: "access",
			Form:    forms.Threshold,
			Effect:  network.Effect{Point: 1},
			Latency: network.Latency{Type: "infrastructure"},
		}},
		network.Options{},
	)
	if err != nil {
		t.Fatalf("network.New: %v", err)
	}
	return n
}

func TestNewPlan(t *testing.T) {
	net := testNetwork(t)
	iv := Intervention{
		Name:         "beds",
		Targets:      []Target{{Stock: "beds", Value: 200}},
		Ramp:         Ramp{Kind: Linear, FullYears: 3},
		Persistence:  Persistence{Kind: Permanent},
		DiscountRate: 0.03,
	}

	plan, err := NewPlan(net, dynamo.State{50, 10}, iv, 5)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	if plan.Years() != 5 || len(plan.Targets()) != 1 || plan.Targets()[0] != 0 {
		t.Fatalf("plan = %+v", plan)
	}

	s := plan.Apply(dynamo.State{50, 10}, 2)
	if s[0] != 150 || s[1] != 10 {
		t.Errorf("Apply = %v", s)
	}
	if plan.Capacity(0, 99) != 200 {
		t.Errorf("capacity past schedule = %v", plan.Capacity(0, 99))
	}
	if plan.Latency(0, 1) != 0.6 || plan.Latency(0, 0) != 0 {
		t.Errorf("latency = %v, %v", plan.Latency(0, 1), plan.Latency(0, 0))
	}

	jittered, err := net.WithLatency([][]float64{{0.3, 0.8}})
	if err != nil {
		t.Fatalf("WithLatency: %v", err)
	}
	plan, err = NewPlan(jittered, dynamo.State{50, 10}, iv, 5)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	if plan.Latency(0, 1) != 0.3 {
		t.Errorf("perturbed latency not used: %v", plan.Latency(0, 1))
	}
}

func TestIntervention_Validate(t *testing.T) {
	net := testNetwork(t)
	base := Intervention{
		Targets: []Target{{Stock: "beds", Value: 200}},
		Ramp:    Ramp{Kind: Step},
	}

	tests := []struct {
		name   string
		mutate func(*Intervention)
		target error
	}{
		{"no targets", func(iv *Intervention) { iv.Targets = nil }, dynamo.ErrInvalidConfig},
		{"unknown stock", func(iv *Intervention) { iv.Targets[0].Stock = "clinics" }, dynamo.ErrNetworkIntegrity},
		{"out of bounds", func(iv *Intervention) { iv.Targets[0].Value = 900 }, dynamo.ErrInvalidConfig},
		{"bad ramp", func(iv *Intervention) { iv.Ramp = Ramp{Kind: Linear} }, dynamo.ErrInvalidConfig},
		{"unknown ramp", func(iv *Intervention) { iv.Ramp = Ramp{Kind: "cubic"} }, dynamo.ErrInvalidConfig},
		{"bad persistence", func(iv *Intervention) { iv.Persistence = Persistence{Kind: "forever"} }, dynamo.ErrInvalidConfig},
		{"negative discount", func(iv *Intervention) { iv.DiscountRate = -0.1 }, dynamo.ErrInvalidConfig},
	}

	if err := base.Validate(net); err != nil {
		t.Fatalf("base intervention invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iv := base
			iv.Targets = append([]Target(nil), base.Targets...)
			tt.mutate(&iv)
			if err := iv.Validate(net); !errors.Is(err, tt.target) {
				t.Errorf("Validate = %v, want %v", err, tt.target)
			}
		})
	}
}

func TestLoadIntervention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iv.yaml")
	doc := `
name: more-beds
targets:
  - {stock: beds, value: 200}
ramp: {kind: linear, full_years: 3}
persistence: {kind: lock_in, funded_years: 4}
horizon: 8
discount_rate: 0.03
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	iv, err := LoadIntervention(path)
	if err != nil {
		t.Fatalf("LoadIntervention: %v", err)
	}
	if iv.Ramp.Kind != Linear || iv.Ramp.FullYears != 3 || iv.Persistence.Kind != LockIn || iv.Horizon != 8 {
		t.Errorf("intervention = %+v", iv)
	}
	if err := iv.Validate(testNetwork(t)); err != nil {
		t.Errorf("Validate: %v", err)
	}
}
