package dynamo

import "fmt"

// Phase is a state of the time-stepper's machine. Converged,
// HorizonExpired and NonConvergent are terminal.
type Phase string

const (
	PhaseInitializing   Phase = "initializing"
	PhaseStepping       Phase = "stepping"
	PhaseConverged      Phase = "converged"
	PhaseHorizonExpired Phase = "horizon_expired"
	PhaseNonConvergent  Phase = "non_convergent"
)

func (p Phase) Terminal() bool {
	switch p {
	case PhaseConverged, PhaseHorizonExpired, PhaseNonConvergent:
		return true
	}
	return false
}

// Cause explains why a run ended without converging.
type Cause string

const (
	CauseNone            Cause = ""
	CauseOscillation     Cause = "oscillation"
	CauseSlowDrift       Cause = "slow_drift"
	CauseUnboundedGrowth Cause = "unbounded_growth"
)

type DiagnosticKind string

const (
	DiagNonConvergence      DiagnosticKind = "non_convergence"
	DiagOscillation         DiagnosticKind = "oscillation"
	DiagUnboundedGrowth     DiagnosticKind = "unbounded_growth"
	DiagMultipleEquilibria  DiagnosticKind = "multiple_equilibria"
	DiagEquilibriumMismatch DiagnosticKind = "equilibrium_mismatch"
	DiagClamped             DiagnosticKind = "clamped"
)

// Diagnostic carries enough identifiers for a caller to explain a
// pathology without re-deriving it.
type Diagnostic struct {
	Kind       DiagnosticKind `json:"kind"`
	Year       int            `json:"year"`
	Stocks     []string       `json:"stocks,omitempty"`
	Mechanisms []string       `json:"mechanisms,omitempty"`
	Message    string         `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("[%s] year %d: %s", d.Kind, d.Year, d.Message)
}

// Trajectory is the per-year output of a run. Values are raw and
// undiscounted; DiscountRate is carried for downstream consumers only.
type Trajectory struct {
	Stocks          []string     `json:"stocks"`
	Units           []string     `json:"units"`
	Values          []State      `json:"values"`
	Phase           Phase        `json:"phase"`
	Converged       bool         `json:"converged"`
	ConvergenceYear int          `json:"convergence_year"`
	Cause           Cause        `json:"cause,omitempty"`
	Final           State        `json:"final"`
	Diagnostics     []Diagnostic `json:"diagnostics,omitempty"`
	DiscountRate    float64      `json:"discount_rate"`
	Bands           *Bands       `json:"bands,omitempty"`
}

// Years returns the number of recorded years including year 0.
func (t *Trajectory) Years() int {
	return len(t.Values)
}

func (t *Trajectory) Index(stock string) int {
	for i, id := range t.Stocks {
		if id == stock {
			return i
		}
	}
	return -1
}

// Series returns one stock's values across all recorded years.
func (t *Trajectory) Series(idx int) []float64 {
	out := make([]float64, len(t.Values))
	for y, s := range t.Values {
		out[y] = s[idx]
	}
	return out
}

// Last returns the last recorded state.
func (t *Trajectory) Last() State {
	if len(t.Values) == 0 {
		return nil
	}
	return t.Values[len(t.Values)-1]
}

// Bands holds percentile bands per stock per year. The outer index is the
// stock, the inner index the year.
type Bands struct {
	Level   float64     `json:"level"`
	Median  [][]float64 `json:"median"`
	Lower   [][]float64 `json:"lower"`
	Upper   [][]float64 `json:"upper"`
	Replays int         `json:"replays"`
	Failed  int         `json:"failed"`
}

func (b *Bands) Width(stock, year int) float64 {
	return b.Upper[stock][year] - b.Lower[stock][year]
}

func (b *Bands) Years() int {
	if len(b.Median) == 0 {
		return 0
	}
	return len(b.Median[0])
}
