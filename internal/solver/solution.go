package solver

import (
	"fmt"

	"github.com/san-kum/stockflow/internal/dynamo"
)

type Status string

const (
	Converged     Status = "converged"
	NonConvergent Status = "non_convergent"
	// Ambiguous means several seeds reached materially different fixed
	// points. The caller picks one with Select.
	Ambiguous Status = "ambiguous"
)

// Seed is a named initial guess for the free stocks.
type Seed struct {
	Name   string             `yaml:"name" json:"name"`
	Values map[string]float64 `yaml:"values" json:"values"`
}

// Candidate is the outcome of relaxing from one seed.
type Candidate struct {
	Seed       string       `json:"seed"`
	Status     Status       `json:"status"`
	Values     dynamo.State `json:"values"`
	Iterations int          `json:"iterations"`
	Residual   float64      `json:"residual"`
	Cause      string       `json:"cause,omitempty"`
	Report     Report       `json:"report"`
}

// Solution is an equilibrium baseline. It is never mutated once
// returned; Select produces a new Solution.
type Solution struct {
	Status      Status              `json:"status"`
	Stocks      []string            `json:"stocks"`
	Units       []string            `json:"units"`
	Values      dynamo.State        `json:"values"`
	Seed        string              `json:"seed"`
	Iterations  int                 `json:"iterations"`
	Residual    float64             `json:"residual"`
	Cause       string              `json:"cause,omitempty"`
	Report      Report              `json:"report"`
	Candidates  []Candidate         `json:"candidates,omitempty"`
	Diagnostics []dynamo.Diagnostic `json:"diagnostics,omitempty"`
}

func (s *Solution) Value(stock string) (float64, bool) {
	for i, id := range s.Stocks {
		if id == stock && s.Values != nil {
			return s.Values[i], true
		}
	}
	return 0, false
}

// Select resolves an ambiguous solution to the candidate reached from the
// named seed. A hard mismatch on that candidate is returned as an error
// alongside the selected solution.
func (s *Solution) Select(seed string) (*Solution, error) {
	for _, c := range s.Candidates {
		if c.Seed != seed {
			continue
		}
		out := &Solution{
			Status:     c.Status,
			Stocks:     s.Stocks,
			Units:      s.Units,
			Values:     c.Values.Clone(),
			Seed:       c.Seed,
			Iterations: c.Iterations,
			Residual:   c.Residual,
			Cause:      c.Cause,
			Report:     c.Report,
			Candidates: s.Candidates,
		}
		for _, d := range s.Diagnostics {
			if d.Kind != dynamo.DiagMultipleEquilibria {
				out.Diagnostics = append(out.Diagnostics, d)
			}
		}
		out.Diagnostics = append(out.Diagnostics, c.Report.Diagnostics()...)
		return out, c.Report.Err()
	}
	return nil, fmt.Errorf("solver: no candidate from seed %q", seed)
}

// Err maps a numerical outcome onto the error taxonomy. It is nil for a
// converged solution.
func (s *Solution) Err() error {
	switch s.Status {
	case NonConvergent:
		return fmt.Errorf("%w: %s", dynamo.ErrNonConvergent, s.Cause)
	case Ambiguous:
		return fmt.Errorf("%w: %d candidates", dynamo.ErrMultipleEquilibria, len(s.Candidates))
	}
	return nil
}

// Trajectory returns the solution as a single-year trajectory.
func (s *Solution) Trajectory() *dynamo.Trajectory {
	phase := dynamo.PhaseConverged
	if s.Status != Converged {
		phase = dynamo.PhaseNonConvergent
	}
	t := &dynamo.Trajectory{
		Stocks:      s.Stocks,
		Units:       s.Units,
		Phase:       phase,
		Converged:   s.Status == Converged,
		Diagnostics: s.Diagnostics,
	}
	if s.Values != nil {
		t.Values = []dynamo.State{s.Values.Clone()}
		t.Final = s.Values.Clone()
	}
	return t
}
