package dynamo

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the engine packages.
var (
	// ErrDomain indicates an input outside a functional form's domain.
	ErrDomain = errors.New("dynamo: functional form domain error")

	// ErrNetworkIntegrity indicates a structurally invalid network or bank.
	ErrNetworkIntegrity = errors.New("dynamo: network integrity violated")

	// ErrNonConvergent indicates an iteration or horizon cap was exhausted.
	ErrNonConvergent = errors.New("dynamo: run did not converge")

	// ErrEquilibriumMismatch indicates the baseline disagrees with observed data.
	ErrEquilibriumMismatch = errors.New("dynamo: equilibrium mismatch with observed stocks")

	// ErrMultipleEquilibria indicates more than one stable fixed point was reached.
	ErrMultipleEquilibria = errors.New("dynamo: multiple equilibria reachable")

	// ErrInvalidState indicates a state vector with NaN or Inf entries.
	ErrInvalidState = errors.New("dynamo: invalid state (NaN or Inf detected)")

	// ErrInvalidConfig indicates an engine configuration outside its valid range.
	ErrInvalidConfig = errors.New("dynamo: invalid configuration")
)

// SimulationError wraps an error with the step at which it occurred.
type SimulationError struct {
	Step    int
	Stock   string
	State   State
	Wrapped error
}

func (e *SimulationError) Error() string {
	if e.Stock != "" {
		return fmt.Sprintf("step %d (stock %s): %v", e.Step, e.Stock, e.Wrapped)
	}
	return fmt.Sprintf("step %d: %v", e.Step, e.Wrapped)
}

func (e *SimulationError) Unwrap() error {
	return e.Wrapped
}
