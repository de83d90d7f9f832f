// Package dynamo provides the core types shared by the stock-flow engine.
//
// The package defines:
//
//   - [State]: vector of stock levels, indexed like the network's stock arena
//   - [Clamp]: the bound projection applied after every update
//   - [Trajectory]: per-year stock values plus convergence metadata
//   - [Bands]: percentile bands produced by uncertainty replays
//   - [Diagnostic]: structured report of numerical pathologies
//   - the error taxonomy shared by every engine package
//
// # Example
//
//	net, _ := network.New(stocks, mechs, network.Options{})
//	sol, _ := solver.New(solver.DefaultConfig(), nil).Solve(net, known, seeds)
//	traj, _ := sim.New(net, sim.DefaultConfig(), nil).Run(ctx, sol.Values(), plan)
//
// # Thread Safety
//
// States and trajectories are values; a new State is produced on every
// step and never mutated after it has been appended to a Trajectory.
// Uncertainty replays therefore share nothing but the immutable network.
package dynamo
