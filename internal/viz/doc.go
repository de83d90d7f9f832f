// Package viz renders equilibrium solutions, trajectories and uncertainty
// bands for the terminal.
//
// Reports are lipgloss tables, plots are asciigraph line charts, and
// [Browser] is a Bubble Tea program for paging through stored runs.
//
// # Browser keys
//
//	j/k   - Move between runs, or between stocks in the run view
//	enter - Open the selected run
//	t     - Cycle color themes
//	esc   - Back to the run list
//	q     - Quit
package viz
