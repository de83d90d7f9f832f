// Package analysis characterizes uncertainty bands produced by the
// replay engine.
//
//   - [WidthGrowth]: per-stock band width per year, a fitted power-law
//     growth exponent and the share of stocks whose band widens
//
// # Width Growth
//
// Parameter and latency uncertainty compound year over year, so band
// width is expected to grow roughly like √t:
//
//	g, err := analysis.WidthGrowth(bands, net, 1, 5)
//	if g.Share < 0.9 {
//	    // fewer than 90% of driven stocks widen between years 1 and 5
//	}
//
// Only stocks with at least one incoming mechanism count towards Share;
// fixed stocks without inflows follow the plan and carry no band.
package analysis
