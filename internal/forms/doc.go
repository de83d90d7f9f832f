// Package forms implements the closed set of functional forms a mechanism
// may use to turn a source stock level into a flow on its target stock.
//
// The set is fixed:
//
//   - [Sigmoid]: α·L / (1 + e^{-k(s-x₀)})
//   - [Logarithmic]: α·log(1+s), s ≥ 0
//   - [SaturatingLinear]: min(α·s, cap-t)
//   - [Threshold]: α·max(0, s-θ)
//   - [MultiplicativeDampening]: α·s·(1 - t/t_max)
//
// Every form is evaluated through [Flow], with partial derivatives
// [DSource] (used by the solver's linearization) and [DTarget] (the
// self-damping term). All three switch exhaustively over [Kind]; an
// unknown kind is a programming error and panics.
//
// The sign of every flow follows the sign of α, except that a
// saturating-linear target already above its cap is pulled back to it.
// α = 0 yields a zero flow once the inputs are in the form's domain.
package forms
