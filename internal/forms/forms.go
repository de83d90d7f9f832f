package forms

import (
	"fmt"
	"math"
	"strings"
)

type Kind uint8

const (
	Sigmoid Kind = iota + 1
	Logarithmic
	SaturatingLinear
	Threshold
	MultiplicativeDampening
)

var kindNames = map[Kind]string{
	Sigmoid:                 "sigmoid",
	Logarithmic:             "logarithmic",
	SaturatingLinear:        "saturating_linear",
	Threshold:               "threshold",
	MultiplicativeDampening: "multiplicative_dampening",
}

// Kinds lists every form in declaration order.
func Kinds() []Kind {
	return []Kind{Sigmoid, Logarithmic, SaturatingLinear, Threshold, MultiplicativeDampening}
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind accepts the canonical names plus a few spellings found in
// mechanism banks ("saturating-linear", "threshold_activated", ...).
func ParseKind(s string) (Kind, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	switch norm {
	case "sigmoid", "logistic":
		return Sigmoid, nil
	case "logarithmic", "log":
		return Logarithmic, nil
	case "saturating_linear", "linear_saturating":
		return SaturatingLinear, nil
	case "threshold", "threshold_activated":
		return Threshold, nil
	case "multiplicative_dampening", "dampening":
		return MultiplicativeDampening, nil
	case "":
		return 0, fmt.Errorf("forms: functional form missing")
	}
	return 0, fmt.Errorf("forms: unknown functional form %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("forms: cannot marshal %s", k)
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Saturating reports whether a form's output is capped for unbounded
// source input. Logarithmic and threshold forms grow without limit.
func Saturating(k Kind) bool {
	switch k {
	case Sigmoid, SaturatingLinear, MultiplicativeDampening:
		return true
	case Logarithmic, Threshold:
		return false
	}
	panic(fmt.Sprintf("forms: unhandled kind %d", uint8(k)))
}

// Params holds α plus the form-specific parameters. Unused fields are
// ignored by forms that do not need them.
type Params struct {
	Alpha      float64 `yaml:"alpha" json:"alpha"`
	Saturation float64 `yaml:"saturation,omitempty" json:"saturation,omitempty"`
	Steepness  float64 `yaml:"steepness,omitempty" json:"steepness,omitempty"`
	Midpoint   float64 `yaml:"midpoint,omitempty" json:"midpoint,omitempty"`
	Cap        float64 `yaml:"cap,omitempty" json:"cap,omitempty"`
	Threshold  float64 `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Max        float64 `yaml:"max,omitempty" json:"max,omitempty"`
}

// Validate checks the static parameters of a form. It is run once when a
// mechanism enters a network, so Flow never sees a structurally invalid
// parameter set.
func Validate(k Kind, p Params) error {
	if !finite(p.Alpha) {
		return &DomainError{Form: k, Input: "alpha", Value: p.Alpha, Reason: "not finite"}
	}
	switch k {
	case Sigmoid:
		if !finite(p.Saturation) || p.Saturation < 0 {
			return &DomainError{Form: k, Input: "saturation", Value: p.Saturation, Reason: "must be finite and >= 0"}
		}
		if !finite(p.Steepness) || !finite(p.Midpoint) {
			return &DomainError{Form: k, Input: "steepness", Value: p.Steepness, Reason: "steepness and midpoint must be finite"}
		}
	case Logarithmic:
	case SaturatingLinear:
		if !finite(p.Cap) {
			return &DomainError{Form: k, Input: "cap", Value: p.Cap, Reason: "not finite"}
		}
	case Threshold:
		if !finite(p.Threshold) {
			return &DomainError{Form: k, Input: "threshold", Value: p.Threshold, Reason: "not finite"}
		}
	case MultiplicativeDampening:
		if !finite(p.Max) || p.Max <= 0 {
			return &DomainError{Form: k, Input: "max", Value: p.Max, Reason: "must be finite and > 0"}
		}
	default:
		return fmt.Errorf("forms: unknown functional form %s", k)
	}
	return nil
}

// Flow evaluates the form for source level s and target level t.
func Flow(k Kind, s, t float64, p Params) (float64, error) {
	if err := checkInputs(k, s, t); err != nil {
		return 0, err
	}
	if p.Alpha == 0 {
		return 0, nil
	}
	switch k {
	case Sigmoid:
		return p.Alpha * p.Saturation * logistic(p.Steepness*(s-p.Midpoint)), nil
	case Logarithmic:
		return p.Alpha * math.Log1p(s), nil
	case SaturatingLinear:
		return math.Min(p.Alpha*s, p.Cap-t), nil
	case Threshold:
		return p.Alpha * math.Max(0, s-p.Threshold), nil
	case MultiplicativeDampening:
		return p.Alpha * s * damping(t, p.Max), nil
	}
	panic(fmt.Sprintf("forms: unhandled kind %d", uint8(k)))
}

// DSource is ∂Flow/∂s at (s, t).
func DSource(k Kind, s, t float64, p Params) (float64, error) {
	if err := checkInputs(k, s, t); err != nil {
		return 0, err
	}
	if p.Alpha == 0 {
		return 0, nil
	}
	switch k {
	case Sigmoid:
		sig := logistic(p.Steepness * (s - p.Midpoint))
		return p.Alpha * p.Saturation * p.Steepness * sig * (1 - sig), nil
	case Logarithmic:
		return p.Alpha / (1 + s), nil
	case SaturatingLinear:
		if p.Alpha*s < p.Cap-t {
			return p.Alpha, nil
		}
		return 0, nil
	case Threshold:
		if s > p.Threshold {
			return p.Alpha, nil
		}
		return 0, nil
	case MultiplicativeDampening:
		return p.Alpha * damping(t, p.Max), nil
	}
	panic(fmt.Sprintf("forms: unhandled kind %d", uint8(k)))
}

// DTarget is ∂Flow/∂t at (s, t). Only the target-dependent forms have a
// non-zero value.
func DTarget(k Kind, s, t float64, p Params) (float64, error) {
	if err := checkInputs(k, s, t); err != nil {
		return 0, err
	}
	if p.Alpha == 0 {
		return 0, nil
	}
	switch k {
	case Sigmoid, Threshold, Logarithmic:
		return 0, nil
	case SaturatingLinear:
		if p.Alpha*s >= p.Cap-t {
			return -1, nil
		}
		return 0, nil
	case MultiplicativeDampening:
		if t >= p.Max {
			return 0, nil
		}
		return -p.Alpha * s / p.Max, nil
	}
	panic(fmt.Sprintf("forms: unhandled kind %d", uint8(k)))
}

func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func damping(t, max float64) float64 {
	return math.Max(0, 1-t/max)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func checkInputs(k Kind, s, t float64) error {
	if !finite(s) {
		return &DomainError{Form: k, Input: "source", Value: s, Reason: "not finite"}
	}
	if !finite(t) {
		return &DomainError{Form: k, Input: "target", Value: t, Reason: "not finite"}
	}
	if k == Logarithmic && s < 0 {
		return &DomainError{Form: k, Input: "source", Value: s, Reason: "logarithmic form requires s >= 0"}
	}
	return nil
}
