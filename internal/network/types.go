package network

import (
	"fmt"
	"math"

	"github.com/san-kum/stockflow/internal/dynamo"
	"github.com/san-kum/stockflow/internal/forms"
)

type Class string

const (
	Fixed Class = "fixed"
	Free  Class = "free"
)

type Stock struct {
	ID             string        `yaml:"id" json:"id"`
	Name           string        `yaml:"name,omitempty" json:"name,omitempty"`
	Unit           string        `yaml:"unit,omitempty" json:"unit,omitempty"`
	Bounds         dynamo.Bounds `yaml:"bounds" json:"bounds"`
	Class          Class         `yaml:"class" json:"class"`
	CrisisEndpoint bool          `yaml:"crisis_endpoint,omitempty" json:"crisis_endpoint,omitempty"`
}

// Direction is provenance only; the solver treats every edge as a
// directed flow contribution regardless of its label.
type Direction string

const (
	Forward    Direction = "forward"
	Backward   Direction = "backward"
	Horizontal Direction = "horizontal"
)

type ModeratorMode string

const (
	Multiplicative ModeratorMode = "multiplicative"
	Additive       ModeratorMode = "additive"
)

// Moderator adjusts a mechanism's effect size when Flag is present in the
// scenario context. An empty Mode means multiplicative.
type Moderator struct {
	Flag  string        `yaml:"flag" json:"flag"`
	Mode  ModeratorMode `yaml:"mode,omitempty" json:"mode,omitempty"`
	Value float64       `yaml:"value" json:"value"`
}

func (m Moderator) mode() ModeratorMode {
	if m.Mode == "" {
		return Multiplicative
	}
	return m.Mode
}

// Effect is a point estimate with either a standard error or a 95%
// confidence interval.
type Effect struct {
	Point  float64 `yaml:"point" json:"point"`
	StdErr float64 `yaml:"std_err,omitempty" json:"std_err,omitempty"`
	Lower  float64 `yaml:"lower,omitempty" json:"lower,omitempty"`
	Upper  float64 `yaml:"upper,omitempty" json:"upper,omitempty"`
}

// Sigma returns the standard error, derived from the 95% interval when
// no explicit standard error is given.
func (e Effect) Sigma() float64 {
	if e.StdErr > 0 {
		return e.StdErr
	}
	if e.Upper > e.Lower {
		return (e.Upper - e.Lower) / (2 * 1.959964)
	}
	return 0
}

// Latency names a materialization profile type, optionally with explicit
// per-year fractions that override the type's default.
type Latency struct {
	Type  string    `yaml:"type,omitempty" json:"type,omitempty"`
	Years []float64 `yaml:"years,omitempty" json:"years,omitempty"`
}

type Mechanism struct {
	ID         string       `yaml:"id" json:"id"`
	Source     string       `yaml:"source" json:"source"`
	Target     string       `yaml:"target" json:"target"`
	Form       forms.Kind   `yaml:"form" json:"form"`
	Params     forms.Params `yaml:"params" json:"params"`
	Effect     Effect       `yaml:"effect" json:"effect"`
	Moderators []Moderator  `yaml:"moderators,omitempty" json:"moderators,omitempty"`
	Latency    Latency      `yaml:"latency,omitempty" json:"latency,omitempty"`
	Direction  Direction    `yaml:"direction,omitempty" json:"direction,omitempty"`
}

// EffectiveAlpha applies the moderators whose flag is active.
func (m Mechanism) EffectiveAlpha(active map[string]bool) float64 {
	alpha := m.Effect.Point
	add := 0.0
	for _, mod := range m.Moderators {
		if !active[mod.Flag] {
			continue
		}
		switch mod.mode() {
		case Multiplicative:
			alpha *= mod.Value
		case Additive:
			add += mod.Value
		}
	}
	return alpha + add
}

// Edge is a mechanism resolved against the stock arena. Params.Alpha holds
// the moderated effect size.
type Edge struct {
	Mechanism int
	Source    int
	Target    int
	Form      forms.Kind
	Params    forms.Params
}

// IntegrityError reports a structural problem in a network or bank.
type IntegrityError struct {
	Code      string
	Mechanism string
	Stock     string
	Message   string
}

func (e *IntegrityError) Error() string {
	switch {
	case e.Mechanism != "" && e.Stock != "":
		return fmt.Sprintf("%s: %s: mechanism %s, stock %s: %s", dynamo.ErrNetworkIntegrity, e.Code, e.Mechanism, e.Stock, e.Message)
	case e.Mechanism != "":
		return fmt.Sprintf("%s: %s: mechanism %s: %s", dynamo.ErrNetworkIntegrity, e.Code, e.Mechanism, e.Message)
	case e.Stock != "":
		return fmt.Sprintf("%s: %s: stock %s: %s", dynamo.ErrNetworkIntegrity, e.Code, e.Stock, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", dynamo.ErrNetworkIntegrity, e.Code, e.Message)
}

func (e *IntegrityError) Unwrap() error {
	return dynamo.ErrNetworkIntegrity
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
