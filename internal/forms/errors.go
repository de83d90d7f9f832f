package forms

import (
	"fmt"

	"github.com/san-kum/stockflow/internal/dynamo"
)

// DomainError reports an input outside the domain of a functional form.
type DomainError struct {
	Form   Kind
	Input  string
	Value  float64
	Reason string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s %s=%g: %s", dynamo.ErrDomain, e.Form, e.Input, e.Value, e.Reason)
}

func (e *DomainError) Unwrap() error {
	return dynamo.ErrDomain
}
