package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned for negative or non-numeric carbohydrate amounts
	ErrInvalidInput = errors.New("invalid input")

	// ErrDomain matches any *DomainError via errors.Is
	ErrDomain = errors.New("domain error")

	// ErrPumpFault is returned when a command reaches a pump in the error state
	ErrPumpFault = errors.New("pump fault")
)

// DomainError reports a configuration value outside its valid domain,
// e.g. a non-positive insulin:carb ratio.
type DomainError struct {
	Field string
	Value float64
	Want  string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s = %g, want %s", ErrDomain, e.Field, e.Value, e.Want)
}

// Is lets errors.Is(err, ErrDomain) match
func (e *DomainError) Is(target error) bool {
	return target == ErrDomain
}
