package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Not found errors
	ErrNotFound    = errors.New("resource not found")
	ErrRunNotFound = fmt.Errorf("%w: run", ErrNotFound)

	// Model specification errors
	ErrInvalidModel      = errors.New("invalid path model")
	ErrInvalidPopulation = errors.New("invalid population parameters")
	ErrInvalidEffect     = errors.New("invalid derived effect")
	ErrCyclicModel       = fmt.Errorf("%w: endogenous paths form a cycle", ErrInvalidModel)

	// Simulation errors
	ErrInvalidPlan      = errors.New("invalid simulation plan")
	ErrNonConvergence   = errors.New("model estimation did not converge")
	ErrTargetNotReached = errors.New("target power not reached in swept range")
)

// Error constructors with context
func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s with id %s", ErrNotFound, resource, id)
}

func NewModelError(field string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidModel, field, reason)
}

func NewPlanError(field string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidPlan, field, reason)
}

func NewConvergenceError(equation string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrNonConvergence, equation, reason)
}

// Error checking helpers
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsSpecificationError(err error) bool {
	return errors.Is(err, ErrInvalidModel) ||
		errors.Is(err, ErrInvalidPopulation) ||
		errors.Is(err, ErrInvalidEffect) ||
		errors.Is(err, ErrInvalidPlan)
}

func IsConvergenceError(err error) bool {
	return errors.Is(err, ErrNonConvergence)
}
