// Package errdef defines the error kinds the scheduling engine surfaces to
// its callers. Classification happens with errors.As so wrapped errors keep
// their kind across layers.
package errdef

import (
	"errors"
	"fmt"
)

// NewValidation creates an error for malformed input, such as an inverted
// interval or an unparseable recurrence rule.
func NewValidation(format string, a ...any) error {
	return validation{fmt.Errorf(format, a...)}
}

type validation struct{ error }

// IsValidation returns true if err represents malformed input.
func IsValidation(err error) bool {
	var e validation
	return errors.As(err, &e)
}

// NewConflict creates an error representing a scheduling conflict.
func NewConflict(format string, a ...any) error {
	return conflict{fmt.Errorf(format, a...)}
}

type conflict struct{ error }

// IsConflict returns true if err represents a scheduling conflict.
func IsConflict(err error) bool {
	var e conflict
	return errors.As(err, &e)
}

// NewNotFound creates an error representing a resource that could not be found.
func NewNotFound(format string, a ...any) error {
	return notFound{fmt.Errorf(format, a...)}
}

type notFound struct{ error }

// IsNotFound returns true if err represents a resource that could not be found.
func IsNotFound(err error) bool {
	var e notFound
	return errors.As(err, &e)
}

// NewForbidden creates an error for a caller that lacks the required role.
func NewForbidden(format string, a ...any) error {
	return forbidden{fmt.Errorf(format, a...)}
}

type forbidden struct{ error }

// IsForbidden returns true if err represents a missing role.
func IsForbidden(err error) bool {
	var e forbidden
	return errors.As(err, &e)
}

// NewUnauthorized creates an error for an unauthenticated caller.
func NewUnauthorized(format string, a ...any) error {
	return unauthorized{fmt.Errorf(format, a...)}
}

type unauthorized struct{ error }

// IsUnauthorized returns true if err represents an unauthenticated caller.
func IsUnauthorized(err error) bool {
	var e unauthorized
	return errors.As(err, &e)
}

// NewInternal creates an error for a persistence or invariant failure that
// must not leak detail to the caller.
func NewInternal(format string, a ...any) error {
	return internal{fmt.Errorf(format, a...)}
}

type internal struct{ error }

// IsInternal returns true if err represents an internal failure.
func IsInternal(err error) bool {
	var e internal
	return errors.As(err, &e)
}
