// Package shared contains common domain errors used across all domain packages.
// This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")

	// Access errors
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")

	// Infrastructure errors
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g. "access", "roster", "analytics"
	Op      string // operation that failed, e.g. "Resolve"
	Kind    error  // base error for errors.Is() checking
	Message string // human-readable message
	Err     error  // underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching against both Kind and Err.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Access domain errors
var (
	ErrNoSession        = NewDomainError("access", "Resolve", ErrUnauthenticated, "no active session")
	ErrUnknownRole      = NewDomainError("access", "Resolve", ErrForbidden, "role is not recognised")
	ErrIdentityMismatch = NewDomainError("access", "Resolve", ErrForbidden, "record does not belong to the requester")
	ErrRoleNotAllowed   = NewDomainError("access", "Authorize", ErrForbidden, "role is not allowed to perform this operation")
	ErrInvalidStudentID = NewDomainError("access", "ParseID", ErrInvalidID, "student id must be a base-10 integer")
)

// Roster domain errors
var (
	ErrStudentNotFound  = NewDomainError("roster", "Find", ErrNotFound, "student not found")
	ErrRosterNotLoaded  = NewDomainError("roster", "Snapshot", ErrNotFound, "no roster has been loaded")
	ErrDuplicateStudent = NewDomainError("roster", "Validate", ErrAlreadyExists, "duplicate student id in roster")
	ErrBatchNotFound    = NewDomainError("roster", "GetBatch", ErrNotFound, "analysis batch not found")
)

// Analytics domain errors
var (
	ErrEmptyDataset   = NewDomainError("analytics", "Analyze", ErrEmptyValue, "dataset has no rows")
	ErrMissingColumns = NewDomainError("analytics", "Analyze", ErrInvalidInput, "dataset is missing required columns")
)

// Session errors
var (
	ErrSessionNotFound = NewDomainError("session", "Lookup", ErrUnauthenticated, "session not found or expired")
	ErrInvalidToken    = NewDomainError("session", "Validate", ErrUnauthenticated, "invalid session token")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsUnauthenticated checks if the requester has no valid session.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}

// IsForbidden checks if the requester is known but not permitted.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}
