// LOCATION: internal/errors/errors.go
// VERSION: 3.0 - Error taxonomy for booking, filling and writing
//
// This file provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - Configuration vs. per-event classification
// - Error wrapping utilities

package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Not found errors
	ErrNotFound           = errors.New("not found")
	ErrVariableNotFound   = errors.New("variable not found")
	ErrContainerNotFound  = errors.New("container not found")
	ErrGroupNotFound      = errors.New("systematic group not found")
	ErrSystematicNotFound = errors.New("systematic not found")
	ErrTreeNotFound       = errors.New("tree not found")

	// Already exists errors
	ErrAlreadyExists  = errors.New("already exists")
	ErrVariableExists = errors.New("variable already exists")
	ErrBranchExists   = errors.New("branch already exists")
	ErrGroupExists    = errors.New("systematic group already exists")
	ErrTreeExists     = errors.New("tree already exists")

	// Validation errors
	ErrInvalidName       = errors.New("invalid name")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrMissingField      = errors.New("missing required field")
	ErrInvalidObjectType = errors.New("invalid object type")
	ErrTypeMismatch      = errors.New("type mismatch")

	// State errors
	ErrInvalidState       = errors.New("invalid state")
	ErrLocked             = errors.New("registry is locked")
	ErrAlreadyInitialized = errors.New("already initialized")
	ErrNotInitialized     = errors.New("not initialized")
	ErrGroupNotNominal    = errors.New("group tree requires the nominal systematic")
	ErrCycle              = errors.New("friend graph cycle")

	// Per-event data errors
	ErrAlreadyStored         = errors.New("value already stored for this event")
	ErrNotAvailable          = errors.New("value not available")
	ErrStaleBranch           = errors.New("branch not updated since last fill")
	ErrNoContainer           = errors.New("no container for systematic")
	ErrEmptyBranchSet        = errors.New("empty branch set")
	ErrInconsistentContainer = errors.New("container differs from nominal")

	// Internal errors
	ErrInternal = errors.New("internal error")
	ErrBackend  = errors.New("output backend error")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// New is a convenience wrapper for errors.New
var New = errors.New

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrVariableNotFound) ||
		errors.Is(err, ErrContainerNotFound) ||
		errors.Is(err, ErrGroupNotFound) ||
		errors.Is(err, ErrSystematicNotFound) ||
		errors.Is(err, ErrTreeNotFound)
}

// IsAlreadyExists returns true if err is an already-exists error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrVariableExists) ||
		errors.Is(err, ErrBranchExists) ||
		errors.Is(err, ErrGroupExists) ||
		errors.Is(err, ErrTreeExists)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidName) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidObjectType) ||
		errors.Is(err, ErrTypeMismatch)
}

// IsStateError returns true if err is a state-related error.
func IsStateError(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrLocked) ||
		errors.Is(err, ErrAlreadyInitialized) ||
		errors.Is(err, ErrNotInitialized) ||
		errors.Is(err, ErrGroupNotNominal) ||
		errors.Is(err, ErrCycle)
}

// IsConfiguration returns true if err indicates an inconsistent analysis
// setup. Such errors abort the whole run and are never retried.
func IsConfiguration(err error) bool {
	return IsNotFound(err) ||
		IsAlreadyExists(err) ||
		IsValidation(err) ||
		IsStateError(err)
}

// IsPerEvent returns true if err is scoped to the current event and
// systematic. The run continues with the next systematic or event.
func IsPerEvent(err error) bool {
	return errors.Is(err, ErrAlreadyStored) ||
		errors.Is(err, ErrNotAvailable) ||
		errors.Is(err, ErrStaleBranch) ||
		errors.Is(err, ErrNoContainer) ||
		errors.Is(err, ErrEmptyBranchSet) ||
		errors.Is(err, ErrInconsistentContainer)
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewNotFound creates a not-found error with context.
func NewNotFound(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrNotFound)
}

// NewAlreadyExists creates an already-exists error with context.
func NewAlreadyExists(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrAlreadyExists)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidConfig)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the collected errors for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
