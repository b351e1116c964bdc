package compiler

import (
	"errors"
	"regexp"
	"strings"
)

// StepID uniquely identifies a step within a plan.
// Format: action[:subject] (e.g., "create-venv", "install-package:nginx").
type StepID struct {
	value string
}

// Errors for StepID validation.
var (
	ErrEmptyStepID   = errors.New("step ID cannot be empty")
	ErrInvalidStepID = errors.New("step ID format invalid: must be lowercase alphanumeric with hyphens, optionally followed by :subject")
)

// stepIDPattern validates step ID format: a lowercase action, then optional
// colon-separated subjects that may also carry dots, @, underscores and slashes.
var stepIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*(?::[a-zA-Z0-9][a-zA-Z0-9._@/-]*)*$`)

// NewStepID creates a new StepID from a string.
func NewStepID(value string) (StepID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return StepID{}, ErrEmptyStepID
	}

	if !stepIDPattern.MatchString(trimmed) {
		return StepID{}, ErrInvalidStepID
	}

	return StepID{value: trimmed}, nil
}

// MustNewStepID creates a new StepID from a string, panicking on error.
// Use this for compile-time known values that should never fail validation.
func MustNewStepID(value string) StepID {
	id, err := NewStepID(value)
	if err != nil {
		panic("invalid step ID: " + value + ": " + err.Error())
	}
	return id
}

// String returns the string representation.
func (id StepID) String() string {
	return id.value
}

// Equals checks equality with another StepID.
func (id StepID) Equals(other StepID) bool {
	return id.value == other.value
}

// Action extracts the action name (first segment).
func (id StepID) Action() string {
	parts := strings.SplitN(id.value, ":", 2)
	return parts[0]
}

// Subject returns everything after the first colon, or "".
func (id StepID) Subject() string {
	parts := strings.SplitN(id.value, ":", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// IsZero returns true if this is a zero-value StepID.
func (id StepID) IsZero() bool {
	return id.value == ""
}
