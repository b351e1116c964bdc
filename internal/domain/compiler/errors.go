package compiler

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error codes for step and plan failures.
const (
	ErrCodePreconditionUnmet      = "PRECONDITION_UNMET"
	ErrCodeProbeFailed            = "PROBE_FAILED"
	ErrCodeActionTimeout          = "ACTION_TIMEOUT"
	ErrCodeActionFailed           = "ACTION_FAILED"
	ErrCodeConfirmationDenied     = "CONFIRMATION_DENIED"
	ErrCodePlanInvariantViolation = "PLAN_INVARIANT_VIOLATION"
	ErrCodeLedgerWriteFailed      = "LEDGER_WRITE_FAILED"
)

// Sentinels matched by StepError.Is on code.
var (
	ErrPreconditionUnmet      = errors.New("precondition unmet")
	ErrProbeFailed            = errors.New("probe failed")
	ErrActionTimeout          = errors.New("action timed out")
	ErrActionFailed           = errors.New("action failed")
	ErrConfirmationDenied     = errors.New("confirmation denied")
	ErrPlanInvariantViolation = errors.New("plan invariant violation")
	ErrLedgerWriteFailed      = errors.New("ledger write failed")
)

var sentinelByCode = map[string]error{
	ErrCodePreconditionUnmet:      ErrPreconditionUnmet,
	ErrCodeProbeFailed:            ErrProbeFailed,
	ErrCodeActionTimeout:          ErrActionTimeout,
	ErrCodeActionFailed:           ErrActionFailed,
	ErrCodeConfirmationDenied:     ErrConfirmationDenied,
	ErrCodePlanInvariantViolation: ErrPlanInvariantViolation,
	ErrCodeLedgerWriteFailed:      ErrLedgerWriteFailed,
}

// StepError represents a user-friendly step error with actionable suggestions.
type StepError struct {
	Code       string // Error code for categorization
	Message    string // User-friendly error message
	StepID     string // Step ID if applicable
	Suggestion string // Actionable suggestion to fix the error
	Underlying error  // Wrapped error for error chain
}

// Error returns the formatted error message.
func (e *StepError) Error() string {
	msg := e.Message
	if e.StepID != "" {
		msg = fmt.Sprintf("step %q: %s", e.StepID, e.Message)
	}
	if e.Underlying != nil {
		msg += ": " + e.Underlying.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain support.
func (e *StepError) Unwrap() error {
	return e.Underlying
}

// Is matches the sentinel for the error's code.
func (e *StepError) Is(target error) bool {
	if t, ok := target.(*StepError); ok {
		return e.Code == t.Code
	}
	s, ok := sentinelByCode[e.Code]
	return ok && s == target
}

// Format returns a fully formatted error with all details.
func (e *StepError) Format() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.StepID != "" {
		b.WriteString(fmt.Sprintf("\n  Step: %s", e.StepID))
	}

	if e.Suggestion != "" {
		b.WriteString(fmt.Sprintf("\n  Suggestion: %s", e.Suggestion))
	}

	if e.Underlying != nil {
		b.WriteString(fmt.Sprintf("\n  Cause: %s", e.Underlying.Error()))
	}

	return b.String()
}

// NewStepError creates a new StepError with the given code and message.
func NewStepError(code, message string) *StepError {
	return &StepError{
		Code:    code,
		Message: message,
	}
}

// WithStepID returns a new StepError with step ID set.
func (e *StepError) WithStepID(stepID string) *StepError {
	c := *e
	c.StepID = stepID
	return &c
}

// WithSuggestion returns a new StepError with suggestion set.
func (e *StepError) WithSuggestion(suggestion string) *StepError {
	c := *e
	c.Suggestion = suggestion
	return &c
}

// WithUnderlying returns a new StepError wrapping another error.
func (e *StepError) WithUnderlying(err error) *StepError {
	c := *e
	c.Underlying = err
	return &c
}

// CodeOf returns the StepError code in err's chain, or "".
func CodeOf(err error) string {
	var se *StepError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// NewActionFailedError creates an error for a non-zero exit or ineffective mutation.
func NewActionFailedError(stepID string, err error) *StepError {
	return &StepError{
		Code:       ErrCodeActionFailed,
		Message:    "action failed",
		StepID:     stepID,
		Suggestion: "Check the captured output above and rerun with --verbose for the exact commands.",
		Underlying: err,
	}
}

// NewActionTimeoutError creates an error for an action that exceeded its timeout.
func NewActionTimeoutError(stepID string, timeout time.Duration, err error) *StepError {
	return &StepError{
		Code:       ErrCodeActionTimeout,
		Message:    fmt.Sprintf("action did not finish within %s", timeout),
		StepID:     stepID,
		Suggestion: "The external tool may be hung or waiting for input. Check that the service is healthy and rerun.",
		Underlying: err,
	}
}

// NewConfirmationDeniedError creates an error for a declined destructive step.
func NewConfirmationDeniedError(stepID string) *StepError {
	return &StepError{
		Code:       ErrCodeConfirmationDenied,
		Message:    "confirmation denied",
		StepID:     stepID,
		Suggestion: "Rerun and confirm, or pass the matching --yes flag.",
	}
}

// NewPlanInvariantError creates an error for a builder ordering defect.
func NewPlanInvariantError(stepID, message string) *StepError {
	return &StepError{
		Code:       ErrCodePlanInvariantViolation,
		Message:    message,
		StepID:     stepID,
		Suggestion: "This is a provisioner defect, not a problem with your environment. Please report it.",
	}
}

// NewLedgerWriteError creates an error for a failed state ledger write.
func NewLedgerWriteError(stepID string, err error) *StepError {
	return &StepError{
		Code:       ErrCodeLedgerWriteFailed,
		Message:    "resource was provisioned but could not be recorded",
		StepID:     stepID,
		Suggestion: "Check permissions on the .trunkprov directory. The resource exists and must be removed manually if you uninstall.",
		Underlying: err,
	}
}

// NewProbeFailedError creates an error for a check that could not run.
func NewProbeFailedError(stepID string, err error) *StepError {
	return &StepError{
		Code:       ErrCodeProbeFailed,
		Message:    "status check failed",
		StepID:     stepID,
		Underlying: err,
	}
}
