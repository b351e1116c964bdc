package config

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes. Every UserError is an invocation problem: the command
// exits with status 2 and changes nothing.
const (
	ErrCodeConfigNotFound    = "CONFIG_NOT_FOUND"
	ErrCodeConfigParse       = "CONFIG_PARSE"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeProjectInvalid    = "PROJECT_INVALID"
	ErrCodeInvalidInvocation = "INVALID_INVOCATION"
)

// UserError is a problem the operator can fix by changing the command line,
// the config files or the working directory.
type UserError struct {
	Code       string
	Message    string
	Context    string // config key, file or directory the error refers to
	Suggestion string
	Underlying error
}

func (e *UserError) Error() string {
	if e.Context == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (at %s)", e.Message, e.Context)
}

func (e *UserError) Unwrap() error {
	return e.Underlying
}

// Is matches another UserError by code.
func (e *UserError) Is(target error) bool {
	t, ok := target.(*UserError)
	return ok && e.Code == t.Code
}

// Format renders the error with its code, location and suggestion.
func (e *UserError) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)
	if e.Context != "" {
		fmt.Fprintf(&b, "\n  Location: %s", e.Context)
	}
	if e.Suggestion != "" {
		fmt.Fprintf(&b, "\n  Suggestion: %s", e.Suggestion)
	}
	return b.String()
}

// NewUserError creates a UserError.
func NewUserError(code, message string) *UserError {
	return &UserError{Code: code, Message: message}
}

// WithContext returns a copy with Context set.
func (e *UserError) WithContext(ctx string) *UserError {
	c := *e
	c.Context = ctx
	return &c
}

// WithSuggestion returns a copy with Suggestion set.
func (e *UserError) WithSuggestion(suggestion string) *UserError {
	c := *e
	c.Suggestion = suggestion
	return &c
}

// WithUnderlying returns a copy wrapping err.
func (e *UserError) WithUnderlying(err error) *UserError {
	c := *e
	c.Underlying = err
	return &c
}

// ErrorList collects every validation problem so one run reports them all.
type ErrorList struct {
	errs []*UserError
}

// NewErrorList creates an empty ErrorList.
func NewErrorList() *ErrorList {
	return &ErrorList{}
}

// Add appends err; nil is ignored.
func (l *ErrorList) Add(err *UserError) {
	if err != nil {
		l.errs = append(l.errs, err)
	}
}

// AddValidation appends a VALIDATION_FAILED error for a config key.
func (l *ErrorList) AddValidation(field, message, suggestion string) {
	l.Add(&UserError{
		Code:       ErrCodeValidationFailed,
		Message:    field + ": " + message,
		Context:    field,
		Suggestion: suggestion,
	})
}

// HasErrors reports whether anything was collected.
func (l *ErrorList) HasErrors() bool { return len(l.errs) > 0 }

// Len returns the number of errors.
func (l *ErrorList) Len() int { return len(l.errs) }

// Errors returns a copy of the collected errors.
func (l *ErrorList) Errors() []*UserError {
	return append([]*UserError(nil), l.errs...)
}

// Unwrap exposes the entries to errors.Is and errors.As.
func (l *ErrorList) Unwrap() []error {
	out := make([]error, len(l.errs))
	for i, e := range l.errs {
		out[i] = e
	}
	return out
}

func (l *ErrorList) Error() string {
	switch len(l.errs) {
	case 0:
		return ""
	case 1:
		return l.errs[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d configuration errors:\n", len(l.errs))
	for i, e := range l.errs {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, e.Error())
	}
	return b.String()
}

// Format renders every error with its suggestion.
func (l *ErrorList) Format() string {
	if len(l.errs) == 0 {
		return ""
	}
	parts := make([]string, len(l.errs))
	for i, e := range l.errs {
		parts[i] = e.Format()
	}
	return fmt.Sprintf("Found %d error(s):\n\n%s\n", len(l.errs), strings.Join(parts, "\n\n"))
}

// AsError returns l, or nil when it is empty.
func (l *ErrorList) AsError() error {
	if !l.HasErrors() {
		return nil
	}
	return l
}

// NewConfigNotFoundError reports an explicit --config path that does not exist.
func NewConfigNotFoundError(path string) *UserError {
	return &UserError{
		Code:       ErrCodeConfigNotFound,
		Message:    "configuration file not found: " + path,
		Context:    path,
		Suggestion: "Check the --config path, or drop the flag to use trunkprov.yaml in the project directory.",
	}
}

// NewConfigParseError reports a YAML or TOML syntax problem.
func NewConfigParseError(path string, err error) *UserError {
	return &UserError{
		Code:       ErrCodeConfigParse,
		Message:    "failed to parse configuration file",
		Context:    path,
		Suggestion: "Check the file syntax: indentation, missing colons and unquoted special characters are the usual suspects.",
		Underlying: err,
	}
}

// NewValidationFailedError reports one invalid config key.
func NewValidationFailedError(field, message string) *UserError {
	return &UserError{
		Code:    ErrCodeValidationFailed,
		Message: fmt.Sprintf("invalid %s: %s", field, message),
		Context: field,
	}
}

// NewProjectError reports a project directory that cannot be provisioned.
func NewProjectError(dir, message string) *UserError {
	return &UserError{
		Code:       ErrCodeProjectInvalid,
		Message:    message,
		Context:    dir,
		Suggestion: "Run trunkprov from the Trunk Player checkout, or pass --project-dir.",
	}
}

// NewInvocationError reports a bad command line.
func NewInvocationError(message, suggestion string) *UserError {
	return &UserError{
		Code:       ErrCodeInvalidInvocation,
		Message:    message,
		Suggestion: suggestion,
	}
}

// IsUserError reports whether err carries a UserError with code.
func IsUserError(err error, code string) bool {
	ue := GetUserError(err)
	return ue != nil && ue.Code == code
}

// GetUserError returns the first UserError in err's chain.
func GetUserError(err error) *UserError {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue
	}
	return nil
}
