package compiler

// StepStatus is the outcome of a step's Check.
type StepStatus string

const (
	// StatusSatisfied indicates the step's desired state is already met.
	StatusSatisfied StepStatus = "satisfied"
	// StatusNeedsApply indicates the step needs to be applied.
	StatusNeedsApply StepStatus = "needs-apply"
	// StatusUnmet indicates the precondition does not hold; the step is skipped.
	StatusUnmet StepStatus = "precondition-unmet"
	// StatusUnknown indicates the step's state could not be determined.
	StatusUnknown StepStatus = "unknown"
)

// String returns the string representation of the status.
func (s StepStatus) String() string {
	return string(s)
}

// ShouldApply returns true if the executor must run the action.
// Unknown is treated as needing apply so a failed check never hides work.
func (s StepStatus) ShouldApply() bool {
	switch s {
	case StatusNeedsApply, StatusUnknown:
		return true
	case StatusSatisfied, StatusUnmet:
		return false
	}
	return false
}

// SkipReason returns the human reason recorded for a skipped step.
func (s StepStatus) SkipReason() string {
	switch s {
	case StatusSatisfied:
		return "already satisfied"
	case StatusUnmet:
		return "precondition unmet"
	case StatusNeedsApply, StatusUnknown:
		return ""
	}
	return ""
}
