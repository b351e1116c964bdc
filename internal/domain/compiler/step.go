package compiler

import "github.com/trunkplayer/trunkprov/internal/domain/state"

// Step is one planned, preconditioned, retryable unit of provisioning work.
type Step interface {
	// ID returns the stable identifier for this step.
	ID() StepID

	// Description is a one-line human summary.
	Description() string

	// Goal is the provisioning goal this step contributes to.
	Goal() Goal

	// Requires lists resources that must exist before Apply runs.
	Requires() []Resource

	// Provides lists resources that exist once Apply succeeds.
	Provides() []Resource

	// Policy returns retry, criticality and effect settings.
	Policy() Policy

	// Check evaluates the precondition and whether the desired state already holds.
	// Returns StatusSatisfied or StatusUnmet to skip, StatusNeedsApply to run.
	Check(ctx RunContext) (StepStatus, error)

	// Apply performs the action. Created resources must be reported in the
	// result so the executor can record them before continuing.
	Apply(ctx RunContext) (ApplyResult, error)
}

// RollbackableStep extends Step with rollback capability.
// Rollback is used when a step group fails after some members were applied.
type RollbackableStep interface {
	Step

	// CanRollback returns true if the step holds enough information to undo itself.
	CanRollback() bool

	// Rollback undoes the changes made by Apply in this run.
	// Rolling back a step that was not applied is a no-op.
	Rollback(ctx RunContext) (ApplyResult, error)
}

// ApplyResult carries what a step did.
type ApplyResult struct {
	// Output is captured command output, trimmed.
	Output string
	// Created lists resources this run provisioned.
	Created []state.Entry
	// Removed lists ledger entries this run tore down.
	Removed []state.Ref
	// Anomalies are non-fatal oddities, such as a marker that matched nothing.
	Anomalies []string
}

// WithAnomaly returns a copy with an anomaly appended.
func (r ApplyResult) WithAnomaly(msg string) ApplyResult {
	r.Anomalies = append(append([]string(nil), r.Anomalies...), msg)
	return r
}

// Merge combines two results.
func (r ApplyResult) Merge(other ApplyResult) ApplyResult {
	out := ApplyResult{Output: r.Output}
	if other.Output != "" {
		if out.Output != "" {
			out.Output += "\n"
		}
		out.Output += other.Output
	}
	out.Created = append(append([]state.Entry(nil), r.Created...), other.Created...)
	out.Removed = append(append([]state.Ref(nil), r.Removed...), other.Removed...)
	out.Anomalies = append(append([]string(nil), r.Anomalies...), other.Anomalies...)
	return out
}

// IsRollbackable checks if a step implements the RollbackableStep interface.
func IsRollbackable(step Step) bool {
	_, ok := step.(RollbackableStep)
	return ok
}

// AsRollbackable attempts to cast a step to RollbackableStep.
// Returns nil if the step doesn't implement rollback.
func AsRollbackable(step Step) RollbackableStep {
	if r, ok := step.(RollbackableStep); ok {
		return r
	}
	return nil
}
