// Package execution runs plans step by step and records the outcomes.
package execution

import (
	"github.com/trunkplayer/trunkprov/internal/domain/compiler"
)

// PlanKind says what a plan is for.
type PlanKind string

const (
	KindInstall   PlanKind = "install"
	KindUninstall PlanKind = "uninstall"
)

// PlanEntry represents a single step's position in a plan.
type PlanEntry struct {
	step        compiler.Step
	group       string
	fallbackFor string
}

// NewPlanEntry creates a new PlanEntry.
func NewPlanEntry(step compiler.Step) PlanEntry {
	return PlanEntry{step: step}
}

// InGroup returns a copy that belongs to group. A failure inside a group that
// has fallbacks rolls the group back and runs the fallbacks instead of halting.
func (e PlanEntry) InGroup(group string) PlanEntry {
	e.group = group
	return e
}

// AsFallbackFor returns a copy that only runs if group fails.
func (e PlanEntry) AsFallbackFor(group string) PlanEntry {
	e.fallbackFor = group
	return e
}

// Step returns the step to be executed.
func (e PlanEntry) Step() compiler.Step {
	return e.step
}

// Group returns the group name, or "".
func (e PlanEntry) Group() string {
	return e.group
}

// FallbackFor returns the group this entry replaces on failure, or "".
func (e PlanEntry) FallbackFor() string {
	return e.fallbackFor
}

// Plan is an ordered sequence of steps built once per run.
type Plan struct {
	kind    PlanKind
	runID   string
	entries []PlanEntry
}

// NewPlan creates an empty Plan.
func NewPlan(kind PlanKind, runID string) *Plan {
	return &Plan{
		kind:    kind,
		runID:   runID,
		entries: make([]PlanEntry, 0),
	}
}

// Add appends plan entries. Plans are only mutated while being built.
func (p *Plan) Add(entries ...PlanEntry) {
	p.entries = append(p.entries, entries...)
}

// AddSteps appends plain entries for steps.
func (p *Plan) AddSteps(steps ...compiler.Step) {
	for _, s := range steps {
		p.entries = append(p.entries, NewPlanEntry(s))
	}
}

// Kind returns the plan kind.
func (p *Plan) Kind() PlanKind {
	return p.kind
}

// RunID returns the run identifier.
func (p *Plan) RunID() string {
	return p.runID
}

// Len returns the number of entries.
func (p *Plan) Len() int {
	return len(p.entries)
}

// IsEmpty returns true if there are no entries.
func (p *Plan) IsEmpty() bool {
	return len(p.entries) == 0
}

// Entries returns a copy of all plan entries.
func (p *Plan) Entries() []PlanEntry {
	return append([]PlanEntry(nil), p.entries...)
}

// Steps returns the steps in order.
func (p *Plan) Steps() []compiler.Step {
	out := make([]compiler.Step, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.step)
	}
	return out
}

// StepIDs returns step IDs in order.
func (p *Plan) StepIDs() []string {
	out := make([]string, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.step.ID().String())
	}
	return out
}

// PrimaryStepIDs returns step IDs that run unconditionally, excluding fallbacks.
func (p *Plan) PrimaryStepIDs() []string {
	out := make([]string, 0, len(p.entries))
	for _, e := range p.entries {
		if e.fallbackFor == "" {
			out = append(out, e.step.ID().String())
		}
	}
	return out
}

// Contains reports whether a step with id is planned.
func (p *Plan) Contains(id string) bool {
	for _, e := range p.entries {
		if e.step.ID().String() == id {
			return true
		}
	}
	return false
}

// ContainsAction reports whether any step with the given action is planned.
func (p *Plan) ContainsAction(action string) bool {
	for _, e := range p.entries {
		if e.step.ID().Action() == action {
			return true
		}
	}
	return false
}

// Goals returns the goals that at least one step contributes to.
func (p *Plan) Goals() map[compiler.Goal]bool {
	out := make(map[compiler.Goal]bool)
	for _, e := range p.entries {
		if g := e.step.Goal(); g != compiler.GoalNone {
			out[g] = true
		}
	}
	return out
}

// HasFallbacks reports whether group has fallback entries.
func (p *Plan) HasFallbacks(group string) bool {
	if group == "" {
		return false
	}
	for _, e := range p.entries {
		if e.fallbackFor == group {
			return true
		}
	}
	return false
}

// Validate checks ordering against the resources already on the host.
func (p *Plan) Validate(available compiler.ResourceSet) error {
	return compiler.ValidateOrder(p.Steps(), available)
}
