package execution

import (
	"time"

	"github.com/trunkplayer/trunkprov/internal/domain/compiler"
)

// Outcome is the final state of a step in one run.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
	// OutcomePlanned is only produced in dry-run mode.
	OutcomePlanned Outcome = "planned"
)

// Record is the execution record of a single step.
type Record struct {
	StepID      string               `json:"step_id"`
	Description string               `json:"description"`
	Goal        compiler.Goal        `json:"goal,omitempty"`
	Outcome     Outcome              `json:"outcome"`
	Attempts    int                  `json:"attempts"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  time.Time            `json:"finished_at"`
	Output      string               `json:"output,omitempty"`
	Err         error                `json:"-"`
	Error       string               `json:"error,omitempty"`
	Code        string               `json:"code,omitempty"`
	Reason      string               `json:"reason,omitempty"`
	Anomalies   []string             `json:"anomalies,omitempty"`
	Criticality compiler.Criticality `json:"criticality"`
	Group       string               `json:"group,omitempty"`
	Fallback    bool                 `json:"fallback,omitempty"`
	// Recovered marks a failure that a fallback absorbed.
	Recovered bool `json:"recovered,omitempty"`
	// RolledBack marks a succeeded step undone because its group failed.
	RolledBack bool `json:"rolled_back,omitempty"`
}

// Duration returns how long the step took.
func (r Record) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Fatal reports whether this record halted the run.
func (r Record) Fatal() bool {
	return r.Outcome == OutcomeFailed && r.Criticality != compiler.CriticalityWarn && !r.Recovered
}

// Warning reports whether this record is a failure that did not halt the run.
func (r Record) Warning() bool {
	return r.Outcome == OutcomeFailed && !r.Fatal()
}

// ExecuteResult contains everything the executor observed in one run.
type ExecuteResult struct {
	RunID        string    `json:"run_id"`
	Kind         PlanKind  `json:"kind"`
	DryRun       bool      `json:"dry_run"`
	Records      []Record  `json:"records"`
	NotAttempted []string  `json:"not_attempted,omitempty"`
	Halted       bool      `json:"halted"`
	Interrupted  bool      `json:"interrupted"`
	FailedGroups []string  `json:"failed_groups,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Success reports whether every step either succeeded, was skipped or only warned.
func (r ExecuteResult) Success() bool {
	return !r.Halted && !r.Interrupted
}

// Record returns the record for a step.
func (r ExecuteResult) Record(stepID string) (Record, bool) {
	for _, rec := range r.Records {
		if rec.StepID == stepID {
			return rec, true
		}
	}
	return Record{}, false
}

// FatalFailures returns records that halted the run.
func (r ExecuteResult) FatalFailures() []Record {
	return r.filter(Record.Fatal)
}

// Warnings returns failures that did not halt the run.
func (r ExecuteResult) Warnings() []Record {
	return r.filter(Record.Warning)
}

// WithOutcome returns records with the given outcome.
func (r ExecuteResult) WithOutcome(o Outcome) []Record {
	return r.filter(func(rec Record) bool { return rec.Outcome == o })
}

// Anomalies returns all anomalies prefixed by step ID.
func (r ExecuteResult) Anomalies() []string {
	out := make([]string, 0)
	for _, rec := range r.Records {
		for _, a := range rec.Anomalies {
			out = append(out, rec.StepID+": "+a)
		}
	}
	return out
}

func (r ExecuteResult) filter(keep func(Record) bool) []Record {
	out := make([]Record, 0)
	for _, rec := range r.Records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return out
}
