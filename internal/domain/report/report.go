// Package report summarizes a run for the operator.
package report

import (
	"errors"
	"time"

	"github.com/trunkplayer/trunkprov/internal/domain/compiler"
	"github.com/trunkplayer/trunkprov/internal/domain/execution"
)

// GoalStatus is whether a goal was reached.
type GoalStatus string

const (
	GoalAchieved    GoalStatus = "achieved"
	GoalNotAchieved GoalStatus = "not achieved"
	GoalNotPlanned  GoalStatus = "not planned"
	// GoalPending is used for dry runs.
	GoalPending GoalStatus = "pending"
)

// GoalResult pairs a goal with its status.
type GoalResult struct {
	Goal   compiler.Goal `json:"goal"`
	Status GoalStatus    `json:"status"`
}

// Issue is a failed step worth the operator's attention.
type Issue struct {
	StepID     string `json:"step_id"`
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// StepLine is one row of the step table.
type StepLine struct {
	StepID   string            `json:"step_id"`
	Outcome  execution.Outcome `json:"outcome"`
	Reason   string            `json:"reason,omitempty"`
	Attempts int               `json:"attempts"`
	Duration time.Duration     `json:"duration_ns"`
	Fallback bool              `json:"fallback,omitempty"`
}

// Kept is a resource an uninstall left in place.
type Kept struct {
	Kind   string `json:"kind"`
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// Summary is everything reported at the end of a run.
type Summary struct {
	RunID        string        `json:"run_id"`
	Kind         string        `json:"kind"`
	DryRun       bool          `json:"dry_run"`
	Success      bool          `json:"success"`
	Interrupted  bool          `json:"interrupted,omitempty"`
	Goals        []GoalResult  `json:"goals"`
	Fatal        []Issue       `json:"fatal,omitempty"`
	Warnings     []Issue       `json:"warnings,omitempty"`
	Anomalies    []string      `json:"anomalies,omitempty"`
	Kept         []Kept        `json:"kept,omitempty"`
	NotAttempted []string      `json:"not_attempted,omitempty"`
	Notes        []string      `json:"notes,omitempty"`
	Steps        []StepLine    `json:"steps"`
	Duration     time.Duration `json:"duration_ns"`
}

// Build summarizes the execution of plan.
func Build(plan *execution.Plan, res execution.ExecuteResult) Summary {
	s := Summary{
		RunID:        res.RunID,
		Kind:         string(res.Kind),
		DryRun:       res.DryRun,
		Success:      res.Success(),
		Interrupted:  res.Interrupted,
		Anomalies:    res.Anomalies(),
		NotAttempted: res.NotAttempted,
		Duration:     res.FinishedAt.Sub(res.StartedAt),
		Steps:        make([]StepLine, 0, len(res.Records)),
	}
	for _, rec := range res.Records {
		s.Steps = append(s.Steps, StepLine{
			StepID:   rec.StepID,
			Outcome:  rec.Outcome,
			Reason:   rec.Reason,
			Attempts: rec.Attempts,
			Duration: rec.Duration(),
			Fallback: rec.Fallback,
		})
	}
	for _, rec := range res.FatalFailures() {
		s.Fatal = append(s.Fatal, issue(rec))
	}
	for _, rec := range res.Warnings() {
		s.Warnings = append(s.Warnings, issue(rec))
	}
	s.Goals = goals(plan, res)
	return s
}

// WithKept returns a copy listing kept resources.
func (s Summary) WithKept(kept ...Kept) Summary {
	s.Kept = append(append([]Kept(nil), s.Kept...), kept...)
	return s
}

// WithNotes returns a copy with extra notes.
func (s Summary) WithNotes(notes ...string) Summary {
	s.Notes = append(append([]string(nil), s.Notes...), notes...)
	return s
}

func issue(rec execution.Record) Issue {
	is := Issue{StepID: rec.StepID, Message: rec.Error, Code: rec.Code}
	var se *compiler.StepError
	if errors.As(rec.Err, &se) {
		is.Suggestion = se.Suggestion
		if is.Code == "" {
			is.Code = se.Code
		}
	}
	if is.Message == "" && rec.Err != nil {
		is.Message = rec.Err.Error()
	}
	return is
}

// goals decides each goal from the records of the steps serving it. A
// goal is achieved when all its primary steps ran without an unrecovered
// failure and its fallbacks, when used, succeeded.
func goals(plan *execution.Plan, res execution.ExecuteResult) []GoalResult {
	list := compiler.Goals()
	if plan.Kind() == execution.KindUninstall {
		list = []compiler.Goal{compiler.GoalTeardown}
	}
	planned := plan.Goals()

	ok := make(map[compiler.Goal]bool, len(list))
	for _, g := range list {
		ok[g] = true
	}
	recorded := make(map[string]execution.Record, len(res.Records))
	for _, rec := range res.Records {
		recorded[rec.StepID] = rec
	}
	for _, entry := range plan.Entries() {
		goal := entry.Step().Goal()
		rec, seen := recorded[entry.Step().ID().String()]
		switch {
		case !seen:
			ok[goal] = false
		case rec.Outcome == execution.OutcomeFailed && !rec.Recovered:
			ok[goal] = false
		}
	}

	out := make([]GoalResult, 0, len(list))
	for _, g := range list {
		status := GoalNotAchieved
		switch {
		case !planned[g]:
			status = GoalNotPlanned
		case res.DryRun:
			status = GoalPending
		case ok[g]:
			status = GoalAchieved
		}
		out = append(out, GoalResult{Goal: g, Status: status})
	}
	return out
}
