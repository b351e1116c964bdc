package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trunkplayer/trunkprov/internal/domain/compiler"
	"github.com/trunkplayer/trunkprov/internal/domain/state"
	"github.com/trunkplayer/trunkprov/internal/ports"
)

// checkTimeout bounds every Check call.
const checkTimeout = compiler.TimeoutSetup

// Observer receives live progress from the executor.
type Observer interface {
	StepStarted(entry PlanEntry)
	StepFinished(rec Record)
}

type nopObserver struct{}

func (nopObserver) StepStarted(PlanEntry) {}
func (nopObserver) StepFinished(Record)   {}

// Executor runs steps from a Plan strictly in order.
type Executor struct {
	store    state.Store
	logger   ports.Logger
	observer Observer
	dryRun   bool
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// NewExecutor creates a new Executor that records provisioned resources in store.
func NewExecutor(store state.Store) *Executor {
	if store == nil {
		store = state.NewMemoryStore()
	}
	return &Executor{
		store:    store,
		logger:   compiler.NewRunContext(context.Background()).Logger(),
		observer: nopObserver{},
		sleep:    sleepContext,
		now:      time.Now,
	}
}

// WithDryRun returns an Executor that evaluates checks without applying.
func (e *Executor) WithDryRun(dryRun bool) *Executor {
	c := *e
	c.dryRun = dryRun
	return &c
}

// WithLogger returns an Executor that logs to logger.
func (e *Executor) WithLogger(logger ports.Logger) *Executor {
	c := *e
	if logger != nil {
		c.logger = logger
	}
	return &c
}

// WithObserver returns an Executor that reports progress to obs.
func (e *Executor) WithObserver(obs Observer) *Executor {
	c := *e
	if obs != nil {
		c.observer = obs
	}
	return &c
}

// WithSleep replaces the backoff sleeper.
func (e *Executor) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Executor {
	c := *e
	c.sleep = fn
	return &c
}

type appliedStep struct {
	index int
	step  compiler.Step
}

// Execute runs all steps in the plan in order.
//
// A fatal failure halts the run and is returned as the error; the steps after
// it get no record and are listed in NotAttempted. Cancelling ctx stops the
// run before the next step starts; an action already in flight is allowed to
// finish within its own timeout.
func (e *Executor) Execute(ctx context.Context, plan *Plan) (ExecuteResult, error) {
	log := e.logger.With(ports.F("run_id", plan.RunID()), ports.F("plan", string(plan.Kind())))
	ctx = ports.ContextWithLogger(ctx, log)
	rc := compiler.NewRunContext(ctx).WithDryRun(e.dryRun).WithRunID(plan.RunID())

	result := ExecuteResult{
		RunID:     plan.RunID(),
		Kind:      plan.Kind(),
		DryRun:    e.dryRun,
		Records:   make([]Record, 0, plan.Len()),
		StartedAt: e.now(),
	}

	entries := plan.Entries()
	failedGroups := make(map[string]bool)
	applied := make(map[string][]appliedStep)
	var runErr error

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			log.Warn(ctx, "run interrupted", ports.F("next_step", entry.Step().ID().String()))
			result.Interrupted = true
			result.NotAttempted = stepIDs(entries[i:])
			runErr = err
			break
		}

		if g := entry.FallbackFor(); g != "" && !failedGroups[g] {
			result.Records = append(result.Records, e.skip(entry, fmt.Sprintf("fallback not needed, %s succeeded", g)))
			continue
		}
		if g := entry.Group(); g != "" && failedGroups[g] {
			result.Records = append(result.Records, e.skip(entry, fmt.Sprintf("group %s already failed", g)))
			continue
		}

		rec, err := e.runEntry(ctx, rc, entry)
		result.Records = append(result.Records, rec)
		idx := len(result.Records) - 1

		if rec.Outcome == OutcomeSucceeded && entry.Group() != "" {
			applied[entry.Group()] = append(applied[entry.Group()], appliedStep{index: idx, step: entry.Step()})
		}
		if rec.Outcome != OutcomeFailed {
			continue
		}

		if errors.Is(err, context.Canceled) || (errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil) {
			result.Interrupted = true
			result.NotAttempted = stepIDs(entries[i+1:])
			runErr = err
			break
		}

		if g := entry.Group(); g != "" && plan.HasFallbacks(g) && !errors.Is(err, compiler.ErrLedgerWriteFailed) {
			log.Warn(ctx, "step group failed, rolling back and falling back",
				ports.F("group", g), ports.F("step", rec.StepID), ports.Err(err))
			failedGroups[g] = true
			result.FailedGroups = append(result.FailedGroups, g)
			result.Records[idx].Recovered = true
			result.Records[idx].Reason = fmt.Sprintf("group %s failed, fallback will run", g)
			e.rollback(ctx, rc, &result, applied[g])
			continue
		}

		if result.Records[idx].Fatal() {
			log.Error(ctx, "fatal step failure", ports.F("step", rec.StepID), ports.Err(err))
			result.Halted = true
			result.NotAttempted = stepIDs(entries[i+1:])
			runErr = err
			break
		}
		log.Warn(ctx, "step failed, continuing", ports.F("step", rec.StepID), ports.Err(err))
	}

	result.FinishedAt = e.now()
	return result, runErr
}

func (e *Executor) skip(entry PlanEntry, reason string) Record {
	rec := e.newRecord(entry)
	e.observer.StepStarted(entry)
	rec.Outcome = OutcomeSkipped
	rec.Reason = reason
	rec.FinishedAt = e.now()
	e.observer.StepFinished(rec)
	return rec
}

func (e *Executor) newRecord(entry PlanEntry) Record {
	step := entry.Step()
	return Record{
		StepID:      step.ID().String(),
		Description: step.Description(),
		Goal:        step.Goal(),
		Criticality: step.Policy().Criticality,
		Group:       entry.Group(),
		Fallback:    entry.FallbackFor() != "",
		StartedAt:   e.now(),
	}
}

// runEntry drives one step through its lifecycle and returns its record.
func (e *Executor) runEntry(ctx context.Context, rc compiler.RunContext, entry PlanEntry) (Record, error) {
	step := entry.Step()
	id := step.ID().String()
	pol := step.Policy()
	log := rc.Logger().With(ports.F("step", id))

	rec := e.newRecord(entry)
	e.observer.StepStarted(entry)
	finish := func(r Record, err error) (Record, error) {
		r.FinishedAt = e.now()
		if err != nil {
			r.Outcome = OutcomeFailed
			r.Err = err
			r.Error = err.Error()
			r.Code = compiler.CodeOf(err)
		}
		e.observer.StepFinished(r)
		return r, err
	}

	lc, err := newLifecycle(id)
	if err != nil {
		return finish(rec, err)
	}
	defer lc.stop()

	if err := lc.fire(EventCheck, PhaseChecking); err != nil {
		return finish(rec, err)
	}
	status := e.check(ctx, rc, step, &rec)

	if !status.ShouldApply() {
		if err := lc.fire(EventSkip, PhaseSkipped); err != nil {
			return finish(rec, err)
		}
		rec.Outcome = OutcomeSkipped
		rec.Reason = status.SkipReason()
		log.Info(ctx, "step skipped", ports.F("reason", rec.Reason))
		return finish(rec, nil)
	}

	if e.dryRun {
		if err := lc.fire(EventPlan, PhasePlanned); err != nil {
			return finish(rec, err)
		}
		rec.Outcome = OutcomePlanned
		rec.Reason = "would apply"
		return finish(rec, nil)
	}

	if err := lc.fire(EventRun, PhaseRunning); err != nil {
		return finish(rec, err)
	}

	maxAttempts := pol.Attempts()
	attempts := 0
	var res compiler.ApplyResult
	var actErr error
	for {
		attempts++
		res, actErr = e.attempt(ctx, rc, step)
		if actErr == nil || attempts >= maxAttempts {
			break
		}
		log.Debug(ctx, "attempt failed, retrying",
			ports.F("attempt", attempts), ports.F("max_attempts", maxAttempts), ports.Err(actErr))
		if err := lc.fire(EventRetry, PhaseRetrying); err != nil {
			return finish(rec, err)
		}
		if err := e.sleep(ctx, pol.Retry.Backoff); err != nil {
			rec.Attempts = attempts
			rec.Reason = "interrupted while waiting to retry"
			_ = lc.fire(EventFail, PhaseFailed)
			return finish(rec, err)
		}
		if err := lc.fire(EventResume, PhaseRunning); err != nil {
			return finish(rec, err)
		}
	}

	rec.Attempts = attempts
	rec.Output = res.Output
	rec.Anomalies = append(rec.Anomalies, res.Anomalies...)

	if actErr != nil {
		_ = lc.fire(EventFail, PhaseFailed)
		return finish(rec, actErr)
	}

	if err := e.commit(ctx, rc, id, res, &rec); err != nil {
		_ = lc.fire(EventFail, PhaseFailed)
		rec.Criticality = compiler.CriticalityFatal
		return finish(rec, err)
	}

	if err := lc.fire(EventSucceed, PhaseSucceeded); err != nil {
		return finish(rec, err)
	}
	rec.Outcome = OutcomeSucceeded
	log.Info(ctx, "step succeeded", ports.F("attempts", rec.Attempts))
	return finish(rec, nil)
}

// check evaluates a step's precondition. Check errors are probe failures and
// are absorbed: the step is treated as needing apply.
func (e *Executor) check(ctx context.Context, rc compiler.RunContext, step compiler.Step, rec *Record) compiler.StepStatus {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), checkTimeout)
	defer cancel()

	status, err := step.Check(rc.WithContext(cctx))
	if err != nil {
		perr := compiler.NewProbeFailedError(step.ID().String(), err)
		rc.Logger().Warn(ctx, "status check failed", ports.F("step", step.ID().String()), ports.Err(perr))
		rec.Anomalies = append(rec.Anomalies, "status check failed: "+err.Error())
		return compiler.StatusUnknown
	}
	return status
}

// attempt runs Apply once under the step's timeout.
func (e *Executor) attempt(ctx context.Context, rc compiler.RunContext, step compiler.Step) (compiler.ApplyResult, error) {
	pol := step.Policy()
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pol.Retry.Timeout)
	defer cancel()

	res, err := step.Apply(rc.WithContext(actx))
	if err == nil {
		return res, nil
	}

	id := step.ID().String()
	if errors.Is(actx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return res, compiler.NewActionTimeoutError(id, pol.Retry.Timeout, err)
	}
	if compiler.CodeOf(err) != "" {
		return res, err
	}
	return res, compiler.NewActionFailedError(id, err)
}

// commit writes the step's ledger changes before the next step may start.
func (e *Executor) commit(ctx context.Context, rc compiler.RunContext, id string, res compiler.ApplyResult, rec *Record) error {
	lctx := context.WithoutCancel(ctx)

	for _, entry := range res.Created {
		if entry.RunID == "" {
			entry.RunID = rc.RunID()
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = e.now().UTC()
		}
		if err := e.store.Record(lctx, entry); err != nil {
			return compiler.NewLedgerWriteError(id, err)
		}
	}

	for _, ref := range res.Removed {
		if err := e.store.Remove(lctx, ref); err != nil {
			if errors.Is(err, state.ErrNotFound) {
				rec.Anomalies = append(rec.Anomalies, "ledger had no entry for "+ref.String())
				continue
			}
			return compiler.NewLedgerWriteError(id, err)
		}
	}
	return nil
}

// rollback undoes applied group members in reverse order. Rollback problems
// are attached to the affected records as anomalies.
func (e *Executor) rollback(ctx context.Context, rc compiler.RunContext, result *ExecuteResult, steps []appliedStep) {
	for i := len(steps) - 1; i >= 0; i-- {
		a := steps[i]
		rec := &result.Records[a.index]

		rb := compiler.AsRollbackable(a.step)
		if rb == nil || !rb.CanRollback() {
			rec.Anomalies = append(rec.Anomalies, "could not be rolled back")
			continue
		}

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.step.Policy().Retry.Timeout)
		res, err := rb.Rollback(rc.WithContext(rctx))
		cancel()
		if err != nil {
			rc.Logger().Warn(ctx, "rollback failed", ports.F("step", rec.StepID), ports.Err(err))
			rec.Anomalies = append(rec.Anomalies, "rollback failed: "+err.Error())
			continue
		}

		rec.Anomalies = append(rec.Anomalies, res.Anomalies...)
		if err := e.commit(ctx, rc, rec.StepID, compiler.ApplyResult{Removed: res.Removed}, rec); err != nil {
			rec.Anomalies = append(rec.Anomalies, "rollback not recorded: "+err.Error())
			continue
		}
		rec.RolledBack = true
		rc.Logger().Info(ctx, "step rolled back", ports.F("step", rec.StepID))
	}
}

func stepIDs(entries []PlanEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Step().ID().String())
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
