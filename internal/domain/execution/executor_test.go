package execution_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trunkplayer/trunkprov/internal/domain/compiler"
	"github.com/trunkplayer/trunkprov/internal/domain/execution"
	"github.com/trunkplayer/trunkprov/internal/domain/state"
	"github.com/trunkplayer/trunkprov/internal/testutil/mocks"
)

func creates(kind state.Kind, key string) func(compiler.RunContext) (compiler.ApplyResult, error) {
	return func(compiler.RunContext) (compiler.ApplyResult, error) {
		return compiler.ApplyResult{Created: []state.Entry{state.NewEntry(kind, key, nil)}}, nil
	}
}

func fails(msg string) func(compiler.RunContext) (compiler.ApplyResult, error) {
	return func(compiler.RunContext) (compiler.ApplyResult, error) {
		return compiler.ApplyResult{Output: msg}, errors.New(msg)
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

type recordingObserver struct {
	mu       sync.Mutex
	started  []string
	finished []execution.Record
}

func (o *recordingObserver) StepStarted(e execution.PlanEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, e.Step().ID().String())
}

func (o *recordingObserver) StepFinished(r execution.Record) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, r)
}

type brokenStore struct {
	*state.MemoryStore
}

func (brokenStore) Record(context.Context, state.Entry) error {
	return state.ErrWriteFailed
}

func TestExecutor_AllSucceedAndRecord(t *testing.T) {
	t.Parallel()

	store := state.NewMemoryStore()
	venv := mocks.NewStep("create-venv").WithApply(creates(state.KindVenv, "/app/venv"))
	deps := mocks.NewStep("install-deps")

	plan := execution.NewPlan(execution.KindInstall, "run-42")
	plan.AddSteps(venv, deps)

	obs := &recordingObserver{}
	result, err := execution.NewExecutor(store).WithObserver(obs).Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.True(t, result.Success())
	require.Len(t, result.Records, 2)
	for _, rec := range result.Records {
		assert.Equal(t, execution.OutcomeSucceeded, rec.Outcome)
		assert.Equal(t, 1, rec.Attempts)
		assert.False(t, rec.FinishedAt.Before(rec.StartedAt))
	}

	entries, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "run-42", entries[0].RunID)

	assert.Equal(t, []string{"create-venv", "install-deps"}, obs.started)
	assert.Len(t, obs.finished, 2)
}

func TestExecutor_SkipsWhenSatisfiedOrUnmet(t *testing.T) {
	t.Parallel()

	done := mocks.NewStep("create-venv").WithCheck(func(compiler.RunContext) (compiler.StepStatus, error) {
		return compiler.StatusSatisfied, nil
	})
	unmet := mocks.NewStep("collect-static").WithCheck(func(compiler.RunContext) (compiler.StepStatus, error) {
		return compiler.StatusUnmet, nil
	})

	plan := execution.NewPlan(execution.KindInstall, "r")
	plan.AddSteps(done, unmet)

	result, err := execution.NewExecutor(nil).Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, 0, done.Applies())
	assert.Equal(t, 0, unmet.Applies())
	assert.Equal(t, "already satisfied", result.Records[0].Reason)
	assert.Equal(t, "precondition unmet", result.Records[1].Reason)
	assert.Len(t, result.WithOutcome(execution.OutcomeSkipped), 2)
}

func TestExecutor_ReadinessRetries(t *testing.T) {
	t.Parallel()

	calls := 0
	wait := mocks.NewStep("wait-database-ready").
		WithPolicy(compiler.ReadinessPolicy()).
		WithApply(func(compiler.RunContext) (compiler.ApplyResult, error) {
			calls++
			if calls < 4 {
				return compiler.ApplyResult{}, errors.New("not ready")
			}
			return compiler.ApplyResult{Output: "accepting connections"}, nil
		})

	var slept []time.Duration
	exec := execution.NewExecutor(nil).WithSleep(func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	})

	plan := execution.NewPlan(execution.KindInstall, "r")
	plan.AddSteps(wait)

	result, err := exec.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Records[0].Attempts)
	assert.Equal(t, execution.OutcomeSucceeded, result.Records[0].Outcome)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}, slept)
}

func TestExecutor_ReadinessGivesUp(t *testing.T) {
	t.Parallel()

	wait := mocks.NewStep("wait-server-ready").
		WithPolicy(compiler.ReadinessPolicy()).
		WithApply(fails("connection refused"))

	plan := execution.NewPlan(execution.KindInstall, "r")
	plan.AddSteps(wait)

	result, err := execution.NewExecutor(nil).WithSleep(noSleep).Execute(context.Background(), plan)
	require.Error(t, err)
	assert.Equal(t, 10, wait.Applies())
	assert.Equal(t, 10, result.Records[0].Attempts)
	assert.ErrorIs(t, err, compiler.ErrActionFailed)
}

func TestExecutor_DestructiveRunsOnce(t *testing.T) {
	t.Parallel()

	for _, effect := range []compiler.Effect{compiler.EffectDestructive, compiler.EffectMutating} {
		pol := compiler.DestructivePolicy(time.Second)
		pol.Effect = effect
		pol.Retry.MaxAttempts = 5
		pol.Retry.Backoff = time.Millisecond

		drop := mocks.NewStep("pg-drop-database").WithPolicy(pol).WithApply(fails("permission denied"))
		plan := execution.NewPlan(execution.KindInstall, "r")
		plan.AddSteps(drop)

		result, err := execution.NewExecutor(nil).Execute(context.Background(), plan)
		require.Error(t, err)
		assert.Equal(t, 1, drop.Applies(), effect)
		assert.Equal(t, 1, result.Records[0].Attempts, effect)
	}
}

func TestExecutor_FatalHalts(t *testing.T) {
	t.Parallel()

	first := mocks.NewStep("create-venv")
	broken := mocks.NewStep("install-deps").WithApply(fails("pip exploded"))
	never := mocks.NewStep("run-migrations")
	alsoNever := mocks.NewStep("collect-static")

	plan := execution.NewPlan(execution.KindInstall, "r")
	plan.AddSteps(first, broken, never, alsoNever)

	result, err := execution.NewExecutor(nil).Execute(context.Background(), plan)
	require.Error(t, err)
	assert.ErrorIs(t, err, compiler.ErrActionFailed)
	assert.True(t, result.Halted)
	assert.False(t, result.Success())
	assert.Len(t, result.Records, 2, "no record for steps after the halt")
	assert.Equal(t, []string{"run-migrations", "collect-static"}, result.NotAttempted)
	assert.Equal(t, 0, never.Checks())

	fatal := result.FatalFailures()
	require.Len(t, fatal, 1)
	assert.Equal(t, "install-deps", fatal[0].StepID)
	assert.Equal(t, compiler.ErrCodeActionFailed, fatal[0].Code)
	assert.Equal(t, "pip exploded", fatal[0].Output)
}

func TestExecutor_WarnContinues(t *testing.T) {
	t.Parallel()

	warn := mocks.NewStep("reload-nginx").
		WithPolicy(compiler.MutatingPolicy(time.Second).WithCriticality(compiler.CriticalityWarn)).
		WithApply(fails("nginx: [emerg]"))
	next := mocks.NewStep("configure-supervisor")

	plan := execution.NewPlan(execution.KindInstall, "r")
	plan.AddSteps(warn, next)

	result, err := execution.NewExecutor(nil).Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.Len(t, result.Warnings(), 1)
	assert.Equal(t, 1, next.Applies())
}

func TestExecutor_Timeout(t *testing.T) {
	t.Parallel()

	hang := mocks.NewStep("run-migrations").
		WithPolicy(compiler.MutatingPolicy(20 * time.Millisecond)).
		WithApply(func(rc compiler.RunContext) (compiler.ApplyResult, error) {
			<-rc.Context().Done()
			return compiler.ApplyResult{}, rc.Context().Err()
		})

	plan := execution.NewPlan(execution.KindInstall, "r")
	plan.AddSteps(hang)

	result, err := execution.NewExecutor(nil).Execute(context.Background(), plan)
	require.Error(t, err)
	assert.ErrorIs(t, err, compiler.ErrActionTimeout)
	assert.Equal(t, compiler.ErrCodeActionTimeout, result.Records[0].Code)
	assert.False(t, result.Interrupted)
}

func TestExecutor_GroupFallback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := state.NewMemoryStore()

	role := mocks.NewStep("postgres-credentials").
		WithApply(creates(state.KindDBUser, "trunk_player")).
		WithRollback(func(compiler.RunContext) (compiler.ApplyResult, error) {
			return compiler.ApplyResult{Removed: []state.Ref{{Kind: state.KindDBUser, Key: "trunk_player"}}}, nil
		})
	createDB := mocks.NewStep("pg-create-database").WithApply(fails("createdb: permission denied"))
	sqlite := mocks.NewStep("write-sqlite-config").WithApply(creates(state.KindDatabase, "/app/db.sqlite3"))
	migrate := mocks.NewStep("run-migrations")

	plan := execution.NewPlan(execution.KindInstall, "r")
	plan.Add(
		execution.NewPlanEntry(role).InGroup("postgres"),
		execution.NewPlanEntry(createDB).InGroup("postgres"),
		execution.NewPlanEntry(sqlite).AsFallbackFor("postgres"),
		execution.NewPlanEntry(migrate),
	)

	result, err := execution.NewExecutor(store).Execute(ctx, plan)
	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.Equal(t, []string{"postgres"}, result.FailedGroups)

	roleRec, ok := result.Record("postgres-credentials")
	require.True(t, ok)
	assert.True(t, roleRec.RolledBack)
	assert.Equal(t, 1, role.Rollbacks())

	dbRec, _ := result.Record("pg-create-database")
	assert.Equal(t, execution.OutcomeFailed, dbRec.Outcome)
	assert.True(t, dbRec.Recovered)
	assert.True(t, dbRec.Warning())

	sqliteRec, _ := result.Record("write-sqlite-config")
	assert.Equal(t, execution.OutcomeSucceeded, sqliteRec.Outcome)
	assert.True(t, sqliteRec.Fallback)
	assert.Equal(t, 1, migrate.Applies())

	entries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, state.KindDatabase, entries[0].Kind)

	history, err := store.History(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestExecutor_GroupSucceedsSkipsFallback(t *testing.T) {
	t.Parallel()

	pg := mocks.NewStep("pg-create-database")
	sqlite := mocks.NewStep("write-sqlite-config")

	plan := execution.NewPlan(execution.KindInstall, "r")
	plan.Add(
		execution.NewPlanEntry(pg).InGroup("postgres"),
		execution.NewPlanEntry(sqlite).AsFallbackFor("postgres"),
	)

	result, err := execution.NewExecutor(nil).Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 0, sqlite.Applies())
	assert.Equal(t, 0, sqlite.Checks())
	rec, _ := result.Record("write-sqlite-config")
	assert.Equal(t, execution.OutcomeSkipped, rec.Outcome)
	assert.Contains(t, rec.Reason, "fallback not needed")
	assert.Empty(t, result.FailedGroups)
}

func TestExecutor_InterruptStopsBeforeNextStep(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inFlight := mocks.NewStep("install-deps").WithApply(func(rc compiler.RunContext) (compiler.ApplyResult, error) {
		cancel()
		// The action context survives the interrupt.
		if err := rc.Context().Err(); err != nil {
			return compiler.ApplyResult{}, err
		}
		return compiler.ApplyResult{Output: "installed"}, nil
	})
	next := mocks.NewStep("run-migrations")

	plan := execution.NewPlan(execution.KindInstall, "r")
	plan.AddSteps(inFlight, next)

	result, err := execution.NewExecutor(nil).Execute(ctx, plan)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, result.Interrupted)
	require.Len(t, result.Records, 1)
	assert.Equal(t, execution.OutcomeSucceeded, result.Records[0].Outcome)
	assert.Equal(t, []string{"run-migrations"}, result.NotAttempted)
	assert.Equal(t, 0, next.Checks())
}

func TestExecutor_DryRun(t *testing.T) {
	t.Parallel()

	store := state.NewMemoryStore()
	venv := mocks.NewStep("create-venv").WithApply(creates(state.KindVenv, "/v"))
	satisfied := mocks.NewStep("write-settings").WithCheck(func(compiler.RunContext) (compiler.StepStatus, error) {
		return compiler.StatusSatisfied, nil
	})

	plan := execution.NewPlan(execution.KindInstall, "r")
	plan.AddSteps(venv, satisfied)

	result, err := execution.NewExecutor(store).WithDryRun(true).Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, execution.OutcomePlanned, result.Records[0].Outcome)
	assert.Equal(t, execution.OutcomeSkipped, result.Records[1].Outcome)
	assert.Equal(t, 0, venv.Applies())

	entries, _ := store.List(context.Background())
	assert.Empty(t, entries)
}

func TestExecutor_LedgerFailureIsFatal(t *testing.T) {
	t.Parallel()

	venv := mocks.NewStep("create-venv").
		WithPolicy(compiler.MutatingPolicy(time.Second).WithCriticality(compiler.CriticalityWarn)).
		WithApply(creates(state.KindVenv, "/v"))
	next := mocks.NewStep("install-deps")

	plan := execution.NewPlan(execution.KindInstall, "r")
	plan.AddSteps(venv, next)

	result, err := execution.NewExecutor(brokenStore{state.NewMemoryStore()}).Execute(context.Background(), plan)
	require.Error(t, err)
	assert.ErrorIs(t, err, compiler.ErrLedgerWriteFailed)
	assert.True(t, result.Halted)
	assert.Equal(t, []string{"install-deps"}, result.NotAttempted)
}

func TestExecutor_CheckErrorIsAbsorbed(t *testing.T) {
	t.Parallel()

	s := mocks.NewStep("install-deps").WithCheck(func(compiler.RunContext) (compiler.StepStatus, error) {
		return compiler.StatusUnknown, errors.New("python crashed")
	})

	plan := execution.NewPlan(execution.KindInstall, "r")
	plan.AddSteps(s)

	result, err := execution.NewExecutor(nil).Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Applies())
	assert.Len(t, result.Anomalies(), 1)
	assert.Contains(t, result.Anomalies()[0], "install-deps: status check failed")
}

func TestPlan_Queries(t *testing.T) {
	t.Parallel()

	a := mocks.NewStep("install-package:nginx").WithGoal(compiler.GoalProxy).
		WithResources(nil, []compiler.Resource{compiler.PackageResource("nginx")})
	b := mocks.NewStep("configure-nginx").WithGoal(compiler.GoalProxy).
		WithResources([]compiler.Resource{compiler.PackageResource("nginx")}, nil)
	c := mocks.NewStep("write-sqlite-config")

	plan := execution.NewPlan(execution.KindInstall, "id")
	plan.Add(execution.NewPlanEntry(a), execution.NewPlanEntry(b), execution.NewPlanEntry(c).AsFallbackFor("postgres"))

	assert.Equal(t, 3, plan.Len())
	assert.True(t, plan.Contains("configure-nginx"))
	assert.True(t, plan.ContainsAction("install-package"))
	assert.False(t, plan.ContainsAction("pg-drop-database"))
	assert.Equal(t, []string{"install-package:nginx", "configure-nginx"}, plan.PrimaryStepIDs())
	assert.True(t, plan.HasFallbacks("postgres"))
	assert.False(t, plan.HasFallbacks(""))
	assert.True(t, plan.Goals()[compiler.GoalProxy])
	assert.NoError(t, plan.Validate(nil))

	bad := execution.NewPlan(execution.KindInstall, "id")
	bad.AddSteps(b, a)
	assert.ErrorIs(t, bad.Validate(nil), compiler.ErrPlanInvariantViolation)
}
