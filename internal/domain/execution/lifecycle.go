package execution

import (
	"fmt"

	"github.com/felixgeelhaar/statekit"
)

// Phase is a step's lifecycle state within one run.
type Phase string

const (
	PhasePending   Phase = "pending"
	PhaseChecking  Phase = "checking"
	PhaseSkipped   Phase = "skipped"
	PhasePlanned   Phase = "planned"
	PhaseRunning   Phase = "running"
	PhaseRetrying  Phase = "retrying"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
)

// Lifecycle events.
const (
	EventCheck   = "CHECK"
	EventSkip    = "SKIP"
	EventPlan    = "PLAN"
	EventRun     = "RUN"
	EventSucceed = "SUCCEED"
	EventRetry   = "RETRY"
	EventResume  = "RESUME"
	EventFail    = "FAIL"
	EventReset   = "RESET"
)

type lifecycleContext struct {
	StepID string
}

// lifecycle drives one step through its states. Illegal transitions are
// executor defects and surface as errors.
type lifecycle struct {
	interp *statekit.Interpreter[lifecycleContext]
}

func newLifecycle(stepID string) (*lifecycle, error) {
	l := &lifecycle{}

	machine, err := statekit.NewMachine[lifecycleContext]("step-lifecycle").
		WithInitial("pending").
		WithContext(lifecycleContext{StepID: stepID}).
		State("pending").
		On(EventCheck).Target("checking").Done().
		State("checking").
		On(EventSkip).Target("skipped").
		On(EventPlan).Target("planned").
		On(EventRun).Target("running").
		On(EventFail).Target("failed").Done().
		State("running").
		On(EventSucceed).Target("succeeded").
		On(EventRetry).Target("retrying").
		On(EventFail).Target("failed").Done().
		State("retrying").
		On(EventResume).Target("running").
		On(EventFail).Target("failed").Done().
		State("skipped").
		On(EventReset).Target("pending").Done().
		State("planned").
		On(EventReset).Target("pending").Done().
		State("succeeded").
		On(EventReset).Target("pending").Done().
		State("failed").
		On(EventReset).Target("pending").Done().
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build step lifecycle: %w", err)
	}

	l.interp = statekit.NewInterpreter(machine)
	l.interp.Start()
	return l, nil
}

// Phase returns the current state.
func (l *lifecycle) Phase() Phase {
	return Phase(l.interp.State().Value)
}

// fire sends event and verifies the machine landed in want.
func (l *lifecycle) fire(event string, want Phase) error {
	from := l.Phase()
	l.interp.Send(statekit.Event{Type: statekit.EventType(event)})
	if got := l.Phase(); got != want {
		return fmt.Errorf("illegal step transition %s on %s: in %s, expected %s", event, from, got, want)
	}
	return nil
}

func (l *lifecycle) stop() {
	l.interp.Stop()
}
