package mocks

import (
	"sync"

	"github.com/trunkplayer/trunkprov/internal/domain/compiler"
)

// Step is a configurable compiler.Step for tests.
type Step struct {
	mu sync.Mutex

	StepID    compiler.StepID
	Desc      string
	StepGoal  compiler.Goal
	Needs     []compiler.Resource
	Gives     []compiler.Resource
	StepPol   compiler.Policy
	CheckFn   func(compiler.RunContext) (compiler.StepStatus, error)
	ApplyFn   func(compiler.RunContext) (compiler.ApplyResult, error)
	UndoFn    func(compiler.RunContext) (compiler.ApplyResult, error)
	checks    int
	applies   int
	rollbacks int
}

// NewStep creates a mutating, fatal step that always needs apply.
func NewStep(id string) *Step {
	return &Step{
		StepID:  compiler.MustNewStepID(id),
		Desc:    id,
		StepPol: compiler.MutatingPolicy(compiler.TimeoutQuick),
	}
}

// WithPolicy sets the policy.
func (s *Step) WithPolicy(p compiler.Policy) *Step {
	s.StepPol = p
	return s
}

// WithResources sets required and provided resources.
func (s *Step) WithResources(requires, provides []compiler.Resource) *Step {
	s.Needs = requires
	s.Gives = provides
	return s
}

// WithCheck sets the check function.
func (s *Step) WithCheck(fn func(compiler.RunContext) (compiler.StepStatus, error)) *Step {
	s.CheckFn = fn
	return s
}

// WithApply sets the apply function.
func (s *Step) WithApply(fn func(compiler.RunContext) (compiler.ApplyResult, error)) *Step {
	s.ApplyFn = fn
	return s
}

// WithRollback makes the step rollbackable.
func (s *Step) WithRollback(fn func(compiler.RunContext) (compiler.ApplyResult, error)) *Step {
	s.UndoFn = fn
	return s
}

// WithGoal sets the goal.
func (s *Step) WithGoal(g compiler.Goal) *Step {
	s.StepGoal = g
	return s
}

// ID implements compiler.Step.
func (s *Step) ID() compiler.StepID { return s.StepID }

// Description implements compiler.Step.
func (s *Step) Description() string { return s.Desc }

// Goal implements compiler.Step.
func (s *Step) Goal() compiler.Goal { return s.StepGoal }

// Requires implements compiler.Step.
func (s *Step) Requires() []compiler.Resource { return s.Needs }

// Provides implements compiler.Step.
func (s *Step) Provides() []compiler.Resource { return s.Gives }

// Policy implements compiler.Step.
func (s *Step) Policy() compiler.Policy { return s.StepPol }

// Check implements compiler.Step.
func (s *Step) Check(ctx compiler.RunContext) (compiler.StepStatus, error) {
	s.mu.Lock()
	s.checks++
	fn := s.CheckFn
	s.mu.Unlock()
	if fn == nil {
		return compiler.StatusNeedsApply, nil
	}
	return fn(ctx)
}

// Apply implements compiler.Step.
func (s *Step) Apply(ctx compiler.RunContext) (compiler.ApplyResult, error) {
	s.mu.Lock()
	s.applies++
	fn := s.ApplyFn
	s.mu.Unlock()
	if fn == nil {
		return compiler.ApplyResult{}, nil
	}
	return fn(ctx)
}

// CanRollback implements compiler.RollbackableStep.
func (s *Step) CanRollback() bool {
	return s.UndoFn != nil
}

// Rollback implements compiler.RollbackableStep.
func (s *Step) Rollback(ctx compiler.RunContext) (compiler.ApplyResult, error) {
	s.mu.Lock()
	s.rollbacks++
	fn := s.UndoFn
	s.mu.Unlock()
	if fn == nil {
		return compiler.ApplyResult{}, nil
	}
	return fn(ctx)
}

// Checks returns how many times Check ran.
func (s *Step) Checks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checks
}

// Applies returns how many times Apply ran.
func (s *Step) Applies() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applies
}

// Rollbacks returns how many times Rollback ran.
func (s *Step) Rollbacks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollbacks
}

var _ compiler.RollbackableStep = (*Step)(nil)
