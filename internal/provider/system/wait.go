package system

import (
	"context"
	"fmt"

	"github.com/trunkplayer/trunkprov/internal/domain/compiler"
	"github.com/trunkplayer/trunkprov/internal/provider"
)

// WaitParams describe a TCP endpoint to poll until it accepts connections.
type WaitParams struct {
	ID          string
	What        string
	Addr        string
	Goal        compiler.Goal
	Criticality compiler.Criticality
	Needs       []compiler.Resource
	Gives       []compiler.Resource
}

// WaitStep polls a TCP endpoint. The executor retries it on the readiness
// policy: ten attempts two seconds apart.
type WaitStep struct {
	provider.Meta
	deps   provider.Deps
	params WaitParams
}

// NewWaitStep creates a WaitStep.
func NewWaitStep(deps provider.Deps, params WaitParams) *WaitStep {
	pol := compiler.ReadinessPolicy()
	if params.Criticality != "" {
		pol = pol.WithCriticality(params.Criticality)
	}
	meta := provider.NewMeta(params.ID, fmt.Sprintf("Wait for %s on %s", params.What, params.Addr), params.Goal, pol).
		Needs(params.Needs...).
		Gives(params.Gives...)
	return &WaitStep{Meta: meta, deps: deps, params: params}
}

// Check is satisfied when the endpoint already answers.
func (s *WaitStep) Check(ctx compiler.RunContext) (compiler.StepStatus, error) {
	if s.dial(ctx.Context()) == nil {
		return compiler.StatusSatisfied, nil
	}
	return compiler.StatusNeedsApply, nil
}

// Apply makes one connection attempt.
func (s *WaitStep) Apply(ctx compiler.RunContext) (compiler.ApplyResult, error) {
	if err := s.dial(ctx.Context()); err != nil {
		return compiler.ApplyResult{}, fmt.Errorf("%s not ready: %w", s.params.What, err)
	}
	return compiler.ApplyResult{Output: s.params.What + " accepting connections on " + s.params.Addr}, nil
}

func (s *WaitStep) dial(ctx context.Context) error {
	conn, err := s.deps.Dialer.DialContext(ctx, "tcp", s.params.Addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

var _ compiler.Step = (*WaitStep)(nil)
