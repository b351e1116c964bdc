package system

import (
	"fmt"

	"github.com/trunkplayer/trunkprov/internal/domain/compiler"
	"github.com/trunkplayer/trunkprov/internal/provider"
)

// ServiceParams describe a service to start.
type ServiceParams struct {
	Generic     string
	Goal        compiler.Goal
	Criticality compiler.Criticality
	Gives       []compiler.Resource
}

// StartServiceStep starts and enables a service.
type StartServiceStep struct {
	provider.Meta
	deps   provider.Deps
	params ServiceParams
}

// NewStartServiceStep creates a StartServiceStep.
func NewStartServiceStep(deps provider.Deps, params ServiceParams) *StartServiceStep {
	pol := compiler.MutatingPolicy(compiler.TimeoutSetup)
	if params.Criticality != "" {
		pol = pol.WithCriticality(params.Criticality)
	}
	gives := append([]compiler.Resource{compiler.ServiceResource(params.Generic)}, params.Gives...)
	meta := provider.NewMeta("start-service:"+params.Generic, "Start service "+params.Generic, params.Goal, pol).
		Needs(compiler.PackageResource(params.Generic)).
		Gives(gives...)
	return &StartServiceStep{Meta: meta, deps: deps, params: params}
}

// Check is satisfied when the service manager reports it running.
func (s *StartServiceStep) Check(ctx compiler.RunContext) (compiler.StepStatus, error) {
	running, err := s.deps.Platform.IsServiceRunning(ctx.Context(), s.params.Generic)
	if err != nil {
		return compiler.StatusUnknown, fmt.Errorf("service status: %w", err)
	}
	if running {
		return compiler.StatusSatisfied, nil
	}
	return compiler.StatusNeedsApply, nil
}

// Apply starts the service.
func (s *StartServiceStep) Apply(ctx compiler.RunContext) (compiler.ApplyResult, error) {
	out, err := s.deps.Platform.StartService(ctx.Context(), s.params.Generic)
	return compiler.ApplyResult{Output: out}, err
}

var _ compiler.Step = (*StartServiceStep)(nil)
