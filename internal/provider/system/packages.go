// Package system provides host-level steps: system packages, services,
// directories and readiness polling.
package system

import (
	"fmt"
	"strings"

	"github.com/trunkplayer/trunkprov/internal/domain/compiler"
	"github.com/trunkplayer/trunkprov/internal/domain/state"
	"github.com/trunkplayer/trunkprov/internal/provider"
	"github.com/trunkplayer/trunkprov/internal/validation"
)

// PackageParams describe a system package to install.
type PackageParams struct {
	// Generic is the platform-neutral name, e.g. platform.PkgNginx.
	Generic string
	// Binary is looked up on PATH to decide whether the package is present.
	Binary      string
	Goal        compiler.Goal
	Criticality compiler.Criticality
	// Gives lists resources beyond the package itself.
	Gives []compiler.Resource
}

// InstallPackageStep installs a package through the platform adapter.
type InstallPackageStep struct {
	provider.Meta
	deps   provider.Deps
	params PackageParams
}

// NewInstallPackageStep creates an InstallPackageStep.
func NewInstallPackageStep(deps provider.Deps, params PackageParams) *InstallPackageStep {
	pol := compiler.MutatingPolicy(compiler.TimeoutLong)
	if params.Criticality != "" {
		pol = pol.WithCriticality(params.Criticality)
	}
	gives := append([]compiler.Resource{compiler.PackageResource(params.Generic)}, params.Gives...)
	meta := provider.NewMeta("install-package:"+params.Generic, "Install system package "+params.Generic,
		params.Goal, pol).Gives(gives...)
	return &InstallPackageStep{Meta: meta, deps: deps, params: params}
}

// Check is satisfied when the package's binary is already on PATH.
func (s *InstallPackageStep) Check(_ compiler.RunContext) (compiler.StepStatus, error) {
	if _, err := s.deps.Lookup.LookPath(s.params.Binary); err == nil {
		return compiler.StatusSatisfied, nil
	}
	return compiler.StatusNeedsApply, nil
}

// Apply installs the package and records it in the system tier.
func (s *InstallPackageStep) Apply(ctx compiler.RunContext) (compiler.ApplyResult, error) {
	names := s.deps.Platform.PackageNames(s.params.Generic)
	for _, n := range names {
		if err := validation.ValidatePackageName(n); err != nil {
			return compiler.ApplyResult{}, fmt.Errorf("invalid package name: %w", err)
		}
	}
	out, err := s.deps.Platform.InstallPackage(ctx.Context(), s.params.Generic)
	if err != nil {
		return compiler.ApplyResult{Output: out}, err
	}
	entry := state.NewEntry(state.KindSystemPackage, s.params.Generic, map[string]string{
		state.ParamPackage: strings.Join(names, " "),
	})
	return compiler.ApplyResult{Output: out, Created: []state.Entry{entry}}, nil
}

// RemovePackageStep uninstalls a package recorded in the ledger.
type RemovePackageStep struct {
	provider.Meta
	deps  provider.Deps
	entry state.Entry
}

// NewRemovePackageStep creates a RemovePackageStep.
func NewRemovePackageStep(deps provider.Deps, entry state.Entry) *RemovePackageStep {
	meta := provider.NewMeta(provider.StepID("remove-package", entry.Key), "Remove system package "+entry.Key,
		compiler.GoalTeardown, compiler.DestructivePolicy(compiler.TimeoutLong).WithCriticality(compiler.CriticalityWarn))
	return &RemovePackageStep{Meta: meta, deps: deps, entry: entry}
}

// Check always applies.
func (s *RemovePackageStep) Check(_ compiler.RunContext) (compiler.StepStatus, error) {
	return compiler.StatusNeedsApply, nil
}

// Apply removes the package.
func (s *RemovePackageStep) Apply(ctx compiler.RunContext) (compiler.ApplyResult, error) {
	out, err := s.deps.Platform.RemovePackage(ctx.Context(), s.entry.Key)
	if err != nil {
		return compiler.ApplyResult{Output: out}, err
	}
	return compiler.ApplyResult{Output: out, Removed: []state.Ref{s.entry.Ref()}}, nil
}

var (
	_ compiler.Step = (*InstallPackageStep)(nil)
	_ compiler.Step = (*RemovePackageStep)(nil)
)
