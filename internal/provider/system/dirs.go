package system

import (
	"fmt"

	"github.com/trunkplayer/trunkprov/internal/domain/compiler"
	"github.com/trunkplayer/trunkprov/internal/domain/state"
	"github.com/trunkplayer/trunkprov/internal/provider"
	"github.com/trunkplayer/trunkprov/internal/validation"
)

// DirParams describe a directory to create.
type DirParams struct {
	ID          string
	Kind        state.Kind
	ProjectDir  string
	Path        string
	Owner       string
	Goal        compiler.Goal
	Criticality compiler.Criticality
	Gives       []compiler.Resource
}

// DirStep creates a directory with privileged rights.
type DirStep struct {
	provider.Meta
	deps   provider.Deps
	params DirParams
}

// NewDirStep creates a DirStep.
func NewDirStep(deps provider.Deps, params DirParams) *DirStep {
	pol := compiler.MutatingPolicy(compiler.TimeoutQuick)
	if params.Criticality != "" {
		pol = pol.WithCriticality(params.Criticality)
	}
	meta := provider.NewMeta(params.ID, "Create directory "+params.Path, params.Goal, pol).Gives(params.Gives...)
	return &DirStep{Meta: meta, deps: deps, params: params}
}

// Check is satisfied when the directory exists.
func (s *DirStep) Check(_ compiler.RunContext) (compiler.StepStatus, error) {
	if provider.Exists(s.deps.FS, s.params.Path) {
		return compiler.StatusSatisfied, nil
	}
	return compiler.StatusNeedsApply, nil
}

// Apply creates the directory and records it.
func (s *DirStep) Apply(ctx compiler.RunContext) (compiler.ApplyResult, error) {
	if err := validation.ValidateAbsolutePath(s.params.Path); err != nil {
		return compiler.ApplyResult{}, err
	}
	if err := s.deps.Platform.MakeDir(ctx.Context(), s.params.Path, s.params.Owner); err != nil {
		return compiler.ApplyResult{}, err
	}
	entry := state.NewEntry(s.params.Kind, provider.Key(s.params.ProjectDir, s.params.Path), map[string]string{
		state.ParamPath:  s.params.Path,
		state.ParamOwner: s.params.Owner,
	})
	return compiler.ApplyResult{Output: "created " + s.params.Path, Created: []state.Entry{entry}}, nil
}

// RemoveDirStep deletes a directory recorded in the ledger.
type RemoveDirStep struct {
	provider.Meta
	deps  provider.Deps
	entry state.Entry
}

// NewRemoveDirStep creates a RemoveDirStep. The id action is derived from
// the kind, e.g. remove-log-dir.
func NewRemoveDirStep(deps provider.Deps, entry state.Entry) *RemoveDirStep {
	action := "remove-dir"
	switch entry.Kind {
	case state.KindLogDir:
		action = "remove-log-dir"
	case state.KindAudioDir:
		action = "remove-audio-dir"
	}
	meta := provider.NewMeta(provider.StepID(action, entry.Key), "Remove directory "+entry.Param(state.ParamPath),
		compiler.GoalTeardown, compiler.DestructivePolicy(compiler.TimeoutSetup).WithCriticality(compiler.CriticalityWarn))
	return &RemoveDirStep{Meta: meta, deps: deps, entry: entry}
}

// Check always applies.
func (s *RemoveDirStep) Check(_ compiler.RunContext) (compiler.StepStatus, error) {
	return compiler.StatusNeedsApply, nil
}

// Apply removes the directory.
func (s *RemoveDirStep) Apply(ctx compiler.RunContext) (compiler.ApplyResult, error) {
	p := s.entry.Param(state.ParamPath)
	if err := validation.ValidateAbsolutePath(p); err != nil {
		return compiler.ApplyResult{}, fmt.Errorf("%s entry %s: %w", s.entry.Kind, s.entry.Key, err)
	}
	if err := s.deps.Platform.RemovePath(ctx.Context(), p); err != nil {
		return compiler.ApplyResult{}, err
	}
	return compiler.ApplyResult{Output: "removed " + p, Removed: []state.Ref{s.entry.Ref()}}, nil
}

var (
	_ compiler.Step = (*DirStep)(nil)
	_ compiler.Step = (*RemoveDirStep)(nil)
)
