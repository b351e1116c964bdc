// Package venv provides steps for the project's Python virtual environment.
package venv

import (
	"fmt"
	"path"

	"github.com/go-git/go-billy/v5/util"

	"github.com/trunkplayer/trunkprov/internal/domain/compiler"
	"github.com/trunkplayer/trunkprov/internal/domain/settings"
	"github.com/trunkplayer/trunkprov/internal/domain/state"
	"github.com/trunkplayer/trunkprov/internal/provider"
	"github.com/trunkplayer/trunkprov/internal/provider/commandutil"
)

// StampName is written into the venv after a successful dependency install.
// It holds the fingerprint of the requirements file that was installed.
const StampName = ".trunkprov-requirements"

// Params locate the venv and what goes into it.
type Params struct {
	ProjectDir   string
	Dir          string
	Python       string
	Requirements string
}

// Interpreter returns the venv's python.
func (p Params) Interpreter() string {
	return path.Join(p.Dir, "bin", "python")
}

func (p Params) bootstrap() string {
	if p.Python == "" {
		return "python3"
	}
	return p.Python
}

func (p Params) entry() state.Entry {
	return state.NewEntry(state.KindVenv, provider.Key(p.ProjectDir, p.Dir), map[string]string{
		state.ParamPath: p.Dir,
	})
}

func usable(ctx compiler.RunContext, deps provider.Deps, p Params) bool {
	if !provider.Exists(deps.FS, path.Join(p.Dir, "pyvenv.cfg")) {
		return false
	}
	return commandutil.Succeeds(ctx.Context(), deps.Runner, p.Interpreter(), "--version")
}

// CreateStep creates the venv when it is absent.
type CreateStep struct {
	provider.Meta
	deps   provider.Deps
	params Params
}

// NewCreateStep creates a CreateStep.
func NewCreateStep(deps provider.Deps, params Params) *CreateStep {
	meta := provider.NewMeta("create-venv", "Create virtual environment in "+params.Dir,
		compiler.GoalEnvironment, compiler.MutatingPolicy(compiler.TimeoutSetup)).
		Needs(compiler.ResPython).
		Gives(compiler.ResVenv)
	return &CreateStep{Meta: meta, deps: deps, params: params}
}

// Check is satisfied when a usable venv already exists.
func (s *CreateStep) Check(ctx compiler.RunContext) (compiler.StepStatus, error) {
	if usable(ctx, s.deps, s.params) {
		return compiler.StatusSatisfied, nil
	}
	return compiler.StatusNeedsApply, nil
}

// Apply runs python -m venv.
func (s *CreateStep) Apply(ctx compiler.RunContext) (compiler.ApplyResult, error) {
	out, err := commandutil.Run(ctx.Context(), s.deps.Runner, s.params.bootstrap(), "-m", "venv", s.params.Dir)
	if err != nil {
		return compiler.ApplyResult{Output: out}, err
	}
	return compiler.ApplyResult{Output: out, Created: []state.Entry{s.params.entry()}}, nil
}

// RecreateStep replaces a venv whose interpreter no longer runs.
type RecreateStep struct {
	provider.Meta
	deps   provider.Deps
	params Params
}

// NewRecreateStep creates a RecreateStep.
func NewRecreateStep(deps provider.Deps, params Params) *RecreateStep {
	meta := provider.NewMeta("recreate-venv", "Replace broken virtual environment in "+params.Dir,
		compiler.GoalEnvironment, compiler.DestructivePolicy(compiler.TimeoutSetup)).
		Needs(compiler.ResPython).
		Gives(compiler.ResVenv)
	return &RecreateStep{Meta: meta, deps: deps, params: params}
}

// Check is satisfied when the interpreter works again.
func (s *RecreateStep) Check(ctx compiler.RunContext) (compiler.StepStatus, error) {
	if usable(ctx, s.deps, s.params) {
		return compiler.StatusSatisfied, nil
	}
	return compiler.StatusNeedsApply, nil
}

// Apply removes the old venv and creates a new one.
func (s *RecreateStep) Apply(ctx compiler.RunContext) (compiler.ApplyResult, error) {
	if err := util.RemoveAll(s.deps.FS, s.params.Dir); err != nil {
		return compiler.ApplyResult{}, fmt.Errorf("remove broken venv: %w", err)
	}
	out, err := commandutil.Run(ctx.Context(), s.deps.Runner, s.params.bootstrap(), "-m", "venv", s.params.Dir)
	if err != nil {
		return compiler.ApplyResult{Output: out}, err
	}
	return compiler.ApplyResult{Output: out, Created: []state.Entry{s.params.entry()}}, nil
}

// InstallDepsStep installs requirements into the venv.
type InstallDepsStep struct {
	provider.Meta
	deps   provider.Deps
	params Params
	force  bool
}

// NewInstallDepsStep creates an InstallDepsStep. With force set, packages
// are reinstalled even when the requirements did not change.
func NewInstallDepsStep(deps provider.Deps, params Params, force bool) *InstallDepsStep {
	desc := "Install Python dependencies from " + path.Base(params.Requirements)
	if force {
		desc = "Reinstall Python dependencies from " + path.Base(params.Requirements)
	}
	meta := provider.NewMeta("install-deps", desc,
		compiler.GoalEnvironment, compiler.MutatingPolicy(compiler.TimeoutLong)).
		Needs(compiler.ResVenv).
		Gives(compiler.ResDependencies)
	return &InstallDepsStep{Meta: meta, deps: deps, params: params, force: force}
}

func (s *InstallDepsStep) stampPath() string {
	return path.Join(s.params.Dir, StampName)
}

func (s *InstallDepsStep) requirementsFingerprint() (string, error) {
	data, err := util.ReadFile(s.deps.FS, s.params.Requirements)
	if err != nil {
		return "", err
	}
	return settings.Fingerprint(string(data)), nil
}

// Check is satisfied when the installed requirements match the file.
func (s *InstallDepsStep) Check(_ compiler.RunContext) (compiler.StepStatus, error) {
	want, err := s.requirementsFingerprint()
	if err != nil {
		return compiler.StatusUnmet, nil
	}
	if s.force {
		return compiler.StatusNeedsApply, nil
	}
	have, err := util.ReadFile(s.deps.FS, s.stampPath())
	if err == nil && string(have) == want {
		return compiler.StatusSatisfied, nil
	}
	return compiler.StatusNeedsApply, nil
}

// Apply upgrades pip and installs the requirements.
func (s *InstallDepsStep) Apply(ctx compiler.RunContext) (compiler.ApplyResult, error) {
	var result compiler.ApplyResult
	py := s.params.Interpreter()

	if out, err := commandutil.Run(ctx.Context(), s.deps.Runner, py, "-m", "pip", "install", "--upgrade", "pip"); err != nil {
		result = result.WithAnomaly("pip self-upgrade failed: " + err.Error())
	} else {
		result.Output = out
	}

	args := []string{"-m", "pip", "install", "-r", s.params.Requirements}
	if s.force {
		args = append(args, "--force-reinstall")
	}
	out, err := commandutil.Run(ctx.Context(), s.deps.Runner, py, args...)
	result = result.Merge(compiler.ApplyResult{Output: out})
	if err != nil {
		return result, err
	}

	fp, err := s.requirementsFingerprint()
	if err == nil {
		err = util.WriteFile(s.deps.FS, s.stampPath(), []byte(fp), 0o644)
	}
	if err != nil {
		result = result.WithAnomaly("could not record installed requirements: " + err.Error())
	}
	return result, nil
}

// RemoveStep deletes a venv recorded in the ledger.
type RemoveStep struct {
	provider.Meta
	deps  provider.Deps
	entry state.Entry
}

// NewRemoveStep creates a RemoveStep for a venv entry.
func NewRemoveStep(deps provider.Deps, entry state.Entry) *RemoveStep {
	meta := provider.NewMeta(provider.StepID("remove-venv", entry.Key), "Remove virtual environment "+entry.Param(state.ParamPath),
		compiler.GoalTeardown, compiler.DestructivePolicy(compiler.TimeoutSetup).WithCriticality(compiler.CriticalityWarn))
	return &RemoveStep{Meta: meta, deps: deps, entry: entry}
}

// Check always applies; removal is idempotent.
func (s *RemoveStep) Check(_ compiler.RunContext) (compiler.StepStatus, error) {
	return compiler.StatusNeedsApply, nil
}

// Apply removes the directory and the ledger entry.
func (s *RemoveStep) Apply(_ compiler.RunContext) (compiler.ApplyResult, error) {
	p := s.entry.Param(state.ParamPath)
	if p == "" {
		return compiler.ApplyResult{}, fmt.Errorf("venv entry %s has no path", s.entry.Key)
	}
	if err := util.RemoveAll(s.deps.FS, p); err != nil {
		return compiler.ApplyResult{}, fmt.Errorf("remove venv: %w", err)
	}
	return compiler.ApplyResult{Output: "removed " + p, Removed: []state.Ref{s.entry.Ref()}}, nil
}

var (
	_ compiler.Step = (*CreateStep)(nil)
	_ compiler.Step = (*RecreateStep)(nil)
	_ compiler.Step = (*InstallDepsStep)(nil)
	_ compiler.Step = (*RemoveStep)(nil)
)
