package supervisor

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-git/go-billy/v5/util"

	"github.com/trunkplayer/trunkprov/internal/domain/compiler"
	"github.com/trunkplayer/trunkprov/internal/domain/platform"
	"github.com/trunkplayer/trunkprov/internal/domain/state"
	"github.com/trunkplayer/trunkprov/internal/provider"
	"github.com/trunkplayer/trunkprov/internal/provider/commandutil"
)

const programMode = 0o644

func warn(p compiler.Policy) compiler.Policy {
	return p.WithCriticality(compiler.CriticalityWarn)
}

func programPath(deps provider.Deps, name string) string {
	return Path(deps.Platform.SupervisorDir(), deps.Platform.SupervisorExt(), name)
}

// running asks supervisorctl for the program state. status exits non-zero
// for stopped programs, so only the output is inspected.
func running(ctx context.Context, deps provider.Deps, name string) bool {
	cmd, args := deps.Platform.Privileged("supervisorctl", "status", name)
	res, err := deps.Runner.Run(ctx, cmd, args...)
	if err != nil {
		return false
	}
	return strings.Contains(res.Stdout, "RUNNING")
}

// ConfigureStep writes the program file.
type ConfigureStep struct {
	provider.Meta
	deps    provider.Deps
	program Program
	changes *provider.Changes
}

// NewConfigureStep creates a ConfigureStep. changes is marked when the file is written.
func NewConfigureStep(deps provider.Deps, program Program, changes *provider.Changes) *ConfigureStep {
	meta := provider.NewMeta("configure-supervisor", "Write supervisor program "+program.Name, compiler.GoalServer,
		warn(compiler.MutatingPolicy(compiler.TimeoutQuick))).
		Needs(compiler.ResSupervisor, compiler.ResLogDir, compiler.ResSchema).
		Gives(compiler.ResSupervisorJob)
	return &ConfigureStep{Meta: meta, deps: deps, program: program, changes: changes}
}

// Check is satisfied when the file already holds the rendered program.
func (s *ConfigureStep) Check(_ compiler.RunContext) (compiler.StepStatus, error) {
	want, err := s.program.Render()
	if err != nil {
		return compiler.StatusUnmet, err
	}
	got, err := util.ReadFile(s.deps.FS, programPath(s.deps, s.program.Name))
	if err != nil || string(got) != want {
		return compiler.StatusNeedsApply, nil
	}
	return compiler.StatusSatisfied, nil
}

// Apply writes the program file. Only a file this step creates is recorded.
func (s *ConfigureStep) Apply(ctx compiler.RunContext) (compiler.ApplyResult, error) {
	content, err := s.program.Render()
	if err != nil {
		return compiler.ApplyResult{}, err
	}
	file := programPath(s.deps, s.program.Name)
	existed := provider.Exists(s.deps.FS, file)
	if err := s.deps.Platform.WriteFile(ctx.Context(), file, content, programMode); err != nil {
		return compiler.ApplyResult{}, err
	}
	s.changes.Mark()
	if existed {
		return compiler.ApplyResult{Output: "updated " + file}, nil
	}
	entry := state.NewEntry(state.KindSupervisorJob, s.program.Name, map[string]string{
		state.ParamPath:    file,
		state.ParamService: s.program.Name,
	})
	return compiler.ApplyResult{Output: "wrote " + file, Created: []state.Entry{entry}}, nil
}

// ReloadStep makes supervisor pick up the program and ensures it runs.
type ReloadStep struct {
	provider.Meta
	deps    provider.Deps
	name    string
	changes *provider.Changes
}

// NewReloadStep creates a ReloadStep.
func NewReloadStep(deps provider.Deps, name string, changes *provider.Changes) *ReloadStep {
	meta := provider.NewMeta("reload-supervisor", "Reload supervisor and start "+name, compiler.GoalServer,
		warn(compiler.MutatingPolicy(compiler.TimeoutSetup))).
		Needs(compiler.ResSupervisorJob)
	return &ReloadStep{Meta: meta, deps: deps, name: name, changes: changes}
}

// Check is satisfied when nothing changed and the program runs.
func (s *ReloadStep) Check(ctx compiler.RunContext) (compiler.StepStatus, error) {
	if !s.changes.Any() && running(ctx.Context(), s.deps, s.name) {
		return compiler.StatusSatisfied, nil
	}
	return compiler.StatusNeedsApply, nil
}

// Apply rereads the configuration and starts the program if update did not.
func (s *ReloadStep) Apply(ctx compiler.RunContext) (compiler.ApplyResult, error) {
	out, err := s.deps.Platform.ReloadService(ctx.Context(), platform.PkgSupervisor)
	if err != nil {
		return compiler.ApplyResult{Output: out}, fmt.Errorf("reload supervisor: %w", err)
	}
	if running(ctx.Context(), s.deps, s.name) {
		return compiler.ApplyResult{Output: out}, nil
	}
	cmd, args := s.deps.Platform.Privileged("supervisorctl", "start", s.name)
	started, err := commandutil.Run(ctx.Context(), s.deps.Runner, cmd, args...)
	if err != nil {
		return compiler.ApplyResult{Output: started}, fmt.Errorf("start %s: %w", s.name, err)
	}
	return compiler.ApplyResult{Output: strings.TrimSpace(out + "\n" + started)}, nil
}

// RemoveJobStep stops and deletes a program this provisioner created.
type RemoveJobStep struct {
	provider.Meta
	deps  provider.Deps
	entry state.Entry
}

// NewRemoveJobStep creates a RemoveJobStep for a ledger entry.
func NewRemoveJobStep(deps provider.Deps, entry state.Entry) *RemoveJobStep {
	meta := provider.NewMeta(provider.StepID("remove-supervisor-job", entry.Key), "Stop and remove supervisor program "+entry.Key,
		compiler.GoalTeardown, warn(compiler.DestructivePolicy(compiler.TimeoutSetup)))
	return &RemoveJobStep{Meta: meta, deps: deps, entry: entry}
}

// Check always applies; removal is idempotent.
func (s *RemoveJobStep) Check(_ compiler.RunContext) (compiler.StepStatus, error) {
	return compiler.StatusNeedsApply, nil
}

// Apply stops the program, deletes its file and lets supervisor forget it.
func (s *RemoveJobStep) Apply(ctx compiler.RunContext) (compiler.ApplyResult, error) {
	file := s.entry.Param(state.ParamPath)
	if file == "" {
		return compiler.ApplyResult{}, fmt.Errorf("ledger entry %s has no path", s.entry.Ref())
	}
	name := s.entry.Param(state.ParamService)
	if name == "" {
		name = s.entry.Key
	}

	var result compiler.ApplyResult
	cmd, args := s.deps.Platform.Privileged("supervisorctl", "stop", name)
	if _, err := commandutil.Run(ctx.Context(), s.deps.Runner, cmd, args...); err != nil {
		result = result.WithAnomaly(fmt.Sprintf("stopping %s failed: %v", name, err))
	}
	if err := s.deps.Platform.RemovePath(ctx.Context(), file); err != nil {
		return result, err
	}
	if _, err := s.deps.Platform.ReloadService(ctx.Context(), platform.PkgSupervisor); err != nil {
		result = result.WithAnomaly("supervisor reload after removal failed: " + err.Error())
	}
	result.Output = "removed " + file
	result.Removed = []state.Ref{s.entry.Ref()}
	return result, nil
}

var (
	_ compiler.Step = (*ConfigureStep)(nil)
	_ compiler.Step = (*ReloadStep)(nil)
	_ compiler.Step = (*RemoveJobStep)(nil)
)
