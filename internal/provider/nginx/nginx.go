package nginx

import (
	"fmt"

	"github.com/go-git/go-billy/v5/util"

	"github.com/trunkplayer/trunkprov/internal/domain/compiler"
	"github.com/trunkplayer/trunkprov/internal/domain/platform"
	"github.com/trunkplayer/trunkprov/internal/domain/state"
	"github.com/trunkplayer/trunkprov/internal/provider"
	"github.com/trunkplayer/trunkprov/internal/provider/commandutil"
)

const siteMode = 0o644

func warnPolicy(p compiler.Policy) compiler.Policy {
	return p.WithCriticality(compiler.CriticalityWarn)
}

// ConfigureStep writes the site file.
type ConfigureStep struct {
	provider.Meta
	deps    provider.Deps
	site    Site
	changes *provider.Changes
}

// NewConfigureStep creates a ConfigureStep. changes is marked when the file is written.
func NewConfigureStep(deps provider.Deps, site Site, changes *provider.Changes) *ConfigureStep {
	meta := provider.NewMeta("configure-nginx", "Write nginx site "+site.Name, compiler.GoalProxy,
		warnPolicy(compiler.MutatingPolicy(compiler.TimeoutQuick))).
		Needs(compiler.ResNginx).
		Gives(compiler.ResNginxSite)
	return &ConfigureStep{Meta: meta, deps: deps, site: site, changes: changes}
}

func (s *ConfigureStep) paths() (string, string) {
	return Paths(s.deps.Platform.NginxDirs(), s.site.Name)
}

// Check is satisfied when the file already holds the rendered site.
func (s *ConfigureStep) Check(_ compiler.RunContext) (compiler.StepStatus, error) {
	want, err := s.site.Render()
	if err != nil {
		return compiler.StatusUnmet, err
	}
	file, _ := s.paths()
	got, err := util.ReadFile(s.deps.FS, file)
	if err != nil || string(got) != want {
		return compiler.StatusNeedsApply, nil
	}
	return compiler.StatusSatisfied, nil
}

// Apply writes the site. Only a file this step creates is recorded.
func (s *ConfigureStep) Apply(ctx compiler.RunContext) (compiler.ApplyResult, error) {
	content, err := s.site.Render()
	if err != nil {
		return compiler.ApplyResult{}, err
	}
	file, link := s.paths()
	existed := provider.Exists(s.deps.FS, file)
	if err := s.deps.Platform.WriteFile(ctx.Context(), file, content, siteMode); err != nil {
		return compiler.ApplyResult{}, err
	}
	s.changes.Mark()

	if existed {
		return compiler.ApplyResult{Output: "updated " + file}, nil
	}
	params := map[string]string{state.ParamPath: file}
	if link != "" {
		params[state.ParamEnabledLink] = link
	}
	return compiler.ApplyResult{
		Output:  "wrote " + file,
		Created: []state.Entry{state.NewEntry(state.KindNginxSite, s.site.Name, params)},
	}, nil
}

// EnableStep links the site into the enabled directory.
type EnableStep struct {
	provider.Meta
	deps    provider.Deps
	name    string
	changes *provider.Changes
}

// NewEnableStep creates an EnableStep. Only layouts with an enabled
// directory need it.
func NewEnableStep(deps provider.Deps, name string, changes *provider.Changes) *EnableStep {
	meta := provider.NewMeta("enable-nginx-site", "Enable nginx site "+name, compiler.GoalProxy,
		warnPolicy(compiler.MutatingPolicy(compiler.TimeoutQuick))).
		Needs(compiler.ResNginxSite)
	return &EnableStep{Meta: meta, deps: deps, name: name, changes: changes}
}

// Check is satisfied when the link already points at the site file.
func (s *EnableStep) Check(_ compiler.RunContext) (compiler.StepStatus, error) {
	file, link := Paths(s.deps.Platform.NginxDirs(), s.name)
	if link == "" {
		return compiler.StatusSatisfied, nil
	}
	target, err := s.deps.FS.Readlink(link)
	if err == nil && target == file {
		return compiler.StatusSatisfied, nil
	}
	return compiler.StatusNeedsApply, nil
}

// Apply creates or replaces the link.
func (s *EnableStep) Apply(ctx compiler.RunContext) (compiler.ApplyResult, error) {
	file, link := Paths(s.deps.Platform.NginxDirs(), s.name)
	if link == "" {
		return compiler.ApplyResult{}, nil
	}
	if err := s.deps.Platform.Symlink(ctx.Context(), file, link); err != nil {
		return compiler.ApplyResult{}, err
	}
	s.changes.Mark()
	return compiler.ApplyResult{Output: link + " -> " + file}, nil
}

// ReloadStep validates the configuration and reloads nginx.
type ReloadStep struct {
	provider.Meta
	deps    provider.Deps
	changes *provider.Changes
}

// NewReloadStep creates a ReloadStep.
func NewReloadStep(deps provider.Deps, changes *provider.Changes) *ReloadStep {
	meta := provider.NewMeta("reload-nginx", "Reload nginx", compiler.GoalProxy,
		warnPolicy(compiler.MutatingPolicy(compiler.TimeoutSetup))).
		Needs(compiler.ResNginxSite)
	return &ReloadStep{Meta: meta, deps: deps, changes: changes}
}

// Check is satisfied when nothing was written and nginx is running.
func (s *ReloadStep) Check(ctx compiler.RunContext) (compiler.StepStatus, error) {
	if s.changes.Any() {
		return compiler.StatusNeedsApply, nil
	}
	running, err := s.deps.Platform.IsServiceRunning(ctx.Context(), platform.PkgNginx)
	if err != nil {
		return compiler.StatusUnknown, fmt.Errorf("nginx status: %w", err)
	}
	if running {
		return compiler.StatusSatisfied, nil
	}
	return compiler.StatusNeedsApply, nil
}

// Apply tests the configuration, then reloads or starts nginx.
func (s *ReloadStep) Apply(ctx compiler.RunContext) (compiler.ApplyResult, error) {
	cmd, args := s.deps.Platform.Privileged("nginx", "-t")
	if out, err := commandutil.Run(ctx.Context(), s.deps.Runner, cmd, args...); err != nil {
		return compiler.ApplyResult{Output: out}, fmt.Errorf("nginx configuration test failed: %w", err)
	}
	running, err := s.deps.Platform.IsServiceRunning(ctx.Context(), platform.PkgNginx)
	if err != nil {
		return compiler.ApplyResult{}, err
	}
	var out string
	if running {
		out, err = s.deps.Platform.ReloadService(ctx.Context(), platform.PkgNginx)
	} else {
		out, err = s.deps.Platform.StartService(ctx.Context(), platform.PkgNginx)
	}
	return compiler.ApplyResult{Output: out}, err
}

// RemoveSiteStep deletes a site this provisioner created.
type RemoveSiteStep struct {
	provider.Meta
	deps  provider.Deps
	entry state.Entry
}

// NewRemoveSiteStep creates a RemoveSiteStep for a ledger entry.
func NewRemoveSiteStep(deps provider.Deps, entry state.Entry) *RemoveSiteStep {
	meta := provider.NewMeta(provider.StepID("remove-nginx-site", entry.Key), "Remove nginx site "+entry.Key,
		compiler.GoalTeardown, warnPolicy(compiler.DestructivePolicy(compiler.TimeoutSetup)))
	return &RemoveSiteStep{Meta: meta, deps: deps, entry: entry}
}

// Check always applies; removal is idempotent.
func (s *RemoveSiteStep) Check(_ compiler.RunContext) (compiler.StepStatus, error) {
	return compiler.StatusNeedsApply, nil
}

// Apply unlinks and deletes the site, then reloads nginx if it runs.
func (s *RemoveSiteStep) Apply(ctx compiler.RunContext) (compiler.ApplyResult, error) {
	file := s.entry.Param(state.ParamPath)
	if file == "" {
		return compiler.ApplyResult{}, fmt.Errorf("ledger entry %s has no path", s.entry.Ref())
	}
	if link := s.entry.Param(state.ParamEnabledLink); link != "" {
		if err := s.deps.Platform.RemovePath(ctx.Context(), link); err != nil {
			return compiler.ApplyResult{}, err
		}
	}
	if err := s.deps.Platform.RemovePath(ctx.Context(), file); err != nil {
		return compiler.ApplyResult{}, err
	}
	result := compiler.ApplyResult{Output: "removed " + file, Removed: []state.Ref{s.entry.Ref()}}

	running, err := s.deps.Platform.IsServiceRunning(ctx.Context(), platform.PkgNginx)
	if err != nil || !running {
		return result, nil
	}
	if _, err := s.deps.Platform.ReloadService(ctx.Context(), platform.PkgNginx); err != nil {
		result = result.WithAnomaly("nginx reload after removing the site failed: " + err.Error())
	}
	return result, nil
}

var (
	_ compiler.Step = (*ConfigureStep)(nil)
	_ compiler.Step = (*EnableStep)(nil)
	_ compiler.Step = (*ReloadStep)(nil)
	_ compiler.Step = (*RemoveSiteStep)(nil)
)
