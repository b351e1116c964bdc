// Package django provides steps that drive the web framework: the local
// settings file, the application secret, migrations and static files.
package django

import (
	"fmt"
	"path"
	"regexp"
	"strconv"

	"github.com/trunkplayer/trunkprov/internal/domain/compiler"
	"github.com/trunkplayer/trunkprov/internal/domain/settings"
	"github.com/trunkplayer/trunkprov/internal/provider"
	"github.com/trunkplayer/trunkprov/internal/provider/commandutil"
	"github.com/trunkplayer/trunkprov/internal/validation"
)

// Params describe the project.
type Params struct {
	ProjectDir string
	// Python is the venv interpreter.
	Python       string
	AllowedHosts []string
	// AudioDir is written to AUDIO_DIR when set.
	AudioDir string
}

func (p Params) manage() string {
	return path.Join(p.ProjectDir, "manage.py")
}

// WriteSettingsStep creates the local settings file from its template and
// applies the host and audio directory markers.
type WriteSettingsStep struct {
	provider.Meta
	file   *settings.File
	params Params
}

// NewWriteSettingsStep creates a WriteSettingsStep.
func NewWriteSettingsStep(deps provider.Deps, params Params) *WriteSettingsStep {
	meta := provider.NewMeta("write-settings", "Write "+settings.LocalPath,
		compiler.GoalEnvironment, compiler.MutatingPolicy(compiler.TimeoutQuick)).
		Gives(compiler.ResSettings)
	return &WriteSettingsStep{Meta: meta, file: settings.NewFile(deps.FS, params.ProjectDir), params: params}
}

func (s *WriteSettingsStep) mutations() []settings.Mutation {
	muts := []settings.Mutation{}
	if len(s.params.AllowedHosts) > 0 {
		muts = append(muts, settings.AllowedHosts{Hosts: s.params.AllowedHosts})
	}
	if s.params.AudioDir != "" {
		muts = append(muts, settings.AudioDir{Path: s.params.AudioDir})
	}
	return muts
}

// Check is satisfied when the file exists and every marker already holds
// the configured value.
func (s *WriteSettingsStep) Check(_ compiler.RunContext) (compiler.StepStatus, error) {
	if !s.file.Exists() {
		if !s.file.HasTemplate() {
			return compiler.StatusUnmet, nil
		}
		return compiler.StatusNeedsApply, nil
	}
	pending, err := s.file.Pending(s.mutations()...)
	if err != nil {
		return compiler.StatusUnknown, err
	}
	if pending {
		return compiler.StatusNeedsApply, nil
	}
	return compiler.StatusSatisfied, nil
}

// Apply writes the file.
func (s *WriteSettingsStep) Apply(_ compiler.RunContext) (compiler.ApplyResult, error) {
	for _, h := range s.params.AllowedHosts {
		if err := validation.ValidateHostname(h); err != nil {
			return compiler.ApplyResult{}, err
		}
	}
	if s.params.AudioDir != "" {
		if err := validation.ValidateSettingText(s.params.AudioDir); err != nil {
			return compiler.ApplyResult{}, err
		}
	}

	var result compiler.ApplyResult
	created, err := s.file.CreateFromTemplate()
	if err != nil {
		return result, err
	}
	if created {
		result.Output = "created " + s.file.Path() + " from template"
	}

	_, anomalies, err := s.file.Mutate(s.mutations()...)
	result.Anomalies = anomalies
	return result, err
}

// GenerateSecretStep fills the SECRET_KEY placeholder with a fresh key.
type GenerateSecretStep struct {
	provider.Meta
	file *settings.File
}

// NewGenerateSecretStep creates a GenerateSecretStep.
func NewGenerateSecretStep(deps provider.Deps, params Params) *GenerateSecretStep {
	meta := provider.NewMeta("generate-secret", "Generate application secret key",
		compiler.GoalEnvironment, compiler.MutatingPolicy(compiler.TimeoutQuick)).
		Needs(compiler.ResSettings).
		Gives(compiler.ResSecretKey)
	return &GenerateSecretStep{Meta: meta, file: settings.NewFile(deps.FS, params.ProjectDir)}
}

// Check is satisfied when a key other than the placeholder is set.
func (s *GenerateSecretStep) Check(_ compiler.RunContext) (compiler.StepStatus, error) {
	if !s.file.Exists() {
		return compiler.StatusNeedsApply, nil
	}
	content, err := s.file.Read()
	if err != nil {
		return compiler.StatusUnknown, err
	}
	if _, ok := settings.SecretKeyValue(content); ok {
		return compiler.StatusSatisfied, nil
	}
	return compiler.StatusNeedsApply, nil
}

// Apply generates the key and writes it. The key is not kept.
func (s *GenerateSecretStep) Apply(_ compiler.RunContext) (compiler.ApplyResult, error) {
	key, err := settings.GenerateSecretKey()
	if err != nil {
		return compiler.ApplyResult{}, err
	}
	changed, anomalies, err := s.file.Mutate(settings.SecretKey{Value: key})
	result := compiler.ApplyResult{Anomalies: anomalies}
	if err != nil {
		return result, err
	}
	if changed {
		result.Output = fmt.Sprintf("SECRET_KEY written to %s (fingerprint %s)", s.file.Path(), settings.Fingerprint(key))
	}
	return result, nil
}

// MigrateStep applies database migrations.
type MigrateStep struct {
	provider.Meta
	deps   provider.Deps
	params Params
}

// NewMigrateStep creates a MigrateStep.
func NewMigrateStep(deps provider.Deps, params Params) *MigrateStep {
	meta := provider.NewMeta("run-migrations", "Apply database migrations",
		compiler.GoalDatabase, compiler.MutatingPolicy(compiler.TimeoutLong)).
		Needs(compiler.ResDependencies, compiler.ResSettings, compiler.ResDatabaseConfig, compiler.ResDatabase).
		Gives(compiler.ResSchema)
	return &MigrateStep{Meta: meta, deps: deps, params: params}
}

// Check is satisfied when migrate --check reports nothing unapplied.
func (s *MigrateStep) Check(ctx compiler.RunContext) (compiler.StepStatus, error) {
	if commandutil.Succeeds(ctx.Context(), s.deps.Runner, s.params.Python, s.params.manage(), "migrate", "--check", "--noinput") {
		return compiler.StatusSatisfied, nil
	}
	return compiler.StatusNeedsApply, nil
}

// Apply runs migrate.
func (s *MigrateStep) Apply(ctx compiler.RunContext) (compiler.ApplyResult, error) {
	out, err := commandutil.Run(ctx.Context(), s.deps.Runner, s.params.Python, s.params.manage(), "migrate", "--noinput")
	return compiler.ApplyResult{Output: out}, err
}

var copiedPattern = regexp.MustCompile(`(\d+) static files? copied`)

// CollectStaticStep gathers static files for the proxy to serve.
type CollectStaticStep struct {
	provider.Meta
	deps   provider.Deps
	params Params
}

// NewCollectStaticStep creates a CollectStaticStep.
func NewCollectStaticStep(deps provider.Deps, params Params) *CollectStaticStep {
	meta := provider.NewMeta("collect-static", "Collect static files",
		compiler.GoalEnvironment, compiler.MutatingPolicy(compiler.TimeoutLong).WithCriticality(compiler.CriticalityWarn)).
		Needs(compiler.ResDependencies, compiler.ResSettings).
		Gives(compiler.ResStatic)
	return &CollectStaticStep{Meta: meta, deps: deps, params: params}
}

// Check is satisfied when a dry run would copy nothing.
func (s *CollectStaticStep) Check(ctx compiler.RunContext) (compiler.StepStatus, error) {
	res, err := s.deps.Runner.Run(ctx.Context(), s.params.Python, s.params.manage(), "collectstatic", "--noinput", "--dry-run")
	if err != nil || !res.Success() {
		return compiler.StatusNeedsApply, nil
	}
	m := copiedPattern.FindStringSubmatch(res.Combined())
	if m != nil {
		if n, _ := strconv.Atoi(m[1]); n == 0 {
			return compiler.StatusSatisfied, nil
		}
	}
	return compiler.StatusNeedsApply, nil
}

// Apply runs collectstatic.
func (s *CollectStaticStep) Apply(ctx compiler.RunContext) (compiler.ApplyResult, error) {
	out, err := commandutil.Run(ctx.Context(), s.deps.Runner, s.params.Python, s.params.manage(), "collectstatic", "--noinput")
	return compiler.ApplyResult{Output: out}, err
}

var (
	_ compiler.Step = (*WriteSettingsStep)(nil)
	_ compiler.Step = (*GenerateSecretStep)(nil)
	_ compiler.Step = (*MigrateStep)(nil)
	_ compiler.Step = (*CollectStaticStep)(nil)
)
