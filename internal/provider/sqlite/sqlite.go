// Package sqlite provides the file-based database path.
package sqlite

import (
	"fmt"

	"github.com/trunkplayer/trunkprov/internal/domain/compiler"
	"github.com/trunkplayer/trunkprov/internal/domain/settings"
	"github.com/trunkplayer/trunkprov/internal/domain/state"
	"github.com/trunkplayer/trunkprov/internal/provider"
	"github.com/trunkplayer/trunkprov/internal/validation"
)

// EngineName is recorded in the ledger for SQLite databases.
const EngineName = "sqlite"

// Params locate the database file.
type Params struct {
	ProjectDir string
	Path       string
}

// WriteConfigStep points the DATABASES block at a SQLite file.
type WriteConfigStep struct {
	provider.Meta
	deps   provider.Deps
	file   *settings.File
	params Params
}

// NewWriteConfigStep creates a WriteConfigStep.
func NewWriteConfigStep(deps provider.Deps, params Params) *WriteConfigStep {
	meta := provider.NewMeta("write-sqlite-config", "Configure SQLite database "+params.Path,
		compiler.GoalDatabase, compiler.MutatingPolicy(compiler.TimeoutQuick)).
		Needs(compiler.ResSettings).
		Gives(compiler.ResDatabaseConfig, compiler.ResDatabase)
	return &WriteConfigStep{Meta: meta, deps: deps, file: settings.NewFile(deps.FS, params.ProjectDir), params: params}
}

func (s *WriteConfigStep) body() string {
	return settings.SQLiteBody(s.params.Path)
}

// Check is satisfied when the block already names this file.
func (s *WriteConfigStep) Check(_ compiler.RunContext) (compiler.StepStatus, error) {
	if !s.file.Exists() {
		return compiler.StatusNeedsApply, nil
	}
	pending, err := s.file.Pending(settings.Databases{Body: s.body()})
	if err != nil {
		return compiler.StatusUnknown, err
	}
	if pending {
		return compiler.StatusNeedsApply, nil
	}
	return compiler.StatusSatisfied, nil
}

// Apply writes the block. The database is recorded only when its file does
// not exist yet; a pre-existing database is never claimed.
func (s *WriteConfigStep) Apply(_ compiler.RunContext) (compiler.ApplyResult, error) {
	if err := validation.ValidateAbsolutePath(s.params.Path); err != nil {
		return compiler.ApplyResult{}, err
	}
	if err := validation.ValidateSettingText(s.params.Path); err != nil {
		return compiler.ApplyResult{}, err
	}
	existed := provider.Exists(s.deps.FS, s.params.Path)

	changed, anomalies, err := s.file.Mutate(settings.Databases{Body: s.body()})
	result := compiler.ApplyResult{Anomalies: anomalies}
	if err != nil {
		return result, err
	}
	if !changed {
		return result, nil
	}
	result.Output = "DATABASES now uses " + s.params.Path
	if existed {
		return result.WithAnomaly(fmt.Sprintf("existing database %s reused and not recorded", s.params.Path)), nil
	}
	result.Created = []state.Entry{state.NewEntry(state.KindDatabase, provider.Key(s.params.ProjectDir, s.params.Path), map[string]string{
		state.ParamEngine: EngineName,
		state.ParamPath:   s.params.Path,
	})}
	return result, nil
}

// RemoveStep deletes a SQLite database recorded in the ledger.
type RemoveStep struct {
	provider.Meta
	deps  provider.Deps
	entry state.Entry
}

// NewRemoveStep creates a RemoveStep.
func NewRemoveStep(deps provider.Deps, entry state.Entry) *RemoveStep {
	meta := provider.NewMeta(provider.StepID("drop-database", entry.Key), "Delete SQLite database "+entry.Param(state.ParamPath),
		compiler.GoalTeardown, compiler.DestructivePolicy(compiler.TimeoutQuick).WithCriticality(compiler.CriticalityWarn))
	return &RemoveStep{Meta: meta, deps: deps, entry: entry}
}

// Check always applies.
func (s *RemoveStep) Check(_ compiler.RunContext) (compiler.StepStatus, error) {
	return compiler.StatusNeedsApply, nil
}

// Apply deletes the file if it is still there.
func (s *RemoveStep) Apply(_ compiler.RunContext) (compiler.ApplyResult, error) {
	p := s.entry.Param(state.ParamPath)
	if err := validation.ValidateAbsolutePath(p); err != nil {
		return compiler.ApplyResult{}, fmt.Errorf("database entry %s: %w", s.entry.Key, err)
	}
	result := compiler.ApplyResult{Removed: []state.Ref{s.entry.Ref()}}
	if !provider.Exists(s.deps.FS, p) {
		return result.WithAnomaly(p + " was already gone"), nil
	}
	if err := s.deps.FS.Remove(p); err != nil {
		return compiler.ApplyResult{}, fmt.Errorf("delete %s: %w", p, err)
	}
	result.Output = "deleted " + p
	return result, nil
}

var (
	_ compiler.Step = (*WriteConfigStep)(nil)
	_ compiler.Step = (*RemoveStep)(nil)
)
