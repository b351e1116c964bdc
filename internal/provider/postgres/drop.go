package postgres

import (
	"fmt"

	"github.com/trunkplayer/trunkprov/internal/domain/compiler"
	"github.com/trunkplayer/trunkprov/internal/domain/state"
	"github.com/trunkplayer/trunkprov/internal/provider"
	"github.com/trunkplayer/trunkprov/internal/validation"
)

type objectKind int

const (
	objectDatabase objectKind = iota
	objectRole
)

func (k objectKind) sql() string {
	if k == objectRole {
		return "ROLE"
	}
	return "DATABASE"
}

// DropStep drops a database or role. On install it clears an existing
// object the operator chose to recreate; on teardown it removes one the
// ledger recorded.
type DropStep struct {
	provider.Meta
	client client
	object objectKind
	name   string
	// ref is removed from the ledger on success; nil on install.
	ref *state.Ref
}

// NewDropExistingDatabaseStep drops a pre-existing database before it is
// recreated.
func NewDropExistingDatabaseStep(deps provider.Deps, params Params) *DropStep {
	return newInstallDrop(deps, "pg-drop-database", objectDatabase, params.Name)
}

// NewDropExistingRoleStep drops a pre-existing role before it is recreated.
func NewDropExistingRoleStep(deps provider.Deps, params Params) *DropStep {
	return newInstallDrop(deps, "pg-drop-role", objectRole, params.User)
}

func newInstallDrop(deps provider.Deps, id string, object objectKind, name string) *DropStep {
	meta := provider.NewMeta(id, fmt.Sprintf("Drop existing %s %s", object.sql(), name),
		compiler.GoalDatabase, compiler.DestructivePolicy(compiler.TimeoutSetup)).
		Needs(compiler.ResPostgres)
	return &DropStep{Meta: meta, client: client{deps: deps}, object: object, name: name}
}

// NewTeardownDatabaseStep drops a database recorded in the ledger.
func NewTeardownDatabaseStep(deps provider.Deps, entry state.Entry) *DropStep {
	return newTeardownDrop(deps, "drop-database", objectDatabase, entry)
}

// NewTeardownRoleStep drops a role recorded in the ledger.
func NewTeardownRoleStep(deps provider.Deps, entry state.Entry) *DropStep {
	return newTeardownDrop(deps, "drop-db-user", objectRole, entry)
}

func newTeardownDrop(deps provider.Deps, action string, object objectKind, entry state.Entry) *DropStep {
	ref := entry.Ref()
	meta := provider.NewMeta(provider.StepID(action, entry.Key), fmt.Sprintf("Drop %s %s", object.sql(), entry.Key),
		compiler.GoalTeardown, compiler.DestructivePolicy(compiler.TimeoutSetup).WithCriticality(compiler.CriticalityWarn))
	return &DropStep{Meta: meta, client: client{deps: deps}, object: object, name: entry.Key, ref: &ref}
}

// Check skips an install-time drop when there is nothing to drop.
// Teardown drops always apply.
func (s *DropStep) Check(ctx compiler.RunContext) (compiler.StepStatus, error) {
	if s.ref != nil {
		return compiler.StatusNeedsApply, nil
	}
	var exists bool
	var err error
	if s.object == objectRole {
		exists, err = s.client.roleExists(ctx.Context(), s.name)
	} else {
		exists, err = s.client.databaseExists(ctx.Context(), s.name)
	}
	if err != nil {
		return compiler.StatusUnknown, err
	}
	if exists {
		return compiler.StatusNeedsApply, nil
	}
	return compiler.StatusSatisfied, nil
}

// Apply drops the object.
func (s *DropStep) Apply(ctx compiler.RunContext) (compiler.ApplyResult, error) {
	if err := validation.ValidateIdentifier(s.name); err != nil {
		return compiler.ApplyResult{}, err
	}
	out, err := s.client.exec(ctx.Context(), fmt.Sprintf("DROP %s IF EXISTS %s;\n", s.object.sql(), s.name))
	if err != nil {
		return compiler.ApplyResult{Output: out}, err
	}
	result := compiler.ApplyResult{Output: fmt.Sprintf("dropped %s %s", s.object.sql(), s.name)}
	if s.ref != nil {
		result.Removed = []state.Ref{*s.ref}
	}
	return result, nil
}

var _ compiler.Step = (*DropStep)(nil)
